// Package storage persists image artifacts keyed by opaque references.
// The session engine threads references through history records and never
// touches image bytes itself.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when a reference does not resolve to an artifact.
var ErrNotFound = errors.New("artifact not found")

// ArtifactStore saves and retrieves image artifacts. References returned by
// Save are opaque to callers and stable across process restarts.
type ArtifactStore interface {
	// Save persists data under the given name and returns its reference.
	Save(ctx context.Context, name string, data []byte) (string, error)
	// Open returns the artifact bytes for a reference.
	Open(ctx context.Context, ref string) ([]byte, error)
	// Remove deletes the artifact. Missing references are ignored.
	Remove(ctx context.Context, ref string) error
}

type fileStore struct {
	root string
}

// NewFileStore creates an ArtifactStore backed by the filesystem.
// References map 1:1 to file names under root.
func NewFileStore(root string) ArtifactStore {
	return &fileStore{root: root}
}

func (s *fileStore) Save(_ context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("save artifact: %s: %w", name, err)
	}

	path := filepath.Join(s.root, filepath.Base(name))
	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("save artifact: %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("save artifact: %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("save artifact: %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("save artifact: %s: %w", name, err)
	}

	return filepath.Base(name), nil
}

func (s *fileStore) Open(_ context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.Base(ref)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("open artifact: %s: %w", ref, err)
	}
	return data, nil
}

func (s *fileStore) Remove(_ context.Context, ref string) error {
	if err := os.Remove(filepath.Join(s.root, filepath.Base(ref))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %s: %w", ref, err)
	}
	return nil
}
