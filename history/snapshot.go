package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Snapshot is the serializable form of a Store. Restoring a snapshot
// recovers records and the current pointer exactly.
type Snapshot struct {
	SessionID string    `yaml:"session_id"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
	CurrentID string    `yaml:"current_id,omitempty"`
	Records   []Record  `yaml:"records"`
}

// Snapshot captures the store's full state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, len(s.records))
	copy(records, s.records)
	return Snapshot{
		SessionID: s.sessionID,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		CurrentID: s.currentID,
		Records:   records,
	}
}

// Restore replaces the store's state with the snapshot's. A current pointer
// that does not resolve to a restored record is dropped rather than kept
// dangling.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make([]Record, len(snap.Records))
	copy(s.records, snap.Records)
	s.index = make(map[string]int, len(s.records))
	for i, rec := range s.records {
		s.index[rec.ID] = i
	}

	if snap.SessionID != "" {
		s.sessionID = snap.SessionID
	}
	if !snap.CreatedAt.IsZero() {
		s.createdAt = snap.CreatedAt
	}
	if !snap.UpdatedAt.IsZero() {
		s.updatedAt = snap.UpdatedAt
	}

	s.currentID = ""
	if _, ok := s.index[snap.CurrentID]; ok {
		s.currentID = snap.CurrentID
	}
}

// SnapshotFile persists store snapshots to a single YAML file with
// atomic replace semantics.
type SnapshotFile struct {
	path string
}

// NewSnapshotFile creates a SnapshotFile at path. The parent directory is
// created on first Save.
func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{path: path}
}

// Path returns the snapshot file location.
func (f *SnapshotFile) Path() string {
	return f.path
}

// Save writes the store's snapshot. The file is written to a temp name in
// the same directory and renamed into place so readers never observe a
// partial snapshot.
func (f *SnapshotFile) Save(s *Store) error {
	data, err := yaml.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}

	return nil
}

// Load restores the store from the snapshot file. A missing file leaves the
// store untouched and returns nil, so a fresh process starts empty.
func (f *SnapshotFile) Load(s *Store) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	s.Restore(snap)
	return nil
}
