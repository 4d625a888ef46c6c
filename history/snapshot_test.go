package history_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimpressionist/engine/history"
)

func TestSnapshotRoundTrip(t *testing.T) {
	s := history.NewStore()
	id1 := s.Append(history.Record{
		Kind:          history.KindNew,
		Prompt:        "a red ball",
		Seed:          42,
		Steps:         28,
		GuidanceScale: 3.5,
		Width:         1024,
		Height:        1024,
		ImageRef:      "gen_1.png",
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	})
	id2 := s.Append(history.Record{
		Kind:         history.KindRefinement,
		Prompt:       "a red ball, a hat",
		Modification: "add a hat",
		ParentID:     id1,
		Seed:         42,
		Strength:     0.6,
		ImageRef:     "gen_2.png",
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	})
	require.NoError(t, s.SetCurrent(id2))

	path := filepath.Join(t.TempDir(), "session.yaml")
	file := history.NewSnapshotFile(path)
	require.NoError(t, file.Save(s))

	restored := history.NewStore()
	require.NoError(t, file.Load(restored))

	assert.Equal(t, s.SessionID(), restored.SessionID())
	assert.Equal(t, 2, restored.Len())
	assert.Equal(t, id2, restored.CurrentID())

	rec, err := restored.Get(id2)
	require.NoError(t, err)
	assert.Equal(t, history.KindRefinement, rec.Kind)
	assert.Equal(t, "add a hat", rec.Modification)
	assert.Equal(t, id1, rec.ParentID)
	assert.EqualValues(t, 42, rec.Seed)
}

func TestSnapshotLoadMissingFile(t *testing.T) {
	s := history.NewStore()
	file := history.NewSnapshotFile(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, file.Load(s))
	assert.Equal(t, 0, s.Len())
}

func TestSnapshotLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml: ["), 0o644))

	err := history.NewSnapshotFile(path).Load(history.NewStore())
	assert.Error(t, err)
}

func TestSnapshotSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "session.yaml")
	file := history.NewSnapshotFile(path)

	require.NoError(t, file.Save(history.NewStore()))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestRestoreDropsDanglingCurrent(t *testing.T) {
	s := history.NewStore()
	s.Append(history.Record{ID: "gen_a", Kind: history.KindNew})

	s.Restore(history.Snapshot{
		SessionID: "sess_x",
		CurrentID: "gen_gone",
		Records:   []history.Record{{ID: "gen_b", Kind: history.KindNew}},
	})

	assert.Equal(t, "sess_x", s.SessionID())
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.CurrentID())

	_, err := s.Get("gen_a")
	assert.ErrorIs(t, err, history.ErrNotFound)
}
