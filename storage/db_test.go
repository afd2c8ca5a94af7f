package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := Open("leveldb", filepath.Join(dir, "level"))
	require.NoError(t, err)
	bolt, err := Open("bolt", filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	mem, err := Open("memory", "")
	require.NoError(t, err)
	backends := map[string]Database{"memory": mem, "leveldb": level, "bolt": bolt}
	t.Cleanup(func() {
		for _, db := range backends {
			db.Close()
		}
	})
	return backends
}

func TestDatabaseGetMissingKey(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.True(t, errors.Is(err, ErrNotFound), "got %v", err)
		})
	}
}

func TestBatchAppliesAllWrites(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("stale"), []byte("x")))

			batch := db.NewBatch()
			batch.Put([]byte("a"), []byte("1"))
			batch.Put([]byte("b"), []byte("2"))
			batch.Delete([]byte("stale"))
			require.Equal(t, 3, batch.Len())

			_, err := db.Get([]byte("a"))
			require.ErrorIs(t, err, ErrNotFound, "batch must not be visible before Write")

			require.NoError(t, batch.Write())
			value, err := db.Get([]byte("b"))
			require.NoError(t, err)
			require.Equal(t, []byte("2"), value)
			_, err = db.Get([]byte("stale"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open("redis", "")
	require.Error(t, err)
}
