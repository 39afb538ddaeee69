package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	level, err := NewLevelDB(filepath.Join(t.TempDir(), "level"))
	require.NoError(t, err)
	bolt, err := NewBoltDB(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		level.Close()
		bolt.Close()
	})
	return map[string]Database{
		"mem":     NewMemDB(),
		"leveldb": level,
		"bbolt":   bolt,
	}
}

func TestDatabaseGetPutDelete(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Put([]byte("k"), []byte("v")))
			got, err := db.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v"), got)

			ok, err := db.Has([]byte("k"))
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, db.Delete([]byte("k")))
			ok, err = db.Has([]byte("k"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestBatchIsInvisibleUntilWrite(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("gone"), []byte("x")))

			batch := db.NewBatch()
			require.NoError(t, batch.Put([]byte("a"), []byte("1")))
			require.NoError(t, batch.Put([]byte("b"), []byte("2")))
			require.NoError(t, batch.Delete([]byte("gone")))
			require.Equal(t, 3, batch.Len())

			ok, err := db.Has([]byte("a"))
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, batch.Write())

			got, err := db.Get([]byte("b"))
			require.NoError(t, err)
			require.Equal(t, []byte("2"), got)
			ok, err = db.Has([]byte("gone"))
			require.NoError(t, err)
			require.False(t, ok)

			batch.Reset()
			require.Zero(t, batch.Len())
		})
	}
}
