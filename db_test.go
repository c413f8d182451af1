package snaptree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, options ...DBOption) *DB {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDBSetGetDelete(t *testing.T) {
	db := openTestDB(t, WithSyncOff())

	require.NoError(t, db.Set([]byte("a"), []byte("1")))

	val, err := db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), val)

	require.NoError(t, db.Delete([]byte("a")))

	_, err = db.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestDBGetMissingKey(t *testing.T) {
	db := openTestDB(t, WithSyncOff())

	_, err := db.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestDBReopenPersistsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path, WithSyncOff())
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("k"), []byte("v")))
	require.NoError(t, db.Close())

	db2, err := Open(path, WithSyncOff())
	require.NoError(t, err)
	defer db2.Close()

	val, err := db2.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}

func TestDBOnlyOneWriterAtATime(t *testing.T) {
	db := openTestDB(t, WithSyncOff())

	tx, err := db.Begin(true)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = db.Begin(true)
	assert.ErrorIs(t, err, ErrTxInProgress)
}

func TestDBConcurrentReaders(t *testing.T) {
	db := openTestDB(t, WithSyncOff())
	require.NoError(t, db.Set([]byte("k"), []byte("v")))

	tx1, err := db.Begin(false)
	require.NoError(t, err)
	defer tx1.Rollback()

	tx2, err := db.Begin(false)
	require.NoError(t, err)
	defer tx2.Rollback()

	val1, err := tx1.Get([]byte("k"))
	require.NoError(t, err)
	val2, err := tx2.Get([]byte("k"))
	require.NoError(t, err)

	assert.Equal(t, val1, val2)
}

func TestDBUpdateRollsBackOnError(t *testing.T) {
	db := openTestDB(t, WithSyncOff())

	err := db.Update(func(tx *Tx) error {
		require.NoError(t, tx.Set([]byte("k"), []byte("v")))
		return ErrKeyEmpty
	})
	assert.ErrorIs(t, err, ErrKeyEmpty)

	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestDBCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, WithSyncOff())
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestDBOperationsAfterCloseFail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, WithSyncOff())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Begin(false)
	assert.ErrorIs(t, err, ErrDatabaseClosed)
}

func TestDBStats(t *testing.T) {
	db := openTestDB(t, WithSyncOff())
	require.NoError(t, db.Set([]byte("k"), []byte("v")))

	stats := db.Stats()
	assert.NotZero(t, stats)
}
