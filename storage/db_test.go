package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBMissingKeyIsAbsence(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value, err := db.Get([]byte("missing"))
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestMemDBPutGetDelete(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	require.NoError(t, db.Delete([]byte("k")))
	value, err = db.Get([]byte("k"))
	require.NoError(t, err)
	require.Nil(t, value)

	// deleting a missing key must not error
	require.NoError(t, db.Delete([]byte("k")))
}

func TestMemDBGetReturnsCopy(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("abc")))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	value[0] = 'x'

	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	value, err := db.Get([]byte("missing"))
	require.NoError(t, err)
	require.Nil(t, value)

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	value, err = db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	require.NoError(t, db.Delete([]byte("k")))
	value, err = db.Get([]byte("k"))
	require.NoError(t, err)
	require.Nil(t, value)
}
