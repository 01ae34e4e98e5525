package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	_, err := s.Read(1)
	require.Equal(t, ErrNotFound, err)

	require.NoError(t, s.Write(3, []byte{1, 2, 3}))
	require.NoError(t, s.Write(1, []byte{9}))
	require.NoError(t, s.Write(3, []byte{4, 5}))
	require.NoError(t, s.Write(2, nil))

	data, err := s.Read(3)
	require.NoError(t, err)
	require.Equal(t, []byte{4, 5}, data)
	data, err = s.Read(2)
	require.NoError(t, err)
	require.Empty(t, data)

	ids, err := s.IDs()
	require.NoError(t, err)
	require.Equal(t, []uint16{1, 2, 3}, ids)
}

func TestMemory(t *testing.T) {
	s, err := Open("memory")
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)

	// reads are copies.
	data, err := s.Read(1)
	require.NoError(t, err)
	data[0] = 0
	data, err = s.Read(1)
	require.NoError(t, err)
	require.Equal(t, []byte{9}, data)
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	s, err := Open(path)
	require.NoError(t, err)
	testStore(t, s)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	data, err := s.Read(1)
	require.NoError(t, err)
	require.Equal(t, []byte{9}, data)
}
