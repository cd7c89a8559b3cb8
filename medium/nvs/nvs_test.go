package nvs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashkit/internal/buf"
)

func openMemory(t *testing.T, size int) *Medium {
	t.Helper()
	m, err := Open(Config{InMemory: true, Size: size})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMissingBlobReadsErased(t *testing.T) {
	m := openMemory(t, 64)
	got := make([]byte, 8)
	require.NoError(t, m.Read(got, 0))
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, got)
}

func TestCommitDiscard(t *testing.T) {
	m := openMemory(t, 64)
	require.NoError(t, m.Write([]byte("hello"), 3))
	require.NoError(t, m.Commit())

	require.NoError(t, m.Write([]byte("HELLO"), 3))
	m.Discard()

	got := make([]byte, 5)
	require.NoError(t, m.Read(got, 3))
	require.Equal(t, []byte("hello"), got)
}

func TestSharedDatabase(t *testing.T) {
	m := openMemory(t, 32)
	other := New(m.db, "other", 32, nil)
	require.NoError(t, other.Write([]byte("b"), 0))
	require.NoError(t, other.Commit())
	require.NoError(t, other.Close())

	got := make([]byte, 1)
	require.NoError(t, m.Read(got, 0))
	require.Equal(t, []byte{0xff}, got)

	again := New(m.db, "other", 32, nil)
	require.NoError(t, again.Read(got, 0))
	require.Equal(t, []byte("b"), got)
}

func TestErase(t *testing.T) {
	m := openMemory(t, 16)
	require.NoError(t, m.Write([]byte("x"), 0))
	require.NoError(t, m.Commit())
	require.NoError(t, m.Erase())

	got := make([]byte, 1)
	require.NoError(t, m.Read(got, 0))
	require.Equal(t, []byte{0xff}, got)
}

func TestPersistentDir(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(Config{Dir: dir, Size: 16})
	require.NoError(t, err)
	require.NoError(t, m.Write([]byte("keep"), 0))
	require.NoError(t, m.Commit())
	require.NoError(t, m.Close())

	m, err = Open(Config{Dir: dir, Size: 16})
	require.NoError(t, err)
	defer m.Close()
	got := make([]byte, 4)
	require.NoError(t, m.Read(got, 0))
	require.Equal(t, []byte("keep"), got)
}

func TestOpen_Invalid(t *testing.T) {
	_, err := Open(Config{Size: 16})
	require.Error(t, err)
	_, err = Open(Config{InMemory: true})
	require.Error(t, err)
}

func TestBounds(t *testing.T) {
	m := openMemory(t, 4)
	require.ErrorIs(t, m.Write([]byte("12345"), 0), buf.ErrOutOfBounds)
}
