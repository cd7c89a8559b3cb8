package medium

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashkit/internal/buf"
)

func TestMemory_CommitAndDiscard(t *testing.T) {
	m := NewMemory(32)
	require.Equal(t, 32, m.Size())

	got := make([]byte, 4)
	require.NoError(t, m.Read(got, 0))
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, got)

	require.NoError(t, m.Write([]byte("abcd"), 4))
	require.NoError(t, m.Read(got, 4))
	require.Equal(t, []byte("abcd"), got)

	m.Discard()
	require.NoError(t, m.Read(got, 4))
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, got)

	require.NoError(t, m.Write([]byte("abcd"), 4))
	require.NoError(t, m.Commit())
	m.Discard()
	require.NoError(t, m.Read(got, 4))
	require.Equal(t, []byte("abcd"), got)
	require.Equal(t, 1, m.Commits())

	// unchanged commit is not counted
	require.NoError(t, m.Commit())
	require.Equal(t, 1, m.Commits())
}

func TestMemory_FailNextCommit(t *testing.T) {
	m := NewMemoryFrom([]byte("0123"))
	require.NoError(t, m.Write([]byte("x"), 0))
	m.FailNextCommit()
	require.ErrorIs(t, m.Commit(), ErrCommit)
	require.Equal(t, []byte("0123"), m.Committed())
	require.NoError(t, m.Commit())
	require.Equal(t, []byte("x123"), m.Committed())
}

func TestMemory_Bounds(t *testing.T) {
	m := NewMemory(8)
	require.ErrorIs(t, m.Write([]byte("123456789"), 0), buf.ErrOutOfBounds)
	require.ErrorIs(t, m.Read(make([]byte, 2), 7), buf.ErrOutOfBounds)
	require.ErrorIs(t, m.Read(make([]byte, 1), -1), buf.ErrOutOfBounds)
}
