package alloc

import (
	"bytes"
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashkit/pkg/types"
)

func TestRealSize(t *testing.T) {
	tests := []struct {
		size, alignment, want int
	}{
		{0, 0, 8},
		{1, 0, 8},
		{8, 0, 8},
		{9, 0, 16},
		{17, 4, 24},
		{17, 16, 32},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RealSize(tt.size, tt.alignment), "RealSize(%d, %d)", tt.size, tt.alignment)
	}
}

func TestAllocate_RoundsAndAligns(t *testing.T) {
	a := New(0)
	b, n, err := a.Allocate(13, 0)
	require.NoError(t, err)
	require.Equal(t, 16, n)
	require.Len(t, b, 13)
	require.Equal(t, 16, cap(b))
	require.Zero(t, uintptr(unsafe.Pointer(&b[0]))%BlockSize)

	st := a.Stats()
	require.Equal(t, 1, st.Allocs)
	require.Equal(t, 16, st.InUse)
}

func TestAllocate_ReusesFreedBlocks(t *testing.T) {
	a := New(0)
	b, _, err := a.Allocate(24, 0)
	require.NoError(t, err)
	copy(b, bytes.Repeat([]byte{0xee}, 24))
	a.Free(b)

	c, _, err := a.Allocate(20, 0)
	require.NoError(t, err)
	require.Equal(t, unsafe.Pointer(&b[0]), unsafe.Pointer(&c[0]))
	require.Equal(t, make([]byte, 20), c)

	st := a.Stats()
	require.Equal(t, 1, st.Reused)
	require.Equal(t, 1, st.Frees)
	require.Equal(t, 24, st.InUse)
	require.Equal(t, 24, st.Peak)
}

func TestAllocate_Limit(t *testing.T) {
	a := New(32)
	_, _, err := a.Allocate(24, 0)
	require.NoError(t, err)

	_, _, err = a.Allocate(9, 0)
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrAllocation)
	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	require.Equal(t, 9, aerr.Size)
	require.Equal(t, 16, aerr.Real)

	last, ok := a.LastFailure()
	require.True(t, ok)
	require.Equal(t, Failure{Size: 9, Count: 1}, last)
	require.Equal(t, 1, a.Stats().Failures)

	_, _, err = a.Allocate(8, 0)
	require.NoError(t, err)
}

func TestLastFailure_None(t *testing.T) {
	_, ok := New(0).LastFailure()
	require.False(t, ok)
}

func TestFree_IgnoresForeignSlices(t *testing.T) {
	a := New(0)
	a.Free(nil)
	a.Free(make([]byte, 3))
	require.Zero(t, a.Stats().Frees)
}

func TestValue_Inline(t *testing.T) {
	a := New(0)
	var v Value
	require.NoError(t, v.Set(a, []byte("hello"), true))
	require.False(t, v.Allocated())
	require.Equal(t, 5, v.Len())
	require.Equal(t, 6, v.Size())
	require.Equal(t, []byte("hello\x00"), v.Bytes())
	require.Zero(t, uintptr(v.Pointer())%BlockSize)
	require.Zero(t, a.Stats().Allocs)

	// exactly InlineCapacity stays inline
	require.NoError(t, v.Set(a, bytes.Repeat([]byte{1}, InlineCapacity), false))
	require.False(t, v.Allocated())
}

func TestValue_GrowAndShrink(t *testing.T) {
	a := New(0)
	var v Value
	require.NoError(t, v.Set(a, []byte("0123456789"), false))

	require.NoError(t, v.Resize(a, 40, false))
	require.True(t, v.Allocated())
	require.Equal(t, []byte("0123456789"), v.Bytes()[:10])
	require.Equal(t, make([]byte, 30), v.Bytes()[10:])
	require.Equal(t, 40, a.Stats().InUse)

	// shrinking within the block keeps it
	require.NoError(t, v.Resize(a, 20, false))
	require.True(t, v.Allocated())
	require.Equal(t, 1, a.Stats().Allocs)

	// below the inline threshold the bytes move back and the block is freed
	require.NoError(t, v.Resize(a, 4, false))
	require.False(t, v.Allocated())
	require.Equal(t, []byte("0123"), v.Bytes())
	require.Zero(t, a.Stats().InUse)

	// growing again zero-fills past the old length
	require.NoError(t, v.Resize(a, 8, false))
	require.Equal(t, []byte("0123\x00\x00\x00\x00"), v.Bytes())
}

func TestValue_StringCrossesThreshold(t *testing.T) {
	a := New(0)
	var v Value
	// 16 characters need 17 bytes with the terminator
	require.NoError(t, v.Set(a, []byte("abcdefghijklmnop"), true))
	require.True(t, v.Allocated())
	require.Equal(t, 17, v.Size())
	require.Equal(t, byte(0), v.Bytes()[16])
}

func TestValue_AllocationFailureKeepsValue(t *testing.T) {
	a := New(8)
	var v Value
	require.NoError(t, v.Set(a, []byte("keep"), false))
	err := v.Resize(a, 64, false)
	require.ErrorIs(t, err, types.ErrAllocation)
	require.Equal(t, []byte("keep"), v.Bytes())
}

func TestValue_Reset(t *testing.T) {
	a := New(0)
	var v Value
	require.NoError(t, v.Set(a, make([]byte, 100), false))
	v.Reset(a)
	require.False(t, v.Allocated())
	require.Zero(t, v.Size())
	require.Empty(t, v.Bytes())
	require.Zero(t, a.Stats().InUse)
}
