package alloc

import "unsafe"

// InlineCapacity is the largest value stored without a heap block.
const InlineCapacity = 16

// Value holds the bytes of one parameter. The zero Value is empty.
type Value struct {
	inline [InlineCapacity / BlockSize]uint64
	heap   []byte
	length int
	size   int
}

// Len is the logical length.
func (v *Value) Len() int { return v.length }

// Size is the number of stored bytes: Len, plus one for strings.
func (v *Value) Size() int { return v.size }

// Allocated reports whether the bytes live in a heap block.
func (v *Value) Allocated() bool { return v.heap != nil }

// Bytes returns the stored bytes. The slice aliases the value and is
// invalidated by Resize and Reset.
func (v *Value) Bytes() []byte {
	if v.heap != nil {
		return v.heap[:v.size]
	}
	return v.inlineBytes()[:v.size]
}

// Pointer returns the address of the first stored byte, 8-byte aligned.
func (v *Value) Pointer() unsafe.Pointer {
	if v.heap != nil {
		return unsafe.Pointer(unsafe.SliceData(v.heap))
	}
	return unsafe.Pointer(&v.inline[0])
}

func (v *Value) inlineBytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&v.inline[0])), InlineCapacity)
}

// Resize changes the logical length, keeping the common prefix of the old
// bytes and zero-filling the rest. Strings get one extra byte for the NUL
// terminator.
func (v *Value) Resize(a *Allocator, length int, isString bool) error {
	size := length
	if isString {
		size++
	}
	old := v.Bytes()
	keep := min(len(old), size)

	switch {
	case size <= InlineCapacity:
		if v.heap != nil {
			var tmp [InlineCapacity]byte
			copy(tmp[:], old[:keep])
			a.Free(v.heap)
			v.heap = nil
			copy(v.inlineBytes(), tmp[:])
		}
		clear(v.inlineBytes()[keep:])
	case v.heap != nil && cap(v.heap) >= size:
		v.heap = v.heap[:cap(v.heap)]
		clear(v.heap[keep:])
	default:
		b, _, err := a.Allocate(size, BlockSize)
		if err != nil {
			return err
		}
		copy(b, old[:keep])
		if v.heap != nil {
			a.Free(v.heap)
		}
		v.heap = b[:cap(b)]
		clear(v.inline[:])
	}
	v.length = length
	v.size = size
	return nil
}

// Set replaces the contents with data. Strings are stored NUL terminated.
func (v *Value) Set(a *Allocator, data []byte, isString bool) error {
	if err := v.Resize(a, len(data), isString); err != nil {
		return err
	}
	b := v.Bytes()
	copy(b, data)
	if isString {
		b[len(data)] = 0
	}
	return nil
}

// Reset releases any heap block and empties the value.
func (v *Value) Reset(a *Allocator) {
	if v.heap != nil {
		a.Free(v.heap)
		v.heap = nil
	}
	clear(v.inline[:])
	v.length = 0
	v.size = 0
}
