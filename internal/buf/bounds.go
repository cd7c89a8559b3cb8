// Package buf contains overflow-safe bounds helpers shared by the decoders
// and the flash devices.
package buf

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfBounds is returned by CheckRange when a span leaves its container.
var ErrOutOfBounds = errors.New("buf: out of bounds")

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int.
func AddOverflowSafe(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// CheckRange validates that n bytes starting at off fit in a container of
// size bytes and returns the end offset.
//
//	end, err := buf.CheckRange(len(data), off, n)
//	if err != nil {
//	    return fmt.Errorf("flash: read: %w", err)
//	}
func CheckRange(size, off, n int) (int, error) {
	if off < 0 || n < 0 {
		return 0, fmt.Errorf("%w: off=%d n=%d", ErrOutOfBounds, off, n)
	}
	end, ok := AddOverflowSafe(off, n)
	if !ok {
		return 0, fmt.Errorf("%w: overflow off=%d + n=%d", ErrOutOfBounds, off, n)
	}
	if end > size {
		return 0, fmt.Errorf("%w: end=%d > size=%d", ErrOutOfBounds, end, size)
	}
	return end, nil
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n int) ([]byte, bool) {
	end, err := CheckRange(len(b), off, n)
	if err != nil {
		return nil, false
	}
	return b[off:end], true
}

// Has reports whether b[off:off+n] is within bounds.
func Has(b []byte, off, n int) bool {
	_, err := CheckRange(len(b), off, n)
	return err == nil
}

// CString returns b up to (not including) the first NUL byte.
func CString(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
