package config

import (
	"bytes"
	"encoding"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/joshuapare/flashkit/internal/format"
	"github.com/joshuapare/flashkit/pkg/types"
)

// Scalar is a fixed-size parameter value.
type Scalar interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 |
		~float32 | ~float64
}

// TypeFor returns the parameter type that stores T.
func TypeFor[T Scalar]() types.ParamType {
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Int8, reflect.Uint8:
		return types.ParamByte
	case reflect.Int16, reflect.Uint16:
		return types.ParamWord
	case reflect.Int32, reflect.Uint32:
		return types.ParamDword
	case reflect.Int64, reflect.Uint64:
		return types.ParamQword
	case reflect.Float32:
		return types.ParamFloat
	case reflect.Float64:
		return types.ParamDouble
	default:
		return types.ParamInvalid
	}
}

// mismatch reports a typed read of the wrong type. Debug stores panic.
func (s *Store) mismatch(p *param, want types.ParamType, wantLen int) {
	s.logger.Debug("parameter type mismatch", "handle", p.handle, "type", p.typ, "length", p.length, "want", want, "want_length", wantLen)
	if s.debug {
		panic(fmt.Sprintf("config: %s is %s[%d], read as %s[%d]", p.handle, p.typ, p.length, want, wantLen))
	}
}

// lookup returns the loaded parameter h if it has type typ.
func (s *Store) lookup(h types.Handle, typ types.ParamType) *param {
	s.touch()
	p := s.find(h)
	if p == nil {
		return nil
	}
	if p.typ != typ || (typ.FixedSize() > 0 && p.length != typ.FixedSize()) {
		s.mismatch(p, typ, typ.FixedSize())
		return nil
	}
	if !s.loadOrLog(p) {
		return nil
	}
	return p
}

// Get returns the value of h, or the zero value when h is missing or
// stored with another type.
func Get[T Scalar](s *Store, h types.Handle) T {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.lookup(h, TypeFor[T]())
	if p == nil {
		return zero
	}
	return *(*T)(p.value.Pointer())
}

// Exists reports whether h is stored as a T.
func Exists[T Scalar](s *Store, h types.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.find(h)
	return p != nil && p.typ == TypeFor[T]()
}

// Set stores v as h, creating or retyping the parameter. Storing the
// current value does not mark it dirty.
func Set[T Scalar](s *Store, h types.Handle, v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	b := unsafe.Slice((*byte)(unsafe.Pointer(&v)), unsafe.Sizeof(v))
	return s.setBytes(s.obtain(h, TypeFor[T]()), b)
}

// GetWriteable returns a pointer to the value of h, creating it when
// missing. The parameter is marked dirty; Write compares it with the stored
// bytes. The pointer is valid until the next Write, Release, Discard or
// Clear.
func GetWriteable[T Scalar](s *Store, h types.Handle) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	p := s.obtain(h, TypeFor[T]())
	if err := s.writable(p); err != nil {
		return nil, err
	}
	return (*T)(p.value.Pointer()), nil
}

// GetBool returns h as a bool stored in a BYTE.
func (s *Store) GetBool(h types.Handle) bool {
	return Get[uint8](s, h) != 0
}

// SetBool stores v as a BYTE.
func (s *Store) SetBool(h types.Handle, v bool) error {
	var b uint8
	if v {
		b = 1
	}
	return Set(s, h, b)
}

// GetString returns h up to its first NUL, or "" when h is not a string.
func (s *Store) GetString(h types.Handle) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.lookup(h, types.ParamString)
	if p == nil {
		return ""
	}
	b := p.value.Bytes()
	if n := bytes.IndexByte(b, 0); n >= 0 {
		b = b[:n]
	}
	return string(b)
}

// SetString stores v, cut at its first NUL.
func (s *Store) SetString(h types.Handle, v string) error {
	if n := bytes.IndexByte([]byte(v), 0); n >= 0 {
		v = v[:n]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.setBytes(s.obtain(h, types.ParamString), []byte(v))
}

// checkLength rejects lengths a table entry cannot describe.
func checkLength(h types.Handle, n int) error {
	if n < 0 || n > format.ParamMaxLength {
		return types.Errorf(types.ErrKindWrite, format.ErrOverflow, "config: %s length %d", h, n)
	}
	return nil
}

// GetWriteableString returns a buffer of maxLength bytes holding the
// string h. The string ends at the first NUL written into it; Write
// shrinks the stored length to match.
func (s *Store) GetWriteableString(h types.Handle, maxLength int) ([]byte, error) {
	if err := checkLength(h, maxLength); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	p := s.obtain(h, types.ParamString)
	if err := s.writable(p); err != nil {
		return nil, err
	}
	if maxLength > p.length {
		if err := p.value.Resize(s.alloc, maxLength, true); err != nil {
			return nil, err
		}
		p.length = maxLength
	}
	return p.value.Bytes()[:maxLength], nil
}

// GetBinary returns a copy of the BINARY value h.
func (s *Store) GetBinary(h types.Handle) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.lookup(h, types.ParamBinary)
	if p == nil {
		return nil
	}
	return bytes.Clone(p.value.Bytes())
}

// SetBinary stores data as h.
func (s *Store) SetBinary(h types.Handle, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.setBytes(s.obtain(h, types.ParamBinary), data)
}

// GetWriteableBinary returns the bytes of h resized to length.
func (s *Store) GetWriteableBinary(h types.Handle, length int) ([]byte, error) {
	if err := checkLength(h, length); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	p := s.obtain(h, types.ParamBinary)
	if err := s.writable(p); err != nil {
		return nil, err
	}
	if length != p.length {
		if err := p.value.Resize(s.alloc, length, false); err != nil {
			return nil, err
		}
		p.length = length
	}
	return p.value.Bytes(), nil
}

// GetStruct decodes the BINARY value h into v.
func (s *Store) GetStruct(h types.Handle, v encoding.BinaryUnmarshaler) error {
	s.mu.Lock()
	p := s.lookup(h, types.ParamBinary)
	var data []byte
	if p != nil {
		data = bytes.Clone(p.value.Bytes())
	}
	s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	return v.UnmarshalBinary(data)
}

// SetStruct encodes v and stores it as a BINARY value.
func (s *Store) SetStruct(h types.Handle, v encoding.BinaryMarshaler) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	return s.SetBinary(h, data)
}
