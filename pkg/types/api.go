package types

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Typed Errors (stable categories for programmatic handling)
// -----------------------------------------------------------------------------

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindRead       ErrKind = iota // bad header, CRC mismatch, declared length out of range
	ErrKindWrite                     // erase failed, write failed, size exceeds capacity
	ErrKindAllocation                // allocator limit reached
	ErrKindIntegrity                 // post-finalize validation mismatch
	ErrKindCapacity                  // no reusable or writable sector found
)

// String returns the category name.
func (k ErrKind) String() string {
	switch k {
	case ErrKindRead:
		return "read"
	case ErrKindWrite:
		return "write"
	case ErrKindAllocation:
		return "allocation"
	case ErrKindIntegrity:
		return "integrity"
	case ErrKindCapacity:
		return "capacity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrRead) holds
// for every read failure regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil || e == nil {
		return false
	}
	return t.Kind == e.Kind && t.Msg == kindSentinelMsg[t.Kind]
}

var kindSentinelMsg = map[ErrKind]string{
	ErrKindRead:       "read error",
	ErrKindWrite:      "write error",
	ErrKindAllocation: "allocation error",
	ErrKindIntegrity:  "integrity error",
	ErrKindCapacity:   "capacity error",
}

// Sentinels for each category. Compare with errors.Is.
var (
	ErrRead       = &Error{Kind: ErrKindRead, Msg: kindSentinelMsg[ErrKindRead]}
	ErrWrite      = &Error{Kind: ErrKindWrite, Msg: kindSentinelMsg[ErrKindWrite]}
	ErrAllocation = &Error{Kind: ErrKindAllocation, Msg: kindSentinelMsg[ErrKindAllocation]}
	ErrIntegrity  = &Error{Kind: ErrKindIntegrity, Msg: kindSentinelMsg[ErrKindIntegrity]}
	ErrCapacity   = &Error{Kind: ErrKindCapacity, Msg: kindSentinelMsg[ErrKindCapacity]}
)

// Errorf builds a typed error of the given kind wrapping cause.
func Errorf(kind ErrKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the category of the first *Error in err's chain.
func KindOf(err error) (ErrKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries a typed error of the given kind.
func IsKind(err error, kind ErrKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// -----------------------------------------------------------------------------
// Core Identifiers
// -----------------------------------------------------------------------------

// Handle is the 16-bit runtime key of a configuration parameter. It is the
// CRC-16 of the parameter name (see config/handle).
type Handle uint16

// String formats the handle the way dumps and logs print it.
func (h Handle) String() string {
	return fmt.Sprintf("%04x", uint16(h))
}

// ParamType enumerates the value types a parameter table entry can carry.
// The numbers are stored in the 4-bit type field of each table entry.
type ParamType uint8

const (
	ParamInvalid ParamType = 0
	ParamString  ParamType = 1
	ParamBinary  ParamType = 2
	ParamByte    ParamType = 3
	ParamWord    ParamType = 4
	ParamDword   ParamType = 5
	ParamQword   ParamType = 6
	ParamFloat   ParamType = 7
	ParamDouble  ParamType = 8
)

// String implements the Stringer interface for ParamType.
func (t ParamType) String() string {
	switch t {
	case ParamString:
		return "STRING"
	case ParamBinary:
		return "BINARY"
	case ParamByte:
		return "BYTE"
	case ParamWord:
		return "WORD"
	case ParamDword:
		return "DWORD"
	case ParamQword:
		return "QWORD"
	case ParamFloat:
		return "FLOAT"
	case ParamDouble:
		return "DOUBLE"
	default:
		return fmt.Sprintf("INVALID_%d", uint8(t))
	}
}

// ParseParamType is the inverse of ParamType.String.
func ParseParamType(s string) (ParamType, bool) {
	for t := ParamString; t <= ParamDouble; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return ParamInvalid, false
}

// FixedSize returns the stored width of scalar types and 0 for variable
// length types.
func (t ParamType) FixedSize() int {
	switch t {
	case ParamByte:
		return 1
	case ParamWord:
		return 2
	case ParamDword, ParamFloat:
		return 4
	case ParamQword, ParamDouble:
		return 8
	default:
		return 0
	}
}

// Valid reports whether t is a known parameter type.
func (t ParamType) Valid() bool {
	return t >= ParamString && t <= ParamDouble
}

// FirmwareVersion is the packed version word stored in crash records:
// major:5 minor:5 revision:6 build:16, low bits first.
type FirmwareVersion uint32

// NewFirmwareVersion packs the components, truncating each to its field width.
func NewFirmwareVersion(major, minor, revision, build uint32) FirmwareVersion {
	return FirmwareVersion(major&0x1f | (minor&0x1f)<<5 | (revision&0x3f)<<10 | (build&0xffff)<<16)
}

func (v FirmwareVersion) Major() uint32    { return uint32(v) & 0x1f }
func (v FirmwareVersion) Minor() uint32    { return uint32(v) >> 5 & 0x1f }
func (v FirmwareVersion) Revision() uint32 { return uint32(v) >> 10 & 0x3f }
func (v FirmwareVersion) Build() uint32    { return uint32(v) >> 16 }

// Valid reports whether the word holds a version rather than an erased or
// zeroed field.
func (v FirmwareVersion) Valid() bool {
	return v != 0 && v != ^FirmwareVersion(0)
}

// String formats as major.minor.revision.bBuild.
func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.b%d", v.Major(), v.Minor(), v.Revision(), v.Build())
}
