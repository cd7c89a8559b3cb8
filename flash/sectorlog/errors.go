package sectorlog

import (
	"errors"
	"fmt"

	"github.com/joshuapare/flashkit/pkg/types"
)

// Kind is the outcome of a sector operation.
type Kind uint8

const (
	KindNone Kind = iota
	KindSuccess
	KindRead
	KindWrite
	KindErase
	KindEmpty
	KindInvalid
	KindNoSpace
	KindOutOfRange
	KindValidateRead
	KindValidateCRC
	KindValidateEmpty
	KindNotEmpty
	KindFinalized
)

var kindNames = [...]string{
	KindNone:          "none",
	KindSuccess:       "success",
	KindRead:          "read failed",
	KindWrite:         "write failed",
	KindErase:         "erase failed",
	KindEmpty:         "sector empty",
	KindInvalid:       "invalid sector",
	KindNoSpace:       "no space",
	KindOutOfRange:    "out of range",
	KindValidateRead:  "validate: read failed",
	KindValidateCRC:   "validate: crc mismatch",
	KindValidateEmpty: "validate: sector empty",
	KindNotEmpty:      "sector not empty",
	KindFinalized:     "sector finalized",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// category maps a result kind onto the shared error taxonomy.
func (k Kind) category() *types.Error {
	switch k {
	case KindRead, KindEmpty, KindInvalid, KindOutOfRange:
		return types.ErrRead
	case KindValidateRead, KindValidateCRC, KindValidateEmpty:
		return types.ErrIntegrity
	default:
		return types.ErrWrite
	}
}

// Error reports a failed sector operation.
type Error struct {
	Kind   Kind
	Sector uint16
	Err    error // optional device error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("sectorlog: %s (sector 0x%04x)", e.Kind, e.Sector)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the taxonomy category and the device error.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.category()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Is matches the package sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Sector == 0 && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrRead          = &Error{Kind: KindRead}
	ErrWrite         = &Error{Kind: KindWrite}
	ErrErase         = &Error{Kind: KindErase}
	ErrEmpty         = &Error{Kind: KindEmpty}
	ErrInvalid       = &Error{Kind: KindInvalid}
	ErrNoSpace       = &Error{Kind: KindNoSpace}
	ErrOutOfRange    = &Error{Kind: KindOutOfRange}
	ErrValidateRead  = &Error{Kind: KindValidateRead}
	ErrValidateCRC   = &Error{Kind: KindValidateCRC}
	ErrValidateEmpty = &Error{Kind: KindValidateEmpty}
	ErrNotEmpty      = &Error{Kind: KindNotEmpty}
	ErrFinalized     = &Error{Kind: KindFinalized}
)

// KindOf returns the kind of the first *Error in err's chain, KindSuccess
// for nil and KindNone for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

func newError(kind Kind, sector uint16, err error) *Error {
	return &Error{Kind: kind, Sector: sector, Err: err}
}
