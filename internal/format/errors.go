package format

import "errors"

var (
	// ErrSignatureMismatch indicates a structure had an unexpected magic.
	ErrSignatureMismatch = errors.New("format: signature mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrEmpty indicates a header still carries its erased sentinel values.
	ErrEmpty = errors.New("format: header is empty")
	// ErrChecksum indicates the stored checksum does not match the payload.
	ErrChecksum = errors.New("format: checksum mismatch")
	// ErrLength indicates a length field is zero or exceeds its container.
	ErrLength = errors.New("format: invalid length")
	// ErrOverflow indicates a value does not fit into its packed bit field.
	ErrOverflow = errors.New("format: field overflow")
)
