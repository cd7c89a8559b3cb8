// Package archive compresses flash images and configuration dumps for
// export.
//
// An archive is a 20-byte header followed by the compressed payload:
//
//	magic "FKAR" | version u8 | codec u8 | reserved u16 | size u32 | xxhash64 u64
//
// size and the digest describe the uncompressed bytes, so Unpack can
// detect both truncation and a codec mismatch.
package archive

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/joshuapare/flashkit/internal/format"
)

// Codec names a compression algorithm.
type Codec uint8

const (
	None Codec = iota
	S2
	Zstd
	LZ4
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case S2:
		return "s2"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec is the inverse of Codec.String.
func ParseCodec(s string) (Codec, error) {
	for c := None; c <= LZ4; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("archive: unknown codec %q", s)
}

// Compressor turns data into a compressed payload and back. Returned
// slices are owned by the caller; the none codec returns its input.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

var builtin = map[Codec]Compressor{
	None: noop{},
	S2:   s2Codec{},
	Zstd: zstdCodec{},
	LZ4:  lz4Codec{},
}

// Get returns the compressor for c.
func Get(c Codec) (Compressor, error) {
	if comp, ok := builtin[c]; ok {
		return comp, nil
	}
	return nil, fmt.Errorf("archive: unsupported codec %s", c)
}

const (
	headerSize = 20
	version    = 1
)

var magic = []byte("FKAR")

var (
	// ErrNotArchive is returned by Unpack for data without the archive magic.
	ErrNotArchive = errors.New("archive: not an archive")
	// ErrCorrupt is returned when the payload does not decode to the
	// recorded size and digest.
	ErrCorrupt = errors.New("archive: corrupt payload")

	errIncompressible = errors.New("archive: incompressible input")
)

// Pack compresses data with c and prepends the header. Input a codec
// cannot compress is stored with None.
func Pack(c Codec, data []byte) ([]byte, error) {
	comp, err := Get(c)
	if err != nil {
		return nil, err
	}
	payload, err := comp.Compress(data)
	if errors.Is(err, errIncompressible) {
		c, payload, err = None, data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: %s compress: %w", c, err)
	}
	out := make([]byte, headerSize, headerSize+len(payload))
	copy(out, magic)
	out[4] = version
	out[5] = byte(c)
	format.PutU32(out, 8, uint32(len(data)))
	format.PutU64(out, 12, xxhash.Sum64(data))
	return append(out, payload...), nil
}

// IsArchive reports whether b starts with the archive magic.
func IsArchive(b []byte) bool {
	return len(b) >= headerSize && bytes.Equal(b[:4], magic)
}

// Unpack verifies the header and returns the uncompressed bytes and the
// codec they were stored with.
func Unpack(b []byte) ([]byte, Codec, error) {
	if !IsArchive(b) {
		return nil, 0, ErrNotArchive
	}
	if b[4] != version {
		return nil, 0, fmt.Errorf("archive: unsupported version %d", b[4])
	}
	c := Codec(b[5])
	comp, err := Get(c)
	if err != nil {
		return nil, c, err
	}
	size := int(format.ReadU32(b, 8))
	digest := format.ReadU64(b, 12)

	data, err := comp.Decompress(b[headerSize:])
	if err != nil {
		return nil, c, fmt.Errorf("%w: %s: %w", ErrCorrupt, c, err)
	}
	if len(data) != size || xxhash.Sum64(data) != digest {
		return nil, c, fmt.Errorf("%w: %s: got %d bytes, want %d", ErrCorrupt, c, len(data), size)
	}
	if data == nil {
		data = []byte{}
	}
	return data, c, nil
}

type noop struct{}

func (noop) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noop) Decompress(data []byte) ([]byte, error) { return data, nil }
