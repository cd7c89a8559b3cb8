package format

import "fmt"

// ConfigHeader is the header of a configuration blob.
//
// On disk the first 10 bytes carry magic, crc and a packed word holding
// length (12 bits) and params (10 bits); the remaining bytes up to
// ConfigHeaderSize are zero. Length counts the parameter table plus the
// data region, which is exactly the range the CRC covers.
type ConfigHeader struct {
	Magic  uint32
	CRC    uint16
	Length uint16
	Params uint16
}

// ParseConfigHeader decodes a header from the start of b.
// It checks only that enough bytes are present; see Validate.
func ParseConfigHeader(b []byte) (ConfigHeader, error) {
	if len(b) < ConfigHeaderPackedSize {
		return ConfigHeader{}, ErrTruncated
	}
	packed := ReadU32(b, ConfigPackedOffset)
	return ConfigHeader{
		Magic:  ReadU32(b, ConfigMagicOffset),
		CRC:    ReadU16(b, ConfigCRCOffset),
		Length: uint16(packed & ConfigMaxLength),
		Params: uint16(packed >> ConfigLengthBits & ConfigMaxParams),
	}, nil
}

// Put encodes the header into b, which must hold ConfigHeaderSize bytes.
func (h ConfigHeader) Put(b []byte) error {
	if len(b) < ConfigHeaderSize {
		return ErrTruncated
	}
	if h.Length > ConfigMaxLength || h.Params > ConfigMaxParams {
		return fmt.Errorf("%w: length=%d params=%d", ErrOverflow, h.Length, h.Params)
	}
	PutU32(b, ConfigMagicOffset, h.Magic)
	PutU16(b, ConfigCRCOffset, h.CRC)
	PutU32(b, ConfigPackedOffset, uint32(h.Length)|uint32(h.Params)<<ConfigLengthBits)
	clear(b[ConfigHeaderPackedSize:ConfigHeaderSize])
	return nil
}

// TableSize is the size of the parameter table that follows the header.
func (h ConfigHeader) TableSize() int {
	return int(h.Params) * ParamEntrySize
}

// Validate rejects headers that cannot describe a blob within a region of
// regionSize bytes: an erased or wrong magic, a zero length, or a length
// that does not fit the region or the parameter table. Any CRC value is
// accepted here; the caller checks it against the data.
func (h ConfigHeader) Validate(regionSize int) error {
	switch {
	case h.Magic == ConfigMagicErased:
		return fmt.Errorf("%w: erased", ErrEmpty)
	case h.Magic != ConfigMagic:
		return fmt.Errorf("%w: magic %08x", ErrSignatureMismatch, h.Magic)
	case h.Length == 0 || int(h.Length)+ConfigHeaderSize > regionSize:
		return fmt.Errorf("%w: %d (region %d)", ErrLength, h.Length, regionSize)
	case h.TableSize() > int(h.Length):
		return fmt.Errorf("%w: table %d exceeds length %d", ErrLength, h.TableSize(), h.Length)
	}
	return nil
}

// ParamEntry is one 4-byte parameter table entry.
type ParamEntry struct {
	Handle uint16
	Type   uint8
	Length uint16
}

// ParseParamEntry decodes the entry at b[off:].
func ParseParamEntry(b []byte, off int) (ParamEntry, error) {
	if off < 0 || off+ParamEntrySize > len(b) {
		return ParamEntry{}, ErrTruncated
	}
	tl := ReadU16(b, off+2)
	return ParamEntry{
		Handle: ReadU16(b, off),
		Type:   uint8(tl & (1<<ParamTypeBits - 1)),
		Length: tl >> ParamTypeBits,
	}, nil
}

// Put encodes the entry at b[off:].
func (e ParamEntry) Put(b []byte, off int) error {
	if off < 0 || off+ParamEntrySize > len(b) {
		return ErrTruncated
	}
	if e.Length > ParamMaxLength || e.Type >= 1<<ParamTypeBits {
		return fmt.Errorf("%w: type=%d length=%d", ErrOverflow, e.Type, e.Length)
	}
	PutU16(b, off, e.Handle)
	PutU16(b, off+2, uint16(e.Type)|e.Length<<ParamTypeBits)
	return nil
}
