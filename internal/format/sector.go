package format

// SectorLayoutVersion is written to the version bits of every finalized header.
const SectorLayoutVersion uint16 = 1

// SectorHeader is the 16-byte header at the start of each log sector.
//
// A freshly initialized sector carries the magic and the empty sentinels in
// every other field. Finalizing overwrites the whole header in one write;
// the new values only ever clear bits relative to the sentinels, so no erase
// is required.
type SectorHeader struct {
	Magic       uint32
	CRC         uint32
	Size        uint16
	VersionBits uint16
	Version     uint32
}

// EmptySectorHeader returns the header written by an init.
func EmptySectorHeader() SectorHeader {
	return SectorHeader{
		Magic:       SectorMagic,
		CRC:         SectorEmptyCRC,
		Size:        SectorEmptySize,
		VersionBits: SectorEmptyVersionBits,
		Version:     SectorEmptyVersion,
	}
}

// ParseSectorHeader decodes a header from the start of b.
func ParseSectorHeader(b []byte) (SectorHeader, error) {
	if len(b) < SectorHeaderSize {
		return SectorHeader{}, ErrTruncated
	}
	return SectorHeader{
		Magic:       ReadU32(b, SectorMagicOffset),
		CRC:         ReadU32(b, SectorCRCOffset),
		Size:        ReadU16(b, SectorSizeOffset),
		VersionBits: ReadU16(b, SectorVersionBitsOffset),
		Version:     ReadU32(b, SectorVersionOffset),
	}, nil
}

// Put encodes the header into b.
func (h SectorHeader) Put(b []byte) error {
	if len(b) < SectorHeaderSize {
		return ErrTruncated
	}
	PutU32(b, SectorMagicOffset, h.Magic)
	PutU32(b, SectorCRCOffset, h.CRC)
	PutU16(b, SectorSizeOffset, h.Size)
	PutU16(b, SectorVersionBitsOffset, h.VersionBits)
	PutU32(b, SectorVersionOffset, h.Version)
	return nil
}

// Bytes returns the encoded header.
func (h SectorHeader) Bytes() []byte {
	b := make([]byte, SectorHeaderSize)
	_ = h.Put(b)
	return b
}

// HasMagic reports whether the header belongs to an initialized sector.
func (h SectorHeader) HasMagic() bool {
	return h.Magic == SectorMagic
}

// IsEmpty reports whether the header was initialized but never finalized.
func (h SectorHeader) IsEmpty() bool {
	return h.CRC == SectorEmptyCRC && h.Size == SectorEmptySize
}

// PayloadSize is the declared payload size, 0 for an empty header.
func (h SectorHeader) PayloadSize() int {
	if h.Size == SectorEmptySize {
		return 0
	}
	return int(h.Size)
}

// HasVersion reports whether the version field was written by a finalize.
func (h SectorHeader) HasVersion() bool {
	return h.VersionBits != SectorEmptyVersionBits && h.Version != SectorEmptyVersion
}
