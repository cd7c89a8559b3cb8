package format

// Configuration blob layout.
const (
	// ConfigMagic marks the start of a configuration blob.
	ConfigMagic uint32 = 0xfef31214

	// ConfigHeaderPackedSize is the number of meaningful header bytes:
	// magic (4) + crc (2) + packed length/params (4).
	ConfigHeaderPackedSize = 10
	// ConfigHeaderSize is the packed header rounded up to 8 bytes.
	ConfigHeaderSize = (ConfigHeaderPackedSize + 7) &^ 7

	ConfigMagicOffset  = 0x00
	ConfigCRCOffset    = 0x04
	ConfigPackedOffset = 0x06

	// ConfigLengthBits is the width of the length field in the packed word.
	ConfigLengthBits = 12
	// ConfigParamsBits is the width of the parameter count field.
	ConfigParamsBits = 10

	// ConfigMaxLength is the largest table+data length a header can describe.
	ConfigMaxLength = 1<<ConfigLengthBits - 1
	// ConfigMaxParams is the largest parameter count a header can describe.
	ConfigMaxParams = 1<<ConfigParamsBits - 1

	// ParamEntrySize is the size of one parameter table entry.
	ParamEntrySize = 4
	// ParamTypeBits is the width of the type field of a table entry.
	ParamTypeBits = 4
	// ParamLengthBits is the width of the length field of a table entry.
	ParamLengthBits = 12
	// ParamMaxLength is the largest value length a table entry can describe.
	ParamMaxLength = 1<<ParamLengthBits - 1

	// ConfigMagicErased is the magic word of an erased (never written) header.
	ConfigMagicErased uint32 = 0xffffffff
)

// Flash sector layout.
const (
	// SectorMagic marks an initialized sector.
	SectorMagic uint32 = 0x208a74e2

	// SectorHeaderSize is the size of the header at the start of each sector.
	SectorHeaderSize = 16

	SectorMagicOffset       = 0x00
	SectorCRCOffset         = 0x04
	SectorSizeOffset        = 0x08
	SectorVersionBitsOffset = 0x0A
	SectorVersionOffset     = 0x0C

	// SectorEmptySize is the size field of a header that was never finalized.
	SectorEmptySize uint16 = 0xffff
	// SectorEmptyCRC is the CRC field of a header that was never finalized.
	// It is also the CRC32 seed, so an empty payload checksums to this value.
	SectorEmptyCRC uint32 = 0xffffffff
	// SectorEmptyVersionBits is the version bits field of a header that was never finalized.
	SectorEmptyVersionBits uint16 = 0xffff
	// SectorEmptyVersion is the version field of a header that was never finalized.
	SectorEmptyVersion uint32 = 0xffffffff

	// ChunkSize is the size of the stack buffer used for streaming copies and reads.
	ChunkSize = 64

	// ErasedByte is the value of every byte after an erase.
	ErasedByte = 0xff
)

// Crash record layout.
const (
	// CrashHeaderSize is the fixed size of a crash record header.
	CrashHeaderSize = 76

	// CrashMaxStackSize caps the number of stack bytes stored with a record.
	CrashMaxStackSize = 1200

	CrashTimeOffset          = 0x00
	CrashStackBeginOffset    = 0x04
	CrashStackEndOffset      = 0x08
	CrashStackSPOffset       = 0x0C
	CrashStackSizeOffset     = 0x10
	CrashFailAllocAddrOffset = 0x14
	CrashFailAllocSizeOffset = 0x18
	CrashVersionOffset       = 0x1C
	CrashResetInfoOffset     = 0x20
	CrashMD5Offset           = 0x3C

	// CrashResetInfoFields is the number of u32 fields in the reset info block.
	CrashResetInfoFields = 7
	// CrashMD5Size is the size of the firmware digest.
	CrashMD5Size = 16
)

// Alignment masks.
const (
	Align4Mask  = 3
	Align8Mask  = 7
	Align16Mask = 15
)
