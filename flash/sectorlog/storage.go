package sectorlog

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/joshuapare/flashkit/flash"
	"github.com/joshuapare/flashkit/internal/format"
)

// Options configures a Storage.
type Options struct {
	// Logger receives debug traces of failed operations. Nil discards.
	Logger *slog.Logger
}

// Storage is a copy-on-write log over a contiguous range of flash sectors.
//
// At least one sector in the range must stay reusable so that a finalized
// sector can be copied forward before it is extended.
type Storage struct {
	dev     flash.Device
	first   uint16
	last    uint16
	maxSize int
	logger  *slog.Logger
}

// New returns a Storage over sectors first..last (inclusive) of dev.
func New(dev flash.Device, first, last uint16, opts *Options) (*Storage, error) {
	if first > last || int(last) >= dev.SectorCount() {
		return nil, fmt.Errorf("sectorlog: invalid range 0x%04x-0x%04x of %d sectors", first, last, dev.SectorCount())
	}
	maxSize := dev.SectorSize() - format.SectorHeaderSize
	if maxSize <= 0 || maxSize >= int(format.SectorEmptySize) {
		return nil, fmt.Errorf("sectorlog: unsupported sector size %d", dev.SectorSize())
	}
	s := &Storage{
		dev:     dev,
		first:   first,
		last:    last,
		maxSize: maxSize,
		logger:  slog.New(slog.DiscardHandler),
	}
	if opts != nil && opts.Logger != nil {
		s.logger = opts.Logger
	}
	return s, nil
}

// Begin returns the first sector of the range.
func (s *Storage) Begin() uint16 { return s.first }

// End returns the last sector of the range.
func (s *Storage) End() uint16 { return s.last }

// Sectors returns the number of sectors in the range.
func (s *Storage) Sectors() int { return int(s.last-s.first) + 1 }

// SectorMaxSize is the payload capacity of one sector.
func (s *Storage) SectorMaxSize() int { return s.maxSize }

// Device returns the underlying device.
func (s *Storage) Device() flash.Device { return s.dev }

func (s *Storage) headerAddr(sector uint16) uint32 {
	return flash.SectorAddr(s.dev, sector)
}

func (s *Storage) dataAddr(sector uint16) uint32 {
	return s.headerAddr(sector) + format.SectorHeaderSize
}

func (s *Storage) inRange(sector uint16) bool {
	return sector >= s.first && sector <= s.last
}

func (s *Storage) checkSector(sector uint16) error {
	if !s.inRange(sector) {
		return newError(KindOutOfRange, sector, fmt.Errorf("outside 0x%04x-0x%04x", s.first, s.last))
	}
	return nil
}

func (s *Storage) readHeader(sector uint16) (format.SectorHeader, error) {
	var raw [format.SectorHeaderSize]byte
	if err := s.dev.Read(s.headerAddr(sector), raw[:]); err != nil {
		return format.SectorHeader{}, err
	}
	return format.ParseSectorHeader(raw[:])
}

// crc streams size payload bytes of sector through the CRC in ChunkSize
// pieces, starting from seed.
func (s *Storage) crc(sector uint16, size int, seed uint32) (uint32, error) {
	if size > s.maxSize {
		return format.SectorEmptyCRC, fmt.Errorf("size %d exceeds sector capacity %d", size, s.maxSize)
	}
	var chunk [format.ChunkSize]byte
	addr := s.dataAddr(sector)
	crc := seed
	for size > 0 {
		n := min(size, len(chunk))
		if err := s.dev.Read(addr, chunk[:n]); err != nil {
			return format.SectorEmptyCRC, err
		}
		crc = format.CRC32Update(crc, chunk[:n])
		size -= n
		addr += uint32(n)
	}
	return crc, nil
}

// Erase erases sector, releasing it for reuse.
func (s *Storage) Erase(sector uint16) error {
	if err := s.checkSector(sector); err != nil {
		return err
	}
	if err := s.dev.EraseSector(sector); err != nil {
		s.logger.Debug("erase failed", "sector", sector, "error", err)
		return newError(KindErase, sector, err)
	}
	return nil
}

// EraseAll erases every sector of the range.
func (s *Storage) EraseAll() error {
	for sector := s.first; ; sector++ {
		if err := s.Erase(sector); err != nil {
			return err
		}
		if sector == s.last {
			return nil
		}
	}
}

// Init erases sector and writes an empty header. The returned result is
// ready for Append.
func (s *Storage) Init(sector uint16) (Result, error) {
	if err := s.Erase(sector); err != nil {
		return failed(KindErase, sector), err
	}
	header := format.EmptySectorHeader()
	if err := s.dev.Write(s.headerAddr(sector), header.Bytes()); err != nil {
		s.logger.Debug("write failed", "sector", sector, "addr", s.headerAddr(sector), "error", err)
		return failed(KindWrite, sector), newError(KindWrite, sector, err)
	}
	return Result{
		Kind:     KindSuccess,
		Sector:   sector,
		Header:   header,
		CRC:      format.SectorEmptyCRC,
		capacity: s.maxSize,
	}, nil
}

// Copy initializes to and streams the finalized payload of from into it.
// The copied bytes must reproduce the source checksum, so a corrupt source
// is never carried forward. The version of the source is carried into the
// result and incremented by Finalize.
func (s *Storage) Copy(from, to uint16) (Result, error) {
	if err := s.checkSector(from); err != nil {
		return failed(KindOutOfRange, from), err
	}
	if from == to {
		return failed(KindInvalid, to), newError(KindInvalid, to, fmt.Errorf("copy onto itself"))
	}
	header, err := s.readHeader(from)
	if err != nil {
		s.logger.Debug("read failed", "sector", from, "error", err)
		return failed(KindRead, from), newError(KindRead, from, err)
	}

	r, err := s.Init(to)
	if err != nil {
		return r, err
	}
	if !header.HasMagic() || header.IsEmpty() {
		return r, nil
	}
	if header.PayloadSize() > s.maxSize {
		return failed(KindInvalid, from), newError(KindInvalid, from, fmt.Errorf("declared size %d", header.Size))
	}
	if header.HasVersion() {
		r.Version = header.Version
	}

	var chunk [format.ChunkSize]byte
	src := s.dataAddr(from)
	for size := header.PayloadSize(); size > 0; {
		n := min(size, len(chunk))
		if err := s.dev.Read(src, chunk[:n]); err != nil {
			s.logger.Debug("read failed", "sector", from, "addr", src, "size", n, "error", err)
			r = failed(KindRead, from)
			return r, newError(KindRead, from, err)
		}
		if err := s.Append(&r, chunk[:n]); err != nil {
			return r, err
		}
		size -= n
		src += uint32(n)
	}
	if r.CRC != header.CRC {
		s.logger.Debug("source crc mismatch", "sector", from, "crc", r.CRC, "header.crc", header.CRC)
		return failed(KindValidateCRC, from), newError(KindValidateCRC, from, nil)
	}
	return r, nil
}

// Append writes data after the bytes already in r and folds it into the
// running checksum. Nothing reaches the header until Finalize. On failure r
// turns into the error result.
func (s *Storage) Append(r *Result, data []byte) error {
	if err := s.writable(r); err != nil {
		return err
	}
	if r.Size+len(data) > s.maxSize {
		s.logger.Debug("no space left", "sector", r.Sector, "size", len(data), "used", r.Size)
		*r = failed(KindNoSpace, r.Sector)
		return newError(KindNoSpace, r.Sector, fmt.Errorf("%d+%d > %d", r.Size, len(data), s.maxSize))
	}
	if len(data) == 0 {
		return nil
	}
	addr := s.dataAddr(r.Sector) + uint32(r.Size)
	if err := s.dev.Write(addr, data); err != nil {
		s.logger.Debug("write failed", "sector", r.Sector, "addr", addr, "size", len(data), "error", err)
		*r = failed(KindWrite, r.Sector)
		return newError(KindWrite, r.Sector, err)
	}
	r.CRC = format.CRC32Update(r.CRC, data)
	r.Size += len(data)
	return nil
}

// Finalize commits checksum, size and the next version with one header
// write. The sector is immutable afterwards.
func (s *Storage) Finalize(r *Result) error {
	if err := s.writable(r); err != nil {
		return err
	}
	if r.Size > s.maxSize {
		*r = failed(KindOutOfRange, r.Sector)
		return newError(KindOutOfRange, r.Sector, nil)
	}
	version := r.Version + 1
	if version == format.SectorEmptyVersion {
		version = 0
	}
	header := format.SectorHeader{
		Magic:       format.SectorMagic,
		CRC:         r.CRC,
		Size:        uint16(r.Size),
		VersionBits: format.SectorLayoutVersion,
		Version:     version,
	}
	if err := s.dev.Write(s.headerAddr(r.Sector), header.Bytes()); err != nil {
		s.logger.Debug("finalize failed", "sector", r.Sector, "error", err)
		*r = failed(KindWrite, r.Sector)
		return newError(KindWrite, r.Sector, err)
	}
	r.Header = header
	r.Version = version
	return nil
}

func (s *Storage) writable(r *Result) error {
	if !r.OK() {
		kind := r.Kind
		if kind == KindNone {
			kind = KindInvalid
		}
		return newError(kind, r.Sector, nil)
	}
	if !r.Header.IsEmpty() {
		s.logger.Debug("sector finalized", "sector", r.Sector, "crc", r.Header.CRC, "size", r.Header.Size)
		*r = failed(KindFinalized, r.Sector)
		return newError(KindFinalized, r.Sector, nil)
	}
	return nil
}

// Validate re-reads the header of r's sector and recomputes the payload
// checksum. It returns the result as stored on flash.
func (s *Storage) Validate(r Result) (Result, error) {
	if !r.OK() {
		return r, newError(r.Kind, r.Sector, nil)
	}
	header, err := s.readHeader(r.Sector)
	if err != nil {
		return failed(KindValidateRead, r.Sector), newError(KindValidateRead, r.Sector, err)
	}
	if !header.HasMagic() || header.IsEmpty() {
		return failed(KindValidateEmpty, r.Sector), newError(KindValidateEmpty, r.Sector, nil)
	}
	if header.PayloadSize() > s.maxSize {
		return failed(KindOutOfRange, r.Sector), newError(KindOutOfRange, r.Sector, nil)
	}
	crc, err := s.crc(r.Sector, header.PayloadSize(), format.SectorEmptyCRC)
	if err != nil {
		return failed(KindValidateRead, r.Sector), newError(KindValidateRead, r.Sector, err)
	}
	if crc != header.CRC {
		s.logger.Debug("crc failed", "sector", r.Sector, "crc", crc, "header.crc", header.CRC)
		return failed(KindValidateCRC, r.Sector), newError(KindValidateCRC, r.Sector, nil)
	}
	return s.stored(r.Sector, header), nil
}

func (s *Storage) stored(sector uint16, header format.SectorHeader) Result {
	return Result{
		Kind:     KindSuccess,
		Sector:   sector,
		Header:   header,
		CRC:      header.CRC,
		Size:     header.PayloadSize(),
		Version:  header.Version,
		capacity: s.maxSize,
	}
}

// Read copies payload bytes of sector starting at offset into dst and
// returns the number of bytes copied.
//
// The header and checksum are verified before any payload is returned. When
// cache is not nil it holds the verified header of the last sector read, so
// sequential reads of one sector check the payload only once.
func (s *Storage) Read(dst []byte, sector uint16, offset int, cache *Result) (int, error) {
	if err := s.checkSector(sector); err != nil {
		return 0, err
	}
	var r Result
	if cache != nil && cache.OK() && cache.Sector == sector {
		r = *cache
	} else {
		header, err := s.readHeader(sector)
		if err != nil {
			return 0, newError(KindRead, sector, err)
		}
		switch {
		case !header.HasMagic():
			return 0, newError(KindInvalid, sector, nil)
		case header.IsEmpty():
			return 0, newError(KindEmpty, sector, nil)
		case header.PayloadSize() > s.maxSize:
			return 0, newError(KindInvalid, sector, fmt.Errorf("declared size %d", header.Size))
		}
		crc, err := s.crc(sector, header.PayloadSize(), format.SectorEmptyCRC)
		if err != nil {
			return 0, newError(KindRead, sector, err)
		}
		if crc != header.CRC {
			s.logger.Debug("crc mismatch", "sector", sector, "crc", crc, "header.crc", header.CRC)
			return 0, newError(KindValidateCRC, sector, nil)
		}
		r = s.stored(sector, header)
		if cache != nil {
			*cache = r
		}
	}

	n := min(len(dst), r.Size-offset)
	if offset < 0 || n <= 0 {
		return 0, newError(KindOutOfRange, sector, fmt.Errorf("offset %d, size %d", offset, r.Size))
	}
	if err := s.dev.Read(s.dataAddr(sector)+uint32(offset), dst[:n]); err != nil {
		return 0, newError(KindRead, sector, err)
	}
	return n, nil
}

// Format clears the magic of every initialized sector in the range. A
// sector whose magic cannot be overwritten is erased instead.
func (s *Storage) Format() error {
	zero := make([]byte, format.SectorHeaderSize)
	for sector := s.first; ; sector++ {
		header, err := s.readHeader(sector)
		if err != nil {
			return newError(KindRead, sector, err)
		}
		if header.HasMagic() {
			cleared := false
			if err := s.dev.Write(s.headerAddr(sector), zero); err == nil {
				if h, err := s.readHeader(sector); err == nil && !h.HasMagic() {
					cleared = true
				}
			}
			if !cleared {
				if err := s.Erase(sector); err != nil {
					return err
				}
			}
		}
		if sector == s.last {
			return nil
		}
	}
}

// FindOptions selects sectors for Find.
type FindOptions struct {
	// MinSpace is the free payload space a data sector needs to qualify.
	MinSpace int
	// Sort orders the result by free space, largest first.
	Sort bool
	// Limit caps the number of reusable sectors, and of data sectors found
	// after the first result. Zero means no limit.
	Limit int
}

// Find scans the headers of the whole range. See FindIn.
func (s *Storage) Find(opts FindOptions) []Slot {
	return s.FindIn(s.first, s.last, opts)
}

// FindIn classifies sectors from..to as reusable or as holding data with
// at least opts.MinSpace bytes free.
//
// A sector is reusable when its magic is wrong, its header is still empty,
// or its declared size and checksum do not match the payload. The payload
// of a data sector is only read to verify the checksum of sectors that
// qualify by free space. Unreadable sectors are skipped.
func (s *Storage) FindIn(from, to uint16, opts FindOptions) []Slot {
	from, to = max(from, s.first), min(to, s.last)
	limit := opts.Limit
	if limit <= 0 {
		limit = math.MaxInt
	}

	var slots []Slot
	for sector := from; sector <= to && limit > 0; sector++ {
		header, err := s.readHeader(sector)
		switch {
		case err != nil:
			s.logger.Debug("read error", "sector", sector, "error", err)
		case !header.HasMagic() || header.IsEmpty() || header.PayloadSize() > s.maxSize:
			slots = append(slots, s.reusable(sector))
			limit--
		case s.maxSize-header.PayloadSize() >= opts.MinSpace:
			crc, err := s.crc(sector, header.PayloadSize(), format.SectorEmptyCRC)
			if err != nil || crc != header.CRC {
				s.logger.Debug("crc mismatch", "sector", sector, "size", header.PayloadSize(), "error", err)
				slots = append(slots, s.reusable(sector))
				limit--
				break
			}
			if len(slots) > 0 {
				limit--
			}
			slots = append(slots, Slot{
				Sector:   sector,
				Size:     header.PayloadSize(),
				CRC:      header.CRC,
				Version:  header.Version,
				capacity: s.maxSize,
			})
		}
		if sector == math.MaxUint16 {
			break
		}
	}
	if opts.Sort {
		sort.SliceStable(slots, func(i, j int) bool {
			return slots[i].Space() > slots[j].Space()
		})
	}
	return slots
}

func (s *Storage) reusable(sector uint16) Slot {
	return Slot{Sector: sector, Reusable: true, CRC: format.SectorEmptyCRC, capacity: s.maxSize}
}

// State classifies a sector for inspection tools.
type State uint8

const (
	StateErased    State = iota // no magic
	StateEmpty                  // initialized, never finalized
	StateFinalized              // magic, size and checksum agree
	StateCorrupt                // magic present, size or checksum mismatch
	StateUnreadable
)

func (st State) String() string {
	switch st {
	case StateErased:
		return "erased"
	case StateEmpty:
		return "empty"
	case StateFinalized:
		return "finalized"
	case StateCorrupt:
		return "corrupt"
	default:
		return "unreadable"
	}
}

// SectorInfo describes one sector.
type SectorInfo struct {
	Sector uint16
	State  State
	Header format.SectorHeader
}

// Inspect reads and verifies the header of every sector in the range.
func (s *Storage) Inspect() []SectorInfo {
	infos := make([]SectorInfo, 0, s.Sectors())
	for sector := s.first; ; sector++ {
		info := SectorInfo{Sector: sector}
		header, err := s.readHeader(sector)
		info.Header = header
		switch {
		case err != nil:
			info.State = StateUnreadable
		case !header.HasMagic():
			info.State = StateErased
		case header.IsEmpty():
			info.State = StateEmpty
		case header.PayloadSize() > s.maxSize:
			info.State = StateCorrupt
		default:
			crc, err := s.crc(sector, header.PayloadSize(), format.SectorEmptyCRC)
			if err != nil || crc != header.CRC {
				info.State = StateCorrupt
			} else {
				info.State = StateFinalized
			}
		}
		infos = append(infos, info)
		if sector == s.last {
			return infos
		}
	}
}
