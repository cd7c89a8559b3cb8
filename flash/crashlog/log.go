// Package crashlog stores crash records in a copy-on-write sector range.
package crashlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/joshuapare/flashkit/flash/sectorlog"
	"github.com/joshuapare/flashkit/internal/format"
	"github.com/joshuapare/flashkit/pkg/types"
)

// Options configures a Log.
type Options struct {
	// Diag receives the raw lines printed when storing a record fails.
	// Nothing on the append path goes through Logger. Defaults to io.Discard.
	Diag io.Writer

	// Logger receives debug output from enumeration and maintenance.
	Logger *slog.Logger
}

// Log stores crash records in a sector range. Each finalized sector holds
// one or more records back to back; a new record is added by copying the
// sector into a reusable one, appending, and erasing the source.
type Log struct {
	fs     *sectorlog.Storage
	diag   io.Writer
	logger *slog.Logger
}

// New wraps a sector range.
func New(fs *sectorlog.Storage, opts *Options) *Log {
	l := &Log{fs: fs, diag: io.Discard, logger: slog.New(slog.DiscardHandler)}
	if opts != nil {
		if opts.Diag != nil {
			l.diag = opts.Diag
		}
		if opts.Logger != nil {
			l.logger = opts.Logger
		}
	}
	return l
}

// Storage returns the underlying sector range.
func (l *Log) Storage() *sectorlog.Storage { return l.fs }

// MaxStackSize is the largest stack that fits in one sector with its header.
func (l *Log) MaxStackSize() int {
	return l.fs.SectorMaxSize() - format.CrashHeaderSize
}

// Entry is a record and where it is stored.
type Entry struct {
	Record
	Sector uint16
	Offset int // payload offset of the header
}

// StackOffset is the payload offset of the stack bytes.
func (e Entry) StackOffset() int {
	return e.Offset + format.CrashHeaderSize
}

// Append stores rec followed by up to rec.Stack.Size bytes of stack.
//
// A data sector with room is copied into a reusable sector, the record is
// appended and the copy finalized and validated before the source is
// erased. When no data sector has room for the whole record, the stack is
// truncated to what the chosen sector can hold. Failures print one line to
// the diagnostic writer and are not retried.
func (l *Log) Append(rec Record, stack []byte) error {
	stackSize := min(len(stack), int(rec.Stack.Size), format.CrashMaxStackSize)

	data, reusable, ok := l.pick(format.CrashHeaderSize + stackSize)
	if !ok || reusable == nil {
		data, reusable, ok = l.pick(format.CrashHeaderSize)
	}
	if !ok || reusable == nil {
		fmt.Fprintf(l.diag, "storing the crash log requires at least one empty sector\n")
		return types.Errorf(types.ErrKindCapacity, nil, "crashlog: no reusable sector in 0x%04x-0x%04x", l.fs.Begin(), l.fs.End())
	}

	var (
		r   sectorlog.Result
		err error
	)
	if data != nil {
		r, err = l.fs.Copy(data.Sector, reusable.Sector)
		if err != nil {
			fmt.Fprintf(l.diag, "copying sector=%x to sector=%x failed=%d\n", data.Sector, reusable.Sector, sectorlog.KindOf(err))
			return err
		}
	} else {
		r, err = l.fs.Init(reusable.Sector)
		if err != nil {
			fmt.Fprintf(l.diag, "initializing sector=%x failed=%d\n", reusable.Sector, sectorlog.KindOf(err))
			return err
		}
	}

	stackSize = max(0, min(stackSize, r.Space()-format.CrashHeaderSize))
	rec.Stack.Size = uint32(stackSize)

	var header [format.CrashHeaderSize]byte
	rec.encode(&header)
	if err := l.fs.Append(&r, header[:]); err != nil {
		fmt.Fprintf(l.diag, "appending data to sector=%x failed=%d\n", reusable.Sector, sectorlog.KindOf(err))
		return err
	}
	if err := l.fs.Append(&r, stack[:stackSize]); err != nil {
		fmt.Fprintf(l.diag, "appending stack to sector=%x failed=%d\n", reusable.Sector, sectorlog.KindOf(err))
		return err
	}
	if err := l.fs.Finalize(&r); err != nil {
		fmt.Fprintf(l.diag, "finalizing sector=%x failed=%d\n", reusable.Sector, sectorlog.KindOf(err))
		return err
	}
	if _, err := l.fs.Validate(r); err != nil {
		fmt.Fprintf(l.diag, "validating sector=%x failed=%d\n", reusable.Sector, sectorlog.KindOf(err))
		return err
	}
	if data != nil {
		if err := l.fs.Erase(data.Sector); err != nil {
			fmt.Fprintf(l.diag, "erasing sector=%x failed=%d\n", data.Sector, sectorlog.KindOf(err))
			return err
		}
	}
	return nil
}

// pick returns the first data sector with minSpace bytes free and the first
// reusable sector, in sector order.
func (l *Log) pick(minSpace int) (data, reusable *sectorlog.Slot, ok bool) {
	slots := l.fs.Find(sectorlog.FindOptions{MinSpace: minSpace})
	for i := range slots {
		s := &slots[i]
		if s.Reusable {
			if reusable == nil {
				reusable = s
			}
		} else if data == nil {
			data = s
		}
	}
	return data, reusable, len(slots) > 0
}

// Entries calls fn for every valid record in sector order until fn returns
// false. A sector is read up to its first unreadable or invalid header.
func (l *Log) Entries(fn func(Entry) bool) {
	maxStack := l.MaxStackSize()
	var buf [format.CrashHeaderSize]byte
	for sector := l.fs.Begin(); ; sector++ {
		var cache sectorlog.Result
		for offset := 0; ; {
			n, err := l.fs.Read(buf[:], sector, offset, &cache)
			if err != nil || n < len(buf) {
				if err != nil && offset == 0 && !errors.Is(err, sectorlog.ErrEmpty) && !errors.Is(err, sectorlog.ErrInvalid) {
					l.logger.Debug("sector unreadable", "sector", sector, "error", err)
				}
				break
			}
			var rec Record
			_ = rec.UnmarshalBinary(buf[:])
			if !rec.Valid(maxStack) {
				l.logger.Debug("invalid record", "sector", sector, "offset", offset)
				break
			}
			if !fn(Entry{Record: rec, Sector: sector, Offset: offset}) {
				return
			}
			offset += rec.Size()
		}
		if sector == l.fs.End() {
			return
		}
	}
}

// Collect returns all valid records.
func (l *Log) Collect() []Entry {
	var entries []Entry
	l.Entries(func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	return entries
}

// ReadStack returns the stored stack bytes of e.
func (l *Log) ReadStack(e Entry) ([]byte, error) {
	stack := make([]byte, e.StackSize())
	if len(stack) == 0 {
		return stack, nil
	}
	var cache sectorlog.Result
	for done := 0; done < len(stack); {
		n, err := l.fs.Read(stack[done:], e.Sector, e.StackOffset()+done, &cache)
		if err != nil {
			return nil, types.Errorf(types.ErrKindRead, err, "crashlog: stack of record at sector 0x%04x offset %d", e.Sector, e.Offset)
		}
		done += n
	}
	return stack, nil
}

// raw returns the stored header and stack of e as one slice.
func (l *Log) raw(e Entry) ([]byte, error) {
	stack, err := l.ReadStack(e)
	if err != nil {
		return nil, err
	}
	var header [format.CrashHeaderSize]byte
	e.encode(&header)
	return append(header[:], stack...), nil
}

// Info summarizes the log.
type Info struct {
	Size         int // bytes used by records
	Space        int // free payload bytes
	Counter      int // number of records
	SectorsTotal int
	SectorsUsed  int
	LargestBlock int // largest free space in a single sector
	Capacity     int // usable bytes, one sector is kept for copying
}

// Info walks all sectors and records. A sector counts as used when its
// first record is valid.
func (l *Log) Info() Info {
	info := Info{
		SectorsTotal: l.fs.Sectors(),
		Capacity:     (l.fs.Sectors() - 1) * l.fs.SectorMaxSize(),
	}
	maxStack := l.MaxStackSize()
	var buf [format.CrashHeaderSize]byte
	for sector := l.fs.Begin(); ; sector++ {
		var (
			cache sectorlog.Result
			rec   Record
		)
		n, err := l.fs.Read(buf[:], sector, 0, &cache)
		if err == nil && n == len(buf) {
			_ = rec.UnmarshalBinary(buf[:])
		}
		if err != nil || n < len(buf) || !rec.Valid(maxStack) {
			info.Space += l.fs.SectorMaxSize()
			info.LargestBlock = max(info.LargestBlock, l.fs.SectorMaxSize())
		} else {
			info.SectorsUsed++
			info.Space += cache.Space()
			info.LargestBlock = max(info.LargestBlock, cache.Space())
		}
		if sector == l.fs.End() {
			break
		}
	}
	l.Entries(func(e Entry) bool {
		info.Counter++
		info.Size += e.Size()
		return true
	})
	return info
}

// ClearType selects how Clear removes records.
type ClearType uint8

const (
	// ClearErase erases every sector.
	ClearErase ClearType = iota
	// ClearRemoveMagic overwrites the sector magic, erasing only where
	// that fails.
	ClearRemoveMagic
)

func (c ClearType) String() string {
	switch c {
	case ClearErase:
		return "erase"
	case ClearRemoveMagic:
		return "remove-magic"
	default:
		return fmt.Sprintf("clear(%d)", uint8(c))
	}
}

// Clear removes all records.
func (l *Log) Clear(kind ClearType) error {
	switch kind {
	case ClearErase:
		return l.fs.EraseAll()
	case ClearRemoveMagic:
		return l.fs.Format()
	default:
		return fmt.Errorf("crashlog: unknown clear type %d", kind)
	}
}

// Prune rewrites every sector holding records that keep rejects, copying
// the kept records into a reusable sector before the source is erased. A
// sector left without records is erased. It returns the number of records
// removed.
func (l *Log) Prune(keep func(Entry) bool) (int, error) {
	bySector := map[uint16][]Entry{}
	var order []uint16
	l.Entries(func(e Entry) bool {
		if _, seen := bySector[e.Sector]; !seen {
			order = append(order, e.Sector)
		}
		bySector[e.Sector] = append(bySector[e.Sector], e)
		return true
	})

	removed := 0
	for _, sector := range order {
		entries := bySector[sector]
		var kept []Entry
		for _, e := range entries {
			if keep(e) {
				kept = append(kept, e)
			}
		}
		if len(kept) == len(entries) {
			continue
		}
		if err := l.rewrite(sector, kept); err != nil {
			return removed, err
		}
		removed += len(entries) - len(kept)
		l.logger.Debug("pruned sector", "sector", sector, "removed", len(entries)-len(kept), "kept", len(kept))
	}
	return removed, nil
}

// RemoveVersionsExcept drops every record not written by current.
func (l *Log) RemoveVersionsExcept(current types.FirmwareVersion) (int, error) {
	return l.Prune(func(e Entry) bool { return e.Version == current })
}

func (l *Log) rewrite(sector uint16, kept []Entry) error {
	if len(kept) == 0 {
		return l.fs.Erase(sector)
	}
	raws := make([][]byte, 0, len(kept))
	for _, e := range kept {
		b, err := l.raw(e)
		if err != nil {
			return err
		}
		raws = append(raws, b)
	}

	var target *sectorlog.Slot
	for _, s := range l.fs.Find(sectorlog.FindOptions{MinSpace: l.fs.SectorMaxSize() + 1}) {
		if s.Reusable {
			target = &s
			break
		}
	}
	if target == nil {
		return types.Errorf(types.ErrKindCapacity, nil, "crashlog: no reusable sector to rewrite 0x%04x", sector)
	}
	r, err := l.fs.Init(target.Sector)
	if err != nil {
		return err
	}
	for _, b := range raws {
		if err := l.fs.Append(&r, b); err != nil {
			return err
		}
	}
	if err := l.fs.Finalize(&r); err != nil {
		return err
	}
	if _, err := l.fs.Validate(r); err != nil {
		return err
	}
	return l.fs.Erase(sector)
}
