package flash

import (
	"fmt"
	"sync"

	"github.com/joshuapare/flashkit/internal/format"
)

// Op identifies a device operation for fault injection.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpErase
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpErase:
		return "erase"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

type fault struct {
	op      Op
	after   int // remaining successful ops before failing; -1 = sector fault
	sector  uint16
	persist bool
}

// MemDevice is a RAM-backed Device with NOR write semantics.
//
// It is safe for concurrent use.
type MemDevice struct {
	mu         sync.Mutex
	data       []byte
	sectorSize int
	erases     []uint32
	faults     []*fault
	// tornWrite, when > 0, truncates the next write to that many bytes and
	// fails it, simulating power loss mid-program.
	tornWrite int
}

// NewMemDevice returns an erased device of sectors x sectorSize bytes.
func NewMemDevice(sectorSize, sectors int) (*MemDevice, error) {
	if err := checkGeometry(sectorSize, sectors); err != nil {
		return nil, err
	}
	data := make([]byte, sectorSize*sectors)
	for i := range data {
		data[i] = format.ErasedByte
	}
	return newMemDevice(data, sectorSize), nil
}

// NewMemDeviceFrom wraps an existing image. The device aliases data.
func NewMemDeviceFrom(data []byte, sectorSize int) (*MemDevice, error) {
	if sectorSize <= 0 || len(data)%sectorSize != 0 {
		return nil, fmt.Errorf("%w: image of %d bytes is not a multiple of %d", ErrGeometry, len(data), sectorSize)
	}
	if err := checkGeometry(sectorSize, len(data)/sectorSize); err != nil {
		return nil, err
	}
	return newMemDevice(data, sectorSize), nil
}

func newMemDevice(data []byte, sectorSize int) *MemDevice {
	return &MemDevice{
		data:       data,
		sectorSize: sectorSize,
		erases:     make([]uint32, len(data)/sectorSize),
	}
}

func (d *MemDevice) SectorSize() int  { return d.sectorSize }
func (d *MemDevice) SectorCount() int { return len(d.data) / d.sectorSize }

// Read copies len(dst) bytes starting at addr.
func (d *MemDevice) Read(addr uint32, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	end, err := checkRange(d, addr, len(dst))
	if err != nil {
		return err
	}
	if err := d.injected(OpRead, addr, end); err != nil {
		return err
	}
	copy(dst, d.data[addr:end])
	return nil
}

// Write programs src at addr. Every byte is ANDed into the image; a byte
// that would need a cleared bit set fails the whole write before anything
// is programmed.
func (d *MemDevice) Write(addr uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	end, err := checkRange(d, addr, len(src))
	if err != nil {
		return err
	}
	if err := d.injected(OpWrite, addr, end); err != nil {
		return err
	}
	dst := d.data[addr:end]
	for i, b := range src {
		if dst[i]&b != b {
			return fmt.Errorf("%w: addr=0x%08x have=%02x want=%02x", ErrNotErased, int(addr)+i, dst[i], b)
		}
	}
	if d.tornWrite > 0 {
		n := min(d.tornWrite, len(src))
		d.tornWrite = 0
		for i := range n {
			dst[i] &= src[i]
		}
		return fmt.Errorf("%w: torn write at 0x%08x after %d bytes", ErrInjected, addr, n)
	}
	for i, b := range src {
		dst[i] &= b
	}
	return nil
}

// EraseSector sets every byte of sector to 0xff.
func (d *MemDevice) EraseSector(sector uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(sector) >= d.SectorCount() {
		return fmt.Errorf("%w: sector %d of %d", ErrOutOfRange, sector, d.SectorCount())
	}
	start := int(sector) * d.sectorSize
	if err := d.injected(OpErase, uint32(start), start+d.sectorSize); err != nil {
		return err
	}
	s := d.data[start : start+d.sectorSize]
	for i := range s {
		s[i] = format.ErasedByte
	}
	d.erases[sector]++
	return nil
}

// Bytes returns the live image. Tests use it to corrupt flash directly.
func (d *MemDevice) Bytes() []byte {
	return d.data
}

// EraseCount returns how many times sector was erased.
func (d *MemDevice) EraseCount(sector uint16) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(sector) >= len(d.erases) {
		return 0
	}
	return int(d.erases[sector])
}

// FailAfter makes the op fail once after n more successful calls.
func (d *MemDevice) FailAfter(op Op, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = append(d.faults, &fault{op: op, after: n})
}

// FailSector makes every op touching sector fail until ClearFaults.
func (d *MemDevice) FailSector(op Op, sector uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = append(d.faults, &fault{op: op, after: -1, sector: sector, persist: true})
}

// TearNextWrite programs only the first n bytes of the next write and fails it.
func (d *MemDevice) TearNextWrite(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tornWrite = n
}

// ClearFaults removes all injected faults.
func (d *MemDevice) ClearFaults() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = nil
	d.tornWrite = 0
}

func (d *MemDevice) injected(op Op, start uint32, end int) error {
	for i, f := range d.faults {
		if f.op != op {
			continue
		}
		if f.persist {
			first := int(f.sector) * d.sectorSize
			if int(start) < first+d.sectorSize && end > first {
				return fmt.Errorf("%w: %s sector %d", ErrInjected, op, f.sector)
			}
			continue
		}
		if f.after > 0 {
			f.after--
			continue
		}
		d.faults = append(d.faults[:i], d.faults[i+1:]...)
		return fmt.Errorf("%w: %s at 0x%08x", ErrInjected, op, start)
	}
	return nil
}
