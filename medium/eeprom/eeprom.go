// Package eeprom emulates a byte-addressable EEPROM on erase-block flash.
//
// The region is shadowed in RAM on first access. Writes change only the
// shadow and record which bytes differ; Commit erases and reprograms just
// the sectors holding those bytes.
package eeprom

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joshuapare/flashkit/flash"
	"github.com/joshuapare/flashkit/flash/dirty"
	"github.com/joshuapare/flashkit/medium"
	"github.com/joshuapare/flashkit/pkg/types"
)

// Options configures a Medium.
type Options struct {
	Logger *slog.Logger
}

// Medium is an EEPROM image over consecutive flash sectors.
type Medium struct {
	mu      sync.Mutex
	dev     flash.Device
	first   uint16
	sectors int
	size    int

	shadow []byte // whole sectors, nil until loaded
	dirty  *dirty.Tracker
	logger *slog.Logger
}

var _ medium.Medium = (*Medium)(nil)

// New maps size bytes starting at firstSector.
func New(dev flash.Device, firstSector uint16, size int, opts *Options) (*Medium, error) {
	if size <= 0 {
		return nil, fmt.Errorf("eeprom: invalid size %d", size)
	}
	ss := dev.SectorSize()
	sectors := (size + ss - 1) / ss
	if int(firstSector)+sectors > dev.SectorCount() {
		return nil, fmt.Errorf("eeprom: %d bytes at sector 0x%x: %w", size, firstSector, flash.ErrOutOfRange)
	}
	m := &Medium{
		dev:     dev,
		first:   firstSector,
		sectors: sectors,
		size:    size,
		dirty:   dirty.NewTracker(ss),
		logger:  slog.New(slog.DiscardHandler),
	}
	if opts != nil && opts.Logger != nil {
		m.logger = opts.Logger
	}
	return m, nil
}

func (m *Medium) Size() int { return m.size }

// FirstSector returns the first flash sector of the region.
func (m *Medium) FirstSector() uint16 { return m.first }

// Sectors returns the number of flash sectors the region spans.
func (m *Medium) Sectors() int { return m.sectors }

func (m *Medium) load() error {
	if m.shadow != nil {
		return nil
	}
	shadow := make([]byte, m.sectors*m.dev.SectorSize())
	if err := m.dev.Read(flash.SectorAddr(m.dev, m.first), shadow); err != nil {
		return types.Errorf(types.ErrKindRead, err, "eeprom: load sector 0x%x", m.first)
	}
	m.shadow = shadow
	m.logger.Debug("eeprom loaded", "sector", m.first, "size", len(shadow))
	return nil
}

func (m *Medium) Read(dst []byte, off int) error {
	if err := medium.CheckRange(m, off, len(dst)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return err
	}
	copy(dst, m.shadow[off:])
	return nil
}

// Write updates the shadow. Bytes equal to the shadow are not marked dirty.
func (m *Medium) Write(src []byte, off int) error {
	if err := medium.CheckRange(m, off, len(src)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return err
	}
	cur := m.shadow[off : off+len(src)]
	for i := 0; i < len(src); {
		if cur[i] == src[i] {
			i++
			continue
		}
		start := i
		for i < len(src) && cur[i] != src[i] {
			i++
		}
		m.dirty.Add(off+start, i-start)
	}
	copy(cur, src)
	return nil
}

// Dirty reports whether uncommitted changes exist.
func (m *Medium) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.dirty.Empty()
}

// Commit erases and rewrites every sector with changed bytes. A failure
// leaves the shadow and its dirty ranges in place.
func (m *Medium) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirty.Empty() {
		return nil
	}
	ss := m.dev.SectorSize()
	for _, idx := range m.dirty.Sectors() {
		sector := m.first + uint16(idx)
		if err := m.dev.EraseSector(sector); err != nil {
			m.logger.Warn("eeprom erase failed", "sector", sector, "error", err)
			return types.Errorf(types.ErrKindWrite, err, "eeprom: erase sector 0x%x", sector)
		}
		data := m.shadow[idx*ss : (idx+1)*ss]
		if n := programLength(data); n > 0 {
			if err := m.dev.Write(flash.SectorAddr(m.dev, sector), data[:n]); err != nil {
				m.logger.Warn("eeprom write failed", "sector", sector, "error", err)
				return types.Errorf(types.ErrKindWrite, err, "eeprom: write sector 0x%x", sector)
			}
		}
		m.logger.Debug("eeprom sector committed", "sector", sector)
	}
	m.dirty.Reset()
	return nil
}

// programLength trims trailing erased bytes, which an erase already set.
func programLength(data []byte) int {
	n := len(data)
	for n > 0 && data[n-1] == 0xff {
		n--
	}
	return n
}

// Discard drops the shadow. The next access reloads it from flash.
func (m *Medium) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadow = nil
	m.dirty.Reset()
}

// Snapshot returns a copy of the committed region as stored on flash.
func (m *Medium) Snapshot() ([]byte, error) {
	out := make([]byte, m.size)
	if err := m.dev.Read(flash.SectorAddr(m.dev, m.first), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Equal reports whether the shadow matches flash.
func (m *Medium) Equal() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shadow == nil {
		return true, nil
	}
	stored := make([]byte, len(m.shadow))
	if err := m.dev.Read(flash.SectorAddr(m.dev, m.first), stored); err != nil {
		return false, err
	}
	return bytes.Equal(stored, m.shadow), nil
}
