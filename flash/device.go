package flash

import (
	"errors"
	"fmt"

	"github.com/joshuapare/flashkit/internal/buf"
)

var (
	// ErrNotErased indicates a write tried to set a bit that was already cleared.
	ErrNotErased = errors.New("flash: write requires erase")
	// ErrOutOfRange indicates an address range outside the device.
	ErrOutOfRange = errors.New("flash: address out of range")
	// ErrGeometry indicates an invalid sector size or count.
	ErrGeometry = errors.New("flash: invalid geometry")
	// ErrInjected is returned by operations failed through fault injection.
	ErrInjected = errors.New("flash: injected fault")
)

// DefaultSectorSize is the erase block size of the SPI flash on the targets.
const DefaultSectorSize = 4096

// Device is raw erase-block flash.
type Device interface {
	// SectorSize is the erase block size in bytes.
	SectorSize() int
	// SectorCount is the number of erase blocks.
	SectorCount() int
	// Read copies len(dst) bytes starting at addr.
	Read(addr uint32, dst []byte) error
	// Write programs src at addr. Bits can only be cleared.
	Write(addr uint32, src []byte) error
	// EraseSector sets every byte of sector to 0xff.
	EraseSector(sector uint16) error
}

// SectorAddr returns the address of the first byte of sector.
func SectorAddr(dev Device, sector uint16) uint32 {
	return uint32(sector) * uint32(dev.SectorSize())
}

// SectorOf returns the sector containing addr.
func SectorOf(dev Device, addr uint32) uint16 {
	return uint16(addr / uint32(dev.SectorSize()))
}

// Size returns the capacity of dev in bytes.
func Size(dev Device) int {
	return dev.SectorSize() * dev.SectorCount()
}

func checkGeometry(sectorSize, sectors int) error {
	if sectorSize <= 0 || sectorSize&(sectorSize-1) != 0 {
		return fmt.Errorf("%w: sector size %d is not a power of two", ErrGeometry, sectorSize)
	}
	if sectors <= 0 || sectors > 1<<16 {
		return fmt.Errorf("%w: %d sectors", ErrGeometry, sectors)
	}
	return nil
}

func checkRange(dev Device, addr uint32, n int) (int, error) {
	end, err := buf.CheckRange(Size(dev), int(addr), n)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOutOfRange, err)
	}
	return end, nil
}
