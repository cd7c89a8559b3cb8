package flash

import (
	"bytes"
	"fmt"
	"os"

	"github.com/joshuapare/flashkit/internal/format"
	"github.com/joshuapare/flashkit/internal/mmfile"
)

// FileDevice is a Device backed by a memory-mapped image file.
type FileDevice struct {
	*MemDevice
	m    *mmfile.Mapping
	path string
}

// CreateImage writes an erased image of sectors x sectorSize bytes to path.
func CreateImage(path string, sectorSize, sectors int) error {
	if err := checkGeometry(sectorSize, sectors); err != nil {
		return err
	}
	erased := bytes.Repeat([]byte{format.ErasedByte}, sectorSize*sectors)
	return os.WriteFile(path, erased, 0o644)
}

// OpenFile maps the image at path. Its size must be a multiple of sectorSize.
func OpenFile(path string, sectorSize int) (*FileDevice, error) {
	m, err := mmfile.MapRW(path)
	if err != nil {
		return nil, fmt.Errorf("flash: open %s: %w", path, err)
	}
	mem, err := NewMemDeviceFrom(m.Data, sectorSize)
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("flash: open %s: %w", path, err)
	}
	return &FileDevice{MemDevice: mem, m: m, path: path}, nil
}

// Path returns the image file path.
func (d *FileDevice) Path() string { return d.path }

// Sync flushes modified sectors to the file.
func (d *FileDevice) Sync() error {
	return d.m.Sync()
}

// Close flushes and unmaps the image.
func (d *FileDevice) Close() error {
	return d.m.Close()
}
