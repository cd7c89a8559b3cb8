package flash

import (
	"log/slog"

	"github.com/joshuapare/flashkit/internal/metrics"
)

type instrumented struct {
	Device
	m      *metrics.Flash
	logger *slog.Logger
}

// Instrument wraps dev so every operation is counted in m and traced at
// debug level. Either m or logger may be nil.
func Instrument(dev Device, m *metrics.Flash, logger *slog.Logger) Device {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &instrumented{Device: dev, m: m, logger: logger}
}

func (d *instrumented) Read(addr uint32, dst []byte) error {
	err := d.Device.Read(addr, dst)
	d.m.Observe("read", len(dst), err)
	d.logger.Debug("flash read", "sector", SectorOf(d, addr), "addr", addr, "size", len(dst), "error", err)
	return err
}

func (d *instrumented) Write(addr uint32, src []byte) error {
	err := d.Device.Write(addr, src)
	d.m.Observe("write", len(src), err)
	d.logger.Debug("flash write", "sector", SectorOf(d, addr), "addr", addr, "size", len(src), "error", err)
	return err
}

func (d *instrumented) EraseSector(sector uint16) error {
	err := d.Device.EraseSector(sector)
	d.m.ObserveErase(sector, err)
	d.logger.Debug("flash erase", "sector", sector, "error", err)
	return err
}
