package flash

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashkit/internal/metrics"
)

func newDevice(t *testing.T) *MemDevice {
	t.Helper()
	dev, err := NewMemDevice(DefaultSectorSize, 4)
	require.NoError(t, err)
	return dev
}

func TestMemDevice_Geometry(t *testing.T) {
	dev := newDevice(t)
	require.Equal(t, DefaultSectorSize, dev.SectorSize())
	require.Equal(t, 4, dev.SectorCount())
	require.Equal(t, 4*DefaultSectorSize, Size(dev))
	require.Equal(t, uint32(2*DefaultSectorSize), SectorAddr(dev, 2))
	require.Equal(t, uint16(1), SectorOf(dev, DefaultSectorSize+10))

	_, err := NewMemDevice(1000, 4)
	require.ErrorIs(t, err, ErrGeometry)
	_, err = NewMemDeviceFrom(make([]byte, 100), 64)
	require.ErrorIs(t, err, ErrGeometry)
}

func TestMemDevice_StartsErased(t *testing.T) {
	dev := newDevice(t)
	got := make([]byte, 32)
	require.NoError(t, dev.Read(100, got))
	require.Equal(t, bytes.Repeat([]byte{0xff}, 32), got)
}

func TestMemDevice_WriteOnlyClearsBits(t *testing.T) {
	dev := newDevice(t)

	require.NoError(t, dev.Write(0, []byte{0xf0, 0x0f}))
	// clearing more bits is fine
	require.NoError(t, dev.Write(0, []byte{0x30, 0x0f}))
	// setting a cleared bit is not
	err := dev.Write(0, []byte{0xff})
	require.ErrorIs(t, err, ErrNotErased)

	got := make([]byte, 2)
	require.NoError(t, dev.Read(0, got))
	require.Equal(t, []byte{0x30, 0x0f}, got)

	require.NoError(t, dev.EraseSector(0))
	require.NoError(t, dev.Write(0, []byte{0xff, 0xaa}))
	require.NoError(t, dev.Read(0, got))
	require.Equal(t, []byte{0xff, 0xaa}, got)
	require.Equal(t, 1, dev.EraseCount(0))
}

func TestMemDevice_OutOfRange(t *testing.T) {
	dev := newDevice(t)
	require.ErrorIs(t, dev.Read(uint32(Size(dev))-1, make([]byte, 2)), ErrOutOfRange)
	require.ErrorIs(t, dev.Write(uint32(Size(dev)), []byte{0}), ErrOutOfRange)
	require.ErrorIs(t, dev.EraseSector(4), ErrOutOfRange)
}

func TestMemDevice_FailAfter(t *testing.T) {
	dev := newDevice(t)
	dev.FailAfter(OpWrite, 1)

	require.NoError(t, dev.Write(0, []byte{1}))
	require.ErrorIs(t, dev.Write(1, []byte{1}), ErrInjected)
	require.NoError(t, dev.Write(2, []byte{1}), "fault is one-shot")
}

func TestMemDevice_FailSector(t *testing.T) {
	dev := newDevice(t)
	dev.FailSector(OpErase, 2)

	require.NoError(t, dev.EraseSector(1))
	require.ErrorIs(t, dev.EraseSector(2), ErrInjected)
	require.ErrorIs(t, dev.EraseSector(2), ErrInjected)

	dev.ClearFaults()
	require.NoError(t, dev.EraseSector(2))
}

func TestMemDevice_TornWrite(t *testing.T) {
	dev := newDevice(t)
	dev.TearNextWrite(2)

	err := dev.Write(0, []byte{0, 0, 0, 0})
	require.ErrorIs(t, err, ErrInjected)
	require.Equal(t, []byte{0, 0, 0xff, 0xff}, dev.Bytes()[:4])
}

func TestFileDevice_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	require.NoError(t, CreateImage(path, DefaultSectorSize, 2))

	dev, err := OpenFile(path, DefaultSectorSize)
	require.NoError(t, err)
	require.Equal(t, 2, dev.SectorCount())
	require.Equal(t, path, dev.Path())
	require.NoError(t, dev.Write(DefaultSectorSize, []byte("sector one")))
	require.NoError(t, dev.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("sector one"), raw[DefaultSectorSize:DefaultSectorSize+10])
	require.Equal(t, byte(0xff), raw[0])
}

func TestFileDevice_RejectsBadSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 1000), 0o644))

	_, err := OpenFile(path, DefaultSectorSize)
	require.ErrorIs(t, err, ErrGeometry)
}

func TestInstrument(t *testing.T) {
	m := metrics.NewFlash(prometheus.NewRegistry())
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	dev := Instrument(newDevice(t), m, logger)

	require.NoError(t, dev.EraseSector(1))
	require.NoError(t, dev.Write(SectorAddr(dev, 1), make([]byte, 16)))
	require.NoError(t, dev.Read(0, make([]byte, 8)))
	require.Error(t, dev.Write(SectorAddr(dev, 1), []byte{0xff}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SectorErasesTotal.WithLabelValues("0x1")))
	assert.Equal(t, 16.0, testutil.ToFloat64(m.BytesTotal.WithLabelValues("write")))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.BytesTotal.WithLabelValues("read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpsTotal.WithLabelValues("write", "error")))
	assert.Contains(t, logs.String(), "flash erase")
}
