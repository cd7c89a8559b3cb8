package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joshuapare/flashkit/config"
	"github.com/joshuapare/flashkit/config/alloc"
	"github.com/joshuapare/flashkit/config/handle"
	"github.com/joshuapare/flashkit/flash"
	"github.com/joshuapare/flashkit/flash/crashlog"
	"github.com/joshuapare/flashkit/flash/sectorlog"
	"github.com/joshuapare/flashkit/medium"
	"github.com/joshuapare/flashkit/medium/eeprom"
	"github.com/joshuapare/flashkit/medium/nvs"
	"github.com/joshuapare/flashkit/pkg/types"
)

// names resolves handles given by name on the command line.
var names = handle.NewRegistry()

func init() {
	names.MustRegister(config.VersionName)
}

// image is an opened flash image. Close syncs it back to the file.
type image struct {
	file *flash.FileDevice
	dev  flash.Device
}

func openImage() (*image, error) {
	if _, err := os.Stat(cfg.Image); err != nil {
		return nil, fmt.Errorf("image %s: %w (create one with 'flashctl image create')", cfg.Image, err)
	}
	f, err := flash.OpenFile(cfg.Image, cfg.SectorSize)
	if err != nil {
		return nil, err
	}
	if f.SectorCount() != cfg.Sectors {
		printVerbose("Image has %d sectors, config says %d\n", f.SectorCount(), cfg.Sectors)
	}
	printVerbose("Opened image: %s (%d x %d bytes)\n", cfg.Image, f.SectorCount(), f.SectorSize())
	return &image{file: f, dev: flash.Instrument(f, nil, logger())}, nil
}

func (img *image) Close() error {
	return img.file.Close()
}

// openStore returns the configuration store of img and a function that
// releases its medium.
func openStore(img *image) (*config.Store, func() error, error) {
	var (
		m       medium.Medium
		release = func() error { return nil }
	)
	if cfg.NVSDir != "" {
		n, err := nvs.Open(nvs.Config{Dir: cfg.NVSDir, Size: cfg.mediumSize(), Logger: logger()})
		if err != nil {
			return nil, nil, err
		}
		m, release = n, n.Close
		printVerbose("Configuration in badger database: %s\n", cfg.NVSDir)
	} else {
		e, err := eeprom.New(img.dev, cfg.ConfigSector, cfg.mediumSize(), &eeprom.Options{Logger: logger()})
		if err != nil {
			return nil, nil, err
		}
		m = e
	}

	opts := []config.Option{
		config.WithOffset(cfg.ConfigOffset),
		config.WithSize(cfg.ConfigSize),
		config.WithLogger(logger()),
		config.WithRegistry(names),
		config.WithAllocator(alloc.New(cfg.HeapLimit)),
	}
	if cfg.ConfigVersion != 0 {
		opts = append(opts, config.WithVersion(cfg.ConfigVersion))
	}
	s, err := config.New(m, opts...)
	if err != nil {
		_ = release()
		return nil, nil, err
	}
	return s, release, nil
}

// readStore opens the store and loads it. An unreadable blob is reported
// in verbose mode and yields an empty table.
func readStore(img *image) (*config.Store, func() error, error) {
	s, release, err := openStore(img)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Read(); err != nil {
		if !types.IsKind(err, types.ErrKindRead) {
			_ = release()
			return nil, nil, err
		}
		printVerbose("No valid configuration: %v\n", err)
	}
	return s, release, nil
}

func openCrashLog(img *image) (*crashlog.Log, error) {
	fs, err := sectorlog.New(img.dev, cfg.CrashFirst, cfg.CrashLast, &sectorlog.Options{Logger: logger()})
	if err != nil {
		return nil, err
	}
	return crashlog.New(fs, &crashlog.Options{Diag: os.Stderr, Logger: logger()}), nil
}

// parseHandle accepts a hex handle with 0x prefix or a parameter name.
func parseHandle(arg string) (types.Handle, error) {
	if strings.HasPrefix(arg, "0x") || strings.HasPrefix(arg, "0X") {
		v, err := strconv.ParseUint(arg[2:], 16, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid handle %q", arg)
		}
		return types.Handle(v), nil
	}
	if arg == "" {
		return 0, errors.New("empty parameter name")
	}
	h, err := names.Register(arg)
	if err != nil {
		return 0, err
	}
	return h, nil
}
