package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/joshuapare/flashkit/flash"
)

const (
	configFileName = "flashctl"
	configFileType = "yaml"

	cfgKeyImage            = "image"
	cfgKeySectorSize       = "sector_size"
	cfgKeySectors          = "sectors"
	cfgKeyConfigOffset     = "config.offset"
	cfgKeyConfigSize       = "config.size"
	cfgKeyConfigSector     = "config.first_sector"
	cfgKeyConfigVersion    = "config.version"
	cfgKeyConfigHeapLimit  = "config.heap_limit"
	cfgKeyCrashFirstSector = "crash.first_sector"
	cfgKeyCrashLastSector  = "crash.last_sector"
	cfgKeyNVSDir           = "nvs.dir"
)

// settings is the resolved layout of a flash image.
type settings struct {
	Image      string
	SectorSize int
	Sectors    int

	ConfigOffset  int
	ConfigSize    int
	ConfigSector  uint16
	ConfigVersion uint32 // zero disables the version stamp
	HeapLimit     int    // bytes the store may allocate for values; zero is unlimited

	CrashFirst uint16
	CrashLast  uint16

	// NVSDir stores the configuration blob in a badger database instead of
	// the image.
	NVSDir string
}

// defaults describe a 1 MiB image: crash log in sectors 0xf0-0xf3 and the
// configuration in sector 0xfb.
func setDefaults(v *viper.Viper) {
	v.SetDefault(cfgKeyImage, "flash.bin")
	v.SetDefault(cfgKeySectorSize, flash.DefaultSectorSize)
	v.SetDefault(cfgKeySectors, 256)
	v.SetDefault(cfgKeyConfigOffset, 0)
	v.SetDefault(cfgKeyConfigSize, flash.DefaultSectorSize)
	v.SetDefault(cfgKeyConfigSector, 0xfb)
	v.SetDefault(cfgKeyConfigVersion, 0)
	v.SetDefault(cfgKeyConfigHeapLimit, 16384)
	v.SetDefault(cfgKeyCrashFirstSector, 0xf0)
	v.SetDefault(cfgKeyCrashLastSector, 0xf3)
	v.SetDefault(cfgKeyNVSDir, "")
}

// loadConfig reads flashctl.yaml from path, or from the working directory
// and the user config directory when path is empty. A missing file is not
// an error. FLASHCTL_* environment variables override file values.
func loadConfig(path string) (settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FLASHCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "flashctl"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	s := settings{
		Image:         v.GetString(cfgKeyImage),
		SectorSize:    v.GetInt(cfgKeySectorSize),
		Sectors:       v.GetInt(cfgKeySectors),
		ConfigOffset:  v.GetInt(cfgKeyConfigOffset),
		ConfigSize:    v.GetInt(cfgKeyConfigSize),
		ConfigSector:  uint16(v.GetUint(cfgKeyConfigSector)),
		ConfigVersion: v.GetUint32(cfgKeyConfigVersion),
		HeapLimit:     v.GetInt(cfgKeyConfigHeapLimit),
		CrashFirst:    uint16(v.GetUint(cfgKeyCrashFirstSector)),
		CrashLast:     uint16(v.GetUint(cfgKeyCrashLastSector)),
		NVSDir:        v.GetString(cfgKeyNVSDir),
	}
	return s, s.validate()
}

func (s settings) validate() error {
	switch {
	case s.SectorSize <= 0 || s.Sectors <= 0:
		return fmt.Errorf("invalid geometry %d x %d", s.Sectors, s.SectorSize)
	case s.ConfigOffset < 0 || s.ConfigSize <= 0:
		return fmt.Errorf("invalid config region %d+%d", s.ConfigOffset, s.ConfigSize)
	case s.HeapLimit < 0:
		return fmt.Errorf("invalid heap limit %d", s.HeapLimit)
	case s.CrashFirst > s.CrashLast || int(s.CrashLast) >= s.Sectors:
		return fmt.Errorf("invalid crash range 0x%x-0x%x", s.CrashFirst, s.CrashLast)
	}
	configEnd := int(s.ConfigSector)*s.SectorSize + s.ConfigOffset + s.ConfigSize
	if s.NVSDir == "" && configEnd > s.SectorSize*s.Sectors {
		return fmt.Errorf("config region ends at 0x%x past the image", configEnd)
	}
	return nil
}

// mediumSize is the byte size of the medium holding the config blob.
func (s settings) mediumSize() int {
	return s.ConfigOffset + s.ConfigSize
}
