package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashkit/flash/crashlog"
	"github.com/joshuapare/flashkit/pkg/types"
)

const testLayout = `sector_size: 512
sectors: 16
config:
  first_sector: 14
  size: 512
  heap_limit: 1024
crash:
  first_sector: 8
  last_sector: 11
`

// workspace writes a layout file and returns its path and a directory for
// images.
func workspace(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "flashctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testLayout), 0o644))
	return path, dir
}

// resetFlags restores flag variables between invocations; cobra keeps
// values parsed by earlier runs.
func resetFlags() {
	configFile, imagePath = "", ""
	verbose, quiet, jsonOut = false, false, false
	imageForce, imageCompress = false, "zstd"
	dumpDirty, setType, exportFormat, importDryRun = false, "", "yaml", false
	importOnly = nil
	clearMode, pruneKeep = "erase", ""
	simReason, simStackSize, simVersion, simMD5, simFailedSize = crashlog.ReasonException, 256, "1.0.0.b1", "", 0
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "flashctl %v", args)
	return out
}

func TestImageCreate(t *testing.T) {
	conf, dir := workspace(t)
	img := filepath.Join(dir, "flash.bin")

	out := mustRun(t, "--config", conf, "--image", img, "image", "create")
	assert.Contains(t, out, "16 sectors of 512 bytes")
	data, err := os.ReadFile(img)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 16*512), data)

	_, err = run(t, "--config", conf, "--image", img, "image", "create")
	require.Error(t, err)
	mustRun(t, "--config", conf, "--image", img, "image", "create", "--force")
}

func TestConfigSetGet(t *testing.T) {
	conf, dir := workspace(t)
	img := filepath.Join(dir, "flash.bin")
	base := []string{"--config", conf, "--image", img}
	mustRun(t, append(base, "image", "create")...)

	_, err := run(t, append(base, "config", "set", "device_name", "kitchen")...)
	require.Error(t, err, "new parameters need --type")

	mustRun(t, append(base, "config", "set", "device_name", "kitchen", "--type", "STRING")...)
	mustRun(t, append(base, "config", "set", "mqtt_port", "0x75b", "--type", "word")...)

	assert.Equal(t, "kitchen\n", mustRun(t, append(base, "config", "get", "device_name")...))
	assert.Equal(t, "1883\n", mustRun(t, append(base, "config", "get", "mqtt_port")...))

	out := mustRun(t, append(base, "config", "set", "mqtt_port", "1883")...)
	assert.Contains(t, out, "unchanged")

	out = mustRun(t, append(base, "--json", "config", "get", "device_name")...)
	var e map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &e))
	assert.Equal(t, "STRING", e["type"])
	assert.Equal(t, "device_name", e["name"])

	out = mustRun(t, append(base, "config", "dump")...)
	assert.Contains(t, out, "(device_name): type STRING")
	assert.Contains(t, out, "'kitchen'")

	_, err = run(t, append(base, "config", "get", "missing")...)
	require.Error(t, err)
}

func TestConfigExportImport(t *testing.T) {
	conf, dir := workspace(t)
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	doc := filepath.Join(dir, "backup.yaml")

	mustRun(t, "--config", conf, "--image", src, "image", "create")
	mustRun(t, "--config", conf, "--image", src, "config", "set", "device_name", "hall", "--type", "STRING")
	mustRun(t, "--config", conf, "--image", src, "config", "set", "ratio", "0.25", "--type", "FLOAT")
	mustRun(t, "--config", conf, "--image", src, "config", "export", doc)

	mustRun(t, "--config", conf, "--image", dst, "image", "create")
	out := mustRun(t, "--config", conf, "--image", dst, "config", "import", doc)
	assert.Contains(t, out, "Imported 2 parameters")

	assert.Equal(t, "hall\n", mustRun(t, "--config", conf, "--image", dst, "config", "get", "device_name"))
	assert.Equal(t, "0.25\n", mustRun(t, "--config", conf, "--image", dst, "config", "get", "ratio"))
}

func TestCrashCommands(t *testing.T) {
	conf, dir := workspace(t)
	img := filepath.Join(dir, "flash.bin")
	base := []string{"--config", conf, "--image", img}
	mustRun(t, append(base, "image", "create")...)

	out := mustRun(t, append(base, "crash", "list")...)
	assert.Contains(t, out, "No crash records")

	mustRun(t, append(base, "crash", "simulate", "--stack-size", "128")...)
	mustRun(t, append(base, "crash", "simulate", "--stack-size", "128")...)
	mustRun(t, append(base, "crash", "simulate", "--stack-size", "128", "--version", "2.0.0.b1", "--failed-alloc", "2048")...)

	out = mustRun(t, append(base, "--json", "crash", "list")...)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "Exception", entries[0]["reason"])

	out = mustRun(t, append(base, "--json", "crash", "info")...)
	var info crashlog.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 3, info.Counter)
	assert.Equal(t, 3*496, info.Capacity)

	// the third record went to the sector freed by the second copy
	require.Equal(t, "2.0.0.b1", entries[0]["version"])
	out = mustRun(t, append(base, "crash", "show", "0")...)
	assert.Contains(t, out, ">>>stack>>>")
	assert.Contains(t, out, "Firmware 2.0.0.b1")
	assert.Contains(t, out, "last failed alloc call: 40212345(2048)")
	_, err := run(t, append(base, "crash", "show", "3")...)
	require.Error(t, err)

	out = mustRun(t, append(base, "sectors")...)
	assert.Contains(t, out, "finalized")
	assert.Contains(t, out, "erased")

	out = mustRun(t, append(base, "crash", "prune", "--keep-version", "2.0.0.b1")...)
	assert.Contains(t, out, "Removed 2 records")
	out = mustRun(t, append(base, "--json", "crash", "list")...)
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)

	mustRun(t, append(base, "crash", "clear", "--mode", "remove-magic")...)
	out = mustRun(t, append(base, "crash", "list")...)
	assert.Contains(t, out, "No crash records")

	_, err = run(t, append(base, "crash", "clear", "--mode", "shred")...)
	require.Error(t, err)
}

func TestImageExportImport(t *testing.T) {
	conf, dir := workspace(t)
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	archivePath := filepath.Join(dir, "dump.fka")

	mustRun(t, "--config", conf, "--image", src, "image", "create")
	mustRun(t, "--config", conf, "--image", src, "config", "set", "device_name", "porch", "--type", "STRING")
	mustRun(t, "--config", conf, "--image", src, "crash", "simulate", "--stack-size", "64")

	for _, codec := range []string{"none", "s2", "zstd", "lz4"} {
		t.Run(codec, func(t *testing.T) {
			mustRun(t, "--config", conf, "--image", src, "image", "export", archivePath, "--compress", codec)
			mustRun(t, "--config", conf, "--image", dst, "image", "import", archivePath, "--force")

			want, err := os.ReadFile(src)
			require.NoError(t, err)
			got, err := os.ReadFile(dst)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
	assert.Equal(t, "porch\n", mustRun(t, "--config", conf, "--image", dst, "config", "get", "device_name"))

	_, err := run(t, "--config", conf, "--image", dst, "image", "export", archivePath, "--compress", "brotli")
	require.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("1.2.3.b45")
	require.NoError(t, err)
	assert.Equal(t, types.NewFirmwareVersion(1, 2, 3, 45), v)

	v, err = parseVersion("0.9.1")
	require.NoError(t, err)
	assert.Equal(t, types.NewFirmwareVersion(0, 9, 1, 0), v)

	for _, bad := range []string{"", "1.2", "1.2.x", "1.2.3.4.5"} {
		_, err := parseVersion(bad)
		require.Error(t, err, bad)
	}
}

func TestParseHandle(t *testing.T) {
	h, err := parseHandle("0x1234")
	require.NoError(t, err)
	assert.Equal(t, types.Handle(0x1234), h)

	h, err = parseHandle("device_name")
	require.NoError(t, err)
	assert.Equal(t, "device_name", names.Name(h))

	_, err = parseHandle("0xzz")
	require.Error(t, err)
	_, err = parseHandle("")
	require.Error(t, err)
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 4096, s.SectorSize)
	assert.Equal(t, 256, s.Sectors)
	assert.Equal(t, uint16(0xf0), s.CrashFirst)
	assert.Equal(t, uint16(0xf3), s.CrashLast)
	assert.Equal(t, uint16(0xfb), s.ConfigSector)
	assert.Equal(t, 16384, s.HeapLimit)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sectors: 4\ncrash:\n  first_sector: 2\n  last_sector: 9\n"), 0o644))
	_, err := loadConfig(path)
	require.Error(t, err)
}
