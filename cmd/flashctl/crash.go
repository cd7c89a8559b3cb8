package main

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/flashkit/config/alloc"
	"github.com/joshuapare/flashkit/flash/crashlog"
	"github.com/joshuapare/flashkit/pkg/types"
)

var (
	clearMode     string
	pruneKeep     string
	simReason     uint32
	simStackSize  uint32
	simVersion    string
	simMD5        string
	simFailedSize uint32
)

func init() {
	cmd := &cobra.Command{
		Use:   "crash",
		Short: "List, print and manage stored crash records",
	}

	clr := newCrashClearCmd()
	clr.Flags().StringVar(&clearMode, "mode", "erase", "How to clear: erase or remove-magic")

	prune := newCrashPruneCmd()
	prune.Flags().StringVar(&pruneKeep, "keep-version", "", "Keep only records of this firmware version (major.minor.revision.bBuild)")

	sim := newCrashSimulateCmd()
	sim.Flags().Uint32Var(&simReason, "reason", crashlog.ReasonException, "Reset reason")
	sim.Flags().Uint32Var(&simStackSize, "stack-size", 256, "Stack bytes to store")
	sim.Flags().StringVar(&simVersion, "version", "1.0.0.b1", "Firmware version")
	sim.Flags().StringVar(&simMD5, "md5", "", "Firmware MD5 (32 hex characters)")
	sim.Flags().Uint32Var(&simFailedSize, "failed-alloc", 0, "Request this many bytes from the configuration allocator first; a refused request is recorded")

	cmd.AddCommand(newCrashListCmd(), newCrashShowCmd(), newCrashInfoCmd(), clr, prune, sim)
	rootCmd.AddCommand(cmd)
}

// withCrashLog opens the image and the crash log, runs fn and closes the image.
func withCrashLog(fn func(*crashlog.Log) error) error {
	img, err := openImage()
	if err != nil {
		return err
	}
	defer img.Close()

	l, err := openCrashLog(img)
	if err != nil {
		return err
	}
	return fn(l)
}

type crashEntry struct {
	Index     int    `json:"index"`
	Sector    uint16 `json:"sector"`
	Offset    int    `json:"offset"`
	Time      string `json:"time"`
	Reason    string `json:"reason"`
	Version   string `json:"version"`
	MD5       string `json:"md5"`
	StackSize int    `json:"stack_size"`
}

func newCrashListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored crash records",
		Long: `List prints one line per stored record in sector order.

Example:
  flashctl crash list
  flashctl crash list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCrashLog(runCrashList)
		},
	}
}

func runCrashList(l *crashlog.Log) error {
	entries := l.Collect()
	if jsonOut {
		out := make([]crashEntry, 0, len(entries))
		for i, e := range entries {
			out = append(out, crashEntry{
				Index:     i,
				Sector:    e.Sector,
				Offset:    e.Offset,
				Time:      e.Timestamp().Format(time.RFC3339),
				Reason:    e.Reason(),
				Version:   e.Version.String(),
				MD5:       e.MD5String(),
				StackSize: e.StackSize(),
			})
		}
		return printJSON(out)
	}
	if len(entries) == 0 {
		printInfo("No crash records\n")
		return nil
	}
	for i, e := range entries {
		printInfo("%3d  %s  sector=0x%04x offset=%-5d %s\n", i, e.Timestamp().Format(time.DateTime), e.Sector, e.Offset, e.Summary())
	}
	return nil
}

func newCrashShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <index>",
		Short: "Print a record for the exception decoder",
		Long: `Show prints the record and its stack between cut markers so it
can be pasted into an ESP exception decoder.

Example:
  flashctl crash show 0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[0])
			}
			return withCrashLog(func(l *crashlog.Log) error {
				return runCrashShow(l, index)
			})
		},
	}
}

func runCrashShow(l *crashlog.Log, index int) error {
	entries := l.Collect()
	if index < 0 || index >= len(entries) {
		return fmt.Errorf("no record %d (%d stored)", index, len(entries))
	}
	return l.Print(stdout, entries[index])
}

func newCrashInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show crash log usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCrashLog(runCrashInfo)
		},
	}
}

func runCrashInfo(l *crashlog.Log) error {
	info := l.Info()
	if jsonOut {
		return printJSON(info)
	}
	fs := l.Storage()
	printInfo("\nCrash Log:\n")
	printInfo("  Sectors: 0x%04x-0x%04x (%d used of %d)\n", fs.Begin(), fs.End(), info.SectorsUsed, info.SectorsTotal)
	printInfo("  Records: %d\n", info.Counter)
	printInfo("  Size: %d bytes\n", info.Size)
	printInfo("  Free: %d bytes, largest block %d\n", info.Space, info.LargestBlock)
	printInfo("  Capacity: %d bytes\n", info.Capacity)
	return nil
}

func newCrashClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every crash record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCrashLog(runCrashClear)
		},
	}
}

func runCrashClear(l *crashlog.Log) error {
	var kind crashlog.ClearType
	switch clearMode {
	case crashlog.ClearErase.String():
		kind = crashlog.ClearErase
	case crashlog.ClearRemoveMagic.String():
		kind = crashlog.ClearRemoveMagic
	default:
		return fmt.Errorf("unknown clear mode %q", clearMode)
	}
	if err := l.Clear(kind); err != nil {
		return fmt.Errorf("failed to clear crash log: %w", err)
	}
	printInfo("Crash log cleared (%s)\n", kind)
	return nil
}

func newCrashPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove records of other firmware versions",
		Long: `Prune rewrites the crash log keeping only the records written by
one firmware version.

Example:
  flashctl crash prune --keep-version 1.2.3.b45`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pruneKeep == "" {
				return fmt.Errorf("--keep-version is required")
			}
			v, err := parseVersion(pruneKeep)
			if err != nil {
				return err
			}
			return withCrashLog(func(l *crashlog.Log) error {
				return runCrashPrune(l, v)
			})
		},
	}
}

func runCrashPrune(l *crashlog.Log, keep types.FirmwareVersion) error {
	n, err := l.RemoveVersionsExcept(keep)
	if err != nil {
		return fmt.Errorf("failed to prune crash log after %d records: %w", n, err)
	}
	printInfo("Removed %d records\n", n)
	return nil
}

func newCrashSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Store a synthetic crash record",
		Long: `Simulate appends a record with a generated stack, the way the
firmware does on a crash. Useful for testing decoders and capacity.

Example:
  flashctl crash simulate --reason 2 --stack-size 512`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVersion(simVersion)
			if err != nil {
				return err
			}
			img, err := openImage()
			if err != nil {
				return err
			}
			defer img.Close()

			l, err := openCrashLog(img)
			if err != nil {
				return err
			}
			s, release, err := readStore(img)
			if err != nil {
				return err
			}
			defer release()
			return runCrashSimulate(l, s.Allocator(), v)
		},
	}
}

// Stack layout of a simulated crash, matching the ESP8266 system stack.
const (
	simStackEnd = 0x3fffffb0
	simSP       = 0x3ffffe00
	simCaller   = 0x40212345
)

func runCrashSimulate(l *crashlog.Log, a *alloc.Allocator, version types.FirmwareVersion) error {
	reset := crashlog.ResetInfo{Reason: simReason}
	if simReason == crashlog.ReasonException {
		reset.ExcCause = 28
		reset.EPC1 = 0x40201234
		reset.ExcVAddr = 0x00000004
	}
	begin := uint32(simStackEnd) - simStackSize
	rec := crashlog.NewRecord(time.Now(), begin, simStackEnd, simSP, reset)
	rec.Version = version
	if simMD5 != "" && !rec.SetMD5(simMD5) {
		return fmt.Errorf("invalid md5 %q", simMD5)
	}
	if simFailedSize > 0 {
		if b, _, err := a.Allocate(int(simFailedSize), 0); err == nil {
			a.Free(b)
			printVerbose("Allocation of %d bytes succeeded\n", simFailedSize)
		}
	}
	rec.SetFailedAlloc(a, simCaller)

	stack := make([]byte, rec.StackSize())
	for i := range stack {
		stack[i] = byte(rand.IntN(256))
	}
	if err := l.Append(rec, stack); err != nil {
		return fmt.Errorf("failed to store crash record: %w", err)
	}
	printInfo("Stored %s\n", rec.Summary())
	return nil
}

// parseVersion reads major.minor.revision[.bBuild].
func parseVersion(s string) (types.FirmwareVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 3 || len(parts) > 4 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	var nums [4]uint32
	for i, p := range parts {
		if i == 3 {
			p = strings.TrimPrefix(p, "b")
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid version %q", s)
		}
		nums[i] = uint32(n)
	}
	return types.NewFirmwareVersion(nums[0], nums[1], nums[2], nums[3]), nil
}
