package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/flashkit/flash/crashlog"
)

func init() {
	rootCmd.AddCommand(newSectorsCmd())
}

func newSectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sectors",
		Short: "Show the header of every crash log sector",
		Long: `Sectors reads and verifies the header of every sector in the
crash log range.

Example:
  flashctl sectors
  flashctl sectors --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCrashLog(runSectors)
		},
	}
}

type sectorRow struct {
	Sector  uint16 `json:"sector"`
	State   string `json:"state"`
	Size    int    `json:"size,omitempty"`
	CRC     string `json:"crc,omitempty"`
	Version uint32 `json:"version,omitempty"`
}

func runSectors(l *crashlog.Log) error {
	infos := l.Storage().Inspect()
	rows := make([]sectorRow, 0, len(infos))
	for _, info := range infos {
		row := sectorRow{Sector: info.Sector, State: info.State.String()}
		if info.Header.HasMagic() && !info.Header.IsEmpty() {
			row.Size = info.Header.PayloadSize()
			row.CRC = fmt.Sprintf("0x%08x", info.Header.CRC)
			row.Version = info.Header.Version
		}
		rows = append(rows, row)
	}
	if jsonOut {
		return printJSON(rows)
	}

	printInfo("%-8s %-11s %6s %-10s %s\n", "SECTOR", "STATE", "SIZE", "CRC", "VERSION")
	for _, r := range rows {
		if r.CRC == "" {
			printInfo("0x%04x   %-11s\n", r.Sector, r.State)
			continue
		}
		printInfo("0x%04x   %-11s %6d %-10s %d\n", r.Sector, r.State, r.Size, r.CRC, r.Version)
	}
	return nil
}
