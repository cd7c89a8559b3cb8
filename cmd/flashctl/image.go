package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/flashkit/flash"
	"github.com/joshuapare/flashkit/internal/archive"
)

var (
	imageForce    bool
	imageCompress string
)

func init() {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Create, export and import flash images",
	}
	create := newImageCreateCmd()
	create.Flags().BoolVar(&imageForce, "force", false, "Overwrite an existing image")
	export := newImageExportCmd()
	export.Flags().StringVar(&imageCompress, "compress", "zstd", "Compression: none, s2, zstd or lz4")
	imp := newImageImportCmd()
	imp.Flags().BoolVar(&imageForce, "force", false, "Overwrite an existing image")
	cmd.AddCommand(create, export, imp)
	rootCmd.AddCommand(cmd)
}

func newImageCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create an erased image",
		Long: `Create writes an image of sectors x sector_size bytes, every byte 0xff.

Example:
  flashctl image create --image flash.bin
  flashctl image create --image flash.bin --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImageCreate()
		},
	}
}

func runImageCreate() error {
	if !imageForce {
		if _, err := os.Stat(cfg.Image); err == nil {
			return fmt.Errorf("image %s exists (use --force to overwrite)", cfg.Image)
		}
	}
	if err := flash.CreateImage(cfg.Image, cfg.SectorSize, cfg.Sectors); err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	printInfo("Created %s: %d sectors of %d bytes\n", cfg.Image, cfg.Sectors, cfg.SectorSize)
	return nil
}

func newImageExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <archive>",
		Short: "Write the image to a compressed archive",
		Long: `Export packs the whole image into an archive with a size and
checksum header.

Example:
  flashctl image export dump.fka
  flashctl image export dump.fka --compress lz4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImageExport(args[0])
		},
	}
}

func runImageExport(out string) error {
	codec, err := archive.ParseCodec(imageCompress)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(cfg.Image)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	packed, err := archive.Pack(codec, data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, packed, 0o644); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	if jsonOut {
		return printJSON(map[string]any{
			"archive":    out,
			"codec":      codec.String(),
			"size":       len(data),
			"compressed": len(packed),
		})
	}
	printInfo("Exported %s to %s (%s, %d -> %d bytes)\n", cfg.Image, out, codec, len(data), len(packed))
	return nil
}

func newImageImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <archive>",
		Short: "Restore the image from an archive or raw dump",
		Long: `Import writes an archive created by 'image export', or a raw
image dump, to --image.

Example:
  flashctl image import dump.fka --image restored.bin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImageImport(args[0])
		},
	}
}

func runImageImport(in string) error {
	raw, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	data, codec := raw, archive.None
	if archive.IsArchive(raw) {
		data, codec, err = archive.Unpack(raw)
		if err != nil {
			return err
		}
	} else {
		printVerbose("%s is not an archive, importing raw bytes\n", in)
	}
	if len(data) == 0 || len(data)%cfg.SectorSize != 0 {
		return fmt.Errorf("image of %d bytes is not a multiple of sector size %d", len(data), cfg.SectorSize)
	}
	if !imageForce {
		if _, err := os.Stat(cfg.Image); err == nil {
			return fmt.Errorf("image %s exists (use --force to overwrite)", cfg.Image)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.WriteFile(cfg.Image, data, 0o644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	printInfo("Imported %s into %s (%s, %d sectors)\n", in, cfg.Image, codec, len(data)/cfg.SectorSize)
	return nil
}
