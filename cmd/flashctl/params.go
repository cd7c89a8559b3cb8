package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/flashkit/config"
	"github.com/joshuapare/flashkit/pkg/types"
)

var (
	dumpDirty    bool
	setType      string
	exportFormat string
	importOnly   []string
	importDryRun bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and edit the configuration blob",
	}

	dump := newConfigDumpCmd()
	dump.Flags().BoolVar(&dumpDirty, "dirty", false, "Only list modified parameters")

	set := newConfigSetCmd()
	set.Flags().StringVarP(&setType, "type", "t", "", "Parameter type (STRING, BINARY, BYTE, WORD, DWORD, QWORD, FLOAT, DOUBLE); default keeps the stored type")

	export := newConfigExportCmd()
	export.Flags().StringVarP(&exportFormat, "format", "f", "yaml", "Output format: json or yaml")

	imp := newConfigImportCmd()
	imp.Flags().StringVarP(&exportFormat, "format", "f", "yaml", "Input format: json or yaml")
	imp.Flags().StringSliceVar(&importOnly, "only", nil, "Import only these parameters (names or 0x handles)")
	imp.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse and apply without writing")

	cmd.AddCommand(dump, newConfigGetCmd(), set, export, imp)
	rootCmd.AddCommand(cmd)
}

// withStore opens the image and the store, runs fn and closes both.
func withStore(fn func(*config.Store) error) error {
	img, err := openImage()
	if err != nil {
		return err
	}
	defer img.Close()

	s, release, err := readStore(img)
	if err != nil {
		return err
	}
	defer release()
	return fn(s)
}

func newConfigDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print every parameter with its type, offset and value",
		Long: `Dump prints the parameter table in storage order.

Example:
  flashctl config dump
  flashctl config dump --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(runConfigDump)
		},
	}
}

func runConfigDump(s *config.Store) error {
	if jsonOut {
		return printJSON(s.Parameters())
	}
	return s.Dump(stdout, dumpDirty)
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name|0xhandle>",
		Short: "Print one parameter",
		Long: `Get prints the value of a parameter given by name or handle.

Example:
  flashctl config get device_name
  flashctl config get 0x1234 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			return withStore(func(s *config.Store) error {
				return runConfigGet(s, h)
			})
		},
	}
}

func runConfigGet(s *config.Store, h types.Handle) error {
	e, ok := s.Value(h)
	if !ok {
		return fmt.Errorf("parameter %s not found", h)
	}
	if jsonOut {
		return printJSON(e)
	}
	switch v := e.Value.(type) {
	case []string:
		printInfo("%s\n", strings.Join(v, ", "))
	default:
		printInfo("%v\n", v)
	}
	printVerbose("handle %s, type %s\n", e.Handle, e.Type)
	return nil
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name|0xhandle> <value>",
		Short: "Set one parameter and write the blob",
		Long: `Set stores a value and writes the configuration if it changed.
Integers accept a 0x prefix; BINARY values are hex.

Example:
  flashctl config set device_name kitchen --type STRING
  flashctl config set mqtt_port 1883 --type WORD
  flashctl config set 0x1234 0x20`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			return withStore(func(s *config.Store) error {
				return runConfigSet(s, h, args[1])
			})
		},
	}
}

func runConfigSet(s *config.Store, h types.Handle, value string) error {
	typ, ok := s.TypeOf(h)
	if setType != "" {
		typ, ok = types.ParseParamType(strings.ToUpper(setType))
		if !ok {
			return fmt.Errorf("unknown type %q", setType)
		}
	} else if !ok {
		return fmt.Errorf("parameter %s does not exist, --type is required", h)
	}
	if err := s.SetValue(h, typ, value); err != nil {
		return err
	}
	dirty := s.IsDirty()
	if err := s.Write(); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	if !dirty {
		printInfo("%s unchanged\n", h)
		return nil
	}
	printInfo("Set %s (%s) = %s\n", h, typ, value)
	return nil
}

func newConfigExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export all parameters as JSON or YAML",
		Long: `Export writes every parameter to a file, or to stdout.

Example:
  flashctl config export backup.yaml
  flashctl config export --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *config.Store) error {
				return runConfigExport(s, args)
			})
		},
	}
}

func runConfigExport(s *config.Store, args []string) error {
	f, err := config.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return s.Export(stdout, f)
	}
	out, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := s.Export(out, f); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	printVerbose("Exported %d parameters to %s\n", s.Len(), args[0])
	return nil
}

func newConfigImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import parameters from JSON or YAML and write the blob",
		Long: `Import sets every parameter of an exported document. Parameters
not in the document are kept.

Example:
  flashctl config import backup.yaml
  flashctl config import backup.json --format json --only device_name,mqtt_port`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *config.Store) error {
				return runConfigImport(s, args[0])
			})
		},
	}
}

func runConfigImport(s *config.Store, path string) error {
	f, err := config.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	var allowed []types.Handle
	for _, arg := range importOnly {
		h, err := parseHandle(arg)
		if err != nil {
			return err
		}
		allowed = append(allowed, h)
	}

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	n, err := s.Import(in, f, allowed)
	if err != nil {
		return err
	}
	if importDryRun {
		printInfo("Parsed %d parameters, dirty=%t (dry run)\n", n, s.IsDirty())
		return nil
	}
	if err := s.Write(); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	printInfo("Imported %d parameters from %s\n", n, path)
	return nil
}
