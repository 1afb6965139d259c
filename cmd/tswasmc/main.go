// Command tswasmc is the command-line entry point for this lowering
// engine: it reads a resolved semantic-tree fixture, compiles it with
// package moduledriver, and writes the resulting WebAssembly binary.
//
// The urfave/cli root command wraps a single library call: load a
// resolved semantic tree, compile WebAssembly, write the bytes. Version
// information comes from the build info.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/urfave/cli/v3"

	"github.com/tswasm/lower/internal/logging"
	"github.com/tswasm/lower/moduledriver"
	"github.com/tswasm/lower/sem"
)

var (
	version  = ""
	revision = ""
)

func init() {
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = build.Main.Version
	for _, s := range build.Settings {
		if s.Key == "vcs.revision" {
			revision = s.Value
		}
	}
	if version == "" {
		version = revision
	}
	if version == "" {
		version = "(none)"
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "tswasmc",
		Usage: "lower a resolved semantic tree into a WebAssembly GC module",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Value:    "",
				OnlyOnce: true,
				Usage:    "output .wasm path, or stdout if unset",
			},
			&cli.StringFlag{
				Name:     "host-module",
				Value:    "dyntype",
				OnlyOnce: true,
				Usage:    "import-module name the dyntype_* host ABI is registered under",
			},
			&cli.StringFlag{
				Name:     "declared-import-module",
				Value:    "env",
				OnlyOnce: true,
				Usage:    "import-module name `declare function` wrappers are registered under",
			},
			&cli.StringFlag{
				Name:     "host-abi-version",
				Value:    "",
				OnlyOnce: true,
				Usage:    "dyntype host runtime version to gate compilation on, e.g. 1.2.0",
			},
			&cli.StringFlag{
				Name:     "validate",
				Value:    "",
				OnlyOnce: true,
				Usage:    "minimum proposal-set version to validate the compiled module against, e.g. v1.2.0",
			},
			&cli.StringFlag{
				Name:      "baseline",
				Value:     "",
				TakesFile: true,
				OnlyOnce:  true,
				Usage:     "last-known-good .wasm to diff a validation failure against",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log lowering progress to stderr",
			},
		},
		ArgsUsage: "[resolve.json]",
		Action:    action,
		Version:   version,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "tswasmc: %v\n", err)
		os.Exit(1)
	}
}

func action(ctx context.Context, cmd *cli.Command) error {
	resolve, err := loadResolve(cmd.Args().First())
	if err != nil {
		return fmt.Errorf("loading resolved tree: %w", err)
	}

	opts, err := driverOptions(cmd)
	if err != nil {
		return err
	}

	wasm, err := moduledriver.New(resolve, opts...).Compile()
	if err != nil {
		return fmt.Errorf("compiling %s: %w", resolve.ModuleName, err)
	}

	return writeWasm(cmd.String("out"), wasm)
}

// loadResolve reads path (or stdin for "-"/empty) and decodes it as a
// sem.Resolve JSON fixture via sem.DecodeResolve.
func loadResolve(path string) (*sem.Resolve, error) {
	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return sem.DecodeResolve(data)
}

func driverOptions(cmd *cli.Command) ([]moduledriver.Option, error) {
	var opts []moduledriver.Option
	if v := cmd.String("host-module"); v != "" {
		opts = append(opts, moduledriver.WithHostModule(v))
	}
	if v := cmd.String("declared-import-module"); v != "" {
		opts = append(opts, moduledriver.WithDeclaredImportModule(v))
	}
	if v := cmd.String("host-abi-version"); v != "" {
		opts = append(opts, moduledriver.WithHostABIVersion(v))
	}
	if v := cmd.String("validate"); v != "" {
		opts = append(opts, moduledriver.WithValidation(v))
	}
	if path := cmd.String("baseline"); path != "" {
		baseline, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading baseline: %w", err)
		}
		opts = append(opts, moduledriver.WithBaseline(baseline))
	}
	if cmd.Bool("verbose") {
		opts = append(opts, moduledriver.WithLogger(logging.Logger(os.Stderr, slog.LevelDebug)))
	}
	return opts, nil
}

func writeWasm(path string, wasm []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(wasm)
		return err
	}
	return os.WriteFile(path, wasm, 0o644)
}
