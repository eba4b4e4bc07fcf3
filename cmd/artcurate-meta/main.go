// Package main is the entry point for artcurate-meta, the record manifest
// export/import tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/artcurate/artcurate/internal/config"
	"github.com/artcurate/artcurate/internal/logging"
	"github.com/artcurate/artcurate/internal/metadata"
	"github.com/artcurate/artcurate/internal/serialization"
)

const usage = "Usage: artcurate-meta <export|import> [flags]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "export":
		rc := runExport(os.Args[2:])
		os.Exit(rc)
	case "import":
		rc := runImport(os.Args[2:])
		os.Exit(rc)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n%s\n", command, usage)
		os.Exit(1)
	}
}

// openStore loads the config and opens its metadata store. engine and
// sqlitePath, when set, override the config.
func openStore(ctx context.Context, configPath, engine, sqlitePath string) (metadata.MetadataStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if engine != "" {
		cfg.Metadata.Engine = engine
	}
	if sqlitePath != "" {
		cfg.Metadata.Engine = "sqlite"
		cfg.Metadata.SQLite.Path = sqlitePath
	}
	return metadata.Open(ctx, &cfg.Metadata)
}

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "artcurate.yaml", "Config file path")
	engine := fs.String("engine", "", "Metadata engine (overrides config)")
	dbPath := fs.String("db", "", "SQLite database path (implies -engine sqlite)")
	format := fs.String("format", "json", "Output format")
	output := fs.String("output", "-", "Output file path (- for stdout)")
	splits := fs.String("splits", "", "Comma-separated split labels to export (default: all)")
	fs.Parse(args)

	if *format != "json" {
		fmt.Fprintf(os.Stderr, "Error: unsupported format: %s\n", *format)
		return 1
	}

	opts := &serialization.ExportOptions{}
	if *splits != "" {
		for _, s := range strings.Split(*splits, ",") {
			split := metadata.Split(strings.TrimSpace(s))
			if !split.Valid() {
				fmt.Fprintf(os.Stderr, "Error: invalid split: %s\n", split)
				return 1
			}
			opts.Splits = append(opts.Splits, split)
		}
	}

	ctx := context.Background()
	store, err := openStore(ctx, *configPath, *engine, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening metadata store: %v\n", err)
		return 1
	}
	defer store.Close()

	result, err := serialization.ExportManifest(ctx, store, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
		return 1
	}

	if *output == "-" {
		fmt.Println(result)
	} else {
		if err := os.WriteFile(*output, []byte(result+"\n"), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Exported to %s\n", *output)
	}

	return 0
}

func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "artcurate.yaml", "Config file path")
	engine := fs.String("engine", "", "Metadata engine (overrides config)")
	dbPath := fs.String("db", "", "SQLite database path (implies -engine sqlite)")
	input := fs.String("input", "-", "Input file path (- for stdin)")
	replace := fs.Bool("replace", false, "Replace mode (delete every record, then insert)")
	fs.Parse(args)

	var jsonData []byte
	var err error
	if *input == "-" {
		jsonData, err = io.ReadAll(os.Stdin)
	} else {
		jsonData, err = os.ReadFile(*input)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, err := openStore(ctx, *configPath, *engine, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening metadata store: %v\n", err)
		return 1
	}
	defer store.Close()

	opts := &serialization.ImportOptions{Replace: *replace}

	result, err := serialization.ImportManifest(ctx, store, string(jsonData), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
		return 1
	}

	msg := fmt.Sprintf("  records: %d imported", result.Inserted)
	if result.Skipped > 0 {
		msg += fmt.Sprintf(", %d skipped", result.Skipped)
	}
	if result.Deleted > 0 {
		msg += fmt.Sprintf(", %d replaced", result.Deleted)
	}
	fmt.Fprintln(os.Stderr, msg)

	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "  WARNING: %s\n", w)
	}

	return 0
}
