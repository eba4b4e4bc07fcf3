// Package main is the entry point for artcurate, the artwork dataset
// curation pipeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/artcurate/artcurate/internal/config"
	"github.com/artcurate/artcurate/internal/curation"
	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/logging"
	"github.com/artcurate/artcurate/internal/metadata"
	"github.com/artcurate/artcurate/internal/metrics"
	"github.com/artcurate/artcurate/internal/server"
	"github.com/artcurate/artcurate/internal/storage"
)

const usage = "Usage: artcurate [run|reconcile|summary|serve] [flags]"

func main() {
	command := "run"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	var rc int
	switch command {
	case "run":
		rc = runPipeline(args)
	case "reconcile":
		rc = runReconcile(args)
	case "summary":
		rc = runSummary(args)
	case "serve":
		rc = runServe(args)
	case "help", "-h", "--help":
		fmt.Fprintln(os.Stderr, usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n%s\n", command, usage)
		rc = 1
	}
	os.Exit(rc)
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath *string
	logLevel   *string
	logFormat  *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath: fs.String("config", "artcurate.yaml", "path to configuration file"),
		logLevel:   fs.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)"),
		logFormat:  fs.String("log-format", "", "log format: text, json (default: from config or text)"),
	}
}

// load reads the config, applies flag overrides and initializes logging.
func (c *commonFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(*c.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *c.logLevel != "" {
		cfg.Logging.Level = *c.logLevel
	}
	if *c.logFormat != "" {
		cfg.Logging.Format = *c.logFormat
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if cfg.Metrics.Enabled {
		metrics.Register()
	}
	return cfg, logger, nil
}

// openStores builds the metadata store and blob store selected by cfg.
// The returned closer releases both.
func openStores(ctx context.Context, cfg *config.Config) (metadata.MetadataStore, storage.BlobStore, func(), error) {
	meta, err := metadata.Open(ctx, &cfg.Metadata)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize metadata store: %w", err)
	}
	slog.Info("Metadata store initialized", "engine", cfg.Metadata.Engine)

	blobs, err := storage.Open(ctx, &cfg.Storage)
	if err != nil {
		meta.Close()
		return nil, nil, nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	slog.Info("Storage backend initialized", "backend", cfg.Storage.Backend)

	closeAll := func() {
		if err := blobs.Close(); err != nil {
			slog.Warn("Closing storage backend", "error", err)
		}
		if err := meta.Close(); err != nil {
			slog.Warn("Closing metadata store", "error", err)
		}
	}
	return meta, blobs, closeAll, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dumpMetrics(cfg *config.Config, path string) {
	if path == "" {
		path = cfg.Metrics.Textfile
	}
	if path == "" || !cfg.Metrics.Enabled {
		return
	}
	if err := metrics.WriteTextfile(path); err != nil {
		slog.Warn("Failed to write metrics textfile", "path", path, "error", err)
	}
}

func runPipeline(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	common := addCommonFlags(fs)
	stages := fs.String("stages", "", "comma-separated stages to run (default: from config or all)")
	seed := fs.Int64("seed", 0, "split seed (default: from config or 42)")
	textfile := fs.String("metrics-textfile", "", "write Prometheus metrics to this textfile after the run")
	fs.Parse(args)

	cfg, logger, err := common.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *stages != "" {
		cfg.Pipeline.Stages = strings.Split(*stages, ",")
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			cfg.Pipeline.Seed = *seed
		}
	})

	ctx, stop := signalContext()
	defer stop()

	meta, blobs, closeAll, err := openStores(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeAll()

	report, runErr := curation.New(meta, blobs, cfg.Pipeline, logger).Run(ctx)
	dumpMetrics(cfg, *textfile)
	if report != nil {
		if err := writeJSON(os.Stdout, report); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
			return 1
		}
	}
	if runErr != nil {
		if curerr.IsFatal(runErr) {
			fmt.Fprintf(os.Stderr, "pipeline aborted: %v\n", runErr)
		} else {
			fmt.Fprintf(os.Stderr, "pipeline failed: %v\n", runErr)
		}
		return 1
	}
	return 0
}

func runReconcile(args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	common := addCommonFlags(fs)
	dryRun := fs.Bool("dry-run", false, "report unreferenced blobs without deleting them")
	textfile := fs.String("metrics-textfile", "", "write Prometheus metrics to this textfile afterwards")
	fs.Parse(args)

	cfg, logger, err := common.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signalContext()
	defer stop()

	meta, blobs, closeAll, err := openStores(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeAll()

	report, err := curation.New(meta, blobs, cfg.Pipeline, logger).Reconcile(ctx, *dryRun)
	dumpMetrics(cfg, *textfile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile failed: %v\n", err)
		return 1
	}
	if err := writeJSON(os.Stdout, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
		return 1
	}
	if report.Failed > 0 {
		return 1
	}
	return 0
}

func runSummary(args []string) int {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Parse(args)

	cfg, _, err := common.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signalContext()
	defer stop()

	meta, err := metadata.Open(ctx, &cfg.Metadata)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize metadata store: %v\n", err)
		return 1
	}
	defer meta.Close()

	summary, err := curation.Summarize(ctx, meta)
	if err != nil {
		fmt.Fprintf(os.Stderr, "summary failed: %v\n", err)
		return 1
	}
	if err := writeJSON(os.Stdout, summary); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing summary: %v\n", err)
		return 1
	}
	return 0
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	common := addCommonFlags(fs)
	port := fs.Int("port", 0, "override listening port (default: from config or 9100)")
	host := fs.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	shutdownTimeout := fs.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	fs.Parse(args)

	cfg, logger, err := common.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}

	meta, blobs, closeAll, err := openStores(context.Background(), cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeAll()

	srv, err := server.New(cfg,
		server.WithMetadataStore(meta),
		server.WithBlobStore(blobs),
		server.WithLogger(logger),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		return 1
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("artcurate listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			return 1
		}
	}
	return 0
}
