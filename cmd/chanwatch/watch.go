package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chanwatch/chanwatch"
	"github.com/chanwatch/chanwatch/config"
	"github.com/chanwatch/chanwatch/handlers"
)

// newLogger creates a JSON logger for CLI use. Verbose enables debug
// output (per-poll details); otherwise only lifecycle events and warnings
// are emitted.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// watchCmd runs the watcher until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a board and persist its content",
	Long: `Watch a board and persist its content.

The watcher will:
  - Load configuration from the specified YAML file
  - Poll the board index for new threads
  - Track every live thread, forwarding new posts to the configured sink
  - Optionally download and verify images (file sink only)

The watcher runs until interrupted (Ctrl+C) or receives SIGTERM. Shutdown
is abrupt: threads buffered by the file sink that were never pruned are
not flushed.

Flags override their config file counterparts, so one file can serve
several boards:

  chanwatch watch -c config.yaml
  chanwatch watch -c config.yaml -b wg -d /var/lib/chanwatch/wg
  chanwatch watch -c config.yaml --verbose`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	watchCmd.Flags().StringP("board", "b", "", "board to watch (overrides config)")
	watchCmd.Flags().StringP("dir", "d", "", "output directory (overrides config)")
	watchCmd.Flags().BoolP("images", "i", false, "download images (overrides config)")
	watchCmd.Flags().BoolP("verbose", "v", false, "log per-poll details")
	_ = watchCmd.MarkFlagRequired("config")
}

// applyFlagOverrides folds explicitly set command-line flags into the
// loaded config, then re-validates the result.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("board") {
		cfg.Board, _ = cmd.Flags().GetString("board")
	}
	if cmd.Flags().Changed("dir") {
		cfg.OutputDir, _ = cmd.Flags().GetString("dir")
	}
	if cmd.Flags().Changed("images") {
		cfg.Images, _ = cmd.Flags().GetBool("images")
	}
	return cfg.Validate()
}

// buildSink constructs the configured sink. The returned closer flushes
// whatever the sink holds open (the SQLite database handle).
func buildSink(cfg *config.Config) (chanwatch.Handler, io.Closer, error) {
	switch cfg.Sink {
	case config.SinkSQLite:
		sink, err := handlers.NewSQLite(cfg.OutputDir)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink, nil
	default:
		sink, err := handlers.NewFile(cfg.OutputDir)
		if err != nil {
			return nil, nil, err
		}
		return sink, nil, nil
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyFlagOverrides(cmd, cfg); err != nil {
		return fmt.Errorf("invalid flag override: %w", err)
	}

	logger.Info("config loaded",
		"board", cfg.Board,
		"sink", cfg.Sink,
		"output_dir", cfg.OutputDir,
		"images", cfg.Images,
		"poll_interval", cfg.PollInterval.Duration().String(),
	)

	sink, closer, err := buildSink(cfg)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	opts := []chanwatch.Option{
		chanwatch.WithInterval(cfg.PollInterval.Duration()),
		chanwatch.WithLogger(logger),
	}
	if cfg.Images {
		opts = append(opts, chanwatch.WithImages())
	}
	if cfg.APIBase != "" {
		opts = append(opts, chanwatch.WithAPIBase(cfg.APIBase))
	}
	if cfg.ImageBase != "" {
		opts = append(opts, chanwatch.WithImageBase(cfg.ImageBase))
	}

	w, err := chanwatch.New(sink, cfg.Board, opts...)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// blocks until the context is cancelled
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("watcher error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
