package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jordanmaulana/free-eml-extractor/cmd"
	"github.com/jordanmaulana/free-eml-extractor/config"
	"github.com/jordanmaulana/free-eml-extractor/progress"
	"github.com/jordanmaulana/free-eml-extractor/runner"
	"github.com/jordanmaulana/free-eml-extractor/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "eml-extractor <input-dir> [output-dir]",
		Short: "Extract headers, bodies and attachments from a directory of .eml files",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, args)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Debug("starting eml-extractor", "input", cfg.InputDir, "output", cfg.OutputDir, "dryRun", cfg.DryRun)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}
	rootCmd.SilenceUsage = true

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewStatsCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	stats.NewReporter(r, logger)
	progress.NewProgressReporter(r, progress.New(cfg.LogLevel, cfg.NoProgress), logger)

	report, runErr := r.Run(ctx)
	if report != nil && cfg.ReportPath != "" {
		if err := report.SaveYAML(cfg.ReportPath); err != nil {
			return errors.Join(runErr, fmt.Errorf("write report: %w", err))
		}
		logger.Info("report written", "path", cfg.ReportPath)
	}
	return runErr
}

// setupLogger writes text logs to stderr, keeping stdout for the progress
// display, and additionally to a timestamped file when cfg.LogDir is set.
func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var out io.Writer = os.Stderr
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, fmt.Errorf("create log directory: %w", err)
		}

		name := fmt.Sprintf("eml-extractor-%s.log", time.Now().Format("20060102T150405"))
		file, err := os.OpenFile(filepath.Join(cfg.LogDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(out, file)
		cleanup = file.Close
	}

	return slog.New(slog.NewTextHandler(out, opts)), cleanup, nil
}
