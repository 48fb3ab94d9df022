package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pollenlabs/pollenwatch"
	"github.com/pollenlabs/pollenwatch/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// serveCmd starts the PollenWatch server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start watching the configured sources",
	Long: `Start the PollenWatch server.

The server will:
  - Load configuration from the specified YAML file
  - Refresh every configured source immediately, then on its interval
  - Serve the sensor API and event stream on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  pollenwatch serve -c config.yaml
  pollenwatch serve --config /etc/pollenwatch/config.yaml --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().Bool("debug", false, "enable debug logging")
	serveCmd.Flags().Bool("access-log", false, "log every API request to stderr")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	logger := newLogger(debug)

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded", "sources", len(cfg.Sources))

	// convert config to SDK sources
	sources, err := config.BuildSources(cfg)
	if err != nil {
		return fmt.Errorf("failed to build sources: %w", err)
	}

	// create the watcher with options
	opts := []pollenwatch.Option{
		pollenwatch.WithSources(sources...),
		pollenwatch.WithPort(cfg.Port),
		pollenwatch.WithLogger(logger),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, pollenwatch.WithBaseURL(cfg.BaseURL))
	}
	if accessLog, _ := cmd.Flags().GetBool("access-log"); accessLog {
		opts = append(opts, pollenwatch.WithAccessLog(os.Stderr))
	}

	w, err := pollenwatch.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start server - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	// wait for server to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
