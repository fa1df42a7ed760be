package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/packeteater/internal/collector"
	"firestige.xyz/packeteater/internal/config"
	"firestige.xyz/packeteater/internal/metrics"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run the /upload collector in foreground",
	Long: `Run the reference /upload receiver in foreground.

The collector will:
  1. Load configuration and initialize logging
  2. Start the metrics server (if enabled)
  3. Accept submissions, validate them and publish envelopes to the configured sink
  4. Shut down gracefully on SIGTERM or SIGINT

Examples:
  packeteater collect
  packeteater collect -c packeteater.yml --listen 127.0.0.1:8080 --sink redis`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if collectListen != "" {
			cfg.Collector.Listen = collectListen
		}
		if collectSink != "" {
			cfg.Collector.Sink = collectSink
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := runCollect(ctx, cfg, nil); err != nil {
			exitWithError("collector failed", err)
		}
	},
}

var (
	collectListen  string
	collectSink    string
	collectTimeout time.Duration
)

func init() {
	collectCmd.Flags().StringVarP(&collectListen, "listen", "l", "",
		"listen address (overrides collector.listen)")
	collectCmd.Flags().StringVar(&collectSink, "sink", "",
		"sink: log, redis or kafka (overrides collector.sink)")
	collectCmd.Flags().DurationVarP(&collectTimeout, "timeout", "t", 5*time.Second,
		"graceful shutdown timeout")
}

// runCollect serves until ctx is done. ready, when set, receives the bound
// collector address once it is listening.
func runCollect(ctx context.Context, cfg *config.GlobalConfig, ready chan<- string) error {
	var ms *metrics.Server
	if cfg.Metrics.Enabled {
		ms = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := ms.Start(ctx); err != nil {
			return err
		}
	}

	srv, err := collector.NewServer(cfg.Collector)
	if err != nil {
		stopMetrics(ms)
		return fmt.Errorf("failed to create collector: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		stopMetrics(ms)
		return err
	}
	if ready != nil {
		ready <- srv.Addr()
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	var errs []error
	if err := srv.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if ms != nil {
		if err := ms.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stopMetrics(ms *metrics.Server) {
	if ms == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()
	ms.Stop(ctx)
}
