package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/packeteater/internal/config"
	"firestige.xyz/packeteater/internal/core"
	"firestige.xyz/packeteater/internal/eater"
	"firestige.xyz/packeteater/internal/guard"
	"firestige.xyz/packeteater/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay game traffic from a pcap capture",
	Long: `Replay UDP game traffic from a pcap capture through the packet relay.

Every datagram to or from the game port is handed to the relay exactly as a
host plugin would, then submitted to submission.base_url. The environment
guard is bypassed unless --guard is given.

Examples:
  packeteater replay -f session.pcap --name Aldo --zone 230
  packeteater replay -c packeteater.yml -f session.pcap --speed 1 --origin windower-v5`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if replayOpts.baseURL != "" {
			cfg.Submission.BaseURL = replayOpts.baseURL
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := runReplay(ctx, cfg, replayOpts, cmd.OutOrStdout()); err != nil {
			exitWithError("replay failed", err)
		}
	},
}

type replayOptions struct {
	file     string
	port     uint16
	speed    float64
	origin   string
	name     string
	zone     uint16
	version  string
	baseURL  string
	useGuard bool
}

var replayOpts replayOptions

func init() {
	f := replayCmd.Flags()
	f.StringVarP(&replayOpts.file, "file", "f", "", "pcap file to replay (required)")
	f.Uint16VarP(&replayOpts.port, "port", "p", replay.DefaultPort, "game server UDP port")
	f.Float64Var(&replayOpts.speed, "speed", 0, "pacing factor against capture time (0 = as fast as possible)")
	f.StringVar(&replayOpts.origin, "origin", core.AshitaV4.String(), "origin to report")
	f.StringVar(&replayOpts.name, "name", "", "character name to report")
	f.Uint16Var(&replayOpts.zone, "zone", 0, "zone id to report")
	f.StringVar(&replayOpts.version, "version", core.UnknownVersion, "client version to report")
	f.StringVar(&replayOpts.baseURL, "base-url", "", "submission endpoint (overrides submission.base_url)")
	f.BoolVar(&replayOpts.useGuard, "guard", false, "apply the configured environment guard")
	replayCmd.MarkFlagRequired("file")
}

func runReplay(ctx context.Context, cfg *config.GlobalConfig, opts replayOptions, out io.Writer) error {
	origin, err := core.ParseOrigin(opts.origin)
	if err != nil {
		return err
	}

	in, err := os.Open(opts.file)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", opts.file, err)
	}
	defer in.Close()

	var eaterOpts []eater.Option
	if !opts.useGuard {
		eaterOpts = append(eaterOpts, eater.WithGuard(guard.Static(true)))
	}
	c, err := eater.Open(cfg, eaterOpts...)
	if err != nil {
		return err
	}

	stats, runErr := replay.Run(ctx, in, c, replay.Config{
		Port:    opts.port,
		Session: core.SessionInfo{Name: opts.name, ZoneID: opts.zone, Version: opts.version},
		Origin:  origin,
		Speed:   opts.speed,
	})

	// Close drains what is still queued, bounded by queue.drain_timeout.
	closeErr := c.Close(context.Background())
	qs := c.Stats()

	fmt.Fprintf(out, "frames=%d matched=%d forwarded=%d skipped=%d\n",
		stats.Frames, stats.Matched, stats.Forwarded, stats.Skipped)
	fmt.Fprintf(out, "sent=%d failed=%d dropped=%d evicted=%d abandoned=%d\n",
		qs.Sent, qs.Failed, qs.Dropped, qs.Evicted, qs.Abandoned)

	if runErr != nil {
		return runErr
	}
	return closeErr
}
