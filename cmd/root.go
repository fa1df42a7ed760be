// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/packeteater/internal/config"
	"firestige.xyz/packeteater/internal/log"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "packeteater",
	Short: "PacketEater - game packet relay and collector",
	Long: `PacketEater relays intercepted game packets to a collection endpoint.

The relay itself runs inside the host plugins. This tool hosts the parts that
run outside the game client:
  - collect:  run the /upload receiver and publish records to Redis, Kafka or the log
  - replay:   feed UDP game traffic from a pcap capture through the relay
  - validate: check a configuration file and print the effective settings`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	defer log.Close()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and PACKET_EATER_* environment only when empty)")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig loads the configuration and installs the configured logger.
func loadConfig(path string) (*config.GlobalConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to init logging: %w", err)
	}
	return cfg, nil
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	log.Close()
	os.Exit(1)
}
