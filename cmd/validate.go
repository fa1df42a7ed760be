package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/packeteater/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without starting anything.

The effective configuration, with defaults and PACKET_EATER_* environment
overrides applied, is printed as YAML.

Examples:
  packeteater validate -c packeteater.yml
  packeteater validate -c packeteater.yml --quiet`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(configFile, validateQuiet, cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

var validateQuiet bool

func init() {
	validateCmd.Flags().BoolVarP(&validateQuiet, "quiet", "q", false,
		"only print the verdict")
}

func runValidate(path string, quiet bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	source := path
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(out, "VALID: %s (sink %s, %d worker(s), guard %s)\n",
		source, cfg.Collector.Sink, cfg.Queue.Workers, guardSummary(cfg.Guard))
	if quiet {
		return nil
	}

	b, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}

func guardSummary(g config.GuardConfig) string {
	if !g.Enabled {
		return "disabled"
	}
	return g.Module
}
