// Command compare evaluates the memory network against the KNN and MLP
// destination baselines on Porto taxi trips.
//
// Usage:
//
//	compare stats --train 'assets/train*.csv'
//	compare evaluate --config taxidest.yaml --out plots
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Noofbiz/taxiDest/config"
	"github.com/Noofbiz/taxiDest/logging"
)

var rootCmd *cobra.Command

// loadConfig reads --config and applies --log-level on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Logging.Format, _ = cmd.Flags().GetString("log-format")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "compare",
		Short:         "Compare taxi destination predictors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "YAML configuration file (default: $"+config.ConfigPathEnvVar+" or ./taxidest.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn, error, disabled")
	root.PersistentFlags().String("log-format", "console", "log format: console or json")

	root.AddCommand(newStatsCommand(), newEvaluateCommand())
	return root
}

func main() {
	rootCmd = newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		logging.Error().Err(err).Msg("compare failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
