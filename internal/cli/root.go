// Package cli implements the runq command line: one-shot simulation
// runs and queries against recorded trace databases.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/me/runq/internal/config"
	"github.com/me/runq/internal/logging"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the runq CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "runq",
		Short: "runq — multicore round-robin scheduler simulator",
		Long: `runq drives a round-robin scheduler through workloads on a virtual
clock and reports what every thread and core did.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (YAML)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newTraceCmd(),
		newVersionCmd(),
	)

	return root
}

// loadConfig resolves the effective configuration: defaults, overlaid
// with the --config file when one is given.
func loadConfig() (config.Config, error) {
	if flagConfig == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
