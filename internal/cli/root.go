// Package cli implements the foamrun command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/foamrun/internal/config"
	"github.com/me/foamrun/internal/logging"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.Config
	logger *slog.Logger
)

// defaultConfigPath returns the config file named by FOAMRUN_CONFIG, if any.
func defaultConfigPath() string {
	return os.Getenv("FOAMRUN_CONFIG")
}

// NewRootCmd creates the root cobra command for the foamrun CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "foamrun",
		Short: "foamrun assembles and runs OpenFOAM vehicle cases",
		Long: "foamrun binds component meshes to a case template, patches the case\n" +
			"dictionaries, runs the meshing and solver pipeline and extracts the\n" +
			"force coefficients.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig(flagConfig)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") || cfg.LogLevel == "" {
				cfg.LogLevel = flagLogLevel
			}
			if cmd.Flags().Changed("log-format") || cfg.LogFormat == "" {
				cfg.LogFormat = flagLogFormat
			}
			if flagDebug {
				cfg.LogLevel = "debug"
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath(), "YAML config file (or FOAMRUN_CONFIG env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newSetupCmd(),
		newResolveCmd(),
		newResultsCmd(),
		newHistoryCmd(),
		newServeCmd(),
	)

	return root
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	c, err := config.Load(path)
	if err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}
	return c, nil
}
