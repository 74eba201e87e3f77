package cmd

import (
	"github.com/GriffinCanCode/webviewrpc/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	devLogs    bool
)

var rootCmd = &cobra.Command{
	Use:   "webviewrpc",
	Short: "Context pool coordinator - call objects living in isolated pages",
	Long: `webviewrpc loads pages into a bounded pool of isolated script contexts,
evaluates registration scripts inside them and routes calls between the host
and the objects those scripts return.

Configuration comes from environment variables, optionally overlaid by a
YAML or TOML file given with --config.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML or TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&devLogs, "dev", false, "Colored console logs")
}

// loadConfig reads env, the optional file, then applies persistent flags
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if devLogs {
		cfg.Logging.Development = true
	}
	return cfg, nil
}
