package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tickstress/internal/config"
)

var (
	configPath string
	schemaPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "tickstress",
	Short: "Tick-synchronized load harness",
	Long: "tickstress ramps synthetic load units against a tick-driven host, backs off when TPS " +
		"drops below a floor and reports the peak load the host sustained.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to harness configuration YAML (defaults plus env when empty)")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "", "Path to a CUE schema overriding the embedded one")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scenariosCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// loadConfig reads --config or falls back to defaults with env overrides.
func loadConfig() (*config.HarnessConfig, error) {
	var (
		cfg *config.HarnessConfig
		err error
	)
	if configPath == "" {
		cfg, err = config.FromEnv()
	} else {
		cfg, err = config.Load(configPath, schemaPath)
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}
