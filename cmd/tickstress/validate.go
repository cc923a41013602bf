package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tickstress/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config.yaml>",
	Short: "Validate a configuration file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0], schemaPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%.0f TPS nominal, %d scenarios, sinks %v)\n",
			args[0], cfg.NominalTPS(), len(cfg.Scenarios), cfg.Telemetry.Sinks)
		return nil
	},
}
