package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tickstress/internal/scenario"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List built-in and configured scenarios",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := scenario.NewCatalog(cfg.NominalTPS(), cfg.Scenarios...)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tKIND\tRAMP\tFLOOR\tMAX DURATION\tMAX UNITS\tDESCRIPTION")
		for _, s := range cat.List() {
			maxUnits := "-"
			if s.MaxUnits > 0 {
				maxUnits = fmt.Sprint(s.MaxUnits)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%g\t%s\t%s\t%s\n", s.Name, s.Kind, s.RampRate, s.Floor, s.MaxDuration, maxUnits, s.Description)
		}
		return tw.Flush()
	},
}
