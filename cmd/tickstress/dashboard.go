package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"tickstress/internal/dashboard"
)

var (
	dashboardOut string
	dashboardUID string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render the Grafana dashboard for the GreptimeDB tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := dashboard.Render(dashboardOut, dashboardUID); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(dashboardOut, dashboard.FileName))
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory")
	dashboardCmd.Flags().StringVar(&dashboardUID, "datasource-uid", "", "Grafana datasource UID (defaults to $GREPTIMEDB_DATASOURCE_UID)")
}
