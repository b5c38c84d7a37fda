package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ema-price-alerts/internal/app"
)

var (
	alertsLimit     int
	alertsOlderThan time.Duration
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display recently fired alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Alerts(cmd.Context(), cmd.OutOrStdout(), app.AlertsOptions{Limit: alertsLimit})
	},
}

var alertsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audited alerts older than a given age",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().PruneAlerts(cmd.Context(), cmd.OutOrStdout(), alertsOlderThan)
	},
}

func init() {
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to display")
	alertsPruneCmd.Flags().DurationVar(&alertsOlderThan, "older-than", 90*24*time.Hour, "Age beyond which alerts are deleted")
	alertsCmd.AddCommand(alertsPruneCmd)
}
