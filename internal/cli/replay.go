package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ema-price-alerts/internal/app"
)

var (
	replayJob     string
	replayPeriods int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Dry-run the alert engine over recent history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayPeriods <= 0 {
			return fmt.Errorf("--periods must be greater than zero")
		}
		opts := app.ReplayOptions{
			Job:     replayJob,
			Periods: replayPeriods,
		}
		return getApp().Replay(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayJob, "job", "default", "Job to replay")
	replayCmd.Flags().IntVar(&replayPeriods, "periods", 168, "Number of periods to replay")
}
