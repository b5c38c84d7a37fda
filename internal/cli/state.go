package cli

import (
	"github.com/spf13/cobra"
)

var stateJob string

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset persisted alert state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a job's alert state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowState(cmd.Context(), cmd.OutOrStdout(), stateJob)
	},
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Re-arm a job by restoring its cold-start state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ResetState(cmd.Context(), stateJob)
	},
}

func init() {
	stateCmd.PersistentFlags().StringVar(&stateJob, "job", "default", "Job name")
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateResetCmd)
}
