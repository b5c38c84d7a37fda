package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateJob   string
	simulatePrice float64
	simulateEMA   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次 EMA 偏离并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 || simulateEMA <= 0 {
			return errors.New("--price 与 --ema 必须大于 0")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateJob, simulatePrice, simulateEMA)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateJob, "job", "default", "告警所属 job")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "当前价格")
	simulateCmd.Flags().Float64Var(&simulateEMA, "ema", 0, "EMA 值")
}
