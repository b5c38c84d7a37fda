package app

import (
	"context"
	"errors"
	"time"

	"ema-price-alerts/internal/alerting"
	"ema-price-alerts/internal/signal"
)

// SimulateAlert 使用给定价格与 EMA 构造一次告警并推送到已配置通道。
// 不读取也不修改任何 job 状态。
func (a *App) SimulateAlert(ctx context.Context, job string, price, ema float64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	jc, err := a.Config.Job(job)
	if err != nil {
		return err
	}

	notifier := a.newNotifier()
	if notifier.Len() == 0 {
		return errors.New("未配置任何告警通道")
	}

	diff := price - ema
	note := alerting.Notification{
		Job:     jc.Name,
		Product: jc.Product,
		Decision: signal.Decision{
			Fire:   true,
			Reason: "simulated",
			Snapshot: signal.Snapshot{
				CurPrice: price,
				EMA:      ema,
				Diff:     diff,
				DiffPct:  diff / ema * 100,
				Rising:   diff > 0,
			},
		},
		Time: time.Now().UTC(),
	}
	return notifier.Notify(ctx, note)
}
