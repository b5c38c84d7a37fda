package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"ema-price-alerts/internal/fetcher"
	"ema-price-alerts/internal/signal"
)

// replayStep is one evaluated period of a replay.
type replayStep struct {
	Time     time.Time
	Decision signal.Decision
}

// Replay walks the engine over recent history starting from a cold state and
// prints every period that would have fired. Nothing is persisted and no
// notification is sent.
func (a *App) Replay(ctx context.Context, out io.Writer, opts ReplayOptions) error {
	if opts.Periods <= 0 {
		return errors.New("periods must be greater than zero")
	}
	job, err := a.Config.Job(opts.Job)
	if err != nil {
		return err
	}
	thresholds, err := job.Thresholds()
	if err != nil {
		return err
	}

	source := a.newSource()
	inst := fetcher.Instrument{Product: job.Product, FeedAddress: job.FeedAddress}
	prices, err := source.FetchPrices(ctx, inst, opts.Periods+thresholds.RequiredPoints()-1)
	if err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}

	newest := time.Now().UTC().Truncate(source.Interval())
	steps, final, err := replay(thresholds, prices, opts.Periods, newest, source.Interval())
	if err != nil {
		return err
	}

	fired := 0
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Period (UTC)\tPrice\tEMA\tDiff%\tDirection\tReason")
	for _, step := range steps {
		if !step.Decision.Fire {
			continue
		}
		fired++
		snap := step.Decision.Snapshot
		fmt.Fprintf(writer, "%s\t%.2f\t%.2f\t%+.3f\t%s\t%s\n",
			step.Time.Format(time.RFC3339), snap.CurPrice, snap.EMA, snap.DiffPct, snap.Direction(), step.Decision.Reason)
	}
	writer.Flush()

	a.Logger.Info().
		Str("job", job.Name).
		Int("periods", len(steps)).
		Int("fired", fired).
		Bool("final_ema_reset", final.EMAReset).
		Msg("replay complete")
	return nil
}

// replay evaluates up to periods offsets of a newest-first series from the
// oldest to the newest, carrying state forward. It stops early once history
// runs out.
func replay(cfg signal.Config, pricesNewestFirst []float64, periods int, newest time.Time, interval time.Duration) ([]replayStep, signal.AlertState, error) {
	state := signal.DefaultState()
	start := periods - 1
	if limit := len(pricesNewestFirst) - cfg.RequiredPoints(); start > limit {
		start = limit
	}

	steps := make([]replayStep, 0, start+1)
	for offset := start; offset >= 0; offset-- {
		decision, err := signal.Evaluate(cfg, pricesNewestFirst[offset:], state)
		if err != nil {
			return nil, state, fmt.Errorf("evaluate offset %d: %w", offset, err)
		}
		state = decision.UpdatedState
		steps = append(steps, replayStep{
			Time:     newest.Add(-time.Duration(offset) * interval),
			Decision: decision,
		})
	}
	return steps, state, nil
}
