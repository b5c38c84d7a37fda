package app

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"ema-price-alerts/internal/signal"
)

// ShowState prints the persisted alert state of a job.
func (a *App) ShowState(ctx context.Context, out io.Writer, job string) error {
	if _, err := a.Config.Job(job); err != nil {
		return err
	}
	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	state, err := st.states.Load(ctx, job)
	if err != nil {
		a.Logger.Warn().Err(err).Str("job", job).Msg("stored state unreadable, showing default")
	}

	anchor := "none"
	if state.HasAnchor() {
		anchor = strconv.FormatFloat(*state.LastPrice, 'f', -1, 64)
	}
	fmt.Fprintf(out, "job: %s\nbackend: %s\nema_reset: %t\nlast_price: %s\nlast_direction: %s\n",
		job, a.Config.State.Backend, state.EMAReset, anchor, state.Direction())
	return nil
}

// ResetState overwrites a job's state with the cold-start default.
func (a *App) ResetState(ctx context.Context, job string) error {
	if _, err := a.Config.Job(job); err != nil {
		return err
	}
	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	if err := st.states.Save(ctx, job, signal.DefaultState()); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	a.Logger.Info().Str("job", job).Msg("alert state reset")
	return nil
}
