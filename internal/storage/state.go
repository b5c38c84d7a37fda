package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ema-price-alerts/internal/signal"
)

// ErrStateUnreadable wraps any failure to read a persisted state record. The
// accompanying state is always signal.DefaultState().
var ErrStateUnreadable = errors.New("storage: alert state unreadable")

// StateStore persists one AlertState per job.
//
// Load never fails hard: a missing record yields the default state and a nil
// error, an unreadable one yields the default state and an error wrapping
// ErrStateUnreadable. Save replaces the whole record atomically for a single
// writer; stores do not serialise concurrent evaluators of the same job.
type StateStore interface {
	Load(ctx context.Context, job string) (signal.AlertState, error)
	Save(ctx context.Context, job string, state signal.AlertState) error
}

// AdvisoryLocker exposes best-effort cross-process locking for a job.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

type stateRecord struct {
	EMAReset *bool     `json:"ema_reset"`
	LastPost *lastPost `json:"last_post"`
}

type lastPost struct {
	Price  *float64 `json:"price"`
	Rising bool     `json:"rising"`
}

func encodeState(state signal.AlertState) ([]byte, error) {
	reset := state.EMAReset
	rec := stateRecord{
		EMAReset: &reset,
		LastPost: &lastPost{Price: state.LastPrice, Rising: state.LastRising},
	}
	return json.MarshalIndent(rec, "", "    ")
}

func decodeState(data []byte) (signal.AlertState, error) {
	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return signal.DefaultState(), fmt.Errorf("%w: %v", ErrStateUnreadable, err)
	}
	if rec.EMAReset == nil || rec.LastPost == nil {
		return signal.DefaultState(), fmt.Errorf("%w: missing ema_reset or last_post", ErrStateUnreadable)
	}

	state := signal.AlertState{
		EMAReset:   *rec.EMAReset,
		LastRising: rec.LastPost.Rising,
	}
	if rec.LastPost.Price != nil {
		price := *rec.LastPost.Price
		state.LastPrice = &price
	}
	return state, nil
}
