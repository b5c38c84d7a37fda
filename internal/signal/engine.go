package signal

import "math"

// Decision reasons.
const (
	ReasonBelowThreshold    = "below fire threshold"
	ReasonDirectionFlip     = "direction changed since last alert"
	ReasonNotConfirmed      = "hourly change does not confirm EMA change"
	ReasonArmed             = "first excursion since baseline reset"
	ReasonBeatsRepost       = "beats repost threshold"
	ReasonDoesNotBeatRepost = "does not beat repost threshold"
)

// Decision is the outcome of one evaluation.
type Decision struct {
	Fire         bool
	Reason       string
	Snapshot     Snapshot
	UpdatedState AlertState
	// StateChanged is true when UpdatedState differs from the input state and
	// must be written back.
	StateChanged bool
	// RepostThreshold is the price the hysteresis check compared against, zero
	// when that check did not run.
	RepostThreshold float64
}

// Evaluate decides whether the newest price in pricesNewestFirst warrants an
// alert given the prior state. It is a pure function of its inputs.
func Evaluate(cfg Config, pricesNewestFirst []float64, state AlertState) (Decision, error) {
	if err := cfg.Validate(); err != nil {
		return Decision{}, err
	}

	snap, err := Compute(pricesNewestFirst, cfg.EMAWindow, 0)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Snapshot: snap, UpdatedState: state}

	if math.Abs(snap.DiffPct) <= cfg.FireThresholdPct {
		d.Reason = ReasonBelowThreshold
		if !state.EMAReset && shouldRearm(cfg, snap, state) {
			d.UpdatedState.EMAReset = true
			d.StateChanged = true
		}
		return d, nil
	}

	if snap.Rising != state.LastRising {
		return fire(d, ReasonDirectionFlip), nil
	}

	risenLastPeriod := snap.CurPrice > pricesNewestFirst[1]
	if risenLastPeriod != snap.Rising {
		d.Reason = ReasonNotConfirmed
		return d, nil
	}

	// an unarmed state without an anchor cannot be compared; treat it as armed
	if state.EMAReset || !state.HasAnchor() {
		return fire(d, ReasonArmed), nil
	}

	last := *state.LastPrice
	if state.LastRising {
		d.RepostThreshold = last * (1 + cfg.FireThresholdPct/100)
		if snap.CurPrice > d.RepostThreshold {
			return fire(d, ReasonBeatsRepost), nil
		}
	} else {
		d.RepostThreshold = last * (1 - cfg.FireThresholdPct/100)
		if snap.CurPrice < d.RepostThreshold {
			return fire(d, ReasonBeatsRepost), nil
		}
	}

	d.Reason = ReasonDoesNotBeatRepost
	return d, nil
}

// shouldRearm reports whether the EMA has moved back past the reset target,
// away from the direction of the last alert.
func shouldRearm(cfg Config, snap Snapshot, state AlertState) bool {
	if !state.HasAnchor() {
		return true
	}
	last := *state.LastPrice
	if state.LastRising {
		return snap.EMA < last*(1-cfg.ResetThresholdPct/100)
	}
	return snap.EMA > last*(1+cfg.ResetThresholdPct/100)
}

func fire(d Decision, reason string) Decision {
	prior := d.UpdatedState
	price := d.Snapshot.CurPrice
	d.Fire = true
	d.Reason = reason
	d.UpdatedState = AlertState{
		EMAReset:   false,
		LastPrice:  &price,
		LastRising: d.Snapshot.Rising,
	}
	d.StateChanged = !d.UpdatedState.Equal(prior)
	return d
}
