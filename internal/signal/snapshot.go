package signal

import (
	"fmt"

	"ema-price-alerts/internal/indicator"
)

// Snapshot is the comparison point derived from a price series at one instant.
type Snapshot struct {
	CurPrice float64
	EMA      float64
	Diff     float64
	DiffPct  float64
	Rising   bool
}

// Compute derives a Snapshot from prices ordered newest first, as of offset
// periods ago. Offset 0 is the live view.
func Compute(pricesNewestFirst []float64, window, offset int) (Snapshot, error) {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(pricesNewestFirst) {
		return Snapshot{}, fmt.Errorf("%w: offset %d beyond %d points", indicator.ErrInsufficientData, offset, len(pricesNewestFirst))
	}

	view := pricesNewestFirst[offset:]
	ascending := make([]float64, len(view))
	for i, p := range view {
		ascending[len(view)-1-i] = p
	}

	ema, err := indicator.EMA(ascending, window)
	if err != nil {
		return Snapshot{}, err
	}

	cur := view[0]
	diff := cur - ema
	return Snapshot{
		CurPrice: cur,
		EMA:      ema,
		Diff:     diff,
		DiffPct:  diff / ema * 100,
		Rising:   diff > 0,
	}, nil
}

// Direction returns "rising" or "falling".
func (s Snapshot) Direction() string {
	return directionOf(s.Rising)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("price %.2f, ema %.2f, diff %+.2f (%+.2f%%)", s.CurPrice, s.EMA, s.Diff, s.DiffPct)
}
