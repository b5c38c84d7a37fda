package command

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ema-price-alerts/internal/alerting"
	"ema-price-alerts/internal/fetcher"
)

// Reporter builds the attachments of a price report.
type Reporter interface {
	Report(ctx context.Context, req Request) ([]alerting.SlackAttachment, error)
}

// SpotReporter reports the current price against fixed hour offsets and the
// requested day offsets.
type SpotReporter struct {
	spot fetcher.SpotFetcher
	now  func() time.Time
}

// NewSpotReporter constructs a reporter backed by spot.
func NewSpotReporter(spot fetcher.SpotFetcher) *SpotReporter {
	return &SpotReporter{spot: spot, now: time.Now}
}

// Report fetches every price and renders the attachments, headline first.
func (r *SpotReporter) Report(ctx context.Context, req Request) ([]alerting.SlackAttachment, error) {
	inst := fetcher.Instrument{Product: req.Pair.Product()}
	now := r.now().UTC()

	cur, err := r.spot.PriceAt(ctx, inst, now)
	if err != nil {
		return nil, fmt.Errorf("current price: %w", err)
	}
	if cur.IsZero() {
		return nil, fmt.Errorf("current price for %s is zero", inst.Product)
	}

	type point struct {
		label string
		ago   time.Duration
	}
	points := []point{{"1 hour", time.Hour}, {"24 hours", 24 * time.Hour}}
	for _, d := range req.Days {
		points = append(points, point{strconv.Itoa(d) + " days", time.Duration(d) * 24 * time.Hour})
	}

	comparisons := make([]alerting.Comparison, 0, len(points))
	for _, p := range points {
		then, err := r.spot.PriceAt(ctx, inst, now.Add(-p.ago))
		if err != nil {
			return nil, fmt.Errorf("price %s ago: %w", p.label, err)
		}
		if then.IsZero() {
			return nil, fmt.Errorf("price %s ago is zero", p.label)
		}
		comparisons = append(comparisons, alerting.NewComparison(p.label, cur, then))
	}

	attachments := alerting.ComparisonAttachments(req.Pair, comparisons)
	attachments[0].Pretext = req.Pair.CryptoName() + "'s current price is: " +
		alerting.FormatPrice(req.Pair.FiatSymbol(), cur.InexactFloat64())
	return attachments, nil
}
