package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrIrregularSeries indicates a gap or duplicate in a fixed-interval series.
	ErrIrregularSeries = errors.New("fetcher: irregular series spacing")
	// ErrNoData indicates the source returned nothing usable for the request.
	ErrNoData = errors.New("fetcher: no data")
)

// Instrument identifies what to price. Product is an exchange pair such as
// BTC-USD; FeedAddress is an on-chain aggregator for sources that need one.
type Instrument struct {
	Product     string
	FeedAddress string
}

// HistoryFetcher retrieves a fixed-interval price history ordered newest first.
type HistoryFetcher interface {
	FetchPrices(ctx context.Context, inst Instrument, count int) ([]float64, error)
	Interval() time.Duration
}

// SpotFetcher resolves the price in effect strictly before an instant.
type SpotFetcher interface {
	PriceAt(ctx context.Context, inst Instrument, at time.Time) (decimal.Decimal, error)
}

// Source is a market-data provider able to serve both queries.
type Source interface {
	HistoryFetcher
	SpotFetcher
}

func checkSpacing(times []time.Time, interval time.Duration) error {
	for i := 0; i+1 < len(times); i++ {
		if gap := times[i].Sub(times[i+1]); gap != interval {
			return fmt.Errorf("%w: index %d is %s after the next point, want %s", ErrIrregularSeries, i, gap, interval)
		}
	}
	return nil
}
