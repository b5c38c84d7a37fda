package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	coinbaseMaxCandles = 300
	defaultCoinbaseURL = "https://api.exchange.coinbase.com"
)

var supportedGranularities = map[time.Duration]struct{}{
	time.Minute:      {},
	5 * time.Minute:  {},
	15 * time.Minute: {},
	time.Hour:        {},
	6 * time.Hour:    {},
	24 * time.Hour:   {},
}

// CoinbaseOptions parameterise the Coinbase candles fetcher.
type CoinbaseOptions struct {
	BaseURL     string
	Granularity time.Duration
	Timeout     time.Duration
	MaxRetries  int
	RetryWait   time.Duration
	UserAgent   string
	// PageSize caps candles per request; Coinbase allows at most 300.
	PageSize int
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Coinbase fetches open prices from the Coinbase Exchange candles endpoint.
type Coinbase struct {
	opts    CoinbaseOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// Candle is one OHLCV bucket.
type Candle struct {
	Time   time.Time
	Low    decimal.Decimal
	High   decimal.Decimal
	Open   decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// NewCoinbase constructs a Coinbase fetcher.
func NewCoinbase(opts CoinbaseOptions, logger zerolog.Logger) *Coinbase {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Granularity <= 0 {
		opts.Granularity = time.Hour
	}
	if opts.PageSize <= 0 || opts.PageSize > coinbaseMaxCandles {
		opts.PageSize = coinbaseMaxCandles
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultCoinbaseURL
	}

	return &Coinbase{
		opts:    opts,
		logger:  logger.With().Str("component", "coinbase_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Interval returns the spacing of the series this fetcher produces.
func (c *Coinbase) Interval() time.Duration {
	return c.opts.Granularity
}

// FetchPrices returns count open prices, newest first, one per granularity.
func (c *Coinbase) FetchPrices(ctx context.Context, inst Instrument, count int) ([]float64, error) {
	candles, err := c.FetchCandles(ctx, inst.Product, count)
	if err != nil {
		return nil, err
	}
	prices := make([]float64, len(candles))
	for i, candle := range candles {
		prices[i] = candle.Open.InexactFloat64()
	}
	return prices, nil
}

// FetchCandles pages backwards from now until count candles are collected
// and verifies that they are evenly spaced.
func (c *Coinbase) FetchCandles(ctx context.Context, product string, count int) ([]Candle, error) {
	if product == "" {
		return nil, errors.New("product not configured")
	}
	if count <= 0 {
		return nil, errors.New("candle count must be greater than zero")
	}
	if _, ok := supportedGranularities[c.opts.Granularity]; !ok {
		return nil, fmt.Errorf("granularity %s not supported by coinbase", c.opts.Granularity)
	}

	gran := c.opts.Granularity
	end := c.opts.Now().UTC().Truncate(gran)
	collected := make([]Candle, 0, count)

	c.logger.Debug().Str("product", product).Int("count", count).Dur("granularity", gran).Msg("retrieving candles")
	for len(collected) < count {
		page := c.opts.PageSize
		if remaining := count - len(collected); remaining < page {
			page = remaining
		}
		start := end.Add(-time.Duration(page-1) * gran)

		candles, err := c.candles(ctx, product, start, end)
		if err != nil {
			return nil, err
		}
		if len(candles) == 0 {
			break
		}
		collected = append(collected, candles...)
		end = start.Add(-gran)
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].Time.After(collected[j].Time) })
	if len(collected) < count {
		return nil, fmt.Errorf("%w: wanted %d candles for %s, got %d", ErrNoData, count, product, len(collected))
	}
	collected = collected[:count]

	times := make([]time.Time, len(collected))
	for i, candle := range collected {
		times[i] = candle.Time
	}
	if err := checkSpacing(times, gran); err != nil {
		return nil, err
	}
	return collected, nil
}

// PriceAt returns the open of the newest candle starting strictly before at.
func (c *Coinbase) PriceAt(ctx context.Context, inst Instrument, at time.Time) (decimal.Decimal, error) {
	if inst.Product == "" {
		return decimal.Decimal{}, errors.New("product not configured")
	}
	gran := c.opts.Granularity
	at = at.UTC()

	candles, err := c.candles(ctx, inst.Product, at.Add(-10*gran), at)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var best *Candle
	for i := range candles {
		candle := &candles[i]
		if !candle.Time.Before(at) {
			continue
		}
		if best == nil || candle.Time.After(best.Time) {
			best = candle
		}
	}
	if best == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: no candle for %s before %s", ErrNoData, inst.Product, at.Format(time.RFC3339))
	}

	c.logger.Debug().Str("product", inst.Product).Time("requested", at).Time("candle", best.Time).Str("price", best.Open.String()).Msg("resolved historical price")
	return best.Open, nil
}

func (c *Coinbase) candles(ctx context.Context, product string, start, end time.Time) ([]Candle, error) {
	query := url.Values{}
	query.Set("start", start.Format(time.RFC3339))
	query.Set("end", end.Format(time.RFC3339))
	query.Set("granularity", fmt.Sprintf("%d", int64(c.opts.Granularity/time.Second)))
	endpoint := fmt.Sprintf("%s/products/%s/candles?%s", c.baseURL, url.PathEscape(product), query.Encode())

	payload, err := c.getWithRetry(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return parseCandles(payload)
}

// getWithRetry retries HTTP 429 responses after RetryWait, up to MaxRetries times.
func (c *Coinbase) getWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		} else {
			req.Header.Set("User-Agent", "emawatcher/1.0")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		payload, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return payload, nil
		case resp.StatusCode == http.StatusTooManyRequests && attempt < c.opts.MaxRetries:
			c.logger.Info().Int("attempt", attempt+1).Dur("wait", c.opts.RetryWait).Msg("rate limited by coinbase, retrying")
			timer := time.NewTimer(c.opts.RetryWait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		default:
			return nil, parseHTTPError(resp.StatusCode, payload)
		}
	}
}

func parseCandles(payload []byte) ([]Candle, error) {
	var raw [][]json.Number
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}

	candles := make([]Candle, 0, len(raw))
	for i, entry := range raw {
		if len(entry) < 6 {
			return nil, fmt.Errorf("candle %d has %d fields, want 6", i, len(entry))
		}
		ts, err := entry[0].Int64()
		if err != nil {
			return nil, fmt.Errorf("parse candle %d time: %w", i, err)
		}
		values := make([]decimal.Decimal, 5)
		for j := range values {
			values[j], err = decimal.NewFromString(entry[j+1].String())
			if err != nil {
				return nil, fmt.Errorf("parse candle %d field %d: %w", i, j+1, err)
			}
		}
		candles = append(candles, Candle{
			Time:   time.Unix(ts, 0).UTC(),
			Low:    values[0],
			High:   values[1],
			Open:   values[2],
			Close:  values[3],
			Volume: values[4],
		})
	}
	return candles, nil
}

type errorResponse struct {
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("coinbase api error (%d): %s", status, apiErr.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("coinbase api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("coinbase api error (%d)", status)
}

var _ Source = (*Coinbase)(nil)
