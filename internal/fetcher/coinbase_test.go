package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var fixedNow = time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func hourPrice(t time.Time) float64 {
	return float64(100 + t.Unix()/3600%1000)
}

// candleServer serves hourly candles for any requested range, newest first,
// skipping the timestamps listed in missing.
func candleServer(t *testing.T, requests *int32, missing ...time.Time) *httptest.Server {
	skip := make(map[int64]bool, len(missing))
	for _, m := range missing {
		skip[m.Unix()] = true
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		if !strings.HasSuffix(r.URL.Path, "/products/BTC-USD/candles") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("granularity") != "3600" {
			t.Errorf("granularity should be 3600, got %s", r.URL.Query().Get("granularity"))
		}
		start, _ := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
		end, _ := time.Parse(time.RFC3339, r.URL.Query().Get("end"))

		out := make([][]float64, 0)
		for ts := end; !ts.Before(start); ts = ts.Add(-time.Hour) {
			if skip[ts.Unix()] {
				continue
			}
			p := hourPrice(ts)
			out = append(out, []float64{float64(ts.Unix()), p - 1, p + 1, p, p + 0.5, 10})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
}

func newTestCoinbase(url string, pageSize int) *Coinbase {
	return NewCoinbase(CoinbaseOptions{
		BaseURL:     url,
		Granularity: time.Hour,
		Timeout:     time.Second,
		MaxRetries:  3,
		RetryWait:   time.Millisecond,
		PageSize:    pageSize,
		Now:         func() time.Time { return fixedNow },
	}, noopLogger())
}

func TestCoinbaseFetchPricesPaginates(t *testing.T) {
	var requests int32
	srv := candleServer(t, &requests)
	defer srv.Close()

	cb := newTestCoinbase(srv.URL, 50)
	prices, err := cb.FetchPrices(context.Background(), Instrument{Product: "BTC-USD"}, 120)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(prices) != 120 {
		t.Fatalf("expected 120 prices, got %d", len(prices))
	}
	newest := fixedNow.Truncate(time.Hour)
	if prices[0] != hourPrice(newest) {
		t.Fatalf("newest price should be the %s open, got %v", newest, prices[0])
	}
	if prices[119] != hourPrice(newest.Add(-119*time.Hour)) {
		t.Fatalf("oldest price mismatch: %v", prices[119])
	}
	if got := atomic.LoadInt32(&requests); got != 3 {
		t.Fatalf("expected 3 paged requests, got %d", got)
	}
}

func TestCoinbaseRejectsGaps(t *testing.T) {
	var requests int32
	gap := fixedNow.Truncate(time.Hour).Add(-3 * time.Hour)
	srv := candleServer(t, &requests, gap)
	defer srv.Close()

	_, err := newTestCoinbase(srv.URL, 0).FetchPrices(context.Background(), Instrument{Product: "BTC-USD"}, 10)
	if !errors.Is(err, ErrIrregularSeries) {
		t.Fatalf("missing candle should be reported, got %v", err)
	}
}

func TestCoinbaseRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode([][]float64{{float64(fixedNow.Truncate(time.Hour).Unix()), 1, 3, 2, 2.5, 1}})
	}))
	defer srv.Close()

	prices, err := newTestCoinbase(srv.URL, 0).FetchPrices(context.Background(), Instrument{Product: "BTC-USD"}, 1)
	if err != nil {
		t.Fatalf("429 should be retried: %v", err)
	}
	if len(prices) != 1 || prices[0] != 2 {
		t.Fatalf("unexpected prices %v", prices)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestCoinbaseGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := newTestCoinbase(srv.URL, 0).FetchPrices(context.Background(), Instrument{Product: "BTC-USD"}, 1); err == nil {
		t.Fatal("persistent 429 should fail")
	}
}

func TestCoinbaseHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "NotFound"})
	}))
	defer srv.Close()

	_, err := newTestCoinbase(srv.URL, 0).FetchPrices(context.Background(), Instrument{Product: "BTC-USD"}, 1)
	if err == nil || !strings.Contains(err.Error(), "NotFound") {
		t.Fatalf("expected api message in error, got %v", err)
	}
}

func TestCoinbasePriceAt(t *testing.T) {
	var requests int32
	srv := candleServer(t, &requests)
	defer srv.Close()

	at := fixedNow.Truncate(time.Hour)
	price, err := newTestCoinbase(srv.URL, 0).PriceAt(context.Background(), Instrument{Product: "BTC-USD"}, at)
	if err != nil {
		t.Fatalf("price at: %v", err)
	}
	want := hourPrice(at.Add(-time.Hour))
	if price.InexactFloat64() != want {
		t.Fatalf("expected the candle strictly before %s (%v), got %s", at, want, price)
	}
}

func TestCoinbaseMissingProduct(t *testing.T) {
	cb := newTestCoinbase("http://127.0.0.1:0", 0)
	if _, err := cb.FetchPrices(context.Background(), Instrument{}, 5); err == nil {
		t.Fatal("missing product should fail")
	}
}
