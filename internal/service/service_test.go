package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ema-price-alerts/internal/alerting"
	"ema-price-alerts/internal/config"
	"ema-price-alerts/internal/fetcher"
	"ema-price-alerts/internal/signal"
	"ema-price-alerts/internal/storage"
)

type fakeSource struct {
	prices []float64
	err    error
	asked  int
}

func (f *fakeSource) FetchPrices(_ context.Context, _ fetcher.Instrument, count int) ([]float64, error) {
	f.asked = count
	if f.err != nil {
		return nil, f.err
	}
	if count < len(f.prices) {
		return f.prices[:count], nil
	}
	return f.prices, nil
}

func (f *fakeSource) Interval() time.Duration { return time.Hour }

type memStore struct {
	states  map[string]signal.AlertState
	loadErr error
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{states: map[string]signal.AlertState{}}
}

func (m *memStore) Load(_ context.Context, job string) (signal.AlertState, error) {
	if m.loadErr != nil {
		return signal.DefaultState(), m.loadErr
	}
	if st, ok := m.states[job]; ok {
		return st, nil
	}
	return signal.DefaultState(), nil
}

func (m *memStore) Save(_ context.Context, job string, st signal.AlertState) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.states[job] = st
	return nil
}

type lockingStore struct {
	*memStore
	held bool
	keys []int64
}

func (l *lockingStore) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	l.keys = append(l.keys, key)
	if l.held {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type fakeAlerts struct {
	records []storage.AlertRecord
}

func (f *fakeAlerts) InsertAlert(_ context.Context, rec storage.AlertRecord) (storage.AlertRecord, error) {
	rec.ID = int64(len(f.records) + 1)
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeAlerts) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return f.records, nil
}

func (f *fakeAlerts) DeleteAlertsBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeNotifier struct {
	notes []alerting.Notification
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, n alerting.Notification) error {
	f.notes = append(f.notes, n)
	return f.err
}

func testConfig() *config.Config {
	return &config.Config{
		Market: config.MarketConfig{Source: "chainlink"},
		Jobs: []config.JobConfig{{
			Name:              "btc",
			Product:           "BTC-USD",
			EMAWindow:         3,
			FireThresholdPct:  2.5,
			ResetThresholdPct: 1.25,
		}},
		Alerting: config.AlertingConfig{Enabled: true, Channels: []string{"slack"}},
	}
}

// rising returns a series whose newest price is well above a flat baseline
// and above the previous period.
func rising(n int) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 100
	}
	prices[0], prices[1] = 120, 110
	return prices
}

func newTestService(t *testing.T, cfg *config.Config, src *fakeSource, states storage.StateStore, alerts storage.AlertStore, notifier alerting.Notifier) *Service {
	t.Helper()
	svc, err := New(cfg, nil, src, states, alerts, notifier, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestEvaluateJobFiresNotifiesAndSaves(t *testing.T) {
	src := &fakeSource{prices: rising(200)}
	store := newMemStore()
	alerts := &fakeAlerts{}
	notifier := &fakeNotifier{}
	svc := newTestService(t, testConfig(), src, store, alerts, notifier)

	res, err := svc.EvaluateJob(context.Background(), svc.Jobs()[0])
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Decision.Fire || !res.Notified || !res.Saved {
		t.Fatalf("expected fire, notify and save: %+v", res)
	}
	if len(alerts.records) != 1 || alerts.records[0].Reason != signal.ReasonArmed {
		t.Fatalf("expected one audit record, got %+v", alerts.records)
	}
	if len(notifier.notes) != 1 || len(notifier.notes[0].Comparisons) != 3 {
		t.Fatalf("expected the 1h, 24h and 7d comparisons, got %+v", notifier.notes)
	}
	saved := store.states["btc"]
	if saved.EMAReset || !saved.HasAnchor() || *saved.LastPrice != 120 || !saved.LastRising {
		t.Fatalf("unexpected saved state %+v", saved)
	}
	// window 3 needs 6 points, plus 168 for the 7 day comparison
	if src.asked != 174 {
		t.Fatalf("expected 174 points requested, got %d", src.asked)
	}
}

func TestEvaluateJobSecondRunDoesNotRepost(t *testing.T) {
	src := &fakeSource{prices: rising(200)}
	store := newMemStore()
	notifier := &fakeNotifier{}
	svc := newTestService(t, testConfig(), src, store, nil, notifier)

	if _, err := svc.EvaluateJob(context.Background(), svc.Jobs()[0]); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := svc.EvaluateJob(context.Background(), svc.Jobs()[0])
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if res.Decision.Fire || res.Decision.Reason != signal.ReasonDoesNotBeatRepost {
		t.Fatalf("same price must not repost: %+v", res.Decision)
	}
	if len(notifier.notes) != 1 || store.saves != 1 {
		t.Fatalf("expected a single notification and save, got %d notes %d saves", len(notifier.notes), store.saves)
	}
}

func TestEvaluateJobLoadFailureUsesDefault(t *testing.T) {
	store := newMemStore()
	store.loadErr = storage.ErrStateUnreadable
	svc := newTestService(t, testConfig(), &fakeSource{prices: rising(200)}, store, nil, &fakeNotifier{})

	res, err := svc.EvaluateJob(context.Background(), svc.Jobs()[0])
	if err != nil {
		t.Fatalf("unreadable state must not be fatal: %v", err)
	}
	if !res.Decision.Fire {
		t.Fatalf("default state is armed and should fire: %+v", res.Decision)
	}
}

func TestEvaluateJobSaveFailureStillNotifies(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	notifier := &fakeNotifier{}
	svc := newTestService(t, testConfig(), &fakeSource{prices: rising(200)}, store, nil, notifier)

	res, err := svc.EvaluateJob(context.Background(), svc.Jobs()[0])
	if err == nil {
		t.Fatal("save failure must be reported")
	}
	if !res.Notified || len(notifier.notes) != 1 {
		t.Fatal("notification should have gone out before the save")
	}
}

func TestEvaluateJobInsufficientDataSkips(t *testing.T) {
	store := newMemStore()
	notifier := &fakeNotifier{}
	svc := newTestService(t, testConfig(), &fakeSource{prices: []float64{1, 2, 3}}, store, nil, notifier)

	res, err := svc.EvaluateJob(context.Background(), svc.Jobs()[0])
	if err != nil {
		t.Fatalf("short history is a skip, not an error: %v", err)
	}
	if !res.Skipped || store.saves != 0 || len(notifier.notes) != 0 {
		t.Fatalf("unexpected side effects: %+v", res)
	}
}

func TestEvaluateJobFetchError(t *testing.T) {
	svc := newTestService(t, testConfig(), &fakeSource{err: errors.New("timeout")}, newMemStore(), nil, nil)
	if _, err := svc.EvaluateJob(context.Background(), svc.Jobs()[0]); err == nil {
		t.Fatal("fetch failure should be returned")
	}
}

func TestEvaluateJobAlertingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.Enabled = false
	store := newMemStore()
	notifier := &fakeNotifier{}
	svc := newTestService(t, cfg, &fakeSource{prices: rising(200)}, store, nil, notifier)

	res, err := svc.EvaluateJob(context.Background(), svc.Jobs()[0])
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(notifier.notes) != 0 || res.Notified {
		t.Fatal("disabled alerting must not notify")
	}
	if !res.Saved {
		t.Fatal("state still advances when alerting is disabled")
	}
}

func TestEvaluateJobSkipsWhenLocked(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.AdvisoryLockKey = 7
	store := &lockingStore{memStore: newMemStore(), held: true}
	src := &fakeSource{prices: rising(200)}
	svc := newTestService(t, cfg, src, store, nil, nil)

	res, err := svc.EvaluateJob(context.Background(), svc.Jobs()[0])
	if err != nil || !res.Skipped {
		t.Fatalf("held lock should skip: %+v %v", res, err)
	}
	if src.asked != 0 {
		t.Fatal("nothing should be fetched without the lock")
	}
	if len(store.keys) != 1 || store.keys[0] != JobLockKey(7, "btc") {
		t.Fatalf("unexpected lock keys %v", store.keys)
	}
}

func TestEvaluateAllCollectsErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Jobs = append(cfg.Jobs, config.JobConfig{Name: "eth", Product: "ETH-USD", EMAWindow: 3, FireThresholdPct: 2.5, ResetThresholdPct: 1.25})
	svc := newTestService(t, cfg, &fakeSource{err: errors.New("down")}, newMemStore(), nil, nil)

	results, err := svc.EvaluateAll(context.Background())
	if err == nil || len(results) != 2 {
		t.Fatalf("expected both jobs attempted and errors joined, got %d results, err %v", len(results), err)
	}
}

func TestJobLockKeyDistinct(t *testing.T) {
	if JobLockKey(1, "btc") == JobLockKey(1, "eth") {
		t.Fatal("jobs should lock independently")
	}
	if JobLockKey(1, "btc") == JobLockKey(2, "btc") {
		t.Fatal("base key should namespace job locks")
	}
}
