package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ema-price-alerts/internal/signal"
)

func TestFileMissingStateIsDefault(t *testing.T) {
	store := NewFile(t.TempDir())

	state, err := store.Load(context.Background(), "btc")
	if err != nil {
		t.Fatalf("missing file is a cold start, not an error: %v", err)
	}
	if !state.Equal(signal.DefaultState()) {
		t.Fatalf("expected default state, got %+v", state)
	}
}

func TestFileRoundTrip(t *testing.T) {
	store := NewFile(t.TempDir())
	ctx := context.Background()
	price := 43210.5

	states := []signal.AlertState{
		signal.DefaultState(),
		{EMAReset: false, LastPrice: &price, LastRising: false},
		{EMAReset: true, LastPrice: &price, LastRising: true},
	}
	for _, want := range states {
		if err := store.Save(ctx, "btc", want); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := store.Load(ctx, "btc")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if !got.Equal(want) {
			t.Fatalf("round trip mismatch: want %+v, got %+v", want, got)
		}
	}
}

func TestFileWireFormat(t *testing.T) {
	dir := t.TempDir()
	store := NewFile(dir)
	price := 100.0

	if err := store.Save(context.Background(), "btc", signal.AlertState{LastPrice: &price, LastRising: true}); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "last_post_data_btc.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, fragment := range []string{`"ema_reset": false`, `"last_post"`, `"price": 100`, `"rising": true`} {
		if !strings.Contains(string(data), fragment) {
			t.Fatalf("state file missing %s: %s", fragment, data)
		}
	}
}

func TestFileReadsLegacyRecordWithNullPrice(t *testing.T) {
	dir := t.TempDir()
	body := `{"ema_reset": true, "last_post": {"price": null, "rising": true}}`
	if err := os.WriteFile(filepath.Join(dir, "last_post_data_btc.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	state, err := NewFile(dir).Load(context.Background(), "btc")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.HasAnchor() || !state.EMAReset {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestFileCorruptStateFallsBack(t *testing.T) {
	dir := t.TempDir()
	cases := []string{`{not json`, `{"ema_reset": false}`}
	for _, body := range cases {
		if err := os.WriteFile(filepath.Join(dir, "last_post_data_btc.json"), []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		state, err := NewFile(dir).Load(context.Background(), "btc")
		if !errors.Is(err, ErrStateUnreadable) {
			t.Fatalf("expected ErrStateUnreadable for %q, got %v", body, err)
		}
		if !state.Equal(signal.DefaultState()) {
			t.Fatalf("corrupt state must fall back to default, got %+v", state)
		}
	}
}

func TestFileSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFile(dir)
	for i := 0; i < 3; i++ {
		if err := store.Save(context.Background(), "eth/eur", signal.DefaultState()); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	want := filepath.Base(store.Path("eth/eur"))
	if !strings.HasPrefix(want, "last_post_data_eth_eur_") {
		t.Fatalf("unexpected state file name %s", want)
	}
	if len(entries) != 1 || entries[0].Name() != want {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected a single sanitized state file, got %v", names)
	}
}

func TestFileDistinctJobsDoNotShareRecord(t *testing.T) {
	store := NewFile(t.TempDir())
	ctx := context.Background()

	if store.Path("btc.usd") == store.Path("btc_usd") {
		t.Fatalf("jobs btc.usd and btc_usd map to the same file %s", store.Path("btc_usd"))
	}
	if got := filepath.Base(store.Path("btc_usd")); got != "last_post_data_btc_usd.json" {
		t.Fatalf("safe names should be used as is, got %s", got)
	}

	price := 50000.0
	fired := signal.AlertState{EMAReset: false, LastPrice: &price, LastRising: true}
	if err := store.Save(ctx, "btc.usd", fired); err != nil {
		t.Fatalf("save: %v", err)
	}

	other, err := store.Load(ctx, "btc_usd")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !other.Equal(signal.DefaultState()) {
		t.Fatalf("btc_usd picked up btc.usd's state: %+v", other)
	}
	got, err := store.Load(ctx, "btc.usd")
	if err != nil || !got.Equal(fired) {
		t.Fatalf("btc.usd state lost: %+v, %v", got, err)
	}
}
