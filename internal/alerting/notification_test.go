package alerting

import (
	"testing"
	"time"
)

func TestClassifyChange(t *testing.T) {
	cases := map[float64]Band{
		2.5:  BandGood,
		1:    BandNeutral,
		0.01: BandNeutral,
		0:    BandWarning,
		-0.9: BandWarning,
		-1:   BandDanger,
		-12:  BandDanger,
	}
	for pct, want := range cases {
		if got := ClassifyChange(pct); got != want {
			t.Fatalf("%v: want %s, got %s", pct, want, got)
		}
	}
}

func TestBuildComparisons(t *testing.T) {
	// hourly series, newest first: 110 now, 100 an hour ago, 50 everywhere else
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 50
	}
	prices[0], prices[1] = 110, 100

	lookbacks := []Lookback{
		{Label: "1 hour", Ago: time.Hour},
		{Label: "2 hours", Ago: 2 * time.Hour},
		{Label: "90 minutes", Ago: 90 * time.Minute},
		{Label: "7 days", Ago: 7 * 24 * time.Hour},
	}
	got := BuildComparisons(prices, 3, time.Hour, lookbacks)
	if len(got) != 2 {
		t.Fatalf("expected the uneven and too-old lookbacks to be skipped, got %+v", got)
	}
	if got[0].Label != "1 hour" || got[0].ChangePct.String() != "10" {
		t.Fatalf("unexpected 1 hour comparison %+v", got[0])
	}
	if got[1].Price.String() != "50" || got[1].ChangePct.String() != "120" {
		t.Fatalf("unexpected 2 hour comparison %+v", got[1])
	}
}

func TestBuildComparisonsNeedsWindowAtOffset(t *testing.T) {
	prices := []float64{10, 9, 8, 7, 6, 5, 4}
	// window 3 needs six points behind the offset
	got := BuildComparisons(prices, 3, time.Hour, []Lookback{{Label: "1 hour", Ago: time.Hour}, {Label: "2 hours", Ago: 2 * time.Hour}})
	if len(got) != 1 || got[0].Label != "1 hour" {
		t.Fatalf("unexpected comparisons %+v", got)
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice("$", 43210.4); got != "$43,210" {
		t.Fatalf("unexpected grouping %q", got)
	}
	if got := FormatPrice("£", 12.345); got != "£12.35" && got != "£12.34" {
		t.Fatalf("small prices keep cents, got %q", got)
	}
}
