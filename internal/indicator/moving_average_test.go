package indicator

import (
	"errors"
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	got, err := SMA([]float64{1, 2, 3, 4, 5}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 4.5 {
		t.Fatalf("expected 4.5, got %v", got)
	}
}

func TestSMAInsufficientData(t *testing.T) {
	if _, err := SMA([]float64{1, 2}, 3); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestEMASeedAndFold(t *testing.T) {
	// seed sma(100,101,102)=101, fold c=0.5: 102.5, 103.75, 104.875
	got, err := EMA([]float64{100, 101, 102, 104, 105, 106}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-104.875) > 1e-9 {
		t.Fatalf("expected 104.875, got %v", got)
	}
}

func TestEMAAscendingSeries(t *testing.T) {
	// only the trailing 2*window points count: seed sma(101,102,103)=102
	got, err := EMA([]float64{100, 101, 102, 103, 104, 105, 106}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-105) > 1e-9 {
		t.Fatalf("expected 105, got %v", got)
	}
}

func TestEMAUsesOnlyTrailingWindows(t *testing.T) {
	base := []float64{100, 101, 102, 103, 104, 105, 106}
	padded := append([]float64{1, 9999, -50}, base...)

	want, _ := EMA(base, 3)
	got, err := EMA(padded, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("leading points must not affect the result: want %v, got %v", want, got)
	}
}

func TestEMAInsufficientData(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	if _, err := EMA(data, 5); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("8 points with window 5 should fail, got %v", err)
	}
}

func TestInvalidWindow(t *testing.T) {
	if _, err := EMA([]float64{1, 2}, 0); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
	if _, err := SMA([]float64{1, 2}, -1); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}
