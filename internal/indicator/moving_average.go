package indicator

import (
	"errors"
	"fmt"
)

// ErrInsufficientData reports a series too short for the requested window.
// It is an expected condition while history accumulates, not a fault.
var ErrInsufficientData = errors.New("indicator: insufficient data")

// ErrInvalidWindow indicates a non-positive averaging window.
var ErrInvalidWindow = errors.New("indicator: window must be positive")

// SMA returns the mean of the last window elements of data (oldest first).
func SMA(data []float64, window int) (float64, error) {
	if window <= 0 {
		return 0, ErrInvalidWindow
	}
	if len(data) < window {
		return 0, fmt.Errorf("%w: sma needs %d points, have %d", ErrInsufficientData, window, len(data))
	}

	sum := 0.0
	for _, v := range data[len(data)-window:] {
		sum += v
	}
	return sum / float64(window), nil
}

// EMA returns the exponential moving average over the last window elements
// of data (oldest first), seeded with the SMA of the window before them.
func EMA(data []float64, window int) (float64, error) {
	if window <= 0 {
		return 0, ErrInvalidWindow
	}
	if len(data) < 2*window {
		return 0, fmt.Errorf("%w: ema needs %d points, have %d", ErrInsufficientData, 2*window, len(data))
	}

	n := len(data)
	current, err := SMA(data[n-2*window:n-window], window)
	if err != nil {
		return 0, err
	}

	c := 2.0 / float64(window+1)
	for _, v := range data[n-window:] {
		current = c*v + (1-c)*current
	}
	return current, nil
}
