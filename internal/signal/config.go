package signal

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig marks a threshold configuration that can never be evaluated.
var ErrInvalidConfig = errors.New("signal: invalid config")

// Config holds the immutable thresholds of one alert job.
type Config struct {
	EMAWindow         int
	FireThresholdPct  float64
	ResetThresholdPct float64
}

// NewConfig validates and returns a Config.
func NewConfig(emaWindow int, fireThresholdPct, resetThresholdPct float64) (Config, error) {
	cfg := Config{
		EMAWindow:         emaWindow,
		FireThresholdPct:  fireThresholdPct,
		ResetThresholdPct: resetThresholdPct,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects non-positive window or thresholds.
func (c Config) Validate() error {
	if c.EMAWindow <= 0 {
		return fmt.Errorf("%w: ema_window must be greater than zero, got %d", ErrInvalidConfig, c.EMAWindow)
	}
	if c.FireThresholdPct <= 0 {
		return fmt.Errorf("%w: fire_threshold_pct must be greater than zero, got %v", ErrInvalidConfig, c.FireThresholdPct)
	}
	if c.ResetThresholdPct <= 0 {
		return fmt.Errorf("%w: reset_threshold_pct must be greater than zero, got %v", ErrInvalidConfig, c.ResetThresholdPct)
	}
	return nil
}

// RequiredPoints is the shortest series Evaluate accepts.
func (c Config) RequiredPoints() int {
	return 2 * c.EMAWindow
}
