package version

import (
	"fmt"
	"runtime"
)

// Build metadata, set with -ldflags "-X ema-price-alerts/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders a one-line build description.
func String() string {
	return fmt.Sprintf("emawatcher %s (%s, built %s, %s)", Version, Commit, BuildDate, runtime.Version())
}
