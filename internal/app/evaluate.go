package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"ema-price-alerts/internal/service"
)

// Evaluate runs a single pass over every job, as a cron entry would, and
// prints one line per job.
func (a *App) Evaluate(ctx context.Context, out io.Writer) error {
	svc, closeStores, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStores()

	results, err := svc.EvaluateAll(ctx)
	writeResults(out, results)
	return err
}

func writeResults(out io.Writer, results []service.Result) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Job\tPrice\tEMA\tDiff%\tFire\tReason")
	for _, res := range results {
		if res.Skipped {
			fmt.Fprintf(writer, "%s\t-\t-\t-\t-\tskipped\n", res.Job)
			continue
		}
		if res.Decision.Reason == "" {
			fmt.Fprintf(writer, "%s\t-\t-\t-\t-\tfailed\n", res.Job)
			continue
		}
		snap := res.Decision.Snapshot
		fmt.Fprintf(writer, "%s\t%.2f\t%.2f\t%+.3f\t%t\t%s\n",
			res.Job, snap.CurPrice, snap.EMA, snap.DiffPct, res.Decision.Fire, res.Decision.Reason)
	}
	writer.Flush()
}
