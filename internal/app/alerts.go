package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

var errNoAudit = errors.New("database not configured; alert audit unavailable")

// Alerts prints the most recent audited alerts.
func (a *App) Alerts(ctx context.Context, out io.Writer, opts AlertsOptions) error {
	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()
	if st.alerts == nil {
		return errNoAudit
	}

	alerts, err := st.alerts.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tJob\tProduct\tPrice\tEMA\tDiff%\tDirection\tChannels\tReason")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Job,
			alert.Product,
			formatDecimal(alert.Price, 2),
			formatDecimal(alert.EMA, 2),
			formatDecimal(alert.DeviationPct, 3),
			alert.Direction,
			strings.Join(alert.Channels, ","),
			sanitizeInline(alert.Reason),
		)
	}

	writer.Flush()
	return nil
}

// PruneAlerts deletes audited alerts older than the given age.
func (a *App) PruneAlerts(ctx context.Context, out io.Writer, olderThan time.Duration) error {
	if olderThan <= 0 {
		return errors.New("age must be greater than zero")
	}
	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()
	if st.alerts == nil {
		return errNoAudit
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	deleted, err := st.alerts.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	a.Logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned alert audit")
	fmt.Fprintf(out, "deleted %d alerts older than %s\n", deleted, cutoff.Format(time.RFC3339))
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
