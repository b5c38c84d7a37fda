package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"ema-price-alerts/internal/fetcher"
	"ema-price-alerts/internal/signal"
)

// seriesPoint is the EMA view of one period.
type seriesPoint struct {
	Time     time.Time
	Snapshot signal.Snapshot
}

// Export renders the job's price and EMA history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	job, err := a.Config.Job(opts.Job)
	if err != nil {
		return err
	}
	thresholds, err := job.Thresholds()
	if err != nil {
		return err
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	source := a.newSource()
	inst := fetcher.Instrument{Product: job.Product, FeedAddress: job.FeedAddress}
	prices, err := source.FetchPrices(ctx, inst, opts.MaxPoints+thresholds.RequiredPoints()-1)
	if err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}

	newest := time.Now().UTC().Truncate(source.Interval())
	points := buildSeries(prices, thresholds.EMAWindow, opts.MaxPoints, newest, source.Interval())
	if len(points) == 0 {
		a.Logger.Info().Msg("not enough history to export")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Str("job", job.Name).Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting series")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSeriesPNG(opts.PNGPath, job.Product, thresholds.EMAWindow, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// buildSeries computes a snapshot at up to max offsets of a newest-first
// series and returns them oldest first.
func buildSeries(pricesNewestFirst []float64, window, max int, newest time.Time, interval time.Duration) []seriesPoint {
	points := make([]seriesPoint, 0, max)
	for offset := 0; offset < max; offset++ {
		snap, err := signal.Compute(pricesNewestFirst, window, offset)
		if err != nil {
			break
		}
		points = append(points, seriesPoint{
			Time:     newest.Add(-time.Duration(offset) * interval),
			Snapshot: snap,
		})
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points
}

func downsamplePoints(points []seriesPoint, max int) []seriesPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]seriesPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeSeriesCSV(path string, points []seriesPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"period_ts", "price", "ema", "diff", "diff_pct", "direction"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.Time.Format(time.RFC3339),
			formatFloat(p.Snapshot.CurPrice),
			formatFloat(p.Snapshot.EMA),
			formatFloat(p.Snapshot.Diff),
			formatFloat(p.Snapshot.DiffPct),
			p.Snapshot.Direction(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSeriesPNG(path, product string, window int, points []seriesPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	price := make([]float64, len(points))
	ema := make([]float64, len(points))
	diffPct := make([]float64, len(points))

	for i, p := range points {
		x[i] = p.Time
		price[i] = p.Snapshot.CurPrice
		ema[i] = p.Snapshot.EMA
		diffPct[i] = p.Snapshot.DiffPct
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  product,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Diff from EMA (%)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "EMA(" + strconv.Itoa(window) + ")",
				XValues: x,
				YValues: ema,
			},
			chart.TimeSeries{
				Name:    "Diff %",
				XValues: x,
				YValues: diffPct,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
