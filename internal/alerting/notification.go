package alerting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"ema-price-alerts/internal/currency"
	"ema-price-alerts/internal/signal"
)

// Band classifies a percentage change for display.
type Band string

const (
	BandGood    Band = "good"
	BandNeutral Band = "neutral"
	BandWarning Band = "warning"
	BandDanger  Band = "danger"
)

// ClassifyChange maps a percentage change onto a display band.
func ClassifyChange(pct float64) Band {
	switch {
	case pct > 1:
		return BandGood
	case pct > 0:
		return BandNeutral
	case pct > -1:
		return BandWarning
	default:
		return BandDanger
	}
}

// Lookback is a historical comparison point relative to the newest price.
type Lookback struct {
	Label string
	Ago   time.Duration
}

// DefaultLookbacks are the comparison points attached to every alert.
var DefaultLookbacks = []Lookback{
	{Label: "1 hour", Ago: time.Hour},
	{Label: "24 hours", Ago: 24 * time.Hour},
	{Label: "7 days", Ago: 7 * 24 * time.Hour},
}

// Comparison is the price some time ago and the change since.
type Comparison struct {
	Label     string
	Price     decimal.Decimal
	ChangePct decimal.Decimal
}

// NewComparison compares cur against an earlier price then, which must be non-zero.
func NewComparison(label string, cur, then decimal.Decimal) Comparison {
	return Comparison{
		Label:     label,
		Price:     then,
		ChangePct: cur.Sub(then).Div(then).Mul(decimal.NewFromInt(100)),
	}
}

// Band returns the display band of the change.
func (c Comparison) Band() Band {
	return ClassifyChange(c.ChangePct.InexactFloat64())
}

// Notification 封装一次告警的上下文。
type Notification struct {
	Job         string
	Product     string
	Decision    signal.Decision
	Comparisons []Comparison
	Channels    []string
	Time        time.Time
}

// Pair returns the currency pair of the product, falling back to the default.
func (n Notification) Pair() currency.Pair {
	pair, err := currency.ParseProduct(n.Product)
	if err != nil {
		return currency.Default()
	}
	return pair
}

// BuildComparisons computes a snapshot at each lookback offset of a series
// spaced interval apart. Lookbacks that are not a whole number of intervals
// or fall outside the series are skipped.
func BuildComparisons(pricesNewestFirst []float64, window int, interval time.Duration, lookbacks []Lookback) []Comparison {
	if len(pricesNewestFirst) == 0 || interval <= 0 {
		return nil
	}
	cur := decimal.NewFromFloat(pricesNewestFirst[0])

	out := make([]Comparison, 0, len(lookbacks))
	for _, lb := range lookbacks {
		if lb.Ago%interval != 0 {
			continue
		}
		offset := int(lb.Ago / interval)
		snap, err := signal.Compute(pricesNewestFirst, window, offset)
		if err != nil || snap.CurPrice == 0 {
			continue
		}
		out = append(out, NewComparison(lb.Label, cur, decimal.NewFromFloat(snap.CurPrice)))
	}
	return out
}

var printer = message.NewPrinter(language.English)

// FormatPrice renders a price with digit grouping, dropping cents on large values.
func FormatPrice(symbol string, price float64) string {
	if math.Abs(price) >= 1000 {
		return symbol + printer.Sprintf("%.0f", price)
	}
	return symbol + printer.Sprintf("%.2f", price)
}

// FormatChange renders a signed percentage.
func FormatChange(pct decimal.Decimal) string {
	return printer.Sprintf("%+.2f%%", pct.InexactFloat64())
}

// Headline is the one-line summary shared by every channel.
func (n Notification) Headline() string {
	pair := n.Pair()
	dir := "down"
	if n.Decision.Snapshot.Rising {
		dir = "up"
	}
	return pair.CryptoName() + "'s price has gone " + dir + ". Current price: " +
		FormatPrice(pair.FiatSymbol(), n.Decision.Snapshot.CurPrice)
}

// ComparisonLine renders one comparison.
func (n Notification) ComparisonLine(c Comparison) string {
	return ComparisonText(n.Pair(), c)
}

// ComparisonText renders a comparison in the quote currency of pair.
func ComparisonText(pair currency.Pair, c Comparison) string {
	return "Price " + c.Label + " ago: " + FormatPrice(pair.FiatSymbol(), c.Price.InexactFloat64()) + " (" + FormatChange(c.ChangePct) + ")"
}

// EMALine renders the indicator reading that triggered the alert.
func (n Notification) EMALine() string {
	snap := n.Decision.Snapshot
	return "EMA: " + FormatPrice(n.Pair().FiatSymbol(), snap.EMA) + " (" +
		FormatChange(decimal.NewFromFloat(snap.DiffPct)) + " from EMA, " + n.Decision.Reason + ")"
}

// MultiNotifier fans a notification out to every configured channel.
type MultiNotifier struct {
	names     []string
	notifiers []Notifier
}

// NewMultiNotifier constructs an empty fan-out.
func NewMultiNotifier() *MultiNotifier {
	return &MultiNotifier{}
}

// Add registers a channel.
func (m *MultiNotifier) Add(name string, n Notifier) {
	m.names = append(m.names, name)
	m.notifiers = append(m.notifiers, n)
}

// Channels lists the registered channel names.
func (m *MultiNotifier) Channels() []string {
	return append([]string(nil), m.names...)
}

// Len reports how many channels are registered.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// Notify delivers to every channel, continuing past failures.
func (m *MultiNotifier) Notify(ctx context.Context, note Notification) error {
	if len(note.Channels) == 0 {
		note.Channels = m.Channels()
	}
	var errs []error
	for i, n := range m.notifiers {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.names[i], err))
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = (*MultiNotifier)(nil)
