// Package prices looks up adjusted closing prices and derives the price
// trend ratio from them.
package prices

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ratio-cli/internal/model"
	"github.com/sells-group/ratio-cli/internal/resilience"
)

// Source answers range queries over the daily price series. from and to are
// inclusive calendar days.
type Source interface {
	Closes(ctx context.Context, ticker string, from, to time.Time) ([]model.PricePoint, error)
}

// Lookup finds the most recent close on or before a date.
type Lookup struct {
	src          Source
	lookbackDays int
	retry        resilience.Policy
}

// NewLookup creates a Lookup searching lookbackDays back (7 when <= 0).
func NewLookup(src Source, lookbackDays int, retry resilience.Policy) *Lookup {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	if retry.OnRetry == nil {
		retry = retry.WithLogger("prices", "closes")
	}
	return &Lookup{src: src, lookbackDays: lookbackDays, retry: retry}
}

// PriceOnOrBefore returns the latest adjusted close within
// [date-lookback, date]. ok is false when there is none.
func (l *Lookup) PriceOnOrBefore(ctx context.Context, ticker string, date time.Time) (float64, bool, error) {
	to := model.Date(date)
	from := to.AddDate(0, 0, -l.lookbackDays)

	points, err := resilience.DoVal(ctx, l.retry, func(ctx context.Context) ([]model.PricePoint, error) {
		return l.src.Closes(ctx, ticker, from, to)
	})
	if err != nil {
		return 0, false, eris.Wrapf(err, "prices: closes for %s", ticker)
	}

	var (
		best  model.PricePoint
		found bool
	)
	for _, p := range points {
		if p.Ticker != "" && !strings.EqualFold(p.Ticker, ticker) {
			continue
		}
		d := model.Date(p.Date)
		if d.Before(from) || d.After(to) || math.IsNaN(p.AdjClose) || math.IsInf(p.AdjClose, 0) {
			continue
		}
		if !found || d.After(model.Date(best.Date)) {
			best, found = p, true
		}
	}
	if !found {
		return 0, false, nil
	}
	return best.AdjClose, true, nil
}

// Price adapts PriceOnOrBefore to the nil-for-unknown form used when
// building snapshots.
func (l *Lookup) Price(ctx context.Context, ticker string, date time.Time) (*float64, error) {
	v, ok, err := l.PriceOnOrBefore(ctx, ticker, date)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}
