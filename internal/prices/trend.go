package prices

import (
	"context"
	"time"

	"github.com/sells-group/ratio-cli/internal/model"
	"github.com/sells-group/ratio-cli/internal/ratios"
)

// Trend computes the price trend ratio: the close near the filing date over
// the close further back.
type Trend struct {
	lookup   *Lookup
	nearDays int
	farDays  int
}

// NewTrend creates a Trend comparing filed-nearDays against filed-farDays
// (20 and 50 when <= 0).
func NewTrend(lookup *Lookup, nearDays, farDays int) *Trend {
	if nearDays <= 0 {
		nearDays = 20
	}
	if farDays <= 0 {
		farDays = 50
	}
	return &Trend{lookup: lookup, nearDays: nearDays, farDays: farDays}
}

// Ratio returns price(filed-near) / price(filed-far), passed through scale
// validation. It is nil when either price is missing or the far price is
// zero.
func (t *Trend) Ratio(ctx context.Context, ticker string, filed time.Time) (*float64, error) {
	filed = model.Date(filed)

	near, ok, err := t.lookup.PriceOnOrBefore(ctx, ticker, filed.AddDate(0, 0, -t.nearDays))
	if err != nil || !ok {
		return nil, err
	}
	far, ok, err := t.lookup.PriceOnOrBefore(ctx, ticker, filed.AddDate(0, 0, -t.farDays))
	if err != nil || !ok {
		return nil, err
	}
	if far == 0 {
		return nil, nil
	}

	v := near / far
	return ratios.Adjust(&v, model.PriceTrendRatio), nil
}
