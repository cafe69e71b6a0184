// Package ratios computes the fixed financial ratio set for a filing from its
// sanitized snapshots, delegating the arithmetic to a pluggable Calculator.
package ratios

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/ratio-cli/internal/model"
)

// Bounds is the plausible range of a ratio, inclusive on both ends.
type Bounds struct {
	Min, Max float64
}

// Contains reports whether v falls inside b.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

var ratioBounds = map[model.RatioName]Bounds{
	model.DebtToEquity:    {-5, 20},
	model.FCFYield:        {-1, 1},
	model.CurrentRatio:    {0.05, 15},
	model.ROE:             {-2, 2},
	model.GrossMargin:     {-1, 1},
	model.OperatingMargin: {-2, 1},
	model.QuickRatio:      {0.05, 15},
	model.EPS:             {-100, 500},
	model.EPSChange:       {-10, 10},
	model.RevenueGrowth:   {-1, 5},
	model.PriceTrendRatio: {0.2, 5},
}

// Ratios that are often reported as percentages instead of fractions.
var percentLike = map[model.RatioName]bool{
	model.GrossMargin:     true,
	model.OperatingMargin: true,
	model.ROE:             true,
	model.FCFYield:        true,
}

const (
	percentMin = 1.5
	percentMax = 200
)

// RangeFor returns the plausible range for name.
func RangeFor(name model.RatioName) (Bounds, bool) {
	b, ok := ratioBounds[name]
	return b, ok
}

// Adjust validates value against the plausible range for name. Non-finite
// values become unknown. A margin or yield that looks like a stray percentage
// is divided by 100 when that brings it into range. Any other out-of-range
// value is logged and returned unchanged.
// The percentage repair can mask genuinely large ratios.
func Adjust(value *float64, name model.RatioName) *float64 {
	if value == nil || math.IsNaN(*value) || math.IsInf(*value, 0) {
		return nil
	}
	v := *value
	b, ok := ratioBounds[name]
	if !ok || b.Contains(v) {
		return &v
	}

	log := zap.L().With(zap.String("component", "ratios.adjust"), zap.String("ratio", string(name)))

	if percentLike[name] {
		if abs := math.Abs(v); abs >= percentMin && abs <= percentMax {
			if repaired := v / 100; b.Contains(repaired) {
				log.Debug("rescaled percentage", zap.Float64("raw", v), zap.Float64("value", repaired))
				return &repaired
			}
		}
	}

	log.Warn("ratio out of plausible range",
		zap.Float64("value", v),
		zap.Float64("min", b.Min),
		zap.Float64("max", b.Max),
	)
	return &v
}

// AdjustAll applies Adjust to every ratio in rs, in place.
func AdjustAll(rs model.RatioSet) {
	for _, name := range model.AllRatios {
		rs[name] = Adjust(rs[name], name)
	}
}
