package model

import (
	"encoding/json"
	"math"
)

// RatioName names one of the fixed financial ratios.
type RatioName string

// Ratio names. Order matters: it is the column order of the ratio sink.
const (
	DebtToEquity    RatioName = "debt_to_equity"
	FCFYield        RatioName = "fcf_yield"
	CurrentRatio    RatioName = "current_ratio"
	ROE             RatioName = "roe"
	GrossMargin     RatioName = "gross_margin"
	OperatingMargin RatioName = "operating_margin"
	QuickRatio      RatioName = "quick_ratio"
	EPS             RatioName = "eps"
	EPSChange       RatioName = "eps_change"
	RevenueGrowth   RatioName = "revenue_growth"
	PriceTrendRatio RatioName = "price_trend_ratio"
)

// AllRatios lists every ratio in canonical order.
var AllRatios = []RatioName{
	DebtToEquity, FCFYield, CurrentRatio, ROE, GrossMargin, OperatingMargin,
	QuickRatio, EPS, EPSChange, RevenueGrowth, PriceTrendRatio,
}

// ComputedRatios are the ratios produced by the ratio engine. The price trend
// ratio is derived from the price series instead.
var ComputedRatios = AllRatios[:len(AllRatios)-1]

// GrowthRatios require a prior-period snapshot.
var GrowthRatios = []RatioName{EPSChange, RevenueGrowth}

// IsRatio reports whether name is one of the known ratios.
func IsRatio(name string) bool {
	for _, r := range AllRatios {
		if string(r) == name {
			return true
		}
	}
	return false
}

// RatioSet maps every ratio name to a finite value or nil (unknown). Build it
// with NewRatioSet so that every key is always present.
type RatioSet map[RatioName]*float64

// NewRatioSet returns a set with every ratio unknown.
func NewRatioSet() RatioSet {
	rs := make(RatioSet, len(AllRatios))
	for _, r := range AllRatios {
		rs[r] = nil
	}
	return rs
}

// Set stores v under name. Non-finite values and unknown names are treated as
// unknown.
func (rs RatioSet) Set(name RatioName, v *float64) {
	if !IsRatio(string(name)) {
		return
	}
	if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
		v = nil
	}
	if v != nil {
		c := *v
		v = &c
	}
	rs[name] = v
}

// Get returns the value for name or nil.
func (rs RatioSet) Get(name RatioName) *float64 {
	return rs[name]
}

// Known counts the ratios with a value.
func (rs RatioSet) Known() int {
	n := 0
	for _, r := range AllRatios {
		if rs[r] != nil {
			n++
		}
	}
	return n
}

// Values returns the ratio values in canonical order as driver arguments.
func (rs RatioSet) Values() []any {
	out := make([]any, len(AllRatios))
	for i, r := range AllRatios {
		if v := rs[r]; v != nil {
			out[i] = *v
		} else {
			out[i] = nil
		}
	}
	return out
}

// MarshalJSON always emits every ratio, unknown ones as null.
func (rs RatioSet) MarshalJSON() ([]byte, error) {
	m := make(map[string]*float64, len(AllRatios))
	for _, r := range AllRatios {
		m[string(r)] = rs[r]
	}
	return json.Marshal(m)
}

// Float returns a pointer to v, for building ratio values inline.
func Float(v float64) *float64 { return &v }
