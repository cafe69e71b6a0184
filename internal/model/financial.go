package model

import "time"

// RawFact is one reported value for a concept as it appears in the record
// store. Value is whatever the store holds: a number, a numeric string, or
// junk. PeriodEnd is nil when the fact carries no period date.
type RawFact struct {
	Concept    string     `json:"concept"`
	Value      any        `json:"value"`
	PeriodEnd  *time.Time `json:"period_end_date,omitempty"`
	HasSegment bool       `json:"has_segment"`
}

// RawFinancialRecord is a ticker-scoped record for one nominal period. The
// same concept may appear several times (indexed or segmented variants).
// Accession is the source filing when known.
type RawFinancialRecord struct {
	Ticker    string    `json:"ticker"`
	PeriodEnd time.Time `json:"period_end_date"`
	Accession string    `json:"accession_number,omitempty"`
	Facts     []RawFact `json:"facts"`
}

// ConsolidatedRecord holds exactly one value per canonical concept. Concepts
// without any usable candidate are absent, never zero-filled.
type ConsolidatedRecord struct {
	Ticker        string             `json:"ticker"`
	PeriodEnd     time.Time          `json:"period_end_date"`
	Values        map[string]float64 `json:"values"`
	PriceAdjClose *float64           `json:"price_adj_close,omitempty"`
}

// PriceAdjCloseField is the key under which the looked-up share price is
// exposed to the ratio engine.
const PriceAdjCloseField = "price_adj_close"

// Fields flattens the record into the loosely typed mapping accepted by the
// numeric sanitizer, including identity columns that the sanitizer strips.
func (c ConsolidatedRecord) Fields() map[string]any {
	out := make(map[string]any, len(c.Values)+3)
	out["ticker"] = c.Ticker
	out["period_end_date"] = c.PeriodEnd
	for k, v := range c.Values {
		out[k] = v
	}
	if c.PriceAdjClose != nil {
		out[PriceAdjCloseField] = *c.PriceAdjClose
	}
	return out
}

// SanitizedRecord contains only finite numeric values. An empty record stands
// for "no data".
type SanitizedRecord map[string]float64

// Empty reports whether the record carries no values.
func (s SanitizedRecord) Empty() bool { return len(s) == 0 }

// PricePoint is one adjusted daily close.
type PricePoint struct {
	Ticker   string    `json:"ticker"`
	Date     time.Time `json:"date"`
	AdjClose float64   `json:"adj_close"`
}
