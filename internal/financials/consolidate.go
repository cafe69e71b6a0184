package financials

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/sells-group/ratio-cli/internal/model"
)

var (
	// Trailing value marker emitted by flattened fact exports.
	valueSuffix = regexp.MustCompile(`(?i)_value$`)
	// Trailing candidate index: _3, .3 or [3].
	indexSuffix = regexp.MustCompile(`(?:[_.]\d+|\[\d+\])$`)
)

// CanonicalConcept reduces a fact label to its concept key: namespace prefix,
// value marker and candidate index are removed, then the remainder is
// lowercased with non-alphanumerics dropped.
//
//	"us-gaap:NetIncomeLoss"   -> "netincomeloss"
//	"NetIncomeLoss_2_value"   -> "netincomeloss"
//	"shares_outstanding"      -> "sharesoutstanding"
func CanonicalConcept(label string) string {
	s := strings.TrimSpace(label)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	s = valueSuffix.ReplaceAllString(s, "")
	s = indexSuffix.ReplaceAllString(s, "")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Consolidate picks one value per canonical concept from rec. For each
// concept the candidate is chosen by, in order:
//
//  1. the first candidate whose period end equals requested;
//  2. the most recent candidate without a segment dimension;
//  3. the most recent candidate overall.
//
// Candidates without a period date rank oldest. If the chosen value does not
// parse to a finite number the concept is dropped.
func Consolidate(rec *model.RawFinancialRecord, requested time.Time) model.ConsolidatedRecord {
	out := model.ConsolidatedRecord{Values: make(map[string]float64)}
	if rec == nil {
		return out
	}
	out.Ticker = rec.Ticker
	out.PeriodEnd = rec.PeriodEnd

	groups := make(map[string][]model.RawFact)
	for _, f := range rec.Facts {
		key := CanonicalConcept(f.Concept)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], f)
	}

	for key, candidates := range groups {
		chosen := selectCandidate(candidates, requested)
		if v, ok := Number(chosen.Value); ok {
			out.Values[key] = v
		}
	}
	return out
}

func selectCandidate(candidates []model.RawFact, requested time.Time) model.RawFact {
	day := model.Date(requested)
	for _, c := range candidates {
		if c.PeriodEnd != nil && model.Date(*c.PeriodEnd).Equal(day) {
			return c
		}
	}

	best := -1
	for i, c := range candidates {
		if c.HasSegment {
			continue
		}
		if best < 0 || newer(c, candidates[best]) {
			best = i
		}
	}
	if best >= 0 {
		return candidates[best]
	}

	best = 0
	for i := 1; i < len(candidates); i++ {
		if newer(candidates[i], candidates[best]) {
			best = i
		}
	}
	return candidates[best]
}

// newer reports whether a has a strictly later period end than b.
func newer(a, b model.RawFact) bool {
	switch {
	case a.PeriodEnd == nil:
		return false
	case b.PeriodEnd == nil:
		return true
	default:
		return a.PeriodEnd.After(*b.PeriodEnd)
	}
}
