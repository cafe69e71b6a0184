package xbrl

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/ratio-cli/internal/model"
)

// Converted holds the rows derived from one company's facts.
type Converted struct {
	Filings []model.FilingRef
	Records []model.RawFinancialRecord
}

type entry struct {
	concept string
	value   any
	start   time.Time
	end     time.Time
	dei     bool
}

// duration is zero for instant facts.
func (e entry) duration() time.Duration {
	if e.start.IsZero() {
		return 0
	}
	return e.end.Sub(e.start)
}

type accession struct {
	id        string
	filed     time.Time
	reportEnd time.Time
	entries   []entry
}

// Convert builds one filing and one financial record per periodic accession
// (10-Q and 10-K, amendments included). The report end date of an accession is
// the latest us-gaap period end it reports; comparative values for earlier
// periods are dropped since they arrive with their own filing. When a concept
// has several durations ending on the report date, the shortest wins, so a
// quarterly value is preferred over year-to-date.
func Convert(facts *CompanyFacts, ticker string, targets []string) Converted {
	var out Converted
	if facts == nil || len(facts.Facts) == 0 {
		return out
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[t] = true
	}

	byAccn := make(map[string]*accession)
	for _, ns := range []string{"us-gaap", "dei"} {
		nsMap, ok := facts.Facts[ns]
		if !ok {
			continue
		}
		for _, name := range sortedKeys(nsMap) {
			if !targetSet[name] {
				continue
			}
			fact := nsMap[name]
			for _, unit := range sortedKeys(fact.Units) {
				for _, v := range fact.Units[unit] {
					if v.Accn == "" || !PeriodicForms[v.Form] {
						continue
					}
					end, ok := parseDay(v.End)
					if !ok {
						continue
					}
					start, _ := parseDay(v.Start)
					filed, _ := parseDay(v.Filed)

					a := byAccn[v.Accn]
					if a == nil {
						a = &accession{id: v.Accn}
						byAccn[v.Accn] = a
					}
					if !filed.IsZero() && (a.filed.IsZero() || filed.Before(a.filed)) {
						a.filed = filed
					}
					e := entry{concept: ns + ":" + name, value: v.Val, start: start, end: end, dei: ns == "dei"}
					if !e.dei && end.After(a.reportEnd) {
						a.reportEnd = end
					}
					a.entries = append(a.entries, e)
				}
			}
		}
	}

	ids := make([]string, 0, len(byAccn))
	for id, a := range byAccn {
		if a.reportEnd.IsZero() {
			zap.L().Debug("xbrl: accession has no us-gaap period, skipping",
				zap.String("ticker", ticker), zap.String("accession", id))
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := byAccn[ids[i]], byAccn[ids[j]]
		if !a.reportEnd.Equal(b.reportEnd) {
			return a.reportEnd.Before(b.reportEnd)
		}
		return a.id < b.id
	})

	for _, id := range ids {
		a := byAccn[id]
		out.Filings = append(out.Filings, model.FilingRef{
			Ticker:          ticker,
			AccessionNumber: a.id,
			ReportEndDate:   a.reportEnd,
			FiledDate:       a.filed,
		})
		out.Records = append(out.Records, model.RawFinancialRecord{
			Ticker:    ticker,
			PeriodEnd: a.reportEnd,
			Accession: a.id,
			Facts:     recordFacts(a),
		})
	}
	return out
}

func recordFacts(a *accession) []model.RawFact {
	best := make(map[string]entry)
	var order []string
	for _, e := range a.entries {
		if !e.dei && !e.end.Equal(a.reportEnd) {
			continue
		}
		key := e.concept + "|" + e.end.Format(time.DateOnly)
		cur, seen := best[key]
		if !seen {
			order = append(order, key)
			best[key] = e
			continue
		}
		if e.duration() < cur.duration() {
			best[key] = e
		}
	}
	sort.Strings(order)

	facts := make([]model.RawFact, 0, len(order))
	for _, key := range order {
		e := best[key]
		end := e.end
		facts = append(facts, model.RawFact{Concept: e.concept, Value: e.value, PeriodEnd: &end})
	}
	return facts
}

func parseDay(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
