package financials

import (
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sells-group/ratio-cli/internal/model"
)

// excludedFields are identity and bookkeeping columns that never reach the
// ratio engine.
var excludedFields = map[string]struct{}{
	"ticker":               {},
	"cik":                  {},
	"accession_number":     {},
	"period_end_date":      {},
	"report_end_date":      {},
	"bq_report_end_date":   {},
	"resolved_period_end":  {},
	"filing_date":          {},
	"filed_date":           {},
	"reported_currency":    {},
	"currency":             {},
	"load_timestamp":       {},
	"filing_source_url":    {},
	"report_calendar_year": {},
	"report_fiscal_year":   {},
	"report_fiscal_period": {},
	"date_diff_days":       {},
	"date_diff_rank":       {},
	"price_trend_ratio":    {},
}

// integerFields are share counts that are reported as whole numbers.
var integerFields = map[string]struct{}{
	"weighted_average_shares_outstanding":             {},
	"weightedaveragenumberofsharesoutstandingbasic":   {},
	"weightedaveragenumberofdilutedsharesoutstanding": {},
}

// IsExcluded reports whether key is stripped by the sanitizer.
func IsExcluded(key string) bool {
	_, ok := excludedFields[strings.ToLower(key)]
	return ok
}

// Clean converts a loosely typed record into JSON-safe values. Excluded keys
// and nulls are dropped, dates become ISO-8601 strings, decimals become
// float64, integers become int64, non-finite floats are dropped and anything
// else is coerced to a number or dropped. Clean never fails.
func Clean(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if IsExcluded(k) {
			continue
		}
		cv, ok := cleanValue(v)
		if !ok {
			continue
		}
		if _, isInt := integerFields[strings.ToLower(k)]; isInt {
			if f, ok := cv.(float64); ok {
				cv = int64(math.Trunc(f))
			}
		}
		out[k] = cv
	}
	return out
}

// Sanitize is Clean restricted to finite numeric values.
func Sanitize(in map[string]any) model.SanitizedRecord {
	out := make(model.SanitizedRecord, len(in))
	for k, v := range Clean(in) {
		switch x := v.(type) {
		case float64:
			out[k] = x
		case int64:
			out[k] = float64(x)
		}
	}
	return out
}

func cleanValue(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case time.Time:
		return isoDate(x)
	case *time.Time:
		if x == nil {
			return nil, false
		}
		return isoDate(*x)
	case pgtype.Date:
		if !x.Valid || x.InfinityModifier != pgtype.Finite {
			return nil, false
		}
		return isoDate(x.Time)
	case pgtype.Timestamptz:
		if !x.Valid || x.InfinityModifier != pgtype.Finite {
			return nil, false
		}
		return isoDate(x.Time)
	case pgtype.Timestamp:
		if !x.Valid || x.InfinityModifier != pgtype.Finite {
			return nil, false
		}
		return isoDate(x.Time)
	case bool:
		return nil, false
	case *big.Float, *big.Rat, *big.Int, pgtype.Numeric, json.Number:
		f, ok := Number(x)
		return f, ok
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, false
		}
		return cleanValue(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u), true
		}
		return int64(u), true
	}

	f, ok := Number(v)
	if !ok {
		return nil, false
	}
	return f, true
}

func isoDate(t time.Time) (any, bool) {
	if t.IsZero() {
		return nil, false
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly), true
	}
	return t.Format(time.RFC3339), true
}
