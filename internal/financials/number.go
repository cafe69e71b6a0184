package financials

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Number coerces v to a finite float64. It accepts Go numeric kinds, numeric
// strings (thousands separators, currency signs and accounting parentheses
// allowed), json.Number, arbitrary-precision values and pgx numerics.
// Booleans, NaN and ±Inf are rejected.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case *big.Float:
		if x == nil || x.IsInf() {
			return 0, false
		}
		f, _ := x.Float64()
		return finite(f)
	case *big.Rat:
		if x == nil {
			return 0, false
		}
		f, _ := x.Float64()
		return finite(f)
	case *big.Int:
		if x == nil {
			return 0, false
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return finite(f)
	case pgtype.Numeric:
		if !x.Valid || x.NaN || x.InfinityModifier != pgtype.Finite {
			return 0, false
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return 0, false
		}
		return finite(f.Float64)
	case pgtype.Float8:
		if !x.Valid {
			return 0, false
		}
		return finite(x.Float64)
	case pgtype.Int8:
		if !x.Valid {
			return 0, false
		}
		return float64(x.Int64), true
	case pgtype.Text:
		if !x.Valid {
			return 0, false
		}
		return ParseNumber(x.String)
	case json.Number:
		return ParseNumber(x.String())
	case string:
		return ParseNumber(x)
	case []byte:
		return ParseNumber(string(x))
	case bool:
		return 0, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return 0, false
		}
		return Number(rv.Elem().Interface())
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.String:
		return ParseNumber(rv.String())
	}

	if s, ok := v.(fmt.Stringer); ok {
		return ParseNumber(s.String())
	}
	return 0, false
}

// ParseNumber parses a human-formatted numeric string such as "1,234.5",
// "$12", "(350)" or "12%". A trailing percent sign is dropped without
// rescaling.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.NewReplacer(",", "", "$", "", " ", "", "_", "").Replace(s)
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		f = -f
	}
	return finite(f)
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
