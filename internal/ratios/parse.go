package ratios

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ratio-cli/internal/financials"
	"github.com/sells-group/ratio-cli/internal/model"
)

// Output is the parsed result of a calculator response. When Malformed is
// set, Values is nil and Reason says why.
type Output struct {
	Values    map[model.RatioName]*float64
	Malformed bool
	Reason    string
	// Extra lists unexpected keys that were ignored.
	Extra []string
}

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")

// numberField matches a key and its numeric literal, quoted or not.
var numberField = regexp.MustCompile(`["']?([A-Za-z_][A-Za-z0-9_]*)["']?\s*:\s*(-?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][+-]?\d+)?)`)

// ParseOutput decodes a calculator response into the computed ratio set.
// It tries strict JSON, then a fenced or embedded object, then a repaired
// document. Anything that does not decode to a JSON object is malformed.
// Omitted ratios are unknown.
func ParseOutput(raw []byte) Output {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return Output{Malformed: true, Reason: "empty output"}
	}

	doc, err := decode(text)
	if err != nil {
		if inner, ok := unwrap(text); ok {
			doc, err = decode(inner)
			if err == nil {
				text = inner
			}
		}
	}
	if err != nil {
		repaired, rerr := jsonrepair.RepairJSON(text)
		if rerr != nil {
			return Output{Malformed: true, Reason: fmt.Sprintf("unparseable output: %v", err)}
		}
		doc, err = decode(repaired)
		if err != nil {
			return Output{Malformed: true, Reason: fmt.Sprintf("unparseable output: %v", err)}
		}
		restoreNumbers(doc, text)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return Output{Malformed: true, Reason: fmt.Sprintf("expected a JSON object, got %s", kind(doc))}
	}

	out := Output{Values: make(map[model.RatioName]*float64, len(model.ComputedRatios))}
	for _, name := range model.ComputedRatios {
		out.Values[name] = nil
	}

	for key, v := range obj {
		name := model.RatioName(strings.ToLower(strings.TrimSpace(key)))
		if _, want := out.Values[name]; !want {
			out.Extra = append(out.Extra, key)
			continue
		}
		if v == nil {
			continue
		}
		if _, isBool := v.(bool); isBool {
			continue
		}
		if f, ok := financials.Number(v); ok {
			out.Values[name] = &f
		}
	}

	if len(out.Extra) > 0 {
		sort.Strings(out.Extra)
		zap.L().Warn("ratios: unexpected keys in calculator output", zap.Strings("keys", out.Extra))
	}
	return out
}

// restoreNumbers puts the literal number tokens of src back into a repaired
// object. The repairer re-emits numbers at reduced precision. Later
// occurrences of a key win, as they do in a strict decode.
func restoreNumbers(doc any, src string) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return
	}
	for _, m := range numberField.FindAllStringSubmatch(src, -1) {
		if _, isNum := obj[m[1]].(json.Number); isNum {
			obj[m[1]] = json.Number(m[2])
		}
	}
}

func decode(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, eris.New("trailing data after JSON value")
	}
	return v, nil
}

// unwrap pulls a JSON object out of a markdown fence or surrounding prose.
func unwrap(s string) (string, bool) {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1], true
	}
	return "", false
}

func kind(v any) string {
	switch v.(type) {
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// MarshalInput renders a sanitized snapshot as a compact JSON object with
// sorted keys.
func MarshalInput(rec model.SanitizedRecord) string {
	if rec.Empty() {
		return "{}"
	}
	b, err := json.Marshal(map[string]float64(rec))
	if err != nil {
		return "{}"
	}
	return string(b)
}
