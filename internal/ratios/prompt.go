package ratios

import (
	"fmt"
	"strings"

	"github.com/sells-group/ratio-cli/internal/model"
)

// SystemPrompt instructs a hosted model to act as the ratio calculator.
const SystemPrompt = `You are a financial ratio calculator. You receive two JSON objects of
sanitized financial statement values keyed by canonical XBRL concept name
(lowercase, no separators), one for the current period and one for the prior
period. You reply with one JSON object and nothing else.`

const formulaGuide = `Formulas. Return null for a ratio when any input is missing, null, or a
denominator is zero, and when the result is not a finite number:
- debt_to_equity = total debt / stockholdersequity, where total debt is
  longtermdebt + shorttermdebt when reported, otherwise liabilities
- fcf_yield = free cash flow / market capitalization, where free cash flow =
  netcashprovidedbyusedinoperatingactivities - paymentstoacquirepropertyplantandequipment
  and market capitalization = sharesoutstanding * price_adj_close (null if <= 0)
- current_ratio = assetscurrent / liabilitiescurrent
- roe = netincomeloss / stockholdersequity
- gross_margin = (revenues - costofrevenue) / revenues
- operating_margin = operatingincomeloss / revenues
- quick_ratio = (assetscurrent - inventorynet) / liabilitiescurrent
- eps = netincomeloss / sharesoutstanding
- eps_change = (current eps - prior eps) / prior eps
- revenue_growth = (current revenues - prior revenues) / prior revenues
eps_change and revenue_growth are null when the prior period is empty.
Negative values are valid. Express margins and yields as fractions, not percentages.`

// SystemText is the full system instruction: SystemPrompt plus the formulas.
func SystemText() string {
	return SystemPrompt + "\n\n" + formulaGuide
}

// BuildPrompt renders the user prompt for one filing.
func BuildPrompt(in Input) string {
	names := make([]string, len(model.ComputedRatios))
	for i, r := range model.ComputedRatios {
		names[i] = fmt.Sprintf("%q", string(r))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Ticker: %s\n", in.Ticker)
	fmt.Fprintf(&b, "Period ending on or around: %s\n\n", model.Date(in.AsOf).Format("2006-01-02"))
	fmt.Fprintf(&b, "Current period:\n%s\n\n", MarshalInput(in.Current))
	fmt.Fprintf(&b, "Prior period:\n%s\n\n", MarshalInput(in.Prior))
	fmt.Fprintf(&b, "Reply with exactly these keys, each a number or null: %s.\n", strings.Join(names, ", "))
	b.WriteString("No other keys, no prose, no markdown.")
	return b.String()
}
