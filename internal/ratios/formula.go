package ratios

import (
	"context"
	"encoding/json"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ratio-cli/internal/financials"
	"github.com/sells-group/ratio-cli/internal/model"
)

var (
	// Concept aliases, most specific first. Keys are canonical concept names.
	revenueConcepts       = []string{"revenuefromcontractwithcustomerexcludingassessedtax", "revenues", "revenue", "totalrevenue", "salesrevenuenet"}
	costConcepts          = []string{"costofrevenue", "costofgoodsandservicessold", "costofgoodssold"}
	grossProfitConcepts   = []string{"grossprofit"}
	operatingConcepts     = []string{"operatingincomeloss", "operatingincome"}
	netIncomeConcepts     = []string{"netincomeloss", "netincome", "profitloss", "netincomelossavailabletocommonstockholdersbasic"}
	equityConcepts        = []string{"stockholdersequity", "totalequity", "stockholdersequityincludingportionattributabletononcontrollinginterest"}
	liabilityConcepts     = []string{"liabilities", "totalliabilities"}
	longDebtConcepts      = []string{"longtermdebt", "longtermdebtnoncurrent", "longtermdebtandcapitalleaseobligations"}
	shortDebtConcepts     = []string{"shorttermdebt", "debtcurrent", "shorttermborrowings", "longtermdebtcurrent"}
	currentAssetConcepts  = []string{"assetscurrent", "currentassets"}
	currentLiabConcepts   = []string{"liabilitiescurrent", "currentliabilities"}
	inventoryConcepts     = []string{"inventorynet", "inventory"}
	operatingCashConcepts = []string{"netcashprovidedbyusedinoperatingactivities", "netcashprovidedbyoperatingactivities", "operatingcashflow"}
	capexConcepts         = []string{"paymentstoacquirepropertyplantandequipment", "paymentstoacquireotherproductiveassets", "capitalexpenditure"}
	freeCashFlowConcepts  = []string{"freecashflow"}
	shareConcepts         = []string{"sharesoutstanding", "commonstocksharesoutstanding", "entitycommonstocksharesoutstanding", "weightedaveragenumberofsharesoutstandingbasic"}
	reportedEPSConcepts   = []string{"earningspersharebasic", "eps"}
	priceConcepts         = []string{"priceadjclose"}
)

// FormulaCalculator evaluates the standard ratio formulas locally.
type FormulaCalculator struct{}

// NewFormulaCalculator returns the local formula backend.
func NewFormulaCalculator() *FormulaCalculator { return &FormulaCalculator{} }

// Name implements Calculator.
func (*FormulaCalculator) Name() string { return "formula" }

// Calculate implements Calculator.
func (f *FormulaCalculator) Calculate(ctx context.Context, in Input) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[model.RatioName]*float64, len(model.ComputedRatios))
	for name, v := range Formulas(in.Current, in.Prior) {
		out[name] = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, eris.Wrap(err, "ratios: encode formula output")
	}
	return b, nil
}

// Formulas computes every engine ratio from the snapshots. A ratio is nil
// when an input is missing or a denominator is zero.
func Formulas(current, prior model.SanitizedRecord) map[model.RatioName]*float64 {
	cur := newFacts(current)
	out := map[model.RatioName]*float64{
		model.DebtToEquity:    div(cur.debt(), cur.get(equityConcepts...)),
		model.FCFYield:        fcfYield(cur),
		model.CurrentRatio:    div(cur.get(currentAssetConcepts...), cur.get(currentLiabConcepts...)),
		model.ROE:             div(cur.get(netIncomeConcepts...), cur.get(equityConcepts...)),
		model.GrossMargin:     div(cur.grossProfit(), cur.get(revenueConcepts...)),
		model.OperatingMargin: div(cur.get(operatingConcepts...), cur.get(revenueConcepts...)),
		model.QuickRatio:      div(sub(cur.get(currentAssetConcepts...), cur.get(inventoryConcepts...)), cur.get(currentLiabConcepts...)),
		model.EPS:             cur.eps(),
		model.EPSChange:       nil,
		model.RevenueGrowth:   nil,
	}
	if len(prior) > 0 {
		pri := newFacts(prior)
		out[model.EPSChange] = change(cur.eps(), pri.eps())
		out[model.RevenueGrowth] = change(cur.get(revenueConcepts...), pri.get(revenueConcepts...))
	}
	return out
}

// facts indexes a snapshot by canonical concept name.
type facts map[string]float64

// newFacts keeps one value per canonical concept. A key that is already
// canonical wins; otherwise the first key in sorted order does.
func newFacts(rec model.SanitizedRecord) facts {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f := make(facts, len(rec))
	exact := make(map[string]bool, len(rec))
	for _, k := range keys {
		c := financials.CanonicalConcept(k)
		if exact[c] {
			continue
		}
		if _, dup := f[c]; dup && k != c {
			continue
		}
		f[c] = rec[k]
		exact[c] = k == c
	}
	return f
}

func (f facts) get(concepts ...string) *float64 {
	for _, c := range concepts {
		if v, ok := f[c]; ok {
			return &v
		}
	}
	return nil
}

// debt is short plus long-term debt when reported, else total liabilities.
func (f facts) debt() *float64 {
	long, short := f.get(longDebtConcepts...), f.get(shortDebtConcepts...)
	if long == nil && short == nil {
		return f.get(liabilityConcepts...)
	}
	var total float64
	if long != nil {
		total += *long
	}
	if short != nil {
		total += *short
	}
	return &total
}

func (f facts) grossProfit() *float64 {
	if gp := sub(f.get(revenueConcepts...), f.get(costConcepts...)); gp != nil {
		return gp
	}
	return f.get(grossProfitConcepts...)
}

func (f facts) freeCashFlow() *float64 {
	if fcf := sub(f.get(operatingCashConcepts...), f.get(capexConcepts...)); fcf != nil {
		return fcf
	}
	return f.get(freeCashFlowConcepts...)
}

func (f facts) eps() *float64 {
	if v := div(f.get(netIncomeConcepts...), f.get(shareConcepts...)); v != nil {
		return v
	}
	return f.get(reportedEPSConcepts...)
}

func fcfYield(f facts) *float64 {
	shares, price := f.get(shareConcepts...), f.get(priceConcepts...)
	if shares == nil || price == nil {
		return nil
	}
	mcap := *shares * *price
	if mcap <= 0 {
		return nil
	}
	return div(f.freeCashFlow(), &mcap)
}

func change(cur, prior *float64) *float64 {
	return div(sub(cur, prior), prior)
}

func sub(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	v := *a - *b
	return &v
}

func div(num, den *float64) *float64 {
	if num == nil || den == nil || *den == 0 {
		return nil
	}
	v := *num / *den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
