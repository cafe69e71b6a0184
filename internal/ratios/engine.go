package ratios

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/ratio-cli/internal/model"
	"github.com/sells-group/ratio-cli/internal/resilience"
)

// EngineOptions configures how the engine calls its Calculator.
type EngineOptions struct {
	// Retry applies to each Calculate call. AttemptTimeout is the per-call
	// timeout.
	Retry resilience.Policy

	// Breaker, when set, guards the calculator across filings.
	Breaker *resilience.CircuitBreaker

	// Limiter, when set, paces calls to the calculator.
	Limiter *rate.Limiter
}

// Result is the outcome of Compute. Ratios always holds every ratio name;
// price_trend_ratio is left unknown for the caller to fill in.
type Result struct {
	Ratios    model.RatioSet
	Malformed bool
	Reason    string
}

// Engine computes the ratio set for one filing.
type Engine struct {
	calc    Calculator
	retry   resilience.Policy
	breaker *resilience.CircuitBreaker
	limiter *rate.Limiter
}

// NewEngine creates an Engine backed by calc.
func NewEngine(calc Calculator, opts EngineOptions) *Engine {
	retry := opts.Retry
	if retry.OnRetry == nil {
		retry = retry.WithLogger("ratios", calc.Name())
	}
	return &Engine{
		calc:    calc,
		retry:   retry,
		breaker: opts.Breaker,
		limiter: opts.Limiter,
	}
}

// Backend names the calculator in use.
func (e *Engine) Backend() string { return e.calc.Name() }

// Compute returns the ratio set for a filing. An empty current snapshot
// yields an all-unknown set without calling the calculator. Malformed
// calculator output also yields an all-unknown set, with Malformed set.
// An error means the calculator could not be reached after retries.
func (e *Engine) Compute(ctx context.Context, ticker string, asOf time.Time, current, prior model.SanitizedRecord) (Result, error) {
	res := Result{Ratios: model.NewRatioSet()}
	if current.Empty() {
		return res, nil
	}

	log := zap.L().With(
		zap.String("component", "ratios.engine"),
		zap.String("backend", e.calc.Name()),
		zap.String("ticker", ticker),
	)

	in := Input{Ticker: ticker, AsOf: model.Date(asOf), Current: current, Prior: prior}
	raw, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) ([]byte, error) {
		return e.call(ctx, in)
	})
	if err != nil {
		return res, eris.Wrapf(err, "ratios: compute %s", ticker)
	}

	out := ParseOutput(raw)
	if out.Malformed {
		log.Warn("malformed calculator output", zap.String("reason", out.Reason))
		res.Malformed = true
		res.Reason = out.Reason
		return res, nil
	}

	for name, v := range out.Values {
		res.Ratios.Set(name, v)
	}
	if prior.Empty() {
		for _, name := range model.GrowthRatios {
			res.Ratios.Set(name, nil)
		}
	}
	AdjustAll(res.Ratios)

	log.Debug("ratios computed", zap.Int("known", res.Ratios.Known()))
	return res, nil
}

func (e *Engine) call(ctx context.Context, in Input) ([]byte, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ratios: rate limit wait")
		}
	}
	if e.breaker == nil {
		return e.calc.Calculate(ctx, in)
	}
	return resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) ([]byte, error) {
		return e.calc.Calculate(ctx, in)
	})
}
