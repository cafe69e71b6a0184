package financials

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ratio-cli/internal/model"
	"github.com/sells-group/ratio-cli/internal/resilience"
)

// RecordSource answers ticker-scoped range queries over the financial record
// store. from and to are inclusive calendar days.
type RecordSource interface {
	FinancialRecords(ctx context.Context, ticker string, from, to time.Time) ([]model.RawFinancialRecord, error)
}

// ResolverOptions configures the search windows, in calendar days.
type ResolverOptions struct {
	FallbackWindowDays int
	PriorOffsetDays    int
	PriorWindowDays    int
	Retry              resilience.Policy
}

// DefaultResolverOptions returns ±30 days for current lookups and a 90 day
// offset with a ±45 day window for prior lookups.
func DefaultResolverOptions() ResolverOptions {
	return ResolverOptions{
		FallbackWindowDays: 30,
		PriorOffsetDays:    90,
		PriorWindowDays:    45,
		Retry:              resilience.DefaultPolicy(),
	}
}

// Resolver locates the record for a ticker and target date.
type Resolver struct {
	src  RecordSource
	opts ResolverOptions
	log  *zap.Logger
}

// NewResolver creates a Resolver. Zero option fields take the defaults.
func NewResolver(src RecordSource, opts ResolverOptions) *Resolver {
	def := DefaultResolverOptions()
	if opts.FallbackWindowDays <= 0 {
		opts.FallbackWindowDays = def.FallbackWindowDays
	}
	if opts.PriorOffsetDays <= 0 {
		opts.PriorOffsetDays = def.PriorOffsetDays
	}
	if opts.PriorWindowDays <= 0 {
		opts.PriorWindowDays = def.PriorWindowDays
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry = opts.Retry.WithLogger("records", "financial_records")
	}
	return &Resolver{
		src:  src,
		opts: opts,
		log:  zap.L().With(zap.String("component", "financials.resolver")),
	}
}

// Resolve returns the record for ticker at target, or nil when none exists.
//
// Current lookups try an exact period match first, then the closest period
// within the fallback window. Prior lookups skip both and search the prior
// window around target minus the prior offset. Every record sharing the
// chosen period end is merged into the result.
func (r *Resolver) Resolve(ctx context.Context, ticker string, target time.Time, isPrior bool) (*model.RawFinancialRecord, error) {
	target = model.Date(target)

	if isPrior {
		anchor := target.AddDate(0, 0, -r.opts.PriorOffsetDays)
		w := r.opts.PriorWindowDays
		recs, err := r.fetch(ctx, ticker, anchor.AddDate(0, 0, -w), anchor.AddDate(0, 0, w))
		if err != nil {
			return nil, err
		}
		return closest(ticker, recs, anchor), nil
	}

	recs, err := r.fetch(ctx, ticker, target, target)
	if err != nil {
		return nil, err
	}
	if rec := atDate(ticker, recs, target); rec != nil {
		return rec, nil
	}

	w := r.opts.FallbackWindowDays
	recs, err = r.fetch(ctx, ticker, target.AddDate(0, 0, -w), target.AddDate(0, 0, w))
	if err != nil {
		return nil, err
	}
	rec := closest(ticker, recs, target)
	if rec != nil {
		r.log.Debug("resolved by date window",
			zap.String("ticker", ticker),
			zap.Time("target", target),
			zap.Time("period_end", rec.PeriodEnd),
		)
	}
	return rec, nil
}

func (r *Resolver) fetch(ctx context.Context, ticker string, from, to time.Time) ([]model.RawFinancialRecord, error) {
	recs, err := resilience.DoVal(ctx, r.opts.Retry, func(ctx context.Context) ([]model.RawFinancialRecord, error) {
		return r.src.FinancialRecords(ctx, ticker, from, to)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "financials: fetch records for %s", ticker)
	}
	return recs, nil
}

// closest merges the records whose period end is nearest to anchor. Equal
// distances prefer the earlier period.
func closest(ticker string, recs []model.RawFinancialRecord, anchor time.Time) *model.RawFinancialRecord {
	var dates []time.Time
	seen := make(map[time.Time]bool)
	for _, rec := range recs {
		if !sameTicker(ticker, rec.Ticker) || rec.PeriodEnd.IsZero() {
			continue
		}
		d := model.Date(rec.PeriodEnd)
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		return nil
	}

	sort.Slice(dates, func(i, j int) bool {
		di, dj := model.DaysBetween(dates[i], anchor), model.DaysBetween(dates[j], anchor)
		if di != dj {
			return di < dj
		}
		return dates[i].Before(dates[j])
	})
	return atDate(ticker, recs, dates[0])
}

// atDate merges every record for ticker whose period end is day.
func atDate(ticker string, recs []model.RawFinancialRecord, day time.Time) *model.RawFinancialRecord {
	var merged *model.RawFinancialRecord
	for _, rec := range recs {
		if !sameTicker(ticker, rec.Ticker) || !model.Date(rec.PeriodEnd).Equal(day) {
			continue
		}
		if merged == nil {
			merged = &model.RawFinancialRecord{Ticker: rec.Ticker, PeriodEnd: day}
		}
		merged.Facts = append(merged.Facts, rec.Facts...)
	}
	return merged
}

func sameTicker(want, got string) bool {
	return got == "" || strings.EqualFold(want, got)
}
