// Package runner drives the ratio job: it pulls the filing backlog and runs
// each filing through resolution, computation and persistence on a bounded
// worker pool.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ratio-cli/internal/financials"
	"github.com/sells-group/ratio-cli/internal/model"
	"github.com/sells-group/ratio-cli/internal/prices"
	"github.com/sells-group/ratio-cli/internal/ratios"
	"github.com/sells-group/ratio-cli/internal/resilience"
)

const (
	defaultWorkers      = 8
	defaultDrainTimeout = 2 * time.Minute
)

// Catalog lists filings that have no persisted ratio row.
type Catalog interface {
	Backlog(ctx context.Context, limit int) ([]model.FilingRef, error)
}

// Sink appends one ratio row per filing.
type Sink interface {
	InsertRatios(ctx context.Context, row model.RatioRow) error
}

// RunLog records run bookkeeping.
type RunLog interface {
	StartRun(ctx context.Context, backend string) (string, error)
	CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error
	FailRun(ctx context.Context, runID string, counts model.RunCounts, msg string) error
}

// Deps are the collaborators of a Runner, built once at startup.
type Deps struct {
	Catalog Catalog
	Records financials.RecordSource
	Prices  prices.Source
	Sink    Sink
	Engine  *ratios.Engine

	// RunLog is optional.
	RunLog RunLog
}

// Options tunes a Runner. Zero values take defaults.
type Options struct {
	Workers int
	Limit   int

	Resolver       financials.ResolverOptions
	LookbackDays   int
	NearOffsetDays int
	FarOffsetDays  int

	// StoreRetry applies to backlog reads, price reads and ratio inserts.
	StoreRetry resilience.Policy

	// DrainTimeout bounds how long filings already in flight keep running
	// after the run context is cancelled.
	DrainTimeout time.Duration

	Now func() time.Time
}

// Summary is the end-of-run report.
type Summary struct {
	RunID   string          `json:"run_id,omitempty"`
	Backend string          `json:"backend"`
	Counts  model.RunCounts `json:"counts"`
	Elapsed time.Duration   `json:"elapsed"`
}

// Runner processes the filing backlog.
type Runner struct {
	deps     Deps
	opts     Options
	resolver *financials.Resolver
	lookup   *prices.Lookup
	trend    *prices.Trend
}

// New creates a Runner.
func New(deps Deps, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.StoreRetry.OnRetry == nil {
		opts.StoreRetry = opts.StoreRetry.WithLogger("store", "runner")
	}

	lookup := prices.NewLookup(deps.Prices, opts.LookbackDays, opts.StoreRetry)
	return &Runner{
		deps:     deps,
		opts:     opts,
		resolver: financials.NewResolver(deps.Records, opts.Resolver),
		lookup:   lookup,
		trend:    prices.NewTrend(lookup, opts.NearOffsetDays, opts.FarOffsetDays),
	}
}

// Run processes the backlog once. Per-filing failures are counted, never
// returned; the error is non-nil only when the backlog cannot be read or
// the run is cancelled.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	log := zap.L().With(zap.String("component", "runner"))
	start := r.opts.Now()
	sum := Summary{Backend: r.deps.Engine.Backend()}

	if r.deps.RunLog != nil {
		id, err := r.deps.RunLog.StartRun(ctx, sum.Backend)
		if err != nil {
			return sum, eris.Wrap(err, "runner: start run")
		}
		sum.RunID = id
		log = log.With(zap.String("run_id", id))
	}

	backlog, err := resilience.DoVal(ctx, r.opts.StoreRetry, func(ctx context.Context) ([]model.FilingRef, error) {
		return r.deps.Catalog.Backlog(ctx, r.opts.Limit)
	})
	if err != nil {
		err = eris.Wrap(err, "runner: read backlog")
		r.fail(ctx, log, sum, err)
		return sum, err
	}

	log.Info("starting ratio run",
		zap.Int("filings", len(backlog)),
		zap.Int("workers", r.opts.Workers),
		zap.String("backend", sum.Backend),
	)

	var (
		mu     sync.Mutex
		counts model.RunCounts
	)
	record := func(o model.Outcome) {
		mu.Lock()
		counts.Add(o)
		mu.Unlock()
	}

	// Cancelling ctx stops scheduling. Filings already in flight run on
	// work until they finish or DrainTimeout passes.
	work, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()
	stopDrain := context.AfterFunc(ctx, func() {
		log.Warn("run cancelled, draining in-flight filings", zap.Duration("drain_timeout", r.opts.DrainTimeout))
		t := time.NewTimer(r.opts.DrainTimeout)
		defer t.Stop()
		select {
		case <-t.C:
			stopWork()
		case <-work.Done():
		}
	})
	defer stopDrain()

	// Workers always return nil so one filing never cancels the others.
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Workers)

	scheduled := 0
	for _, f := range backlog {
		if ctx.Err() != nil {
			break
		}
		scheduled++
		g.Go(func() error {
			// Waited for a slot past cancellation.
			if ctx.Err() != nil {
				record(model.OutcomeOtherFailure)
				return nil
			}
			record(r.process(work, f))
			return nil
		})
	}
	_ = g.Wait()

	// Filings never handed to a worker because the run was cancelled.
	for range backlog[scheduled:] {
		record(model.OutcomeOtherFailure)
	}

	sum.Counts = counts
	sum.Elapsed = r.opts.Now().Sub(start)

	if err := ctx.Err(); err != nil {
		err = eris.Wrap(err, "runner: run cancelled")
		r.fail(context.WithoutCancel(ctx), log, sum, err)
		return sum, err
	}

	if r.deps.RunLog != nil {
		if err := r.deps.RunLog.CompleteRun(ctx, sum.RunID, sum.Counts); err != nil {
			log.Error("failed to complete run log entry", zap.Error(err))
		}
	}

	log.Info("ratio run complete",
		zap.Int64("total", counts.Total),
		zap.Int64("processed", counts.Processed),
		zap.Int64("resolution_failures", counts.ResolutionFailures),
		zap.Int64("persistence_failures", counts.PersistenceFailures),
		zap.Int64("other_failures", counts.OtherFailures),
		zap.Duration("elapsed", sum.Elapsed),
	)
	if failed := counts.Total - counts.Processed; failed > 0 {
		log.Warn("filings not fully processed", zap.Int64("count", failed))
	}
	return sum, nil
}

func (r *Runner) fail(ctx context.Context, log *zap.Logger, sum Summary, err error) {
	log.Error("ratio run failed", zap.Error(err))
	if r.deps.RunLog == nil {
		return
	}
	if ferr := r.deps.RunLog.FailRun(ctx, sum.RunID, sum.Counts, err.Error()); ferr != nil {
		log.Error("failed to record run failure", zap.Error(ferr))
	}
}

// Filing stages.
const (
	stagePending    = "pending"
	stageResolving  = "resolving"
	stageComputing  = "computing"
	stagePersisting = "persisting"
	stageDone       = "done"
	stageFailed     = "failed"
)

// process runs one filing end to end and returns the bucket it lands in.
func (r *Runner) process(ctx context.Context, f model.FilingRef) (outcome model.Outcome) {
	log := zap.L().With(
		zap.String("component", "runner"),
		zap.String("ticker", f.Ticker),
		zap.String("accession", f.AccessionNumber),
	)
	stage := stagePending

	defer func() {
		if p := recover(); p != nil {
			log.Error("filing panicked",
				zap.String("stage", stage),
				zap.String("panic", fmt.Sprint(p)),
				zap.Stack("stack"),
			)
			outcome = model.OutcomeOtherFailure
		}
		if outcome == model.OutcomeProcessed {
			log.Debug("filing done", zap.String("stage", stageDone))
			return
		}
		log.Info("filing failed",
			zap.String("stage", stageFailed),
			zap.String("failed_at", stage),
			zap.Stringer("outcome", outcome),
		)
	}()

	if err := f.Validate(); err != nil {
		log.Warn("skipping invalid filing", zap.Error(err))
		return model.OutcomeOtherFailure
	}
	ticker := strings.ToUpper(strings.TrimSpace(f.Ticker))
	reportEnd := model.Date(f.ReportEndDate)

	stage = stageResolving
	current, err := r.resolver.Snapshot(ctx, ticker, reportEnd, false, r.lookup.Price)
	if err != nil {
		log.Error("resolve current period", zap.Error(err))
		return model.OutcomeResolutionFailure
	}

	// The trend is computed independently and kept on every persisted row.
	trend, err := r.trend.Ratio(ctx, ticker, f.FiledDate)
	if err != nil {
		log.Error("price trend", zap.Error(err))
		return model.OutcomeResolutionFailure
	}

	if !current.Found() {
		log.Warn("no current record", zap.Time("report_end", reportEnd))
		stage = stagePersisting
		return r.persist(ctx, log, f, unknownWithTrend(trend), model.DataSourceNone, model.OutcomeResolutionFailure)
	}
	if current.Status == financials.SnapshotMalformed {
		log.Warn("malformed current record",
			zap.Time("period_end", current.PeriodEnd),
			zap.String("reason", current.Reason),
		)
		stage = stagePersisting
		return r.persist(ctx, log, f, unknownWithTrend(trend), model.DataSourceResolved, model.OutcomeResolutionFailure)
	}

	prior, err := r.resolver.Snapshot(ctx, ticker, reportEnd, true, r.lookup.Price)
	if err != nil {
		log.Error("resolve prior period", zap.Error(err))
		return model.OutcomeResolutionFailure
	}
	if prior.Status != financials.SnapshotOK {
		log.Debug("no usable prior period", zap.Stringer("status", prior.Status))
	}

	stage = stageComputing
	res, err := r.deps.Engine.Compute(ctx, ticker, reportEnd, current.Record, prior.Record)
	if err != nil {
		log.Error("compute ratios", zap.Error(err))
		return model.OutcomeResolutionFailure
	}
	res.Ratios[model.PriceTrendRatio] = trend

	success := model.OutcomeProcessed
	if res.Malformed {
		success = model.OutcomeResolutionFailure
	}

	stage = stagePersisting
	return r.persist(ctx, log, f, res.Ratios, model.DataSourceResolved, success)
}

// persist writes the row and returns success, or a persistence failure.
func (r *Runner) persist(ctx context.Context, log *zap.Logger, f model.FilingRef, rs model.RatioSet, src model.DataSource, success model.Outcome) model.Outcome {
	row := model.RatioRow{
		Filing:     f,
		Ratios:     rs,
		DataSource: src,
		CreatedAt:  r.opts.Now().UTC(),
	}
	err := resilience.Do(ctx, r.opts.StoreRetry, func(ctx context.Context) error {
		return r.deps.Sink.InsertRatios(ctx, row)
	})
	if err != nil {
		log.Error("persist ratios", zap.Error(err), zap.Bool("transient", resilience.IsTransient(err)))
		return model.OutcomePersistenceFailure
	}
	log.Debug("ratios persisted",
		zap.String("data_source", string(src)),
		zap.Int("known", rs.Known()),
	)
	return success
}

func unknownWithTrend(trend *float64) model.RatioSet {
	rs := model.NewRatioSet()
	rs[model.PriceTrendRatio] = trend
	return rs
}

// IsCancelled reports whether err came from a cancelled run.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
