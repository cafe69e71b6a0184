package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/ratio-cli/internal/financials"
	"github.com/sells-group/ratio-cli/internal/model"
	"github.com/sells-group/ratio-cli/internal/ratios"
	"github.com/sells-group/ratio-cli/internal/resilience"
	"github.com/sells-group/ratio-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fastRetry() resilience.Policy {
	return resilience.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

var errConnReset = resilience.NewTransientError(errors.New("connection reset by peer"), 0)

// --- fakes ---

type fakeCatalog struct {
	filings []model.FilingRef
	err     error
}

func (c *fakeCatalog) Backlog(_ context.Context, limit int) ([]model.FilingRef, error) {
	if c.err != nil {
		return nil, c.err
	}
	if limit > 0 && limit < len(c.filings) {
		return c.filings[:limit], nil
	}
	return c.filings, nil
}

type fakeRecords struct {
	mu    sync.Mutex
	recs  []model.RawFinancialRecord
	err   error
	calls int
}

func (r *fakeRecords) FinancialRecords(_ context.Context, ticker string, from, to time.Time) ([]model.RawFinancialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	var out []model.RawFinancialRecord
	for _, rec := range r.recs {
		if !strings.EqualFold(rec.Ticker, ticker) || rec.PeriodEnd.Before(from) || rec.PeriodEnd.After(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

type fakePrices struct {
	points []model.PricePoint
}

func (p *fakePrices) Closes(_ context.Context, ticker string, from, to time.Time) ([]model.PricePoint, error) {
	var out []model.PricePoint
	for _, pt := range p.points {
		if pt.Ticker == ticker && !pt.Date.Before(from) && !pt.Date.After(to) {
			out = append(out, pt)
		}
	}
	return out, nil
}

type fakeSink struct {
	mu    sync.Mutex
	rows  map[string]model.RatioRow
	err   error
	panic bool
	calls int
}

func newFakeSink() *fakeSink { return &fakeSink{rows: map[string]model.RatioRow{}} }

func (s *fakeSink) InsertRatios(_ context.Context, row model.RatioRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panic {
		panic("sink exploded")
	}
	if s.err != nil {
		return s.err
	}
	s.rows[row.Filing.AccessionNumber] = row
	return nil
}

func (s *fakeSink) row(accn string) (model.RatioRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[accn]
	return r, ok
}

type fakeRunLog struct {
	started   []string
	completed model.RunCounts
	failedMsg string
	done      bool
}

func (l *fakeRunLog) StartRun(_ context.Context, backend string) (string, error) {
	l.started = append(l.started, backend)
	return fmt.Sprintf("run-%d", len(l.started)), nil
}

func (l *fakeRunLog) CompleteRun(_ context.Context, _ string, counts model.RunCounts) error {
	l.completed = counts
	l.done = true
	return nil
}

func (l *fakeRunLog) FailRun(_ context.Context, _ string, counts model.RunCounts, msg string) error {
	l.completed = counts
	l.failedMsg = msg
	return nil
}

// scriptedCalculator returns a fixed body or error.
type scriptedCalculator struct {
	body  []byte
	err   error
	mu    sync.Mutex
	calls int
}

func (c *scriptedCalculator) Name() string { return "scripted" }

func (c *scriptedCalculator) Calculate(_ context.Context, _ ratios.Input) ([]byte, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.body, nil
}

// gatedCalculator blocks each call until release is closed or ctx ends,
// then delegates.
type gatedCalculator struct {
	next    ratios.Calculator
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedCalculator(next ratios.Calculator) *gatedCalculator {
	return &gatedCalculator{next: next, started: make(chan struct{}), release: make(chan struct{})}
}

func (c *gatedCalculator) Name() string { return c.next.Name() }

func (c *gatedCalculator) Calculate(ctx context.Context, in ratios.Input) ([]byte, error) {
	c.once.Do(func() { close(c.started) })
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.next.Calculate(ctx, in)
}

// --- fixtures ---

var (
	acmeQ1 = model.FilingRef{Ticker: "ACME", AccessionNumber: "0000000001-24-000001", ReportEndDate: day(2024, 3, 31), FiledDate: day(2024, 5, 1)}
	betaQ1 = model.FilingRef{Ticker: "BETA", AccessionNumber: "0000000002-24-000001", ReportEndDate: day(2024, 3, 31), FiledDate: day(2024, 5, 1)}
)

func fact(concept string, v any, end time.Time) model.RawFact {
	return model.RawFact{Concept: concept, Value: v, PeriodEnd: &end}
}

func acmeRecords() []model.RawFinancialRecord {
	q1, q4 := day(2024, 3, 31), day(2023, 12, 31)
	return []model.RawFinancialRecord{
		{Ticker: "ACME", PeriodEnd: q1, Accession: acmeQ1.AccessionNumber, Facts: []model.RawFact{
			fact("us-gaap:AssetsCurrent", 200.0, q1),
			fact("us-gaap:LiabilitiesCurrent", 100.0, q1),
			fact("us-gaap:Revenues", 1000.0, q1),
			fact("us-gaap:NetIncomeLoss", "100", q1),
			fact("us-gaap:StockholdersEquity", 500.0, q1),
		}},
		{Ticker: "ACME", PeriodEnd: q4, Facts: []model.RawFact{
			fact("us-gaap:Revenues", 800.0, q4),
		}},
	}
}

// Trend prices for a filing filed 2024-05-01: 110 twenty days back, 100
// fifty days back.
func trendPrices(ticker string) []model.PricePoint {
	return []model.PricePoint{
		{Ticker: ticker, Date: day(2024, 4, 11), AdjClose: 110},
		{Ticker: ticker, Date: day(2024, 3, 12), AdjClose: 100},
		{Ticker: ticker, Date: day(2024, 3, 29), AdjClose: 105},
	}
}

type harness struct {
	catalog *fakeCatalog
	records *fakeRecords
	prices  *fakePrices
	sink    *fakeSink
	runLog  *fakeRunLog
	calc    ratios.Calculator
	workers int
	drain   time.Duration
}

func newHarness(filings ...model.FilingRef) *harness {
	return &harness{
		catalog: &fakeCatalog{filings: filings},
		records: &fakeRecords{recs: acmeRecords()},
		prices:  &fakePrices{points: append(trendPrices("ACME"), trendPrices("BETA")...)},
		sink:    newFakeSink(),
		runLog:  &fakeRunLog{},
		calc:    ratios.NewFormulaCalculator(),
		workers: 4,
	}
}

func (h *harness) runner() *Runner {
	engine := ratios.NewEngine(h.calc, ratios.EngineOptions{Retry: fastRetry()})
	return New(Deps{
		Catalog: h.catalog,
		Records: h.records,
		Prices:  h.prices,
		Sink:    h.sink,
		Engine:  engine,
		RunLog:  h.runLog,
	}, Options{
		Workers:      h.workers,
		Resolver:     financials.ResolverOptions{Retry: fastRetry()},
		StoreRetry:   fastRetry(),
		DrainTimeout: h.drain,
		Now:          func() time.Time { return day(2024, 6, 1) },
	})
}

// --- tests ---

func TestRun_MixedBacklog(t *testing.T) {
	invalid := model.FilingRef{AccessionNumber: "0000000003-24-000001", ReportEndDate: day(2024, 3, 31)}
	h := newHarness(acmeQ1, betaQ1, invalid)

	sum, err := h.runner().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunCounts{Total: 3, Processed: 1, ResolutionFailures: 1, OtherFailures: 1}, sum.Counts)
	assert.True(t, sum.Counts.Balanced())
	assert.Equal(t, "formula", sum.Backend)
	assert.Equal(t, "run-1", sum.RunID)
	assert.True(t, h.runLog.done)
	assert.Equal(t, sum.Counts, h.runLog.completed)

	acme, ok := h.sink.row(acmeQ1.AccessionNumber)
	require.True(t, ok)
	assert.Equal(t, model.DataSourceResolved, acme.DataSource)
	assert.Equal(t, day(2024, 6, 1), acme.CreatedAt)
	assert.Len(t, acme.Ratios, len(model.AllRatios))
	require.NotNil(t, acme.Ratios[model.CurrentRatio])
	assert.InDelta(t, 2.0, *acme.Ratios[model.CurrentRatio], 1e-9)
	require.NotNil(t, acme.Ratios[model.ROE])
	assert.InDelta(t, 0.2, *acme.Ratios[model.ROE], 1e-9)
	require.NotNil(t, acme.Ratios[model.RevenueGrowth])
	assert.InDelta(t, 0.25, *acme.Ratios[model.RevenueGrowth], 1e-9)
	require.NotNil(t, acme.Ratios[model.PriceTrendRatio])
	assert.InDelta(t, 1.10, *acme.Ratios[model.PriceTrendRatio], 1e-9)
	assert.Nil(t, acme.Ratios[model.DebtToEquity])

	// BETA has prices but no financial record.
	beta, ok := h.sink.row(betaQ1.AccessionNumber)
	require.True(t, ok)
	assert.Equal(t, model.DataSourceNone, beta.DataSource)
	assert.Equal(t, 1, beta.Ratios.Known())
	require.NotNil(t, beta.Ratios[model.PriceTrendRatio])
	assert.InDelta(t, 1.10, *beta.Ratios[model.PriceTrendRatio], 1e-9)

	_, ok = h.sink.row(invalid.AccessionNumber)
	assert.False(t, ok)
}

func TestRun_NoPriorLeavesGrowthUnknown(t *testing.T) {
	h := newHarness(acmeQ1)
	h.records.recs = acmeRecords()[:1]

	sum, err := h.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Counts.Processed)

	row, ok := h.sink.row(acmeQ1.AccessionNumber)
	require.True(t, ok)
	assert.Nil(t, row.Ratios[model.RevenueGrowth])
	assert.Nil(t, row.Ratios[model.EPSChange])
	assert.NotNil(t, row.Ratios[model.CurrentRatio])
}

func TestRun_MalformedOutputPersistsTrendOnly(t *testing.T) {
	h := newHarness(acmeQ1)
	h.calc = &scriptedCalculator{body: []byte("I'm sorry, I can't compute that.")}

	sum, err := h.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{Total: 1, ResolutionFailures: 1}, sum.Counts)

	row, ok := h.sink.row(acmeQ1.AccessionNumber)
	require.True(t, ok)
	assert.Equal(t, model.DataSourceResolved, row.DataSource)
	assert.Equal(t, 1, row.Ratios.Known())
	assert.NotNil(t, row.Ratios[model.PriceTrendRatio])
}

func TestRun_MalformedRecordPersistsTrendOnly(t *testing.T) {
	h := newHarness(acmeQ1)
	q1 := day(2024, 3, 31)
	h.records.recs = []model.RawFinancialRecord{{Ticker: "ACME", PeriodEnd: q1, Facts: []model.RawFact{
		fact("us-gaap:Revenues", "n/a", q1),
	}}}
	calc := &scriptedCalculator{body: []byte(`{}`)}
	h.calc = calc

	sum, err := h.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Counts.ResolutionFailures)
	assert.Zero(t, calc.calls)

	row, ok := h.sink.row(acmeQ1.AccessionNumber)
	require.True(t, ok)
	assert.Equal(t, model.DataSourceResolved, row.DataSource)
	assert.Equal(t, 1, row.Ratios.Known())
}

func TestRun_ComputeExhaustedIsNotPersisted(t *testing.T) {
	h := newHarness(acmeQ1)
	calc := &scriptedCalculator{err: errConnReset}
	h.calc = calc

	sum, err := h.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{Total: 1, ResolutionFailures: 1}, sum.Counts)
	assert.Equal(t, 2, calc.calls)
	assert.Zero(t, h.sink.calls)
}

func TestRun_RecordStoreFailureIsNotPersisted(t *testing.T) {
	h := newHarness(acmeQ1)
	h.records.err = errConnReset

	sum, err := h.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{Total: 1, ResolutionFailures: 1}, sum.Counts)
	assert.Equal(t, 2, h.records.calls)
	assert.Zero(t, h.sink.calls)
}

func TestRun_PersistenceFailure(t *testing.T) {
	h := newHarness(acmeQ1, betaQ1)
	h.sink.err = errConnReset

	sum, err := h.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{Total: 2, PersistenceFailures: 2}, sum.Counts)
	// Each filing is retried once before giving up.
	assert.Equal(t, 4, h.sink.calls)
}

func TestRun_SinkRejectsMissingIdentity(t *testing.T) {
	h := newHarness(acmeQ1)
	h.sink.err = store.ErrMissingIdentity

	sum, err := h.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Counts.PersistenceFailures)
	assert.Equal(t, 1, h.sink.calls)
}

func TestRun_PanicIsOtherFailure(t *testing.T) {
	h := newHarness(acmeQ1, betaQ1)
	h.sink.panic = true

	sum, err := h.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{Total: 2, OtherFailures: 2}, sum.Counts)
}

func TestRun_BacklogFailure(t *testing.T) {
	h := newHarness()
	h.catalog.err = errors.New("relation \"filing_metadata\" does not exist")

	_, err := h.runner().Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner: read backlog")
	assert.Contains(t, h.runLog.failedMsg, "filing_metadata")
	assert.False(t, h.runLog.done)
}

func TestRun_EmptyBacklog(t *testing.T) {
	h := newHarness()

	sum, err := h.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{}, sum.Counts)
	assert.True(t, h.runLog.done)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	h := newHarness(acmeQ1, betaQ1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := h.runner().Run(ctx)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.Equal(t, model.RunCounts{Total: 2, OtherFailures: 2}, sum.Counts)
	assert.Zero(t, h.sink.calls)
	assert.NotEmpty(t, h.runLog.failedMsg)
}

func TestRun_CancelDrainsInFlightFiling(t *testing.T) {
	second := acmeQ1
	second.AccessionNumber = "0000000001-24-000002"
	h := newHarness(acmeQ1, second)
	h.workers = 1
	gate := newGatedCalculator(ratios.NewFormulaCalculator())
	h.calc = gate

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		sum Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := h.runner().Run(ctx)
		done <- result{sum, err}
	}()

	<-gate.started
	cancel()
	close(gate.release)

	res := <-done
	require.Error(t, res.err)
	assert.True(t, IsCancelled(res.err))
	assert.Equal(t, model.RunCounts{Total: 2, Processed: 1, OtherFailures: 1}, res.sum.Counts)

	row, ok := h.sink.row(acmeQ1.AccessionNumber)
	require.True(t, ok, "in-flight filing should still be persisted")
	assert.Equal(t, model.DataSourceResolved, row.DataSource)
	_, ok = h.sink.row(second.AccessionNumber)
	assert.False(t, ok)
	assert.NotEmpty(t, h.runLog.failedMsg)
}

func TestRun_CancelDrainTimeout(t *testing.T) {
	h := newHarness(acmeQ1)
	h.drain = 20 * time.Millisecond
	gate := newGatedCalculator(ratios.NewFormulaCalculator())
	h.calc = gate

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-gate.started
		cancel()
	}()

	sum, err := h.runner().Run(ctx)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.Equal(t, model.RunCounts{Total: 1, ResolutionFailures: 1}, sum.Counts)
	assert.Zero(t, h.sink.calls)
}

func TestRun_CounterConservation(t *testing.T) {
	var filings []model.FilingRef
	for i := range 60 {
		f := acmeQ1
		switch i % 4 {
		case 1:
			f = betaQ1
		case 2:
			f.Ticker = ""
		case 3:
			f.Ticker = "GHOST"
		}
		f.AccessionNumber = fmt.Sprintf("%010d-24-%06d", i, i)
		filings = append(filings, f)
	}
	h := newHarness(filings...)
	h.workers = 8

	sum, err := h.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(60), sum.Counts.Total)
	assert.True(t, sum.Counts.Balanced())
	assert.Equal(t, int64(15), sum.Counts.Processed)
	assert.Equal(t, int64(30), sum.Counts.ResolutionFailures)
	assert.Equal(t, int64(15), sum.Counts.OtherFailures)
	assert.Len(t, h.sink.rows, 45)
}

func TestRun_Limit(t *testing.T) {
	h := newHarness(acmeQ1, betaQ1)
	r := h.runner()
	r.opts.Limit = 1

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Counts.Total)
}

func TestNew_Defaults(t *testing.T) {
	r := New(Deps{Engine: ratios.NewEngine(ratios.NewFormulaCalculator(), ratios.EngineOptions{})}, Options{})
	assert.Equal(t, defaultWorkers, r.opts.Workers)
	assert.NotNil(t, r.opts.Now)
	assert.NotNil(t, r.opts.StoreRetry.OnRetry)
}

func TestRun_SQLiteTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ratios.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	_, err = st.Import(ctx, store.ImportBatch{
		Filings: []model.FilingRef{acmeQ1, betaQ1},
		Records: acmeRecords(),
		Prices:  append(trendPrices("ACME"), trendPrices("BETA")...),
	})
	require.NoError(t, err)

	newRunner := func() *Runner {
		return New(Deps{
			Catalog: st,
			Records: st,
			Prices:  st,
			Sink:    st,
			Engine:  ratios.NewEngine(ratios.NewFormulaCalculator(), ratios.EngineOptions{Retry: fastRetry()}),
			RunLog:  st,
		}, Options{
			Workers:    2,
			Resolver:   financials.ResolverOptions{Retry: fastRetry()},
			StoreRetry: fastRetry(),
		})
	}

	first, err := newRunner().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{Total: 2, Processed: 1, ResolutionFailures: 1}, first.Counts)

	second, err := newRunner().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{}, second.Counts)

	backlog, err := st.Backlog(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, backlog)

	runs, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.RunStateComplete, runs[0].State)
	assert.Equal(t, int64(0), runs[0].Counts.Total)
	assert.Equal(t, int64(2), runs[1].Counts.Total)
}
