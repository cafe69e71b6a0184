// Package store persists filings, financial records, prices, computed ratios
// and the run log in Postgres or SQLite.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ratio-cli/internal/model"
)

// ErrMissingIdentity is returned by InsertRatios for a row without a
// complete filing identity.
var ErrMissingIdentity = eris.New("store: ratio row missing filing identity")

// Store is the full persistence surface used by the ratio job.
type Store interface {
	// Filing catalog: filings with no persisted ratio row, newest filed
	// first. limit <= 0 returns the full backlog.
	Backlog(ctx context.Context, limit int) ([]model.FilingRef, error)

	// Financial record store: records for ticker whose period end falls in
	// [from, to].
	FinancialRecords(ctx context.Context, ticker string, from, to time.Time) ([]model.RawFinancialRecord, error)

	// Price series: adjusted closes for ticker in [from, to].
	Closes(ctx context.Context, ticker string, from, to time.Time) ([]model.PricePoint, error)

	// Ratio sink. Append-only, keyed by accession number.
	InsertRatios(ctx context.Context, row model.RatioRow) error

	// Run log
	StartRun(ctx context.Context, backend string) (string, error)
	CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error
	FailRun(ctx context.Context, runID string, counts model.RunCounts, msg string) error
	ListRuns(ctx context.Context, limit int) ([]model.RatioRun, error)

	// Loading
	Import(ctx context.Context, batch ImportBatch) (ImportResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ImportBatch is a set of source rows to load. Rows that already exist are
// skipped.
type ImportBatch struct {
	Filings []model.FilingRef
	Records []model.RawFinancialRecord
	Prices  []model.PricePoint
}

// ImportResult counts the rows actually inserted.
type ImportResult struct {
	Filings int `json:"filings" yaml:"filings"`
	Records int `json:"records" yaml:"records"`
	Facts   int `json:"facts" yaml:"facts"`
	Prices  int `json:"prices" yaml:"prices"`
}

// ratioColumns is the ratio column list in model.AllRatios order.
var ratioColumns = func() string {
	cols := make([]string, len(model.AllRatios))
	for i, r := range model.AllRatios {
		cols[i] = string(r)
	}
	return strings.Join(cols, ", ")
}()

func validateRow(row model.RatioRow) error {
	if err := row.Filing.Validate(); err != nil {
		return eris.Wrapf(ErrMissingIdentity, "accession %q: %v", row.Filing.AccessionNumber, err)
	}
	if row.Ratios == nil {
		return eris.Errorf("store: ratio row %s has no ratio set", row.Filing.AccessionNumber)
	}
	return nil
}

const defaultRunLimit = 20

func runLimit(limit int) int {
	if limit <= 0 {
		return defaultRunLimit
	}
	return limit
}

// nullableText maps "" to a SQL NULL.
func nullableText(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// factText renders a raw fact value for the TEXT value column.
func factText(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}
