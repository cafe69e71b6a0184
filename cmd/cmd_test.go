package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/ratio-cli/internal/config"
	"github.com/sells-group/ratio-cli/internal/model"
	"github.com/sells-group/ratio-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// testConfig returns a formula-backed SQLite configuration in a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "ratios.db"),
		},
		Log: config.LogConfig{Level: "error", Format: "json"},
		Ratios: config.RatiosConfig{
			Workers: 2,
			Prices:  config.PricesConfig{LookbackDays: 7, NearOffsetDays: 20, FarOffsetDays: 50},
		},
		Retry: config.RetryConfigs{
			Store:   config.RetryConfig{MaxAttempts: 1, InitialBackoffMs: 1, MaxBackoffMs: 1},
			Compute: config.RetryConfig{MaxAttempts: 1, InitialBackoffMs: 1, MaxBackoffMs: 1},
		},
		Compute: config.ComputeConfig{Backend: config.BackendFormula},
		EDGAR:   config.EDGARConfig{BaseURL: "https://data.sec.gov"},
	}
}

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(cfg.Store.DatabaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedFiling(t *testing.T, st *store.SQLiteStore) model.FilingRef {
	t.Helper()
	q1 := day(2024, 3, 31)
	f := model.FilingRef{Ticker: "ACME", AccessionNumber: "0000000001-24-000001", ReportEndDate: q1, FiledDate: day(2024, 5, 1)}
	_, err := st.Import(context.Background(), store.ImportBatch{
		Filings: []model.FilingRef{f},
		Records: []model.RawFinancialRecord{{Ticker: "ACME", PeriodEnd: q1, Accession: f.AccessionNumber, Facts: []model.RawFact{
			{Concept: "us-gaap:AssetsCurrent", Value: 300.0, PeriodEnd: &q1},
			{Concept: "us-gaap:LiabilitiesCurrent", Value: 100.0, PeriodEnd: &q1},
		}}},
		Prices: []model.PricePoint{
			{Ticker: "ACME", Date: day(2024, 4, 11), AdjClose: 55},
			{Ticker: "ACME", Date: day(2024, 3, 12), AdjClose: 50},
		},
	})
	require.NoError(t, err)
	return f
}
