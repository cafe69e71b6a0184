package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRatioSet_AllKeysUnknown(t *testing.T) {
	rs := NewRatioSet()
	assert.Len(t, rs, len(AllRatios))
	for _, r := range AllRatios {
		v, ok := rs[r]
		assert.True(t, ok, r)
		assert.Nil(t, v, r)
	}
	assert.Equal(t, 0, rs.Known())
}

func TestRatioSet_SetRejectsNonFinite(t *testing.T) {
	rs := NewRatioSet()
	rs.Set(ROE, Float(math.NaN()))
	rs.Set(EPS, Float(math.Inf(1)))
	rs.Set(GrossMargin, Float(0.4))
	rs.Set("made_up", Float(1))

	assert.Nil(t, rs.Get(ROE))
	assert.Nil(t, rs.Get(EPS))
	require.NotNil(t, rs.Get(GrossMargin))
	assert.InDelta(t, 0.4, *rs.Get(GrossMargin), 1e-9)
	assert.Len(t, rs, len(AllRatios))
}

func TestRatioSet_SetCopiesValue(t *testing.T) {
	rs := NewRatioSet()
	v := 1.5
	rs.Set(CurrentRatio, &v)
	v = 99
	assert.InDelta(t, 1.5, *rs.Get(CurrentRatio), 1e-9)
}

func TestRatioSet_ValuesOrder(t *testing.T) {
	rs := NewRatioSet()
	rs.Set(DebtToEquity, Float(2))
	rs.Set(PriceTrendRatio, Float(1.1))

	vals := rs.Values()
	require.Len(t, vals, 11)
	assert.Equal(t, 2.0, vals[0])
	assert.Nil(t, vals[1])
	assert.Equal(t, 1.1, vals[10])
}

func TestRatioSet_MarshalJSONEmitsNulls(t *testing.T) {
	rs := NewRatioSet()
	rs.Set(EPS, Float(3.2))
	data, err := json.Marshal(rs)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 11)
	assert.Nil(t, decoded["roe"])
	assert.InDelta(t, 3.2, decoded["eps"], 1e-9)
}

func TestComputedRatiosExcludesPriceTrend(t *testing.T) {
	assert.Len(t, ComputedRatios, 10)
	assert.NotContains(t, ComputedRatios, PriceTrendRatio)
}

func TestFilingRef_Validate(t *testing.T) {
	day := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	ok := FilingRef{Ticker: "AAPL", AccessionNumber: "0000320193-24-000001", ReportEndDate: day, FiledDate: day}
	assert.NoError(t, ok.Validate())

	bad := FilingRef{Ticker: " ", ReportEndDate: day}
	err := bad.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFiling)
	assert.Contains(t, err.Error(), "ticker")
	assert.Contains(t, err.Error(), "accession_number")
	assert.Contains(t, err.Error(), "filed_date")
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)
	assert.Equal(t, 30, DaysBetween(a, b))
	assert.Equal(t, 30, DaysBetween(b, a))
	assert.Equal(t, 0, DaysBetween(a, a))
}

func TestRunCounts_Balanced(t *testing.T) {
	c := RunCounts{Total: 5, Processed: 2, ResolutionFailures: 1, PersistenceFailures: 1, OtherFailures: 1}
	assert.True(t, c.Balanced())
	c.Processed++
	assert.False(t, c.Balanced())
}
