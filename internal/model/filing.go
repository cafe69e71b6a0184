package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrInvalidFiling is returned when a FilingRef is missing an identity field.
var ErrInvalidFiling = eris.New("model: invalid filing reference")

// FilingRef identifies a single filing awaiting ratio computation.
type FilingRef struct {
	Ticker          string    `json:"ticker"`
	AccessionNumber string    `json:"accession_number"`
	ReportEndDate   time.Time `json:"report_end_date"`
	FiledDate       time.Time `json:"filed_date"`
}

// Validate reports whether every identity field is populated.
func (f FilingRef) Validate() error {
	var missing []string
	if strings.TrimSpace(f.Ticker) == "" {
		missing = append(missing, "ticker")
	}
	if strings.TrimSpace(f.AccessionNumber) == "" {
		missing = append(missing, "accession_number")
	}
	if f.ReportEndDate.IsZero() {
		missing = append(missing, "report_end_date")
	}
	if f.FiledDate.IsZero() {
		missing = append(missing, "filed_date")
	}
	if len(missing) > 0 {
		return eris.Wrapf(ErrInvalidFiling, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// DataSource records whether a current-period snapshot was found for a filing.
type DataSource string

const (
	// DataSourceResolved means the period resolver located a current record.
	DataSourceResolved DataSource = "resolved"
	// DataSourceNone means no current record existed within the search windows.
	DataSourceNone DataSource = "none"
)

// RatioRow is the unit appended to the ratio sink, one per filing.
type RatioRow struct {
	Filing     FilingRef  `json:"filing"`
	Ratios     RatioSet   `json:"ratios"`
	DataSource DataSource `json:"data_source"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Date truncates t to a UTC calendar day. All period arithmetic happens on
// calendar days.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of calendar days between a and b.
func DaysBetween(a, b time.Time) int {
	d := Date(a).Sub(Date(b)).Hours() / 24
	if d < 0 {
		d = -d
	}
	return int(d + 0.5)
}
