package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ratio-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Dates are stored as
// YYYY-MM-DD text and timestamps as RFC 3339 text.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS filing_metadata (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker           TEXT,
	accession_number TEXT UNIQUE,
	report_end_date  TEXT,
	filed_date       TEXT,
	form             TEXT,
	created_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_filing_metadata_filed_date ON filing_metadata(filed_date);

CREATE TABLE IF NOT EXISTS financial_records (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker           TEXT NOT NULL,
	period_end_date  TEXT NOT NULL,
	accession_number TEXT NOT NULL DEFAULT '',
	UNIQUE (ticker, period_end_date, accession_number)
);

CREATE INDEX IF NOT EXISTS idx_financial_records_ticker_period ON financial_records(ticker, period_end_date);

CREATE TABLE IF NOT EXISTS financial_facts (
	record_id       INTEGER NOT NULL REFERENCES financial_records(id) ON DELETE CASCADE,
	ordinal         INTEGER NOT NULL,
	concept         TEXT NOT NULL,
	value           TEXT,
	period_end_date TEXT,
	has_segment     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (record_id, ordinal)
);

CREATE TABLE IF NOT EXISTS price_data (
	ticker    TEXT NOT NULL,
	date      TEXT NOT NULL,
	adj_close REAL,
	PRIMARY KEY (ticker, date)
);

CREATE TABLE IF NOT EXISTS financial_ratios (
	accession_number  TEXT PRIMARY KEY,
	ticker            TEXT NOT NULL,
	report_end_date   TEXT NOT NULL,
	filed_date        TEXT NOT NULL,
	debt_to_equity    REAL,
	fcf_yield         REAL,
	current_ratio     REAL,
	roe               REAL,
	gross_margin      REAL,
	operating_margin  REAL,
	quick_ratio       REAL,
	eps               REAL,
	eps_change        REAL,
	revenue_growth    REAL,
	price_trend_ratio REAL,
	data_source       TEXT NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ratio_runs (
	id                   TEXT PRIMARY KEY,
	backend              TEXT NOT NULL,
	state                TEXT NOT NULL DEFAULT 'running',
	started_at           TEXT NOT NULL,
	completed_at         TEXT,
	total                INTEGER NOT NULL DEFAULT 0,
	processed            INTEGER NOT NULL DEFAULT 0,
	resolution_failures  INTEGER NOT NULL DEFAULT 0,
	persistence_failures INTEGER NOT NULL DEFAULT 0,
	other_failures       INTEGER NOT NULL DEFAULT 0,
	error                TEXT
);

CREATE INDEX IF NOT EXISTS idx_ratio_runs_started_at ON ratio_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Backlog(ctx context.Context, limit int) ([]model.FilingRef, error) {
	query := `SELECT f.ticker, f.accession_number, f.report_end_date, f.filed_date
		FROM filing_metadata f
		LEFT JOIN financial_ratios r ON r.accession_number = f.accession_number
		WHERE r.accession_number IS NULL
		ORDER BY f.filed_date IS NULL, f.filed_date DESC, f.id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: backlog")
	}
	defer rows.Close()

	var out []model.FilingRef
	for rows.Next() {
		var ticker, accession, reportEnd, filed sql.NullString
		if err := rows.Scan(&ticker, &accession, &reportEnd, &filed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan backlog row")
		}
		out = append(out, model.FilingRef{
			Ticker:          ticker.String,
			AccessionNumber: accession.String,
			ReportEndDate:   parseDate(reportEnd),
			FiledDate:       parseDate(filed),
		})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: backlog iterate")
}

func (s *SQLiteStore) FinancialRecords(ctx context.Context, ticker string, from, to time.Time) ([]model.RawFinancialRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.ticker, r.period_end_date, r.accession_number, x.concept, x.value, x.period_end_date, x.has_segment
		FROM financial_records r
		LEFT JOIN financial_facts x ON x.record_id = r.id
		WHERE r.ticker = ? AND r.period_end_date BETWEEN ? AND ?
		ORDER BY r.period_end_date, r.id, x.ordinal`,
		ticker, sqlDate(from), sqlDate(to),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: financial records for %s", ticker)
	}
	defer rows.Close()

	var (
		out    []model.RawFinancialRecord
		lastID int64 = -1
	)
	for rows.Next() {
		var (
			id                         int64
			recTicker, periodEnd, accn string
			concept, value, factEnd    sql.NullString
			segment                    sql.NullBool
		)
		if err := rows.Scan(&id, &recTicker, &periodEnd, &accn, &concept, &value, &factEnd, &segment); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan financial record")
		}
		if id != lastID {
			out = append(out, model.RawFinancialRecord{
				Ticker:    recTicker,
				PeriodEnd: parseDate(sql.NullString{String: periodEnd, Valid: true}),
				Accession: accn,
			})
			lastID = id
		}
		if !concept.Valid {
			continue
		}
		fact := model.RawFact{Concept: concept.String, HasSegment: segment.Valid && segment.Bool}
		if value.Valid {
			fact.Value = value.String
		}
		if d := parseDate(factEnd); !d.IsZero() {
			fact.PeriodEnd = &d
		}
		cur := &out[len(out)-1]
		cur.Facts = append(cur.Facts, fact)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: financial records iterate")
}

func (s *SQLiteStore) Closes(ctx context.Context, ticker string, from, to time.Time) ([]model.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, date, adj_close FROM price_data
		WHERE ticker = ? AND date BETWEEN ? AND ? AND adj_close IS NOT NULL
		ORDER BY date`,
		ticker, sqlDate(from), sqlDate(to),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: closes for %s", ticker)
	}
	defer rows.Close()

	var out []model.PricePoint
	for rows.Next() {
		var (
			p    model.PricePoint
			date string
		)
		if err := rows.Scan(&p.Ticker, &date, &p.AdjClose); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price")
		}
		p.Date = parseDate(sql.NullString{String: date, Valid: true})
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: closes iterate")
}

func (s *SQLiteStore) InsertRatios(ctx context.Context, row model.RatioRow) error {
	if err := validateRow(row); err != nil {
		return err
	}
	created := row.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	args := []any{
		row.Filing.AccessionNumber, row.Filing.Ticker,
		sqlDate(row.Filing.ReportEndDate), sqlDate(row.Filing.FiledDate),
	}
	args = append(args, row.Ratios.Values()...)
	args = append(args, string(row.DataSource), sqlTimestamp(created))

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO financial_ratios (accession_number, ticker, report_end_date, filed_date, %s, data_source, created_at)
		VALUES (%s) ON CONFLICT (accession_number) DO NOTHING`, ratioColumns, placeholders),
		args...,
	)
	return eris.Wrapf(err, "sqlite: insert ratios %s", row.Filing.AccessionNumber)
}

func (s *SQLiteStore) StartRun(ctx context.Context, backend string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ratio_runs (id, backend, state, started_at) VALUES (?, ?, ?, ?)`,
		id, backend, string(model.RunStateRunning), sqlTimestamp(time.Now()),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: start run")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error {
	return s.finishRun(ctx, runID, model.RunStateComplete, counts, nil)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, counts model.RunCounts, msg string) error {
	return s.finishRun(ctx, runID, model.RunStateFailed, counts, msg)
}

func (s *SQLiteStore) finishRun(ctx context.Context, runID string, state model.RunState, c model.RunCounts, msg any) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ratio_runs SET state = ?, completed_at = ?, total = ?, processed = ?,
			resolution_failures = ?, persistence_failures = ?, other_failures = ?, error = ?
		WHERE id = ?`,
		string(state), sqlTimestamp(time.Now()), c.Total, c.Processed, c.ResolutionFailures,
		c.PersistenceFailures, c.OtherFailures, msg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RatioRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, backend, state, started_at, completed_at, total, processed,
			resolution_failures, persistence_failures, other_failures, error
		FROM ratio_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		runLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.RatioRun
	for rows.Next() {
		var (
			r                  model.RatioRun
			state, started     string
			completed, lastErr sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Backend, &state, &started, &completed,
			&r.Counts.Total, &r.Counts.Processed, &r.Counts.ResolutionFailures,
			&r.Counts.PersistenceFailures, &r.Counts.OtherFailures, &lastErr); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.State = model.RunState(state)
		r.StartedAt = parseTimestamp(started)
		if completed.Valid {
			t := parseTimestamp(completed.String)
			r.CompletedAt = &t
		}
		r.Error = lastErr.String
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) Import(ctx context.Context, batch ImportBatch) (ImportResult, error) {
	var res ImportResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, eris.Wrap(err, "sqlite: import begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, f := range batch.Filings {
		r, err := tx.ExecContext(ctx,
			`INSERT INTO filing_metadata (ticker, accession_number, report_end_date, filed_date)
			VALUES (?, ?, ?, ?) ON CONFLICT (accession_number) DO NOTHING`,
			nullableText(f.Ticker), nullableText(f.AccessionNumber), nullableSQLDate(f.ReportEndDate), nullableSQLDate(f.FiledDate),
		)
		if err != nil {
			return res, eris.Wrapf(err, "sqlite: import filing %s", f.AccessionNumber)
		}
		res.Filings += affected(r)
	}

	for _, rec := range batch.Records {
		var id int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO financial_records (ticker, period_end_date, accession_number)
			VALUES (?, ?, ?) ON CONFLICT (ticker, period_end_date, accession_number) DO NOTHING
			RETURNING id`,
			rec.Ticker, sqlDate(rec.PeriodEnd), rec.Accession,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return res, eris.Wrapf(err, "sqlite: import record %s %s", rec.Ticker, sqlDate(rec.PeriodEnd))
		}
		res.Records++

		for i, f := range rec.Facts {
			var factEnd any
			if f.PeriodEnd != nil {
				factEnd = nullableSQLDate(*f.PeriodEnd)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO financial_facts (record_id, ordinal, concept, value, period_end_date, has_segment)
				VALUES (?, ?, ?, ?, ?, ?)`,
				id, i, f.Concept, factText(f.Value), factEnd, f.HasSegment,
			); err != nil {
				return res, eris.Wrapf(err, "sqlite: import fact %s", f.Concept)
			}
			res.Facts++
		}
	}

	for _, p := range batch.Prices {
		r, err := tx.ExecContext(ctx,
			`INSERT INTO price_data (ticker, date, adj_close) VALUES (?, ?, ?)
			ON CONFLICT (ticker, date) DO UPDATE SET adj_close = excluded.adj_close`,
			p.Ticker, sqlDate(p.Date), p.AdjClose,
		)
		if err != nil {
			return res, eris.Wrapf(err, "sqlite: import price %s", p.Ticker)
		}
		res.Prices += affected(r)
	}

	if err := tx.Commit(); err != nil {
		return ImportResult{}, eris.Wrap(err, "sqlite: import commit")
	}
	return res, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func affected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

func sqlDate(t time.Time) string {
	return model.Date(t).Format(time.DateOnly)
}

func nullableSQLDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return sqlDate(t)
}

// sqliteTimeFormat keeps a fixed width so timestamps sort lexically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func sqlTimestamp(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func parseDate(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	v := s.String
	if len(v) > len(time.DateOnly) {
		v = v[:len(time.DateOnly)]
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(sqliteTimeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
