package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ratio-cli/internal/db"
	"github.com/sells-group/ratio-cli/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres connects to Postgres and returns a store.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migrate(ctx, s.pool)
}

func (s *PostgresStore) Backlog(ctx context.Context, limit int) ([]model.FilingRef, error) {
	query := `SELECT f.ticker, f.accession_number, f.report_end_date, f.filed_date
		FROM filing_metadata f
		LEFT JOIN financial_ratios r ON r.accession_number = f.accession_number
		WHERE r.accession_number IS NULL
		ORDER BY f.filed_date DESC NULLS LAST, f.id`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: backlog")
	}
	defer rows.Close()

	var out []model.FilingRef
	for rows.Next() {
		var (
			ticker, accession pgtype.Text
			reportEnd, filed  pgtype.Date
		)
		if err := rows.Scan(&ticker, &accession, &reportEnd, &filed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan backlog row")
		}
		out = append(out, model.FilingRef{
			Ticker:          ticker.String,
			AccessionNumber: accession.String,
			ReportEndDate:   pgDate(reportEnd),
			FiledDate:       pgDate(filed),
		})
	}
	return out, eris.Wrap(rows.Err(), "postgres: backlog iterate")
}

func (s *PostgresStore) FinancialRecords(ctx context.Context, ticker string, from, to time.Time) ([]model.RawFinancialRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.ticker, r.period_end_date, r.accession_number, x.concept, x.value, x.period_end_date, x.has_segment
		FROM financial_records r
		LEFT JOIN financial_facts x ON x.record_id = r.id
		WHERE r.ticker = $1 AND r.period_end_date BETWEEN $2 AND $3
		ORDER BY r.period_end_date, r.id, x.ordinal`,
		ticker, model.Date(from), model.Date(to),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: financial records for %s", ticker)
	}
	defer rows.Close()

	var (
		out    []model.RawFinancialRecord
		lastID int64 = -1
	)
	for rows.Next() {
		var (
			id              int64
			recTicker, accn string
			periodEnd       time.Time
			concept, value  pgtype.Text
			factEnd         pgtype.Date
			segment         pgtype.Bool
		)
		if err := rows.Scan(&id, &recTicker, &periodEnd, &accn, &concept, &value, &factEnd, &segment); err != nil {
			return nil, eris.Wrap(err, "postgres: scan financial record")
		}
		if id != lastID {
			out = append(out, model.RawFinancialRecord{Ticker: recTicker, PeriodEnd: model.Date(periodEnd), Accession: accn})
			lastID = id
		}
		if !concept.Valid {
			continue
		}
		fact := model.RawFact{Concept: concept.String, HasSegment: segment.Valid && segment.Bool}
		if value.Valid {
			fact.Value = value.String
		}
		if factEnd.Valid {
			d := model.Date(factEnd.Time)
			fact.PeriodEnd = &d
		}
		cur := &out[len(out)-1]
		cur.Facts = append(cur.Facts, fact)
	}
	return out, eris.Wrap(rows.Err(), "postgres: financial records iterate")
}

func (s *PostgresStore) Closes(ctx context.Context, ticker string, from, to time.Time) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker, date, adj_close FROM price_data
		WHERE ticker = $1 AND date BETWEEN $2 AND $3 AND adj_close IS NOT NULL
		ORDER BY date`,
		ticker, model.Date(from), model.Date(to),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: closes for %s", ticker)
	}
	defer rows.Close()

	var out []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		if err := rows.Scan(&p.Ticker, &p.Date, &p.AdjClose); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price")
		}
		p.Date = model.Date(p.Date)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: closes iterate")
}

func (s *PostgresStore) InsertRatios(ctx context.Context, row model.RatioRow) error {
	if err := validateRow(row); err != nil {
		return err
	}
	created := row.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	args := []any{
		row.Filing.AccessionNumber, row.Filing.Ticker,
		model.Date(row.Filing.ReportEndDate), model.Date(row.Filing.FiledDate),
	}
	args = append(args, row.Ratios.Values()...)
	args = append(args, string(row.DataSource), created)

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO financial_ratios (accession_number, ticker, report_end_date, filed_date, %s, data_source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (accession_number) DO NOTHING`, ratioColumns),
		args...,
	)
	return eris.Wrapf(err, "postgres: insert ratios %s", row.Filing.AccessionNumber)
}

func (s *PostgresStore) StartRun(ctx context.Context, backend string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ratio_runs (id, backend, state, started_at) VALUES ($1, $2, $3, now())`,
		id, backend, string(model.RunStateRunning),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: start run")
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error {
	return s.finishRun(ctx, runID, model.RunStateComplete, counts, nil)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, counts model.RunCounts, msg string) error {
	return s.finishRun(ctx, runID, model.RunStateFailed, counts, msg)
}

func (s *PostgresStore) finishRun(ctx context.Context, runID string, state model.RunState, c model.RunCounts, msg any) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ratio_runs SET state = $1, completed_at = now(), total = $2, processed = $3,
			resolution_failures = $4, persistence_failures = $5, other_failures = $6, error = $7
		WHERE id = $8`,
		string(state), c.Total, c.Processed, c.ResolutionFailures, c.PersistenceFailures, c.OtherFailures, msg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RatioRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, backend, state, started_at, completed_at, total, processed,
			resolution_failures, persistence_failures, other_failures, error
		FROM ratio_runs ORDER BY started_at DESC LIMIT $1`,
		runLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RatioRun
	for rows.Next() {
		var (
			r      model.RatioRun
			state  string
			errMsg *string
		)
		if err := rows.Scan(&r.ID, &r.Backend, &state, &r.StartedAt, &r.CompletedAt,
			&r.Counts.Total, &r.Counts.Processed, &r.Counts.ResolutionFailures,
			&r.Counts.PersistenceFailures, &r.Counts.OtherFailures, &errMsg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.State = model.RunState(state)
		if errMsg != nil {
			r.Error = *errMsg
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) Import(ctx context.Context, batch ImportBatch) (ImportResult, error) {
	var res ImportResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "postgres: import begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, f := range batch.Filings {
		tag, err := tx.Exec(ctx,
			`INSERT INTO filing_metadata (ticker, accession_number, report_end_date, filed_date)
			VALUES ($1, $2, $3, $4) ON CONFLICT (accession_number) DO NOTHING`,
			nullableText(f.Ticker), nullableText(f.AccessionNumber), nullableDate(f.ReportEndDate), nullableDate(f.FiledDate),
		)
		if err != nil {
			return res, eris.Wrapf(err, "postgres: import filing %s", f.AccessionNumber)
		}
		res.Filings += int(tag.RowsAffected())
	}

	for _, rec := range batch.Records {
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO financial_records (ticker, period_end_date, accession_number)
			VALUES ($1, $2, $3) ON CONFLICT (ticker, period_end_date, accession_number) DO NOTHING
			RETURNING id`,
			rec.Ticker, model.Date(rec.PeriodEnd), rec.Accession,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return res, eris.Wrapf(err, "postgres: import record %s %s", rec.Ticker, rec.PeriodEnd.Format(time.DateOnly))
		}
		res.Records++

		for i, f := range rec.Facts {
			if _, err := tx.Exec(ctx,
				`INSERT INTO financial_facts (record_id, ordinal, concept, value, period_end_date, has_segment)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				id, i, f.Concept, factText(f.Value), nullableDatePtr(f.PeriodEnd), f.HasSegment,
			); err != nil {
				return res, eris.Wrapf(err, "postgres: import fact %s", f.Concept)
			}
			res.Facts++
		}
	}

	for _, p := range batch.Prices {
		tag, err := tx.Exec(ctx,
			`INSERT INTO price_data (ticker, date, adj_close) VALUES ($1, $2, $3)
			ON CONFLICT (ticker, date) DO UPDATE SET adj_close = EXCLUDED.adj_close`,
			p.Ticker, model.Date(p.Date), p.AdjClose,
		)
		if err != nil {
			return res, eris.Wrapf(err, "postgres: import price %s", p.Ticker)
		}
		res.Prices += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return ImportResult{}, eris.Wrap(err, "postgres: import commit")
	}
	return res, nil
}

func pgDate(d pgtype.Date) time.Time {
	if !d.Valid {
		return time.Time{}
	}
	return model.Date(d.Time)
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return model.Date(t)
}

func nullableDatePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return nullableDate(*t)
}
