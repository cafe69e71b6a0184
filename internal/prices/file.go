package prices

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ratio-cli/internal/fetcher"
	"github.com/sells-group/ratio-cli/internal/financials"
	"github.com/sells-group/ratio-cli/internal/model"
)

// ReadFile loads adjusted closes from a CSV, TSV or XLSX file. The first row
// must name the ticker, date and adj_close columns (case-insensitive; "close"
// is accepted when no adjusted column exists). Rows that do not parse are
// skipped and logged.
func ReadFile(ctx context.Context, path string) ([]model.PricePoint, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	case ".csv", ".tsv", ".txt":
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, eris.Wrapf(openErr, "prices: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		opts := fetcher.CSVOptions{TrimSpace: true, Comment: '#'}
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			opts.Delimiter = '\t'
		}
		rows, err = fetcher.ReadCSV(ctx, f, opts)
	default:
		return nil, eris.Errorf("prices: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, eris.Wrapf(err, "prices: read %s", path)
	}
	return ParseRows(rows)
}

// ParseRows converts a header row plus data rows into price points.
func ParseRows(rows [][]string) ([]model.PricePoint, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	cols, err := priceColumns(rows[0])
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "prices.import"))
	out := make([]model.PricePoint, 0, len(rows)-1)
	skipped := 0
	for i, row := range rows[1:] {
		p, ok := parseRow(row, cols)
		if !ok {
			skipped++
			log.Debug("skipping unparseable price row", zap.Int("row", i+2), zap.Strings("values", row))
			continue
		}
		out = append(out, p)
	}
	if skipped > 0 {
		log.Warn("skipped unparseable price rows", zap.Int("skipped", skipped), zap.Int("loaded", len(out)))
	}
	return out, nil
}

type columns struct{ ticker, date, close int }

func priceColumns(header []string) (columns, error) {
	c := columns{ticker: -1, date: -1, close: -1}
	plain := -1
	for i, h := range header {
		switch financials.CanonicalConcept(h) {
		case "ticker", "symbol":
			c.ticker = i
		case "date":
			c.date = i
		case "adjclose", "adjustedclose":
			c.close = i
		case "close":
			plain = i
		}
	}
	if c.close < 0 {
		c.close = plain
	}
	if c.ticker < 0 || c.date < 0 || c.close < 0 {
		return c, eris.Errorf("prices: header %v must name ticker, date and adj_close columns", header)
	}
	return c, nil
}

func parseRow(row []string, c columns) (model.PricePoint, bool) {
	if c.ticker >= len(row) || c.date >= len(row) || c.close >= len(row) {
		return model.PricePoint{}, false
	}
	ticker := strings.ToUpper(strings.TrimSpace(row[c.ticker]))
	if ticker == "" {
		return model.PricePoint{}, false
	}
	date, err := time.Parse(time.DateOnly, strings.TrimSpace(row[c.date]))
	if err != nil {
		return model.PricePoint{}, false
	}
	v, ok := financials.Number(row[c.close])
	if !ok {
		return model.PricePoint{}, false
	}
	return model.PricePoint{Ticker: ticker, Date: date, AdjClose: v}, true
}
