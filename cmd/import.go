package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ratio-cli/internal/fetcher"
	"github.com/sells-group/ratio-cli/internal/prices"
	"github.com/sells-group/ratio-cli/internal/store"
	"github.com/sells-group/ratio-cli/internal/xbrl"
)

var (
	importTicker string
	importFile   string
	importCIK    int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load filings, financial facts and prices into the store",
}

var importFactsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Import XBRL company facts for one ticker",
	Long:  "Reads an EDGAR companyfacts document from --file or fetches it by --cik, then loads its periodic filings and per-period facts.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("import"); err != nil {
			return err
		}
		if (importFile == "") == (importCIK == 0) {
			return eris.New("exactly one of --file or --cik is required")
		}

		facts, err := loadCompanyFacts(ctx)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "import: migrate")
		}

		res, err := importFacts(ctx, st, facts, importTicker)
		if err != nil {
			return err
		}
		logImport(res, zap.String("ticker", importTicker), zap.String("entity", facts.EntityName))
		return nil
	},
}

var importPricesCmd = &cobra.Command{
	Use:   "prices <file>",
	Short: "Import adjusted closes from a CSV, TSV or XLSX file",
	Long:  "Loads ticker, date and adjusted close columns. Existing (ticker, date) rows are overwritten.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		points, err := prices.ReadFile(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "import prices")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "import: migrate")
		}

		res, err := st.Import(ctx, store.ImportBatch{Prices: points})
		if err != nil {
			return eris.Wrap(err, "import prices")
		}
		logImport(res, zap.String("file", args[0]))
		return nil
	},
}

func init() {
	importFactsCmd.Flags().StringVar(&importTicker, "ticker", "", "ticker the facts belong to (required)")
	importFactsCmd.Flags().StringVar(&importFile, "file", "", "path to a companyfacts JSON document")
	importFactsCmd.Flags().IntVar(&importCIK, "cik", 0, "fetch companyfacts from EDGAR for this CIK")
	_ = importFactsCmd.MarkFlagRequired("ticker")

	importCmd.AddCommand(importFactsCmd)
	importCmd.AddCommand(importPricesCmd)
	rootCmd.AddCommand(importCmd)
}

func loadCompanyFacts(ctx context.Context) (*xbrl.CompanyFacts, error) {
	if importFile != "" {
		f, err := os.Open(importFile)
		if err != nil {
			return nil, eris.Wrapf(err, "import: open %s", importFile)
		}
		defer f.Close() //nolint:errcheck
		return xbrl.ParseCompanyFacts(f)
	}

	if cfg.EDGAR.UserAgent == "" {
		zap.L().Warn("edgar.user_agent is empty; SEC may reject requests without a contact address")
	}
	hf := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.EDGAR.UserAgent,
		Retry:        retryPolicy(cfg.Retry.Store),
		RateLimiters: fetcher.DefaultRateLimiters(),
	})
	return xbrl.FetchCompanyFacts(ctx, hf, cfg.EDGAR.BaseURL, importCIK)
}

// importFacts converts facts for ticker and loads the result.
func importFacts(ctx context.Context, st store.Store, facts *xbrl.CompanyFacts, ticker string) (store.ImportResult, error) {
	conv := xbrl.Convert(facts, ticker, xbrl.TargetFacts)
	if len(conv.Filings) == 0 {
		return store.ImportResult{}, eris.Errorf("import: no periodic filings found for %s", ticker)
	}
	res, err := st.Import(ctx, store.ImportBatch{Filings: conv.Filings, Records: conv.Records})
	if err != nil {
		return res, eris.Wrap(err, "import facts")
	}
	return res, nil
}

func logImport(res store.ImportResult, fields ...zap.Field) {
	zap.L().Info("import complete", append(fields,
		zap.Int("filings", res.Filings),
		zap.Int("records", res.Records),
		zap.Int("facts", res.Facts),
		zap.Int("prices", res.Prices),
	)...)
}
