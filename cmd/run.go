package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/ratio-cli/internal/financials"
	"github.com/sells-group/ratio-cli/internal/runner"
)

var (
	runWorkers int
	runLimit   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute ratios for every filing without a ratio row",
	Long:  "Pulls the backlog of filings lacking ratios once, processes them on a bounded worker pool and prints a summary of outcomes.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("workers") {
			cfg.Ratios.Workers = runWorkers
		}
		if cmd.Flags().Changed("limit") {
			cfg.Ratios.Limit = runLimit
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "run: migrate")
		}

		engine, err := newEngine(ctx)
		if err != nil {
			return eris.Wrap(err, "run: init engine")
		}

		storeRetry := retryPolicy(cfg.Retry.Store)
		r := runner.New(runner.Deps{
			Catalog: st,
			Records: st,
			Prices:  st,
			Sink:    st,
			Engine:  engine,
			RunLog:  st,
		}, runner.Options{
			Workers: cfg.Ratios.Workers,
			Limit:   cfg.Ratios.Limit,
			Resolver: financials.ResolverOptions{
				FallbackWindowDays: cfg.Ratios.Resolver.FallbackWindowDays,
				PriorOffsetDays:    cfg.Ratios.Resolver.PriorOffsetDays,
				PriorWindowDays:    cfg.Ratios.Resolver.PriorWindowDays,
				Retry:              storeRetry,
			},
			LookbackDays:   cfg.Ratios.Prices.LookbackDays,
			NearOffsetDays: cfg.Ratios.Prices.NearOffsetDays,
			FarOffsetDays:  cfg.Ratios.Prices.FarOffsetDays,
			StoreRetry:     storeRetry,
			DrainTimeout:   time.Duration(cfg.Ratios.DrainTimeoutSecs) * time.Second,
		})

		sum, err := r.Run(ctx)
		formatSummary(os.Stdout, sum)
		if err != nil {
			if runner.IsCancelled(err) {
				return eris.Wrap(err, "run interrupted")
			}
			return err
		}
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 8, "number of concurrent filing workers")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max filings to process (0 = whole backlog)")
	rootCmd.AddCommand(runCmd)
}

// formatSummary writes the end-of-run outcome counts to out.
func formatSummary(out io.Writer, sum runner.Summary) {
	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if sum.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", sum.RunID)
	}
	_, _ = fmt.Fprintf(w, "Backend:\t%s\n", sum.Backend)
	_, _ = p.Fprintf(w, "Filings:\t%d\n", sum.Counts.Total)
	_, _ = p.Fprintf(w, "Processed:\t%d\n", sum.Counts.Processed)
	_, _ = p.Fprintf(w, "Resolution failures:\t%d\n", sum.Counts.ResolutionFailures)
	_, _ = p.Fprintf(w, "Persistence failures:\t%d\n", sum.Counts.PersistenceFailures)
	_, _ = p.Fprintf(w, "Other failures:\t%d\n", sum.Counts.OtherFailures)
	if sum.Elapsed > 0 {
		_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", sum.Elapsed.Round(time.Millisecond))
	}
	_ = w.Flush()
}
