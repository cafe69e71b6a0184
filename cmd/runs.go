package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ratio-cli/internal/model"
)

var (
	runsLimit  int
	runsFormat string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ratio runs",
	Long:  "Shows the run log, newest first, with the outcome counts recorded for each run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runs, err := st.ListRuns(ctx, runsLimit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 && runsFormat == "table" {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		return writeRuns(os.Stdout, runs, runsFormat)
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max number of runs to display")
	runsCmd.Flags().StringVar(&runsFormat, "format", "table", "output format (table, json, yaml)")
	rootCmd.AddCommand(runsCmd)
}

func writeRuns(out io.Writer, runs []model.RatioRun, format string) error {
	switch format {
	case "table":
		formatRunsList(out, runs)
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(runs); err != nil {
			return eris.Wrap(err, "runs: encode yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unsupported format: %s", format)
	}
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.RatioRun) {
	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tBACKEND\tSTATE\tSTARTED\tDURATION\tTOTAL\tOK\tRESOLUTION\tPERSIST\tOTHER")
	_, _ = fmt.Fprintln(w, "--\t-------\t-----\t-------\t--------\t-----\t--\t----------\t-------\t-----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		c := r.Counts
		_, _ = p.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			truncateID(r.ID),
			r.Backend,
			r.State,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			c.Total, c.Processed, c.ResolutionFailures, c.PersistenceFailures, c.OtherFailures,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
