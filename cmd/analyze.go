package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/osintube/threatscan/internal/analysis"
	"github.com/osintube/threatscan/internal/model"
)

var (
	analyzeQuery  string
	analyzeFormat string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <dataset-key>",
	Short: "Run or fetch the cached threat analysis of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		ds, id, err := env.Datasets.Load(ctx, args[0])
		if err != nil {
			return err
		}

		out := env.Service.Analyze(ctx, ds, id, analyzeQuery)
		if err := writeOutcome(os.Stdout, out, analyzeFormat); err != nil {
			return err
		}
		return outcomeError(out)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeQuery, "query", "", "analysis focus passed to the model")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "text", "output format (text, json)")
	rootCmd.AddCommand(analyzeCmd)
}

// outcomeError turns an error outcome into a command failure.
func outcomeError(out analysis.Outcome) error {
	if out.Status != model.StatusError {
		return nil
	}
	if out.Err != nil {
		return eris.Wrap(out.Err, out.Message)
	}
	return eris.New(out.Message)
}

func writeOutcome(w io.Writer, out analysis.Outcome, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if out.Report == nil {
		fmt.Fprintf(w, "Status: %s\n", out.Status)
		if out.Message != "" {
			fmt.Fprintf(w, "Message: %s\n", out.Message)
		}
		if out.Retryable {
			fmt.Fprintln(w, "The failure is transient; retry later.")
		}
		return nil
	}
	formatReport(w, out.Report, out.FromCache)
	if out.Degraded {
		fmt.Fprintf(w, "\nWarning: %s\n", out.Message)
	}
	return nil
}

// formatReport writes a human-readable report.
func formatReport(w io.Writer, r *model.Report, fromCache bool) {
	m := r.Metadata
	source := "computed"
	if fromCache {
		source = "cached"
	}
	fmt.Fprintf(w, "Dataset:  %s (%s)\n", m.DatasetID, source)
	fmt.Fprintf(w, "Status:   %s\n", r.Status)
	fmt.Fprintf(w, "Level:    %s\n", r.OverallLevel)
	fmt.Fprintf(w, "Reviewed: %d of %d comments (%s)\n", m.AnalyzedCount, m.TotalCount, m.FilterMethod)
	if m.ModelID != "" {
		fmt.Fprintf(w, "Model:    %s\n", m.ModelID)
	}
	fmt.Fprintf(w, "\n%s\n", r.Summary)

	if len(r.Threats) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tSEVERITY\tCATEGORY\tAUTHOR\tCONF\tEVIDENCE")
	for _, t := range r.Threats {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%s\n",
			t.SourceRow, t.Severity, t.Category, t.Author, t.Confidence, oneLine(t.EvidenceText, 80))
	}
	tw.Flush() //nolint:errcheck
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
