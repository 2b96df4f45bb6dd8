package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/osintube/threatscan/internal/cache"
	"github.com/osintube/threatscan/internal/history"
	"github.com/osintube/threatscan/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List logged requests or cached analyses",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		analyses, _ := cmd.Flags().GetBool("analyses")
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")

		if analyses {
			sums, err := env.Cache.List(ctx, all)
			if err != nil {
				return eris.Wrap(err, "history analyses")
			}
			if limit > 0 && len(sums) > limit {
				sums = sums[:limit]
			}
			if len(sums) == 0 {
				fmt.Fprintln(os.Stderr, "No analyses found.")
				return nil
			}
			formatAnalyses(os.Stdout, sums)
			return nil
		}

		if env.History == nil {
			return eris.New("request log is disabled (metadata.request_table is empty)")
		}
		entries, err := env.History.List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "history requests")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No requests found.")
			return nil
		}
		formatRequests(os.Stdout, entries)
		return nil
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <dataset-id>",
	Short: "Mark a cached analysis stale so the next analyze recomputes it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ok, err := env.Cache.Invalidate(ctx, model.DatasetID(args[0]))
		if err != nil {
			return eris.Wrap(err, "invalidate")
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "No analysis cached for %s.\n", args[0])
			return nil
		}
		fmt.Printf("Invalidated %s.\n", args[0])
		return nil
	},
}

func init() {
	historyCmd.Flags().Bool("analyses", false, "list cached analyses instead of requests")
	historyCmd.Flags().Bool("all", false, "include invalidated analyses")
	historyCmd.Flags().Int("limit", 50, "max number of rows to display")
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(invalidateCmd)
}

func formatRequests(w io.Writer, entries []history.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tDATASET\tSTATUS\tCACHED\tDURATION\tTIME")
	for _, e := range entries {
		id := e.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%dms\t%s\n",
			id, e.Kind, e.DatasetID, e.Status, e.FromCache, e.DurationMs,
			e.Timestamp.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func formatAnalyses(w io.Writer, sums []cache.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tSTATUS\tLEVEL\tFINDINGS\tREVIEWED\tMODEL\tTIME")
	for _, s := range sums {
		status := string(s.Status)
		if s.Invalidated {
			status += " (stale)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\n",
			s.DatasetID, status, s.OverallLevel, s.FindingCount,
			s.AnalyzedCount, s.TotalCount, s.ModelID,
			s.Timestamp.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}
