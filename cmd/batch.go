package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/osintube/threatscan/internal/analysis"
	"github.com/osintube/threatscan/internal/model"
)

var (
	batchQuery       string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch <dataset-key>...",
	Short: "Analyze several datasets concurrently",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrent
		}

		results := processBatch(ctx, args, concurrency, func(ctx context.Context, key string) analysis.Outcome {
			ds, id, err := env.Datasets.Load(ctx, key)
			if err != nil {
				return analysis.Outcome{Status: model.StatusError, Message: err.Error(), Err: err}
			}
			return env.Service.Analyze(ctx, ds, id, batchQuery)
		})

		formatBatch(os.Stdout, results)
		for _, r := range results {
			if r.Outcome.Status == model.StatusError {
				return eris.New("one or more datasets failed")
			}
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchQuery, "query", "", "analysis focus passed to the model")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "datasets analyzed at once (default from config)")
	rootCmd.AddCommand(batchCmd)
}

// batchResult is the outcome for one dataset key.
type batchResult struct {
	Key     string
	Outcome analysis.Outcome
}

type analyzeFunc func(ctx context.Context, key string) analysis.Outcome

// processBatch runs fn for every key with at most concurrency in flight.
// Results keep the order of keys. A failed dataset never aborts the batch.
func processBatch(ctx context.Context, keys []string, concurrency int, fn analyzeFunc) []batchResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	zap.L().Info("processing batch",
		zap.Int("datasets", len(keys)),
		zap.Int("concurrency", concurrency),
	)

	results := make([]batchResult, len(keys))
	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, key := range keys {
		g.Go(func() error {
			out := fn(gctx, key)
			if out.Status == model.StatusError {
				failed.Add(1)
				zap.L().Error("batch: analysis failed", zap.String("key", key), zap.String("message", out.Message), zap.Error(out.Err))
			} else {
				succeeded.Add(1)
			}
			results[i] = batchResult{Key: key, Outcome: out}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results
}

func formatBatch(w io.Writer, results []batchResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tSTATUS\tLEVEL\tFINDINGS\tCACHED\tNOTE")
	for _, r := range results {
		out := r.Outcome
		level, findings, id := "-", "-", r.Key
		if out.Report != nil {
			level = string(out.Report.OverallLevel)
			findings = fmt.Sprintf("%d", len(out.Report.Threats))
			id = out.Report.Metadata.DatasetID.String()
		}
		note := out.Message
		if out.Retryable {
			note = "retryable: " + note
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", id, out.Status, level, findings, out.FromCache, oneLine(note, 60))
	}
	tw.Flush() //nolint:errcheck
}
