package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osintube/threatscan/internal/analysis"
	"github.com/osintube/threatscan/internal/cache"
	"github.com/osintube/threatscan/internal/history"
	"github.com/osintube/threatscan/internal/model"
)

func sampleReport() *model.Report {
	return &model.Report{
		Status:       model.StatusSuccess,
		OverallLevel: model.RiskHigh,
		Summary:      "One credible threat against a journalist.",
		Threats: []model.ThreatFinding{
			{SourceRow: 4, Author: "joao", Category: "threats", Severity: model.RiskHigh, Confidence: 0.8, EvidenceText: "vão pagar\ncaro"},
		},
		Metadata: model.ReportMetadata{
			DatasetID:     "comments_2025_debate",
			AnalyzedCount: 12,
			TotalCount:    300,
			ModelID:       "us.meta.llama4-scout-17b-instruct-v1:0",
			FilterMethod:  "sentiment-layered+pattern-based",
		},
	}
}

func TestFormatReport(t *testing.T) {
	var buf bytes.Buffer
	formatReport(&buf, sampleReport(), true)

	out := buf.String()
	assert.Contains(t, out, "comments_2025_debate (cached)")
	assert.Contains(t, out, "Level:    high")
	assert.Contains(t, out, "12 of 300 comments")
	assert.Contains(t, out, "SEVERITY")
	assert.Contains(t, out, "joao")
	assert.Contains(t, out, "vão pagar caro")
	assert.Contains(t, out, "0.80")
}

func TestWriteOutcome(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOutcome(&buf, analysis.Outcome{
		Status:    model.StatusError,
		Retryable: true,
		Message:   "model invocation failed",
	}, "text"))
	assert.Contains(t, buf.String(), "Status: error")
	assert.Contains(t, buf.String(), "retry later")

	buf.Reset()
	require.NoError(t, writeOutcome(&buf, analysis.Outcome{
		Status:   model.StatusSuccess,
		Report:   sampleReport(),
		Degraded: true,
		Message:  "report computed but not cached",
	}, "text"))
	assert.Contains(t, buf.String(), "Warning: report computed but not cached")

	buf.Reset()
	require.NoError(t, writeOutcome(&buf, analysis.Outcome{Status: model.StatusSuccess, Report: sampleReport()}, "json"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "success", decoded["status"])
	assert.NotContains(t, decoded, "Err")
}

func TestOutcomeError(t *testing.T) {
	assert.NoError(t, outcomeError(analysis.Outcome{Status: model.StatusParsingError}))
	assert.NoError(t, outcomeError(analysis.Outcome{Status: model.StatusNoHighRiskComments}))

	err := outcomeError(analysis.Outcome{Status: model.StatusError, Message: "model invocation failed", Err: errors.New("throttled")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Error(t, outcomeError(analysis.Outcome{Status: model.StatusError, Message: "x"}))
}

func TestWriteAnswer(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeAnswer(&buf, &model.Answer{Status: model.StatusSuccess, Text: "Row 3 threatens violence."}, "text"))
	assert.Equal(t, "Row 3 threatens violence.\n", buf.String())

	buf.Reset()
	require.NoError(t, writeAnswer(&buf, &model.Answer{Status: model.StatusNoHighRiskComments, Text: "No data."}, "text"))
	assert.Contains(t, buf.String(), "Status: no_high_risk_comments")

	buf.Reset()
	require.NoError(t, writeAnswer(&buf, &model.Answer{Status: model.StatusSuccess, Question: "q"}, "json"))
	assert.Contains(t, buf.String(), `"question": "q"`)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine(" a\n b\t c ", 10))
	assert.Equal(t, "abc...", oneLine("abcdef", 3))
	assert.Equal(t, "ção...", oneLine("çãoxyz", 3))
}

func TestFormatRequests(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatRequests(&buf, []history.Entry{
		{ID: "abc12345-6789", Kind: history.KindAnalyze, DatasetID: "comments_x", Status: model.StatusSuccess, FromCache: true, DurationMs: 12, Timestamp: now},
		{ID: "short", Kind: history.KindAsk, Status: model.StatusError, Timestamp: now},
	})

	out := buf.String()
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "analyze")
	assert.Contains(t, out, "ask")
	assert.Contains(t, out, "12ms")
	assert.Contains(t, out, "2025-06-15 10:30")
}

func TestFormatAnalyses(t *testing.T) {
	var buf bytes.Buffer
	formatAnalyses(&buf, []cache.Summary{
		{DatasetID: "comments_a", Status: model.StatusSuccess, OverallLevel: model.RiskCritical, FindingCount: 3, AnalyzedCount: 25, TotalCount: 900},
		{DatasetID: "comments_b", Status: model.StatusParsingError, OverallLevel: model.RiskLow, Invalidated: true},
	})

	out := buf.String()
	assert.Contains(t, out, "comments_a")
	assert.Contains(t, out, "critical")
	assert.Contains(t, out, "25/900")
	assert.Contains(t, out, "parsing_error (stale)")
}

func TestProcessBatch_OrderAndFailures(t *testing.T) {
	keys := []string{"a.json", "b.json", "c.json", "d.json"}
	results := processBatch(context.Background(), keys, 2, func(_ context.Context, key string) analysis.Outcome {
		if key == "b.json" {
			return analysis.Outcome{Status: model.StatusError, Message: "dataset not found"}
		}
		return analysis.Outcome{Status: model.StatusSuccess}
	})

	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, keys[i], r.Key)
	}
	assert.Equal(t, model.StatusError, results[1].Outcome.Status)
	assert.Equal(t, model.StatusSuccess, results[3].Outcome.Status)
}

func TestProcessBatch_Concurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	keys := make([]string, 8)
	for i := range keys {
		keys[i] = string(rune('a'+i)) + ".json"
	}

	processBatch(context.Background(), keys, 3, func(_ context.Context, _ string) analysis.Outcome {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return analysis.Outcome{Status: model.StatusSuccess}
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestFormatBatch(t *testing.T) {
	var buf bytes.Buffer
	formatBatch(&buf, []batchResult{
		{Key: "a.json", Outcome: analysis.Outcome{Status: model.StatusSuccess, Report: sampleReport(), FromCache: true}},
		{Key: "b.json", Outcome: analysis.Outcome{Status: model.StatusError, Retryable: true, Message: "model invocation failed"}},
	})

	out := buf.String()
	assert.Contains(t, out, "comments_2025_debate")
	assert.Contains(t, out, "b.json")
	assert.Contains(t, out, "retryable: model invocation failed")
}
