// Package analysis orchestrates threat analysis and interactive questions
// over a comment dataset. Service exposes the two entry points, Analyze and
// Ask; neither returns a Go error.
package analysis

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/osintube/threatscan/internal/cache"
	"github.com/osintube/threatscan/internal/cascade"
	"github.com/osintube/threatscan/internal/config"
	"github.com/osintube/threatscan/internal/history"
	"github.com/osintube/threatscan/internal/llm"
	"github.com/osintube/threatscan/internal/model"
	"github.com/osintube/threatscan/internal/resilience"
	"github.com/osintube/threatscan/internal/scorer"
)

// RequestRecorder logs requests. *history.Recorder satisfies it.
type RequestRecorder interface {
	Record(ctx context.Context, e history.Entry) (string, error)
}

// Options configures a Service.
type Options struct {
	Analysis config.AnalysisConfig
	QA       config.QAConfig
	// ModelID is passed on every invocation. Empty lets the invoker pick.
	ModelID string
	History RequestRecorder
}

// Outcome is the result of Analyze.
type Outcome struct {
	Status    model.Status  `json:"status"`
	Report    *model.Report `json:"report,omitempty"`
	FromCache bool          `json:"from_cache"`
	// Degraded is set when the report was computed but could not be cached.
	Degraded  bool   `json:"degraded,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Message   string `json:"message,omitempty"`
	Err       error  `json:"-"`
}

// Service runs analyses and questions.
type Service struct {
	cache   *cache.Cache
	cascade *cascade.Cascade
	scorer  *scorer.Scorer
	llm     llm.Invoker
	opts    Options
	now     func() time.Time
	flights singleflight.Group
}

// NewService creates a Service.
func NewService(c *cache.Cache, cs *cascade.Cascade, sc *scorer.Scorer, inv llm.Invoker, opts Options) *Service {
	if opts.Analysis.MaxOutputTokens <= 0 {
		opts.Analysis.MaxOutputTokens = 1000
	}
	if opts.Analysis.ExcerptChars <= 0 {
		opts.Analysis.ExcerptChars = 180
	}
	if opts.Analysis.RawTextChars <= 0 {
		opts.Analysis.RawTextChars = 4000
	}
	if opts.QA.MaxOutputTokens <= 0 {
		opts.QA.MaxOutputTokens = 800
	}
	if opts.QA.TopK <= 0 {
		opts.QA.TopK = 10
	}
	if opts.QA.SampleSize <= 0 {
		opts.QA.SampleSize = 8
	}
	if opts.QA.ExcerptChars <= 0 {
		opts.QA.ExcerptChars = 200
	}
	return &Service{
		cache:   c,
		cascade: cs,
		scorer:  sc,
		llm:     inv,
		opts:    opts,
		now:     time.Now,
	}
}

// Analyze returns the cached report for id or computes, caches and returns a
// new one. Concurrent calls for the same id in this process share one run.
// The shared run ignores the cancellation of whichever caller started it;
// the model call stays bounded by the invoker timeout and store calls by the
// cache timeouts.
func (s *Service) Analyze(ctx context.Context, ds model.Dataset, id model.DatasetID, query string) Outcome {
	start := s.now()
	runCtx := context.WithoutCancel(ctx)
	v, _, shared := s.flights.Do(id.String(), func() (any, error) {
		return s.analyze(runCtx, ds, id, query), nil
	})
	out := v.(Outcome)

	if !shared {
		s.record(ctx, history.Entry{
			Kind:       history.KindAnalyze,
			DatasetID:  id,
			Query:      query,
			Status:     out.Status,
			ModelID:    reportModel(out.Report),
			FromCache:  out.FromCache,
			DurationMs: s.now().Sub(start).Milliseconds(),
			Message:    out.Message,
		})
	}
	return out
}

func (s *Service) analyze(ctx context.Context, ds model.Dataset, id model.DatasetID, query string) Outcome {
	log := zap.L().With(zap.String("dataset_id", id.String()))

	cached, err := s.cache.Load(ctx, id)
	if err != nil {
		log.Warn("analysis: cache lookup failed", zap.Error(err))
		return errorOutcome(err, "cache lookup failed")
	}
	if cached != nil {
		log.Info("analysis: cache hit", zap.String("status", string(cached.Status)))
		return Outcome{Status: cached.Status, Report: cached, FromCache: true}
	}

	sel := s.cascade.Select(ds)
	meta := model.ReportMetadata{
		DatasetID:     id,
		AnalyzedCount: len(sel.Candidates),
		TotalCount:    len(ds),
		Timestamp:     s.now().UTC(),
		QueryContext:  query,
		FilterMethod:  sel.Method,
	}

	if len(sel.Candidates) == 0 {
		log.Info("analysis: no candidates", zap.String("filter_method", sel.Method))
		return Outcome{
			Status: model.StatusNoHighRiskComments,
			Report: &model.Report{
				Status:       model.StatusNoHighRiskComments,
				OverallLevel: model.RiskLow,
				Threats:      []model.ThreatFinding{},
				Summary:      "No comments were available for threat analysis.",
				Metadata:     meta,
			},
		}
	}

	log.Info("analysis: invoking model",
		zap.String("filter_method", sel.Method),
		zap.Int("candidates", len(sel.Candidates)),
		zap.Int("total", len(ds)),
	)
	resp, err := s.llm.Invoke(ctx, llm.Request{
		ModelID:         s.opts.ModelID,
		System:          analysisSystemPrompt,
		Prompt:          BuildAnalysisPrompt(sel.Candidates, len(ds), sel.Method, query, s.opts.Analysis.ExcerptChars),
		MaxOutputTokens: s.opts.Analysis.MaxOutputTokens,
		Temperature:     s.opts.Analysis.Temperature,
		TopP:            s.opts.Analysis.TopP,
		JSON:            true,
	})
	if err != nil {
		log.Warn("analysis: model invocation failed", zap.Error(err))
		return errorOutcome(err, "model invocation failed")
	}
	meta.ModelID = resp.ModelID
	if meta.ModelID == "" {
		meta.ModelID = s.opts.ModelID
	}

	var (
		report *model.Report
		raw    string
	)
	switch r := ParseResponse(resp.Text, sel.Candidates).(type) {
	case Parsed:
		report = r.Report
	case Unparsed:
		raw = r.RawText
		report = s.unparsedReport(r.RawText, sel.Candidates)
		log.Warn("analysis: unparseable model output", zap.Int("raw_len", len(r.RawText)))
	}
	report.Metadata = meta

	out := Outcome{Status: report.Status, Report: report}
	if err := s.cache.Store(ctx, id, report, raw); err != nil {
		log.Warn("analysis: cache write failed", zap.Error(err))
		out.Degraded = true
		out.Message = "report computed but not cached"
	}

	log.Info("analysis: complete",
		zap.String("status", string(report.Status)),
		zap.String("overall_level", string(report.OverallLevel)),
		zap.Int("findings", len(report.Threats)),
	)
	return out
}

func (s *Service) unparsedReport(raw string, candidates []model.Candidate) *model.Report {
	level := fallbackLevel(candidates, s.scorer.Level)
	return &model.Report{
		Status:       model.StatusParsingError,
		OverallLevel: level,
		Threats:      []model.ThreatFinding{},
		Summary: "The model response could not be parsed; overall level " + string(level) +
			" is inferred from the heuristic scores of the reviewed comments. Raw output is kept for review.",
		RawText: truncateRunes(raw, s.opts.Analysis.RawTextChars),
	}
}

func (s *Service) record(ctx context.Context, e history.Entry) {
	if s.opts.History == nil {
		return
	}
	if _, err := s.opts.History.Record(ctx, e); err != nil {
		zap.L().Warn("analysis: request log failed", zap.Error(err))
	}
}

func errorOutcome(err error, msg string) Outcome {
	return Outcome{
		Status:    model.StatusError,
		Retryable: resilience.Retryable(err),
		Message:   msg + ": " + err.Error(),
		Err:       err,
	}
}

func reportModel(r *model.Report) string {
	if r == nil {
		return ""
	}
	return r.Metadata.ModelID
}
