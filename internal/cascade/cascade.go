// Package cascade selects a bounded, risk-ordered candidate set from a
// comment dataset using successive filtering strategies.
package cascade

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/osintube/threatscan/internal/config"
	"github.com/osintube/threatscan/internal/features"
	"github.com/osintube/threatscan/internal/model"
	"github.com/osintube/threatscan/internal/scorer"
)

// Method labels. A run's label joins the strategies that fired with "+".
const (
	MethodSentiment    = "sentiment-layered"
	MethodPattern      = "pattern-based"
	MethodBehavioral   = "behavioral"
	MethodFallback     = "fallback-lowest"
	MethodEmptyDataset = "empty-dataset"
)

// Result is the output of one cascade run.
type Result struct {
	Candidates []model.Candidate
	Method     string
	// Considered counts rows retained before the cap.
	Considered int
}

// Cascade runs the filter strategies. It never mutates the input dataset.
type Cascade struct {
	cfg    config.CascadeConfig
	scorer *scorer.Scorer
}

// New creates a Cascade.
func New(cfg config.CascadeConfig, sc *scorer.Scorer) *Cascade {
	if cfg.MinCandidates <= 0 {
		cfg.MinCandidates = 5
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 25
	}
	if cfg.FallbackCount <= 0 {
		cfg.FallbackCount = 15
	}
	return &Cascade{cfg: cfg, scorer: sc}
}

// Select returns the candidate set for ds. A non-empty dataset always yields
// at least one candidate; an empty one yields none with MethodEmptyDataset.
func (c *Cascade) Select(ds model.Dataset) Result {
	if len(ds) == 0 {
		return Result{Method: MethodEmptyDataset}
	}

	var (
		selected = make(map[int]struct{})
		order    []int
		methods  []string
	)
	add := func(i int) {
		if _, ok := selected[i]; ok {
			return
		}
		selected[i] = struct{}{}
		order = append(order, i)
	}

	// 1. Cheap sentiment-only gate.
	for i, cm := range ds {
		if c.scorer.PassesSentimentGate(cm.Sentiment) {
			add(i)
		}
	}
	if len(order) > 0 {
		methods = append(methods, MethodSentiment)
	}

	// 2. Pattern matches.
	if len(order) < c.cfg.MinCandidates {
		before := len(order)
		ex := c.scorer.Extractor()
		for i, cm := range ds {
			if ex.HasPattern(cm.Text) {
				add(i)
			}
		}
		if len(order) > before {
			methods = append(methods, MethodPattern)
		}
	}

	// 3. Repeated punctuation, caps runs, long rants.
	if len(order) < c.cfg.MinCandidates {
		before := len(order)
		for i, cm := range ds {
			if features.IsBehavioral(cm.Text, c.cfg.LongCommentChars) {
				add(i)
			}
		}
		if len(order) > before {
			methods = append(methods, MethodBehavioral)
		}
	}

	// 4. Nothing matched: lowest sentiment wins.
	if len(order) == 0 {
		for _, i := range lowestSentiment(ds, min(c.cfg.FallbackCount, len(ds))) {
			add(i)
		}
		methods = append(methods, MethodFallback)
	}

	candidates := make([]model.Candidate, 0, len(order))
	for _, i := range order {
		cm := ds[i]
		score, level, f := c.scorer.Score(cm.Text, cm.Sentiment)
		tier, _ := c.scorer.SentimentTier(cm.Sentiment)
		candidates = append(candidates, model.Candidate{
			SourceIndex:   i,
			Comment:       cm,
			Features:      f,
			Score:         score,
			Level:         level,
			SentimentTier: tier,
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		if ca.Score != cb.Score {
			return ca.Score > cb.Score
		}
		if ca.Comment.Sentiment != cb.Comment.Sentiment {
			return ca.Comment.Sentiment < cb.Comment.Sentiment
		}
		return ca.SourceIndex < cb.SourceIndex
	})

	considered := len(candidates)
	if len(candidates) > c.cfg.MaxCandidates {
		candidates = candidates[:c.cfg.MaxCandidates]
	}
	for i := range candidates {
		candidates[i].Row = i
	}

	method := strings.Join(methods, "+")
	zap.L().Debug("cascade: selected candidates",
		zap.Int("total", len(ds)),
		zap.Int("considered", considered),
		zap.Int("selected", len(candidates)),
		zap.String("method", method),
	)

	return Result{Candidates: candidates, Method: method, Considered: considered}
}

// lowestSentiment returns the indices of the n lowest-sentiment comments,
// ties broken by position.
func lowestSentiment(ds model.Dataset, n int) []int {
	idx := make([]int, len(ds))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return ds[idx[a]].Sentiment < ds[idx[b]].Sentiment
	})
	return idx[:n]
}
