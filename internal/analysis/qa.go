package analysis

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/osintube/threatscan/internal/history"
	"github.com/osintube/threatscan/internal/llm"
	"github.com/osintube/threatscan/internal/model"
	"github.com/osintube/threatscan/internal/resilience"
)

const noDataAnswer = "There are no comments in this dataset to answer the question from."

// Ask answers a free-text question about ds. Answers are never cached.
func (s *Service) Ask(ctx context.Context, ds model.Dataset, question, qctx string) *model.Answer {
	start := s.now()
	ans := s.ask(ctx, ds, question, qctx)
	s.record(ctx, history.Entry{
		Kind:       history.KindAsk,
		Query:      question,
		Status:     ans.Status,
		ModelID:    ans.ModelID,
		DurationMs: s.now().Sub(start).Milliseconds(),
		Message:    ans.Message,
	})
	return ans
}

func (s *Service) ask(ctx context.Context, ds model.Dataset, question, qctx string) *model.Answer {
	if len(ds) == 0 {
		return &model.Answer{
			Status:   model.StatusNoHighRiskComments,
			Question: question,
			Text:     noDataAnswer,
			Relevant: []model.RankedComment{},
		}
	}

	ranked := RankRelevant(ds, question, s.opts.QA.TopK)
	sampled := false
	if len(ranked) == 0 {
		ranked = RepresentativeSample(ds, s.opts.QA.SampleSize)
		sampled = true
	}

	resp, err := s.llm.Invoke(ctx, llm.Request{
		ModelID:         s.opts.ModelID,
		System:          qaSystemPrompt,
		Prompt:          BuildQAPrompt(ds, question, qctx, ranked, sampled, s.opts.QA.ExcerptChars),
		MaxOutputTokens: s.opts.QA.MaxOutputTokens,
		Temperature:     s.opts.QA.Temperature,
		TopP:            s.opts.QA.TopP,
	})
	if err != nil {
		zap.L().Warn("analysis: question failed", zap.Error(err))
		return &model.Answer{
			Status:    model.StatusError,
			Question:  question,
			Relevant:  ranked,
			Sampled:   sampled,
			Message:   "model invocation failed: " + err.Error(),
			Retryable: resilience.Retryable(err),
		}
	}

	modelID := resp.ModelID
	if modelID == "" {
		modelID = s.opts.ModelID
	}
	return &model.Answer{
		Status:   model.StatusSuccess,
		Question: question,
		Text:     strings.TrimSpace(resp.Text),
		Relevant: ranked,
		Sampled:  sampled,
		ModelID:  modelID,
	}
}

// RankRelevant scores every comment by the number of question tokens found
// in its text, plus one for extreme sentiment, and returns the top k with a
// positive score. Ties keep dataset order.
func RankRelevant(ds model.Dataset, question string, k int) []model.RankedComment {
	tokens := questionTokens(question)

	var out []model.RankedComment
	for i, c := range ds {
		text := strings.ToLower(model.FoldAccents(c.Text))
		rel := 0
		for _, t := range tokens {
			if strings.Contains(text, t) {
				rel++
			}
		}
		if c.Sentiment < 0.3 || c.Sentiment > 0.7 {
			rel++
		}
		if rel > 0 {
			out = append(out, model.RankedComment{Index: i, Relevance: rel, Comment: c})
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Relevance > out[b].Relevance
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// RepresentativeSample picks n evenly spaced comments.
func RepresentativeSample(ds model.Dataset, n int) []model.RankedComment {
	if n <= 0 || len(ds) == 0 {
		return nil
	}
	n = min(n, len(ds))
	out := make([]model.RankedComment, 0, n)
	for i := 0; i < n; i++ {
		idx := i * len(ds) / n
		out = append(out, model.RankedComment{Index: idx, Comment: ds[idx]})
	}
	return out
}

// questionTokens splits q on whitespace, lowercases and folds accents, and
// trims surrounding punctuation. Duplicates and empty tokens are dropped.
func questionTokens(q string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range strings.Fields(strings.ToLower(model.FoldAccents(q))) {
		t := strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
