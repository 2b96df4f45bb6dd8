package scorer

import (
	"math"

	"github.com/osintube/threatscan/internal/config"
	"github.com/osintube/threatscan/internal/features"
	"github.com/osintube/threatscan/internal/model"
)

// Scorer computes risk scores. It holds no mutable state.
type Scorer struct {
	cfg       config.ScoringConfig
	extractor *features.Extractor
}

// New creates a Scorer. A nil extractor uses the built-in pattern table.
func New(cfg config.ScoringConfig, extractor *features.Extractor) *Scorer {
	if extractor == nil {
		extractor = features.Default()
	}
	return &Scorer{cfg: cfg, extractor: extractor}
}

// Extractor returns the feature extractor used by the scorer.
func (s *Scorer) Extractor() *features.Extractor { return s.extractor }

// Score extracts features from text and returns the full score and level.
func (s *Scorer) Score(text string, sentiment float64) (float64, model.RiskLevel, model.FeatureBundle) {
	f := s.extractor.Extract(text)
	score := s.ScoreFeatures(sentiment, f)
	return score, s.Level(score), f
}

// ScoreFeatures applies the weighted formula:
//
//	clamp01((1-s)*w_s + min(caps*w_c, cap_c) + min(excl*w_e, cap_e)
//	        + patterns*w_p + urgency*w_u + pronouns*w_pr)
func (s *Scorer) ScoreFeatures(sentiment float64, f model.FeatureBundle) float64 {
	c := s.cfg
	sentiment = clamp01(sentiment)

	score := (1-sentiment)*c.SentimentWeight +
		math.Min(f.CapsRatio*c.CapsWeight, c.CapsCap) +
		math.Min(float64(f.ExclamationCount)*c.ExclaimWeight, c.ExclaimCap) +
		float64(f.PatternTotal())*c.PatternWeight +
		float64(f.UrgencyCount)*c.UrgencyWeight +
		float64(f.PronounCount)*c.PronounWeight

	return clamp01(score)
}

// Level buckets a full score.
func (s *Scorer) Level(score float64) model.RiskLevel {
	lt := s.cfg.LevelThresholds
	switch {
	case score >= lt.Critical:
		return model.RiskCritical
	case score >= lt.High:
		return model.RiskHigh
	case score >= lt.Medium:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// SentimentTier buckets a sentiment value using the cheap pre-filter table.
// Sentiment above the "low" bound has no tier and returns ("", false).
func (s *Scorer) SentimentTier(sentiment float64) (model.RiskLevel, bool) {
	st := s.cfg.SentimentThresholds
	switch {
	case sentiment <= st.Critical:
		return model.RiskCritical, true
	case sentiment <= st.High:
		return model.RiskHigh, true
	case sentiment <= st.Medium:
		return model.RiskMedium, true
	case sentiment <= st.Low:
		return model.RiskLow, true
	default:
		return "", false
	}
}

// PassesSentimentGate reports whether sentiment is at or below the "high"
// pre-filter bound.
func (s *Scorer) PassesSentimentGate(sentiment float64) bool {
	return sentiment <= s.cfg.SentimentThresholds.High
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
