// Package scorer combines sentiment and lexical features into a composite
// risk score and level.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/osintube/threatscan/internal/config"
)

// DefaultConfig returns a config.ScoringConfig with the standard weights and
// both threshold tables.
func DefaultConfig() config.ScoringConfig {
	return config.ScoringConfig{
		SentimentWeight: 0.4,
		CapsWeight:      2.0,
		CapsCap:         1.5,
		ExclaimWeight:   0.1,
		ExclaimCap:      0.5,
		PatternWeight:   0.2,
		UrgencyWeight:   0.1,
		PronounWeight:   0.05,

		LevelThresholds: config.LevelThresholds{
			Critical: 0.8,
			High:     0.6,
			Medium:   0.4,
		},
		SentimentThresholds: config.SentimentThresholds{
			Critical: 0.2,
			High:     0.35,
			Medium:   0.5,
			Low:      0.65,
		},
	}
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
// Weights must be non-negative so the score stays monotonic in every term.
// The two threshold tables are checked independently of each other.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	weights := []struct {
		name  string
		value float64
	}{
		{"sentiment_weight", c.SentimentWeight},
		{"caps_weight", c.CapsWeight},
		{"caps_cap", c.CapsCap},
		{"exclaim_weight", c.ExclaimWeight},
		{"exclaim_cap", c.ExclaimCap},
		{"pattern_weight", c.PatternWeight},
		{"urgency_weight", c.UrgencyWeight},
		{"pronoun_weight", c.PronounWeight},
	}
	for _, w := range weights {
		if w.value < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", w.name))
		}
	}

	lt := c.LevelThresholds
	if lt.Medium <= 0 || lt.High <= lt.Medium || lt.Critical <= lt.High || lt.Critical > 1 {
		errs = append(errs, fmt.Sprintf("level thresholds must satisfy 0 < medium < high < critical <= 1, got %.2f/%.2f/%.2f",
			lt.Medium, lt.High, lt.Critical))
	}

	st := c.SentimentThresholds
	if st.Critical < 0 || st.High <= st.Critical || st.Medium <= st.High || st.Low <= st.Medium || st.Low > 1 {
		errs = append(errs, fmt.Sprintf("sentiment thresholds must satisfy 0 <= critical < high < medium < low <= 1, got %.2f/%.2f/%.2f/%.2f",
			st.Critical, st.High, st.Medium, st.Low))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
