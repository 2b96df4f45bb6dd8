package model

import "strings"

// RiskLevel is the discrete bucket of a risk score.
type RiskLevel string

// Risk levels in ascending order of severity.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var levelRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// AllRiskLevels returns the levels from least to most severe.
func AllRiskLevels() []RiskLevel {
	return []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}
}

// Rank returns 0 for low through 3 for critical, and -1 for unknown values.
func (l RiskLevel) Rank() int {
	r, ok := levelRank[l]
	if !ok {
		return -1
	}
	return r
}

// AtLeast reports whether l is as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

// ParseRiskLevel maps free-form model output ("HIGH", "none", "severe") onto a
// level. Unknown values return ("", false).
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "severe", "extreme", "critico", "crítico":
		return RiskCritical, true
	case "high", "alto", "alta":
		return RiskHigh, true
	case "medium", "moderate", "medio", "médio", "media", "média":
		return RiskMedium, true
	case "low", "none", "minimal", "baixo", "baixa", "nenhum":
		return RiskLow, true
	default:
		return "", false
	}
}

// Category is a threat pattern category.
type Category string

// Pattern categories matched by the feature extractor.
const (
	CategoryViolence   Category = "violence"
	CategoryHateSpeech Category = "hate_speech"
	CategoryThreats    Category = "threats"
	CategoryIncitement Category = "incitement"
)

// AllCategories returns the categories in a fixed order.
func AllCategories() []Category {
	return []Category{CategoryViolence, CategoryHateSpeech, CategoryThreats, CategoryIncitement}
}

// FeatureBundle is the behavioral/lexical feature set derived from one
// comment text. It is never persisted on its own.
type FeatureBundle struct {
	CapsRatio        float64          `json:"caps_ratio"`
	ExclamationCount int              `json:"exclamation_count"`
	PronounCount     int              `json:"pronoun_count"`
	UrgencyCount     int              `json:"urgency_count"`
	Patterns         map[Category]int `json:"patterns"`
}

// PatternTotal sums the per-category match counts.
func (f FeatureBundle) PatternTotal() int {
	total := 0
	for _, n := range f.Patterns {
		total += n
	}
	return total
}

// MatchedCategories lists categories with at least one match, in fixed order.
func (f FeatureBundle) MatchedCategories() []Category {
	var out []Category
	for _, c := range AllCategories() {
		if f.Patterns[c] > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Candidate is one comment retained by the filter cascade, fully scored.
// Row is the dense 0-based index used in prompts and model output.
type Candidate struct {
	Row           int           `json:"row"`
	SourceIndex   int           `json:"source_index"`
	Comment       Comment       `json:"comment"`
	Features      FeatureBundle `json:"features"`
	Score         float64       `json:"score"`
	Level         RiskLevel     `json:"level"`
	SentimentTier RiskLevel     `json:"sentiment_tier,omitempty"`
}
