// Package features derives behavioral and lexical threat indicators from
// comment text.
package features

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/osintube/threatscan/internal/model"
)

var (
	repeatedPunct = regexp.MustCompile(`[!?]{2,}`)
	capsRun       = regexp.MustCompile(`\p{Lu}{5,}`)
)

// Extractor computes feature bundles. It is safe for concurrent use.
type Extractor struct {
	categories map[model.Category][]*regexp.Regexp
	pronouns   []*regexp.Regexp
	urgency    []*regexp.Regexp
}

// NewExtractor compiles a pattern table. All expressions are compiled
// case-insensitive.
func NewExtractor(table PatternTable) (*Extractor, error) {
	e := &Extractor{categories: make(map[model.Category][]*regexp.Regexp, len(table.Categories))}

	for cat, exprs := range table.Categories {
		compiled, err := compileAll(exprs)
		if err != nil {
			return nil, eris.Wrapf(err, "features: category %s", cat)
		}
		e.categories[cat] = compiled
	}

	var err error
	if e.pronouns, err = compileAll(table.Pronouns); err != nil {
		return nil, eris.Wrap(err, "features: pronouns")
	}
	if e.urgency, err = compileAll(table.Urgency); err != nil {
		return nil, eris.Wrap(err, "features: urgency")
	}
	return e, nil
}

// Default returns an extractor over the built-in table.
func Default() *Extractor {
	e, err := NewExtractor(DefaultPatterns())
	if err != nil {
		panic(err) // built-in table is static
	}
	return e
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, eris.Wrapf(err, "compile %q", expr)
		}
		out = append(out, re)
	}
	return out, nil
}

// Extract returns the feature bundle for text. Empty or whitespace-only text
// yields a zeroed bundle. Counts are not capped.
func (e *Extractor) Extract(text string) model.FeatureBundle {
	bundle := model.FeatureBundle{Patterns: make(map[model.Category]int, len(model.AllCategories()))}
	for _, c := range model.AllCategories() {
		bundle.Patterns[c] = 0
	}
	if strings.TrimSpace(text) == "" {
		return bundle
	}

	total, upper := 0, 0
	for _, r := range text {
		total++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	bundle.CapsRatio = float64(upper) / float64(max(total, 1))
	bundle.ExclamationCount = strings.Count(text, "!")

	folded := strings.ToLower(model.FoldAccents(text))
	for cat, res := range e.categories {
		bundle.Patterns[cat] += countAll(res, folded)
	}
	bundle.PronounCount = countAll(e.pronouns, folded)
	bundle.UrgencyCount = countAll(e.urgency, folded)
	return bundle
}

// HasPattern reports whether text matches at least one category pattern.
func (e *Extractor) HasPattern(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	folded := strings.ToLower(model.FoldAccents(text))
	for _, res := range e.categories {
		for _, re := range res {
			if re.MatchString(folded) {
				return true
			}
		}
	}
	return false
}

// IsBehavioral reports repeated punctuation, an uppercase run of five or more
// letters, or a comment longer than longChars runes.
func IsBehavioral(text string, longChars int) bool {
	if repeatedPunct.MatchString(text) || capsRun.MatchString(text) {
		return true
	}
	return longChars > 0 && utf8.RuneCountInString(text) > longChars
}

func countAll(res []*regexp.Regexp, s string) int {
	n := 0
	for _, re := range res {
		n += len(re.FindAllStringIndex(s, -1))
	}
	return n
}
