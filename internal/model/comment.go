// Package model defines the core data types shared by the threat scoring and
// analysis pipeline.
package model

import (
	"path"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Comment is one user-generated comment as produced by the ingestion side.
// Sentiment is an externally computed scalar in [0,1] (0 = most negative).
type Comment struct {
	Text             string  `json:"text" csv:"text"`
	Author           string  `json:"author" csv:"author"`
	Sentiment        float64 `json:"sentiment" csv:"sentiment"`
	SourceVideoTitle string  `json:"source_video_title,omitempty" csv:"source_video_title"`
	SourceLink       string  `json:"source_link,omitempty" csv:"source_link"`
}

// Dataset is an ordered, read-only collection of comments.
type Dataset []Comment

// Len returns the number of comments.
func (d Dataset) Len() int { return len(d) }

// MeanSentiment returns the average sentiment, or 0 for an empty dataset.
func (d Dataset) MeanSentiment() float64 {
	if len(d) == 0 {
		return 0
	}
	var sum float64
	for _, c := range d {
		sum += c.Sentiment
	}
	return sum / float64(len(d))
}

// UniqueAuthors counts distinct non-empty authors.
func (d Dataset) UniqueAuthors() int {
	seen := make(map[string]struct{}, len(d))
	for _, c := range d {
		a := strings.TrimSpace(c.Author)
		if a == "" {
			continue
		}
		seen[a] = struct{}{}
	}
	return len(seen)
}

// DatasetID is the idempotency key of one ingested comment collection.
type DatasetID string

func (id DatasetID) String() string { return string(id) }

var (
	unsafeKeyChars = regexp.MustCompile(`[^\w\-.]+`)
	repeatedUnders = regexp.MustCompile(`_{2,}`)
)

// IdentityFromLocation derives the stable dataset identity from its storage
// location: the extension is dropped, accents are folded, path separators
// become underscores and anything else outside [A-Za-z0-9_.-] is replaced.
//
//	"comments/2025/lula.pickle" -> "comments_2025_lula"
func IdentityFromLocation(location string) DatasetID {
	loc := strings.TrimSpace(strings.ReplaceAll(location, "\\", "/"))
	loc = strings.TrimPrefix(loc, "s3://")
	loc = strings.Trim(loc, "/")
	if ext := path.Ext(loc); ext != "" && !strings.Contains(ext, "/") {
		loc = strings.TrimSuffix(loc, ext)
	}
	loc = FoldAccents(loc)
	loc = strings.ReplaceAll(loc, "/", "_")
	loc = strings.ReplaceAll(loc, " ", "_")
	loc = unsafeKeyChars.ReplaceAllString(loc, "_")
	loc = repeatedUnders.ReplaceAllString(loc, "_")
	loc = strings.Trim(loc, "_")
	if loc == "" {
		return "unknown"
	}
	return DatasetID(loc)
}

// FoldAccents strips combining marks after NFD decomposition so that
// "ameaça" and "ameaca" compare equal.
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
