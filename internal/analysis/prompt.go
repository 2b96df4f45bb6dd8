package analysis

import (
	"fmt"
	"strings"

	"github.com/osintube/threatscan/internal/model"
)

const analysisSystemPrompt = `You are a threat intelligence analyst reviewing public video comments written in English or Portuguese.
You receive a pre-filtered list of comments that a heuristic scorer flagged as potentially threatening.
Judge each one on its own merits. Report only comments that contain violence, threats, hate speech or incitement.
Answer with a single JSON object and nothing else.`

const analysisUserPrompt = `Analysis context: %s
Dataset: %d comments in total, %d selected for review (selection: %s).

Comments (ROW index | author | heuristic score (level) | sentiment 0=negative..1=positive | excerpt):
%s
Return exactly this JSON schema:
{
  "overall_level": "low|medium|high|critical",
  "summary": "<two or three sentences describing the threat picture>",
  "threats": [
    {
      "row": <ROW index from the list above>,
      "author": "<author>",
      "category": "violence|hate_speech|threats|incitement|other",
      "severity": "low|medium|high|critical",
      "confidence": <0.0-1.0>,
      "evidence_text": "<short quote from the comment>",
      "target": "<who is targeted, if anyone>",
      "recommendation": "<suggested action>"
    }
  ]
}
Use an empty "threats" array when nothing is threatening. Do not invent ROW indexes.`

const qaSystemPrompt = `You are an analyst answering questions about a collection of public video comments written in English or Portuguese.
Base your answer only on the comments provided. Quote ROW indexes when you refer to a comment.
If the comments do not contain the answer, say so plainly.`

const qaUserPrompt = `Dataset overview: %d comments, mean sentiment %.2f (0=negative..1=positive), %d unique authors.
%s
Question: %s

%s (ROW index | author | sentiment | excerpt):
%s`

// BuildAnalysisPrompt renders the candidate list and output schema.
func BuildAnalysisPrompt(candidates []model.Candidate, total int, method, query string, excerptChars int) string {
	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "ROW %d | %s | %.2f (%s) | %.2f | %s\n",
			c.Row,
			authorOrUnknown(c.Comment.Author),
			c.Score,
			c.Level,
			c.Comment.Sentiment,
			excerpt(c.Comment.Text, excerptChars),
		)
	}
	if strings.TrimSpace(query) == "" {
		query = "general threat assessment"
	}
	return fmt.Sprintf(analysisUserPrompt, query, total, len(candidates), method, b.String())
}

// BuildQAPrompt renders dataset aggregates, the question and the ranked
// excerpts.
func BuildQAPrompt(ds model.Dataset, question, qctx string, ranked []model.RankedComment, sampled bool, excerptChars int) string {
	var b strings.Builder
	for _, r := range ranked {
		fmt.Fprintf(&b, "ROW %d | %s | %.2f | %s\n",
			r.Index,
			authorOrUnknown(r.Comment.Author),
			r.Comment.Sentiment,
			excerpt(r.Comment.Text, excerptChars),
		)
	}

	ctxLine := ""
	if c := strings.TrimSpace(qctx); c != "" {
		ctxLine = "Context: " + c + "\n"
	}
	heading := "Most relevant comments"
	if sampled {
		heading = "No comment matched the question directly; representative sample"
	}
	return fmt.Sprintf(qaUserPrompt,
		ds.Len(), ds.MeanSentiment(), ds.UniqueAuthors(),
		ctxLine, strings.TrimSpace(question), heading, b.String())
}

// excerpt collapses whitespace and truncates to n runes.
func excerpt(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	return truncateRunes(text, n)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func authorOrUnknown(a string) string {
	a = strings.TrimSpace(a)
	if a == "" {
		return "unknown"
	}
	return a
}
