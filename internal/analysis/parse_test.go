package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osintube/threatscan/internal/model"
)

func testCandidates() []model.Candidate {
	return []model.Candidate{
		{
			Row:     0,
			Comment: model.Comment{Text: "I will kill them", Author: "b", Sentiment: 0.05},
			Score:   0.82,
			Level:   model.RiskCritical,
			Features: model.FeatureBundle{Patterns: map[model.Category]int{
				model.CategoryViolence: 1,
			}},
		},
		{
			Row:     1,
			Comment: model.Comment{Text: "vocês vão pagar caro", Author: "joao", Sentiment: 0.2},
			Score:   0.55,
			Level:   model.RiskMedium,
		},
	}
}

func mustParsed(t *testing.T, r ParseResult) *model.Report {
	t.Helper()
	p, ok := r.(Parsed)
	require.True(t, ok, "expected Parsed, got %T", r)
	require.NotNil(t, p.Report)
	return p.Report
}

func TestParseResponse_StrictJSON(t *testing.T) {
	text := `{"overall_level":"high","summary":"Two threats.","threats":[
		{"row":0,"author":"b","category":"violence","severity":"critical","confidence":0.95,"evidence_text":"kill them","target":"them","recommendation":"escalate"},
		{"row":1,"category":"threats","severity":"medium","confidence":0.6,"evidence_text":"vão pagar caro"}
	]}`
	r := mustParsed(t, ParseResponse(text, testCandidates()))

	assert.Equal(t, model.StatusSuccess, r.Status)
	assert.Equal(t, model.RiskHigh, r.OverallLevel)
	assert.Equal(t, "Two threats.", r.Summary)
	require.Len(t, r.Threats, 2)
	assert.Equal(t, model.ThreatFinding{
		SourceRow:      0,
		Author:         "b",
		Category:       "violence",
		Severity:       model.RiskCritical,
		Confidence:     0.95,
		EvidenceText:   "kill them",
		Target:         "them",
		Recommendation: "escalate",
	}, r.Threats[0])
	assert.Equal(t, "joao", r.Threats[1].Author)
}

func TestParseResponse_PreambleAndFence(t *testing.T) {
	text := "Sure! Here is the JSON you asked for:\n```json\n{\"overall_level\":\"low\",\"threats\":[]}\n```\nLet me know if you need more."
	r := mustParsed(t, ParseResponse(text, testCandidates()))
	assert.Equal(t, model.RiskLow, r.OverallLevel)
	assert.Empty(t, r.Threats)
	assert.NotEmpty(t, r.Summary)
}

func TestParseResponse_Aliases(t *testing.T) {
	text := `{"threat_level":"Alto","findings":[
		{"source_row":"ROW 1","user":"joao","risk_category":"Hate speech","threat_level":"HIGH","confidence":"80%","quote":"pagar caro"}
	],"analysis":"Portuguese hostility."}`
	r := mustParsed(t, ParseResponse(text, testCandidates()))

	assert.Equal(t, model.RiskHigh, r.OverallLevel)
	assert.Equal(t, "Portuguese hostility.", r.Summary)
	require.Len(t, r.Threats, 1)
	f := r.Threats[0]
	assert.Equal(t, 1, f.SourceRow)
	assert.Equal(t, "joao", f.Author)
	assert.Equal(t, "hate_speech", f.Category)
	assert.Equal(t, model.RiskHigh, f.Severity)
	assert.InDelta(t, 0.8, f.Confidence, 1e-9)
	assert.Equal(t, "pagar caro", f.EvidenceText)
}

func TestParseResponse_BareList(t *testing.T) {
	text := `[{"row":0,"category":"violence","severity":"high"}]`
	r := mustParsed(t, ParseResponse(text, testCandidates()))
	assert.Equal(t, model.RiskHigh, r.OverallLevel)
	require.Len(t, r.Threats, 1)
	assert.Equal(t, "I will kill them", r.Threats[0].EvidenceText)
	assert.Equal(t, defaultConfidence, r.Threats[0].Confidence)
}

func TestParseResponse_FillsFromCandidate(t *testing.T) {
	text := `{"threats":[{"row":0,"confidence":7}]}`
	r := mustParsed(t, ParseResponse(text, testCandidates()))
	require.Len(t, r.Threats, 1)
	f := r.Threats[0]
	assert.Equal(t, "b", f.Author)
	assert.Equal(t, "violence", f.Category)
	assert.Equal(t, model.RiskCritical, f.Severity)
	assert.Equal(t, 1.0, f.Confidence)
	// No explicit level: the highest finding severity.
	assert.Equal(t, model.RiskCritical, r.OverallLevel)
}

func TestParseResponse_DropsUnknownRows(t *testing.T) {
	text := `{"overall_level":"medium","threats":[{"row":7},{"row":-1},{"row":1.5},{"row":1}]}`
	r := mustParsed(t, ParseResponse(text, testCandidates()))
	require.Len(t, r.Threats, 1)
	assert.Equal(t, 1, r.Threats[0].SourceRow)
}

func TestParseResponse_Unparsed(t *testing.T) {
	tests := map[string]string{
		"empty":          "   ",
		"prose":          "I am unable to help with that request.",
		"broken json":    `{"overall_level": "high", "threats": [`,
		"unrelated json": `{"answer": 42}`,
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			r := ParseResponse(text, testCandidates())
			u, ok := r.(Unparsed)
			require.True(t, ok, "expected Unparsed, got %T", r)
			assert.Equal(t, text, u.RawText)
		})
	}
}

func TestParseResponse_LineMarkup(t *testing.T) {
	text := `Highlighted rows:
- ROW 0: [I will kill them] - USER: [b] - REASON: [Violence]
- ROW 1: [vão pagar caro] - USER: [joao] - REASON: [Ameaça]
- ROW 9: [ghost] - USER: [x] - REASON: [Other]
- Threat Level: [Medium]
- Reason for threat level: Direct threats with limited reach.`
	r := mustParsed(t, ParseResponse(text, testCandidates()))

	assert.Equal(t, model.RiskMedium, r.OverallLevel)
	assert.Equal(t, "Direct threats with limited reach.", r.Summary)
	require.Len(t, r.Threats, 2)
	assert.Equal(t, "I will kill them", r.Threats[0].EvidenceText)
	assert.Equal(t, "b", r.Threats[0].Author)
	assert.Equal(t, "violence", r.Threats[0].Category)
	assert.Equal(t, model.RiskCritical, r.Threats[0].Severity)
	assert.Equal(t, "threats", r.Threats[1].Category)
}

func TestParseResponse_HTMLMarkup(t *testing.T) {
	text := `<table>
<tr class="high-threat"><td>ROW 0</td><td>b</td><td>HIGH</td><td>I will kill them</td><td>Violence</td></tr>
<tr class="medium-threat"><td>ROW 1</td><td><b>joao</b></td><td>MEDIUM</td><td>vão pagar caro</td><td>Threats</td></tr>
</table>`
	r := mustParsed(t, ParseResponse(text, testCandidates()))

	require.Len(t, r.Threats, 2)
	assert.Equal(t, model.RiskHigh, r.Threats[0].Severity)
	assert.Equal(t, "joao", r.Threats[1].Author)
	assert.Equal(t, model.RiskMedium, r.Threats[1].Severity)
	assert.Equal(t, model.RiskHigh, r.OverallLevel)
	assert.Contains(t, r.Summary, "2 potential threats")
}

func TestCleanJSON(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```":       `{"a":1}`,
		"```\n{\"a\":1}\n```":           `{"a":1}`,
		"noise {\"a\":{\"b\":2}} trail": `{"a":{"b":2}}`,
		"[{\"row\":0}]":                 `[{"row":0}]`,
		"plain":                         "plain",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanJSON(in), in)
	}
}

func TestFallbackLevel(t *testing.T) {
	level := func(s float64) model.RiskLevel {
		switch {
		case s >= 0.8:
			return model.RiskCritical
		case s >= 0.6:
			return model.RiskHigh
		case s >= 0.4:
			return model.RiskMedium
		}
		return model.RiskLow
	}
	cands := []model.Candidate{{Score: 0.9}, {Score: 0.7}, {Score: 0.3}, {Score: 0.2}, {Score: 0.1}}
	// ceil(5/4) = 2 -> mean(0.9, 0.7) = 0.8
	assert.Equal(t, model.RiskCritical, fallbackLevel(cands, level))
	assert.Equal(t, model.RiskLow, fallbackLevel(nil, level))
	assert.Equal(t, model.RiskMedium, fallbackLevel([]model.Candidate{{Score: 0.5}}, level))
}

func TestQuestionTokens(t *testing.T) {
	assert.Equal(t, []string{"who", "mentioned", "violence"}, questionTokens("Who mentioned violence?"))
	assert.Equal(t, []string{"quem", "falou", "de", "violencia"}, questionTokens("Quem falou de violência? quem"))
	assert.Equal(t, []string{"is", "it", "ok"}, questionTokens("is it ok ?!"))
}

func TestRankRelevant(t *testing.T) {
	ds := model.Dataset{
		{Text: "great video", Sentiment: 0.5},
		{Text: "this violence is insane, who allows this", Sentiment: 0.5},
		{Text: "violence everywhere", Sentiment: 0.1},
		{Text: "meh", Sentiment: 0.95},
	}
	got := RankRelevant(ds, "Who mentioned violence?", 10)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 2, got[0].Relevance)
	assert.Equal(t, 2, got[1].Index)
	assert.Equal(t, 2, got[1].Relevance)
	assert.Equal(t, 3, got[2].Index)
	assert.Equal(t, 1, got[2].Relevance)

	assert.Len(t, RankRelevant(ds, "Who mentioned violence?", 1), 1)
}

func TestRankRelevant_ShortTokens(t *testing.T) {
	ds := model.Dataset{
		{Text: "ok video", Sentiment: 0.5},
		{Text: "fine", Sentiment: 0.5},
	}
	got := RankRelevant(ds, "is it ok", 10)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 1, got[0].Relevance)
}

func TestRepresentativeSample(t *testing.T) {
	ds := make(model.Dataset, 16)
	got := RepresentativeSample(ds, 4)
	require.Len(t, got, 4)
	assert.Equal(t, []int{0, 4, 8, 12}, []int{got[0].Index, got[1].Index, got[2].Index, got[3].Index})
	assert.Nil(t, RepresentativeSample(nil, 4))
}
