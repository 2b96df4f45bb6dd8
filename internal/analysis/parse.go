package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/osintube/threatscan/internal/model"
)

const defaultConfidence = 0.5

// ParseResult is either Parsed or Unparsed.
type ParseResult interface {
	isParseResult()
}

// Parsed carries a report decoded from the model output. Metadata is left
// for the caller to fill.
type Parsed struct {
	Report *model.Report
}

// Unparsed carries model output that matched no known shape.
type Unparsed struct {
	RawText string
}

func (Parsed) isParseResult()   {}
func (Unparsed) isParseResult() {}

// ParseResponse decodes model output against the candidate set it was
// prompted with. JSON is tried first, then the line and table markup the
// model falls back to when it ignores the schema instruction.
func ParseResponse(text string, candidates []model.Candidate) ParseResult {
	if strings.TrimSpace(text) == "" {
		return Unparsed{RawText: text}
	}
	if r, ok := parseJSON(text, candidates); ok {
		return Parsed{Report: r}
	}
	if r, ok := parseMarkup(text, candidates); ok {
		return Parsed{Report: r}
	}
	return Unparsed{RawText: text}
}

// cleanJSON strips code fences and any preamble around the outermost JSON
// value.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "JSON")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		text = strings.TrimSpace(rest)
	}

	if strings.HasPrefix(text, "[") {
		if end := strings.LastIndex(text, "]"); end > 0 {
			return text[:end+1]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

var (
	levelKeys    = []string{"overall_level", "threat_level", "risk_level", "overall_threat_level"}
	findingKeys  = []string{"threats", "findings", "highlighted_rows", "high_risk_comments"}
	summaryKeys  = []string{"summary", "analysis", "overview", "reason_for_threat_level"}
	rowKeys      = []string{"row", "source_row", "row_index", "index"}
	categoryKeys = []string{"category", "risk_category", "type", "reason"}
	severityKeys = []string{"severity", "threat_level", "level", "risk_level"}
	evidenceKeys = []string{"evidence_text", "evidence", "quote", "comment", "text"}
	authorKeys   = []string{"author", "user", "username"}
)

func parseJSON(text string, candidates []model.Candidate) (*model.Report, bool) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, false
	}

	var raw any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, false
	}

	var (
		obj      map[string]any
		items    []any
		hasShape bool
	)
	switch v := raw.(type) {
	case map[string]any:
		obj = v
		if list, ok := firstList(obj, findingKeys...); ok {
			items = list
			hasShape = true
		}
		if _, ok := firstPresent(obj, levelKeys...); ok {
			hasShape = true
		}
	case []any:
		// A bare list of findings.
		items = v
		hasShape = true
	}
	if !hasShape {
		return nil, false
	}

	threats := make([]model.ThreatFinding, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		f, ok := decodeFinding(m, candidates)
		if !ok {
			continue
		}
		threats = append(threats, f)
	}

	level, ok := model.ParseRiskLevel(firstString(obj, levelKeys...))
	if !ok {
		level = maxSeverity(threats)
	}

	report := &model.Report{
		Status:       model.StatusSuccess,
		OverallLevel: level,
		Threats:      threats,
		Summary:      firstString(obj, summaryKeys...),
	}
	if strings.TrimSpace(report.Summary) == "" {
		report.Summary = generatedSummary(report, len(candidates))
	}
	return report, true
}

func decodeFinding(m map[string]any, candidates []model.Candidate) (model.ThreatFinding, bool) {
	row, ok := rowOf(m)
	if !ok || row < 0 || row >= len(candidates) {
		zap.L().Debug("analysis: dropping finding with unknown row", zap.Any("row", m["row"]))
		return model.ThreatFinding{}, false
	}
	cand := candidates[row]

	f := model.ThreatFinding{
		SourceRow:      row,
		Author:         firstString(m, authorKeys...),
		Category:       normalizeCategory(firstString(m, categoryKeys...)),
		EvidenceText:   firstString(m, evidenceKeys...),
		Target:         firstString(m, "target"),
		Recommendation: firstString(m, "recommendation", "action"),
		Confidence:     defaultConfidence,
	}
	if f.Author == "" {
		f.Author = cand.Comment.Author
	}
	if f.Category == "" {
		f.Category = candidateCategory(cand)
	}
	if f.EvidenceText == "" {
		f.EvidenceText = excerpt(cand.Comment.Text, 200)
	}
	if sev, ok := model.ParseRiskLevel(firstString(m, severityKeys...)); ok {
		f.Severity = sev
	} else {
		f.Severity = cand.Level
	}
	if c, ok := numberOf(m["confidence"]); ok {
		f.Confidence = clamp01(c)
	}
	return f, true
}

var (
	markupRowRE = regexp.MustCompile(`(?i)ROW\s*#?\s*(\d+)\s*:\s*(.*?)\s*-\s*USER\s*:\s*(.*?)\s*-\s*REASON\s*:\s*(.*)$`)
	markupLvlRE = regexp.MustCompile(`(?i)threat\s+level\s*:\s*\[?\s*([\p{L}]+)`)
	markupWhyRE = regexp.MustCompile(`(?i)reason\s+for\s+threat\s+level\s*:\s*(.+)$`)
	htmlRowRE   = regexp.MustCompile(`(?is)<tr[^>]*>\s*<td[^>]*>\s*ROW\s*(\d+)\s*</td>\s*<td[^>]*>(.*?)</td>\s*<td[^>]*>(.*?)</td>\s*<td[^>]*>(.*?)</td>\s*<td[^>]*>(.*?)</td>`)
	htmlTagRE   = regexp.MustCompile(`<[^>]+>`)
)

// parseMarkup reads the two plain-text layouts:
//
//	- ROW 3: "quote" - USER: name - REASON: violence
//	- Threat Level: High
//	- Reason for threat level: ...
//
// and HTML table rows of the form ROW | user | level | excerpt | reason.
func parseMarkup(text string, candidates []model.Candidate) (*model.Report, bool) {
	var (
		threats  []model.ThreatFinding
		level    model.RiskLevel
		hasLevel bool
		summary  string
	)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
		if m := markupRowRE.FindStringSubmatch(line); m != nil {
			if f, ok := markupFinding(m[1], m[3], "", m[2], m[4], candidates); ok {
				threats = append(threats, f)
			}
			continue
		}
		if m := markupWhyRE.FindStringSubmatch(line); m != nil {
			summary = strings.TrimSpace(m[1])
			continue
		}
		if m := markupLvlRE.FindStringSubmatch(line); m != nil && !hasLevel {
			level, hasLevel = model.ParseRiskLevel(m[1])
		}
	}

	for _, m := range htmlRowRE.FindAllStringSubmatch(text, -1) {
		if f, ok := markupFinding(m[1], stripTags(m[2]), stripTags(m[3]), stripTags(m[4]), stripTags(m[5]), candidates); ok {
			threats = append(threats, f)
		}
	}

	if len(threats) == 0 && !hasLevel {
		return nil, false
	}
	if !hasLevel {
		level = maxSeverity(threats)
	}

	report := &model.Report{
		Status:       model.StatusSuccess,
		OverallLevel: level,
		Threats:      threats,
		Summary:      summary,
	}
	if report.Threats == nil {
		report.Threats = []model.ThreatFinding{}
	}
	if report.Summary == "" {
		report.Summary = generatedSummary(report, len(candidates))
	}
	return report, true
}

func markupFinding(rowStr, user, severity, quote, reason string, candidates []model.Candidate) (model.ThreatFinding, bool) {
	row, err := strconv.Atoi(rowStr)
	if err != nil || row < 0 || row >= len(candidates) {
		return model.ThreatFinding{}, false
	}
	cand := candidates[row]

	f := model.ThreatFinding{
		SourceRow:    row,
		Author:       trimBrackets(user),
		Category:     normalizeCategory(trimBrackets(reason)),
		EvidenceText: trimBrackets(quote),
		Confidence:   defaultConfidence,
	}
	if f.Author == "" {
		f.Author = cand.Comment.Author
	}
	if f.Category == "" {
		f.Category = candidateCategory(cand)
	}
	if f.EvidenceText == "" {
		f.EvidenceText = excerpt(cand.Comment.Text, 200)
	}
	if sev, ok := model.ParseRiskLevel(severity); ok {
		f.Severity = sev
	} else {
		f.Severity = cand.Level
	}
	return f, true
}

// fallbackLevel infers a level from the score distribution: the mean of the
// top quartile of candidate scores.
func fallbackLevel(candidates []model.Candidate, level func(float64) model.RiskLevel) model.RiskLevel {
	if len(candidates) == 0 {
		return model.RiskLow
	}
	n := int(math.Ceil(float64(len(candidates)) / 4))
	// Candidates arrive sorted by descending score.
	var sum float64
	for _, c := range candidates[:n] {
		sum += c.Score
	}
	return level(sum / float64(n))
}

func generatedSummary(r *model.Report, reviewed int) string {
	if len(r.Threats) == 0 {
		return fmt.Sprintf("No threatening content identified among %d reviewed comments; overall level %s.", reviewed, r.OverallLevel)
	}
	return fmt.Sprintf("%d potential threats identified among %d reviewed comments; overall level %s.", len(r.Threats), reviewed, r.OverallLevel)
}

func maxSeverity(threats []model.ThreatFinding) model.RiskLevel {
	level := model.RiskLow
	for _, t := range threats {
		if t.Severity.Rank() > level.Rank() {
			level = t.Severity
		}
	}
	return level
}

func candidateCategory(c model.Candidate) string {
	if cats := c.Features.MatchedCategories(); len(cats) > 0 {
		return string(cats[0])
	}
	return "other"
}

func normalizeCategory(s string) string {
	s = strings.ToLower(strings.TrimSpace(model.FoldAccents(s)))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "hate"), strings.Contains(s, "odio"):
		return string(model.CategoryHateSpeech)
	case strings.Contains(s, "incit"):
		return string(model.CategoryIncitement)
	case strings.Contains(s, "violen"):
		return string(model.CategoryViolence)
	case strings.Contains(s, "threat"), strings.Contains(s, "ameaca"):
		return string(model.CategoryThreats)
	}
	return strings.Join(strings.Fields(s), "_")
}

func firstPresent(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func firstList(m map[string]any, keys ...string) ([]any, bool) {
	for _, k := range keys {
		if v, ok := m[k].([]any); ok {
			return v, true
		}
	}
	return nil, false
}

var digitsRE = regexp.MustCompile(`\d+`)

// rowOf accepts 3, 3.0, "3" and "ROW 3".
func rowOf(m map[string]any) (int, bool) {
	v, ok := firstPresent(m, rowKeys...)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	case string:
		d := digitsRE.FindString(x)
		if d == "" {
			return 0, false
		}
		n, err := strconv.Atoi(d)
		return n, err == nil
	}
	return 0, false
}

func numberOf(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		x = strings.TrimSuffix(strings.TrimSpace(x), "%")
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		if f > 1 {
			f /= 100
		}
		return f, true
	}
	return 0, false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func trimBrackets(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	return strings.Trim(strings.TrimSpace(s), `"`)
}

func stripTags(s string) string {
	return strings.TrimSpace(htmlTagRE.ReplaceAllString(s, ""))
}
