package model

import "time"

// Status distinguishes the outcomes of Analyze and Ask.
type Status string

// Outcome statuses.
const (
	StatusSuccess            Status = "success"
	StatusNoHighRiskComments Status = "no_high_risk_comments"
	StatusParsingError       Status = "parsing_error"
	StatusError              Status = "error"
)

// ThreatFinding is one model-reported threat tied back to a candidate row.
type ThreatFinding struct {
	SourceRow      int       `json:"source_row"`
	Author         string    `json:"author,omitempty"`
	Category       string    `json:"category"`
	Severity       RiskLevel `json:"severity"`
	Confidence     float64   `json:"confidence"`
	EvidenceText   string    `json:"evidence_text"`
	Target         string    `json:"target,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
}

// ReportMetadata describes how a report was produced.
type ReportMetadata struct {
	DatasetID     DatasetID `json:"dataset_id"`
	AnalyzedCount int       `json:"analyzed_count"`
	TotalCount    int       `json:"total_count"`
	Timestamp     time.Time `json:"timestamp"`
	ModelID       string    `json:"model_id"`
	QueryContext  string    `json:"query_context,omitempty"`
	FilterMethod  string    `json:"filter_method"`
}

// Report is the cacheable result of one LLM-backed threat analysis.
type Report struct {
	Status       Status          `json:"status"`
	OverallLevel RiskLevel       `json:"overall_level"`
	Threats      []ThreatFinding `json:"threats"`
	Summary      string          `json:"summary"`
	RawText      string          `json:"raw_text,omitempty"`
	Metadata     ReportMetadata  `json:"metadata"`
}

// RankedComment is a comment selected for a Q&A prompt with its relevance.
type RankedComment struct {
	Index     int     `json:"index"`
	Relevance int     `json:"relevance"`
	Comment   Comment `json:"comment"`
}

// Answer is the uncached result of one interactive question.
type Answer struct {
	Status   Status          `json:"status"`
	Question string          `json:"question"`
	Text     string          `json:"text"`
	Relevant []RankedComment `json:"relevant"`
	Sampled  bool            `json:"sampled"`
	ModelID  string          `json:"model_id,omitempty"`
	Message  string          `json:"message,omitempty"`
	// Retryable marks an error answer caused by a transient failure.
	Retryable bool `json:"retryable,omitempty"`
}
