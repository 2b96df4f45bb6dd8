package export

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/osintube/threatscan/internal/model"
)

func sampleReport() *model.Report {
	return &model.Report{
		Status:       model.StatusSuccess,
		OverallLevel: model.RiskHigh,
		Summary:      "Two threats.",
		Threats: []model.ThreatFinding{
			{SourceRow: 0, Author: "b", Category: "violence", Severity: model.RiskCritical, Confidence: 0.9, EvidenceText: "I will kill them", Recommendation: "escalate"},
			{SourceRow: 3, Author: "joao", Category: "threats", Severity: model.RiskMedium, Confidence: 0.6, EvidenceText: "vão pagar caro", Target: "jornalistas"},
		},
		Metadata: model.ReportMetadata{
			DatasetID:     "comments_2025_lula",
			AnalyzedCount: 12,
			TotalCount:    340,
			Timestamp:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			ModelID:       "us.meta.llama4-scout-17b-instruct-v1:0",
			FilterMethod:  "sentiment-layered+pattern-based",
			QueryContext:  "eleicoes",
		},
	}
}

func cells(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.String()
	}
	return out
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleReport()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)

	findings, ok := f.Sheet[FindingsSheet]
	require.True(t, ok)
	require.Len(t, findings.Rows, 3)
	assert.Equal(t, FindingsHeader, cells(findings.Rows[0]))
	row := cells(findings.Rows[1])
	assert.Equal(t, "0", row[0])
	assert.Equal(t, "b", row[1])
	assert.Equal(t, "critical", row[3])
	assert.Equal(t, "I will kill them", row[5])
	assert.Equal(t, "jornalistas", cells(findings.Rows[2])[6])

	summary, ok := f.Sheet[SummarySheet]
	require.True(t, ok)
	got := map[string]string{}
	for _, r := range summary.Rows {
		c := cells(r)
		require.Len(t, c, 2)
		got[c[0]] = c[1]
	}
	assert.Equal(t, "comments_2025_lula", got["Dataset"])
	assert.Equal(t, "high", got["Overall level"])
	assert.Equal(t, "2", got["Findings"])
	assert.Equal(t, "2025-06-01T12:00:00Z", got["Timestamp"])
}

func TestSaveXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, SaveXLSX(path, sampleReport()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Sheets, 2)
}

func TestBuildXLSX_Nil(t *testing.T) {
	_, err := BuildXLSX(nil)
	assert.Error(t, err)
}

func TestBuildXLSX_NoFindings(t *testing.T) {
	r := sampleReport()
	r.Threats = nil
	f, err := BuildXLSX(r)
	require.NoError(t, err)
	assert.Len(t, f.Sheet[FindingsSheet].Rows, 1)
}

func TestBuildXLSX_FindingsBySeverity(t *testing.T) {
	f, err := BuildXLSX(sampleReport())
	require.NoError(t, err)

	var labels []string
	got := map[string]string{}
	for _, r := range f.Sheet[SummarySheet].Rows {
		c := cells(r)
		if strings.HasPrefix(c[0], "Findings (") {
			labels = append(labels, c[0])
			got[c[0]] = c[1]
		}
	}
	assert.Equal(t, []string{"Findings (low)", "Findings (medium)", "Findings (high)", "Findings (critical)"}, labels)
	assert.Equal(t, "0", got["Findings (low)"])
	assert.Equal(t, "1", got["Findings (medium)"])
	assert.Equal(t, "0", got["Findings (high)"])
	assert.Equal(t, "1", got["Findings (critical)"])
}
