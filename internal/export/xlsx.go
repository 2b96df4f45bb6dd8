// Package export writes analysis reports to spreadsheet files.
package export

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/osintube/threatscan/internal/model"
)

// Sheet names.
const (
	SummarySheet  = "Summary"
	FindingsSheet = "Findings"
)

// FindingsHeader is the header row of the findings sheet.
var FindingsHeader = []string{"Row", "Author", "Category", "Severity", "Confidence", "Evidence", "Target", "Recommendation"}

// BuildXLSX lays out a report as a summary sheet and a findings sheet.
func BuildXLSX(r *model.Report) (*xlsx.File, error) {
	if r == nil {
		return nil, eris.New("export: nil report")
	}
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add summary sheet")
	}
	m := r.Metadata
	for _, kv := range [][2]string{
		{"Dataset", m.DatasetID.String()},
		{"Status", string(r.Status)},
		{"Overall level", string(r.OverallLevel)},
		{"Findings", strconv.Itoa(len(r.Threats))},
		{"Summary", r.Summary},
		{"Analyzed comments", strconv.Itoa(m.AnalyzedCount)},
		{"Total comments", strconv.Itoa(m.TotalCount)},
		{"Filter method", m.FilterMethod},
		{"Model", m.ModelID},
		{"Query", m.QueryContext},
		{"Timestamp", formatTime(m.Timestamp)},
	} {
		addStrings(summary.AddRow(), kv[0], kv[1])
	}
	bySeverity := make(map[model.RiskLevel]int, len(r.Threats))
	for _, t := range r.Threats {
		bySeverity[t.Severity]++
	}
	for _, lvl := range model.AllRiskLevels() {
		addStrings(summary.AddRow(), "Findings ("+string(lvl)+")", strconv.Itoa(bySeverity[lvl]))
	}

	findings, err := f.AddSheet(FindingsSheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add findings sheet")
	}
	addStrings(findings.AddRow(), FindingsHeader...)
	for _, t := range r.Threats {
		row := findings.AddRow()
		row.AddCell().SetInt(t.SourceRow)
		addStrings(row, t.Author, t.Category, string(t.Severity))
		row.AddCell().SetFloat(t.Confidence)
		addStrings(row, t.EvidenceText, t.Target, t.Recommendation)
	}
	return f, nil
}

// WriteXLSX writes the report workbook to w.
func WriteXLSX(w io.Writer, r *model.Report) error {
	f, err := BuildXLSX(r)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

// SaveXLSX writes the report workbook to path.
func SaveXLSX(path string, r *model.Report) error {
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := WriteXLSX(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return eris.Wrap(out.Close(), "export: close file")
}

func addStrings(row *xlsx.Row, vals ...string) {
	for _, v := range vals {
		row.AddCell().SetString(v)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
