package dataset

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/osintube/threatscan/internal/model"
)

// decodeXLSX reads the first sheet; its first row is the header.
func decodeXLSX(data []byte) (model.Dataset, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return model.Dataset{}, nil
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return model.Dataset{}, nil
	}

	header := make([]string, len(sheet.Rows[0].Cells))
	for i, c := range sheet.Rows[0].Cells {
		header[i] = strings.TrimSpace(c.String())
	}

	ds := model.Dataset{}
	for _, row := range sheet.Rows[1:] {
		if row == nil {
			continue
		}
		rec := make(map[string]any, len(header))
		for i, c := range row.Cells {
			if i >= len(header) || header[i] == "" {
				continue
			}
			rec[header[i]] = c.String()
		}
		if cm, ok := fromRecord(rec); ok {
			ds = append(ds, cm)
		}
	}
	return ds, nil
}
