package ingest

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

func readXLSX(path, sheetName string) ([]string, [][]any, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, sheetName)
	if err != nil {
		return nil, nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, nil, nil
	}

	raw := make([]string, len(sheet.Rows[0].Cells))
	for i, c := range sheet.Rows[0].Cells {
		raw[i] = c.String()
	}
	headers := cleanHeaders(raw)

	rows := make([][]any, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		if row == nil {
			continue
		}
		vals := make([]any, len(row.Cells))
		for j, cell := range row.Cells {
			vals[j] = cellValue(cell)
		}
		rows = append(rows, vals)
	}
	return headers, rows, nil
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

// cellValue maps a cell to string, float64, bool or nil.
func cellValue(cell *xlsx.Cell) any {
	if cell == nil {
		return nil
	}
	switch cell.Type() {
	case xlsx.CellTypeNumeric:
		if v, err := cell.Float(); err == nil {
			return v
		}
	case xlsx.CellTypeBool:
		return cell.Bool()
	}
	s := cell.String()
	if s == "" {
		return nil
	}
	return s
}
