package sink

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/listing-enrich/internal/model"
)

// ResultsSheet is the name of the output sheet.
const ResultsSheet = "Results"

// WriteWorkbook writes results as an xlsx workbook with one Results sheet.
// Coordinates are numeric cells; everything else is text.
func WriteWorkbook(w io.Writer, results []model.ProcessedResult, cols model.DetectedColumns) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(ResultsSheet)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range OutputColumns {
		header.AddCell().SetString(h)
	}

	for _, r := range results {
		row := sheet.AddRow()
		for i, v := range Row(r, cols) {
			cell := row.AddCell()
			switch {
			case i == 6 && r.Latitude != nil:
				cell.SetFloat(*r.Latitude)
			case i == 7 && r.Longitude != nil:
				cell.SetFloat(*r.Longitude)
			default:
				cell.SetString(v)
			}
		}
	}

	return eris.Wrap(f.Write(w), "xlsx: write workbook")
}

// OutputName derives the output filename from the input filename.
func OutputName(input string, partial bool) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if base == "" || base == "." {
		base = "listings"
	}
	if partial {
		return base + "-partial.xlsx"
	}
	return base + "-enriched.xlsx"
}

// XLSXSink writes the output workbook into a local directory.
type XLSXSink struct {
	Dir string
}

// NewXLSXSink creates a sink writing into dir.
func NewXLSXSink(dir string) *XLSXSink {
	return &XLSXSink{Dir: dir}
}

func (s *XLSXSink) Name() string { return "xlsx" }

// Persist writes the workbook via a temp file and rename so a crash never
// leaves a truncated output.
func (s *XLSXSink) Persist(_ context.Context, results []model.ProcessedResult, meta Metadata) (*PersistResult, error) {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "xlsx: create %s", dir)
	}
	path := filepath.Join(dir, OutputName(meta.Filename, meta.Partial))

	tmp, err := os.CreateTemp(dir, ".enrich-*.xlsx")
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := WriteWorkbook(tmp, results, meta.Columns); err != nil {
		tmp.Close() //nolint:errcheck
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, eris.Wrap(err, "xlsx: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, eris.Wrapf(err, "xlsx: rename to %s", path)
	}
	return &PersistResult{Location: path, Rows: len(results)}, nil
}
