// Package ingest reads listing spreadsheets into records and detects which
// source columns hold the address fields.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-enrich/internal/model"
)

// ErrNoAddressColumn is returned when no column looks like a street address.
var ErrNoAddressColumn = eris.New("ingest: no address column detected")

// ErrUnsupportedFormat is returned for files other than .xlsx and .csv.
var ErrUnsupportedFormat = eris.New("ingest: unsupported file format")

// Options configures ReadFile.
type Options struct {
	SheetName string // xlsx only; defaults to the first sheet
	Limit     int    // maximum data rows to read; 0 reads all
}

// Dataset is a parsed input file.
type Dataset struct {
	Filename string
	Headers  []string
	Records  []model.Record
	Columns  model.DetectedColumns
}

// Validate reports ErrNoAddressColumn when the dataset cannot be geocoded.
func (d *Dataset) Validate() error {
	if !d.Columns.HasAddress() {
		return eris.Wrapf(ErrNoAddressColumn, "ingest: %s headers %v", d.Filename, d.Headers)
	}
	return nil
}

// ReadFile parses path by extension and detects its columns. The first
// row is the header row. Rows with no values are skipped.
func ReadFile(ctx context.Context, path string, opts Options) (*Dataset, error) {
	var (
		headers []string
		rows    [][]any
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		headers, rows, err = readXLSX(path, opts.SheetName)
	case ".csv":
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		headers, rows, err = readCSV(ctx, f)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "ingest: %s", path)
	}
	if err != nil {
		return nil, err
	}

	records := toRecords(headers, rows, opts.Limit)
	ds := &Dataset{
		Filename: filepath.Base(path),
		Headers:  headers,
		Records:  records,
		Columns:  DetectColumns(headers),
	}

	zap.L().Info("ingest: file read",
		zap.String("file", ds.Filename),
		zap.Int("records", len(records)),
		zap.String("address_column", ds.Columns.Address),
	)
	return ds, nil
}

func toRecords(headers []string, rows [][]any, limit int) []model.Record {
	records := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		if limit > 0 && len(records) >= limit {
			break
		}
		rec := make(model.Record, len(headers))
		empty := true
		for i, h := range headers {
			if h == "" {
				continue
			}
			var v any
			if i < len(row) {
				v = row[i]
			}
			if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
				v = nil
			}
			if v != nil {
				empty = false
			}
			rec[h] = v
		}
		if !empty {
			records = append(records, rec)
		}
	}
	return records
}

func cleanHeaders(raw []string) []string {
	out := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			continue
		}
		// Duplicate headers keep the first column under the bare name.
		if n := seen[h]; n > 0 {
			seen[h]++
			h = h + "_" + strconv.Itoa(n+1)
		} else {
			seen[h] = 1
		}
		out[i] = h
	}
	return out
}
