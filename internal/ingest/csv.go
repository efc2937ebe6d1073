package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

func readCSV(ctx context.Context, r io.Reader) ([]string, [][]any, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // allow variable fields

	var (
		headers []string
		rows    [][]any
	)
	for {
		if ctx.Err() != nil {
			return nil, nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "csv: read row")
		}
		if headers == nil {
			headers = cleanHeaders(record)
			continue
		}
		vals := make([]any, len(record))
		for i, field := range record {
			if field = strings.TrimSpace(field); field != "" {
				vals[i] = field
			}
		}
		rows = append(rows, vals)
	}
	return headers, rows, nil
}
