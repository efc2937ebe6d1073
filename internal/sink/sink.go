// Package sink delivers finished result sets: a local workbook, an S3
// object, or rows in Postgres. Delivery is at-least-once; every sink is
// idempotent for a given run ID.
package sink

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-enrich/internal/model"
)

// Metadata describes the run that produced a result set.
type Metadata struct {
	RunID       string
	Filename    string
	Owner       string
	Stats       model.Stats
	Config      model.BatchConfig
	Columns     model.DetectedColumns
	Partial     bool
	CompletedAt time.Time
}

// PersistResult reports where results were written.
type PersistResult struct {
	Location string
	Rows     int
}

// Sink persists a complete result set.
type Sink interface {
	Name() string
	Persist(ctx context.Context, results []model.ProcessedResult, meta Metadata) (*PersistResult, error)
}

// OutputColumns are the headers of the Results sheet, in order.
var OutputColumns = []string{
	"Listing ID", "Address", "Zip", "City", "County", "House Number",
	"Latitude", "Longitude", "Neighborhood", "Neighborhood Source",
	"Community", "Community Source", "Status", "Provider", "Error",
}

// Row renders r as strings aligned with OutputColumns.
func Row(r model.ProcessedResult, cols model.DetectedColumns) []string {
	return []string{
		r.Record.String(cols.ListingID),
		r.Record.String(cols.Address),
		r.Record.String(cols.Zip),
		r.Record.String(cols.City),
		r.Record.String(cols.County),
		r.HouseNumber,
		formatCoord(r.Latitude),
		formatCoord(r.Longitude),
		r.Neighborhood,
		r.NeighborhoodSource,
		r.Community,
		r.CommunitySource,
		string(r.Status),
		r.Provider,
		r.Error,
	}
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}

// Multi fans a result set out to several sinks in order. The first error
// stops delivery and is returned.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

// Persist returns the result of the first sink.
func (m Multi) Persist(ctx context.Context, results []model.ProcessedResult, meta Metadata) (*PersistResult, error) {
	if len(m) == 0 {
		return nil, eris.New("sink: no sinks configured")
	}
	var first *PersistResult
	for _, s := range m {
		res, err := s.Persist(ctx, results, meta)
		if err != nil {
			return nil, eris.Wrapf(err, "sink: %s", s.Name())
		}
		zap.L().Info("sink: persisted",
			zap.String("sink", s.Name()),
			zap.String("run_id", meta.RunID),
			zap.String("location", res.Location),
			zap.Int("rows", res.Rows),
		)
		if first == nil {
			first = res
		}
	}
	return first, nil
}
