package sink

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/listing-enrich/internal/db"
	"github.com/sells-group/listing-enrich/internal/model"
)

// DefaultResultsTable is the table PostgresSink writes to.
const DefaultResultsTable = "listing_results"

var resultColumns = []string{
	"run_id", "row_index", "listing_id", "address", "zip", "city", "county",
	"house_number", "latitude", "longitude", "location",
	"neighborhood", "neighborhood_source", "community", "community_source",
	"status", "provider", "error", "source_file", "owner", "completed_at",
}

// ResultsTableDDL creates the results table. location is a PostGIS point.
const ResultsTableDDL = `
CREATE TABLE IF NOT EXISTS listing_results (
	run_id              TEXT NOT NULL,
	row_index           INTEGER NOT NULL,
	listing_id          TEXT,
	address             TEXT,
	zip                 TEXT,
	city                TEXT,
	county              TEXT,
	house_number        TEXT,
	latitude            DOUBLE PRECISION,
	longitude           DOUBLE PRECISION,
	location            geometry(Point, 4326),
	neighborhood        TEXT,
	neighborhood_source TEXT,
	community           TEXT,
	community_source    TEXT,
	status              TEXT NOT NULL,
	provider            TEXT,
	error               TEXT,
	source_file         TEXT,
	owner               TEXT,
	completed_at        TIMESTAMPTZ,
	PRIMARY KEY (run_id, row_index)
);
`

// PostgresSink upserts one row per result keyed on (run_id, row_index).
type PostgresSink struct {
	pool  db.Pool
	table string
}

// NewPostgresSink creates a sink writing to table (DefaultResultsTable when empty).
func NewPostgresSink(pool db.Pool, table string) *PostgresSink {
	if table == "" {
		table = DefaultResultsTable
	}
	return &PostgresSink{pool: pool, table: table}
}

func (s *PostgresSink) Name() string { return "postgres" }

// Migrate creates the default results table.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, ResultsTableDDL)
	return eris.Wrap(err, "postgres sink: migrate")
}

func (s *PostgresSink) Persist(ctx context.Context, results []model.ProcessedResult, meta Metadata) (*PersistResult, error) {
	if meta.RunID == "" {
		return nil, eris.New("postgres sink: run id is required")
	}
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		row, err := resultRow(r, meta)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        s.table,
		Columns:      resultColumns,
		ConflictKeys: []string{"run_id", "row_index"},
	}, rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres sink: upsert results")
	}
	return &PersistResult{Location: "postgres:" + s.table, Rows: int(n)}, nil
}

func resultRow(r model.ProcessedResult, meta Metadata) ([]any, error) {
	loc, err := encodePoint(r.Latitude, r.Longitude)
	if err != nil {
		return nil, err
	}
	var completed *time.Time
	if !r.CompletedAt.IsZero() {
		t := r.CompletedAt.UTC()
		completed = &t
	}
	c := meta.Columns
	return []any{
		meta.RunID, r.Index,
		nullable(r.Record.String(c.ListingID)),
		nullable(r.Record.String(c.Address)),
		nullable(r.Record.String(c.Zip)),
		nullable(r.Record.String(c.City)),
		nullable(r.Record.String(c.County)),
		nullable(r.HouseNumber),
		r.Latitude, r.Longitude, loc,
		nullable(r.Neighborhood), nullable(r.NeighborhoodSource),
		nullable(r.Community), nullable(r.CommunitySource),
		string(r.Status), nullable(r.Provider), nullable(r.Error),
		nullable(meta.Filename), nullable(meta.Owner), completed,
	}, nil
}

// encodePoint returns EWKB for an SRID 4326 point, or nil without coordinates.
func encodePoint(lat, lng *float64) ([]byte, error) {
	if lat == nil || lng == nil {
		return nil, nil
	}
	pt := geom.NewPointFlat(geom.XY, []float64{*lng, *lat}).SetSRID(4326)
	data, err := ewkb.Marshal(pt, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgres sink: encode point")
	}
	return data, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
