package recovery

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-enrich/internal/model"
	"github.com/sells-group/listing-enrich/internal/sink"
	"github.com/sells-group/listing-enrich/internal/store"
)

var t0 = time.Date(2026, 4, 10, 8, 30, 0, 0, time.UTC)

func ptr(f float64) *float64 { return &f }

func testSnapshot(cursor, total int) *model.Snapshot {
	results := make([]model.ProcessedResult, cursor)
	for i := range results {
		results[i] = model.ProcessedResult{
			Index:       i,
			Record:      model.Record{"Address": "1 Main St", "Zip": float64(32801)},
			Status:      model.StatusSuccess,
			Provider:    "mapbox",
			Latitude:    ptr(28.5),
			Longitude:   ptr(-81.3),
			CompletedAt: t0,
		}
	}
	return &model.Snapshot{
		RunID:        "run-42",
		Filename:     "orlando.xlsx",
		TotalRecords: total,
		Cursor:       cursor,
		Columns:      model.DetectedColumns{Address: "Address", Zip: "Zip"},
		Config:       model.BatchConfig{Tier: "small", BatchSize: 10, ConcurrencyLimit: 10, MaxRetries: 3, CacheEnabled: true, CacheTTL: 7 * time.Hour},
		Stats:        model.Stats{Total: total, Processed: cursor, Succeeded: cursor, ProviderCalls: map[string]int{"mapbox": cursor}, StartedAt: t0},
		Results:      results,
	}
}

func newFileManager(t *testing.T, now *time.Time) (*Manager, *FileStore) {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "snapshots"))
	require.NoError(t, err)
	return NewManager(fs, WithClock(func() time.Time { return *now })), fs
}

func TestCodec_RoundTrip(t *testing.T) {
	snap := testSnapshot(3, 5)
	snap.Version = model.SnapshotVersion
	snap.SavedAt = t0

	data, err := Encode(snap)
	require.NoError(t, err)
	assert.Equal(t, codecVersion, data[0])

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestCodec_Corrupt(t *testing.T) {
	snap := testSnapshot(1, 1)
	snap.Version = model.SnapshotVersion
	data, err := Encode(snap)
	require.NoError(t, err)

	tests := map[string][]byte{
		"empty":       nil,
		"bad version": append([]byte{9}, data[1:]...),
		"truncated":   data[:len(data)/2],
		"not zstd":    []byte{codecVersion, 'h', 'e', 'l', 'l', 'o'},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			assert.True(t, errors.Is(err, ErrSnapshotCorrupt), "got %v", err)
		})
	}
}

func TestManager_CheckpointAndCheck(t *testing.T) {
	now := t0
	m, _ := newFileManager(t, &now)
	ctx := context.Background()

	none, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	snap := testSnapshot(4, 10)
	require.NoError(t, m.Checkpoint(ctx, snap))

	now = t0.Add(time.Hour)
	got, err := m.Check(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Cursor)
	assert.Len(t, got.Results, 4)
	assert.Equal(t, snap.Results, got.Results)
	assert.Equal(t, snap.Config, got.Config)
	assert.Equal(t, t0, got.SavedAt)
	assert.Equal(t, model.SnapshotVersion, got.Version)
}

func TestManager_CheckpointReplaces(t *testing.T) {
	now := t0
	m, _ := newFileManager(t, &now)
	ctx := context.Background()

	require.NoError(t, m.Checkpoint(ctx, testSnapshot(2, 10)))
	require.NoError(t, m.Checkpoint(ctx, testSnapshot(6, 10)))

	got, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Cursor)
}

func TestManager_CheckpointRejectsMismatch(t *testing.T) {
	now := t0
	m, _ := newFileManager(t, &now)

	snap := testSnapshot(3, 10)
	snap.Cursor = 4
	err := m.Checkpoint(context.Background(), snap)
	assert.True(t, errors.Is(err, ErrSnapshotCorrupt))
}

func TestManager_ExpiredIsDiscarded(t *testing.T) {
	now := t0
	m, fs := newFileManager(t, &now)
	ctx := context.Background()

	require.NoError(t, m.Checkpoint(ctx, testSnapshot(1, 2)))
	now = t0.Add(DefaultRetention + time.Minute)

	got, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	data, err := fs.Load(ctx, m.Key())
	require.NoError(t, err)
	assert.Nil(t, data, "expired snapshot is deleted")
}

func TestManager_CorruptIsDiscarded(t *testing.T) {
	now := t0
	m, fs := newFileManager(t, &now)
	ctx := context.Background()

	require.NoError(t, fs.Save(ctx, m.Key(), []byte("garbage")))

	got, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	data, err := fs.Load(ctx, m.Key())
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestManager_Discard(t *testing.T) {
	now := t0
	m, _ := newFileManager(t, &now)
	ctx := context.Background()

	require.NoError(t, m.Checkpoint(ctx, testSnapshot(1, 1)))
	require.NoError(t, m.Discard(ctx))
	require.NoError(t, m.Discard(ctx))

	got, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManager_DatasetKey(t *testing.T) {
	assert.Equal(t, "snapshot:current", NewManager(nil).Key())
	assert.Equal(t, "snapshot:orlando", NewManager(nil, WithDataset("orlando")).Key())
}

func TestManager_SQLiteStore(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "snap.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	now := t0
	m := NewManager(st, WithClock(func() time.Time { return now }), WithRetention(time.Hour))
	require.NoError(t, m.Checkpoint(ctx, testSnapshot(5, 8)))

	got, err := m.Check(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.Cursor)

	now = t0.Add(2 * time.Hour)
	got, err = m.Check(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

type captureSink struct {
	results []model.ProcessedResult
	meta    sink.Metadata
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Persist(_ context.Context, results []model.ProcessedResult, meta sink.Metadata) (*sink.PersistResult, error) {
	c.results, c.meta = results, meta
	return &sink.PersistResult{Location: "mem", Rows: len(results)}, nil
}

func TestManager_ExportPartial(t *testing.T) {
	m := NewManager(nil)
	cs := &captureSink{}

	snap := testSnapshot(3, 9)
	res, err := m.ExportPartial(context.Background(), snap, cs)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.True(t, cs.meta.Partial)
	assert.Equal(t, "run-42", cs.meta.RunID)
	assert.Equal(t, snap.Columns, cs.meta.Columns)
	assert.Len(t, cs.results, 3)

	_, err = m.ExportPartial(context.Background(), nil, cs)
	assert.Error(t, err)
}

func TestFileStore_LoadMissing(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	data, err := fs.Load(context.Background(), "snapshot:none")
	require.NoError(t, err)
	assert.Nil(t, data)
}
