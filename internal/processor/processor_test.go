package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-enrich/internal/batch"
	"github.com/sells-group/listing-enrich/internal/ingest"
	"github.com/sells-group/listing-enrich/internal/model"
	"github.com/sells-group/listing-enrich/internal/recovery"
	"github.com/sells-group/listing-enrich/internal/sink"
	"github.com/sells-group/listing-enrich/pkg/geocode"
)

type countingGeocoder struct {
	delay time.Duration
	gate  chan struct{}

	mu    sync.Mutex
	calls map[string]int
}

func (g *countingGeocoder) Name() string    { return "mapbox" }
func (g *countingGeocoder) Available() bool { return true }

func (g *countingGeocoder) Geocode(ctx context.Context, full string) (*geocode.Result, error) {
	if g.gate != nil {
		<-g.gate
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	if g.calls == nil {
		g.calls = map[string]int{}
	}
	g.calls[full]++
	g.mu.Unlock()
	return &geocode.Result{Source: "mapbox", FormattedAddress: full, Latitude: 28.5, Longitude: -81.4, Neighborhood: "Thornton Park"}, nil
}

func (g *countingGeocoder) snapshot() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.calls))
	for k, v := range g.calls {
		out[k] = v
	}
	return out
}

type captureSink struct {
	mu    sync.Mutex
	calls []sink.Metadata
	rows  []int
	err   error
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Persist(_ context.Context, results []model.ProcessedResult, meta sink.Metadata) (*sink.PersistResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, meta)
	s.rows = append(s.rows, len(results))
	if s.err != nil {
		return nil, s.err
	}
	return &sink.PersistResult{Location: "mem://" + meta.RunID, Rows: len(results)}, nil
}

func dataset(n int) *ingest.Dataset {
	records := make([]model.Record, n)
	for i := range records {
		records[i] = model.Record{"Address": fmt.Sprintf("%d Central Blvd", i+1), "City": "Orlando"}
	}
	return &ingest.Dataset{
		Filename: "listings.xlsx",
		Headers:  []string{"Address", "City"},
		Records:  records,
		Columns:  model.DetectedColumns{Address: "Address", City: "City"},
	}
}

func newProcessor(t *testing.T, g *countingGeocoder, s sink.Sink) (*Processor, *recovery.Manager) {
	t.Helper()
	store, err := recovery.NewFileStore(t.TempDir())
	require.NoError(t, err)
	mgr := recovery.NewManager(store)
	noPause := time.Duration(0)
	p := New(Deps{
		Geocoders: []geocode.Provider{g},
		Recovery:  mgr,
		Sink:      s,
	}, Config{
		Overrides:  batch.Overrides{BatchSize: 5, ConcurrencyLimit: 5},
		BatchPause: &noPause,
		Owner:      "ops@example.com",
	})
	t.Cleanup(p.Close)
	return p, mgr
}

func TestConfigure(t *testing.T) {
	p := New(Deps{}, Config{Overrides: batch.Overrides{ConcurrencyLimit: 2}})
	defer p.Close()

	cfg := p.Configure(600)
	assert.Equal(t, batch.TierMedium, cfg.Tier)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 2, cfg.ConcurrencyLimit)
}

func TestStart_CompletesAndPersists(t *testing.T) {
	g := &countingGeocoder{}
	s := &captureSink{}
	p, mgr := newProcessor(t, g, s)

	ds := dataset(12)
	out, err := p.Start(context.Background(), ds, p.Configure(len(ds.Records)))
	require.NoError(t, err)

	assert.False(t, out.Stopped)
	assert.Equal(t, 12, out.Cursor)
	require.Len(t, out.Results, 12)
	for i, r := range out.Results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, model.StatusSuccess, r.Status)
	}
	assert.Equal(t, 12, out.Stats.Succeeded)
	assert.NotEmpty(t, out.RunID)

	require.Len(t, s.calls, 1)
	assert.Equal(t, out.RunID, s.calls[0].RunID)
	assert.Equal(t, "ops@example.com", s.calls[0].Owner)
	assert.False(t, s.calls[0].Partial)
	require.NotNil(t, out.Persisted)
	assert.Equal(t, 12, out.Persisted.Rows)

	snap, err := mgr.Check(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap, "completed runs leave no snapshot")

	assert.False(t, p.Running())
	assert.Equal(t, 12, p.Progress().Processed)
}

func TestStart_NoAddressColumn(t *testing.T) {
	g := &countingGeocoder{}
	s := &captureSink{}
	p, _ := newProcessor(t, g, s)

	ds := dataset(3)
	ds.Columns.Address = ""
	_, err := p.Start(context.Background(), ds, p.Configure(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrNoAddressColumn)
	assert.Empty(t, g.snapshot())
	assert.Empty(t, s.calls)
}

func TestStart_ZeroRecords(t *testing.T) {
	s := &captureSink{}
	p, mgr := newProcessor(t, &countingGeocoder{}, s)

	out, err := p.Start(context.Background(), dataset(0), p.Configure(0))
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Equal(t, 0, out.Stats.Processed)
	assert.Equal(t, []int{0}, s.rows)

	snap, err := mgr.Check(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestStopAndResume(t *testing.T) {
	g := &countingGeocoder{delay: 10 * time.Millisecond}
	s := &captureSink{}
	p, _ := newProcessor(t, g, s)

	sub := p.Subscribe(64)
	go func() {
		<-sub
		p.Stop()
	}()

	ds := dataset(40)
	first, err := p.Start(context.Background(), ds, p.Configure(len(ds.Records)))
	require.NoError(t, err)
	require.True(t, first.Stopped)
	require.Less(t, first.Cursor, 40)
	assert.Len(t, first.Results, first.Cursor)
	assert.Empty(t, s.calls, "stopped runs are not delivered")

	snap, err := p.CheckForSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, first.RunID, snap.RunID)
	assert.Equal(t, first.Cursor, snap.Cursor)
	assert.Equal(t, 40, snap.TotalRecords)
	assert.Equal(t, "ops@example.com", snap.Owner)

	second, err := p.Resume(context.Background(), ds, snap)
	require.NoError(t, err)
	assert.False(t, second.Stopped)
	assert.Equal(t, first.RunID, second.RunID)
	require.Len(t, second.Results, 40)
	for i, r := range second.Results {
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, 40, second.Stats.Processed)

	calls := g.snapshot()
	assert.Len(t, calls, 40)
	for addr, n := range calls {
		assert.Equal(t, 1, n, "address %q geocoded more than once", addr)
	}

	require.Len(t, s.calls, 1)
	snap, err = p.CheckForSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestResume_Mismatch(t *testing.T) {
	p, _ := newProcessor(t, &countingGeocoder{}, &captureSink{})
	_, err := p.Resume(context.Background(), dataset(5), &model.Snapshot{TotalRecords: 9})
	assert.ErrorIs(t, err, ErrSnapshotMismatch)

	_, err = p.Resume(context.Background(), dataset(5), &model.Snapshot{Filename: "other.xlsx", TotalRecords: 5})
	assert.ErrorIs(t, err, ErrSnapshotMismatch)

	_, err = p.Resume(context.Background(), dataset(5), nil)
	assert.Error(t, err)
}

func TestStart_SinkFailureKeepsSnapshot(t *testing.T) {
	s := &captureSink{err: errors.New("disk full")}
	p, mgr := newProcessor(t, &countingGeocoder{}, s)

	ds := dataset(7)
	out, err := p.Start(context.Background(), ds, p.Configure(7))
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Len(t, out.Results, 7)

	snap, err := mgr.Check(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 7, snap.Cursor)
}

func TestStart_RejectsConcurrentRun(t *testing.T) {
	g := &countingGeocoder{gate: make(chan struct{})}
	p, _ := newProcessor(t, g, &captureSink{})

	ds := dataset(3)
	done := make(chan error, 1)
	go func() {
		_, err := p.Start(context.Background(), ds, p.Configure(3))
		done <- err
	}()

	require.Eventually(t, p.Running, time.Second, 5*time.Millisecond)
	_, err := p.Start(context.Background(), ds, p.Configure(3))
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(g.gate)
	require.NoError(t, <-done)
	assert.False(t, p.Running())
}

func TestDiscard(t *testing.T) {
	g := &countingGeocoder{delay: 5 * time.Millisecond}
	p, mgr := newProcessor(t, g, &captureSink{})

	sub := p.Subscribe(8)
	go func() {
		<-sub
		p.Stop()
	}()
	ds := dataset(30)
	_, err := p.Start(context.Background(), ds, p.Configure(30))
	require.NoError(t, err)
	assert.Positive(t, p.Caches().Geocode.Len())

	require.NoError(t, p.Discard(context.Background()))
	assert.Equal(t, 0, p.Caches().Geocode.Len())
	snap, err := mgr.Check(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestExportPartial(t *testing.T) {
	p, _ := newProcessor(t, &countingGeocoder{}, &captureSink{})
	dir := t.TempDir()
	lat, lng := 28.54, -81.37
	snap := &model.Snapshot{
		RunID:    "run-1",
		Filename: "orlando.xlsx",
		Columns:  model.DetectedColumns{Address: "Address"},
		Results: []model.ProcessedResult{
			{Index: 0, Record: model.Record{"Address": "1 Main St"}, Status: model.StatusSuccess, Latitude: &lat, Longitude: &lng},
		},
	}
	res, err := p.ExportPartial(context.Background(), snap, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "orlando-partial.xlsx"), res.Location)
	_, err = os.Stat(res.Location)
	assert.NoError(t, err)
}
