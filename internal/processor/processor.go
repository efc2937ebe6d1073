// Package processor is the caller-facing entry point for enrichment runs.
// It selects the batch configuration, drives the scheduler, checkpoints
// progress for recovery and hands finished results to the sink.
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-enrich/internal/batch"
	"github.com/sells-group/listing-enrich/internal/cache"
	"github.com/sells-group/listing-enrich/internal/chain"
	"github.com/sells-group/listing-enrich/internal/enrich"
	"github.com/sells-group/listing-enrich/internal/ingest"
	"github.com/sells-group/listing-enrich/internal/model"
	"github.com/sells-group/listing-enrich/internal/recovery"
	"github.com/sells-group/listing-enrich/internal/resilience"
	"github.com/sells-group/listing-enrich/internal/sink"
	"github.com/sells-group/listing-enrich/pkg/geocode"
)

var (
	// ErrRunInProgress is returned when Start or Resume is called during a run.
	ErrRunInProgress = eris.New("processor: a run is already in progress")
	// ErrSnapshotMismatch is returned when a snapshot does not belong to the dataset.
	ErrSnapshotMismatch = eris.New("processor: snapshot does not match dataset")
)

// Deps are the external collaborators of a Processor.
type Deps struct {
	Geocoders []geocode.Provider
	Enricher  enrich.Provider   // optional
	Recovery  *recovery.Manager // optional; nil disables checkpoints
	Sink      sink.Sink         // optional; nil skips delivery
}

// Config tunes a Processor. Zero values use package defaults.
type Config struct {
	Overrides       batch.Overrides
	BatchPause      *time.Duration
	CheckpointEvery int
	AttemptTimeout  time.Duration
	MaxBackoff      time.Duration
	Circuit         resilience.CircuitBreakerConfig
	CacheOptions    []cache.Option
	JanitorInterval time.Duration
	Owner           string
}

// Outcome is the result of Start or Resume.
type Outcome struct {
	RunID     string
	Results   []model.ProcessedResult
	Stats     model.Stats
	Config    model.BatchConfig
	Stopped   bool
	Cursor    int
	Persisted *sink.PersistResult
}

// Processor runs one enrichment at a time. Caches and circuit breakers live
// as long as the Processor so repeated runs share warm entries.
type Processor struct {
	deps     Deps
	cfg      Config
	hub      *batch.Hub
	caches   *cache.Tiered
	breakers *resilience.ProviderBreakers

	mu        sync.Mutex
	current   *batch.Scheduler
	lastStats model.Stats
}

// New creates a Processor.
func New(deps Deps, cfg Config) *Processor {
	cbCfg := cfg.Circuit
	if cbCfg.FailureThreshold <= 0 {
		cbCfg = resilience.DefaultCircuitBreakerConfig()
	}
	return &Processor{
		deps:      deps,
		cfg:       cfg,
		hub:       batch.NewHub(),
		caches:    cache.NewTiered(cfg.CacheOptions...),
		breakers:  resilience.NewProviderBreakers(cbCfg),
		lastStats: model.Stats{ProviderCalls: map[string]int{}},
	}
}

// Configure returns the batch configuration for a dataset of total records.
func (p *Processor) Configure(total int) model.BatchConfig {
	return batch.ApplyOverrides(batch.SelectConfig(total), p.cfg.Overrides)
}

// Caches exposes the processor's caches for status reporting.
func (p *Processor) Caches() *cache.Tiered { return p.caches }

// Breakers exposes the per-provider circuit breakers for status reporting.
func (p *Processor) Breakers() *resilience.ProviderBreakers { return p.breakers }

// Start enriches every record of ds with cfg. It fails before any lookup if
// ds has no address column.
func (p *Processor) Start(ctx context.Context, ds *ingest.Dataset, cfg model.BatchConfig) (*Outcome, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return p.run(ctx, ds, cfg, uuid.NewString(), batch.Options{})
}

// Resume continues the run recorded in snap over the same dataset. The
// snapshot's batch configuration is reused unchanged.
func (p *Processor) Resume(ctx context.Context, ds *ingest.Dataset, snap *model.Snapshot) (*Outcome, error) {
	if snap == nil {
		return nil, eris.New("processor: nil snapshot")
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if snap.Filename != "" && snap.Filename != ds.Filename {
		return nil, eris.Wrapf(ErrSnapshotMismatch, "processor: snapshot is for %s, not %s", snap.Filename, ds.Filename)
	}
	if snap.TotalRecords != len(ds.Records) {
		return nil, eris.Wrapf(ErrSnapshotMismatch, "processor: snapshot has %d records, dataset %s has %d",
			snap.TotalRecords, ds.Filename, len(ds.Records))
	}
	zap.L().Info("processor: resuming run",
		zap.String("run_id", snap.RunID),
		zap.Int("cursor", snap.Cursor),
		zap.Int("total", snap.TotalRecords),
	)
	stats := snap.Stats.Clone()
	return p.run(ctx, ds, snap.Config, snap.RunID, batch.Options{
		StartIndex: snap.Cursor,
		Prior:      snap.Results,
		PriorStats: &stats,
	})
}

func (p *Processor) run(ctx context.Context, ds *ingest.Dataset, cfg model.BatchConfig, runID string, opts batch.Options) (*Outcome, error) {
	ch := chain.New(cfg, chain.Deps{
		Geocoders: p.deps.Geocoders,
		Enricher:  p.deps.Enricher,
		Caches:    p.caches,
		Breakers:  p.breakers,
	}).WithRetry(p.retryConfig(cfg))

	schedOpts := []batch.SchedulerOption{batch.WithHub(p.hub)}
	if p.cfg.BatchPause != nil {
		schedOpts = append(schedOpts, batch.WithBatchPause(*p.cfg.BatchPause))
	}
	sched := batch.NewScheduler(ch, schedOpts...)

	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		return nil, ErrRunInProgress
	}
	p.current = sched
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.lastStats = sched.Stats()
		p.current = nil
		p.mu.Unlock()
	}()

	if p.cfg.JanitorInterval > 0 && cfg.CacheEnabled {
		janitorCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		p.caches.StartJanitor(janitorCtx, p.cfg.JanitorInterval)
	}

	snapshotOf := func(cursor int, results []model.ProcessedResult, stats model.Stats) *model.Snapshot {
		return &model.Snapshot{
			RunID:        runID,
			Filename:     ds.Filename,
			Owner:        p.cfg.Owner,
			TotalRecords: len(ds.Records),
			Cursor:       cursor,
			Columns:      ds.Columns,
			Config:       cfg,
			Stats:        stats,
			Results:      results,
		}
	}

	opts.CheckpointEvery = p.cfg.CheckpointEvery
	if p.deps.Recovery != nil {
		opts.Checkpoint = func(ctx context.Context, cursor int, results []model.ProcessedResult, stats model.Stats) error {
			if cursor >= len(ds.Records) {
				// Completed runs are delivered instead; a final snapshot
				// is written below only if delivery fails.
				return nil
			}
			return p.deps.Recovery.Checkpoint(ctx, snapshotOf(cursor, results, stats))
		}
	}

	zap.L().Info("processor: run starting",
		zap.String("run_id", runID),
		zap.String("file", ds.Filename),
		zap.Int("records", len(ds.Records)),
		zap.String("tier", cfg.Tier),
	)

	res, err := sched.Run(ctx, ds.Records, ds.Columns, cfg, opts)
	if err != nil {
		return nil, eris.Wrap(err, "processor: run")
	}

	out := &Outcome{
		RunID:   runID,
		Results: res.Results,
		Stats:   res.Stats,
		Config:  cfg,
		Stopped: res.Stopped,
		Cursor:  res.Cursor,
	}

	// Detached so a cancelled ctx still lets the final write complete.
	persistCtx := context.WithoutCancel(ctx)

	if res.Stopped {
		if p.deps.Recovery != nil && res.Cursor > 0 {
			if err := p.deps.Recovery.Checkpoint(persistCtx, snapshotOf(res.Cursor, res.Results, res.Stats)); err != nil {
				zap.L().Error("processor: final checkpoint failed", zap.String("run_id", runID), zap.Error(err))
			}
		}
		zap.L().Info("processor: run stopped",
			zap.String("run_id", runID),
			zap.Int("cursor", res.Cursor),
			zap.Int("total", len(ds.Records)),
		)
		return out, nil
	}

	if p.deps.Sink != nil {
		persisted, err := p.deps.Sink.Persist(persistCtx, res.Results, sink.Metadata{
			RunID:       runID,
			Filename:    ds.Filename,
			Owner:       p.cfg.Owner,
			Stats:       res.Stats,
			Config:      cfg,
			Columns:     ds.Columns,
			CompletedAt: time.Now().UTC(),
		})
		if err != nil {
			// Keep the results resumable so delivery can be retried.
			if p.deps.Recovery != nil && res.Cursor > 0 {
				if cpErr := p.deps.Recovery.Checkpoint(persistCtx, snapshotOf(res.Cursor, res.Results, res.Stats)); cpErr != nil {
					zap.L().Error("processor: checkpoint after sink failure", zap.Error(cpErr))
				}
			}
			return out, eris.Wrap(err, "processor: persist results")
		}
		out.Persisted = persisted
	}

	if p.deps.Recovery != nil {
		if err := p.deps.Recovery.Discard(persistCtx); err != nil {
			zap.L().Warn("processor: delete snapshot after completion", zap.Error(err))
		}
	}

	zap.L().Info("processor: run complete",
		zap.String("run_id", runID),
		zap.Int("records", len(res.Results)),
		zap.Int("succeeded", res.Stats.Succeeded),
		zap.Int("failed", res.Stats.Failed),
		zap.Int("cache_hits", res.Stats.CacheHits),
		zap.Duration("processing_time", res.Stats.ProcessingTime),
	)
	return out, nil
}

func (p *Processor) retryConfig(cfg model.BatchConfig) resilience.RetryConfig {
	rc := resilience.FromBatch(cfg.MaxRetries, cfg.RetryBaseDelay)
	if p.cfg.AttemptTimeout > 0 {
		rc.AttemptTimeout = p.cfg.AttemptTimeout
	}
	if p.cfg.MaxBackoff > 0 {
		rc.MaxBackoff = p.cfg.MaxBackoff
	}
	return rc
}

// Stop asks the active run to stop after in-flight lookups finish. It is a
// no-op when nothing is running.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.Stop()
	}
}

// Running reports whether a run is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Progress returns the active run's stats, or the last run's when idle.
func (p *Processor) Progress() model.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		return p.current.Stats()
	}
	return p.lastStats.Clone()
}

// Subscribe returns a channel of per-batch progress events for this and
// later runs. The channel closes on Close.
func (p *Processor) Subscribe(buffer int) <-chan batch.Progress {
	return p.hub.Subscribe(buffer)
}

// CheckForSnapshot returns a resumable snapshot, or nil.
func (p *Processor) CheckForSnapshot(ctx context.Context) (*model.Snapshot, error) {
	if p.deps.Recovery == nil {
		return nil, nil
	}
	return p.deps.Recovery.Check(ctx)
}

// Discard deletes the stored snapshot and clears the caches.
func (p *Processor) Discard(ctx context.Context) error {
	p.caches.Clear()
	if p.deps.Recovery == nil {
		return nil
	}
	return p.deps.Recovery.Discard(ctx)
}

// ExportPartial writes a snapshot's completed results to a workbook in dir
// without resuming.
func (p *Processor) ExportPartial(ctx context.Context, snap *model.Snapshot, dir string) (*sink.PersistResult, error) {
	m := p.deps.Recovery
	if m == nil {
		m = recovery.NewManager(nil)
	}
	return m.ExportPartial(ctx, snap, sink.NewXLSXSink(dir))
}

// Close releases subscribers.
func (p *Processor) Close() {
	p.hub.Close()
}
