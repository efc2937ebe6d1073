package batch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/listing-enrich/internal/model"
)

// DefaultBatchPause is the sleep between batches.
const DefaultBatchPause = 200 * time.Millisecond

// Looker resolves one record. Implementations must always return a result.
type Looker interface {
	Lookup(ctx context.Context, idx int, rec model.Record, cols model.DetectedColumns) model.ProcessedResult
}

// CheckpointFunc persists run state. results has exactly cursor entries.
type CheckpointFunc func(ctx context.Context, cursor int, results []model.ProcessedResult, stats model.Stats) error

// Options controls a single Run.
type Options struct {
	// StartIndex is the resume cursor; Prior must hold exactly that many results.
	StartIndex int
	Prior      []model.ProcessedResult
	PriorStats *model.Stats

	// CheckpointEvery is the number of newly processed records between
	// checkpoints. Zero checkpoints after every batch.
	CheckpointEvery int
	Checkpoint      CheckpointFunc
}

// RunResult is the outcome of Run.
type RunResult struct {
	Results []model.ProcessedResult
	Stats   model.Stats
	Stopped bool
	Cursor  int
}

// Scheduler drives the batches of one run. Create one per run.
type Scheduler struct {
	looker  Looker
	pause   time.Duration
	hub     *Hub
	stopped atomic.Bool
	tracker atomic.Pointer[Tracker]
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithBatchPause sets the inter-batch sleep. Zero disables it.
func WithBatchPause(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d >= 0 {
			s.pause = d
		}
	}
}

// WithHub publishes progress on an existing hub.
func WithHub(h *Hub) SchedulerOption {
	return func(s *Scheduler) {
		if h != nil {
			s.hub = h
		}
	}
}

// NewScheduler creates a Scheduler that resolves records with l.
func NewScheduler(l Looker, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		looker: l,
		pause:  DefaultBatchPause,
		hub:    NewHub(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stop requests a cooperative stop. Lookups already running finish; no new
// record or batch starts.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
}

// Subscribe returns a channel of per-batch progress events.
func (s *Scheduler) Subscribe(buffer int) <-chan Progress {
	return s.hub.Subscribe(buffer)
}

// Stats returns current run statistics, or zero stats before Run starts.
func (s *Scheduler) Stats() model.Stats {
	if t := s.tracker.Load(); t != nil {
		return t.Snapshot()
	}
	return model.Stats{ProviderCalls: map[string]int{}}
}

func (s *Scheduler) shouldStop(ctx context.Context) bool {
	return s.stopped.Load() || ctx.Err() != nil
}

// Run processes records[opts.StartIndex:] in contiguous batches of
// cfg.BatchSize, each on at most cfg.ConcurrencyLimit goroutines. Results are
// returned in input order and len(Results) always equals Cursor. Cancelling
// ctx behaves like Stop.
func (s *Scheduler) Run(ctx context.Context, records []model.Record, cols model.DetectedColumns, cfg model.BatchConfig, opts Options) (*RunResult, error) {
	total := len(records)
	if cfg.BatchSize <= 0 {
		return nil, eris.Errorf("batch: invalid batch size %d", cfg.BatchSize)
	}
	if opts.StartIndex < 0 || opts.StartIndex > total {
		return nil, eris.Errorf("batch: start index %d out of range [0, %d]", opts.StartIndex, total)
	}
	if len(opts.Prior) != opts.StartIndex {
		return nil, eris.Errorf("batch: %d prior results for start index %d", len(opts.Prior), opts.StartIndex)
	}
	limit := cfg.ConcurrencyLimit
	if limit <= 0 {
		limit = 1
	}

	tracker := NewTracker(total)
	if opts.PriorStats != nil {
		tracker.Restore(*opts.PriorStats)
	}
	s.tracker.Store(tracker)

	results := make([]model.ProcessedResult, opts.StartIndex, total)
	copy(results, opts.Prior)
	cursor := opts.StartIndex

	if total == 0 {
		return &RunResult{Results: results, Stats: tracker.Snapshot()}, nil
	}

	// In-flight lookups finish even if ctx is cancelled mid-batch.
	lookupCtx := context.WithoutCancel(ctx)

	batches := (total + cfg.BatchSize - 1) / cfg.BatchSize
	batchNum := opts.StartIndex / cfg.BatchSize
	sinceCheckpoint := 0
	stopped := false

	zap.L().Info("batch: run starting",
		zap.String("tier", cfg.Tier),
		zap.Int("total", total),
		zap.Int("start_index", opts.StartIndex),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("concurrency", limit),
	)

	for cursor < total {
		if s.shouldStop(ctx) {
			stopped = true
			break
		}

		start := cursor
		end := min(start+cfg.BatchSize, total)
		batchStart := time.Now()
		slots := make([]model.ProcessedResult, end-start)

		var g errgroup.Group
		g.SetLimit(limit)
		launched := 0
		for i := start; i < end; i++ {
			if s.shouldStop(ctx) {
				break
			}
			launched++
			g.Go(func() error {
				slots[i-start] = s.looker.Lookup(lookupCtx, i, records[i], cols)
				return nil
			})
		}
		_ = g.Wait()

		done := slots[:launched]
		results = append(results, done...)
		cursor += launched
		sinceCheckpoint += launched
		batchNum++

		tracker.Record(done)
		stats := tracker.Snapshot()
		observeResults(done)
		observeStats(stats)
		batchDuration.Observe(time.Since(batchStart).Seconds())

		if launched < end-start {
			stopped = true
		}

		zap.L().Debug("batch: completed",
			zap.Int("batch", batchNum),
			zap.Int("batches", batches),
			zap.Int("cursor", cursor),
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("failed", stats.Failed),
		)

		s.hub.Publish(Progress{Batch: batchNum, Batches: batches, Cursor: cursor, Stats: stats})

		if opts.Checkpoint != nil && launched > 0 && (opts.CheckpointEvery <= 0 || sinceCheckpoint >= opts.CheckpointEvery) {
			if err := opts.Checkpoint(lookupCtx, cursor, results, stats); err != nil {
				zap.L().Warn("batch: checkpoint failed", zap.Int("cursor", cursor), zap.Error(err))
			} else {
				sinceCheckpoint = 0
			}
		}

		if stopped {
			break
		}
		if cursor < total && s.pause > 0 {
			s.sleep(ctx, s.pause)
		}
	}

	final := tracker.Snapshot()
	s.hub.Publish(Progress{Batch: batchNum, Batches: batches, Cursor: cursor, Stats: final, Done: !stopped, Stopped: stopped})

	zap.L().Info("batch: run finished",
		zap.Int("cursor", cursor),
		zap.Int("total", total),
		zap.Bool("stopped", stopped),
		zap.Float64("success_rate", final.SuccessRate),
		zap.Duration("processing_time", final.ProcessingTime),
	)

	return &RunResult{Results: results, Stats: final, Stopped: stopped, Cursor: cursor}, nil
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
