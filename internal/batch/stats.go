package batch

import (
	"sync"
	"time"

	"github.com/sells-group/listing-enrich/internal/model"
)

// Tracker accumulates run statistics. It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	stats model.Stats

	// baseTime is processing time carried over from a resumed snapshot.
	baseTime time.Duration
	nowFunc  func() time.Time
}

// NewTracker creates a tracker for a run of total records.
func NewTracker(total int) *Tracker {
	t := &Tracker{nowFunc: time.Now}
	now := t.nowFunc()
	t.stats = model.Stats{
		Total:         total,
		ProviderCalls: make(map[string]int),
		StartedAt:     now,
		UpdatedAt:     now,
	}
	return t
}

// Restore seeds the tracker from a snapshot's stats so counters continue
// where the previous run stopped. Elapsed time restarts from now.
func (t *Tracker) Restore(prev model.Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.stats.Total
	now := t.nowFunc()
	t.stats = prev.Clone()
	t.stats.Total = total
	t.stats.StartedAt = now
	t.stats.UpdatedAt = now
	t.baseTime = prev.ProcessingTime
	t.derive(now)
}

// Record folds a completed batch into the counters.
func (t *Tracker) Record(results []model.ProcessedResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range results {
		t.stats.Processed++
		if r.Succeeded() {
			t.stats.Succeeded++
		} else {
			t.stats.Failed++
		}
		if r.CacheHit {
			t.stats.CacheHits++
		}
		for p, n := range r.Calls {
			t.stats.ProviderCalls[p] += n
		}
	}
	now := t.nowFunc()
	t.stats.UpdatedAt = now
	t.derive(now)
}

func (t *Tracker) derive(now time.Time) {
	s := &t.stats
	elapsed := now.Sub(s.StartedAt)
	s.ProcessingTime = t.baseTime + elapsed

	s.SuccessRate = 0
	if s.Processed > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Processed)
	}

	s.Throughput = 0
	if secs := s.ProcessingTime.Seconds(); secs > 0 {
		s.Throughput = float64(s.Processed) / secs
	}

	s.ETA = 0
	if s.Throughput > 0 {
		s.ETA = time.Duration(float64(s.Remaining()) / s.Throughput * float64(time.Second))
	}
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() model.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.Clone()
}
