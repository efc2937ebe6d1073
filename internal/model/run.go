package model

import "time"

// BatchConfig holds the performance parameters for one run. It is selected
// once per dataset and does not change while the run is active.
type BatchConfig struct {
	Tier             string        `json:"tier" yaml:"tier"`
	BatchSize        int           `json:"batch_size" yaml:"batch_size"`
	ConcurrencyLimit int           `json:"concurrency_limit" yaml:"concurrency_limit"`
	MaxRetries       int           `json:"max_retries" yaml:"max_retries"`
	RetryBaseDelay   time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	CacheEnabled     bool          `json:"cache_enabled" yaml:"cache_enabled"`
	CacheTTL         time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// Stats is a point-in-time view of run progress.
type Stats struct {
	Total          int            `json:"total"`
	Processed      int            `json:"processed"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	CacheHits      int            `json:"cache_hits"`
	ProviderCalls  map[string]int `json:"provider_calls"`
	ProcessingTime time.Duration  `json:"processing_time"`
	StartedAt      time.Time      `json:"started_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// Derived values, recomputed after every batch.
	SuccessRate float64       `json:"success_rate"`
	Throughput  float64       `json:"throughput"` // records per second
	ETA         time.Duration `json:"eta"`
}

// Remaining returns the number of records not yet processed.
func (s Stats) Remaining() int {
	if s.Total <= s.Processed {
		return 0
	}
	return s.Total - s.Processed
}

// Clone returns a deep copy of s.
func (s Stats) Clone() Stats {
	out := s
	out.ProviderCalls = make(map[string]int, len(s.ProviderCalls))
	for k, v := range s.ProviderCalls {
		out.ProviderCalls[k] = v
	}
	return out
}

// SnapshotVersion is bumped whenever the Snapshot layout changes.
const SnapshotVersion = 1

// Snapshot is a persisted copy of an in-progress run, sufficient to resume.
// Each checkpoint fully replaces the previous one.
type Snapshot struct {
	Version      int               `json:"version"`
	RunID        string            `json:"run_id"`
	Filename     string            `json:"filename"`
	Owner        string            `json:"owner,omitempty"`
	TotalRecords int               `json:"total_records"`
	Cursor       int               `json:"cursor"`
	Columns      DetectedColumns   `json:"columns"`
	Config       BatchConfig       `json:"config"`
	Stats        Stats             `json:"stats"`
	Results      []ProcessedResult `json:"results"`
	SavedAt      time.Time         `json:"saved_at"`
}

// Age returns how long ago the snapshot was saved relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.SavedAt)
}
