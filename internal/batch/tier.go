// Package batch partitions a dataset into sequential batches, runs the
// per-record lookups of each batch on a bounded worker pool, and tracks
// progress.
package batch

import (
	"time"

	"github.com/sells-group/listing-enrich/internal/model"
)

// Tier names.
const (
	TierSmall  = "small"
	TierMedium = "medium"
	TierLarge  = "large"
	TierXLarge = "xlarge"
)

// tierRule maps an inclusive upper bound on dataset size to its config.
// maxRecords of 0 marks the open-ended last tier.
type tierRule struct {
	maxRecords int
	cfg        model.BatchConfig
}

var tierRules = []tierRule{
	{50, model.BatchConfig{
		Tier: TierSmall, BatchSize: 10, ConcurrencyLimit: 10, MaxRetries: 3,
		RetryBaseDelay: 500 * time.Millisecond, CacheEnabled: true, CacheTTL: 7 * time.Hour,
	}},
	{1000, model.BatchConfig{
		Tier: TierMedium, BatchSize: 25, ConcurrencyLimit: 8, MaxRetries: 3,
		RetryBaseDelay: time.Second, CacheEnabled: true, CacheTTL: 24 * time.Hour,
	}},
	{10000, model.BatchConfig{
		Tier: TierLarge, BatchSize: 50, ConcurrencyLimit: 5, MaxRetries: 2,
		RetryBaseDelay: 1500 * time.Millisecond, CacheEnabled: true, CacheTTL: 36 * time.Hour,
	}},
	{0, model.BatchConfig{
		Tier: TierXLarge, BatchSize: 100, ConcurrencyLimit: 3, MaxRetries: 2,
		RetryBaseDelay: 2 * time.Second, CacheEnabled: true, CacheTTL: 48 * time.Hour,
	}},
}

// SelectConfig returns the batch configuration for a dataset of total
// records. Larger datasets get larger batches with less concurrency.
func SelectConfig(total int) model.BatchConfig {
	for _, r := range tierRules {
		if r.maxRecords == 0 || total <= r.maxRecords {
			return r.cfg
		}
	}
	return tierRules[len(tierRules)-1].cfg
}

// Tiers returns every tier configuration in ascending size order, with the
// upper record bound of each (0 for unbounded).
func Tiers() []TierInfo {
	out := make([]TierInfo, len(tierRules))
	for i, r := range tierRules {
		out[i] = TierInfo{MaxRecords: r.maxRecords, Config: r.cfg}
	}
	return out
}

// TierInfo describes one tier for display.
type TierInfo struct {
	MaxRecords int               `yaml:"max_records"`
	Config     model.BatchConfig `yaml:"config"`
}

// Overrides replaces selected fields of a tier config. Zero values keep the
// tier's value; CacheEnabled is applied only when set.
type Overrides struct {
	BatchSize        int
	ConcurrencyLimit int
	MaxRetries       int
	RetryBaseDelay   time.Duration
	CacheEnabled     *bool
	CacheTTL         time.Duration
}

// ApplyOverrides returns cfg with any non-zero overrides applied.
func ApplyOverrides(cfg model.BatchConfig, o Overrides) model.BatchConfig {
	if o.BatchSize > 0 {
		cfg.BatchSize = o.BatchSize
	}
	if o.ConcurrencyLimit > 0 {
		cfg.ConcurrencyLimit = o.ConcurrencyLimit
	}
	if o.MaxRetries > 0 {
		cfg.MaxRetries = o.MaxRetries
	}
	if o.RetryBaseDelay > 0 {
		cfg.RetryBaseDelay = o.RetryBaseDelay
	}
	if o.CacheEnabled != nil {
		cfg.CacheEnabled = *o.CacheEnabled
	}
	if o.CacheTTL > 0 {
		cfg.CacheTTL = o.CacheTTL
	}
	return cfg
}
