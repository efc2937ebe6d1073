// Package cache provides TTL-bounded in-memory caches for geocoding and
// enrichment payloads, keyed by normalized address hash.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepEvery is how many inserts trigger an expired-entry sweep.
const DefaultSweepEvery = 100

// Entry is a cached payload with its lifetime and hit counter.
type Entry struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
	Hits      int64
}

// Stats contains cache performance statistics.
type Stats struct {
	Name    string  `json:"name"`
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Evicted int64   `json:"evicted"`
}

// Cache is a concurrent-safe map of payloads with per-entry TTL. Expired
// entries are never returned: Get and Has check expiry lazily and a sweep
// runs every SweepEvery inserts.
type Cache struct {
	name       string
	sweepEvery int

	mu      sync.Mutex
	entries map[string]*Entry
	inserts int

	hits    atomic.Int64
	misses  atomic.Int64
	evicted atomic.Int64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithSweepEvery sets the insert count between opportunistic sweeps.
func WithSweepEvery(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.sweepEvery = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.nowFunc = now }
}

// New creates an empty cache. The name appears in logs and stats.
func New(name string, opts ...Option) *Cache {
	c := &Cache{
		name:       name,
		sweepEvery: DefaultSweepEvery,
		entries:    make(map[string]*Entry),
		nowFunc:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// Get returns the payload for key. An expired entry is removed and reported
// as a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if !c.nowFunc().Before(e.ExpiresAt) {
		delete(c.entries, key)
		c.evicted.Add(1)
		c.misses.Add(1)
		return nil, false
	}
	e.Hits++
	c.hits.Add(1)
	return e.Payload, true
}

// Has reports whether a live entry exists without counting a hit.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if !c.nowFunc().Before(e.ExpiresAt) {
		delete(c.entries, key)
		c.evicted.Add(1)
		return false
	}
	return true
}

// Set stores payload under key for ttl, replacing any existing entry.
// A non-positive ttl is ignored.
func (c *Cache) Set(key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry{
		Key:       key,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	c.inserts++
	if c.inserts%c.sweepEvery == 0 {
		c.sweepLocked(now)
	}
}

// Cleanup removes expired entries and returns how many were removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.nowFunc())
}

func (c *Cache) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		c.evicted.Add(int64(removed))
		zap.L().Debug("cache: swept expired entries",
			zap.String("cache", c.name),
			zap.Int("removed", removed),
		)
	}
	return removed
}

// Clear drops every entry and resets counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.inserts = 0
	c.mu.Unlock()

	c.hits.Store(0)
	c.misses.Store(0)
	c.evicted.Store(0)
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *Cache) Stats() Stats {
	entries := c.Len()
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Name:    c.name,
		Entries: entries,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
		Evicted: c.evicted.Load(),
	}
}

// StartJanitor sweeps expired entries every interval until ctx is done.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}

// Tiered groups the geocode and enrichment caches. Both use the same
// address-hash key scheme.
type Tiered struct {
	Geocode    *Cache
	Enrichment *Cache
}

// NewTiered creates both tiers with shared options.
func NewTiered(opts ...Option) *Tiered {
	return &Tiered{
		Geocode:    New("geocode", opts...),
		Enrichment: New("enrichment", opts...),
	}
}

// Clear empties both tiers.
func (t *Tiered) Clear() {
	t.Geocode.Clear()
	t.Enrichment.Clear()
}

// StartJanitor runs a sweep loop for each tier.
func (t *Tiered) StartJanitor(ctx context.Context, interval time.Duration) {
	t.Geocode.StartJanitor(ctx, interval)
	t.Enrichment.StartJanitor(ctx, interval)
}

// Stats returns stats for both tiers.
func (t *Tiered) Stats() []Stats {
	return []Stats{t.Geocode.Stats(), t.Enrichment.Stats()}
}
