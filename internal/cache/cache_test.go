package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCache_GetSet(t *testing.T) {
	c := New("geocode")

	_, ok := c.Get("k")
	assert.False(t, ok)

	payload := []byte(`{"lat":30.26,"lng":-97.74}`)
	c.Set("k", payload, time.Hour)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.True(t, c.Has("k"))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
}

func TestCache_NeverReturnsExpired(t *testing.T) {
	clk := newClock()
	c := New("geocode", WithClock(clk.Now))

	c.Set("k", []byte("v"), time.Minute)
	clk.Advance(59 * time.Second)
	assert.True(t, c.Has("k"))

	clk.Advance(time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.False(t, c.Has("k"))
	assert.Equal(t, 0, c.Len())
}

func TestCache_SetOverwrites(t *testing.T) {
	c := New("enrichment")
	c.Set("k", []byte("old"), time.Hour)
	c.Set("k", []byte("new"), time.Hour)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)
	assert.Equal(t, 1, c.Len())
}

func TestCache_ZeroTTLNotStored(t *testing.T) {
	c := New("geocode")
	c.Set("k", []byte("v"), 0)
	assert.Equal(t, 0, c.Len())
}

func TestCache_HitCounter(t *testing.T) {
	c := New("geocode")
	c.Set("k", []byte("v"), time.Hour)
	for range 3 {
		c.Get("k")
	}
	c.mu.Lock()
	hits := c.entries["k"].Hits
	c.mu.Unlock()
	assert.Equal(t, int64(3), hits)
}

func TestCache_Cleanup(t *testing.T) {
	clk := newClock()
	c := New("geocode", WithClock(clk.Now))

	c.Set("short", []byte("1"), time.Minute)
	c.Set("long", []byte("2"), time.Hour)
	clk.Advance(2 * time.Minute)

	assert.Equal(t, 1, c.Cleanup())
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Has("long"))
	assert.Equal(t, int64(1), c.Stats().Evicted)
}

func TestCache_SweepEveryInserts(t *testing.T) {
	clk := newClock()
	c := New("geocode", WithClock(clk.Now), WithSweepEvery(5))

	for i := range 3 {
		c.Set(fmt.Sprintf("old-%d", i), []byte("x"), time.Minute)
	}
	clk.Advance(time.Hour)

	// Inserts 4 and 5: the fifth triggers a sweep of the three expired entries.
	c.Set("new-1", []byte("y"), time.Hour)
	assert.Equal(t, 4, c.Len())
	c.Set("new-2", []byte("y"), time.Hour)
	assert.Equal(t, 2, c.Len())
}

func TestCache_Clear(t *testing.T) {
	c := New("geocode")
	c.Set("a", []byte("1"), time.Hour)
	c.Get("a")
	c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, Stats{Name: "geocode"}, c.Stats())
}

func TestCache_Janitor(t *testing.T) {
	c := New("geocode")
	c.Set("k", []byte("v"), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartJanitor(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New("geocode", WithSweepEvery(7))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k-%d", i%10)
			c.Set(key, []byte(key), time.Hour)
			got, ok := c.Get(key)
			if ok {
				assert.Equal(t, []byte(key), got)
			}
			c.Has(key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, c.Len())
}

func TestTiered(t *testing.T) {
	tc := NewTiered()
	tc.Geocode.Set("k", []byte("g"), time.Hour)
	tc.Enrichment.Set("k", []byte("e"), time.Hour)

	g, _ := tc.Geocode.Get("k")
	e, _ := tc.Enrichment.Get("k")
	assert.Equal(t, []byte("g"), g)
	assert.Equal(t, []byte("e"), e)

	stats := tc.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "geocode", stats[0].Name)
	assert.Equal(t, "enrichment", stats[1].Name)

	tc.Clear()
	assert.Equal(t, 0, tc.Geocode.Len())
	assert.Equal(t, 0, tc.Enrichment.Len())
}
