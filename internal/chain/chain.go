// Package chain resolves one listing record through the cache, the ordered
// geocoding providers and the AI enrichment provider.
package chain

import (
	"context"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/listing-enrich/internal/address"
	"github.com/sells-group/listing-enrich/internal/cache"
	"github.com/sells-group/listing-enrich/internal/enrich"
	"github.com/sells-group/listing-enrich/internal/model"
	"github.com/sells-group/listing-enrich/internal/resilience"
	"github.com/sells-group/listing-enrich/pkg/geocode"
)

// ErrMissingAddress is recorded for rows whose address cell is empty.
var ErrMissingAddress = eris.New("chain: missing address")

// ErrNoProviders is recorded when no geocoding provider is available.
var ErrNoProviders = eris.New("chain: no geocoding provider available")

// Deps are the collaborators a Chain calls.
type Deps struct {
	// Geocoders are tried in order; the first success wins.
	Geocoders []geocode.Provider
	// Enricher may be nil, in which case only geocoder neighborhoods are used.
	Enricher enrich.Provider
	Caches   *cache.Tiered
	Breakers *resilience.ProviderBreakers
}

// Chain performs the per-record lookup. It is safe for concurrent use.
type Chain struct {
	deps     Deps
	retry    resilience.RetryConfig
	useCache bool
	ttl      time.Duration

	// Concurrent lookups of one cache key share a single provider walk.
	geoFlight  singleflight.Group
	areaFlight singleflight.Group
}

// New creates a Chain for one run. cfg is fixed for the lifetime of the Chain.
func New(cfg model.BatchConfig, deps Deps) *Chain {
	if deps.Caches == nil {
		deps.Caches = cache.NewTiered()
	}
	if deps.Breakers == nil {
		deps.Breakers = resilience.NewProviderBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	return &Chain{
		deps:     deps,
		retry:    resilience.FromBatch(cfg.MaxRetries, cfg.RetryBaseDelay),
		useCache: cfg.CacheEnabled && cfg.CacheTTL > 0,
		ttl:      cfg.CacheTTL,
	}
}

// WithRetry overrides the retry policy derived from the batch config.
func (c *Chain) WithRetry(rc resilience.RetryConfig) *Chain {
	c.retry = rc
	return c
}

// Lookup produces exactly one ProcessedResult for rec. Failures are reported
// on the result, never returned.
func (c *Chain) Lookup(ctx context.Context, idx int, rec model.Record, cols model.DetectedColumns) (res model.ProcessedResult) {
	start := time.Now()
	res = model.ProcessedResult{
		Index:  idx,
		Record: rec,
		Calls:  make(map[string]int),
	}
	defer func() {
		res.DurationMS = time.Since(start).Milliseconds()
		res.CompletedAt = time.Now().UTC()
	}()

	street := rec.String(cols.Address)
	city := rec.String(cols.City)
	county := rec.String(cols.County)
	zip := rec.String(cols.Zip)

	if street == "" {
		res.Status = model.StatusError
		res.Error = ErrMissingAddress.Error()
		return res
	}

	key := address.CacheKey(street, city, county)
	geo, hit, err := c.geocode(ctx, key, address.FullAddress(street, city, county, zip), res.Calls)
	if err != nil {
		res.Status = model.StatusError
		res.Error = err.Error()
		return res
	}

	lat, lng := geo.Latitude, geo.Longitude
	res.Latitude = &lat
	res.Longitude = &lng
	res.FormattedAddress = geo.FormattedAddress
	res.HouseNumber = geo.HouseNumber
	res.Provider = geo.Source
	res.CacheHit = hit
	res.Status = model.StatusSuccess
	if hit {
		res.Status = model.StatusCached
	}

	c.enrichArea(ctx, key, street, city, county, rec, cols, geo, &res)
	return res
}

// geocode returns the cached result for key, or walks the providers in order.
// Records with the same key that miss the cache together wait for one walk
// and are reported as cache hits.
func (c *Chain) geocode(ctx context.Context, key, full string, calls map[string]int) (*geocode.Result, bool, error) {
	if !c.useCache {
		res, err := c.walkGeocoders(ctx, key, full, calls)
		return res, false, err
	}
	if res, ok := c.cachedGeocode(key); ok {
		return res, true, nil
	}

	leader := false
	v, err, _ := c.geoFlight.Do(key, func() (any, error) {
		leader = true
		// A walk for this key may have finished since the miss above.
		if res, ok := c.cachedGeocode(key); ok {
			return geoFlightResult{res: res, hit: true}, nil
		}
		res, err := c.walkGeocoders(ctx, key, full, calls)
		return geoFlightResult{res: res}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(geoFlightResult)
	out := *r.res
	return &out, r.hit || !leader, nil
}

type geoFlightResult struct {
	res *geocode.Result
	hit bool
}

func (c *Chain) cachedGeocode(key string) (*geocode.Result, bool) {
	payload, ok := c.deps.Caches.Geocode.Get(key)
	if !ok {
		return nil, false
	}
	var cached geocode.Result
	if err := json.Unmarshal(payload, &cached); err != nil {
		zap.L().Warn("chain: dropping undecodable geocode cache entry", zap.String("key", key[:12]))
		return nil, false
	}
	return &cached, true
}

func (c *Chain) walkGeocoders(ctx context.Context, key, full string, calls map[string]int) (*geocode.Result, error) {
	var failures []string
	tried := 0
	for _, p := range c.deps.Geocoders {
		if !p.Available() {
			continue
		}
		tried++
		name := p.Name()

		cb := c.deps.Breakers.Get(name)
		if err := cb.Allow(); err != nil {
			failures = append(failures, name+": "+err.Error())
			continue
		}

		rc := c.retry
		rc.OnRetry = resilience.RetryLogger(name, "geocode")
		result, err := resilience.DoVal(ctx, rc, func(ctx context.Context) (*geocode.Result, error) {
			calls[name]++
			return p.Geocode(ctx, full)
		})
		cb.Record(err)
		if err != nil {
			zap.L().Debug("chain: geocoder failed, trying next",
				zap.String("provider", name),
				zap.Error(err),
			)
			failures = append(failures, name+": "+err.Error())
			continue
		}

		if result.Source == "" {
			result.Source = name
		}
		if c.useCache {
			if payload, err := json.Marshal(result); err == nil {
				c.deps.Caches.Geocode.Set(key, payload, c.ttl)
			}
		}
		return result, nil
	}

	if tried == 0 {
		return nil, ErrNoProviders
	}
	return nil, eris.New(strings.Join(failures, "; "))
}

// enrichArea fills neighborhood and community. Source-row values always win;
// the AI provider is consulted only when at least one field is missing.
func (c *Chain) enrichArea(
	ctx context.Context,
	key, street, city, county string,
	rec model.Record,
	cols model.DetectedColumns,
	geo *geocode.Result,
	res *model.ProcessedResult,
) {
	if v := address.CleanAreaName(rec.String(cols.Neighborhood)); v != "" {
		res.Neighborhood, res.NeighborhoodSource = v, model.SourceExcel
	}
	if v := address.CleanAreaName(rec.String(cols.Community)); v != "" {
		res.Community, res.CommunitySource = v, model.SourceExcel
	}

	if res.Neighborhood == "" || res.Community == "" {
		if e, source := c.lookupArea(ctx, key, street, city, county, res.Calls); e != nil {
			if res.Neighborhood == "" && e.Neighborhood != "" {
				res.Neighborhood, res.NeighborhoodSource = e.Neighborhood, source
			}
			if res.Community == "" && e.Community != "" {
				res.Community, res.CommunitySource = e.Community, source
			}
		}
	}

	if res.Neighborhood == "" {
		if v := address.CleanAreaName(geo.Neighborhood); v != "" {
			res.Neighborhood, res.NeighborhoodSource = v, geo.Source
		}
	}
}

// lookupArea consults the enrichment cache and then the AI provider. It
// returns the enrichment and the provenance tag to attach, or nil when
// nothing is available. Provider errors are logged and swallowed.
func (c *Chain) lookupArea(ctx context.Context, key, street, city, county string, calls map[string]int) (*enrich.Enrichment, string) {
	if !c.useCache {
		return c.askEnricher(ctx, key, street, city, county, calls)
	}
	if e, ok := c.cachedArea(key); ok {
		return e, model.SourceCache
	}

	leader := false
	v, _, _ := c.areaFlight.Do(key, func() (any, error) {
		leader = true
		if e, ok := c.cachedArea(key); ok {
			return areaFlightResult{e: e, source: model.SourceCache}, nil
		}
		e, source := c.askEnricher(ctx, key, street, city, county, calls)
		return areaFlightResult{e: e, source: source}, nil
	})
	r := v.(areaFlightResult)
	if r.e == nil {
		return nil, ""
	}
	out := *r.e
	if !leader {
		return &out, model.SourceCache
	}
	return &out, r.source
}

type areaFlightResult struct {
	e      *enrich.Enrichment
	source string
}

func (c *Chain) cachedArea(key string) (*enrich.Enrichment, bool) {
	payload, ok := c.deps.Caches.Enrichment.Get(key)
	if !ok {
		return nil, false
	}
	var cached enrich.Enrichment
	if err := json.Unmarshal(payload, &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

func (c *Chain) askEnricher(ctx context.Context, key, street, city, county string, calls map[string]int) (*enrich.Enrichment, string) {
	p := c.deps.Enricher
	if p == nil {
		return nil, ""
	}
	name := p.Name()

	cb := c.deps.Breakers.Get(name)
	if err := cb.Allow(); err != nil {
		zap.L().Debug("chain: enrichment provider circuit open", zap.String("provider", name))
		return nil, ""
	}

	rc := c.retry
	rc.OnRetry = resilience.RetryLogger(name, "enrich")
	e, err := resilience.DoVal(ctx, rc, func(ctx context.Context) (*enrich.Enrichment, error) {
		calls[name]++
		return p.Lookup(ctx, street, city, county)
	})
	cb.Record(err)
	if err != nil {
		zap.L().Warn("chain: enrichment failed, leaving area fields empty",
			zap.String("provider", name),
			zap.Error(err),
		)
		return nil, ""
	}

	if c.useCache {
		if payload, err := json.Marshal(e); err == nil {
			c.deps.Caches.Enrichment.Set(key, payload, c.ttl)
		}
	}
	source := e.Source
	if source == "" {
		source = name
	}
	return e, source
}
