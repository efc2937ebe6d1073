package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-enrich/internal/cache"
	"github.com/sells-group/listing-enrich/internal/config"
	"github.com/sells-group/listing-enrich/internal/db"
	"github.com/sells-group/listing-enrich/internal/enrich"
	"github.com/sells-group/listing-enrich/internal/processor"
	"github.com/sells-group/listing-enrich/internal/recovery"
	"github.com/sells-group/listing-enrich/internal/resilience"
	"github.com/sells-group/listing-enrich/internal/sink"
	"github.com/sells-group/listing-enrich/internal/store"
	anthropicpkg "github.com/sells-group/listing-enrich/pkg/anthropic"
	"github.com/sells-group/listing-enrich/pkg/geocode"
	"github.com/sells-group/listing-enrich/pkg/perplexity"
)

// enrichEnv holds the processor and everything it was built from.
type enrichEnv struct {
	Processor *processor.Processor
	Recovery  *recovery.Manager

	closers []func()
}

// Close releases stores and pools in reverse order of creation.
func (e *enrichEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// envOptions carries per-invocation settings from command flags.
type envOptions struct {
	Owner     string
	OutputDir string
	// SkipSinks builds a processor with no delivery, for dry runs and
	// snapshot housekeeping.
	SkipSinks bool
}

// initEnv wires providers, recovery storage and sinks from cfg. Callers
// should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, opts envOptions) (*enrichEnv, error) {
	env := &enrichEnv{}

	mgr, err := initRecovery(ctx, c.Recovery, env)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Recovery = mgr

	deps := processor.Deps{
		Geocoders: initGeocoders(c.Geocode),
		Enricher:  initEnricher(c.AI),
		Recovery:  mgr,
	}

	if !opts.SkipSinks {
		s, err := initSinks(ctx, c.Sink, opts.OutputDir, env)
		if err != nil {
			env.Close()
			return nil, err
		}
		deps.Sink = s
	}

	pause := c.Batch.Pause()
	env.Processor = processor.New(deps, processor.Config{
		Overrides:       c.Batch.Overrides(),
		BatchPause:      &pause,
		CheckpointEvery: c.Batch.CheckpointEvery,
		AttemptTimeout:  time.Duration(c.Batch.AttemptTimeoutSecs) * time.Second,
		MaxBackoff:      time.Duration(c.Batch.MaxBackoffSecs) * time.Second,
		Circuit:         resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs),
		CacheOptions:    []cache.Option{cache.WithSweepEvery(c.Cache.SweepEvery)},
		JanitorInterval: time.Duration(c.Cache.JanitorIntervalSecs) * time.Second,
		Owner:           opts.Owner,
	})
	env.closers = append(env.closers, env.Processor.Close)
	return env, nil
}

// initGeocoders builds the configured providers in fallback order.
// Providers without a key are skipped.
func initGeocoders(c config.GeocodeConfig) []geocode.Provider {
	timeout := time.Duration(c.TimeoutSecs) * time.Second
	var out []geocode.Provider
	for _, name := range c.Order {
		pc, ok := c.Provider(name)
		if !ok || pc.Key == "" {
			zap.L().Debug("geocoder disabled", zap.String("provider", name))
			continue
		}
		opts := []geocode.Option{geocode.WithTimeout(timeout)}
		if pc.RateLimit > 0 {
			opts = append(opts, geocode.WithRateLimit(pc.RateLimit))
		}
		switch name {
		case "mapbox":
			out = append(out, geocode.NewMapbox(pc.Key, opts...))
		case "geocodio":
			out = append(out, geocode.NewGeocodio(pc.Key, opts...))
		case "google":
			out = append(out, geocode.NewGoogle(pc.Key, opts...))
		}
	}
	return out
}

// initEnricher returns nil when AI enrichment is disabled.
func initEnricher(c config.AIConfig) enrich.Provider {
	if !c.Enabled {
		return nil
	}
	switch c.Provider {
	case "perplexity":
		client := perplexity.NewClient(c.Perplexity.Key,
			perplexity.WithBaseURL(c.Perplexity.BaseURL),
			perplexity.WithModel(c.Perplexity.Model),
		)
		return enrich.NewPerplexityProvider(client, c.Perplexity.Model)
	default:
		return enrich.NewAnthropicProvider(anthropicpkg.NewClient(c.Anthropic.Key), c.Anthropic.Model)
	}
}

// initRecovery opens the snapshot store selected by recovery.driver.
func initRecovery(ctx context.Context, c config.RecoveryConfig, env *enrichEnv) (*recovery.Manager, error) {
	var st recovery.Store
	switch c.Driver {
	case "file":
		fs, err := recovery.NewFileStore(c.Path)
		if err != nil {
			return nil, err
		}
		st = fs
	case "postgres":
		pg, err := store.NewPostgres(ctx, c.DatabaseURL, &c.Pool)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, func() { _ = pg.Close() })
		if err := pg.Migrate(ctx); err != nil {
			return nil, eris.Wrap(err, "migrate snapshot store")
		}
		st = pg
	default:
		if dir := filepath.Dir(c.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, eris.Wrapf(err, "create %s", dir)
			}
		}
		sq, err := store.NewSQLite(c.Path)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, func() { _ = sq.Close() })
		if err := sq.Migrate(ctx); err != nil {
			return nil, eris.Wrap(err, "migrate snapshot store")
		}
		st = sq
	}

	return recovery.NewManager(st,
		recovery.WithDataset(c.Dataset),
		recovery.WithRetention(time.Duration(c.RetentionHours)*time.Hour),
	), nil
}

// initSinks always writes the local workbook and adds S3 and Postgres
// delivery when configured.
func initSinks(ctx context.Context, c config.SinkConfig, outputDir string, env *enrichEnv) (sink.Sink, error) {
	if outputDir == "" {
		outputDir = c.OutputDir
	}
	sinks := sink.Multi{sink.NewXLSXSink(outputDir)}

	if c.S3.Bucket != "" {
		s3Sink, err := sink.NewS3Sink(ctx, c.S3.Region, c.S3.Bucket, c.S3.Prefix)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3Sink)
	}

	if c.Postgres.DatabaseURL != "" {
		pool, err := db.Connect(ctx, c.Postgres.DatabaseURL, &c.Postgres.Pool)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, pool.Close)
		pgSink := sink.NewPostgresSink(pool, c.Postgres.Table)
		if err := pgSink.Migrate(ctx); err != nil {
			return nil, eris.Wrap(err, "migrate results table")
		}
		sinks = append(sinks, pgSink)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}
