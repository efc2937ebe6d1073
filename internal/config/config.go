// Package config loads application configuration from config.yaml and
// ENRICH_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/listing-enrich/internal/batch"
	"github.com/sells-group/listing-enrich/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Geocode  GeocodeConfig  `yaml:"geocode" mapstructure:"geocode"`
	AI       AIConfig       `yaml:"ai" mapstructure:"ai"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Circuit  CircuitConfig  `yaml:"circuit" mapstructure:"circuit"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Recovery RecoveryConfig `yaml:"recovery" mapstructure:"recovery"`
	Sink     SinkConfig     `yaml:"sink" mapstructure:"sink"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// GeocodeConfig configures the geocoding providers. Order lists provider
// names in fallback order; providers without a key are skipped.
type GeocodeConfig struct {
	Order       []string       `yaml:"order" mapstructure:"order"`
	TimeoutSecs int            `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Mapbox      ProviderConfig `yaml:"mapbox" mapstructure:"mapbox"`
	Geocodio    ProviderConfig `yaml:"geocodio" mapstructure:"geocodio"`
	Google      ProviderConfig `yaml:"google" mapstructure:"google"`
}

// ProviderConfig holds one geocoder's credentials and request rate.
type ProviderConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
}

// AIConfig configures neighborhood/community enrichment.
type AIConfig struct {
	Enabled    bool             `yaml:"enabled" mapstructure:"enabled"`
	Provider   string           `yaml:"provider" mapstructure:"provider"` // anthropic or perplexity
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// BatchConfig overrides the tier selected for a dataset. Zero values keep
// the tier's setting.
type BatchConfig struct {
	BatchSize          int    `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency        int    `yaml:"concurrency" mapstructure:"concurrency"`
	MaxRetries         int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelayMS   int    `yaml:"retry_base_delay_ms" mapstructure:"retry_base_delay_ms"`
	Cache              string `yaml:"cache" mapstructure:"cache"` // "", "on" or "off"
	CacheTTLHours      int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	PauseMS            int    `yaml:"pause_ms" mapstructure:"pause_ms"`
	CheckpointEvery    int    `yaml:"checkpoint_every" mapstructure:"checkpoint_every"`
	AttemptTimeoutSecs int    `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
	MaxBackoffSecs     int    `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
}

// Overrides converts the batch section to tier overrides.
func (b BatchConfig) Overrides() batch.Overrides {
	o := batch.Overrides{
		BatchSize:        b.BatchSize,
		ConcurrencyLimit: b.Concurrency,
		MaxRetries:       b.MaxRetries,
		RetryBaseDelay:   time.Duration(b.RetryBaseDelayMS) * time.Millisecond,
		CacheTTL:         time.Duration(b.CacheTTLHours) * time.Hour,
	}
	switch strings.ToLower(b.Cache) {
	case "on", "true":
		on := true
		o.CacheEnabled = &on
	case "off", "false":
		off := false
		o.CacheEnabled = &off
	}
	return o
}

// Pause returns the inter-batch pause.
func (b BatchConfig) Pause() time.Duration {
	return time.Duration(b.PauseMS) * time.Millisecond
}

// CircuitConfig configures per-provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// CacheConfig configures the in-memory caches.
type CacheConfig struct {
	SweepEvery          int `yaml:"sweep_every" mapstructure:"sweep_every"`
	JanitorIntervalSecs int `yaml:"janitor_interval_secs" mapstructure:"janitor_interval_secs"`
}

// RecoveryConfig configures snapshot storage.
type RecoveryConfig struct {
	Driver         string        `yaml:"driver" mapstructure:"driver"` // file, sqlite or postgres
	Path           string        `yaml:"path" mapstructure:"path"`
	DatabaseURL    string        `yaml:"database_url" mapstructure:"database_url"`
	Dataset        string        `yaml:"dataset" mapstructure:"dataset"`
	RetentionHours int           `yaml:"retention_hours" mapstructure:"retention_hours"`
	Pool           db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// SinkConfig configures result delivery. The local workbook is always
// written; S3 and Postgres are added when configured.
type SinkConfig struct {
	OutputDir string         `yaml:"output_dir" mapstructure:"output_dir"`
	S3        S3Config       `yaml:"s3" mapstructure:"s3"`
	Postgres  PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// S3Config holds the upload destination.
type S3Config struct {
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	Region string `yaml:"region" mapstructure:"region"`
}

// PostgresConfig holds the results database.
type PostgresConfig struct {
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Table       string        `yaml:"table" mapstructure:"table"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one so environment overrides are picked up
	// by Unmarshal.
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("geocode.order", []string{"mapbox", "geocodio"})
	v.SetDefault("geocode.timeout_secs", 15)
	v.SetDefault("geocode.mapbox.key", "")
	v.SetDefault("geocode.mapbox.rate_limit", 10.0)
	v.SetDefault("geocode.geocodio.key", "")
	v.SetDefault("geocode.geocodio.rate_limit", 15.0)
	v.SetDefault("geocode.google.key", "")
	v.SetDefault("geocode.google.rate_limit", 25.0)
	v.SetDefault("ai.enabled", true)
	v.SetDefault("ai.provider", "anthropic")
	v.SetDefault("ai.anthropic.key", "")
	v.SetDefault("ai.anthropic.model", "claude-haiku-4-5")
	v.SetDefault("ai.perplexity.key", "")
	v.SetDefault("ai.perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("ai.perplexity.model", "sonar")
	v.SetDefault("batch.batch_size", 0)
	v.SetDefault("batch.concurrency", 0)
	v.SetDefault("batch.max_retries", 0)
	v.SetDefault("batch.retry_base_delay_ms", 0)
	v.SetDefault("batch.cache", "")
	v.SetDefault("batch.cache_ttl_hours", 0)
	v.SetDefault("batch.pause_ms", 200)
	v.SetDefault("batch.checkpoint_every", 0)
	v.SetDefault("batch.attempt_timeout_secs", 30)
	v.SetDefault("batch.max_backoff_secs", 30)
	v.SetDefault("circuit.failure_threshold", 10)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("cache.sweep_every", 100)
	v.SetDefault("cache.janitor_interval_secs", 60)
	v.SetDefault("recovery.driver", "sqlite")
	v.SetDefault("recovery.path", ".enrich/snapshots.db")
	v.SetDefault("recovery.database_url", "")
	v.SetDefault("recovery.dataset", "current")
	v.SetDefault("recovery.retention_hours", 24)
	v.SetDefault("sink.output_dir", "output")
	v.SetDefault("sink.s3.bucket", "")
	v.SetDefault("sink.s3.prefix", "enriched")
	v.SetDefault("sink.s3.region", "us-east-1")
	v.SetDefault("sink.postgres.database_url", "")
	v.SetDefault("sink.postgres.table", "listing_results")
	v.SetDefault("server.addr", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that at least one geocoder is usable and that the
// selected recovery and AI settings are complete.
func (c *Config) Validate() error {
	var problems []string

	usable := 0
	for _, name := range c.Geocode.Order {
		p, ok := c.Geocode.Provider(name)
		if !ok {
			problems = append(problems, "geocode.order: unknown provider "+name)
			continue
		}
		if p.Key != "" {
			usable++
		}
	}
	if usable == 0 {
		problems = append(problems, "geocode: no provider in geocode.order has a key")
	}

	if c.AI.Enabled {
		switch c.AI.Provider {
		case "anthropic":
			if c.AI.Anthropic.Key == "" {
				problems = append(problems, "ai.anthropic.key is required when ai.provider=anthropic")
			}
		case "perplexity":
			if c.AI.Perplexity.Key == "" {
				problems = append(problems, "ai.perplexity.key is required when ai.provider=perplexity")
			}
		default:
			problems = append(problems, "ai.provider must be anthropic or perplexity")
		}
	}

	switch c.Recovery.Driver {
	case "file", "sqlite":
		if c.Recovery.Path == "" {
			problems = append(problems, "recovery.path is required for driver "+c.Recovery.Driver)
		}
	case "postgres":
		if c.Recovery.DatabaseURL == "" {
			problems = append(problems, "recovery.database_url is required for driver postgres")
		}
	default:
		problems = append(problems, "recovery.driver must be file, sqlite or postgres")
	}

	switch strings.ToLower(c.Batch.Cache) {
	case "", "on", "off", "true", "false":
	default:
		problems = append(problems, "batch.cache must be on or off")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Provider returns the settings for a geocoder by name.
func (g GeocodeConfig) Provider(name string) (ProviderConfig, bool) {
	switch name {
	case "mapbox":
		return g.Mapbox, true
	case "geocodio":
		return g.Geocodio, true
	case "google":
		return g.Google, true
	}
	return ProviderConfig{}, false
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
