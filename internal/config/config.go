// Package config loads the forensics configuration from YAML, .env and
// FORENSICS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"token-forensics/internal/domain"
)

// Adapter kinds recognized under the sources section.
const (
	SourceCoinGecko   = "coingecko"
	SourceDEXScreener = "dexscreener"
	SourceEVM         = "evm"
	SourceSolana      = "solana"
	SourceEventLog    = "eventlog"
)

// KnownSources lists the adapter kinds in registration order.
var KnownSources = []string{SourceEVM, SourceSolana, SourceDEXScreener, SourceCoinGecko, SourceEventLog}

// Config is the full configuration surface.
type Config struct {
	BucketResolution time.Duration     `yaml:"bucket_resolution"`
	SourcePrecedence []domain.SourceID `yaml:"source_precedence"`
	FetchTimeout     time.Duration     `yaml:"fetch_timeout"`
	MaxRetries       int               `yaml:"max_retries"`
	RetryBackoffBase time.Duration     `yaml:"retry_backoff_base"`
	RetryBackoffMax  time.Duration     `yaml:"retry_backoff_max"`
	Parallelism      int               `yaml:"parallelism"` // 0 = one worker per adapter

	Rules   Rules                   `yaml:"rules"`
	Sources map[string]SourceConfig `yaml:"sources"`
	Storage StorageConfig           `yaml:"storage"`
	Cache   CacheConfig             `yaml:"cache"`
	Log     LogConfig               `yaml:"log"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// SourceConfig is the per-adapter configuration bag.
type SourceConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
	PageSize       int           `yaml:"page_size"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// evm
	TopHolders         int      `yaml:"top_holders"`
	LargeTransferShare float64  `yaml:"large_transfer_share"`
	PairAddresses      []string `yaml:"pair_addresses"`

	// eventlog
	File string `yaml:"file"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	UseMemory     bool   `yaml:"use_memory"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	// Pool tuning; zero keeps the pgxpool defaults.
	PostgresMaxConns     int           `yaml:"postgres_max_conns"`
	PostgresConnLifetime time.Duration `yaml:"postgres_conn_lifetime"`
}

// CacheConfig configures the adapter response cache.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"` // empty = in-process cache
	TTL       time.Duration `yaml:"ttl"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	return &Config{
		BucketResolution: 24 * time.Hour,
		SourcePrecedence: append([]domain.SourceID(nil), domain.DefaultPrecedence...),
		FetchTimeout:     2 * time.Minute,
		MaxRetries:       3,
		RetryBackoffBase: 500 * time.Millisecond,
		RetryBackoffMax:  30 * time.Second,
		Rules:            DefaultRules(),
		Sources:          map[string]SourceConfig{},
		Storage:          StorageConfig{UseMemory: true},
		Cache:            CacheConfig{TTL: 10 * time.Minute},
		Log:              LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then .env and FORENSICS_* environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	// Missing .env is not an error.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML onto cfg, keeping values the document does not set.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Sources == nil {
		cfg.Sources = map[string]SourceConfig{}
	}
	return nil
}

// Source returns the configuration of an adapter kind with defaults applied.
func (c *Config) Source(name string) SourceConfig {
	sc := c.Sources[name]
	if sc.RateLimitDelay == 0 {
		sc.RateLimitDelay = time.Second
	}
	if sc.CacheTTL == 0 {
		sc.CacheTTL = c.Cache.TTL
	}
	if sc.RequestTimeout == 0 {
		sc.RequestTimeout = 30 * time.Second
	}
	return sc
}

// EnabledSources returns enabled adapter kinds in registration order.
func (c *Config) EnabledSources() []string {
	var out []string
	for _, name := range KnownSources {
		if c.Sources[name].Enabled {
			out = append(out, name)
		}
	}
	return out
}

// ResolutionMs returns the bucket resolution in milliseconds.
func (c *Config) ResolutionMs() int64 {
	return c.BucketResolution.Milliseconds()
}

// ConfigurationError is a fatal configuration mistake detected before any fetch.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every field and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error

	if c.BucketResolution < time.Millisecond {
		errs = append(errs, invalid("bucket_resolution", "must be at least 1ms, got %s", c.BucketResolution))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, invalid("fetch_timeout", "must be positive"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, invalid("max_retries", "must be at least 1, got %d", c.MaxRetries))
	}
	if c.RetryBackoffBase <= 0 {
		errs = append(errs, invalid("retry_backoff_base", "must be positive"))
	}
	if c.RetryBackoffMax < c.RetryBackoffBase {
		errs = append(errs, invalid("retry_backoff_max", "must not be below retry_backoff_base"))
	}
	if c.Parallelism < 0 {
		errs = append(errs, invalid("parallelism", "must not be negative"))
	}
	errs = append(errs, validatePrecedence(c.SourcePrecedence)...)
	errs = append(errs, c.Rules.Validate()...)

	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sc := c.Sources[name]
		field := "sources." + name
		if !isKnownSource(name) {
			errs = append(errs, invalid(field, "unknown source kind"))
			continue
		}
		if sc.RateLimitDelay < 0 {
			errs = append(errs, invalid(field+".rate_limit_delay", "must not be negative"))
		}
		if sc.PageSize < 0 {
			errs = append(errs, invalid(field+".page_size", "must not be negative"))
		}
		if sc.LargeTransferShare < 0 || sc.LargeTransferShare > 1 {
			errs = append(errs, invalid(field+".large_transfer_share", "must be within [0, 1]"))
		}
		if sc.Enabled && name == SourceEventLog && sc.File == "" {
			errs = append(errs, invalid(field+".file", "required when enabled"))
		}
	}

	if !c.Storage.UseMemory && c.Storage.PostgresDSN == "" {
		errs = append(errs, invalid("storage.postgres_dsn", "required unless use_memory is set"))
	}
	if c.Storage.PostgresMaxConns < 0 {
		errs = append(errs, invalid("storage.postgres_max_conns", "must not be negative"))
	}
	if c.Storage.PostgresConnLifetime < 0 {
		errs = append(errs, invalid("storage.postgres_conn_lifetime", "must not be negative"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, invalid("log.level", "unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, invalid("log.format", "unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func validatePrecedence(order []domain.SourceID) []error {
	if len(order) == 0 {
		return []error{invalid("source_precedence", "must list at least one source")}
	}
	var errs []error
	seen := make(map[domain.SourceID]bool, len(order))
	for _, id := range order {
		if !id.IsKnown() {
			errs = append(errs, invalid("source_precedence", "unknown source %q", id))
		}
		if seen[id] {
			errs = append(errs, invalid("source_precedence", "duplicate source %q", id))
		}
		seen[id] = true
	}
	return errs
}

func isKnownSource(name string) bool {
	for _, k := range KnownSources {
		if k == name {
			return true
		}
	}
	return false
}
