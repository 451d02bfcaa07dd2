package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"token-forensics/internal/domain"
)

const envPrefix = "FORENSICS_"

// applyEnv overrides cfg with FORENSICS_* variables. Malformed values are
// reported as ConfigurationError rather than ignored.
func applyEnv(cfg *Config) error {
	var errs []error
	durations := map[string]*time.Duration{
		"BUCKET_RESOLUTION":  &cfg.BucketResolution,
		"FETCH_TIMEOUT":      &cfg.FetchTimeout,
		"RETRY_BACKOFF_BASE": &cfg.RetryBackoffBase,
		"RETRY_BACKOFF_MAX":  &cfg.RetryBackoffMax,
		"CACHE_TTL":          &cfg.Cache.TTL,

		"POSTGRES_CONN_LIFETIME": &cfg.Storage.PostgresConnLifetime,
	}
	for key, dst := range durations {
		if err := envDuration(key, dst); err != nil {
			errs = append(errs, err)
		}
	}
	ints := map[string]*int{
		"MAX_RETRIES": &cfg.MaxRetries,
		"PARALLELISM": &cfg.Parallelism,

		"POSTGRES_MAX_CONNS": &cfg.Storage.PostgresMaxConns,
	}
	for key, dst := range ints {
		if err := envInt(key, dst); err != nil {
			errs = append(errs, err)
		}
	}
	if err := envBool("USE_MEMORY", &cfg.Storage.UseMemory); err != nil {
		errs = append(errs, err)
	}

	envString("POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	envString("CLICKHOUSE_DSN", &cfg.Storage.ClickhouseDSN)
	envString("REDIS_ADDR", &cfg.Cache.RedisAddr)
	envString("LOG_LEVEL", &cfg.Log.Level)
	envString("LOG_FORMAT", &cfg.Log.Format)
	envString("METRICS_ADDR", &cfg.MetricsAddr)

	if v, ok := lookup("SOURCE_PRECEDENCE"); ok {
		var order []domain.SourceID
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				order = append(order, domain.SourceID(part))
			}
		}
		cfg.SourcePrecedence = order
	}

	// Secrets and endpoints per adapter, e.g. FORENSICS_COINGECKO_API_KEY.
	for _, name := range KnownSources {
		sc := cfg.Sources[name]
		changed := false
		upper := strings.ToUpper(name)
		if v, ok := lookup(upper + "_API_KEY"); ok {
			sc.APIKey, changed = v, true
		}
		if v, ok := lookup(upper + "_BASE_URL"); ok {
			sc.BaseURL, changed = v, true
		}
		if v, ok := lookup(upper + "_ENABLED"); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, invalid(envPrefix+upper+"_ENABLED", "not a boolean: %q", v))
			} else {
				sc.Enabled, changed = b, true
			}
		}
		if changed {
			cfg.Sources[name] = sc
		}
	}

	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func envString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return invalid(envPrefix+key, "not a duration: %q", v)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return invalid(envPrefix+key, "not an integer: %q", v)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return invalid(envPrefix+key, "not a boolean: %q", v)
	}
	*dst = b
	return nil
}
