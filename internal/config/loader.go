package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "sitekeeper.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SITEKEEPER_PORT")
	setString(&cfg.Server.CORSOrigin, "SITEKEEPER_CORS_ORIGIN")
	setBool(&cfg.Server.TrustForwardedHost, "SITEKEEPER_TRUST_FORWARDED_HOST")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SITEKEEPER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SITEKEEPER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SITEKEEPER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SITEKEEPER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SITEKEEPER_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "SITEKEEPER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SITEKEEPER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SITEKEEPER_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "SITEKEEPER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SITEKEEPER_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "SITEKEEPER_RATE_RPS")
	setInt(&cfg.Rate.Burst, "SITEKEEPER_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "SITEKEEPER_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "SITEKEEPER_RATE_MAX_IDLE_TIME")

	// Tenant
	setString(&cfg.Tenant.Header, "SITEKEEPER_TENANT_HEADER")
	setDuration(&cfg.Tenant.RefreshInterval, "SITEKEEPER_TENANT_REFRESH_INTERVAL")
	setBool(&cfg.Tenant.StrictInserts, "SITEKEEPER_TENANT_STRICT_INSERTS")

	// Reconciler
	setDuration(&cfg.Reconciler.SyncInterval, "SITEKEEPER_SYNC_INTERVAL")
	setInt(&cfg.Reconciler.SyncBatchSize, "SITEKEEPER_SYNC_BATCH_SIZE")
	setInt(&cfg.Reconciler.SyncConcurrency, "SITEKEEPER_SYNC_CONCURRENCY")
	setDuration(&cfg.Reconciler.TimeoutInterval, "SITEKEEPER_TIMEOUT_INTERVAL")
	setDuration(&cfg.Reconciler.TimeoutThreshold, "SITEKEEPER_TIMEOUT_THRESHOLD")
	setInt(&cfg.Reconciler.TimeoutBatchSize, "SITEKEEPER_TIMEOUT_BATCH_SIZE")
	setInt(&cfg.Reconciler.TimeoutConcurrency, "SITEKEEPER_TIMEOUT_CONCURRENCY")
	setDuration(&cfg.Reconciler.StatusTimeout, "SITEKEEPER_STATUS_TIMEOUT")

	// Provider
	setString(&cfg.Provider.Name, "SITEKEEPER_PROVIDER_NAME")
	setString(&cfg.Provider.URL, "SITEKEEPER_PROVIDER_URL")
	setString(&cfg.Provider.APIKey, "SITEKEEPER_PROVIDER_API_KEY")
	setString(&cfg.Provider.KeyFile, "SITEKEEPER_PROVIDER_KEY_FILE")
	setDuration(&cfg.Provider.Timeout, "SITEKEEPER_PROVIDER_TIMEOUT")
	setInt64(&cfg.Provider.Cost, "SITEKEEPER_PROVIDER_COST")
	setInt(&cfg.Provider.MaxConcurrent, "SITEKEEPER_PROVIDER_MAX_CONCURRENT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "SITEKEEPER_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "SITEKEEPER_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "SITEKEEPER_CACHE_L2_TTL")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "SITEKEEPER_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "SITEKEEPER_IDEMPOTENCY_TTL")

	// Login
	setInt(&cfg.Login.MaxAttempts, "SITEKEEPER_LOGIN_MAX_ATTEMPTS")
	setDuration(&cfg.Login.Lockout, "SITEKEEPER_LOGIN_LOCKOUT")
	setDuration(&cfg.Login.CleanupInterval, "SITEKEEPER_LOGIN_CLEANUP_INTERVAL")

	// OpenTelemetry
	setBool(&cfg.Otel.Enabled, "SITEKEEPER_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "SITEKEEPER_OTEL_ENDPOINT")
	setString(&cfg.Otel.ServiceName, "SITEKEEPER_OTEL_SERVICE_NAME")
	setBool(&cfg.Otel.Insecure, "SITEKEEPER_OTEL_INSECURE")
	setFloat64(&cfg.Otel.SampleRate, "SITEKEEPER_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Tenant.Header == "" {
		return errors.New("tenant.header is required")
	}
	if cfg.Reconciler.SyncInterval <= 0 || cfg.Reconciler.TimeoutInterval <= 0 {
		return errors.New("reconciler intervals must be > 0")
	}
	if cfg.Reconciler.SyncBatchSize < 1 || cfg.Reconciler.TimeoutBatchSize < 1 {
		return errors.New("reconciler batch sizes must be >= 1")
	}
	if cfg.Reconciler.SyncConcurrency < 1 {
		return errors.New("reconciler.sync_concurrency must be >= 1")
	}
	if cfg.Reconciler.TimeoutConcurrency < 1 {
		return errors.New("reconciler.timeout_concurrency must be >= 1")
	}
	if cfg.Reconciler.TimeoutThreshold <= 0 {
		return errors.New("reconciler.timeout_threshold must be > 0")
	}
	if cfg.Login.MaxAttempts < 1 {
		return errors.New("login.max_attempts must be >= 1")
	}
	if cfg.Provider.Cost < 0 {
		return errors.New("provider.cost must not be negative")
	}
	if cfg.Provider.MaxConcurrent < 1 {
		return errors.New("provider.max_concurrent must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
