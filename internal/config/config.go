package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	MigrateOnStart     bool

	ProductCacheTTL time.Duration
	EvaluateTimeout time.Duration

	CatalogBreakerMinRequests   int
	CatalogBreakerFailureRatio  float64
	CatalogBreakerOpenFor       time.Duration
	CatalogBreakerHalfOpenProbe int

	EvaluateRateLimitMax    int
	EvaluateRateLimitWindow time.Duration

	RedeemIdempotencyTTL time.Duration
	HSTSMaxAge           int

	Obs ObsConfig
}

// ObsConfig groups logging, metrics and tracing settings.
type ObsConfig struct {
	LogFormat         string
	LogLevel          string
	MetricsNamespace  string
	MetricsBucketsMS  string
	EnablePrometheus  bool
	EnableTracing     bool
	TracingExporter   string
	OTLPEndpoint      string
	TracingSampling   float64
	ReadyDBTimeout    time.Duration
	ReadyRedisTimeout time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START"), false),

		ProductCacheTTL: parseDuration(k.String("PRODUCT_CACHE_TTL"), "5m"),
		EvaluateTimeout: parseDuration(k.String("EVALUATE_TIMEOUT"), "2s"),

		CatalogBreakerMinRequests:   parseInt(k.String("CATALOG_BREAKER_MIN_REQUESTS"), 20),
		CatalogBreakerFailureRatio:  parseFloat(k.String("CATALOG_BREAKER_FAILURE_RATIO"), 0.5),
		CatalogBreakerOpenFor:       parseDuration(k.String("CATALOG_BREAKER_OPEN_FOR"), "30s"),
		CatalogBreakerHalfOpenProbe: parseInt(k.String("CATALOG_BREAKER_HALF_OPEN_PROBES"), 1),

		EvaluateRateLimitMax:    parseInt(k.String("EVALUATE_RATE_LIMIT_MAX"), 120),
		EvaluateRateLimitWindow: parseDuration(k.String("EVALUATE_RATE_LIMIT_WINDOW"), "1m"),

		RedeemIdempotencyTTL: parseDuration(k.String("REDEEM_IDEMPOTENCY_TTL"), "24h"),
		HSTSMaxAge:           parseInt(k.String("SECURITY_HSTS_MAX_AGE"), 31536000),

		Obs: ObsConfig{
			LogFormat:         valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:          valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace:  valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "promo"),
			MetricsBucketsMS:  k.String("OBS_METRICS_BUCKETS_MS"),
			EnablePrometheus:  parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:     parseBool(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:   valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:      strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			TracingSampling:   parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
			ReadyDBTimeout:    parseDuration(k.String("HEALTH_READY_DB_TIMEOUT"), "500ms"),
			ReadyRedisTimeout: parseDuration(k.String("HEALTH_READY_REDIS_TIMEOUT"), "300ms"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.CatalogBreakerFailureRatio <= 0 || cfg.CatalogBreakerFailureRatio > 1 {
		return nil, fmt.Errorf("CATALOG_BREAKER_FAILURE_RATIO must be in (0,1], got %v", cfg.CatalogBreakerFailureRatio)
	}
	if cfg.EvaluateRateLimitMax < 0 {
		return nil, errors.New("EVALUATE_RATE_LIMIT_MAX must not be negative")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// AllowedOrigins falls back to any origin when none are configured.
func (c *Config) AllowedOrigins() []string {
	if len(c.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return c.CORSAllowedOrigins
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]*string) error {
	var errs []string
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
