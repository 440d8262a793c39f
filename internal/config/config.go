// Package config reads the service settings from the environment (and an
// optional .env file) through koanf.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds every setting shared by the API, the worker and the tools.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	AutoMigrate        bool
	DBMaxConns         int
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string

	StoreHeader    string
	DefaultStoreID string

	DefaultMarkup  float64
	ItemCacheTTL   time.Duration
	CASMaxAttempts int
	IdempotencyTTL time.Duration
	RateLimitWrite string
	BodyLimitBytes int64
	AuditEnabled   bool

	OverdueSweepSpec  string
	LockTTL           time.Duration
	LockRenewEvery    time.Duration
	WorkerConcurrency int

	AMQPURL             string
	AMQPExchange        string
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
}

// defaults apply to unset or blank variables.
var defaults = map[string]any{
	"APP_ENV":                    "development",
	"PORT":                       "8080",
	"DB_AUTO_MIGRATE":            false,
	"DB_MAX_CONNS":               10,
	"STORE_HEADER":               "X-Store-ID",
	"DEFAULT_STORE_ID":           "default",
	"PRESALE_DEFAULT_MARKUP":     15.0,
	"PRESALE_CACHE_TTL":          "2m",
	"CAS_MAX_ATTEMPTS":           3,
	"IDEMPOTENCY_TTL":            "24h",
	"RATE_LIMIT_WRITES":          "120-M",
	"BODY_LIMIT_BYTES":           1 << 20,
	"AUDIT_ENABLED":              true,
	"OVERDUE_SWEEP_SPEC":         "@every 1h",
	"LOCK_TTL":                   "10m",
	"LOCK_RENEW_EVERY":           "0s",
	"WORKER_CONCURRENCY":         4,
	"AMQP_EXCHANGE":              "presale.events",
	"CIRCUIT_AMQP_MIN_REQUESTS":  5,
	"CIRCUIT_AMQP_FAILURE_RATIO": 0.5,
	"CIRCUIT_AMQP_OPEN_FOR":      "30s",
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("config default %s: %w", key, err)
		}
	}
	nonBlank := func(key, value string) (string, any) {
		value = strings.TrimSpace(value)
		if value == "" {
			return "", nil
		}
		return key, value
	}
	if err := k.Load(env.ProviderWithValue("", ".", nonBlank), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             k.String("APP_ENV"),
		Port:               k.String("PORT"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		AutoMigrate:        k.Bool("DB_AUTO_MIGRATE"),
		DBMaxConns:         k.Int("DB_MAX_CONNS"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          k.String("JWT_ISSUER"),
		JWTAudience:        k.String("JWT_AUDIENCE"),
		CORSAllowedOrigins: splitList(k.String("CORS_ALLOWED_ORIGINS")),

		StoreHeader:    k.String("STORE_HEADER"),
		DefaultStoreID: k.String("DEFAULT_STORE_ID"),

		DefaultMarkup:  k.Float64("PRESALE_DEFAULT_MARKUP"),
		ItemCacheTTL:   k.Duration("PRESALE_CACHE_TTL"),
		CASMaxAttempts: max(k.Int("CAS_MAX_ATTEMPTS"), 1),
		IdempotencyTTL: k.Duration("IDEMPOTENCY_TTL"),
		RateLimitWrite: k.String("RATE_LIMIT_WRITES"),
		BodyLimitBytes: k.Int64("BODY_LIMIT_BYTES"),
		AuditEnabled:   k.Bool("AUDIT_ENABLED"),

		OverdueSweepSpec:  k.String("OVERDUE_SWEEP_SPEC"),
		LockTTL:           k.Duration("LOCK_TTL"),
		LockRenewEvery:    k.Duration("LOCK_RENEW_EVERY"),
		WorkerConcurrency: max(k.Int("WORKER_CONCURRENCY"), 1),

		AMQPURL:             k.String("AMQP_URL"),
		AMQPExchange:        k.String("AMQP_EXCHANGE"),
		BreakerMinRequests:  k.Int("CIRCUIT_AMQP_MIN_REQUESTS"),
		BreakerFailureRatio: k.Float64("CIRCUIT_AMQP_FAILURE_RATIO"),
		BreakerOpenFor:      k.Duration("CIRCUIT_AMQP_OPEN_FOR"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("LOCK_TTL must be a positive duration"))
	}
	if c.BodyLimitBytes <= 0 {
		errs = append(errs, errors.New("BODY_LIMIT_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

// HTTPAddr is the listen address derived from PORT.
func (c *Config) HTTPAddr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// IsProduction reports APP_ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// MustLoad is Load for command entrypoints; it panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
