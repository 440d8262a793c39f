package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/presale-api/internal/app"
	"github.com/noah-isme/presale-api/internal/audit"
	"github.com/noah-isme/presale-api/internal/auth"
	"github.com/noah-isme/presale-api/internal/config"
	"github.com/noah-isme/presale-api/internal/delivery"
	"github.com/noah-isme/presale-api/internal/health"
	"github.com/noah-isme/presale-api/internal/obs"
	"github.com/noah-isme/presale-api/internal/paymentplan"
	"github.com/noah-isme/presale-api/internal/presale"
	"github.com/noah-isme/presale-api/internal/ratelimit"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(envOrDefault("OBS_LOG_FORMAT", "json"), envOrDefault("OBS_LOG_LEVEL", "info")).
		With().Str("env", cfg.AppEnv).Str("component", "api").Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "presale")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", false)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "presale-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	deps, err := app.Open(startCtx, cfg, logger, app.Options{Component: "api", RedisMetrics: metricsEnabled})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	verifier, err := newVerifier(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth")
	}

	writeLimiter, err := newWriteLimiter(deps, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	deliveries := delivery.NewService(delivery.NewStore(deps.DB), cfg.DefaultStoreID)

	defaultMarkup := cfg.DefaultMarkup
	items, err := presale.NewService(presale.ServiceConfig{
		Store:          presale.NewStore(deps.DB),
		Cache:          presale.NewCache(deps.Redis, cfg.ItemCacheTTL),
		Deliveries:     deliveries,
		Events:         deps.Events,
		DefaultStoreID: cfg.DefaultStoreID,
		DefaultMarkup:  &defaultMarkup,
		MaxAttempts:    cfg.CASMaxAttempts,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise presale service")
	}

	plans, err := paymentplan.NewService(paymentplan.ServiceConfig{
		Store:          paymentplan.NewStore(deps.DB),
		Deliveries:     deliveries,
		Events:         deps.Events,
		Locker:         deps.Locker,
		LockTTL:        cfg.LockTTL,
		DefaultStoreID: cfg.DefaultStoreID,
		MaxAttempts:    cfg.CASMaxAttempts,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise payment plan service")
	}

	probes := health.New(
		health.Postgres(deps.DB, envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500)),
		health.Redis(deps.Redis, envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300)),
	)

	handler := newRouter(routerDeps{
		cfg:            cfg,
		logger:         logger,
		metricsEnabled: metricsEnabled,
		tracingEnabled: tracingEnabled,
		metricsNS:      metricsNamespace,
		verifier:       verifier,
		writeLimiter:   writeLimiter,
		redis:          deps.Redis,
		items:          items,
		plans:          plans,
		deliveries:     deliveries,
		auditStore:     audit.NewPGStore(deps.DB),
		health:         probes,
	})
	if tracingEnabled {
		handler = otelhttp.NewHandler(handler, "presale-api")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		probes.Drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func newVerifier(cfg *config.Config, logger zerolog.Logger) (*auth.Verifier, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		if cfg.IsProduction() {
			return nil, errors.New("JWT_SECRET is required in production")
		}
		logger.Warn().Msg("JWT_SECRET not set; authentication disabled")
		return nil, nil
	}
	return auth.NewVerifier(auth.VerifierConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
}

func newWriteLimiter(deps *app.Dependencies, cfg *config.Config) (*limiter.Limiter, error) {
	if strings.TrimSpace(cfg.RateLimitWrite) == "" {
		return nil, nil
	}
	store, err := ratelimit.NewStore(deps.Redis, "ratelimit:writes")
	if err != nil {
		return nil, err
	}
	return ratelimit.New(store, cfg.RateLimitWrite)
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return time.Duration(fallback) * time.Millisecond
}
