package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/presale-api/internal/audit"
	"github.com/noah-isme/presale-api/internal/auth"
	"github.com/noah-isme/presale-api/internal/common"
	"github.com/noah-isme/presale-api/internal/config"
	"github.com/noah-isme/presale-api/internal/delivery"
	"github.com/noah-isme/presale-api/internal/health"
	"github.com/noah-isme/presale-api/internal/obs"
	"github.com/noah-isme/presale-api/internal/paymentplan"
	"github.com/noah-isme/presale-api/internal/presale"
	"github.com/noah-isme/presale-api/internal/ratelimit"
	"github.com/noah-isme/presale-api/internal/report"
	"github.com/noah-isme/presale-api/internal/security"
	"github.com/noah-isme/presale-api/internal/tenant"
)

type routerDeps struct {
	cfg            *config.Config
	logger         zerolog.Logger
	metricsEnabled bool
	tracingEnabled bool
	metricsNS      string
	verifier       *auth.Verifier
	writeLimiter   *limiter.Limiter
	redis          *redis.Client
	items          *presale.Service
	plans          *paymentplan.Service
	deliveries     *delivery.Service
	auditStore     audit.Store
	health         *health.Handler
}

func newRouter(d routerDeps) http.Handler {
	cfg := d.cfg

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if d.metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(d.metricsNS, buckets, nil)}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID", cfg.StoreHeader},
		ExposedHeaders:   []string{"Content-Disposition", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: len(cfg.CORSAllowedOrigins) > 0,
		MaxAge:           300,
	}))
	var hsts time.Duration
	if cfg.IsProduction() {
		hsts = 365 * 24 * time.Hour
	}
	r.Use(security.Headers{HSTS: hsts}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if d.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", d.health.Live)
	r.Get("/health/ready", d.health.Ready)

	authn := auth.Middleware{Verifier: d.verifier}
	requireAuth := func(next http.Handler) http.Handler { return next }
	admin := []func(http.Handler) http.Handler{}
	if d.verifier != nil {
		requireAuth = authn.RequireAuth
		admin = append(admin, auth.RequireRole("admin"))
	}

	writes := []func(http.Handler) http.Handler{}
	if d.writeLimiter != nil {
		writes = append(writes, ratelimit.Handler{
			Limiter: d.writeLimiter,
			OnError: func(err error) { d.logger.Warn().Err(err).Msg("rate limit store error") },
		}.Middleware)
	}
	writes = append(writes, common.Idem{R: d.redis, TTL: cfg.IdempotencyTTL, Scope: ratelimit.ClientKey}.Middleware)
	writes = append(writes, audit.Recorder{
		Store:   d.auditStore,
		Enabled: cfg.AuditEnabled,
		OnError: func(err error) { d.logger.Warn().Err(err).Msg("audit record failed") },
	}.Middleware)

	r.Route("/api/v1/presale", func(v chi.Router) {
		v.Use(tenant.NewResolver(cfg.StoreHeader, cfg.DefaultStoreID).Middleware)
		v.Use(requireAuth)

		presale.NewHandler(d.items).Routes(v, writes...)
		paymentplan.NewHandler(d.plans, report.NewXLSX()).Routes(v, paymentplan.Middlewares{
			Writes: writes,
			Admin:  admin,
		})
		v.Get("/deliveries/{id}/presale", delivery.NewHandler(d.deliveries).Presale)
		v.With(admin...).Get("/audit", audit.Handler{Store: d.auditStore, DefaultStoreID: cfg.DefaultStoreID}.List)
	})
	return r
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
