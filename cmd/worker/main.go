package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/presale-api/internal/app"
	"github.com/noah-isme/presale-api/internal/config"
	"github.com/noah-isme/presale-api/internal/delivery"
	"github.com/noah-isme/presale-api/internal/jobs"
	"github.com/noah-isme/presale-api/internal/obs"
	"github.com/noah-isme/presale-api/internal/paymentplan"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(envOrDefault("OBS_LOG_FORMAT", "json"), envOrDefault("OBS_LOG_LEVEL", "info")).
		With().Str("env", cfg.AppEnv).Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "presale"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	deps, err := app.Open(startCtx, cfg, logger, app.Options{Component: "worker"})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	plans, err := paymentplan.NewService(paymentplan.ServiceConfig{
		Store:          paymentplan.NewStore(deps.DB),
		Deliveries:     delivery.NewService(delivery.NewStore(deps.DB), cfg.DefaultStoreID),
		Events:         deps.Events,
		Locker:         deps.Locker,
		LockTTL:        cfg.LockTTL,
		DefaultStoreID: cfg.DefaultStoreID,
		MaxAttempts:    cfg.CASMaxAttempts,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise payment plan service")
	}

	redisOpt, err := app.RedisConnOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure task queue")
	}
	taskLogger := jobs.Logger{L: logger}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Logger:          taskLogger,
		ShutdownTimeout: 30 * time.Second,
	})
	mux := jobs.NewServeMux(jobs.OverdueSweepHandler{Sweeper: plans, Logger: logger})
	if err := server.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: taskLogger, Location: time.UTC})
	entryID, err := jobs.RegisterOverdueSweep(scheduler, cfg.OverdueSweepSpec, "")
	if err != nil {
		logger.Fatal().Err(err).Msg("schedule overdue sweep")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}

	// catch up on anything that went overdue while no worker was running
	client := asynq.NewClient(redisOpt)
	if task, err := jobs.NewOverdueSweepTask("", cfg.LockTTL); err == nil {
		if _, err := client.EnqueueContext(ctx, task); err != nil {
			logger.Warn().Err(err).Msg("enqueue startup overdue sweep")
		}
	}
	_ = client.Close()

	logger.Info().Str("overdue_sweep", cfg.OverdueSweepSpec).Str("entry_id", entryID).Msg("worker started")
	<-ctx.Done()

	logger.Info().Msg("worker stopping")
	scheduler.Shutdown()
	server.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
