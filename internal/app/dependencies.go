package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/presale-api/internal/config"
	"github.com/noah-isme/presale-api/internal/db"
	"github.com/noah-isme/presale-api/internal/events"
	"github.com/noah-isme/presale-api/internal/lock"
	"github.com/noah-isme/presale-api/internal/obs"
	"github.com/noah-isme/presale-api/internal/resilience"
)

// Dependencies enumerates the infrastructure shared by the API and the worker.
type Dependencies struct {
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Events *events.Bus
	Locker lock.Locker
	amqp   *events.Connection
}

// Options toggles optional instrumentation.
type Options struct {
	Component    string
	RedisMetrics bool
}

// Open connects to Postgres and Redis, applies migrations when configured and
// builds the event bus. Call Close when done.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	if cfg.AutoMigrate {
		if err := db.Up(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("migrations applied")
	}

	pool, err := OpenDatabase(ctx, cfg, opts.Component)
	if err != nil {
		return nil, err
	}
	rdb, err := OpenRedis(ctx, cfg.RedisURL, logger, opts.RedisMetrics)
	if err != nil {
		pool.Close()
		return nil, err
	}

	deps := &Dependencies{
		DB:     pool,
		Redis:  rdb,
		Locker: lock.Locker{R: rdb, RenewEvery: cfg.LockRenewEvery},
	}
	deps.Events, deps.amqp = NewEventBus(pool, cfg, logger)
	return deps, nil
}

// Close releases every connection held by d.
func (d *Dependencies) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.amqp != nil {
		errs = append(errs, d.amqp.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.DB != nil {
		d.DB.Close()
	}
	return errors.Join(errs...)
}

// OpenDatabase builds a traced pgx pool and verifies connectivity.
func OpenDatabase(ctx context.Context, cfg *config.Config, component string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if component != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = "presale-" + component
	}
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis parses url, instruments the client and verifies connectivity.
func OpenRedis(ctx context.Context, url string, logger zerolog.Logger, metrics bool) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewEventBus persists events to Postgres, logs them, and forwards them to
// RabbitMQ when AMQP_URL is set. A broker that cannot be reached at startup
// is logged and skipped.
func NewEventBus(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger) (*events.Bus, *events.Connection) {
	bus := &events.Bus{
		Store:     events.NewPGStore(pool),
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}},
	}
	if cfg.AMQPURL == "" {
		return bus, nil
	}
	conn, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		logger.Warn().Err(err).Msg("amqp unavailable; events will not be forwarded")
		return bus, nil
	}
	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget("amqp").
		WithLogger(logger)
	bus.Notifiers = append(bus.Notifiers, &events.AMQPNotifier{
		Publisher: conn.Channel,
		Exchange:  cfg.AMQPExchange,
		Breaker:   breaker,
	})
	return bus, conn
}

// RedisConnOpt adapts REDIS_URL for asynq clients, servers and schedulers.
func RedisConnOpt(url string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url for asynq: %w", err)
	}
	return opt, nil
}
