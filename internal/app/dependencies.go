package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-promo/internal/catalog"
	"github.com/noah-isme/backend-promo/internal/common"
	"github.com/noah-isme/backend-promo/internal/config"
	"github.com/noah-isme/backend-promo/internal/obs"
	"github.com/noah-isme/backend-promo/internal/promotion"
	"github.com/noah-isme/backend-promo/internal/ratelimit"
	"github.com/noah-isme/backend-promo/internal/resilience"
	"github.com/noah-isme/backend-promo/internal/usage"
)

// Dependencies enumerates the services shared by the HTTP surface.
type Dependencies struct {
	DB          *pgxpool.Pool
	Redis       redis.UniversalClient
	Promotions  *promotion.Handler
	Limiter     ratelimit.Limiter
	Fallback    ratelimit.Limiter
	Idempotency common.Idem
	HTTPMetrics *obs.HTTPMetrics
	Logger      zerolog.Logger
}

// Connect opens the database and optional Redis connections and builds the
// promotion services on top of them.
func Connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps := &Dependencies{DB: pool, Logger: logger}

	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		deps.Redis = rdb
	}

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Target:         "catalog",
		MinRequests:    cfg.CatalogBreakerMinRequests,
		FailureRatio:   cfg.CatalogBreakerFailureRatio,
		OpenFor:        cfg.CatalogBreakerOpenFor,
		HalfOpenProbes: cfg.CatalogBreakerHalfOpenProbe,
		Logger:         &logger,
	})
	store, err := catalog.NewStore(catalog.StoreConfig{
		DB:      pool,
		Cache:   catalog.NewCache(deps.Redis, cfg.ProductCacheTTL),
		Breaker: breaker,
		Logger:  &logger,
	})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("catalog store: %w", err)
	}
	engine, err := promotion.NewEngine(promotion.EngineConfig{
		Rules:    store,
		Prices:   store,
		Products: store,
		Logger:   &logger,
	})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("promotion engine: %w", err)
	}
	deps.Promotions = &promotion.Handler{
		Engine:          engine,
		Usage:           &usage.Service{DB: pool, Logger: logger.With().Str("component", "usage").Logger()},
		EvaluateTimeout: cfg.EvaluateTimeout,
		Logger:          logger,
	}

	deps.Idempotency = common.Idem{R: deps.Redis, TTL: cfg.RedeemIdempotencyTTL, Prefix: "promo:idem:"}
	deps.Fallback = ratelimit.NewMemoryLimiter("promo:rl:")
	if deps.Redis != nil {
		deps.Limiter = ratelimit.RedisLimiter{Client: deps.Redis, Prefix: "promo:rl:"}
	} else {
		deps.Limiter = deps.Fallback
		deps.Fallback = nil
	}

	if cfg.Obs.EnablePrometheus {
		deps.HTTPMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBucketsMS), nil)
	}
	return deps, nil
}

// Close releases pooled connections.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "promo-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	err = resilience.Retry(ctx, 5, 200*time.Millisecond, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("database not ready")
			return err
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func openRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.EnablePrometheus {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
