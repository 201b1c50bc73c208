package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-promo/internal/common"
	"github.com/noah-isme/backend-promo/internal/config"
	"github.com/noah-isme/backend-promo/internal/health"
	"github.com/noah-isme/backend-promo/internal/obs"
	"github.com/noah-isme/backend-promo/internal/ratelimit"
	"github.com/noah-isme/backend-promo/internal/security"
)

// NewRouter assembles the HTTP surface.
func NewRouter(cfg *config.Config, deps *Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Obs.EnableTracing {
		r.Use(obs.Tracing("promo-api"))
	}
	if deps.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: deps.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: deps.Logger}.Middleware)
	r.Use(security.Headers{HSTSMaxAge: cfg.HSTSMaxAge}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id", common.IdempotencyHeader},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if cfg.Obs.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{Probes: readinessProbes(cfg, deps)}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	limit := ratelimit.Handler{
		Limiter:  deps.Limiter,
		Fallback: deps.Fallback,
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("evaluate:"),
			Window: cfg.EvaluateRateLimitWindow,
			Max:    cfg.EvaluateRateLimitMax,
		},
		OnError: func(err error) {
			deps.Logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}

	if deps.Promotions == nil {
		return r
	}
	r.Route("/api/v1/promotions", func(p chi.Router) {
		p.With(limit.Middleware).Post("/evaluate", deps.Promotions.Evaluate)
		p.Get("/active", deps.Promotions.Active)
		p.With(deps.Idempotency.Middleware).Post("/redeem", deps.Promotions.Redeem)
	})
	return r
}

func readinessProbes(cfg *config.Config, deps *Dependencies) []health.Probe {
	var probes []health.Probe
	if deps.DB != nil {
		db := deps.DB
		probes = append(probes, health.Probe{
			Name:    "database",
			Timeout: cfg.Obs.ReadyDBTimeout,
			Check:   func(ctx context.Context) error { return db.Ping(ctx) },
		})
	}
	if deps.Redis != nil {
		rdb := deps.Redis
		probes = append(probes, health.Probe{
			Name:    "redis",
			Timeout: cfg.Obs.ReadyRedisTimeout,
			Check:   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	return probes
}
