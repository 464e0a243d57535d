package api

import (
	"github.com/SVKNL/payout-service/internal/api/handler"
	"github.com/SVKNL/payout-service/internal/api/middleware"
	"github.com/SVKNL/payout-service/internal/api/spec"
	"github.com/SVKNL/payout-service/internal/config"
	"github.com/SVKNL/payout-service/internal/idempotency"
	"github.com/SVKNL/payout-service/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	redis     redis.Cmdable
	idemStore *idempotency.Store
	payoutSvc *service.PayoutService
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	redisClient redis.Cmdable,
	idemStore *idempotency.Store,
	payoutSvc *service.PayoutService,
) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		redis:     redisClient,
		idemStore: idemStore,
		payoutSvc: payoutSvc,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.RateLimiter(api.cfg.RateLimitRPS))

	payoutHandler := handler.NewPayoutHandler(api.payoutSvc)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	r.Get("/healthz/live", healthHandler.Live)
	r.Get("/healthz/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())

	r.Route("/v1/payouts", func(r chi.Router) {
		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).Post("/", payoutHandler.CreatePayout)
		r.Get("/", payoutHandler.ListPayouts)
		r.Get("/{id}", payoutHandler.GetPayout)
		r.Patch("/{id}", payoutHandler.UpdatePayout)
		r.Delete("/{id}", payoutHandler.DeletePayout)
	})

	return r
}
