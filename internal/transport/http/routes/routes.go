package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/infra/config"
	"github.com/arklim/identity-service/internal/transport/http/handlers"
	"github.com/arklim/identity-service/internal/transport/http/middleware"
	"github.com/arklim/identity-service/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Credentials *usecase.CredentialService
	OAuth       *usecase.OAuthService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Services ServiceSet
	Sessions port.SessionCodec
	Metrics  *middleware.HTTPMetrics
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Health   *handlers.HealthHandler
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewHealthHandler wires the readiness checks for the given backends. Nil backends are skipped.
func NewHealthHandler(db DatabaseChecker, cache CacheChecker) *handlers.HealthHandler {
	opts := make([]handlers.HealthOption, 0, 2)
	if db != nil {
		opts = append(opts, handlers.WithReadinessCheck("database", db.Ping))
	}
	if cache != nil {
		opts = append(opts, handlers.WithReadinessCheck("redis", cache.HealthCheck))
	}
	return handlers.NewHealthHandler(opts...)
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.Metrics.Handler())
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))

	health := deps.Health
	if health == nil {
		health = handlers.NewHealthHandler()
	}
	r.GET("/healthz", health.Status)
	r.GET("/health", health.Status)
	r.GET("/readyz", health.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	{
		requireAuth := middleware.RequireAuth(deps.Sessions)

		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Services.Credentials)
		authHandler.RegisterRoutes(authGroup, requireAuth)

		if deps.Services.OAuth != nil {
			oauthHandler := handlers.NewOAuthHandler(deps.Services.OAuth, deps.Config.Frontend.URL, deps.Logger)
			oauthHandler.RegisterRoutes(authGroup)
		}

		api.GET("/pro/status", requireAuth, middleware.RequirePro(), authHandler.ProStatus)
	}

	return r
}
