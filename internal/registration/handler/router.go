package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/mailcode/internal/metrics"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	CORSOrigins  []string
	RateLimitRPS int
	// BodyLimit defaults to 1 MB.
	BodyLimit int64
}

// NewRouter assembles the API: recovery, CORS, security headers, body limit,
// rate limiting, request IDs, logging and metrics, then the routes. ctx stops
// the rate limiter's background cleanup.
func NewRouter(ctx context.Context, cfg RouterConfig, reg *RegistrationHandler, hh *HealthHandler, logger *zap.Logger) *gin.Engine {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 1 << 20
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", RequestIDHeader},
			AllowCredentials: !containsWildcard(cfg.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(SecurityHeaders())
	router.Use(BodyLimit(cfg.BodyLimit))
	if cfg.RateLimitRPS > 0 {
		router.Use(RateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}
	router.Use(RequestID())
	router.Use(RequestLogger(logger))
	router.Use(metrics.PrometheusMiddleware())

	hh.Register(router)
	router.GET("/metrics", metrics.MetricsHandler())

	api := router.Group("/api")
	reg.Register(api)

	return router
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
