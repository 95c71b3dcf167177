// Package api exposes the offer admission pipeline over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garimpeirogeek/dealgate/internal/config"
	"github.com/garimpeirogeek/dealgate/internal/logger"
	"github.com/garimpeirogeek/dealgate/internal/metrics"
	"github.com/garimpeirogeek/dealgate/internal/pipeline"
	"github.com/garimpeirogeek/dealgate/internal/ratelimit"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	healthCheckTimeout   = 2 * time.Second
)

// Router holds the API dependencies
type Router struct {
	pipeline *pipeline.Pipeline
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	cfg      *config.Config
	logger   logger.Logger
}

// NewRouter creates a new API router
func NewRouter(p *pipeline.Pipeline, limiter *ratelimit.Limiter, m *metrics.Metrics, cfg *config.Config, log logger.Logger) *Router {
	return &Router{
		pipeline: p,
		limiter:  limiter,
		metrics:  m,
		cfg:      cfg,
		logger:   log,
	}
}

// Handler builds the gin engine with all routes registered.
func (r *Router) Handler() *gin.Engine {
	if !r.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), r.requestLogger())

	engine.GET("/health", r.health)
	if r.metrics != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.metrics.Registry, promhttp.HandlerOpts{})))
	}

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/offers", r.processOffer)
		v1.POST("/offers/batch", r.processBatch)
		v1.GET("/stats", r.stats)
		v1.GET("/ratelimit/:resource", r.rateLimitStatus)
		v1.DELETE("/admin/dedup", r.clearDedup)
	}

	return engine
}

// NewServer wraps the handler in an http.Server with the configured
// timeouts.
func (r *Router) NewServer() *http.Server {
	return &http.Server{
		Addr:         r.cfg.Server.Address,
		Handler:      r.Handler(),
		ReadTimeout:  r.cfg.Server.ReadTimeout,
		WriteTimeout: r.cfg.Server.WriteTimeout,
	}
}

// requestLogger logs each request with latency and status.
func (r *Router) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug("http request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		)
	}
}
