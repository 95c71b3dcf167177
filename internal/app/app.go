// Package app provides the application lifecycle management for the
// offer admission service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/garimpeirogeek/dealgate/internal/affiliate"
	"github.com/garimpeirogeek/dealgate/internal/api"
	"github.com/garimpeirogeek/dealgate/internal/config"
	"github.com/garimpeirogeek/dealgate/internal/dedup"
	"github.com/garimpeirogeek/dealgate/internal/logger"
	"github.com/garimpeirogeek/dealgate/internal/metrics"
	"github.com/garimpeirogeek/dealgate/internal/pipeline"
	"github.com/garimpeirogeek/dealgate/internal/ratelimit"
	"github.com/garimpeirogeek/dealgate/internal/redisclient"
)

// DefaultShutdownTimeout is the default timeout for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// App represents the service with all its dependencies
type App struct {
	config      *config.Config
	logger      logger.Logger
	redisClient *redis.Client
	pipeline    *pipeline.Pipeline
	metrics     *metrics.Metrics
	httpServer  *http.Server
	version     string
}

// Options contains configuration for creating a new App
type Options struct {
	ConfigPath string
	Version    string
}

// New creates a new App instance with all dependencies initialized
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "dealgate"),
		logger.String("version", opts.Version),
	)

	// Redis is optional. Without it the affiliate cache runs local-only
	// and conversions are lost on restart.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis, appLogger)
		if err != nil {
			_ = appLogger.Sync()
			return nil, err
		}
	} else {
		appLogger.Warn("redis disabled, affiliate cache is local-only")
	}

	m := metrics.NewMetrics()

	cache := affiliate.NewCache(redisClient, cfg.Pipeline.CacheTTL, appLogger)
	converter, err := affiliate.NewConverter(affiliate.Config{
		AmazonTag:       cfg.Affiliate.AmazonTag,
		MercadoLivreTag: cfg.Affiliate.MercadoLivreTag,
		MagaluStore:     cfg.Affiliate.MagaluStore,
		AwinAffiliateID: cfg.Affiliate.AwinAffiliateID,
	}, cache, appLogger)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("create converter: %w", err)
	}

	policy := ratelimit.FailOpen
	if cfg.Pipeline.FailurePolicy == "closed" {
		policy = ratelimit.FailClosed
	}
	limiter := ratelimit.NewLimiter(policy, appLogger)

	p := pipeline.New(
		pipeline.Config{
			WorkerLimit: cfg.Pipeline.WorkerLimit,
			MaxRetries:  cfg.Pipeline.MaxRetries,
		},
		limiter,
		dedup.NewIndex(cfg.Pipeline.DedupTTL, appLogger),
		converter,
		affiliate.NewValidator(appLogger),
		cache,
		m,
		appLogger,
	)

	router := api.NewRouter(p, limiter, m, cfg, appLogger)

	return &App{
		config:      cfg,
		logger:      appLogger,
		redisClient: redisClient,
		pipeline:    p,
		metrics:     m,
		httpServer:  router.NewServer(),
		version:     opts.Version,
	}, nil
}

// Run starts the HTTP server and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		a.logger.Info("starting http server",
			logger.String("address", a.config.Server.Address),
			logger.Bool("debug", a.config.Debug),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutting down gracefully", logger.String("signal", sig.String()))
		a.shutdownHTTPServer()
		return nil
	case <-ctx.Done():
		a.shutdownHTTPServer()
		return ctx.Err()
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("server error", logger.Error(err))
		}
		return err
	}
}

// shutdownHTTPServer gracefully shuts down the HTTP server
func (a *App) shutdownHTTPServer() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("server shutdown error", logger.Error(err))
	} else {
		a.logger.Info("http server stopped")
	}
}

// Pipeline returns the offer pipeline for embedding callers.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Logger returns the application logger
func (a *App) Logger() logger.Logger {
	return a.logger
}

// Close cleans up resources
func (a *App) Close() error {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis client", logger.Error(err))
		}
	}
	return a.logger.Sync()
}
