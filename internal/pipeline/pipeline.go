// Package pipeline orchestrates offer admission: rate limiting,
// deduplication, affiliate conversion and validation, in that order.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/garimpeirogeek/dealgate/internal/affiliate"
	"github.com/garimpeirogeek/dealgate/internal/dedup"
	"github.com/garimpeirogeek/dealgate/internal/logger"
	"github.com/garimpeirogeek/dealgate/internal/metrics"
	"github.com/garimpeirogeek/dealgate/internal/models"
	"github.com/garimpeirogeek/dealgate/internal/ratelimit"
)

const (
	// DefaultWorkerLimit bounds concurrent offers in ProcessBatch.
	DefaultWorkerLimit = 10
	// DefaultMaxRetries bounds ProcessWithRetry attempts.
	DefaultMaxRetries = 3
	// maxRetryBackoff caps the exponential retry backoff.
	maxRetryBackoff = 30 * time.Second

	// admissionResource is the pipeline-wide rate limit resource.
	admissionResource = "offer_processing"
)

// Limiter is the rate limiting dependency.
type Limiter interface {
	Check(resourceID string, cfg *ratelimit.Config) ratelimit.Decision
	Stats() ratelimit.Stats
}

// Deduplicator is the duplicate detection dependency.
type Deduplicator interface {
	Check(offer *models.Offer) dedup.Result
	Forget(offer *models.Offer)
	Stats() dedup.Stats
	ClearCache()
}

// Converter builds affiliate links.
type Converter interface {
	Convert(ctx context.Context, rawURL string) (affiliate.Conversion, error)
}

// Validator scores affiliate links.
type Validator interface {
	Validate(originalURL, affiliateURL string, cacheHit bool) models.ValidationResult
}

// LinkCache exposes the affiliate cache health surface.
type LinkCache interface {
	Healthy(ctx context.Context) bool
	Stats() affiliate.CacheStats
}

// Config tunes the pipeline.
type Config struct {
	WorkerLimit int `yaml:"worker_limit"`
	MaxRetries  int `yaml:"max_retries"`
}

// Stats is a snapshot of pipeline counters and component stats.
type Stats struct {
	Processed        int64                `json:"processed"`
	Succeeded        int64                `json:"succeeded"`
	Duplicates       int64                `json:"duplicates"`
	RateLimited      int64                `json:"rate_limited"`
	ValidationFailed int64                `json:"validation_failed"`
	Errors           int64                `json:"errors"`
	SuccessRate      float64              `json:"success_rate"`
	RateLimit        ratelimit.Stats      `json:"rate_limit"`
	Dedup            dedup.Stats          `json:"dedup"`
	Cache            affiliate.CacheStats `json:"cache"`
}

// ComponentHealth is one component's state in a health check.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// BatchResult groups the outcome of one ProcessBatch call.
type BatchResult struct {
	Results []models.ProcessingResult `json:"results"`
	Counts  map[models.Result]int     `json:"counts"`
	Elapsed time.Duration             `json:"elapsed"`
}

// Pipeline owns its injected components. It has no global state, so
// tests and replicas can run isolated instances.
type Pipeline struct {
	limiter   Limiter
	dedup     Deduplicator
	converter Converter
	validator Validator
	cache     LinkCache
	metrics   *metrics.Metrics
	logger    logger.Logger
	tracer    trace.Tracer

	workerLimit int
	maxRetries  int
	sleep       func(ctx context.Context, d time.Duration) error

	processed        atomic.Int64
	succeeded        atomic.Int64
	duplicates       atomic.Int64
	rateLimited      atomic.Int64
	validationFailed atomic.Int64
	errors           atomic.Int64
}

// New wires a pipeline from its components. metrics may be nil.
func New(cfg Config, limiter Limiter, dd Deduplicator, conv Converter, val Validator, cache LinkCache, m *metrics.Metrics, log logger.Logger) *Pipeline {
	if cfg.WorkerLimit <= 0 {
		cfg.WorkerLimit = DefaultWorkerLimit
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Pipeline{
		limiter:     limiter,
		dedup:       dd,
		converter:   conv,
		validator:   val,
		cache:       cache,
		metrics:     m,
		logger:      log,
		tracer:      otel.Tracer("offer-pipeline"),
		workerLimit: cfg.WorkerLimit,
		maxRetries:  cfg.MaxRetries,
		sleep:       sleepContext,
	}
}

// Process runs one offer through admission and returns its terminal
// result. A panic anywhere inside is contained to this offer and
// reported as ResultError.
func (p *Pipeline) Process(ctx context.Context, offer models.Offer, source string) (result models.ProcessingResult) {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("offer_id", offer.ID),
			attribute.String("store", offer.Store),
			attribute.String("source", source),
		))
	defer span.End()

	p.metrics.AddInFlight(1)
	defer p.metrics.AddInFlight(-1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing offer",
				logger.String("offer_id", offer.ID),
				logger.Any("panic", r),
			)
			result = p.finish(models.ProcessingResult{
				Result: models.ResultError,
				Offer:  offer,
				Source: source,
				Reason: fmt.Sprintf("internal panic: %v", r),
			}, start)
		}
	}()

	if err := offer.Validate(); err != nil {
		return p.finish(models.ProcessingResult{
			Result:           models.ResultValidationFailed,
			Offer:            offer,
			Source:           source,
			Reason:           "offer failed structural validation",
			ValidationErrors: []string{err.Error()},
		}, start)
	}

	if decision := p.limiter.Check(admissionResource, nil); !decision.Allowed {
		p.metrics.IncRateLimitHit(admissionResource)
		return p.finish(models.ProcessingResult{
			Result:     models.ResultRateLimited,
			Offer:      offer,
			Source:     source,
			Reason:     "pipeline admission limit reached",
			RetryAfter: retryAfter(decision),
		}, start)
	}

	if dup := p.dedup.Check(&offer); dup.IsDuplicate {
		p.metrics.IncDuplicate(string(dup.Strategy))
		return p.finish(models.ProcessingResult{
			Result: models.ResultDuplicate,
			Offer:  offer,
			Source: source,
			Reason: dup.Reason,
			DuplicateInfo: &models.DuplicateInfo{
				Strategy:   string(dup.Strategy),
				MatchedKey: dup.MatchedKey,
				Similarity: dup.Similarity,
				OfferID:    dup.Matched.OfferID,
				SeenAt:     dup.Matched.SeenAt,
			},
		}, start)
	}

	merchant := affiliate.IdentifyMerchant(offer.URL)
	if merchant != affiliate.MerchantUnknown {
		resource := string(merchant) + "_api"
		if decision := p.limiter.Check(resource, nil); !decision.Allowed {
			p.metrics.IncRateLimitHit(resource)
			// The offer was just registered. Unregister it so the retry
			// is not misread as a duplicate.
			p.dedup.Forget(&offer)
			return p.finish(models.ProcessingResult{
				Result:     models.ResultRateLimited,
				Offer:      offer,
				Source:     source,
				Reason:     fmt.Sprintf("%s conversion limit reached", merchant),
				RetryAfter: retryAfter(decision),
			}, start)
		}
	}

	conversion, err := p.converter.Convert(ctx, offer.URL)
	if err != nil {
		return p.finish(models.ProcessingResult{
			Result:           models.ResultValidationFailed,
			Offer:            offer,
			Source:           source,
			Reason:           "affiliate conversion failed",
			ValidationErrors: []string{err.Error()},
		}, start)
	}

	validation := p.validator.Validate(offer.URL, conversion.AffiliateURL, conversion.CacheHit)
	p.metrics.ObserveValidationScore(validation.Score)
	span.SetAttributes(
		attribute.String("merchant", string(conversion.Merchant)),
		attribute.Float64("validation_score", validation.Score),
	)

	if validation.Status == models.ValidationInvalid || validation.Status == models.ValidationError {
		return p.finish(models.ProcessingResult{
			Result:           models.ResultValidationFailed,
			Offer:            offer,
			Source:           source,
			Reason:           fmt.Sprintf("affiliate link scored %.2f", validation.Score),
			ValidationErrors: validation.Reasons,
		}, start)
	}

	admitted := offer.WithAffiliateURL(conversion.AffiliateURL)
	return p.finish(models.ProcessingResult{
		Result: models.ResultSuccess,
		Offer:  admitted,
		Source: source,
	}, start)
}

// ProcessBatch runs offers concurrently, at most workerLimit at a time.
// Results keep the input order.
func (p *Pipeline) ProcessBatch(ctx context.Context, offers []models.Offer, source string) BatchResult {
	start := time.Now()
	sem := semaphore.NewWeighted(int64(p.workerLimit))
	results := make([]models.ProcessingResult, len(offers))

	var wg sync.WaitGroup
	for i := range offers {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = models.ProcessingResult{
				Result: models.ResultError,
				Offer:  offers[i],
				Source: source,
				Reason: fmt.Sprintf("batch canceled: %v", err),
			}
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = p.Process(ctx, offers[i], source)
		}(i)
	}
	wg.Wait()

	counts := make(map[models.Result]int, 5)
	for _, r := range results {
		counts[r.Result]++
	}

	p.logger.Info("batch processed",
		logger.Int("offers", len(offers)),
		logger.Int("succeeded", counts[models.ResultSuccess]),
		logger.Int("duplicates", counts[models.ResultDuplicate]),
		logger.Int("rate_limited", counts[models.ResultRateLimited]),
		logger.Duration("elapsed", time.Since(start)),
	)
	return BatchResult{Results: results, Counts: counts, Elapsed: time.Since(start)}
}

// ProcessWithRetry reruns an offer that hit a rate limit, backing off
// exponentially up to maxRetries attempts. Any other result returns
// immediately.
func (p *Pipeline) ProcessWithRetry(ctx context.Context, offer models.Offer, source string) models.ProcessingResult {
	result := p.Process(ctx, offer, source)
	for attempt := 0; attempt < p.maxRetries && result.Result == models.ResultRateLimited; attempt++ {
		backoff := retryBackoff(attempt)
		p.metrics.IncRetry()
		p.logger.Debug("offer rate limited, retrying",
			logger.String("offer_id", offer.ID),
			logger.Int("attempt", attempt+1),
			logger.Duration("backoff", backoff),
		)
		if err := p.sleep(ctx, backoff); err != nil {
			return result
		}
		result = p.Process(ctx, offer, source)
	}
	return result
}

// HealthCheck probes every component without consuming quota or
// mutating indexes.
func (p *Pipeline) HealthCheck(ctx context.Context) map[string]ComponentHealth {
	health := make(map[string]ComponentHealth, 3)

	rlStats := p.limiter.Stats()
	health["rate_limiter"] = ComponentHealth{
		Healthy: true,
		Detail:  fmt.Sprintf("%d active resources", rlStats.ActiveResources),
	}

	ddStats := p.dedup.Stats()
	health["deduplicator"] = ComponentHealth{
		Healthy: true,
		Detail:  fmt.Sprintf("%d urls indexed", ddStats.URLKeys),
	}

	cacheHealthy := p.cache.Healthy(ctx)
	detail := "redis reachable"
	if !cacheHealthy {
		detail = "redis unreachable, serving local tier"
	}
	health["affiliate_cache"] = ComponentHealth{Healthy: cacheHealthy, Detail: detail}

	return health
}

// GetStats returns pipeline counters plus component snapshots.
func (p *Pipeline) GetStats() Stats {
	processed := p.processed.Load()
	succeeded := p.succeeded.Load()

	var successRate float64
	if processed > 0 {
		successRate = float64(succeeded) / float64(processed)
	}
	return Stats{
		Processed:        processed,
		Succeeded:        succeeded,
		Duplicates:       p.duplicates.Load(),
		RateLimited:      p.rateLimited.Load(),
		ValidationFailed: p.validationFailed.Load(),
		Errors:           p.errors.Load(),
		SuccessRate:      successRate,
		RateLimit:        p.limiter.Stats(),
		Dedup:            p.dedup.Stats(),
		Cache:            p.cache.Stats(),
	}
}

// ClearDedup drops the duplicate index. Admin surface only.
func (p *Pipeline) ClearDedup() {
	p.dedup.ClearCache()
}

// finish stamps timing, updates counters and metrics, and returns the
// terminal result.
func (p *Pipeline) finish(result models.ProcessingResult, start time.Time) models.ProcessingResult {
	elapsed := time.Since(start)
	result.ProcessingTimeMs = elapsed.Milliseconds()

	p.processed.Add(1)
	switch result.Result {
	case models.ResultSuccess:
		p.succeeded.Add(1)
	case models.ResultDuplicate:
		p.duplicates.Add(1)
	case models.ResultRateLimited:
		p.rateLimited.Add(1)
	case models.ResultValidationFailed:
		p.validationFailed.Add(1)
	case models.ResultError:
		p.errors.Add(1)
	}

	p.metrics.IncResult(string(result.Result))
	p.metrics.ObserveProcessing(elapsed)
	return result
}

func retryAfter(decision ratelimit.Decision) time.Duration {
	if decision.RetryAfter == nil {
		return 0
	}
	return *decision.RetryAfter
}

// retryBackoff doubles per attempt starting at one second, capped.
func retryBackoff(attempt int) time.Duration {
	backoff := time.Second << uint(attempt)
	if backoff > maxRetryBackoff {
		return maxRetryBackoff
	}
	return backoff
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
