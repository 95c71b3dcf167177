// Package ratelimit provides per-resource admission control for every
// upstream and downstream dependency of the offer pipeline.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/garimpeirogeek/dealgate/internal/logger"
)

// FailurePolicy decides what Check returns when the limiter itself fails
// unexpectedly. FailOpen favors availability (requests are admitted),
// FailClosed favors strict enforcement.
type FailurePolicy string

const (
	FailOpen   FailurePolicy = "fail_open"
	FailClosed FailurePolicy = "fail_closed"
)

const defaultCooldownAfter = 5

// Config describes the limits for one resource.
type Config struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	// BurstSize > 0 switches the resource to token-bucket mode with the
	// given burst capacity; refill rate is MaxRequests per Window.
	BurstSize int `yaml:"burst_size"`
	// Cooldown, when set, locks the resource out entirely after
	// CooldownAfter consecutive denials.
	Cooldown      time.Duration `yaml:"cooldown"`
	CooldownAfter int           `yaml:"cooldown_after"`
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter *time.Duration
}

// Stats holds limiter-wide counters.
type Stats struct {
	TotalAllowed    int64 `json:"total_allowed"`
	TotalDenied     int64 `json:"total_denied"`
	CooldownTrips   int64 `json:"cooldown_trips"`
	ActiveResources int   `json:"active_resources"`
}

// window is the per-resource state. Created lazily on first check and
// mutated only under its own lock, so contention on one resource never
// blocks checks on another.
type window struct {
	mu                 sync.Mutex
	cfg                Config
	timestamps         []time.Time   // sliding-window mode
	bucket             *rate.Limiter // token-bucket mode
	cooldownUntil      time.Time
	consecutiveDenials int
}

// Limiter is a multi-strategy per-resource rate limiter.
type Limiter struct {
	mu        sync.RWMutex
	resources map[string]*window

	defaults map[string]Config
	fallback Config
	policy   FailurePolicy
	logger   logger.Logger
	now      func() time.Time

	allowed       atomic.Int64
	denied        atomic.Int64
	cooldownTrips atomic.Int64
}

// NewLimiter creates a limiter with the given failure policy and the
// default per-resource configuration table.
func NewLimiter(policy FailurePolicy, log logger.Logger) *Limiter {
	if policy != FailClosed {
		policy = FailOpen
	}
	return &Limiter{
		resources: make(map[string]*window),
		defaults:  defaultConfigs(),
		fallback:  Config{MaxRequests: 1000, Window: time.Minute},
		policy:    policy,
		logger:    log,
		now:       time.Now,
	}
}

// defaultConfigs is the per-resource limit table. Resources not listed
// here fall back to a permissive generic default.
func defaultConfigs() map[string]Config {
	return map[string]Config{
		"offer_processing":    {MaxRequests: 100, Window: time.Minute},
		"validation_queue":    {MaxRequests: 200, Window: time.Minute},
		"amazon_api":          {MaxRequests: 20, Window: time.Hour, BurstSize: 5, Cooldown: 5 * time.Minute, CooldownAfter: 10},
		"mercadolivre_api":    {MaxRequests: 60, Window: time.Hour},
		"shopee_api":          {MaxRequests: 50, Window: time.Hour},
		"aliexpress_api":      {MaxRequests: 50, Window: time.Hour},
		"awin_api":            {MaxRequests: 200, Window: time.Hour},
		"magalu_api":          {MaxRequests: 20, Window: 5 * time.Minute},
		"scraper":             {MaxRequests: 30, Window: 5 * time.Minute},
		"affiliate_shortlink": {MaxRequests: 120, Window: time.Hour, BurstSize: 20},
	}
}

// SetDefault installs or replaces the default config for a resource.
func (l *Limiter) SetDefault(resourceID string, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaults[resourceID] = cfg
}

// Check performs one admission check against the resource's window.
// cfg overrides the resource default when non-nil.
//
// On an unexpected internal error the configured FailurePolicy decides
// the outcome; this is logged and never propagated to the caller.
func (l *Limiter) Check(resourceID string, cfg *Config) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("rate limiter internal failure",
				logger.String("resource", resourceID),
				logger.String("policy", string(l.policy)),
				logger.Any("panic", r),
			)
			decision = l.failureDecision()
		}
	}()

	resolved := l.resolveConfig(resourceID, cfg)
	w := l.window(resourceID, resolved)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()

	// Cooldown is a circuit breaker layered on top of the window: once
	// tripped, every check is denied until it expires.
	if w.cooldownUntil.After(now) {
		retryAfter := w.cooldownUntil.Sub(now)
		l.denied.Add(1)
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.cooldownUntil, RetryAfter: &retryAfter}
	}

	var d Decision
	if resolved.BurstSize > 0 {
		d = l.checkBucket(w, now)
	} else {
		d = l.checkSliding(w, now)
	}

	if d.Allowed {
		w.consecutiveDenials = 0
		l.allowed.Add(1)
		return d
	}

	l.denied.Add(1)
	w.consecutiveDenials++
	if resolved.Cooldown > 0 && w.consecutiveDenials >= cooldownAfter(resolved) {
		w.cooldownUntil = now.Add(resolved.Cooldown)
		w.consecutiveDenials = 0
		l.cooldownTrips.Add(1)
		l.logger.Warn("resource placed in cooldown",
			logger.String("resource", resourceID),
			logger.Duration("cooldown", resolved.Cooldown),
			logger.Time("until", w.cooldownUntil),
		)
		retryAfter := resolved.Cooldown
		d.RetryAfter = &retryAfter
		d.ResetAt = w.cooldownUntil
	}
	return d
}

// checkSliding maintains a FIFO queue of request timestamps. Denied
// checks consume no quota.
func (l *Limiter) checkSliding(w *window, now time.Time) Decision {
	cutoff := now.Add(-w.cfg.Window)
	idx := 0
	for idx < len(w.timestamps) && !w.timestamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[idx:]...)
	}

	if len(w.timestamps) < w.cfg.MaxRequests {
		w.timestamps = append(w.timestamps, now)
		return Decision{
			Allowed:   true,
			Remaining: w.cfg.MaxRequests - len(w.timestamps),
			ResetAt:   w.timestamps[0].Add(w.cfg.Window),
		}
	}

	oldest := w.timestamps[0]
	retryAfter := oldest.Add(w.cfg.Window).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    oldest.Add(w.cfg.Window),
		RetryAfter: &retryAfter,
	}
}

// checkBucket consumes one token from the resource's token bucket,
// refilled at MaxRequests per Window up to BurstSize.
func (l *Limiter) checkBucket(w *window, now time.Time) Decision {
	if w.bucket == nil {
		refill := rate.Limit(float64(w.cfg.MaxRequests) / w.cfg.Window.Seconds())
		w.bucket = rate.NewLimiter(refill, w.cfg.BurstSize)
	}

	if w.bucket.AllowN(now, 1) {
		return Decision{
			Allowed:   true,
			Remaining: int(w.bucket.TokensAt(now)),
			ResetAt:   now,
		}
	}

	res := w.bucket.ReserveN(now, 1)
	retryAfter := res.DelayFrom(now)
	res.CancelAt(now)
	return Decision{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    now.Add(retryAfter),
		RetryAfter: &retryAfter,
	}
}

// WaitIfNeeded checks once and, when denied with a retry hint that fits
// inside maxWait, sleeps the calling goroutine and re-checks. It never
// blocks longer than maxWait and honors ctx cancellation.
func (l *Limiter) WaitIfNeeded(ctx context.Context, resourceID string, cfg *Config, maxWait time.Duration) Decision {
	d := l.Check(resourceID, cfg)
	if d.Allowed || d.RetryAfter == nil || *d.RetryAfter > maxWait {
		return d
	}

	timer := time.NewTimer(*d.RetryAfter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return d
	case <-timer.C:
	}
	return l.Check(resourceID, cfg)
}

// BatchCheck runs one check per resource concurrently. The result slice
// is positionally aligned with resourceIDs.
func (l *Limiter) BatchCheck(resourceIDs []string) []Decision {
	decisions := make([]Decision, len(resourceIDs))
	var wg sync.WaitGroup
	for i, id := range resourceIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			decisions[i] = l.Check(id, nil)
		}(i, id)
	}
	wg.Wait()
	return decisions
}

// Stats returns limiter-wide counters.
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	active := len(l.resources)
	l.mu.RUnlock()
	return Stats{
		TotalAllowed:    l.allowed.Load(),
		TotalDenied:     l.denied.Load(),
		CooldownTrips:   l.cooldownTrips.Load(),
		ActiveResources: active,
	}
}

// ResourceStatus reports the current state of one resource without
// consuming quota.
func (l *Limiter) ResourceStatus(resourceID string) map[string]any {
	resolved := l.resolveConfig(resourceID, nil)
	w := l.window(resourceID, resolved)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	status := map[string]any{
		"resource":     resourceID,
		"max_requests": resolved.MaxRequests,
		"window":       resolved.Window.String(),
		"in_cooldown":  w.cooldownUntil.After(now),
	}
	if resolved.BurstSize > 0 {
		status["mode"] = "token_bucket"
		if w.bucket != nil {
			status["tokens"] = w.bucket.TokensAt(now)
		}
	} else {
		status["mode"] = "sliding_window"
		used := 0
		cutoff := now.Add(-resolved.Window)
		for _, ts := range w.timestamps {
			if ts.After(cutoff) {
				used++
			}
		}
		status["used"] = used
	}
	return status
}

func (l *Limiter) resolveConfig(resourceID string, override *Config) Config {
	if override != nil {
		return *override
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if cfg, ok := l.defaults[resourceID]; ok {
		return cfg
	}
	return l.fallback
}

// window returns the resource's state, creating it on first use. The
// config is pinned at creation time; overrides on later checks replace it.
func (l *Limiter) window(resourceID string, cfg Config) *window {
	l.mu.RLock()
	w, ok := l.resources[resourceID]
	l.mu.RUnlock()
	if ok {
		w.mu.Lock()
		w.cfg = cfg
		w.mu.Unlock()
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.resources[resourceID]; ok {
		return w
	}
	w = &window{cfg: cfg}
	l.resources[resourceID] = w
	return w
}

func (l *Limiter) failureDecision() Decision {
	if l.policy == FailClosed {
		retryAfter := time.Minute
		return Decision{Allowed: false, RetryAfter: &retryAfter}
	}
	return Decision{Allowed: true}
}

func cooldownAfter(cfg Config) int {
	if cfg.CooldownAfter > 0 {
		return cfg.CooldownAfter
	}
	return defaultCooldownAfter
}

// String implements fmt.Stringer for debugging.
func (d Decision) String() string {
	if d.Allowed {
		return fmt.Sprintf("allowed (remaining=%d)", d.Remaining)
	}
	if d.RetryAfter != nil {
		return fmt.Sprintf("denied (retry_after=%s)", *d.RetryAfter)
	}
	return "denied"
}
