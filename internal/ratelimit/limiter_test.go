package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garimpeirogeek/dealgate/internal/logger"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T) (*Limiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	l := NewLimiter(FailOpen, logger.NewNopLogger())
	l.now = clock.Now
	return l, clock
}

func TestSlidingWindowBoundary(t *testing.T) {
	l, clock := newTestLimiter(t)
	cfg := &Config{MaxRequests: 2, Window: 60 * time.Second}

	first := l.Check("test_resource", cfg)
	second := l.Check("test_resource", cfg)
	third := l.Check("test_resource", cfg)

	assert.True(t, first.Allowed)
	assert.True(t, second.Allowed)
	assert.False(t, third.Allowed)
	require.NotNil(t, third.RetryAfter)
	assert.InDelta(t, (60 * time.Second).Seconds(), third.RetryAfter.Seconds(), 1)

	clock.Advance(61 * time.Second)
	fourth := l.Check("test_resource", cfg)
	assert.True(t, fourth.Allowed)
}

func TestSlidingWindowRetryAfterFullWindow(t *testing.T) {
	l, clock := newTestLimiter(t)
	cfg := &Config{MaxRequests: 20, Window: time.Hour}

	for i := 0; i < 20; i++ {
		d := l.Check("amazon_burst", cfg)
		require.True(t, d.Allowed, "call %d should be allowed", i+1)
		clock.Advance(50 * time.Millisecond)
	}

	denied := l.Check("amazon_burst", cfg)
	assert.False(t, denied.Allowed)
	require.NotNil(t, denied.RetryAfter)
	assert.InDelta(t, time.Hour.Seconds(), denied.RetryAfter.Seconds(), 2)
}

func TestDeniedCheckConsumesNoQuota(t *testing.T) {
	l, clock := newTestLimiter(t)
	cfg := &Config{MaxRequests: 1, Window: 10 * time.Second}

	assert.True(t, l.Check("r", cfg).Allowed)
	for i := 0; i < 5; i++ {
		assert.False(t, l.Check("r", cfg).Allowed)
	}

	// Denials above must not have extended the window.
	clock.Advance(11 * time.Second)
	assert.True(t, l.Check("r", cfg).Allowed)
}

func TestTokenBucketBurst(t *testing.T) {
	l, clock := newTestLimiter(t)
	cfg := &Config{MaxRequests: 60, Window: time.Minute, BurstSize: 3}

	for i := 0; i < 3; i++ {
		assert.True(t, l.Check("bucket", cfg).Allowed, "burst call %d", i+1)
	}
	denied := l.Check("bucket", cfg)
	assert.False(t, denied.Allowed)
	require.NotNil(t, denied.RetryAfter)

	// Refill rate is one token per second.
	clock.Advance(1100 * time.Millisecond)
	assert.True(t, l.Check("bucket", cfg).Allowed)
}

func TestCooldownCircuitBreaker(t *testing.T) {
	l, clock := newTestLimiter(t)
	cfg := &Config{
		MaxRequests:   1,
		Window:        time.Second,
		Cooldown:      time.Minute,
		CooldownAfter: 2,
	}

	assert.True(t, l.Check("hot", cfg).Allowed)
	assert.False(t, l.Check("hot", cfg).Allowed)
	tripped := l.Check("hot", cfg) // second consecutive denial trips the cooldown
	assert.False(t, tripped.Allowed)
	require.NotNil(t, tripped.RetryAfter)
	assert.Equal(t, time.Minute, *tripped.RetryAfter)

	// The window itself would allow again, but cooldown overrides it.
	clock.Advance(2 * time.Second)
	assert.False(t, l.Check("hot", cfg).Allowed)

	clock.Advance(time.Minute)
	assert.True(t, l.Check("hot", cfg).Allowed)
	assert.Equal(t, int64(1), l.Stats().CooldownTrips)
}

func TestResourcesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := &Config{MaxRequests: 1, Window: time.Minute}

	assert.True(t, l.Check("resource_a", cfg).Allowed)
	assert.False(t, l.Check("resource_a", cfg).Allowed)
	assert.True(t, l.Check("resource_b", cfg).Allowed)
}

func TestWaitIfNeededRespectsMaxWait(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := &Config{MaxRequests: 1, Window: time.Hour}

	require.True(t, l.Check("slow", cfg).Allowed)

	start := time.Now()
	d := l.WaitIfNeeded(context.Background(), "slow", cfg, 50*time.Millisecond)
	assert.False(t, d.Allowed)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "must not sleep past maxWait")
}

func TestWaitIfNeededRechecksAfterSleep(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(FailOpen, logger.NewNopLogger())
	l.now = clock.Now
	cfg := &Config{MaxRequests: 1, Window: 20 * time.Millisecond}

	require.True(t, l.Check("quick", cfg).Allowed)

	// Advance the fake clock in the background so the re-check succeeds.
	go func() {
		time.Sleep(10 * time.Millisecond)
		clock.Advance(25 * time.Millisecond)
	}()

	d := l.WaitIfNeeded(context.Background(), "quick", cfg, time.Second)
	assert.True(t, d.Allowed)
}

func TestWaitIfNeededHonorsContext(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := &Config{MaxRequests: 1, Window: 500 * time.Millisecond}

	require.True(t, l.Check("cancel", cfg).Allowed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := l.WaitIfNeeded(ctx, "cancel", cfg, time.Second)
	assert.False(t, d.Allowed)
}

func TestBatchCheck(t *testing.T) {
	l, _ := newTestLimiter(t)
	l.SetDefault("batch_one", Config{MaxRequests: 1, Window: time.Minute})
	l.SetDefault("batch_two", Config{MaxRequests: 1, Window: time.Minute})

	// Exhaust batch_one beforehand.
	require.True(t, l.Check("batch_one", nil).Allowed)

	decisions := l.BatchCheck([]string{"batch_one", "batch_two", "batch_three"})
	require.Len(t, decisions, 3)
	assert.False(t, decisions[0].Allowed)
	assert.True(t, decisions[1].Allowed)
	assert.True(t, decisions[2].Allowed) // unknown resource uses permissive fallback
}

func TestFailurePolicyDecision(t *testing.T) {
	open := NewLimiter(FailOpen, logger.NewNopLogger())
	assert.True(t, open.failureDecision().Allowed)

	closed := NewLimiter(FailClosed, logger.NewNopLogger())
	d := closed.failureDecision()
	assert.False(t, d.Allowed)
	require.NotNil(t, d.RetryAfter)
}

func TestStatsCounters(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := &Config{MaxRequests: 1, Window: time.Minute}

	l.Check("stats", cfg)
	l.Check("stats", cfg)

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.TotalAllowed)
	assert.Equal(t, int64(1), stats.TotalDenied)
	assert.Equal(t, 1, stats.ActiveResources)
}
