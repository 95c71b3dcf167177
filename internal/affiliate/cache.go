package affiliate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/garimpeirogeek/dealgate/internal/logger"
)

const (
	// DefaultCacheTTL matches the merchant panels' shortlink validity.
	DefaultCacheTTL = 7 * 24 * time.Hour
	// defaultLocalSize bounds the in-process fallback cache.
	defaultLocalSize = 4096
	// redisOpTimeout caps each Redis round trip so a slow backend
	// degrades to the local cache instead of stalling the pipeline.
	redisOpTimeout = 500 * time.Millisecond
)

// CacheEntry is one cached conversion.
type CacheEntry struct {
	AffiliateURL string    `json:"affiliate_url"`
	Merchant     Merchant  `json:"merchant"`
	CreatedAt    time.Time `json:"created_at"`
}

// CacheStats exposes cache behavior, including how often Redis was
// unavailable and the local fallback served instead.
type CacheStats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Sets           int64 `json:"sets"`
	RedisErrors    int64 `json:"redis_errors"`
	LocalFallbacks int64 `json:"local_fallbacks"`
	LocalSize      int   `json:"local_size"`
}

// Cache stores (merchant, canonical URL) -> affiliate URL conversions.
// Redis is the primary store so conversions survive restarts and are
// shared across replicas. Every Redis failure is absorbed: reads and
// writes fall through to an in-process expirable LRU, and the
// degradation shows up in Stats rather than in errors.
type Cache struct {
	client *redis.Client // nil means local-only
	local  *expirable.LRU[string, CacheEntry]
	ttl    time.Duration
	logger logger.Logger

	hits           atomic.Int64
	misses         atomic.Int64
	sets           atomic.Int64
	redisErrors    atomic.Int64
	localFallbacks atomic.Int64
}

// NewCache builds a cache backed by client, which may be nil to run
// local-only.
func NewCache(client *redis.Client, ttl time.Duration, log logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		client: client,
		local:  expirable.NewLRU[string, CacheEntry](defaultLocalSize, nil, ttl),
		ttl:    ttl,
		logger: log,
	}
}

func (c *Cache) key(merchant Merchant, canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return fmt.Sprintf("affiliate:%s:%s", merchant, hex.EncodeToString(sum[:16]))
}

// Get looks up a cached conversion, consulting Redis first and the
// local fallback on miss or failure.
func (c *Cache) Get(ctx context.Context, merchant Merchant, canonicalURL string) (CacheEntry, bool) {
	key := c.key(merchant, canonicalURL)

	if c.client != nil {
		opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		defer cancel()

		raw, err := c.client.Get(opCtx, key).Result()
		switch {
		case err == nil:
			var entry CacheEntry
			if jsonErr := json.Unmarshal([]byte(raw), &entry); jsonErr == nil {
				c.hits.Add(1)
				return entry, true
			}
			c.logger.Warn("discarding corrupt cache entry", logger.String("key", key))
			c.misses.Add(1)
			return CacheEntry{}, false
		case err == redis.Nil:
			// Fall through to the local cache: an entry written while
			// Redis was down lives only there.
		default:
			c.redisErrors.Add(1)
			c.localFallbacks.Add(1)
			c.logger.Warn("redis get failed, using local cache",
				logger.String("key", key),
				logger.Error(err),
			)
		}
	}

	if entry, ok := c.local.Get(key); ok {
		c.hits.Add(1)
		return entry, true
	}
	c.misses.Add(1)
	return CacheEntry{}, false
}

// Set stores a conversion in both tiers. Redis failures are logged and
// absorbed; the local write always succeeds.
func (c *Cache) Set(ctx context.Context, merchant Merchant, canonicalURL, affiliateURL string) {
	key := c.key(merchant, canonicalURL)
	entry := CacheEntry{
		AffiliateURL: affiliateURL,
		Merchant:     merchant,
		CreatedAt:    time.Now().UTC(),
	}

	c.local.Add(key, entry)
	c.sets.Add(1)

	if c.client == nil {
		return
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Error("marshal cache entry", logger.Error(err))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := c.client.Set(opCtx, key, raw, c.ttl).Err(); err != nil {
		c.redisErrors.Add(1)
		c.logger.Warn("redis set failed, entry kept locally",
			logger.String("key", key),
			logger.Error(err),
		)
	}
}

// ClearMerchant removes every cached conversion for one merchant,
// scanning instead of flushing so other keyspaces survive.
func (c *Cache) ClearMerchant(ctx context.Context, merchant Merchant) (int, error) {
	c.local.Purge()

	if c.client == nil {
		return 0, nil
	}

	pattern := fmt.Sprintf("affiliate:%s:*", merchant)
	var cursor uint64
	deleted := 0

	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.redisErrors.Add(1)
			return deleted, fmt.Errorf("scan keys: %w", err)
		}
		if len(keys) > 0 {
			n, delErr := c.client.Del(ctx, keys...).Result()
			if delErr != nil {
				c.redisErrors.Add(1)
				return deleted, fmt.Errorf("delete keys: %w", delErr)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Info("cleared affiliate cache",
		logger.String("merchant", string(merchant)),
		logger.Int("keys_deleted", deleted),
	)
	return deleted, nil
}

// Healthy reports whether the Redis tier is reachable. A local-only
// cache is always healthy.
func (c *Cache) Healthy(ctx context.Context) bool {
	if c.client == nil {
		return true
	}
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return c.client.Ping(opCtx).Err() == nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Sets:           c.sets.Load(),
		RedisErrors:    c.redisErrors.Load(),
		LocalFallbacks: c.localFallbacks.Load(),
		LocalSize:      c.local.Len(),
	}
}
