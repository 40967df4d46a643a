// Package ifacetier implements L1: request validation, rate limiting,
// the request-history ring, and built-in command dispatch ahead of the
// intelligence tier.
package ifacetier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/aios-systems/aios/core"
)

// RateLimiter enforces a sliding window of at most maxRequests per
// identity per window, per §3's rate-limit bucket invariant. Allow
// returns whether the request is permitted and, if not, the number of
// seconds the caller should wait before retrying.
type RateLimiter interface {
	Allow(ctx context.Context, identity string) (bool, int)
}

// InMemoryRateLimiter is the default limiter: a per-identity ring of
// request timestamps guarded by its own mutex, adapted from
// ui/security/inmemory_limiter.go's bucket-per-client design but using an
// actual sliding log (eviction of entries older than the window) rather
// than a fixed window counter, to match §3's literal "ring of request
// timestamps ... entries older than the window are evicted on access"
// invariant.
type InMemoryRateLimiter struct {
	window      time.Duration
	maxRequests int

	mu      sync.Mutex
	buckets map[string]*bucket

	cleanupMu   sync.Mutex
	lastCleanup time.Time
}

type bucket struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// NewInMemoryRateLimiter builds a limiter allowing maxRequests per window
// per identity.
func NewInMemoryRateLimiter(window time.Duration, maxRequests int) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		window:      window,
		maxRequests: maxRequests,
		buckets:     map[string]*bucket{},
		lastCleanup: time.Now(),
	}
}

// Allow evicts timestamps outside the window, then admits the request
// only if the bucket is still under maxRequests.
func (l *InMemoryRateLimiter) Allow(ctx context.Context, identity string) (bool, int) {
	now := time.Now()
	l.cleanupIfNeeded(now)

	l.mu.Lock()
	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{}
		l.buckets[identity] = b
	}
	l.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.timestamps = kept

	if len(b.timestamps) >= l.maxRequests {
		return false, int(l.window.Seconds())
	}

	b.timestamps = append(b.timestamps, now)
	return true, 0
}

// cleanupIfNeeded drops buckets that have had no activity for a full
// window, so memory does not grow with the lifetime count of distinct
// identities.
func (l *InMemoryRateLimiter) cleanupIfNeeded(now time.Time) {
	if now.Sub(l.lastCleanup) < l.window {
		return
	}
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()
	if now.Sub(l.lastCleanup) < l.window {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-l.window)
	for id, b := range l.buckets {
		b.mu.Lock()
		empty := len(b.timestamps) == 0 || b.timestamps[len(b.timestamps)-1].Before(cutoff)
		b.mu.Unlock()
		if empty {
			delete(l.buckets, id)
		}
	}
	l.lastCleanup = now
}

// RedisRateLimiter is the distributed backend, active when
// config.Resources.RedisURL is set: a sorted-set sliding window where
// each request is a ZADD member scored by its timestamp,
// ZREMRANGEBYSCORE evicts everything outside the window, and ZCARD
// yields the current count.
type RedisRateLimiter struct {
	client      *redis.Client
	window      time.Duration
	maxRequests int
	namespace   string
}

// NewRedisRateLimiter dials redisURL and returns a limiter sharing it.
func NewRedisRateLimiter(redisURL string, window time.Duration, maxRequests int) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, core.NewCoreError(core.LayerInterface, core.KindGeneric, "redis_url_invalid",
			"failed to parse rate limiter redis url", false, err)
	}
	client := redis.NewClient(opts)
	return &RedisRateLimiter{client: client, window: window, maxRequests: maxRequests, namespace: "aios:ratelimit"}, nil
}

func (l *RedisRateLimiter) key(identity string) string {
	return fmt.Sprintf("%s:%s", l.namespace, identity)
}

// Allow implements the sliding-window-log algorithm directly against
// Redis: trim everything older than the window, count what remains, and
// only add this request's entry if under the limit.
func (l *RedisRateLimiter) Allow(ctx context.Context, identity string) (bool, int) {
	key := l.key(identity)
	now := time.Now()
	cutoff := now.Add(-l.window)

	if err := l.client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff.UnixNano())).Err(); err != nil {
		return true, 0 // fail open: a transient Redis error should not block every request
	}

	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return true, 0
	}
	if count >= int64(l.maxRequests) {
		return false, int(l.window.Seconds())
	}

	member := fmt.Sprintf("%d-%d", now.UnixNano(), count)
	l.client.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: member})
	l.client.Expire(ctx, key, l.window)
	return true, 0
}

// Close releases the underlying Redis connection.
func (l *RedisRateLimiter) Close() error {
	return l.client.Close()
}
