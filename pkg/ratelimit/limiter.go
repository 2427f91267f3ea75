package ratelimit

import (
	"math"
	"sync"
	"time"

	"lightapi/router/pkg/clock"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool

	// RetryAfterSeconds is how long the client should wait before retrying.
	// Set only when Allowed is false; always at least 1.
	RetryAfterSeconds int
}

// Snapshot summarizes the limiter state for health reporting.
type Snapshot struct {
	ActiveBuckets int
	Routes        map[string]int
}

// Limiter holds one token bucket per (route, api-key) pair. Buckets refill
// continuously at requestsPerMinute/60 tokens per second, capped at the
// burst capacity, and are created on first use. A bucket whose settings no
// longer match the resolved configuration is reset to full capacity.
type Limiter struct {
	clock clock.Clock

	mu      sync.RWMutex
	buckets map[bucketKey]*tokenBucket
}

type bucketKey struct {
	route  string
	apiKey string
}

type tokenBucket struct {
	mu              sync.Mutex
	tokens          float64
	capacity        float64
	refillPerSecond float64
	lastRefill      time.Time
	settings        Settings
}

// NewLimiter creates a limiter reading time from clk.
func NewLimiter(clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.System
	}
	return &Limiter{
		clock:   clk,
		buckets: make(map[bucketKey]*tokenBucket),
	}
}

var (
	sharedOnce    sync.Once
	sharedLimiter *Limiter
)

// Shared returns the process-wide limiter, created lazily on first use.
func Shared() *Limiter {
	sharedOnce.Do(func() {
		sharedLimiter = NewLimiter(clock.System)
	})
	return sharedLimiter
}

// Check consumes one token from the bucket for (route, apiKey), creating it
// on first use. Buckets for different routes or keys never share state.
func (l *Limiter) Check(route, apiKey string, settings Settings) Decision {
	now := l.clock.Now()
	bucket := l.bucket(bucketKey{route: route, apiKey: apiKey}, settings, now)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.updateSettings(settings, now)
	bucket.refill(now)

	if bucket.tokens >= 1 {
		bucket.tokens--
		return Decision{Allowed: true}
	}

	needed := 1 - bucket.tokens
	retryAfter := 60
	if bucket.refillPerSecond > 0 {
		retryAfter = int(math.Ceil(needed / bucket.refillPerSecond))
	}
	if retryAfter < 1 {
		retryAfter = 1
	}
	return Decision{Allowed: false, RetryAfterSeconds: retryAfter}
}

func (l *Limiter) bucket(key bucketKey, settings Settings, now time.Time) *tokenBucket {
	l.mu.RLock()
	bucket, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if bucket, ok := l.buckets[key]; ok {
		return bucket
	}
	bucket = newTokenBucket(settings, now)
	l.buckets[key] = bucket
	return bucket
}

// Snapshot returns the active bucket count and per-route bucket counts.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	routes := make(map[string]int)
	for key := range l.buckets {
		routes[key.route]++
	}
	return Snapshot{
		ActiveBuckets: len(l.buckets),
		Routes:        routes,
	}
}

func newTokenBucket(settings Settings, now time.Time) *tokenBucket {
	capacity := float64(settings.Burst)
	return &tokenBucket{
		tokens:          capacity,
		capacity:        capacity,
		refillPerSecond: float64(settings.RequestsPerMinute) / 60.0,
		lastRefill:      now,
		settings:        settings,
	}
}

// updateSettings resets the bucket when its configuration changed. Caller
// holds the bucket lock.
func (b *tokenBucket) updateSettings(settings Settings, now time.Time) {
	if b.settings == settings {
		return
	}
	b.settings = settings
	b.capacity = float64(settings.Burst)
	b.refillPerSecond = float64(settings.RequestsPerMinute) / 60.0
	b.tokens = b.capacity
	b.lastRefill = now
}

// refill adds tokens for the elapsed time, capped at capacity. Caller holds
// the bucket lock.
func (b *tokenBucket) refill(now time.Time) {
	if b.tokens >= b.capacity {
		b.lastRefill = now
		return
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.tokens+elapsed*b.refillPerSecond, b.capacity)
	b.lastRefill = now
}
