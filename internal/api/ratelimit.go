package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Per-caller token bucket rate limiter
//
// Buckets are keyed on the same identity the free-tier quota meters: the
// X-API-Key header when one is presented, otherwise the client IP. Keyed
// clients behind a shared NAT get independent buckets, and a key cannot
// dodge the limit by rotating source addresses. This layer is the
// burst limit; the durable daily quota lives in the store.
//
// An empty bucket answers 429 with a Retry-After header. A background
// sweep drops buckets idle past bucketIdleTTL so transient callers do not
// grow the map without bound.

const bucketIdleTTL = 10 * time.Minute

type callerBucket struct {
	mu       sync.Mutex
	tokens   float64
	lastFill time.Time
}

// take refills the bucket for elapsed time and spends one token if
// available, otherwise returns the wait until one exists.
func (b *callerBucket) take(rate, burst float64, now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastFill).Seconds() * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.lastFill = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0
	}
	return false, time.Duration((1.0-b.tokens)/rate*1000) * time.Millisecond
}

// RateLimiter holds per-caller bucket state.
type RateLimiter struct {
	rate      float64 // tokens added per second
	burst     float64 // max bucket capacity
	perMinute int
	mu        sync.Mutex
	buckets   map[string]*callerBucket
}

// NewRateLimiter allows perMinute requests per minute per caller, with a
// burst capacity of burst requests.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	rl := &RateLimiter{
		rate:      float64(perMinute) / 60.0,
		burst:     float64(burst),
		perMinute: perMinute,
		buckets:   make(map[string]*callerBucket),
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) bucketFor(caller string) *callerBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[caller]
	if !ok {
		b = &callerBucket{tokens: rl.burst, lastFill: time.Now()}
		rl.buckets[caller] = b
	}
	return b
}

// Allow spends one token for the caller.
func (rl *RateLimiter) Allow(caller string) (bool, time.Duration) {
	return rl.bucketFor(caller).take(rl.rate, rl.burst, time.Now())
}

// Middleware returns a Gin handler enforcing the limit per caller.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := rl.Allow(requesterID(c))
		if !allowed {
			c.Header("Retry-After", retryAfter.String())
			apiError(c, http.StatusTooManyRequests, "rate_limited",
				"Rate limit exceeded",
				fmt.Sprintf("%d requests/minute per caller; retry after %s", rl.perMinute, retryAfter))
			c.Abort()
			return
		}
		c.Next()
	}
}

// sweep drops buckets idle past bucketIdleTTL.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(bucketIdleTTL)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-bucketIdleTTL)
		rl.mu.Lock()
		for caller, b := range rl.buckets {
			b.mu.Lock()
			idle := b.lastFill.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(rl.buckets, caller)
			}
		}
		rl.mu.Unlock()
	}
}
