package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"chatline/internal/config"
	"chatline/internal/gateway/handlers"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerMinute is the refill rate of each client bucket.
	RequestsPerMinute int
	// Burst is the bucket capacity.
	Burst   int
	Enabled bool
	// IdleTTL drops buckets of clients that have been quiet this long.
	IdleTTL time.Duration
}

// RateLimiterConfigFrom maps the gateway configuration, filling defaults.
func RateLimiterConfigFrom(c config.RateLimitConfig) RateLimiterConfig {
	rl := RateLimiterConfig{
		RequestsPerMinute: c.RequestsPerMinute,
		Burst:             c.Burst,
		Enabled:           c.Enabled,
		IdleTTL:           c.CleanupInterval,
	}
	if rl.RequestsPerMinute <= 0 {
		rl.RequestsPerMinute = 60
	}
	if rl.Burst <= 0 {
		rl.Burst = 10
	}
	if rl.IdleTTL <= 0 {
		rl.IdleTTL = 5 * time.Minute
	}
	return rl
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a per-client token bucket limiter. Idle buckets expire
// from a go-cache store.
type RateLimiter struct {
	config  RateLimiterConfig
	buckets *cache.Cache
	mu      sync.Mutex
}

// NewRateLimiter creates a limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	ttl := config.IdleTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RateLimiter{
		config:  config,
		buckets: cache.New(ttl, ttl),
	}
}

// Stop releases the bucket store.
func (rl *RateLimiter) Stop() {
	rl.buckets.Flush()
}

func (rl *RateLimiter) bucket(ip string) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if x, ok := rl.buckets.Get(ip); ok {
		b := x.(*tokenBucket)
		rl.buckets.SetDefault(ip, b)
		return b
	}
	b := &tokenBucket{tokens: float64(rl.config.Burst), lastRefill: time.Now()}
	rl.buckets.SetDefault(ip, b)
	return b
}

// Allow takes a token for ip. It returns whether the request may proceed,
// the tokens left and when the bucket will be full again.
func (rl *RateLimiter) Allow(ip string) (bool, int, time.Time) {
	if !rl.config.Enabled {
		return true, rl.config.RequestsPerMinute, time.Now().Add(time.Minute)
	}

	b := rl.bucket(ip)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	perSecond := float64(rl.config.RequestsPerMinute) / 60.0
	b.tokens = min(b.tokens+now.Sub(b.lastRefill).Seconds()*perSecond, float64(rl.config.Burst))
	b.lastRefill = now

	reset := now.Add(time.Duration((float64(rl.config.Burst) - b.tokens) / perSecond * float64(time.Second)))
	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), reset
	}
	return false, 0, reset
}

// RateLimit rejects clients that exhausted their bucket with 429.
func (rl *RateLimiter) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, reset := rl.Allow(clientIP(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(reset).Seconds())+1, 10))
			handlers.SendError(w, http.StatusTooManyRequests, handlers.ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
