package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
	"github.com/ZanzyTHEbar/onset-explainer/internal/redisconn"
)

// Config holds rate limiter configuration
type Config struct {
	IPLimitPerMin   int           // per-IP requests per minute on the prediction routes
	CleanupInterval time.Duration // how often idle in-memory limiters are dropped
	IdleTimeout     time.Duration // a fallback limiter unused this long is dropped
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		IPLimitPerMin:   60,
		CleanupInterval: 10 * time.Minute,
		IdleTimeout:     30 * time.Minute,
	}
}

// Rate is a request budget per period
type Rate struct {
	Limit  int
	Period time.Duration
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Backend    string
}

type fallbackEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides distributed rate limiting with Redis and in-memory fallback
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	config       Config
	metrics      *monitoring.Metrics
	logger       *monitoring.Logger

	mu       sync.Mutex
	fallback map[string]*fallbackEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a rate limiter. A disabled Redis client leaves it
// in-memory only.
func NewRateLimiter(client *redisconn.Client, config Config, metrics *monitoring.Metrics, logger *monitoring.Logger) *RateLimiter {
	def := DefaultConfig()
	if config.IPLimitPerMin <= 0 {
		config.IPLimitPerMin = def.IPLimitPerMin
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if logger == nil {
		logger = monitoring.NewLogger("info")
	}

	rl := &RateLimiter{
		config:   config,
		metrics:  metrics,
		logger:   logger,
		fallback: make(map[string]*fallbackEntry),
		stop:     make(chan struct{}),
	}

	if client.Enabled() {
		rl.redisLimiter = redis_rate.NewLimiter(client.Redis())
		logger.Info("Redis rate limiter initialized")
	} else {
		logger.Warn("Redis unavailable, using in-memory rate limiting only")
	}

	go rl.cleanupLoop()

	return rl
}

// Close stops the cleanup goroutine
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// AllowIP checks the per-minute budget of one client address
func (rl *RateLimiter) AllowIP(ctx context.Context, ip string) (*Result, error) {
	return rl.Allow(ctx, "ratelimit:ip:"+ip, Rate{Limit: rl.config.IPLimitPerMin, Period: time.Minute})
}

// Allow consumes one request from key's budget. Redis errors fall through
// to the in-memory limiter.
func (rl *RateLimiter) Allow(ctx context.Context, key string, r Rate) (*Result, error) {
	if r.Limit <= 0 || r.Period <= 0 {
		return nil, fmt.Errorf("invalid rate %d per %s", r.Limit, r.Period)
	}

	if rl.redisLimiter != nil {
		result, err := rl.allowRedis(ctx, key, r)
		if err == nil {
			return result, nil
		}
		rl.logger.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
	}

	if rl.metrics != nil {
		rl.metrics.IncrementRateLimitFallback()
	}
	return rl.allowFallback(key, r), nil
}

func (rl *RateLimiter) allowRedis(ctx context.Context, key string, r Rate) (*Result, error) {
	res, err := rl.redisLimiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   r.Limit,
		Burst:  r.Limit,
		Period: r.Period,
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      r.Limit,
		Remaining:  res.Remaining,
		ResetAt:    time.Now().Add(res.ResetAfter),
		RetryAfter: res.RetryAfter,
		Backend:    "redis",
	}, nil
}

// allowFallback is a token bucket refilling at Limit per Period with a
// burst of Limit, which matches the Redis GCRA limit above.
func (rl *RateLimiter) allowFallback(key string, r Rate) *Result {
	now := time.Now()

	rl.mu.Lock()
	entry, ok := rl.fallback[key]
	if !ok {
		entry = &fallbackEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(r.Limit)/r.Period.Seconds()), r.Limit),
		}
		rl.fallback[key] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()

	result := &Result{
		Limit:   r.Limit,
		ResetAt: now.Add(r.Period),
		Backend: "memory",
	}

	if entry.limiter.AllowN(now, 1) {
		result.Allowed = true
		result.Remaining = max(int(entry.limiter.TokensAt(now)), 0)
		return result
	}

	// time until one token is available, without consuming it
	reservation := entry.limiter.ReserveN(now, 1)
	result.RetryAfter = reservation.DelayFrom(now)
	reservation.CancelAt(now)
	result.ResetAt = now.Add(result.RetryAfter)
	return result
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.cleanup(now)
		}
	}
}

func (rl *RateLimiter) cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, entry := range rl.fallback {
		if now.Sub(entry.lastSeen) > rl.config.IdleTimeout {
			delete(rl.fallback, key)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("Dropped idle fallback rate limiters", "count", removed)
	}
	return removed
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]any {
	rl.mu.Lock()
	fallbackCount := len(rl.fallback)
	rl.mu.Unlock()

	return map[string]any{
		"redis_enabled":     rl.redisLimiter != nil,
		"ip_limit_per_min":  rl.config.IPLimitPerMin,
		"fallback_limiters": fallbackCount,
	}
}
