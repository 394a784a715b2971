package ratelimit

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/onset-explainer/internal/errors"
)

// IPRateLimitMiddleware enforces the per-IP budget. Limiter failures never
// block a request.
func (rl *RateLimiter) IPRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := rl.AllowIP(c.Request.Context(), ip)
		if err != nil {
			rl.logger.Error("Rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitBlock(result.Backend)
			}
			_ = c.Error(errors.NewRateLimitError(result.RetryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}
