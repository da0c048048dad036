package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/apascualco/pairgate/internal/infrastructure/ratelimit"
	"github.com/gin-gonic/gin"
)

// PairingRateLimit caps how many pairing runs an owner may start per minute.
// It must run after the auth middleware. Limiter failures let the request through.
func PairingRateLimit(limiter ratelimit.RateLimiter, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := OwnerID(c)
		if ownerID == "" {
			c.Next()
			return
		}

		result, err := limiter.Allow(c.Request.Context(), ratelimit.PairingKey(ownerID), limit)
		if err != nil {
			slog.Warn("rate limiter unavailable", "owner_id", ownerID, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "too many pairing attempts, please try again later",
			})
			return
		}

		c.Next()
	}
}
