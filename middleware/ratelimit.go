package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mkulina/housing-pricing/metrics"
	"github.com/mkulina/housing-pricing/services"
)

const RateLimitMessage = "Too many requests. Please slow down."

// RateLimit admits requests through limiter keyed by client IP. A limiter
// error lets the request through.
func RateLimit(limiter services.Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Error("rate limiter unavailable, admitting request",
				zap.String("client_ip", key),
				zap.String("request_id", GetRequestID(c)),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			metrics.RateLimited.Inc()
			logger.Warn("rate limit exceeded",
				zap.String("client_ip", key),
				zap.String("request_id", GetRequestID(c)),
				zap.Int("limit", decision.Limit),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": RateLimitMessage,
			})
			return
		}
		c.Next()
	}
}
