package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Rate  int // requests per second
	Burst int // maximum burst size
}

// RateLimiter applies per-key rate limits backed by Redis.
type RateLimiter struct {
	limiter  *redis_rate.Limiter
	logger   *zap.Logger
	failOpen bool // allow requests when Redis is unavailable
	prefix   string
}

// NewRateLimiter creates a rate limiter over the given Redis client.
func NewRateLimiter(redisClient *redis.Client, failOpen bool, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		limiter:  redis_rate.NewLimiter(redisClient),
		logger:   logger,
		failOpen: failOpen,
		prefix:   "ratelimit:",
	}
}

// Middleware returns a gin middleware limiting requests per key.
func (r *RateLimiter) Middleware(keyFunc func(*gin.Context) string, config RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)
		if key == "" {
			c.Next()
			return
		}

		limit := redis_rate.PerSecond(config.Rate)
		res, err := r.limiter.AllowN(context.Background(), r.prefix+key, limit, config.Burst)
		if err != nil {
			r.logger.Error("rate limiter error", zap.Error(err))
			if r.failOpen {
				c.Next()
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "SERVICE_UNAVAILABLE",
				"message": "Rate limiting unavailable",
			})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", config.Rate))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(res.RetryAfter).Unix()))

		if res.Allowed == 0 {
			retryAfter := int(res.RetryAfter.Seconds()) + 1
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "RATE_LIMIT_EXCEEDED",
				"message":     "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// ByIP limits requests by client IP address.
func ByIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// ByUserID limits requests by authenticated user id, falling back to
// the client IP before authentication.
func ByUserID(c *gin.Context) string {
	if userID, exists := c.Get("user_id"); exists {
		return "user:" + userID.(string)
	}
	return ByIP(c)
}

// Predefined limits for the verification endpoints.
var (
	// VerifyConfig bounds receipt verification, the expensive endpoint.
	VerifyConfig = RateLimitConfig{Rate: 1, Burst: 5}

	// PollingConfig bounds subscription status polling.
	PollingConfig = RateLimitConfig{Rate: 2, Burst: 10}
)
