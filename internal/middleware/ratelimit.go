package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/config"
)

// RateLimiter enforces per-client sliding-window limits backed by Redis, so
// limits hold across replicas. When Redis is unreachable the limiter FAILS
// OPEN: governance traffic is low-volume and human-driven, and refusing all
// writes because a cache is down would be worse than briefly losing the limit.
type RateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	logger  *slog.Logger
}

// NewRateLimiter creates a Redis-backed limiter from configuration.
func NewRateLimiter(cfg config.RateLimitingConfig, logger *slog.Logger) *RateLimiter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &RateLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit: redis_rate.Limit{
			Rate:   cfg.RequestsPerMinute,
			Burst:  cfg.Burst,
			Period: time.Minute,
		},
		logger: logger,
	}
}

// Middleware returns the Gin handler enforcing the limit. Clients are keyed
// by IP; auth runs later in the chain, so the principal is not yet known.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:ip:" + c.ClientIP()

		res, err := rl.limiter.Allow(c.Request.Context(), key, rl.limit)
		if err != nil {
			// Fail open.
			rl.logger.Warn("rate limiter unavailable, allowing request",
				slog.String("error", err.Error()))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit.Rate))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if res.Allowed == 0 {
			retryAfter := int(res.RetryAfter.Seconds() + 1)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperrors.Envelope{
				Error:   "RateLimitedError",
				Message: "rate limit exceeded",
				Details: map[string]any{"retry_after_seconds": retryAfter},
			})
			return
		}

		c.Next()
	}
}
