package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/docskit/tenant-api/internal/handler"
	"github.com/docskit/tenant-api/pkg/logger"
)

// RedisRateLimiter is a fixed-window per-client limiter shared across
// instances. If Redis is unreachable the request is allowed; rate limiting
// degrades before availability does.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *logger.Logger
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration, logger *logger.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

func (rl *RedisRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:%s:%d", c.ClientIP(), time.Now().Unix()/int64(rl.window.Seconds()))

		pipe := rl.client.TxPipeline()
		count := pipe.Incr(c.Request.Context(), key)
		pipe.Expire(c.Request.Context(), key, rl.window)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			rl.logger.Warn("rate limiter unavailable, allowing request", "error", err.Error())
			c.Next()
			return
		}

		if count.Val() > int64(rl.limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				handler.NewErrorResponse("rate limit exceeded"))
			return
		}
		c.Next()
	}
}
