package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
)

// Counter counts hits for key within a fixed window and returns the count
// including this hit.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter is a fixed-window counter shared by every instance.
type RedisCounter struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client, prefix: "ratelimit:"}
}

func (r *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := r.prefix + key
	var incr *redis.IntCmd
	// The window is created with its TTL in the same MULTI as the INCR, so
	// a counter key can never outlive it.
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, window)
		incr = pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// RateLimit rejects a client that exceeds limit requests per window on the
// routes it guards. Counter failures let the request through.
func RateLimit(counter Counter, name string, limit int, window time.Duration) gin.HandlerFunc {
	logger := logging.NewLoggerV2("rate-limit")

	return func(c *gin.Context) {
		key := name + ":" + c.ClientIP()
		n, err := counter.Hit(c.Request.Context(), key, window)
		if err != nil {
			logger.Warn("Rate limit counter unavailable", logging.Fields{
				"key":   key,
				"error": err.Error(),
			})
			c.Next()
			return
		}

		remaining := int64(limit) - n
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if n > int64(limit) {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message": "Too many requests, please try again later",
			})
			return
		}
		c.Next()
	}
}
