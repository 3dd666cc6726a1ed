package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/confesso/core/internal/pkg/response"
)

const (
	defaultRateLimitMax    = 50
	defaultRateLimitWindow = time.Second
)

// Counter increments a key, setting ttl when the key is created.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RateLimit allows max requests per client IP in each fixed window. Admin
// requests are not limited. Counter failures let the request through.
func RateLimit(counter Counter, max int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if max <= 0 {
		max = defaultRateLimitMax
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	retryAfter := fmt.Sprintf("%d", int((window+time.Second-1)/time.Second))

	return func(c *gin.Context) {
		if IsAuthenticated(c) {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		windowKey := time.Now().UnixNano() / int64(window)
		key := fmt.Sprintf("rate_limit:%s:%d", ip, windowKey)

		count, err := counter.Incr(ctx, key, window+time.Second)
		if err != nil {
			logger.Warn("rate limit counter failed", zap.String("ip", ip), zap.Error(err))
			c.Next()
			return
		}

		if count > int64(max) {
			logger.Info("rate limited", zap.String("ip", ip), zap.String("path", c.Request.URL.Path))
			c.Header("Retry-After", retryAfter)
			response.TooManyRequests(c, "Calma! Muitas requisições, tente de novo em instantes")
			return
		}

		c.Next()
	}
}
