package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/confesso/core/internal/pkg/response"
)

const (
	idempotenceHeader = "x-idempotence"
	deviceHeader      = "X-Device-Id"
	idempotenceTTL    = 60 * time.Second

	idempotencePending = "0"
	idempotenceDone    = "1"
)

// IdempotenceStore is the subset of the Redis client used to remember
// recent writes.
type IdempotenceStore interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Idempotence rejects a write identical to one that is in flight or that
// succeeded in the last minute. The key is the x-idempotence header, or a
// hash of the request.
func Idempotence(store IdempotenceStore, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		if shouldSkipIdempotence(c.Request.Method, c.Request.URL.Path) {
			c.Next()
			return
		}

		key, err := resolveIdempotenceKey(c)
		if err != nil || key == "" {
			c.Next()
			return
		}

		storeKey := fmt.Sprintf("idempotence:%s", key)
		ctx := c.Request.Context()

		acquired, err := store.SetNX(ctx, storeKey, idempotencePending, idempotenceTTL)
		if err != nil {
			logger.Warn("idempotence store failed", zap.Error(err))
			c.Next()
			return
		}
		if !acquired {
			msg := "A mesma requisição só pode ser enviada uma vez a cada 60 segundos"
			if val, _ := store.Get(ctx, storeKey); val == idempotencePending {
				msg = "A mesma requisição já está sendo processada"
			}
			response.Conflict(c, msg)
			return
		}

		c.Next()

		// The request context may be gone once the handler returns.
		done := context.WithoutCancel(ctx)
		status := c.Writer.Status()
		if status >= 200 && status < 300 {
			_ = store.Set(done, storeKey, idempotenceDone, redis.KeepTTL)
		} else {
			_ = store.Del(done, storeKey)
		}
	}
}

func shouldSkipIdempotence(method, path string) bool {
	switch method {
	case http.MethodPost, http.MethodPut:
	default:
		return false
	}

	p := strings.TrimSpace(strings.ToLower(path))
	p = strings.TrimRight(p, "/")
	switch {
	case p == "/api/v1/auth/login":
		return true
	// Likes are counters; repeating one is a new like.
	case strings.HasSuffix(p, "/like"):
		return true
	default:
		return false
	}
}

// resolveIdempotenceKey returns the idempotence key for the current request.
func resolveIdempotenceKey(c *gin.Context) (string, error) {
	if hdr := c.GetHeader(idempotenceHeader); hdr != "" {
		return hdr, nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	ua := c.Request.UserAgent()
	ip := c.ClientIP()
	device := c.GetHeader(deviceHeader)
	authToken := NormalizeToken(c.GetHeader("Authorization"))

	if len(body) == 0 && ua == "" && ip == "" && device == "" && authToken == "" {
		return "", nil
	}

	raw := c.Request.Method + "|" + c.Request.URL.String() + "|" + string(body) + "|" + ua + "|" + ip + "|" + device + "|" + authToken
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:]), nil
}
