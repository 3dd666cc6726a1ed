package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/confesso/core/internal/pkg/jwt"
	"github.com/confesso/core/internal/pkg/response"
)

const ContextKeyAdmin = "admin_subject"

// TokenValidator checks an admin token and returns its claims.
type TokenValidator func(token string) (*jwt.Claims, error)

// AdminAuth rejects requests without a valid admin token.
func AdminAuth(validate TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c)
			return
		}
		claims, err := validate(token)
		if err != nil {
			response.Unauthorized(c)
			return
		}
		c.Set(ContextKeyAdmin, claims.Subject)
		c.Next()
	}
}

// OptionalAdmin marks the request as authenticated when it carries a valid
// admin token, without blocking anonymous requests.
func OptionalAdmin(validate TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := extractToken(c); token != "" {
			if claims, err := validate(token); err == nil {
				c.Set(ContextKeyAdmin, claims.Subject)
			}
		}
		c.Next()
	}
}

// CurrentAdmin returns the authenticated admin username, if any.
func CurrentAdmin(c *gin.Context) string {
	v, _ := c.Get(ContextKeyAdmin)
	name, _ := v.(string)
	return name
}

// IsAuthenticated returns true if the request has a valid admin token.
func IsAuthenticated(c *gin.Context) bool {
	return CurrentAdmin(c) != ""
}

func extractToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth != "" {
		return NormalizeToken(auth)
	}
	return NormalizeToken(c.Query("token"))
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
