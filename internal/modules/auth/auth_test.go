package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	jwtpkg "github.com/confesso/core/internal/pkg/jwt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3nha"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewService(Options{Username: "admin", PasswordHash: string(hash), TokenTTL: time.Hour}, zaptest.NewLogger(t))
}

func TestService_Login(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	token, expiresAt, err := svc.Login(ctx, "admin", "s3nha")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, _, err = svc.Login(ctx, "admin", "errada")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "root", "s3nha")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_Validate(t *testing.T) {
	svc := newTestService(t)

	other, err := jwtpkg.Sign("device", "viewer", time.Hour)
	require.NoError(t, err)
	_, err = svc.Validate(other)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Validate("garbage")
	assert.Error(t, err)
}

func TestService_NotConfigured(t *testing.T) {
	svc := NewService(Options{}, nil)
	_, _, err := svc.Login(context.Background(), "admin", "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestService_FailureDelayHonorsContext(t *testing.T) {
	svc := newTestService(t)
	svc.opts.FailureDelay = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := svc.Login(ctx, "admin", "errada")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestHandler_Login(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(newTestService(t)).RegisterRoutes(r.Group("/api/v1"), func(c *gin.Context) { c.Next() })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"admin","password":"s3nha"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"token"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"admin","password":"x"}`)))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
