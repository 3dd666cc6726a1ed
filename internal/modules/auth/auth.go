// Package auth signs in the single configured administrator.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	jwtpkg "github.com/confesso/core/internal/pkg/jwt"
	"github.com/confesso/core/internal/pkg/response"
)

const (
	RoleAdmin = "admin"

	defaultTokenTTL = 7 * 24 * time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotConfigured      = errors.New("admin login not configured")
	ErrForbidden          = errors.New("token has no admin role")
)

type Options struct {
	Username     string
	PasswordHash string
	TokenTTL     time.Duration
	// FailureDelay slows down every failed attempt.
	FailureDelay time.Duration
}

type LoginDTO struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func NewService(opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.FailureDelay < 0 {
		opts.FailureDelay = 0
	}
	return &Service{opts: opts, logger: logger.Named("auth"), now: time.Now}
}

// Login checks the credentials against the configured bcrypt hash and
// returns a signed admin token.
func (s *Service) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	if s.opts.Username == "" || s.opts.PasswordHash == "" {
		return "", time.Time{}, ErrNotConfigured
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.opts.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(s.opts.PasswordHash), []byte(password))
	if !userOK || passErr != nil {
		s.logger.Warn("admin login failed", zap.String("username", username))
		s.delay(ctx)
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, err := jwtpkg.Sign(s.opts.Username, RoleAdmin, s.opts.TokenTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, s.now().Add(s.opts.TokenTTL), nil
}

// Validate accepts only unexpired admin tokens.
func (s *Service) Validate(token string) (*jwtpkg.Claims, error) {
	claims, err := jwtpkg.Parse(token)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	return claims, nil
}

func (s *Service) delay(ctx context.Context) {
	if s.opts.FailureDelay <= 0 {
		return
	}
	t := time.NewTimer(s.opts.FailureDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	a := rg.Group("/auth")
	a.POST("/login", h.login)
	a.GET("/check", authMW, h.check)
}

// POST /auth/login
func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Informe usuário e senha")
		return
	}
	token, expiresAt, err := h.svc.Login(c.Request.Context(), dto.Username, dto.Password)
	switch {
	case err == nil:
		response.OK(c, tokenResponse{Token: token, ExpiresAt: expiresAt})
	case errors.Is(err, ErrInvalidCredentials):
		response.Forbidden(c)
	case errors.Is(err, ErrNotConfigured):
		response.ServiceUnavailable(c, "Login administrativo desativado")
	default:
		response.InternalError(c, err)
	}
}

// GET /auth/check
func (h *Handler) check(c *gin.Context) {
	response.OK(c, gin.H{"ok": true})
}
