package app

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/confesso/core/internal/config"
	jwtpkg "github.com/confesso/core/internal/pkg/jwt"
)

func applyRuntimeSettings(cfg *config.AppConfig, logger *zap.Logger) {
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		jwtpkg.SetSecret(secret)
	} else {
		logger.Warn("jwt_secret is empty, using built-in default secret")
	}
	if !cfg.AdminEnabled() {
		logger.Warn("admin.password_hash is empty, admin login is disabled")
	}
}

// humanizeDuration renders d as "2d 3h", "3h 12m", "12m 5s" or "5s".
func humanizeDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := (d - minutes*time.Minute) / time.Second

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
