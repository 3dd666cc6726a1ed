package config

import (
	"os"
	"path/filepath"
	"strings"
)

// normalize trims every string setting and fills derived defaults.
func normalize(cfg *AppConfig) {
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.Paths.Logs = strings.TrimSpace(cfg.Paths.Logs)

	cfg.Mongo.URI = strings.TrimSpace(cfg.Mongo.URI)
	cfg.Mongo.Database = strings.TrimSpace(cfg.Mongo.Database)
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = defaultMongoDatabase
	}

	r := &cfg.Redis
	r.URL = normalizeRedisRawURL(r.URL)
	r.Host = strings.TrimSpace(r.Host)
	r.Username = strings.TrimSpace(r.Username)
	r.Password = strings.TrimSpace(r.Password)
	r.Scheme = redisScheme(r.Scheme, r.TLS)
	if r.Port == 0 {
		r.Port = defaultRedisPort
	}

	cfg.Geocode.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Geocode.BaseURL), "/")
	cfg.Regions.File = strings.TrimSpace(cfg.Regions.File)
	cfg.Admin.Username = strings.TrimSpace(cfg.Admin.Username)
	cfg.Admin.PasswordHash = strings.TrimSpace(cfg.Admin.PasswordHash)
	cfg.Moderation.Words = trimAll(cfg.Moderation.Words)
}

// normalizeRedisRawURL adds the redis:// scheme to a bare host:port/db.
func normalizeRedisRawURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "redis://") || strings.HasPrefix(raw, "rediss://") {
		return raw
	}
	return "redis://" + raw
}

// trimAll trims each value and drops the empty ones.
func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// executableDir is the directory of the running binary, or the working
// directory when it cannot be determined.
func executableDir() string {
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		return filepath.Dir(exe)
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// resolveRuntimePath makes a relative path absolute against the binary's
// directory.
func resolveRuntimePath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(executableDir(), path)
}
