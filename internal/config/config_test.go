package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, defaultPort, cfg.Port)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, 10, cfg.Feed.DefaultRadiusKm)
	assert.Equal(t, 15*time.Second, cfg.Location.Timeout)
	assert.Equal(t, time.Second, cfg.Location.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Location.MaxRetryDelay)
	assert.Equal(t, 10*time.Second, cfg.Geocode.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Admin.FailureDelay)
	assert.Equal(t, "confesso", cfg.Mongo.Database)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.AdminEnabled())
	assert.Empty(t, cfg.LogDir())
}

func TestParse_File(t *testing.T) {
	content := `
port: 8080
env: Production
jwt_secret: " s3cret "
allowed_origins: ["https://confesso.app", "  "]
mongo:
  uri: mongodb://localhost:27017
redis:
  host: cache
  password: pw
  db: 2
feed:
  default_radius_km: 5
  max_radius_km: 30
location:
  timeout: 20s
geocode:
  base_url: https://geo.example.com/
admin:
  username: root
  password_hash: $2a$10$abc
moderation:
  enabled: true
  words: ["  palavrão ", ""]
rate_limit:
  max: 10
  window: 2s
`
	cfg, err := Parse([]byte(content))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, []string{"https://confesso.app"}, cfg.AllowedOrigins)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "redis://:pw@cache:6379/2", cfg.Redis.URLValue())
	assert.Equal(t, 5, cfg.Feed.DefaultRadiusKm)
	assert.Equal(t, 1, cfg.Feed.MinRadiusKm)
	assert.Equal(t, 30, cfg.Feed.MaxRadiusKm)
	assert.Equal(t, 20*time.Second, cfg.Location.Timeout)
	assert.Equal(t, "https://geo.example.com", cfg.Geocode.BaseURL)
	assert.True(t, cfg.AdminEnabled())
	assert.Equal(t, []string{"palavrão"}, cfg.Moderation.Words)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Window)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv(EnvMongoURI, "mongodb://env:27017")
	t.Setenv(EnvRedisURL, "env-redis:6380/1")
	t.Setenv(EnvJWTSecret, "from-env")

	cfg, err := Parse([]byte("jwt_secret: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "mongodb://env:27017", cfg.Mongo.URI)
	assert.Equal(t, "redis://env-redis:6380/1", cfg.Redis.URLValue())
	assert.Equal(t, "from-env", cfg.JWTSecret)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":           "colour: blue\n",
		"bad port":              "port: 70000\n",
		"radius bounds":         "feed: {min_radius_km: 20, max_radius_km: 10}\n",
		"default out of range":  "feed: {default_radius_km: 80}\n",
		"zero timeout":          "location: {timeout: 0s}\n",
		"negative delay":        "admin: {failure_delay: -1s}\n",
		"retry cap below delay": "location: {retry_delay: 5s, max_retry_delay: 1s}\n",
		"no secret in prod":     "env: production\n",
		"bad yaml":              "port: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("port: 3000\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoad_Dotenv(t *testing.T) {
	t.Setenv(EnvMongoURI, "")
	t.Setenv(EnvJWTSecret, "from-process")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("env: production\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DotenvFile),
		[]byte("CONFESSO_MONGO_URI=mongodb://db:27017\nCONFESSO_JWT_SECRET=from-file\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mongodb://db:27017", cfg.Mongo.URI)
	assert.Equal(t, "from-process", cfg.JWTSecret)
}

func TestRedisURLValue(t *testing.T) {
	assert.Equal(t, "", RedisRuntimeConfig{}.URLValue())
	assert.Equal(t, "rediss://user:pw@h:6379/0?dial_timeout=3s",
		RedisRuntimeConfig{Host: "h", Port: 6379, Username: "user", Password: "pw", TLS: true,
			Params: map[string]string{"dial_timeout": "3s"}}.URLValue())
	assert.Equal(t, "redis://x:1/0", RedisRuntimeConfig{URL: "x:1/0"}.URLValue())
}
