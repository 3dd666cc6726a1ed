package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int                `yaml:"port"`
	Env            string             `yaml:"env"` // "development" | "production"
	AllowedOrigins []string           `yaml:"allowed_origins"`
	JWTSecret      string             `yaml:"jwt_secret"`
	Paths          RuntimePathsConfig `yaml:"paths"`
	Mongo          MongoRuntimeConfig `yaml:"mongo"`
	Redis          RedisRuntimeConfig `yaml:"redis"`
	Feed           FeedConfig         `yaml:"feed"`
	Location       LocationConfig     `yaml:"location"`
	Geocode        GeocodeConfig      `yaml:"geocode"`
	Regions        RegionsConfig      `yaml:"regions"`
	Admin          AdminConfig        `yaml:"admin"`
	Moderation     ModerationConfig   `yaml:"moderation"`
	RateLimit      RateLimitConfig    `yaml:"rate_limit"`
}

// MongoRuntimeConfig selects the document store. Without a URI the server
// keeps documents in memory.
type MongoRuntimeConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisRuntimeConfig is either a URL or its parts. Without both, features
// backed by Redis fall back to in-process state or are disabled.
type RedisRuntimeConfig struct {
	URL      string            `yaml:"url"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	DB       int               `yaml:"db"`
	TLS      bool              `yaml:"tls"`
	Scheme   string            `yaml:"scheme"`
	Params   map[string]string `yaml:"params"`
	Prefix   string            `yaml:"prefix"`
}

type FeedConfig struct {
	DefaultRadiusKm int `yaml:"default_radius_km"`
	MinRadiusKm     int `yaml:"min_radius_km"`
	MaxRadiusKm     int `yaml:"max_radius_km"`
	MaxTextLength   int `yaml:"max_text_length"`
	MaxReportLength int `yaml:"max_report_length"`
}

type LocationConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	PromptTimeout time.Duration `yaml:"prompt_timeout"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
}

type GeocodeConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	Language  string        `yaml:"language"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type RegionsConfig struct {
	File string `yaml:"file"`
}

type AdminConfig struct {
	Username     string        `yaml:"username"`
	PasswordHash string        `yaml:"password_hash"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	FailureDelay time.Duration `yaml:"failure_delay"`
}

type ModerationConfig struct {
	Enabled bool     `yaml:"enabled"`
	Words   []string `yaml:"words"`
}

type RateLimitConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

type RuntimePathsConfig struct {
	Logs string `yaml:"logs"`
}

func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	dotenv, err := readDotenv(filepath.Join(filepath.Dir(path), DotenvFile))
	if err != nil {
		return nil, err
	}
	cfg, err := parse(content, lookupEnv(dotenv))
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return cfg, nil
}

// readDotenv reads a .env file. A missing file yields no values.
func readDotenv(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return values, nil
}

// lookupEnv prefers a non-empty process environment value over .env values.
func lookupEnv(dotenv map[string]string) func(string) string {
	return func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result. Unknown keys are rejected.
func Parse(content []byte) (*AppConfig, error) {
	return parse(content, os.Getenv)
}

func parse(content []byte, getenv func(string) string) (*AppConfig, error) {
	cfg := defaultAppConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}

	applyEnv(&cfg, getenv)
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Mongo: MongoRuntimeConfig{
			Database: defaultMongoDatabase,
		},
		Redis: RedisRuntimeConfig{
			Port:   defaultRedisPort,
			DB:     defaultRedisDB,
			Prefix: defaultRedisPrefix,
		},
		Feed: FeedConfig{
			DefaultRadiusKm: defaultRadiusKm,
			MinRadiusKm:     defaultMinRadiusKm,
			MaxRadiusKm:     defaultMaxRadiusKm,
			MaxTextLength:   defaultMaxTextLength,
			MaxReportLength: defaultReportLength,
		},
		Location: LocationConfig{
			Timeout:       defaultLocationTimeout,
			PromptTimeout: defaultPromptTimeout,
			RetryDelay:    defaultRetryDelay,
			MaxRetryDelay: defaultMaxRetryDelay,
		},
		Geocode: GeocodeConfig{
			BaseURL:   defaultGeocodeBaseURL,
			Timeout:   defaultGeocodeTimeout,
			UserAgent: defaultGeocodeAgent,
			Language:  defaultGeocodeLanguage,
			CacheTTL:  defaultGeocodeCacheTTL,
		},
		Admin: AdminConfig{
			Username:     defaultAdminUsername,
			TokenTTL:     defaultTokenTTL,
			FailureDelay: defaultFailureDelay,
		},
		RateLimit: RateLimitConfig{
			Max:    defaultRateLimitMax,
			Window: defaultRateLimitWindow,
		},
	}
}

// applyEnv lets deployments keep secrets out of the config file.
func applyEnv(cfg *AppConfig, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvMongoURI)); v != "" {
		cfg.Mongo.URI = v
	}
	if v := strings.TrimSpace(getenv(EnvRedisURL)); v != "" {
		cfg.Redis.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvJWTSecret)); v != "" {
		cfg.JWTSecret = v
	}
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", c.Port)
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis.port %d, expected 1-65535", c.Redis.Port)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("invalid redis.db %d, expected >= 0", c.Redis.DB)
	}
	f := c.Feed
	if f.MinRadiusKm < 1 || f.MaxRadiusKm < f.MinRadiusKm {
		return fmt.Errorf("invalid feed radius bounds [%d, %d]", f.MinRadiusKm, f.MaxRadiusKm)
	}
	if f.DefaultRadiusKm < f.MinRadiusKm || f.DefaultRadiusKm > f.MaxRadiusKm {
		return fmt.Errorf("feed.default_radius_km %d outside [%d, %d]", f.DefaultRadiusKm, f.MinRadiusKm, f.MaxRadiusKm)
	}
	if f.MaxTextLength < 1 || f.MaxReportLength < 1 {
		return errors.New("feed text limits must be positive")
	}
	durations := map[string]time.Duration{
		"location.timeout":        c.Location.Timeout,
		"location.prompt_timeout": c.Location.PromptTimeout,
		"location.retry_delay":    c.Location.RetryDelay,
		"geocode.timeout":         c.Geocode.Timeout,
		"geocode.cache_ttl":       c.Geocode.CacheTTL,
		"admin.token_ttl":         c.Admin.TokenTTL,
		"rate_limit.window":       c.RateLimit.Window,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Location.MaxRetryDelay < c.Location.RetryDelay {
		return fmt.Errorf("location.max_retry_delay %s is below location.retry_delay %s", c.Location.MaxRetryDelay, c.Location.RetryDelay)
	}
	if c.Admin.FailureDelay < 0 {
		return fmt.Errorf("admin.failure_delay must not be negative, got %s", c.Admin.FailureDelay)
	}
	if c.RateLimit.Max < 1 {
		return fmt.Errorf("invalid rate_limit.max %d, expected >= 1", c.RateLimit.Max)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return errors.New("jwt_secret is required in production")
	}
	return nil
}

func (c *AppConfig) IsDev() bool {
	return c.Env == "development"
}

func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// LogDir is the directory of the daily log files.
func (c *AppConfig) LogDir() string {
	if c.Paths.Logs == "" {
		return ""
	}
	return resolveRuntimePath(c.Paths.Logs)
}

// AdminEnabled reports whether an admin password is configured.
func (c *AppConfig) AdminEnabled() bool {
	return c.Admin.PasswordHash != ""
}
