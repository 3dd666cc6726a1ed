package config

import "time"

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	// DotenvFile next to the config file supplies the secret overrides below.
	DotenvFile = ".env"

	EnvMongoURI  = "CONFESSO_MONGO_URI"
	EnvRedisURL  = "CONFESSO_REDIS_URL"
	EnvJWTSecret = "CONFESSO_JWT_SECRET"

	defaultPort          = 2333
	defaultEnv           = "development"
	defaultMongoDatabase = "confesso"
	defaultRedisPort     = 6379
	defaultRedisDB       = 0
	defaultRedisPrefix   = "confesso:"

	defaultRadiusKm      = 10
	defaultMinRadiusKm   = 1
	defaultMaxRadiusKm   = 50
	defaultMaxTextLength = 600
	defaultReportLength  = 300

	defaultLocationTimeout = 15 * time.Second
	defaultPromptTimeout   = time.Minute
	defaultRetryDelay      = time.Second
	defaultMaxRetryDelay   = 30 * time.Second
	defaultGeocodeTimeout  = 10 * time.Second
	defaultGeocodeCacheTTL = 7 * 24 * time.Hour
	defaultGeocodeBaseURL  = "https://nominatim.openstreetmap.org"
	defaultGeocodeLanguage = "pt-BR"
	defaultGeocodeAgent    = "confesso/1.0"

	defaultAdminUsername = "admin"
	defaultTokenTTL      = 7 * 24 * time.Hour
	defaultFailureDelay  = 3 * time.Second

	defaultRateLimitMax    = 50
	defaultRateLimitWindow = time.Second
)
