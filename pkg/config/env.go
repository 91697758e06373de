package config

const (
	EnvPrefix = "MARKET"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv              = "MARKET_APP_ENV"
	EnvPort                = "MARKET_APP_PORT"
	EnvDBDSN               = "MARKET_DB_DSN"
	EnvDBHost              = "MARKET_DB_HOST"
	EnvDBUser              = "MARKET_DB_USER"
	EnvDBName              = "MARKET_DB_NAME"
	EnvRedisURL            = "MARKET_REDIS_URL"
	EnvJWTSecret           = "MARKET_JWT_SECRET"
	EnvJWTIssuer           = "MARKET_JWT_ISSUER"
	EnvStripeAPIKey        = "MARKET_STRIPE_API_KEY"
	EnvStripeSecret        = "MARKET_STRIPE_SECRET"
	EnvLocksBackend        = "MARKET_LOCKS_BACKEND"
	EnvLocksAcquireTimeout = "MARKET_LOCKS_ACQUIRE_TIMEOUT"
	EnvPlatformFeeBps      = "MARKET_PLATFORM_FEE_BPS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
