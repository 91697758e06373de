package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Checkout     CheckoutConfig
	Vendor       VendorConfig
	Settlement   SettlementConfig
	Locks        LocksConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Locks.validate(); err != nil {
		return nil, err
	}
	if cfg.Settlement.PlatformFeeBps < 0 || cfg.Settlement.PlatformFeeBps > 10000 {
		return nil, fmt.Errorf("%s must be between 0 and 10000", EnvPlatformFeeBps)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKET_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"MARKET_LOG_FORMAT" default:"json"`
	// CORSOrigins lists the storefront origins allowed to call the API.
	CORSOrigins []string `envconfig:"MARKET_APP_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"MARKET_DB_DSN"`

	LegacyHost     string `envconfig:"MARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKET_DB_USER"`
	LegacyPassword string `envconfig:"MARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"MARKET_DB_SLOW_QUERY" default:"500ms"`
	TxAttempts      int           `envconfig:"MARKET_DB_TX_ATTEMPTS" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARKET_REDIS_ADDR"`
	Password     string        `envconfig:"MARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
	// IdempotencyTTL bounds how long a stored POST response is replayed.
	IdempotencyTTL time.Duration `envconfig:"MARKET_IDEMPOTENCY_TTL" default:"24h"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MARKET_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MARKET_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MARKET_JWT_EXPIRATION_MINUTES" default:"60"`
	// Leeway absorbs clock skew between the token issuer and this service.
	Leeway time.Duration `envconfig:"MARKET_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MARKET_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"MARKET_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic  string `envconfig:"MARKET_PUBSUB_ORDERS_TOPIC" default:"marketplace-order-events"`
	PayoutsTopic string `envconfig:"MARKET_PUBSUB_PAYOUTS_TOPIC" default:"marketplace-payout-events"`
}

type StripeConfig struct {
	APIKey            string        `envconfig:"MARKET_STRIPE_API_KEY"`
	Secret            string        `envconfig:"MARKET_STRIPE_SECRET"`
	Env               string        `envconfig:"MARKET_STRIPE_ENV" default:"test"`
	RequestTimeout    time.Duration `envconfig:"MARKET_STRIPE_REQUEST_TIMEOUT" default:"10s"`
	RequestsPerSecond float64       `envconfig:"MARKET_STRIPE_RPS" default:"25"`
	Burst             int           `envconfig:"MARKET_STRIPE_BURST" default:"10"`
	MaxNetworkRetries int           `envconfig:"MARKET_STRIPE_MAX_RETRIES" default:"2"`
	// SignatureTolerance is the accepted clock skew for webhook signatures.
	SignatureTolerance time.Duration `envconfig:"MARKET_STRIPE_SIGNATURE_TOLERANCE" default:"5m"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CheckoutConfig struct {
	Currency   string        `envconfig:"MARKET_CHECKOUT_CURRENCY" default:"usd"`
	SuccessURL string        `envconfig:"MARKET_CHECKOUT_SUCCESS_URL" default:"http://localhost:3000/checkout/success?order_id={ORDER_ID}"`
	CancelURL  string        `envconfig:"MARKET_CHECKOUT_CANCEL_URL" default:"http://localhost:3000/checkout/cancel?order_id={ORDER_ID}"`
	SessionTTL time.Duration `envconfig:"MARKET_CHECKOUT_SESSION_TTL" default:"1h"`
}

type VendorConfig struct {
	OnboardingRefreshURL string `envconfig:"MARKET_VENDOR_ONBOARDING_REFRESH_URL" default:"http://localhost:3000/vendor/onboarding/refresh"`
	OnboardingReturnURL  string `envconfig:"MARKET_VENDOR_ONBOARDING_RETURN_URL" default:"http://localhost:3000/vendor/onboarding/return"`
	SyncBatchSize        int    `envconfig:"MARKET_VENDOR_SYNC_BATCH_SIZE" default:"100"`
}

type SettlementConfig struct {
	PlatformFeeBps    int `envconfig:"MARKET_PLATFORM_FEE_BPS" default:"1000"`
	ScheduleBatchSize int `envconfig:"MARKET_PAYOUT_SCHEDULE_BATCH_SIZE" default:"100"`
}

type LocksConfig struct {
	Backend        string        `envconfig:"MARKET_LOCKS_BACKEND" default:"redis"`
	TTL            time.Duration `envconfig:"MARKET_LOCKS_TTL" default:"30s"`
	AcquireTimeout time.Duration `envconfig:"MARKET_LOCKS_ACQUIRE_TIMEOUT" default:"5s"`
	RetryInterval  time.Duration `envconfig:"MARKET_LOCKS_RETRY_INTERVAL" default:"50ms"`
}

func (l LocksConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Backend)) {
	case LockBackendMemory, LockBackendRedis:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvLocksBackend, LockBackendMemory, LockBackendRedis)
	}
	if l.AcquireTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvLocksAcquireTimeout)
	}
	return nil
}

// UsesRedis reports whether locks are shared across replicas through Redis.
func (l LocksConfig) UsesRedis() bool {
	return strings.EqualFold(strings.TrimSpace(l.Backend), LockBackendRedis)
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"MARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"MARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"MARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"MARKET_OUTBOX_RETENTION" default:"720h"`
	PurgeBatch     int           `envconfig:"MARKET_OUTBOX_PURGE_BATCH" default:"1000"`
	// MetricsAddr is where the publisher serves /metrics; empty disables it.
	MetricsAddr string `envconfig:"MARKET_OUTBOX_METRICS_ADDR" default:":9091"`
}

type CronConfig struct {
	Interval     time.Duration `envconfig:"MARKET_CRON_INTERVAL" default:"15m"`
	CycleTimeout time.Duration `envconfig:"MARKET_CRON_CYCLE_TIMEOUT" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
