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
	Catalog      CatalogConfig
	Cart         CartConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Cart.validate(); err != nil {
		return nil, err
	}
	if cfg.Cart.Store == CartStorePostgres {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if cfg.Cart.Store == CartStoreRedis && !cfg.Redis.Enabled() {
		return nil, fmt.Errorf("%s is required when %s=%s", EnvRedisURL, EnvCartStore, CartStoreRedis)
	}
	return &cfg, nil
}

// DatabaseConfig is the subset the migrate tool needs.
type DatabaseConfig struct {
	App AppConfig
	DB  DBConfig
}

// LoadDatabase reads only the app and database sections, so migrations can
// run without the API's secrets.
func LoadDatabase() (*DatabaseConfig, error) {
	var cfg DatabaseConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"JEM_APP_ENV" required:"true"`
	Port         string `envconfig:"JEM_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"JEM_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"JEM_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"JEM_LOG_WARN_STACK" default:"false"`
	// Origins allowed to call the API from a browser.
	CORSOrigins []string `envconfig:"JEM_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"JEM_DB_DSN"`
	Driver string `envconfig:"JEM_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"JEM_DB_HOST"`
	LegacyPort     int    `envconfig:"JEM_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"JEM_DB_USER"`
	LegacyPassword string `envconfig:"JEM_DB_PASSWORD"`
	LegacyName     string `envconfig:"JEM_DB_NAME"`
	LegacySSLMode  string `envconfig:"JEM_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"JEM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"JEM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"JEM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"JEM_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"JEM_REDIS_URL"`
	Address      string        `envconfig:"JEM_REDIS_ADDR"`
	Password     string        `envconfig:"JEM_REDIS_PASSWORD"`
	DB           int           `envconfig:"JEM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"JEM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"JEM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"JEM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"JEM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"JEM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint is configured. Without one the API
// runs with idempotency replay and rate limiting switched off.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// JWTConfig validates bearer tokens minted by the storefront auth service.
// Issuer is only enforced when set.
type JWTConfig struct {
	Secret string `envconfig:"JEM_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"JEM_JWT_ISSUER"`
}

type CatalogConfig struct {
	BaseURL      string        `envconfig:"JEM_CATALOG_BASE_URL" required:"true"`
	Timeout      time.Duration `envconfig:"JEM_CATALOG_TIMEOUT" default:"3s"`
	MaxRetries   uint64        `envconfig:"JEM_CATALOG_MAX_RETRIES" default:"2"`
	RetryBackoff time.Duration `envconfig:"JEM_CATALOG_RETRY_BACKOFF" default:"100ms"`
}

type CartConfig struct {
	Store             string        `envconfig:"JEM_CART_STORE" default:"postgres"`
	MaxWriteAttempts  int           `envconfig:"JEM_CART_MAX_WRITE_ATTEMPTS" default:"3"`
	LookupConcurrency int           `envconfig:"JEM_CART_LOOKUP_CONCURRENCY" default:"4"`
	RedisTTL          time.Duration `envconfig:"JEM_CART_REDIS_TTL" default:"0s"`
	IdempotencyTTL    time.Duration `envconfig:"JEM_CART_IDEMPOTENCY_TTL" default:"24h"`
}

func (c *CartConfig) validate() error {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	switch c.Store {
	case CartStorePostgres, CartStoreRedis, CartStoreMemory:
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvCartStore, CartStorePostgres, CartStoreRedis, CartStoreMemory)
	}
	if c.MaxWriteAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", EnvCartMaxWriteAttempts)
	}
	if c.LookupConcurrency < 1 {
		return fmt.Errorf("%s must be at least 1", EnvCartLookupConcurrency)
	}
	return nil
}

type RateLimitConfig struct {
	CartMutationWindow time.Duration `envconfig:"JEM_RATE_LIMIT_CART_MUTATION_WINDOW" default:"1m"`
	CartMutationLimit  int           `envconfig:"JEM_RATE_LIMIT_CART_MUTATION_LIMIT" default:"120"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"JEM_AUTO_MIGRATE" default:"false"`
	Metrics     bool `envconfig:"JEM_FEATURE_METRICS" default:"true"`
}

// GCPConfig falls back to Application Default Credentials when neither
// credential field is set.
type GCPConfig struct {
	ProjectID              string `envconfig:"JEM_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"JEM_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"JEM_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	CartTopic string `envconfig:"JEM_PUBSUB_CART_TOPIC" default:"jem-cart-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"JEM_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"JEM_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"JEM_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
