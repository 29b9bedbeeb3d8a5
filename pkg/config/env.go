package config

const EnvPrefix = "JEM"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	CartStorePostgres = "postgres"
	CartStoreRedis    = "redis"
	CartStoreMemory   = "memory"
)

const (
	EnvAppEnv   = "JEM_APP_ENV"
	EnvPort     = "JEM_APP_PORT"
	EnvLogLevel = "JEM_LOG_LEVEL"

	EnvDBDSN  = "JEM_DB_DSN"
	EnvDBHost = "JEM_DB_HOST"
	EnvDBPort = "JEM_DB_PORT"
	EnvDBUser = "JEM_DB_USER"
	EnvDBPass = "JEM_DB_PASSWORD"
	EnvDBName = "JEM_DB_NAME"

	EnvRedisURL = "JEM_REDIS_URL"

	EnvJWTSecret = "JEM_JWT_SECRET"
	EnvJWTIssuer = "JEM_JWT_ISSUER"

	EnvCatalogBaseURL = "JEM_CATALOG_BASE_URL"
	EnvCatalogTimeout = "JEM_CATALOG_TIMEOUT"

	EnvCartStore             = "JEM_CART_STORE"
	EnvCartMaxWriteAttempts  = "JEM_CART_MAX_WRITE_ATTEMPTS"
	EnvCartLookupConcurrency = "JEM_CART_LOOKUP_CONCURRENCY"

	EnvGCPProjectID    = "JEM_GCP_PROJECT_ID"
	EnvPubSubCartTopic = "JEM_PUBSUB_CART_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
