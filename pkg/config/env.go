package config

const (
	EnvPrefix = "SETTLEMENT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv      = "SETTLEMENT_APP_ENV"
	EnvPort        = "SETTLEMENT_APP_PORT"
	EnvDBDSN       = "SETTLEMENT_DB_DSN"
	EnvDBHost      = "SETTLEMENT_DB_HOST"
	EnvDBUser      = "SETTLEMENT_DB_USER"
	EnvDBName      = "SETTLEMENT_DB_NAME"
	EnvDBPassword  = "SETTLEMENT_DB_PASSWORD"
	EnvRedisURL    = "SETTLEMENT_REDIS_URL"
	EnvJWTSecret   = "SETTLEMENT_JWT_SECRET"
	EnvJWTIssuer   = "SETTLEMENT_JWT_ISSUER"
	EnvDeliveryFee = "SETTLEMENT_DELIVERY_FEE"
	EnvPollMax     = "SETTLEMENT_CHECKOUT_MAX_POLLS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
