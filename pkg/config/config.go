package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	PayPal       PayPalConfig
	NETS         NETSConfig
	Fees         FeesConfig
	Checkout     CheckoutConfig
	Cron         CronConfig
	HTTP         HTTPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Fees.FlatDeliveryFee(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SETTLEMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"SETTLEMENT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SETTLEMENT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"SETTLEMENT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"SETTLEMENT_LOG_WARN_STACK" default:"false"`
	// MetricsAddr is where background workers expose /metrics; empty disables it.
	MetricsAddr string `envconfig:"SETTLEMENT_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	DSN    string `envconfig:"SETTLEMENT_DB_DSN"`
	Driver string `envconfig:"SETTLEMENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SETTLEMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"SETTLEMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SETTLEMENT_DB_USER"`
	LegacyPassword string `envconfig:"SETTLEMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"SETTLEMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"SETTLEMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SETTLEMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SETTLEMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SETTLEMENT_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SETTLEMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SETTLEMENT_REDIS_ADDR"`
	Password     string        `envconfig:"SETTLEMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SETTLEMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SETTLEMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SETTLEMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SETTLEMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SETTLEMENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SETTLEMENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SETTLEMENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SETTLEMENT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SETTLEMENT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"SETTLEMENT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"SETTLEMENT_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
}

type PubSubConfig struct {
	ProjectID       string `envconfig:"SETTLEMENT_GCP_PROJECT_ID"`
	SettlementTopic string `envconfig:"SETTLEMENT_PUBSUB_SETTLEMENT_TOPIC" default:"settlement-events"`
	WalletTopic     string `envconfig:"SETTLEMENT_PUBSUB_WALLET_TOPIC" default:"wallet-events"`
	// AnalyticsSubscription is only read by the analytics worker.
	AnalyticsSubscription string `envconfig:"SETTLEMENT_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"settlement-analytics-sub"`
}

// BigQueryConfig locates the settlement facts table. Credentials fall back to
// application default credentials when both are empty.
type BigQueryConfig struct {
	Dataset         string `envconfig:"SETTLEMENT_BIGQUERY_DATASET" default:"settlement"`
	FactsTable      string `envconfig:"SETTLEMENT_BIGQUERY_FACTS_TABLE" default:"settlement_facts"`
	CredentialsJSON string `envconfig:"SETTLEMENT_GCP_CREDENTIALS_JSON"`
	CredentialsFile string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
	BatchSize       int    `envconfig:"SETTLEMENT_BIGQUERY_BATCH_SIZE" default:"1"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"SETTLEMENT_OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval   time.Duration `envconfig:"SETTLEMENT_OUTBOX_POLL_INTERVAL" default:"500ms"`
	PublishTimeout time.Duration `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	MaxAttempts    int           `envconfig:"SETTLEMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey string `envconfig:"SETTLEMENT_STRIPE_API_KEY"`
	Secret string `envconfig:"SETTLEMENT_STRIPE_SECRET"`
	Env    string `envconfig:"SETTLEMENT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PayPalConfig struct {
	ClientID     string `envconfig:"SETTLEMENT_PAYPAL_CLIENT_ID"`
	ClientSecret string `envconfig:"SETTLEMENT_PAYPAL_CLIENT_SECRET"`
	BaseURL      string `envconfig:"SETTLEMENT_PAYPAL_BASE_URL" default:"https://api-m.sandbox.paypal.com"`
}

type NETSConfig struct {
	BaseURL   string `envconfig:"SETTLEMENT_NETS_BASE_URL" default:"https://sandbox.nets.openapipaas.com"`
	APIKey    string `envconfig:"SETTLEMENT_NETS_API_KEY"`
	ProjectID string `envconfig:"SETTLEMENT_NETS_PROJECT_ID"`
	TxnID     string `envconfig:"SETTLEMENT_NETS_TXN_ID"`
}

type FeesConfig struct {
	Currency    string `envconfig:"SETTLEMENT_CURRENCY" default:"SGD"`
	DeliveryFee string `envconfig:"SETTLEMENT_DELIVERY_FEE" default:"1.50"`
}

// FlatDeliveryFee parses the configured delivery fee as a two-decimal amount.
func (f FeesConfig) FlatDeliveryFee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(strings.TrimSpace(f.DeliveryFee))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", EnvDeliveryFee, err)
	}
	if fee.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", EnvDeliveryFee)
	}
	return fee.Round(2), nil
}

type CheckoutConfig struct {
	ContextTTL   time.Duration `envconfig:"SETTLEMENT_CHECKOUT_CONTEXT_TTL" default:"30m"`
	PollInterval time.Duration `envconfig:"SETTLEMENT_CHECKOUT_POLL_INTERVAL" default:"5s"`
	MaxPolls     int           `envconfig:"SETTLEMENT_CHECKOUT_MAX_POLLS" default:"60"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"SETTLEMENT_CRON_INTERVAL" default:"1m"`
	LockTTL             time.Duration `envconfig:"SETTLEMENT_CRON_LOCK_TTL" default:"10m"`
	TopupGrace          time.Duration `envconfig:"SETTLEMENT_CRON_TOPUP_GRACE" default:"2m"`
	TopupBatchSize      int           `envconfig:"SETTLEMENT_CRON_TOPUP_BATCH_SIZE" default:"50"`
	RefundAuditLimit    int           `envconfig:"SETTLEMENT_CRON_REFUND_AUDIT_LIMIT" default:"100"`
	OutboxRetentionDays int           `envconfig:"SETTLEMENT_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
	OutboxPruneBatch    int           `envconfig:"SETTLEMENT_CRON_OUTBOX_PRUNE_BATCH" default:"500"`
}

// HTTPConfig holds the API edge policy. A zero rate limit disables that counter.
type HTTPConfig struct {
	CORSOrigins        []string      `envconfig:"SETTLEMENT_HTTP_CORS_ORIGINS"`
	RateLimitWindow    time.Duration `envconfig:"SETTLEMENT_HTTP_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitIPLimit   int           `envconfig:"SETTLEMENT_HTTP_RATE_LIMIT_IP" default:"60"`
	RateLimitUserLimit int           `envconfig:"SETTLEMENT_HTTP_RATE_LIMIT_USER" default:"20"`
	ShutdownTimeout    time.Duration `envconfig:"SETTLEMENT_HTTP_SHUTDOWN_TIMEOUT" default:"30s"`
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
