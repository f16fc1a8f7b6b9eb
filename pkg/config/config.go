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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Stripe       StripeConfig
	Webhook      WebhookConfig
	Investment   InvestmentConfig
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
	if err := cfg.Webhook.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TREEVEST_APP_ENV" required:"true"`
	Port         string `envconfig:"TREEVEST_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TREEVEST_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TREEVEST_LOG_WARN_STACK" default:"false"`
	// CORSOrigins is a comma separated allow list for browser clients.
	CORSOrigins []string `envconfig:"TREEVEST_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TREEVEST_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TREEVEST_DB_DSN"`
	Driver string `envconfig:"TREEVEST_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TREEVEST_DB_HOST"`
	LegacyPort     int    `envconfig:"TREEVEST_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TREEVEST_DB_USER"`
	LegacyPassword string `envconfig:"TREEVEST_DB_PASSWORD"`
	LegacyName     string `envconfig:"TREEVEST_DB_NAME"`
	LegacySSLMode  string `envconfig:"TREEVEST_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TREEVEST_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TREEVEST_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TREEVEST_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TREEVEST_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TREEVEST_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TREEVEST_REDIS_ADDR"`
	Password     string        `envconfig:"TREEVEST_REDIS_PASSWORD"`
	DB           int           `envconfig:"TREEVEST_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TREEVEST_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TREEVEST_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TREEVEST_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TREEVEST_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TREEVEST_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the shared secret used to verify access tokens minted by the identity service.
type JWTConfig struct {
	Secret            string `envconfig:"TREEVEST_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TREEVEST_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TREEVEST_JWT_EXPIRATION_MINUTES" default:"60"`
}

type RateLimitConfig struct {
	PurchaseWindow time.Duration `envconfig:"TREEVEST_RATE_LIMIT_PURCHASE_WINDOW" default:"1m"`
	PurchaseLimit  int           `envconfig:"TREEVEST_RATE_LIMIT_PURCHASE_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"TREEVEST_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"TREEVEST_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"TREEVEST_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	HTTPIdempotencyTTL   time.Duration `envconfig:"TREEVEST_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TREEVEST_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"TREEVEST_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"TREEVEST_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic           string `envconfig:"TREEVEST_PUBSUB_DOMAIN_TOPIC" default:"treevest-domain-events"`
	AnalyticsSubscription string `envconfig:"TREEVEST_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"treevest-analytics-sub"`
}

type BigQueryConfig struct {
	Dataset               string `envconfig:"TREEVEST_BIGQUERY_DATASET" default:"treevest"`
	InvestmentEventsTable string `envconfig:"TREEVEST_BIGQUERY_INVESTMENT_TABLE" default:"investment_events"`
}

type OutboxConfig struct {
	BatchSize          int           `envconfig:"TREEVEST_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS     int           `envconfig:"TREEVEST_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts        int           `envconfig:"TREEVEST_OUTBOX_MAX_ATTEMPTS" default:"10"`
	PublishedRetention time.Duration `envconfig:"TREEVEST_OUTBOX_PUBLISHED_RETENTION" default:"720h"`
}

type StripeConfig struct {
	APIKey   string        `envconfig:"TREEVEST_STRIPE_API_KEY"`
	Secret   string        `envconfig:"TREEVEST_STRIPE_SECRET"`
	Env      string        `envconfig:"TREEVEST_STRIPE_ENV" default:"test"`
	Timeout  time.Duration `envconfig:"TREEVEST_STRIPE_TIMEOUT" default:"10s"`
	Currency string        `envconfig:"TREEVEST_STRIPE_CURRENCY" default:"usd"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

const (
	WebhookModeQueue  = "queue"
	WebhookModeInline = "inline"
)

type WebhookConfig struct {
	Mode           string        `envconfig:"TREEVEST_WEBHOOK_MODE" default:"queue"`
	Workers        int           `envconfig:"TREEVEST_WEBHOOK_WORKERS" default:"4"`
	BatchSize      int           `envconfig:"TREEVEST_WEBHOOK_BATCH_SIZE" default:"10"`
	PollInterval   time.Duration `envconfig:"TREEVEST_WEBHOOK_POLL_INTERVAL" default:"500ms"`
	MaxAttempts    int           `envconfig:"TREEVEST_WEBHOOK_MAX_ATTEMPTS" default:"12"`
	EventRetention time.Duration `envconfig:"TREEVEST_WEBHOOK_EVENT_RETENTION" default:"2160h"`
	RecentEventTTL time.Duration `envconfig:"TREEVEST_WEBHOOK_RECENT_EVENT_TTL" default:"24h"`
}

// Queued reports whether webhook deliveries are written to the inbox for the worker pool.
func (w WebhookConfig) Queued() bool {
	return !strings.EqualFold(strings.TrimSpace(w.Mode), WebhookModeInline)
}

func (w WebhookConfig) validate() error {
	mode := strings.ToLower(strings.TrimSpace(w.Mode))
	if mode != "" && mode != WebhookModeQueue && mode != WebhookModeInline {
		return fmt.Errorf("%s must be %q or %q", EnvWebhookMode, WebhookModeQueue, WebhookModeInline)
	}
	if w.Workers <= 0 {
		return fmt.Errorf("%s must be positive", EnvWebhookWorkers)
	}
	return nil
}

type InvestmentConfig struct {
	// PendingTTL of zero leaves pending_payment investments untouched.
	PendingTTL      time.Duration `envconfig:"TREEVEST_INVESTMENT_PENDING_TTL" default:"0"`
	DefaultCurrency string        `envconfig:"TREEVEST_INVESTMENT_CURRENCY" default:"usd"`
}

type CronConfig struct {
	Interval         time.Duration `envconfig:"TREEVEST_CRON_INTERVAL" default:"1h"`
	LockTTL          time.Duration `envconfig:"TREEVEST_CRON_LOCK_TTL" default:"10m"`
	ReconcileMinAge  time.Duration `envconfig:"TREEVEST_CRON_RECONCILE_MIN_AGE" default:"5m"`
	ReconcileMaxAge  time.Duration `envconfig:"TREEVEST_CRON_RECONCILE_MAX_AGE" default:"23h"`
	ReconcileBatch   int           `envconfig:"TREEVEST_CRON_RECONCILE_BATCH" default:"50"`
	ExpiryBatchLimit int           `envconfig:"TREEVEST_CRON_EXPIRY_BATCH" default:"100"`
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
