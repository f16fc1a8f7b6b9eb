package config

const (
	EnvPrefix = "TREEVEST"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "TREEVEST_APP_ENV"
	EnvPort     = "TREEVEST_APP_PORT"
	EnvLogLevel = "TREEVEST_LOG_LEVEL"

	EnvDBDSN    = "TREEVEST_DB_DSN"
	EnvDBDriver = "TREEVEST_DB_DRIVER"
	EnvDBHost   = "TREEVEST_DB_HOST"
	EnvDBUser   = "TREEVEST_DB_USER"
	EnvDBName   = "TREEVEST_DB_NAME"

	EnvRedisURL = "TREEVEST_REDIS_URL"

	EnvJWTSecret = "TREEVEST_JWT_SECRET"
	EnvJWTIssuer = "TREEVEST_JWT_ISSUER"

	EnvGCPProjectID = "TREEVEST_GCP_PROJECT_ID"

	EnvPubSubDomainTopic        = "TREEVEST_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubAnalyticsSub       = "TREEVEST_PUBSUB_ANALYTICS_SUBSCRIPTION"
	EnvBigQueryDataset          = "TREEVEST_BIGQUERY_DATASET"
	EnvStripeAPIKey             = "TREEVEST_STRIPE_API_KEY"
	EnvStripeSecret             = "TREEVEST_STRIPE_SECRET"
	EnvStripeTimeout            = "TREEVEST_STRIPE_TIMEOUT"
	EnvWebhookMode              = "TREEVEST_WEBHOOK_MODE"
	EnvWebhookWorkers           = "TREEVEST_WEBHOOK_WORKERS"
	EnvInvestmentPendingTTL     = "TREEVEST_INVESTMENT_PENDING_TTL"
	EnvWebhookEventRetention    = "TREEVEST_WEBHOOK_EVENT_RETENTION"
	EnvOutboxPublishedRetention = "TREEVEST_OUTBOX_PUBLISHED_RETENTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
