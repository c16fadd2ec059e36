package config

const EnvPrefix = "SETTLEMENT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	ConfirmationModeRedirect = "redirect"
	ConfirmationModeWebhook  = "webhook"
)

const (
	EnvAppEnv           = "SETTLEMENT_APP_ENV"
	EnvPort             = "SETTLEMENT_APP_PORT"
	EnvLogLevel         = "SETTLEMENT_LOG_LEVEL"
	EnvDBDSN            = "SETTLEMENT_DB_DSN"
	EnvDBHost           = "SETTLEMENT_DB_HOST"
	EnvDBUser           = "SETTLEMENT_DB_USER"
	EnvDBName           = "SETTLEMENT_DB_NAME"
	EnvRedisURL         = "SETTLEMENT_REDIS_URL"
	EnvJWTSecret        = "SETTLEMENT_JWT_SECRET"
	EnvJWTIssuer        = "SETTLEMENT_JWT_ISSUER"
	EnvJWTExpMins       = "SETTLEMENT_JWT_EXPIRATION_MINUTES"
	EnvPricingTaxRate   = "SETTLEMENT_PRICING_TAX_RATE"
	EnvPaymobAPIKey     = "SETTLEMENT_PAYMOB_API_KEY"
	EnvPaymobIframeID   = "SETTLEMENT_PAYMOB_IFRAME_ID"
	EnvConfirmationMode = "SETTLEMENT_CONFIRMATION_MODE"
	EnvPubSubOrders     = "SETTLEMENT_PUBSUB_ORDERS_TOPIC"
	EnvGCPProjectID     = "SETTLEMENT_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
