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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Pricing      PricingConfig
	Paymob       PaymobConfig
	Settlement   SettlementConfig
	Cart         CartConfig
	Checkout     CheckoutConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
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
	if _, err := cfg.Pricing.Rate(); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
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
	CORSOrigins  string `envconfig:"SETTLEMENT_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a AppConfig) AllowedOrigins() []string {
	out := []string{}
	for _, origin := range strings.Split(a.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type ServiceConfig struct {
	Kind string `envconfig:"SETTLEMENT_SERVICE_KIND" default:"api"`
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

	SQLitePath string `envconfig:"SETTLEMENT_SQLITE_PATH" default:"settlement.db"`

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
	ExpirationMinutes int    `envconfig:"SETTLEMENT_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SETTLEMENT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SETTLEMENT_AUTO_MIGRATE" default:"false"`
}

// PricingConfig holds the one tax rate shared by the cart estimate and the
// settlement quote.
type PricingConfig struct {
	TaxRate                    string `envconfig:"SETTLEMENT_PRICING_TAX_RATE" default:"0.14"`
	FreeShippingThresholdCents int64  `envconfig:"SETTLEMENT_PRICING_FREE_SHIPPING_THRESHOLD_CENTS" default:"10000"`
	FlatShippingCents          int64  `envconfig:"SETTLEMENT_PRICING_FLAT_SHIPPING_CENTS" default:"1000"`
	Currency                   string `envconfig:"SETTLEMENT_PRICING_CURRENCY" default:"EGP"`
}

// Rate parses the configured tax rate as a fraction (0.14 == 14%).
func (p PricingConfig) Rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(p.TaxRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", EnvPricingTaxRate, p.TaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%s must be in [0, 1), got %s", EnvPricingTaxRate, p.TaxRate)
	}
	return rate, nil
}

type PaymobConfig struct {
	BaseURL               string        `envconfig:"SETTLEMENT_PAYMOB_BASE_URL" default:"https://accept.paymob.com/api"`
	IframeBaseURL         string        `envconfig:"SETTLEMENT_PAYMOB_IFRAME_BASE_URL" default:"https://accept.paymob.com/api/acceptance/iframes"`
	APIKey                string        `envconfig:"SETTLEMENT_PAYMOB_API_KEY"`
	IntegrationID         int64         `envconfig:"SETTLEMENT_PAYMOB_INTEGRATION_ID"`
	IframeID              string        `envconfig:"SETTLEMENT_PAYMOB_IFRAME_ID"`
	HMACSecret            string        `envconfig:"SETTLEMENT_PAYMOB_HMAC_SECRET"`
	RequestTimeout        time.Duration `envconfig:"SETTLEMENT_PAYMOB_REQUEST_TIMEOUT" default:"15s"`
	PaymentKeyExpiration  time.Duration `envconfig:"SETTLEMENT_PAYMOB_PAYMENT_KEY_EXPIRATION" default:"1h"`
	AllowBillingDefaults  bool          `envconfig:"SETTLEMENT_PAYMOB_ALLOW_BILLING_DEFAULTS" default:"false"`
	ShippingMethodDefault string        `envconfig:"SETTLEMENT_PAYMOB_SHIPPING_METHOD" default:"PKG"`
}

type SettlementConfig struct {
	ConfirmationMode      string        `envconfig:"SETTLEMENT_CONFIRMATION_MODE" default:"redirect"`
	RequireSignedRedirect bool          `envconfig:"SETTLEMENT_REQUIRE_SIGNED_REDIRECT" default:"true"`
	LockTTL               time.Duration `envconfig:"SETTLEMENT_LOCK_TTL" default:"30s"`
	LatchTTL              time.Duration `envconfig:"SETTLEMENT_LATCH_TTL" default:"24h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"SETTLEMENT_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
}

func (s SettlementConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.ConfirmationMode)) {
	case ConfirmationModeRedirect, ConfirmationModeWebhook:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvConfirmationMode, ConfirmationModeRedirect, ConfirmationModeWebhook)
	}
}

// WebhookConfirmed reports whether only the signed server notification may mark orders paid.
func (s SettlementConfig) WebhookConfirmed() bool {
	return strings.EqualFold(strings.TrimSpace(s.ConfirmationMode), ConfirmationModeWebhook)
}

type CartConfig struct {
	TTL time.Duration `envconfig:"SETTLEMENT_CART_TTL" default:"720h"`
}

type CheckoutConfig struct {
	RateLimit  int           `envconfig:"SETTLEMENT_CHECKOUT_RATE_LIMIT" default:"10"`
	RateWindow time.Duration `envconfig:"SETTLEMENT_CHECKOUT_RATE_WINDOW" default:"1m"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"SETTLEMENT_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"SETTLEMENT_GCP_CREDENTIALS_JSON"`

	// PubSubEmulatorHost points the client at a local emulator without auth.
	PubSubEmulatorHost string `envconfig:"SETTLEMENT_PUBSUB_EMULATOR_HOST"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"SETTLEMENT_PUBSUB_ORDERS_TOPIC" default:"settlement-order-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"SETTLEMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"SETTLEMENT_OUTBOX_RETENTION" default:"720h"`
	PruneBatch     int           `envconfig:"SETTLEMENT_OUTBOX_PRUNE_BATCH" default:"500"`
	MetricsAddr    string        `envconfig:"SETTLEMENT_OUTBOX_METRICS_ADDR" default:":9102"`
}

type CronConfig struct {
	Interval   time.Duration `envconfig:"SETTLEMENT_CRON_INTERVAL" default:"5m"`
	LockTTL    time.Duration `envconfig:"SETTLEMENT_CRON_LOCK_TTL" default:"4m"`
	StaleAfter time.Duration `envconfig:"SETTLEMENT_CRON_STALE_AFTER" default:"30m"`
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
