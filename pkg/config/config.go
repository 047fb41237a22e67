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
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Payments     PaymentsConfig
	Inventory    InventoryConfig
	Checkout     CheckoutConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"MODORIA_APP_ENV" required:"true"`
	Port         string   `envconfig:"MODORIA_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"MODORIA_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"MODORIA_LOG_WARN_STACK" default:"false"`
	MetricsPort  string   `envconfig:"MODORIA_METRICS_PORT" default:"9090"`
	CORSOrigins  []string `envconfig:"MODORIA_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MODORIA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MODORIA_DB_DSN"`
	Driver string `envconfig:"MODORIA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MODORIA_DB_HOST"`
	LegacyPort     int    `envconfig:"MODORIA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MODORIA_DB_USER"`
	LegacyPassword string `envconfig:"MODORIA_DB_PASSWORD"`
	LegacyName     string `envconfig:"MODORIA_DB_NAME"`
	LegacySSLMode  string `envconfig:"MODORIA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MODORIA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MODORIA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MODORIA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MODORIA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MODORIA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MODORIA_REDIS_ADDR"`
	Password     string        `envconfig:"MODORIA_REDIS_PASSWORD"`
	DB           int           `envconfig:"MODORIA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MODORIA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MODORIA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MODORIA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MODORIA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MODORIA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig validates access tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"MODORIA_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"MODORIA_JWT_ISSUER" required:"true"`

	// ExpirationMinutes only applies to tokens minted locally by the seed tool.
	ExpirationMinutes int `envconfig:"MODORIA_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MODORIA_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"MODORIA_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"MODORIA_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
	APIIdempotencyTTL     time.Duration `envconfig:"MODORIA_API_IDEMPOTENCY_TTL" default:"24h"`

	// APIMoneyIdempotencyTTL covers checkout, cancel and refund replays.
	APIMoneyIdempotencyTTL time.Duration `envconfig:"MODORIA_API_MONEY_IDEMPOTENCY_TTL" default:"168h"`

	// Transport selects the outbox publisher sink: pubsub or kafka.
	Transport string `envconfig:"MODORIA_EVENTS_TRANSPORT" default:"pubsub"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MODORIA_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MODORIA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MODORIA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"MODORIA_PUBSUB_ORDERS_TOPIC" default:"modoria-order-events"`
	InventoryTopic           string `envconfig:"MODORIA_PUBSUB_INVENTORY_TOPIC" default:"modoria-inventory-events"`
	NotificationSubscription string `envconfig:"MODORIA_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"modoria-notifications"`
	AnalyticsSubscription    string `envconfig:"MODORIA_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"modoria-analytics"`
	DLQTopic                 string `envconfig:"MODORIA_PUBSUB_DLQ_TOPIC"`
}

type KafkaConfig struct {
	Brokers        []string      `envconfig:"MODORIA_KAFKA_BROKERS"`
	OrdersTopic    string        `envconfig:"MODORIA_KAFKA_ORDERS_TOPIC" default:"modoria.order-events"`
	InventoryTopic string        `envconfig:"MODORIA_KAFKA_INVENTORY_TOPIC" default:"modoria.inventory-events"`
	WriteTimeout   time.Duration `envconfig:"MODORIA_KAFKA_WRITE_TIMEOUT" default:"10s"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"MODORIA_BIGQUERY_DATASET" default:"modoria"`
	OrderEventsTable string `envconfig:"MODORIA_BIGQUERY_ORDER_EVENTS_TABLE" default:"order_events"`
	// CreateTables provisions missing tables instead of failing startup.
	CreateTables bool `envconfig:"MODORIA_BIGQUERY_CREATE_TABLES" default:"false"`
	BatchSize    int  `envconfig:"MODORIA_BIGQUERY_BATCH_SIZE" default:"1"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MODORIA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MODORIA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MODORIA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey string `envconfig:"MODORIA_STRIPE_API_KEY"`
	Secret string `envconfig:"MODORIA_STRIPE_WEBHOOK_SECRET"`
	Env    string `envconfig:"MODORIA_STRIPE_ENV" default:"test"`

	// TestPaymentMethod auto-confirms intents stuck in requires_payment_method while in test mode.
	TestPaymentMethod string `envconfig:"MODORIA_STRIPE_TEST_PAYMENT_METHOD"`
	ReturnURL         string `envconfig:"MODORIA_STRIPE_RETURN_URL" default:"https://example.com/return"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken     string `envconfig:"MODORIA_SQUARE_ACCESS_TOKEN"`
	Env             string `envconfig:"MODORIA_SQUARE_ENV" default:"sandbox"`
	LocationID      string `envconfig:"MODORIA_SQUARE_LOCATION_ID"`
	WebhookSecret   string `envconfig:"MODORIA_SQUARE_WEBHOOK_SECRET"`
	NotificationURL string `envconfig:"MODORIA_SQUARE_WEBHOOK_URL"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type PaymentsConfig struct {
	Provider       string        `envconfig:"MODORIA_PAYMENTS_PROVIDER" default:"stripe"`
	GatewayTimeout time.Duration `envconfig:"MODORIA_PAYMENTS_GATEWAY_TIMEOUT" default:"15s"`
}

type InventoryConfig struct {
	LowStockThreshold int `envconfig:"MODORIA_INVENTORY_LOW_STOCK_THRESHOLD" default:"5"`
}

type CheckoutConfig struct {
	Currency              string          `envconfig:"MODORIA_CHECKOUT_CURRENCY" default:"USD"`
	TaxRate               decimal.Decimal `envconfig:"MODORIA_CHECKOUT_TAX_RATE" default:"0"`
	ShippingFlatRate      decimal.Decimal `envconfig:"MODORIA_CHECKOUT_SHIPPING_FLAT_RATE" default:"0"`
	FreeShippingThreshold decimal.Decimal `envconfig:"MODORIA_CHECKOUT_FREE_SHIPPING_THRESHOLD" default:"0"`
}

func (c CheckoutConfig) validate() error {
	if c.TaxRate.IsNegative() || c.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be between 0 and 1", EnvCheckoutTaxRate)
	}
	if c.ShippingFlatRate.IsNegative() || c.FreeShippingThreshold.IsNegative() {
		return fmt.Errorf("shipping amounts must not be negative")
	}
	return nil
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"MODORIA_CRON_INTERVAL" default:"5m"`
	PendingOrderTTL time.Duration `envconfig:"MODORIA_CRON_ORDER_TTL" default:"24h"`
	LockTTL         time.Duration `envconfig:"MODORIA_CRON_LOCK_TTL" default:"4m"`

	OutboxRetention       time.Duration `envconfig:"MODORIA_CRON_OUTBOX_RETENTION" default:"720h"`
	NotificationRetention time.Duration `envconfig:"MODORIA_CRON_NOTIFICATION_RETENTION" default:"720h"`
}

// RateLimitConfig holds per-caller request caps. A zero limit disables a surface.
type RateLimitConfig struct {
	Window         time.Duration `envconfig:"MODORIA_RATE_LIMIT_WINDOW" default:"1m"`
	CouponValidate int64         `envconfig:"MODORIA_RATE_LIMIT_COUPON_VALIDATE" default:"20"`
	Checkout       int64         `envconfig:"MODORIA_RATE_LIMIT_CHECKOUT" default:"10"`
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
