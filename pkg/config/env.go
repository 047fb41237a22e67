package config

// EnvPrefix is empty because every tag already carries the MODORIA_ prefix.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "MODORIA_APP_ENV"
	EnvPort     = "MODORIA_APP_PORT"
	EnvDBDSN    = "MODORIA_DB_DSN"
	EnvDBHost   = "MODORIA_DB_HOST"
	EnvDBUser   = "MODORIA_DB_USER"
	EnvDBName   = "MODORIA_DB_NAME"
	EnvRedisURL = "MODORIA_REDIS_URL"

	EnvJWTSecret = "MODORIA_JWT_SECRET"
	EnvJWTIssuer = "MODORIA_JWT_ISSUER"

	EnvGCPProjectID = "MODORIA_GCP_PROJECT_ID"

	EnvPubSubOrdersTopic          = "MODORIA_PUBSUB_ORDERS_TOPIC"
	EnvPubSubNotificationSub      = "MODORIA_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubAnalyticsSub         = "MODORIA_PUBSUB_ANALYTICS_SUBSCRIPTION"
	EnvEventsTransport            = "MODORIA_EVENTS_TRANSPORT"
	EnvKafkaBrokers               = "MODORIA_KAFKA_BROKERS"
	EnvPaymentsProvider           = "MODORIA_PAYMENTS_PROVIDER"
	EnvCheckoutTaxRate            = "MODORIA_CHECKOUT_TAX_RATE"
	EnvInventoryLowStockThreshold = "MODORIA_INVENTORY_LOW_STOCK_THRESHOLD"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
