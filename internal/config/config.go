package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string
	LogLevel    string

	OTLPEndpoint string
	OTLPProtocol string
	OtelEnabled  bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CheckoutRate  float64
	CheckoutBurst int

	RabbitMQURL string

	Payment PaymentConfig
	Ledger  LedgerConfig
}

// PaymentConfig selects the charge gateway and carries webhook secrets.
type PaymentConfig struct {
	Provider            string
	MidtransServerKey   string
	MidtransProduction  bool
	StripeWebhookSecret string
}

// LedgerConfig is the money policy injected into every ledger component.
type LedgerConfig struct {
	Currency             string
	TaxRateBps           int64
	MinimumPayout        int64
	HoldWindow           time.Duration
	DefaultCommissionBps int64
	CommissionRatesFile  string

	ReleaseSchedule     string
	MaturationSchedule  string
	ExpirySchedule      string
	PayoutBatchSchedule string
}

// DefaultLedgerConfig returns the platform defaults.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Currency:             "USD",
		TaxRateBps:           0,
		MinimumPayout:        5000,
		HoldWindow:           48 * time.Hour,
		DefaultCommissionBps: 1500,
		ReleaseSchedule:      "*/5 * * * *",
		MaturationSchedule:   "@hourly",
		ExpirySchedule:       "@hourly",
		PayoutBatchSchedule:  "@daily",
	}
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	defaults := DefaultLedgerConfig()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "marketledger"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPPort:     getenv("HTTP_PORT", "8080"),
		LogLevel:     strings.ToLower(getenv("LOG_LEVEL", "info")),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol: strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OtelEnabled:  getenvBool("OTEL_ENABLED", false),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "marketledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		CheckoutRate:  getenvFloat("CHECKOUT_RATE_PER_SECOND", 1),
		CheckoutBurst: int(getenvInt64("CHECKOUT_BURST", 5)),

		RabbitMQURL: strings.TrimSpace(getenv("RABBITMQ_URL", "")),

		Payment: PaymentConfig{
			Provider:            strings.ToLower(getenv("PAYMENT_PROVIDER", "midtrans")),
			MidtransServerKey:   strings.TrimSpace(getenv("MIDTRANS_SERVER_KEY", "")),
			MidtransProduction:  getenvBool("MIDTRANS_PRODUCTION", false),
			StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		},

		Ledger: LedgerConfig{
			Currency:             strings.ToUpper(getenv("LEDGER_CURRENCY", defaults.Currency)),
			TaxRateBps:           getenvInt64("LEDGER_TAX_RATE_BPS", defaults.TaxRateBps),
			MinimumPayout:        getenvInt64("LEDGER_MINIMUM_PAYOUT", defaults.MinimumPayout),
			HoldWindow:           getenvDuration("LEDGER_HOLD_WINDOW", defaults.HoldWindow),
			DefaultCommissionBps: getenvInt64("LEDGER_DEFAULT_COMMISSION_BPS", defaults.DefaultCommissionBps),
			CommissionRatesFile:  strings.TrimSpace(getenv("LEDGER_COMMISSION_RATES_FILE", "")),
			ReleaseSchedule:      getenv("LEDGER_RELEASE_SCHEDULE", defaults.ReleaseSchedule),
			MaturationSchedule:   getenv("LEDGER_MATURATION_SCHEDULE", defaults.MaturationSchedule),
			ExpirySchedule:       getenv("LEDGER_EXPIRY_SCHEDULE", defaults.ExpirySchedule),
			PayoutBatchSchedule:  getenv("LEDGER_PAYOUT_BATCH_SCHEDULE", defaults.PayoutBatchSchedule),
		},
	}

	return cfg
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
