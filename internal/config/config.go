package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewCatalogConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// PublicBaseURL prefixes coupon claim links rendered as QR codes.
	PublicBaseURL string
	SnowflakeNode int64

	OnboardingFeeUSD string

	MigrationsEnabled bool

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

	RateLimit RateLimitConfig
	Events    EventsConfig
	Scheduler SchedulerConfig

	Observability ObservabilityConfig
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CouponRedeemRate  float64
	CouponRedeemBurst int

	PayoutRequestRate       float64
	PayoutRequestBurst      int
	PayoutRequestLockTTLSec int
}

type ObservabilityConfig struct {
	LogLevel          string
	LogFormat         string
	OtelEnabled       bool
	OtelEndpoint      string
	OtelSamplingRatio float64
}

type SchedulerConfig struct {
	Enabled              bool
	IntervalSec          int
	BatchSize            int
	RecoveryThresholdSec int
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "profitledger"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL:     strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		OnboardingFeeUSD:  getenv("ONBOARDING_FEE_USD", "100"),
		MigrationsEnabled: getenvBool("MIGRATIONS_ENABLED", true),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "profitledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		RateLimit: RateLimitConfig{
			Enabled:                 getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:               strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "localhost:6379")),
			RedisPassword:           getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:                 getenvInt("RATE_LIMIT_REDIS_DB", 0),
			CouponRedeemRate:        getenvFloat("COUPON_REDEEM_RATE", 0.5),
			CouponRedeemBurst:       getenvInt("COUPON_REDEEM_BURST", 5),
			PayoutRequestRate:       getenvFloat("PAYOUT_REQUEST_RATE", 0.1),
			PayoutRequestBurst:      getenvInt("PAYOUT_REQUEST_BURST", 3),
			PayoutRequestLockTTLSec: getenvInt("PAYOUT_REQUEST_LOCK_TTL_SECONDS", 10),
		},
		Events: EventsConfig{
			AMQPURL:  strings.TrimSpace(getenv("EVENTS_AMQP_URL", "")),
			Exchange: getenv("EVENTS_EXCHANGE", "ledger_events"),
		},
		Scheduler: SchedulerConfig{
			Enabled:              getenvBool("SCHEDULER_ENABLED", true),
			IntervalSec:          getenvInt("SCHEDULER_INTERVAL_SECONDS", 60),
			BatchSize:            getenvInt("SCHEDULER_BATCH_SIZE", 50),
			RecoveryThresholdSec: getenvInt("SCHEDULER_RECOVERY_THRESHOLD_SECONDS", 900),
		},
		Observability: ObservabilityConfig{
			LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:       getenvBool("OTEL_ENABLED", false),
			OtelEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
			OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
	}
}

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

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
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
