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
	fx.Provide(NewBillingConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimit RateLimitConfig

	HTTPAddr string

	// ReconcileInterval is the sweep interval in seconds for the
	// verification projection repair pass. Zero disables the sweep.
	ReconcileInterval int
}

// RateLimitConfig controls the redis token buckets guarding the
// verification submit endpoint and the reviewer claim lock.
type RateLimitConfig struct {
	Enabled bool

	SubmitUserRate      float64
	SubmitUserBurst     int
	SubmitEndpointRate  float64
	SubmitEndpointBurst int

	ClaimLockTTLSeconds int
}

// Load reads configuration from the environment. A local .env file is
// honored for development setups.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "skillvouch"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "skillvouch"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		RateLimit: RateLimitConfig{
			Enabled:             getenv("RATE_LIMIT_ENABLED", "false") == "true",
			SubmitUserRate:      getenvFloat("RATE_LIMIT_SUBMIT_USER_RATE", 0.5),
			SubmitUserBurst:     getenvInt("RATE_LIMIT_SUBMIT_USER_BURST", 5),
			SubmitEndpointRate:  getenvFloat("RATE_LIMIT_SUBMIT_ENDPOINT_RATE", 50),
			SubmitEndpointBurst: getenvInt("RATE_LIMIT_SUBMIT_ENDPOINT_BURST", 100),
			ClaimLockTTLSeconds: getenvInt("RATE_LIMIT_CLAIM_LOCK_TTL", 30),
		},

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		ReconcileInterval: getenvInt("RECONCILE_INTERVAL", 300),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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
