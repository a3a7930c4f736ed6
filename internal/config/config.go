package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
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

	// StripeAPIKey authenticates against the billing provider.
	StripeAPIKey string

	// ExclusionDomains lists customer email domains whose subscriptions are
	// never counted toward official revenue (internal accounts, partners).
	ExclusionDomains []string

	// CuratedRecordsFile points at the manually curated extra subscription
	// records merged into every snapshot run. Empty disables the source.
	CuratedRecordsFile string

	// ReportingTimezone is the single reference timezone used to derive the
	// snapshot date. Every "what day is it" decision goes through it.
	ReportingTimezone string

	SnapshotPageSize      int
	SchedulerInterval     time.Duration
	ConversionCacheTTL    time.Duration
	ConversionConcurrency int

	HTTPAddr string
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "revlens"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		StripeAPIKey: strings.TrimSpace(getenv("STRIPE_API_KEY", "")),

		ExclusionDomains:   parseList(getenv("EXCLUSION_DOMAINS", "")),
		CuratedRecordsFile: strings.TrimSpace(getenv("CURATED_RECORDS_FILE", "")),
		ReportingTimezone:  getenv("REPORTING_TIMEZONE", "UTC"),

		SnapshotPageSize:      getenvInt("SNAPSHOT_PAGE_SIZE", 500),
		SchedulerInterval:     getenvDuration("SCHEDULER_INTERVAL", time.Hour),
		ConversionCacheTTL:    getenvDuration("CONVERSION_CACHE_TTL", time.Hour),
		ConversionConcurrency: getenvInt("CONVERSION_CONCURRENCY", 8),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
