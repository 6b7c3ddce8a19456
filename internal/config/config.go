package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds every runtime setting, loaded from the environment with an
// optional .env file.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// LogLevel is the zap log level.
	LogLevel string

	// StorageDriver selects the ledger store: "memory" or "postgres".
	StorageDriver string
	DatabaseURL   string

	KafkaBrokers   []string
	LifecycleTopic string
	AlertTopic     string

	ReviewGroupID string
	ReviewWorkers int

	SweepInterval    time.Duration
	SweepMinAge      time.Duration
	SweepConcurrency int

	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxMaxAttempts int

	RiskLargeAmount        decimal.Decimal
	RiskFrequencyThreshold int
	RiskWindow             time.Duration
}

// Load reads the optional .env file and resolves every setting with its
// default fallback.
func Load() Config {
	// Missing .env is fine in production; settings come from the process env.
	_ = godotenv.Load()

	return Config{
		Addr:          getEnv("ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		StorageDriver: getEnv("STORAGE_DRIVER", "memory"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		KafkaBrokers:   splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		LifecycleTopic: getEnv("TOPIC_LIFECYCLE", "transaction-lifecycle"),
		AlertTopic:     getEnv("TOPIC_SUSPICIOUS_ALERT", "suspicious-transaction-alert"),

		ReviewGroupID: getEnv("REVIEW_GROUP_ID", "fraud-review"),
		ReviewWorkers: getEnvInt("REVIEW_WORKERS", 2),

		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", time.Minute),
		SweepMinAge:      getEnvDuration("SWEEP_MIN_AGE", time.Minute),
		SweepConcurrency: getEnvInt("SWEEP_CONCURRENCY", 4),

		OutboxInterval:    getEnvDuration("OUTBOX_INTERVAL", time.Second),
		OutboxBatchSize:   getEnvInt("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxAttempts: getEnvInt("OUTBOX_MAX_ATTEMPTS", 10),

		RiskLargeAmount:        getEnvDecimal("RISK_LARGE_AMOUNT", decimal.NewFromInt(10000)),
		RiskFrequencyThreshold: getEnvInt("RISK_FREQUENCY_THRESHOLD", 5),
		RiskWindow:             getEnvDuration("RISK_WINDOW", 10*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
