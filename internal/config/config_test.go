package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "transaction-lifecycle", cfg.LifecycleTopic)
	assert.Equal(t, "suspicious-transaction-alert", cfg.AlertTopic)
	assert.Equal(t, 2, cfg.ReviewWorkers)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, time.Second, cfg.OutboxInterval)
	assert.True(t, cfg.RiskLargeAmount.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 5, cfg.RiskFrequencyThreshold)
	assert.Equal(t, 10*time.Minute, cfg.RiskWindow)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("REVIEW_WORKERS", "8")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("RISK_LARGE_AMOUNT", "2500.50")
	t.Setenv("RISK_WINDOW", "5m")

	cfg := Load()

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "postgres", cfg.StorageDriver)
	assert.Equal(t, "postgres://localhost/ledger", cfg.DatabaseURL)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 8, cfg.ReviewWorkers)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.True(t, cfg.RiskLargeAmount.Equal(decimal.RequireFromString("2500.50")))
	assert.Equal(t, 5*time.Minute, cfg.RiskWindow)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("REVIEW_WORKERS", "lots")
	t.Setenv("SWEEP_INTERVAL", "soon")
	t.Setenv("RISK_LARGE_AMOUNT", "plenty")

	cfg := Load()

	assert.Equal(t, 2, cfg.ReviewWorkers)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.True(t, cfg.RiskLargeAmount.Equal(decimal.NewFromInt(10000)))
}
