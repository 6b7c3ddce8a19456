package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reasons recorded on a verdict. A verdict may carry several.
const (
	ReasonLargeAmount   = "amount above large-amount threshold"
	ReasonHighFrequency = "sender transfer frequency above threshold"
)

// Config holds the thresholds used to classify a transfer as suspicious.
type Config struct {
	// LargeAmount is the amount above which a transfer is suspicious.
	LargeAmount decimal.Decimal
	// FrequencyThreshold is the recent-transaction count at or above which a
	// sender is suspicious.
	FrequencyThreshold int
	// Window is the trailing window considered by the frequency rule.
	Window time.Duration
}

// DefaultConfig returns the default thresholds: 10000 currency units,
// 5 transactions within 10 minutes.
func DefaultConfig() Config {
	return Config{
		LargeAmount:        decimal.NewFromInt(10000),
		FrequencyThreshold: 5,
		Window:             10 * time.Minute,
	}
}

// Verdict is the outcome of classifying one transfer request.
type Verdict struct {
	Suspicious bool
	Reasons    []string
}

// Classifier decides whether a transfer looks suspicious. It is pure: the
// recent-transaction count is supplied by the caller, so Classify is safe to
// invoke inside or outside any transaction boundary.
type Classifier struct {
	cfg Config
}

// New creates a classifier. Zero-valued config fields fall back to defaults.
func New(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.LargeAmount.IsZero() {
		cfg.LargeAmount = def.LargeAmount
	}
	if cfg.FrequencyThreshold <= 0 {
		cfg.FrequencyThreshold = def.FrequencyThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Classifier{cfg: cfg}
}

// Window returns the trailing window the frequency rule expects the
// recent-transaction count to cover.
func (c *Classifier) Window() time.Duration {
	return c.cfg.Window
}

// Classify evaluates every rule and records all that match.
func (c *Classifier) Classify(amount decimal.Decimal, recentCount int) Verdict {
	var reasons []string

	if amount.GreaterThan(c.cfg.LargeAmount) {
		reasons = append(reasons, ReasonLargeAmount)
	}
	if recentCount >= c.cfg.FrequencyThreshold {
		reasons = append(reasons, ReasonHighFrequency)
	}

	return Verdict{
		Suspicious: len(reasons) > 0,
		Reasons:    reasons,
	}
}
