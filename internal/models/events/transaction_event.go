package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topics the engine publishes to. Every status transition goes to Lifecycle;
// FLAGGED transitions additionally fan out to SuspiciousAlert.
const (
	TopicLifecycle       = "transaction-lifecycle"
	TopicSuspiciousAlert = "suspicious-transaction-alert"
)

// Provenance carries request-scoped context useful for fraud analysis.
// It is present only on events produced by the synchronous transfer path.
type Provenance struct {
	SenderIP          string `json:"sender_ip,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	Location          string `json:"location,omitempty"`
}

// TransactionEvent is the wire record published once per status transition.
// Delivery is at-least-once; consumers must treat duplicates as no-ops
// keyed by (transaction_id, status).
type TransactionEvent struct {
	TransactionID string          `json:"transaction_id"`
	SenderID      string          `json:"sender_id"`
	ReceiverID    string          `json:"receiver_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
	Suspicious    bool            `json:"suspicious"`
	Provenance    Provenance      `json:"provenance,omitempty"`
}
