package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusSubmitted TransactionStatus = "SUBMITTED"
	StatusFlagged   TransactionStatus = "FLAGGED"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// IsTerminal reports whether no further transition may leave this status.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the status machine allows moving from s to next.
// Allowed edges:
//
//	SUBMITTED -> COMPLETED | FAILED | FLAGGED
//	FLAGGED   -> COMPLETED | FAILED
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case StatusSubmitted:
		return next == StatusCompleted || next == StatusFailed || next == StatusFlagged
	case StatusFlagged:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Transaction represents one intent to move funds between two accounts.
// Rows are never deleted; they are the append-only audit trail.
type Transaction struct {
	ID         string
	SenderID   string
	ReceiverID string
	Amount     decimal.Decimal
	Status     TransactionStatus
	Flagged    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
