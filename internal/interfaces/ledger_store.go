package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/moneyflow/transfer-engine/internal/models"
)

// Store errors shared by all LedgerStore implementations.
var (
	// ErrAccountNotFound is returned when an account id does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrTransactionNotFound is returned when a transaction id does not exist.
	ErrTransactionNotFound = errors.New("ledger: transaction not found")

	// ErrDuplicateID is returned when creating a record whose id already exists.
	ErrDuplicateID = errors.New("ledger: duplicate id")

	// ErrInsufficientBalance is returned by ApplyTransfer when the debit would
	// drive the sender balance negative.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrStatusConflict is returned by conditional updates when the transaction
	// is no longer in the expected status. Callers treat it as the idempotence
	// boundary for duplicate deliveries and overlapping sweeps.
	ErrStatusConflict = errors.New("ledger: transaction status conflict")

	// ErrStoreUnavailable wraps transient backend failures. Operations fail
	// fast with this error rather than hanging; callers may retry.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")
)

// TransactionFilter narrows a transaction history query.
// Nil fields are ignored.
type TransactionFilter struct {
	Status *models.TransactionStatus
	From   *time.Time
	To     *time.Time
}

// PageRequest selects one page of a query result. Pages are 1-based.
type PageRequest struct {
	Number int
	Size   int
}

// TransactionPage is one page of transactions plus the total match count.
type TransactionPage struct {
	Items []models.Transaction
	Total int
	Page  int
	Size  int
}

// LedgerStore is the durable source of truth for accounts, transactions and
// the event outbox. Implementations must make ApplyTransfer and UpdateStatus
// atomic: balance mutation, status transition and outbox append either all
// happen or none do.
type LedgerStore interface {
	CreateAccount(ctx context.Context, account models.Account) error
	GetAccount(ctx context.Context, id string) (models.Account, error)

	CreateTransaction(ctx context.Context, tx models.Transaction) error
	GetTransaction(ctx context.Context, id string) (models.Transaction, error)

	// CountRecentBySender counts transactions created by senderID at or after
	// since, regardless of status. Backs the risk classifier's frequency rule.
	CountRecentBySender(ctx context.Context, senderID string, since time.Time) (int, error)

	// ApplyTransfer atomically debits the sender, credits the receiver, moves
	// the transaction from status `from` to `to`, and appends the outbox
	// records. Returns ErrStatusConflict if the transaction is not in `from`,
	// ErrInsufficientBalance if the debit would go negative.
	ApplyTransfer(ctx context.Context, txID string, from, to models.TransactionStatus, outbox []models.OutboxRecord) error

	// UpdateStatus atomically moves the transaction from status `from` to `to`
	// without touching balances, appending the outbox records. Returns
	// ErrStatusConflict if the transaction is not in `from`.
	UpdateStatus(ctx context.Context, txID string, from, to models.TransactionStatus, outbox []models.OutboxRecord) error

	// ListByStatus returns transactions in the given status created before the
	// cutoff, oldest first. Backs the reconciliation sweep.
	ListByStatus(ctx context.Context, status models.TransactionStatus, before time.Time) ([]models.Transaction, error)

	// ListTransactions returns a page of transactions where accountID is the
	// sender or the receiver, newest first.
	ListTransactions(ctx context.Context, accountID string, filter TransactionFilter, page PageRequest) (TransactionPage, error)

	// PendingOutbox returns up to limit pending outbox records, oldest first.
	PendingOutbox(ctx context.Context, limit int) ([]models.OutboxRecord, error)
	MarkOutboxPublished(ctx context.Context, id string, at time.Time) error
	// MarkOutboxFailed records a delivery failure. Records keep the PENDING
	// status until attempts reach maxAttempts, then move to FAILED.
	MarkOutboxFailed(ctx context.Context, id string, cause string, maxAttempts int) error
}
