package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/moneyflow/transfer-engine/internal/interfaces"
	"github.com/moneyflow/transfer-engine/internal/logging"
	"github.com/moneyflow/transfer-engine/internal/metrics"
	"github.com/moneyflow/transfer-engine/internal/models"
	"github.com/moneyflow/transfer-engine/internal/models/events"
	"github.com/moneyflow/transfer-engine/internal/risk"
)

// TransferRequest is one validated, already-authenticated transfer intent.
// ActorID is the authenticated identity on whose behalf the call is made;
// it is passed explicitly, never read from ambient state.
type TransferRequest struct {
	SenderID   string
	ReceiverID string
	ActorID    string
	Amount     decimal.Decimal
	Provenance events.Provenance
}

// TransactionResult is the caller-visible snapshot of a transaction in its
// branch-determined state after Transfer returns.
type TransactionResult struct {
	ID           string                   `json:"id"`
	SenderID     string                   `json:"sender_id"`
	SenderName   string                   `json:"sender_name"`
	ReceiverID   string                   `json:"receiver_id"`
	ReceiverName string                   `json:"receiver_name"`
	Amount       decimal.Decimal          `json:"amount"`
	Status       models.TransactionStatus `json:"status"`
	Flagged      bool                     `json:"flagged"`
	CreatedAt    time.Time                `json:"created_at"`
}

// Engine orchestrates validation, risk classification, balance mutation,
// status transitions and event recording for transfers.
//
// It holds a per-account mutex map and locks the account pair in id order, so
// concurrent transfers touching the same account serialize while transfers on
// disjoint pairs proceed in parallel. The consumer and sweeper settle paths
// go through the same locks and the same store primitives.
type Engine struct {
	store      interfaces.LedgerStore
	classifier *risk.Classifier
	logger     *logging.Logger
	metrics    metrics.Collector

	muMap map[string]*sync.Mutex
	mapMu sync.Mutex
}

// New creates a transfer engine.
func New(store interfaces.LedgerStore, classifier *risk.Classifier, logger *logging.Logger, collector metrics.Collector) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Engine{
		store:      store,
		classifier: classifier,
		logger:     logger.Named("engine"),
		metrics:    collector,
		muMap:      make(map[string]*sync.Mutex),
	}
}

func (e *Engine) accountLock(accountID string) *sync.Mutex {
	e.mapMu.Lock()
	defer e.mapMu.Unlock()

	if _, exists := e.muMap[accountID]; !exists {
		e.muMap[accountID] = &sync.Mutex{}
	}
	return e.muMap[accountID]
}

// lockPair locks both account mutexes in id order to avoid deadlocks and
// returns the unlock function.
func (e *Engine) lockPair(a, b string) func() {
	first, second := e.accountLock(a), e.accountLock(b)
	if b < a {
		first, second = second, first
	}
	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}

// Transfer moves req.Amount from sender to receiver. Validation failures are
// rejected before any row is persisted. Once the SUBMITTED row exists the
// call always returns a snapshot: a settle failure surfaces as status FAILED,
// never as an error.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (TransactionResult, error) {
	start := time.Now()

	if req.SenderID == req.ReceiverID {
		e.metrics.RecordTransfer("rejected", time.Since(start))
		return TransactionResult{}, ErrSelfTransfer
	}
	if req.ActorID != req.SenderID {
		e.metrics.RecordTransfer("rejected", time.Since(start))
		return TransactionResult{}, ErrUnauthorized
	}

	unlock := e.lockPair(req.SenderID, req.ReceiverID)
	defer unlock()

	sender, err := e.store.GetAccount(ctx, req.SenderID)
	if err != nil {
		return TransactionResult{}, e.rejectLookup(start, "sender", err)
	}
	receiver, err := e.store.GetAccount(ctx, req.ReceiverID)
	if err != nil {
		return TransactionResult{}, e.rejectLookup(start, "receiver", err)
	}

	if !req.Amount.IsPositive() {
		e.metrics.RecordTransfer("rejected", time.Since(start))
		return TransactionResult{}, ErrInvalidAmount
	}
	if sender.Balance.LessThan(req.Amount) {
		e.metrics.RecordTransfer("rejected", time.Since(start))
		return TransactionResult{}, ErrInsufficientBalance
	}

	now := time.Now()
	recent, err := e.store.CountRecentBySender(ctx, sender.ID, now.Add(-e.classifier.Window()))
	if err != nil {
		e.metrics.RecordTransfer("rejected", time.Since(start))
		return TransactionResult{}, fmt.Errorf("count recent transactions: %w", err)
	}
	verdict := e.classifier.Classify(req.Amount, recent)

	tx := models.Transaction{
		ID:         uuid.New().String(),
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Amount:     req.Amount,
		Status:     models.StatusSubmitted,
		Flagged:    verdict.Suspicious,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreateTransaction(ctx, tx); err != nil {
		e.metrics.RecordTransfer("rejected", time.Since(start))
		return TransactionResult{}, fmt.Errorf("create transaction: %w", err)
	}

	if verdict.Suspicious {
		e.logger.Warn("transfer flagged as suspicious",
			zap.String("transaction_id", tx.ID),
			zap.String("sender_id", tx.SenderID),
			zap.Strings("reasons", verdict.Reasons))
		tx = e.flagLocked(ctx, tx, req.Provenance)
		e.metrics.RecordTransfer("flagged", time.Since(start))
	} else {
		tx = e.settleLocked(ctx, tx, models.StatusSubmitted, req.Provenance)
		outcome := "completed"
		if tx.Status == models.StatusFailed {
			outcome = "failed"
		}
		e.metrics.RecordTransfer(outcome, time.Since(start))
	}

	return TransactionResult{
		ID:           tx.ID,
		SenderID:     sender.ID,
		SenderName:   sender.Name,
		ReceiverID:   receiver.ID,
		ReceiverName: receiver.Name,
		Amount:       tx.Amount,
		Status:       tx.Status,
		Flagged:      tx.Flagged,
		CreatedAt:    tx.CreatedAt,
	}, nil
}

func (e *Engine) rejectLookup(start time.Time, role string, err error) error {
	if errors.Is(err, interfaces.ErrAccountNotFound) {
		e.metrics.RecordTransfer("rejected", time.Since(start))
		return fmt.Errorf("%w: %s", ErrNotFound, role)
	}
	return fmt.Errorf("load %s account: %w", role, err)
}

// Complete drives tx from the given status to a terminal one through the
// shared debit/credit primitive. It is the single settle path used by the
// synchronous transfer, the fraud review clearance and the reconciliation
// sweep. A status conflict means another path already finalized the
// transaction and is treated as a no-op.
func (e *Engine) Complete(ctx context.Context, tx models.Transaction, from models.TransactionStatus) (models.Transaction, error) {
	unlock := e.lockPair(tx.SenderID, tx.ReceiverID)
	defer unlock()

	settled := e.settleLocked(ctx, tx, from, events.Provenance{})
	if settled.Status == from {
		// Neither the settle nor the FAILED fallback went through; the
		// transaction is still stuck.
		return settled, fmt.Errorf("settle transaction %s: still %s", tx.ID, from)
	}
	return settled, nil
}

// Flag moves a SUBMITTED transaction carrying the suspicious flag into
// FLAGGED state. Used by the sweeper for rows whose flag transition was lost
// to a crash.
func (e *Engine) Flag(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	unlock := e.lockPair(tx.SenderID, tx.ReceiverID)
	defer unlock()

	flagged := e.flagLocked(ctx, tx, events.Provenance{})
	if flagged.Status != models.StatusFlagged {
		return flagged, fmt.Errorf("flag transaction %s: status now %s", tx.ID, flagged.Status)
	}
	return flagged, nil
}

// Escalate finalizes a FLAGGED transaction as FAILED without moving funds.
func (e *Engine) Escalate(ctx context.Context, tx models.Transaction) error {
	unlock := e.lockPair(tx.SenderID, tx.ReceiverID)
	defer unlock()

	records, err := e.outboxFor(tx, models.StatusFailed, events.Provenance{}, events.TopicLifecycle)
	if err != nil {
		return err
	}
	err = e.store.UpdateStatus(ctx, tx.ID, models.StatusFlagged, models.StatusFailed, records)
	if errors.Is(err, interfaces.ErrStatusConflict) {
		// Already finalized elsewhere.
		return nil
	}
	return err
}

// ListTransactions returns a page of the account's transaction history.
func (e *Engine) ListTransactions(ctx context.Context, accountID string, filter interfaces.TransactionFilter, page interfaces.PageRequest) (interfaces.TransactionPage, error) {
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, interfaces.ErrAccountNotFound) {
			return interfaces.TransactionPage{}, ErrNotFound
		}
		return interfaces.TransactionPage{}, err
	}
	return e.store.ListTransactions(ctx, accountID, filter, page)
}

// settleLocked applies the debit/credit and transitions tx to COMPLETED. Any
// storage failure converts into a FAILED transition plus a FAILED event; the
// error is logged, not propagated, because the row already exists and must
// reach a terminal state. Callers must hold the account-pair lock.
func (e *Engine) settleLocked(ctx context.Context, tx models.Transaction, from models.TransactionStatus, prov events.Provenance) models.Transaction {
	records, err := e.outboxFor(tx, models.StatusCompleted, prov, events.TopicLifecycle)
	if err == nil {
		err = e.store.ApplyTransfer(ctx, tx.ID, from, models.StatusCompleted, records)
	}
	if err == nil {
		tx.Status = models.StatusCompleted
		tx.UpdatedAt = time.Now()
		return tx
	}

	if errors.Is(err, interfaces.ErrStatusConflict) {
		// Another worker already finalized it; report what the store holds.
		if current, getErr := e.store.GetTransaction(ctx, tx.ID); getErr == nil {
			return current
		}
		return tx
	}

	e.logger.Error("settle failed, marking transaction failed",
		zap.String("transaction_id", tx.ID),
		zap.Error(err))

	failRecords, buildErr := e.outboxFor(tx, models.StatusFailed, prov, events.TopicLifecycle)
	if buildErr == nil {
		buildErr = e.store.UpdateStatus(ctx, tx.ID, from, models.StatusFailed, failRecords)
	}
	if buildErr != nil && !errors.Is(buildErr, interfaces.ErrStatusConflict) {
		// The transaction stays in its current state; the reconciliation
		// sweep will pick it up.
		e.logger.Error("failed to mark transaction failed",
			zap.String("transaction_id", tx.ID),
			zap.Error(buildErr))
		return tx
	}

	tx.Status = models.StatusFailed
	tx.UpdatedAt = time.Now()
	return tx
}

// flagLocked transitions tx to FLAGGED, leaving balances untouched, and
// records the lifecycle event plus the suspicious alert. Callers must hold
// the account-pair lock.
func (e *Engine) flagLocked(ctx context.Context, tx models.Transaction, prov events.Provenance) models.Transaction {
	records, err := e.outboxFor(tx, models.StatusFlagged, prov, events.TopicLifecycle, events.TopicSuspiciousAlert)
	if err == nil {
		err = e.store.UpdateStatus(ctx, tx.ID, models.StatusSubmitted, models.StatusFlagged, records)
	}
	if err != nil && !errors.Is(err, interfaces.ErrStatusConflict) {
		// Left SUBMITTED with Flagged set; the sweep re-drives it to FLAGGED.
		e.logger.Error("failed to flag transaction",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
		return tx
	}

	tx.Status = models.StatusFlagged
	tx.UpdatedAt = time.Now()
	return tx
}

// outboxFor builds one pending outbox record per topic for the transition of
// tx into the given status.
func (e *Engine) outboxFor(tx models.Transaction, status models.TransactionStatus, prov events.Provenance, topics ...string) ([]models.OutboxRecord, error) {
	event := events.TransactionEvent{
		TransactionID: tx.ID,
		SenderID:      tx.SenderID,
		ReceiverID:    tx.ReceiverID,
		Amount:        tx.Amount,
		Status:        string(status),
		Timestamp:     time.Now(),
		Suspicious:    tx.Flagged,
		Provenance:    prov,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction event: %w", err)
	}

	records := make([]models.OutboxRecord, 0, len(topics))
	for _, topic := range topics {
		records = append(records, models.OutboxRecord{
			ID:            uuid.New().String(),
			TransactionID: tx.ID,
			Topic:         topic,
			Key:           tx.ID,
			Payload:       payload,
			Status:        models.OutboxPending,
			CreatedAt:     time.Now(),
		})
	}
	return records, nil
}
