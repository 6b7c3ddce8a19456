package fraudreview

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneyflow/transfer-engine/internal/engine"
	"github.com/moneyflow/transfer-engine/internal/models"
	"github.com/moneyflow/transfer-engine/internal/models/events"
	"github.com/moneyflow/transfer-engine/internal/risk"
	"github.com/moneyflow/transfer-engine/internal/storage/memory"
)

func newTestConsumer(t *testing.T) (*Consumer, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	classifier := risk.New(risk.DefaultConfig())
	eng := engine.New(store, classifier, nil, nil)
	return NewConsumer(Config{}, eng, store, classifier, nil, nil), store
}

func seedAccounts(t *testing.T, store *memory.Store, senderBalance int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, models.Account{
		ID: "alice", Name: "alice", Balance: decimal.NewFromInt(senderBalance),
	}))
	require.NoError(t, store.CreateAccount(ctx, models.Account{
		ID: "bob", Name: "bob", Balance: decimal.Zero,
	}))
}

func seedFlagged(t *testing.T, store *memory.Store, id string, amount int64) models.Transaction {
	t.Helper()
	tx := models.Transaction{
		ID:         id,
		SenderID:   "alice",
		ReceiverID: "bob",
		Amount:     decimal.NewFromInt(amount),
		Status:     models.StatusFlagged,
		Flagged:    true,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, store.CreateTransaction(context.Background(), tx))
	return tx
}

func alertFor(tx models.Transaction) events.TransactionEvent {
	return events.TransactionEvent{
		TransactionID: tx.ID,
		SenderID:      tx.SenderID,
		ReceiverID:    tx.ReceiverID,
		Amount:        tx.Amount,
		Status:        string(models.StatusFlagged),
		Timestamp:     time.Now(),
		Suspicious:    true,
	}
}

func TestReviewClearsTransactionNoLongerSuspicious(t *testing.T) {
	consumer, store := newTestConsumer(t)
	ctx := context.Background()
	seedAccounts(t, store, 500)
	// Flagged for frequency at submission time; the burst has since left the
	// window, so the re-check clears it.
	tx := seedFlagged(t, store, "tx-1", 50)

	require.NoError(t, consumer.review(ctx, alertFor(tx)))

	current, err := store.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, current.Status)

	alice, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(450)))
}

func TestReviewEscalatesStillSuspicious(t *testing.T) {
	consumer, store := newTestConsumer(t)
	ctx := context.Background()
	seedAccounts(t, store, 50000)
	tx := seedFlagged(t, store, "tx-1", 20000)

	require.NoError(t, consumer.review(ctx, alertFor(tx)))

	current, err := store.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, current.Status)

	// Escalation never moves funds.
	alice, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(50000)))
}

func TestReviewDuplicateDeliveryIsNoOp(t *testing.T) {
	consumer, store := newTestConsumer(t)
	ctx := context.Background()
	seedAccounts(t, store, 500)
	tx := seedFlagged(t, store, "tx-1", 50)

	require.NoError(t, consumer.review(ctx, alertFor(tx)))
	require.NoError(t, consumer.review(ctx, alertFor(tx)))

	// Funds moved exactly once.
	alice, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(450)))
}

func TestReviewIgnoresNonSuspiciousEvents(t *testing.T) {
	consumer, store := newTestConsumer(t)
	ctx := context.Background()

	event := events.TransactionEvent{
		TransactionID: "unknown",
		Status:        string(models.StatusCompleted),
		Suspicious:    false,
	}
	require.NoError(t, consumer.review(ctx, event))

	// No lookups needed, no rows created.
	_, err := store.GetTransaction(ctx, "unknown")
	assert.Error(t, err)
}

func TestReviewMissingTransactionDoesNotBlock(t *testing.T) {
	consumer, _ := newTestConsumer(t)

	event := events.TransactionEvent{
		TransactionID: "ghost",
		Status:        string(models.StatusFlagged),
		Suspicious:    true,
	}
	assert.NoError(t, consumer.review(context.Background(), event))
}

func TestHandleMessageDropsMalformedPayload(t *testing.T) {
	consumer, _ := newTestConsumer(t)

	assert.NoError(t, consumer.handleMessage(context.Background(), []byte("not json")))
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      chan kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.msgs:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestRunProcessesAndCommits(t *testing.T) {
	consumer, store := newTestConsumer(t)
	seedAccounts(t, store, 500)
	tx := seedFlagged(t, store, "tx-1", 50)

	payload, err := json.Marshal(alertFor(tx))
	require.NoError(t, err)

	reader := &fakeReader{msgs: make(chan kafka.Message, 2)}
	reader.msgs <- kafka.Message{Value: payload}
	reader.msgs <- kafka.Message{Value: payload}
	consumer.cfg.Workers = 1
	consumer.newReader = func() messageReader { return reader }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return len(reader.committed) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	current, err := store.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, current.Status)

	alice, err := store.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(450)))
}
