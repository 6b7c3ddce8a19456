package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneyflow/transfer-engine/internal/engine"
	"github.com/moneyflow/transfer-engine/internal/models"
	"github.com/moneyflow/transfer-engine/internal/risk"
	"github.com/moneyflow/transfer-engine/internal/storage/memory"
)

func newTestSweeper(t *testing.T, cfg Config) (*Sweeper, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	eng := engine.New(store, risk.New(risk.DefaultConfig()), nil, nil)
	return NewSweeper(store, eng, cfg, nil, nil), store
}

func seedAccount(t *testing.T, store *memory.Store, id string, balance int64) {
	t.Helper()
	require.NoError(t, store.CreateAccount(context.Background(), models.Account{
		ID: id, Name: id, Balance: decimal.NewFromInt(balance),
	}))
}

func seedSubmitted(t *testing.T, store *memory.Store, id string, amount int64, flagged bool, age time.Duration) {
	t.Helper()
	createdAt := time.Now().Add(-age)
	require.NoError(t, store.CreateTransaction(context.Background(), models.Transaction{
		ID:         id,
		SenderID:   "alice",
		ReceiverID: "bob",
		Amount:     decimal.NewFromInt(amount),
		Status:     models.StatusSubmitted,
		Flagged:    flagged,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}))
}

func TestSweepCompletesStuckTransaction(t *testing.T) {
	sweeper, store := newTestSweeper(t, Config{MinAge: time.Minute})
	ctx := context.Background()
	seedAccount(t, store, "alice", 500)
	seedAccount(t, store, "bob", 0)
	seedSubmitted(t, store, "tx-stuck", 100, false, 5*time.Minute)

	processed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	tx, err := store.GetTransaction(ctx, "tx-stuck")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)

	alice, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(400)))
}

func TestSweepRestoresLostFlagTransition(t *testing.T) {
	sweeper, store := newTestSweeper(t, Config{MinAge: time.Minute})
	ctx := context.Background()
	seedAccount(t, store, "alice", 50000)
	seedAccount(t, store, "bob", 0)
	// Suspicious row whose FLAGGED transition was lost before the crash.
	seedSubmitted(t, store, "tx-lost", 20000, true, 5*time.Minute)

	processed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	tx, err := store.GetTransaction(ctx, "tx-lost")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFlagged, tx.Status)

	// Review owns the disposition; the sweep must not move funds.
	alice, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(50000)))
}

func TestSweepSkipsFreshTransactions(t *testing.T) {
	sweeper, store := newTestSweeper(t, Config{MinAge: time.Minute})
	ctx := context.Background()
	seedAccount(t, store, "alice", 500)
	seedAccount(t, store, "bob", 0)
	seedSubmitted(t, store, "tx-fresh", 100, false, time.Second)

	processed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)

	tx, err := store.GetTransaction(ctx, "tx-fresh")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, tx.Status)
}

func TestSweepIsolatesFailures(t *testing.T) {
	sweeper, store := newTestSweeper(t, Config{MinAge: time.Minute, Concurrency: 1})
	ctx := context.Background()
	seedAccount(t, store, "alice", 500)
	seedAccount(t, store, "bob", 0)
	// tx-broke cannot settle: the balance does not cover it. The engine's
	// fallback drives it to FAILED, and the healthy row still completes.
	seedSubmitted(t, store, "tx-broke", 9000, false, 5*time.Minute)
	seedSubmitted(t, store, "tx-ok", 100, false, 4*time.Minute)

	processed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	broke, err := store.GetTransaction(ctx, "tx-broke")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, broke.Status)

	ok, err := store.GetTransaction(ctx, "tx-ok")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, ok.Status)

	alice, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(400)))
}

func TestSweepIdempotentAcrossPasses(t *testing.T) {
	sweeper, store := newTestSweeper(t, Config{MinAge: time.Minute})
	ctx := context.Background()
	seedAccount(t, store, "alice", 500)
	seedAccount(t, store, "bob", 0)
	seedSubmitted(t, store, "tx-stuck", 100, false, 5*time.Minute)

	_, err := sweeper.Sweep(ctx)
	require.NoError(t, err)

	// A second pass finds nothing in SUBMITTED and changes nothing.
	processed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)

	alice, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(400)))
}
