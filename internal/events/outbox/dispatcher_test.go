package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneyflow/transfer-engine/internal/models"
	"github.com/moneyflow/transfer-engine/internal/storage/memory"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	failTopic string
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic == p.failTopic {
		return errors.New("broker unreachable")
	}
	p.published = append(p.published, topic+"/"+key)
	return nil
}

func seedOutbox(t *testing.T, store *memory.Store, records ...models.OutboxRecord) {
	t.Helper()
	ctx := context.Background()
	tx := models.Transaction{
		ID:        "tx-1",
		Status:    models.StatusSubmitted,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateTransaction(ctx, tx))
	require.NoError(t, store.UpdateStatus(ctx, "tx-1", models.StatusSubmitted, models.StatusFlagged, records))
}

func TestDispatchOncePublishesAndMarks(t *testing.T) {
	store := memory.NewStore()
	publisher := &fakePublisher{}
	seedOutbox(t, store,
		models.OutboxRecord{ID: "out-1", TransactionID: "tx-1", Topic: "lifecycle", Key: "tx-1", Status: models.OutboxPending},
		models.OutboxRecord{ID: "out-2", TransactionID: "tx-1", Topic: "alerts", Key: "tx-1", Status: models.OutboxPending},
	)

	dispatcher := NewDispatcher(store, publisher, Config{}, nil, nil)
	result := dispatcher.DispatchOnce(context.Background())

	assert.Equal(t, Result{Processed: 2, Published: 2}, result)
	assert.Equal(t, []string{"lifecycle/tx-1", "alerts/tx-1"}, publisher.published)

	pending, err := store.PendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatchOnceLeavesFailuresPending(t *testing.T) {
	store := memory.NewStore()
	publisher := &fakePublisher{failTopic: "alerts"}
	seedOutbox(t, store,
		models.OutboxRecord{ID: "out-1", TransactionID: "tx-1", Topic: "lifecycle", Key: "tx-1", Status: models.OutboxPending},
		models.OutboxRecord{ID: "out-2", TransactionID: "tx-1", Topic: "alerts", Key: "tx-1", Status: models.OutboxPending},
	)

	dispatcher := NewDispatcher(store, publisher, Config{MaxAttempts: 3}, nil, nil)
	result := dispatcher.DispatchOnce(context.Background())

	assert.Equal(t, Result{Processed: 2, Published: 1, Failed: 1}, result)

	// The failed record stays pending for the next cycle.
	pending, err := store.PendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "out-2", pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "broker unreachable", pending[0].LastError)
}

func TestDispatchOnceGivesUpAtMaxAttempts(t *testing.T) {
	store := memory.NewStore()
	publisher := &fakePublisher{failTopic: "alerts"}
	seedOutbox(t, store,
		models.OutboxRecord{ID: "out-1", TransactionID: "tx-1", Topic: "alerts", Key: "tx-1", Status: models.OutboxPending},
	)

	dispatcher := NewDispatcher(store, publisher, Config{MaxAttempts: 2}, nil, nil)

	dispatcher.DispatchOnce(context.Background())
	pending, err := store.PendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	dispatcher.DispatchOnce(context.Background())
	pending, err = store.PendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatchOnceRespectsBatchSize(t *testing.T) {
	store := memory.NewStore()
	publisher := &fakePublisher{}
	seedOutbox(t, store,
		models.OutboxRecord{ID: "out-1", TransactionID: "tx-1", Topic: "lifecycle", Key: "tx-1", Status: models.OutboxPending},
		models.OutboxRecord{ID: "out-2", TransactionID: "tx-1", Topic: "lifecycle", Key: "tx-1", Status: models.OutboxPending},
		models.OutboxRecord{ID: "out-3", TransactionID: "tx-1", Topic: "lifecycle", Key: "tx-1", Status: models.OutboxPending},
	)

	dispatcher := NewDispatcher(store, publisher, Config{BatchSize: 2}, nil, nil)
	result := dispatcher.DispatchOnce(context.Background())

	assert.Equal(t, Result{Processed: 2, Published: 2}, result)

	result = dispatcher.DispatchOnce(context.Background())
	assert.Equal(t, Result{Processed: 1, Published: 1}, result)
}
