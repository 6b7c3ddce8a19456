package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/moneyflow/transfer-engine/internal/interfaces"
	"github.com/moneyflow/transfer-engine/internal/logging"
	"github.com/moneyflow/transfer-engine/internal/metrics"
)

// Config holds outbox dispatcher settings.
type Config struct {
	// Interval between dispatch cycles.
	Interval time.Duration
	// BatchSize bounds how many pending records one cycle handles.
	BatchSize int
	// MaxAttempts bounds delivery retries before a record is marked FAILED.
	MaxAttempts int
}

// DefaultConfig returns the default dispatcher settings.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Second,
		BatchSize:   100,
		MaxAttempts: 10,
	}
}

// Result captures one dispatch cycle outcome.
type Result struct {
	Processed int
	Published int
	Failed    int
}

// Dispatcher forwards pending outbox records to the event bus. Publish
// happens before the record is marked published, so delivery is
// at-least-once and consumers must stay idempotent.
type Dispatcher struct {
	store     interfaces.LedgerStore
	publisher interfaces.EventPublisher
	logger    *logging.Logger
	metrics   metrics.Collector
	cfg       Config
}

// NewDispatcher creates an outbox dispatcher.
func NewDispatcher(store interfaces.LedgerStore, publisher interfaces.EventPublisher, cfg Config, logger *logging.Logger, collector metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		logger:    logger.Named("outbox"),
		metrics:   collector,
		cfg:       cfg,
	}
}

// Run dispatches on the configured interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("outbox dispatcher started",
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("batch_size", d.cfg.BatchSize))

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce processes one batch of pending records.
func (d *Dispatcher) DispatchOnce(ctx context.Context) Result {
	records, err := d.store.PendingOutbox(ctx, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("failed to list pending outbox records", zap.Error(err))
		return Result{}
	}
	d.metrics.RecordOutboxDepth(len(records))

	var result Result
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		result.Processed++

		if err := d.publisher.Publish(ctx, rec.Topic, rec.Key, rec.Payload); err != nil {
			d.logger.Warn("outbox publish failed",
				zap.String("record_id", rec.ID),
				zap.String("topic", rec.Topic),
				zap.Int("attempts", rec.Attempts+1),
				zap.Error(err))
			if markErr := d.store.MarkOutboxFailed(ctx, rec.ID, err.Error(), d.cfg.MaxAttempts); markErr != nil {
				d.logger.Error("failed to mark outbox record failed",
					zap.String("record_id", rec.ID), zap.Error(markErr))
			}
			d.metrics.RecordOutboxPublish(false)
			result.Failed++
			continue
		}

		if err := d.store.MarkOutboxPublished(ctx, rec.ID, time.Now()); err != nil {
			// Published but not recorded: the record stays pending and will
			// be republished. Consumers dedupe on (transaction id, status).
			d.logger.Error("outbox record published but not marked",
				zap.String("record_id", rec.ID), zap.Error(err))
		}
		d.metrics.RecordOutboxPublish(true)
		result.Published++
	}
	return result
}
