package fraudreview

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/moneyflow/transfer-engine/internal/engine"
	"github.com/moneyflow/transfer-engine/internal/interfaces"
	"github.com/moneyflow/transfer-engine/internal/logging"
	"github.com/moneyflow/transfer-engine/internal/metrics"
	"github.com/moneyflow/transfer-engine/internal/models"
	"github.com/moneyflow/transfer-engine/internal/models/events"
	"github.com/moneyflow/transfer-engine/internal/risk"
)

// Config holds fraud review consumer settings.
type Config struct {
	Brokers []string
	// Topic is the lifecycle topic carrying all transition events.
	Topic string
	// GroupID is the consumer group shared by all review workers.
	GroupID string
	// Workers is the number of concurrent readers in the group.
	Workers int
}

// DefaultConfig returns the default consumer settings.
func DefaultConfig() Config {
	return Config{
		Topic:   events.TopicLifecycle,
		GroupID: "fraud-review",
		Workers: 2,
	}
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer subscribes to transaction lifecycle events and finalizes the
// disposition of flagged transactions: it re-validates each one with the
// risk classifier against current history, clearing it through the shared
// settle path or escalating it to FAILED.
//
// Workers are safe to run concurrently with each other and with the
// reconciliation sweep: every transition is a conditional update keyed on
// the FLAGGED status, so a duplicate delivery is a no-op.
type Consumer struct {
	cfg        Config
	engine     *engine.Engine
	store      interfaces.LedgerStore
	classifier *risk.Classifier
	logger     *logging.Logger
	metrics    metrics.Collector

	newReader func() messageReader
	wg        sync.WaitGroup
}

// NewConsumer creates a fraud review consumer backed by kafka-go readers.
func NewConsumer(cfg Config, eng *engine.Engine, store interfaces.LedgerStore, classifier *risk.Classifier, logger *logging.Logger, collector metrics.Collector) *Consumer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	def := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.GroupID == "" {
		cfg.GroupID = def.GroupID
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}

	c := &Consumer{
		cfg:        cfg,
		engine:     eng,
		store:      store,
		classifier: classifier,
		logger:     logger.Named("fraudreview"),
		metrics:    collector,
	}
	c.newReader = func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			Topic:       cfg.Topic,
			StartOffset: kafka.FirstOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		})
	}
	return c
}

// Run starts the configured number of workers, each with its own reader in
// the consumer group, and blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("fraud review consumer started",
		zap.String("topic", c.cfg.Topic),
		zap.String("group", c.cfg.GroupID),
		zap.Int("workers", c.cfg.Workers))

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go func(worker int) {
			defer c.wg.Done()
			c.runWorker(ctx, worker)
		}(i)
	}
	c.wg.Wait()
	c.logger.Info("fraud review consumer stopped")
}

func (c *Consumer) runWorker(ctx context.Context, worker int) {
	reader := c.newReader()
	defer reader.Close()

	log := c.logger.With(zap.Int("worker", worker))
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("fetch message failed", zap.Error(err))
			continue
		}

		if err := c.handleMessage(ctx, msg.Value); err != nil {
			// Leave the offset uncommitted so the bus redelivers; the
			// status guard makes the retry safe.
			log.Warn("event handling failed, leaving for redelivery", zap.Error(err))
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error("commit failed", zap.Error(err))
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, payload []byte) error {
	var event events.TransactionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		// Malformed payloads are fatal to this message only.
		c.logger.Error("dropping undecodable event", zap.Error(err))
		return nil
	}
	return c.review(ctx, event)
}

// review applies the disposition rules to one delivered event.
func (c *Consumer) review(ctx context.Context, event events.TransactionEvent) error {
	if !event.Suspicious {
		return nil
	}

	tx, err := c.store.GetTransaction(ctx, event.TransactionID)
	if errors.Is(err, interfaces.ErrTransactionNotFound) {
		// An event referencing a missing transaction means a durability bug
		// elsewhere; log it and do not hold the partition hostage.
		c.logger.Error("event references missing transaction",
			zap.String("transaction_id", event.TransactionID),
			zap.String("status", event.Status))
		c.metrics.RecordReview("missing")
		return nil
	}
	if err != nil {
		c.metrics.RecordReview("error")
		return err
	}

	// Idempotence boundary: a prior delivery or an administrator already
	// finalized this transaction.
	if tx.Status != models.StatusFlagged {
		c.metrics.RecordReview("noop")
		return nil
	}

	recent, err := c.store.CountRecentBySender(ctx, tx.SenderID, time.Now().Add(-c.classifier.Window()))
	if err != nil {
		c.metrics.RecordReview("error")
		return err
	}

	verdict := c.classifier.Classify(tx.Amount, recent)
	if verdict.Suspicious {
		if err := c.engine.Escalate(ctx, tx); err != nil {
			c.metrics.RecordReview("error")
			return err
		}
		c.logger.Warn("flagged transaction escalated",
			zap.String("transaction_id", tx.ID),
			zap.Strings("reasons", verdict.Reasons))
		c.metrics.RecordReview("escalated")
		return nil
	}

	settled, err := c.engine.Complete(ctx, tx, models.StatusFlagged)
	if err != nil {
		c.metrics.RecordReview("error")
		return err
	}
	c.logger.Info("flagged transaction cleared",
		zap.String("transaction_id", tx.ID),
		zap.String("status", string(settled.Status)))
	c.metrics.RecordReview("cleared")
	return nil
}
