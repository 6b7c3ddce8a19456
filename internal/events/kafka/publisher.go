package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/moneyflow/transfer-engine/internal/interfaces"
	"github.com/moneyflow/transfer-engine/internal/logging"
)

// Config holds Kafka publisher settings.
type Config struct {
	Brokers []string

	// BreakerTimeout is how long the circuit stays open before probing.
	BreakerTimeout time.Duration

	// ConsecutiveFailures trips the circuit when reached.
	ConsecutiveFailures uint32
}

// DefaultConfig returns the default publisher settings.
func DefaultConfig() Config {
	return Config{
		BreakerTimeout:      30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher emits events to Kafka with one hash-balanced writer per topic,
// guarded by a shared circuit breaker so a broker outage fails fast instead
// of stalling every dispatch cycle.
type Publisher struct {
	cfg    Config
	logger *logging.Logger
	cb     *gobreaker.CircuitBreaker

	mu        sync.Mutex
	writers   map[string]messageWriter
	newWriter func(topic string) messageWriter
}

// NewPublisher creates a Kafka-backed publisher.
func NewPublisher(cfg Config, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	def := DefaultConfig()
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}

	p := &Publisher{
		cfg:     cfg,
		logger:  logger.Named("kafka"),
		writers: make(map[string]messageWriter),
	}
	p.newWriter = func(topic string) messageWriter {
		return &kafka.Writer{
			Addr: kafka.TCP(cfg.Brokers...),
			// Hash on the message key: all events for one transaction land
			// on the same partition, preserving transition order.
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}

	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "kafka-publisher",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return p
}

// Publish writes one keyed message to the topic through the circuit breaker.
func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	writer := p.writerFor(topic)

	_, err := p.cb.Execute(func() (any, error) {
		return nil, writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(key),
			Value: payload,
		})
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close closes every topic writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close writer for %s: %w", topic, err)
		}
	}
	p.writers = make(map[string]messageWriter)
	return firstErr
}

func (p *Publisher) writerFor(topic string) messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	writer, exists := p.writers[topic]
	if !exists {
		writer = p.newWriter(topic)
		p.writers[topic] = writer
	}
	return writer
}

// Compile-time check: Publisher implements the EventPublisher interface.
var _ interfaces.EventPublisher = (*Publisher)(nil)
