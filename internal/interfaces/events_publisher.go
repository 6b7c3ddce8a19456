package interfaces

import "context"

// EventPublisher emits serialized events to a durable at-least-once bus.
// The key selects the partitioning domain; all events for one transaction
// use the transaction id so consumers observe them in transition order.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}
