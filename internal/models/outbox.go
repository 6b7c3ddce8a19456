package models

import "time"

// OutboxStatus is the delivery state of an outbox record.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// OutboxRecord is an event payload persisted in the same unit of work as the
// status transition it describes. A dispatcher forwards pending records to the
// bus at-least-once; the store write and the publish are never a dual write.
type OutboxRecord struct {
	ID            string
	TransactionID string
	Topic         string
	Key           string
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}
