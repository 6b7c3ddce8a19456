package metrics

import "time"

// Collector records transfer engine metrics. Implementations must be safe
// for concurrent use.
type Collector interface {
	// RecordTransfer records a Transfer call with its final outcome:
	// completed, flagged, failed, or rejected.
	RecordTransfer(outcome string, duration time.Duration)

	// RecordReview records a fraud review disposition: cleared, escalated,
	// noop, missing, or error.
	RecordReview(outcome string)

	// RecordSweep records one reconciliation pass.
	RecordSweep(processed, failed int)

	// RecordOutboxPublish records one outbox dispatch attempt.
	RecordOutboxPublish(success bool)

	// RecordOutboxDepth records the pending outbox backlog observed at
	// dispatch time.
	RecordOutboxDepth(depth int)
}

// NoOpCollector discards all metrics.
type NoOpCollector struct{}

func (NoOpCollector) RecordTransfer(string, time.Duration) {}
func (NoOpCollector) RecordReview(string)                  {}
func (NoOpCollector) RecordSweep(int, int)                 {}
func (NoOpCollector) RecordOutboxPublish(bool)             {}
func (NoOpCollector) RecordOutboxDepth(int)                {}

var _ Collector = NoOpCollector{}
