package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/moneyflow/transfer-engine/internal/metrics"
)

// Collector implements metrics.Collector backed by Prometheus.
type Collector struct {
	transfers        *prometheus.CounterVec
	transferDuration prometheus.Histogram
	reviews          *prometheus.CounterVec
	sweepProcessed   prometheus.Counter
	sweepFailed      prometheus.Counter
	outboxPublishes  *prometheus.CounterVec
	outboxDepth      prometheus.Gauge
}

// NewCollector creates a Prometheus collector and registers its metrics on reg.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	c := &Collector{
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Total number of transfer calls by final outcome",
			},
			[]string{"outcome"},
		),
		transferDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_duration_seconds",
				Help:      "Latency of the synchronous transfer path",
				Buckets:   prometheus.DefBuckets,
			},
		),
		reviews: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fraud_reviews_total",
				Help:      "Total number of fraud review dispositions by outcome",
			},
			[]string{"outcome"},
		),
		sweepProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_processed_total",
				Help:      "Total number of stuck transactions driven to a final state",
			},
		),
		sweepFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_failures_total",
				Help:      "Total number of sweep items that failed to settle",
			},
		),
		outboxPublishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_publishes_total",
				Help:      "Total number of outbox dispatch attempts by result",
			},
			[]string{"result"},
		),
		outboxDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outbox_pending_depth",
				Help:      "Pending outbox records observed at dispatch time",
			},
		),
	}

	reg.MustRegister(
		c.transfers,
		c.transferDuration,
		c.reviews,
		c.sweepProcessed,
		c.sweepFailed,
		c.outboxPublishes,
		c.outboxDepth,
	)

	return c
}

func (c *Collector) RecordTransfer(outcome string, duration time.Duration) {
	c.transfers.WithLabelValues(outcome).Inc()
	c.transferDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordReview(outcome string) {
	c.reviews.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSweep(processed, failed int) {
	c.sweepProcessed.Add(float64(processed))
	c.sweepFailed.Add(float64(failed))
}

func (c *Collector) RecordOutboxPublish(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.outboxPublishes.WithLabelValues(result).Inc()
}

func (c *Collector) RecordOutboxDepth(depth int) {
	c.outboxDepth.Set(float64(depth))
}

var _ metrics.Collector = (*Collector)(nil)
