package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox publish outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetry        = "retry"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks the relay from outbox_events to the broker. A nil
// receiver records nothing.
type OutboxMetrics struct {
	events *prometheus.CounterVec
	batch  prometheus.Histogram
	lag    prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modoria_outbox_events_total",
			Help: "Outbox rows handled by the publisher, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modoria_outbox_batch_duration_seconds",
			Help:    "Time to drain one non-empty batch.",
			Buckets: prometheus.DefBuckets,
		}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modoria_outbox_publish_lag_seconds",
			Help:    "Delay between an outbox row being written and published.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 15, 60, 300, 900},
		}),
	}
	reg.MustRegister(m.events, m.batch, m.lag)
	return m
}

// ObserveEvent records one row's outcome; lag is only kept for published rows.
func (o *OutboxMetrics) ObserveEvent(eventType, outcome string, lag time.Duration) {
	if o == nil || o.events == nil {
		return
	}
	o.events.WithLabelValues(eventType, outcome).Inc()
	if outcome == OutboxPublished && lag >= 0 {
		o.lag.Observe(lag.Seconds())
	}
}

func (o *OutboxMetrics) ObserveBatch(took time.Duration) {
	if o == nil || o.batch == nil {
		return
	}
	o.batch.Observe(took.Seconds())
}
