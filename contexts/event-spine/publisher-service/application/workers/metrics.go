package workers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mnx_cdc_events_published_total",
		Help: "Outbox rows delivered to every subscriber and marked published.",
	})

	eventsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mnx_cdc_events_failed_total",
		Help: "Delivery attempts that failed, by error type.",
	}, []string{"error_type"})

	eventsDeadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mnx_cdc_events_dead_lettered_total",
		Help: "Outbox rows moved to the dead letter queue.",
	})

	outboxLagSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mnx_cdc_outbox_lag_seconds",
		Help: "Age of the oldest claimed outbox row at claim time.",
	}, []string{"world_id", "branch"})

	publishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mnx_cdc_publish_duration_seconds",
		Help:    "Wall time to fan one event out to all subscribers.",
		Buckets: prometheus.DefBuckets,
	})
)
