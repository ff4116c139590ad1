package httpadapter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsAcceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mnx_gateway_events_accepted_total",
		Help: "Events appended to the log, by kind.",
	}, []string{"kind"})

	eventsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mnx_gateway_events_rejected_total",
		Help: "Append requests rejected before the log, by reason.",
	}, []string{"reason"})

	duplicateEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mnx_gateway_duplicate_events_total",
		Help: "Appends refused because the idempotency key was already used.",
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mnx_gateway_rate_limited_total",
		Help: "Requests refused with 429.",
	})

	appendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mnx_gateway_append_duration_seconds",
		Help:    "Wall time of the append path including validation and storage.",
		Buckets: prometheus.DefBuckets,
	})
)
