package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mnx_projector_events_applied_total",
		Help: "Events that mutated the lens, by projector and kind.",
	}, []string{"projector", "kind"})

	redeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mnx_projector_redeliveries_total",
		Help: "Deliveries skipped because the watermark already covered them.",
	}, []string{"projector"})

	hashMismatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mnx_projector_hash_mismatch_total",
		Help: "Deliveries rejected for payload hash mismatch.",
	}, []string{"projector"})

	applyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mnx_projector_apply_duration_seconds",
		Help:    "Wall time of a successful apply including watermark advance.",
		Buckets: prometheus.DefBuckets,
	}, []string{"projector"})
)
