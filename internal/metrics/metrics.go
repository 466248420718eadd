// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portal"

var (
	// SessionValidations counts session lookups by result:
	// valid, absent, expired, orphaned, error.
	SessionValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "validations_total",
		Help:      "Session validations by result.",
	}, []string{"result"})

	// TokensIssued counts check-in tokens issued, by issuer capability.
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkin",
		Name:      "tokens_issued_total",
		Help:      "Check-in tokens issued.",
	}, []string{"capability"})

	// Redemptions counts redemption attempts by terminal state.
	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkin",
		Name:      "redemptions_total",
		Help:      "Check-in token redemptions by outcome.",
	}, []string{"outcome"})

	// RollCallMarks counts manual roll-call marks by result.
	RollCallMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "attendance",
		Name:      "rollcall_marks_total",
		Help:      "Manual roll-call marks by result.",
	}, []string{"result"})

	// EventsPublished counts attendance events handed to the queue.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "events_published_total",
		Help:      "Attendance events published, by result.",
	}, []string{"result"})

	// HTTPDuration observes request latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
