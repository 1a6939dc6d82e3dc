package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keycard",
		Subsystem: "session",
		Name:      "operations_total",
		Help:      "Session operations by outcome.",
	}, []string{"operation", "status"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "keycard",
		Subsystem: "session",
		Name:      "operation_duration_seconds",
		Help:      "Duration of session operations, card exchanges included.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})

	pairingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keycard",
		Subsystem: "session",
		Name:      "pairings_total",
		Help:      "Pairings created, by source.",
	}, []string{"source"})

	authenticityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keycard",
		Subsystem: "session",
		Name:      "authenticity_checks_total",
		Help:      "Card authenticity checks by result.",
	}, []string{"result"})

	droppedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keycard",
		Subsystem: "session",
		Name:      "dropped_events_total",
		Help:      "Events dropped because the notifier queue was full.",
	})
)

func observeOperation(op string, start time.Time, err error) {
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	operationsTotal.WithLabelValues(op, statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isChannelLoss(err):
		return "channel_unavailable"
	case isBadResponse(err):
		return "card_error"
	default:
		return "error"
	}
}
