package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink counts events by type.
//
// Metrics:
//   - acdkn_engine_events_total{type}
//   - acdkn_engine_point_confidence (histogram of detected point confidence)
//   - acdkn_engine_outcome_score (histogram of reported outcome scores)
type PrometheusSink struct {
	events     *prometheus.CounterVec
	confidence prometheus.Histogram
	outcomes   prometheus.Histogram
}

// NewPrometheusSink registers the event metrics on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	f := promauto.With(reg)
	return &PrometheusSink{
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "acdkn",
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Total engine events by type",
			},
			[]string{"type"},
		),
		confidence: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "acdkn",
				Subsystem: "engine",
				Name:      "point_confidence",
				Help:      "Confidence of detected integration points",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
		outcomes: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "acdkn",
				Subsystem: "engine",
				Name:      "outcome_score",
				Help:      "Realized outcome scores reported for applied decisions",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
	}
}

func (s *PrometheusSink) Emit(_ context.Context, e Event) {
	s.events.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case PointDetected:
		if c, ok := e.Fields["confidence"].(float64); ok {
			s.confidence.Observe(c)
		}
	case OutcomeRecorded:
		if c, ok := e.Fields["score"].(float64); ok {
			s.outcomes.Observe(c)
		}
	}
}
