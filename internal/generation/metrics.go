package generation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promptline",
			Subsystem: "generation",
			Name:      "total",
			Help:      "Finished generations by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "promptline",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Wall time from request to terminal state",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"backend", "outcome"},
	)

	contextTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "promptline",
			Subsystem: "context",
			Name:      "tokens",
			Help:      "Estimated tokens of assembled contexts",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 8),
		},
		[]string{"backend"},
	)

	busyRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "promptline",
			Subsystem: "generation",
			Name:      "busy_rejections_total",
			Help:      "Start requests rejected because a generation was in flight",
		},
	)

	generating = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "promptline",
			Subsystem: "generation",
			Name:      "in_flight",
			Help:      "1 while a generation is active",
		},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal, generationDuration, contextTokens, busyRejections, generating)
}

func observeFinish(backend string, outcome State, started time.Time) {
	generationsTotal.WithLabelValues(backend, string(outcome)).Inc()
	if !started.IsZero() {
		generationDuration.WithLabelValues(backend, string(outcome)).Observe(time.Since(started).Seconds())
	}
}
