package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptline",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Control API requests by route, method and status.",
	}, []string{"path", "method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "promptline",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Control API latency. POST /generate?wait=1 includes the generation.",
		Buckets:   []float64{.005, .025, .1, .5, 1, 5, 15, 60, 180},
	}, []string{"path", "method"})

	httpInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "promptline",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Control API requests being served.",
	})

	generateRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptline",
		Subsystem: "http",
		Name:      "generate_requests_total",
		Help:      "POST /generate outcomes by mode: accepted, busy, invalid, failed.",
	}, []string{"mode", "result"})
)

// statusRecorder captures the status code and keeps streaming responses flushable.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MetricsMiddleware instruments requests for Prometheus.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInflight.Inc()
		defer httpInflight.Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		// the pattern is only known after routing
		path := routePatternOrPath(r)
		httpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(sr.status)).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath keeps label cardinality bounded by preferring chi's pattern.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// countGenerate records the outcome of a POST /generate.
func countGenerate(mode string, status int) {
	result := "accepted"
	switch {
	case status == http.StatusConflict:
		result = "busy"
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType || status == http.StatusUnprocessableEntity:
		result = "invalid"
	case status >= 500:
		result = "failed"
	}
	if mode == "" {
		mode = "unknown"
	}
	generateRequests.WithLabelValues(mode, result).Inc()
}
