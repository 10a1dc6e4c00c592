package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerMetrics covers the api binary: request throughput plus the review
// and generation counters the reconciliation flow reports.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	patchesTotal     *prometheus.CounterVec
	generationsTotal *prometheus.CounterVec
	readyChecksTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carsnap",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carsnap",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "carsnap",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	patchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carsnap",
			Subsystem: "review",
			Name:      "patches_total",
			Help:      "Total user patches by outcome.",
		},
		[]string{"service", "outcome"},
	)
	generationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carsnap",
			Subsystem: "generation",
			Name:      "attempts_total",
			Help:      "Total generation attempts by outcome.",
		},
		[]string{"service", "outcome"},
	)
	readyChecksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carsnap",
			Subsystem: "review",
			Name:      "ready_checks_total",
			Help:      "Total angle status reads by readiness.",
		},
		[]string{"service", "ready"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		patchesTotal,
		generationsTotal,
		readyChecksTotal,
	)

	return &HTTPServerMetrics{
		registry:         registry,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestInFlight:  requestInFlight,
		patchesTotal:     patchesTotal,
		generationsTotal: generationsTotal,
		readyChecksTotal: readyChecksTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps document ids out of the label space.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordPatches(service string, accepted, rejected int) {
	if accepted > 0 {
		m.patchesTotal.WithLabelValues(service, "accepted").Add(float64(accepted))
	}
	if rejected > 0 {
		m.patchesTotal.WithLabelValues(service, "rejected").Add(float64(rejected))
	}
}

func (m *HTTPServerMetrics) RecordGeneration(service, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.generationsTotal.WithLabelValues(service, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordReadyCheck(service string, ready bool) {
	m.readyChecksTotal.WithLabelValues(service, strconv.FormatBool(ready)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
