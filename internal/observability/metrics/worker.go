package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carsnap/angle-review/internal/core/domain"
)

// WorkerMetrics covers the classification worker: batch throughput, per-image
// outcomes by source, and how long jobs sat in the queue.
type WorkerMetrics struct {
	registry *prometheus.Registry

	batchTotal    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	batchInFlight prometheus.Gauge
	imageTotal    *prometheus.CounterVec
	queueLag      *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	batchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carsnap",
			Subsystem: "worker",
			Name:      "classify_batches_total",
			Help:      "Total classification batches by status.",
		},
		[]string{"service", "status"},
	)
	batchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carsnap",
			Subsystem: "worker",
			Name:      "classify_batch_duration_seconds",
			Help:      "Classification batch duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	batchInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "carsnap",
			Subsystem: "worker",
			Name:      "classify_batches_in_flight",
			Help:      "Number of classification batches being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	imageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carsnap",
			Subsystem: "worker",
			Name:      "classify_images_total",
			Help:      "Total classified images by result source and status.",
		},
		[]string{"service", "source", "status"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carsnap",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job enqueue and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(batchTotal, batchDuration, batchInFlight, imageTotal, queueLag)

	return &WorkerMetrics{
		registry:      registry,
		batchTotal:    batchTotal,
		batchDuration: batchDuration,
		batchInFlight: batchInFlight,
		imageTotal:    imageTotal,
		queueLag:      queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartBatch() {
	m.batchInFlight.Inc()
}

func (m *WorkerMetrics) FinishBatch(service string, duration time.Duration, err error) {
	m.batchInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.batchTotal.WithLabelValues(service, status).Inc()
	m.batchDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveResults(service string, results []domain.ClassificationResult) {
	for _, res := range results {
		source := string(res.Source)
		if source == "" {
			source = "none"
		}
		m.imageTotal.WithLabelValues(service, source, string(res.Status)).Inc()
	}
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
