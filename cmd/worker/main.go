package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carsnap/angle-review/internal/bootstrap"
	"github.com/carsnap/angle-review/internal/config"
	"github.com/carsnap/angle-review/internal/core/domain"
	"github.com/carsnap/angle-review/internal/core/ports"
	"github.com/carsnap/angle-review/internal/observability/metrics"
)

const serviceName = "angle-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, serviceName, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", workerMetrics.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: metricsMux,
	}
	go func() {
		app.Log.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("worker metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	app.Log.Info("worker_subscribed", "subject", "angles.jobs")
	err = app.Bus.SubscribeClassifyJobs(ctx, func(handlerCtx context.Context, job domain.ClassifyJob) error {
		return handleBatch(handlerCtx, job, app.ClassifyUC, app.Persist, workerMetrics, app.Log)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker subscribe error: %v", err)
	}
}

// handleBatch runs one classification job end to end: score every image and
// merge the accepted results through the priority guard.
func handleBatch(
	ctx context.Context,
	job domain.ClassifyJob,
	classifier ports.BatchClassifier,
	writer ports.ResultWriter,
	m *metrics.WorkerMetrics,
	log *slog.Logger,
) error {
	start := time.Now()
	m.StartBatch()
	m.ObserveQueueLag(serviceName, start.Sub(job.EnqueuedAt))

	results := classifier.ClassifyBatch(ctx, job)
	m.ObserveResults(serviceName, results)

	applied, applyErr := writer.ApplyClassification(ctx, job.DocumentID, results)
	m.FinishBatch(serviceName, time.Since(start), applyErr)

	log.Info("classify_batch_done",
		"job_id", job.JobID,
		"document_id", job.DocumentID,
		"images", len(job.Images),
		"applied", applied,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", applyErr,
	)
	return applyErr
}
