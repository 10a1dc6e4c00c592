package ports

import (
	"context"

	"github.com/carsnap/angle-review/internal/core/domain"
)

// BatchClassifier is the inbound contract for the classification worker.
// The returned slice always carries exactly one result per input image.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, job domain.ClassifyJob) []domain.ClassificationResult
}

// ResultWriter persists worker output and broadcasts accepted writes.
type ResultWriter interface {
	ApplyClassification(ctx context.Context, documentID string, results []domain.ClassificationResult) (int, error)
}

// StatusReader exposes the live aggregate counts for one document.
type StatusReader interface {
	AngleStatus(ctx context.Context, documentID string) (domain.AngleCounts, error)
}
