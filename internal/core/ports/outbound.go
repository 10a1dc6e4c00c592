package ports

import (
	"context"

	"github.com/carsnap/angle-review/internal/core/domain"
)

// ImageRepository is the authoritative per-image record store. Writes are
// field-level patches; whole-record overwrites do not exist.
type ImageRepository interface {
	// UpsertPatches applies user-path patches and reports how many rows were
	// accepted. A patch whose source is outranked by the stored record is a
	// silent no-op, not an error.
	UpsertPatches(ctx context.Context, documentID string, patches []domain.ImagePatch) (int, error)
	// ApplyResult applies an automated classification result. It is a
	// conditional update keyed on image existence: results for images deleted
	// mid-flight are discarded, and a stored source that outranks the result
	// wins. Returns false when the write was skipped.
	ApplyResult(ctx context.Context, documentID string, res domain.ClassificationResult) (bool, error)
	ListByDocument(ctx context.Context, documentID string) ([]domain.Image, error)
	// CountAngles computes {total_exterior, unknown_exterior} live.
	CountAngles(ctx context.Context, documentID string) (domain.AngleCounts, error)
	DeleteImage(ctx context.Context, documentID, url string) error
}

// AngleScorer assigns a viewpoint label to one image. Both the cheap
// heuristic and the model-based fallback satisfy this contract.
type AngleScorer interface {
	Score(ctx context.Context, url string) (domain.Angle, float64, error)
}

// ResultCache remembers accepted model classifications so a model answer is
// taken at most once per image across retries.
type ResultCache interface {
	Get(ctx context.Context, url string) (domain.ClassificationResult, bool, error)
	Set(ctx context.Context, url string, res domain.ClassificationResult) error
}

// EventBus carries classify jobs to the worker and change notifications to
// open review sessions. Polling is the documented fallback when it degrades.
type EventBus interface {
	PublishClassifyJob(ctx context.Context, job domain.ClassifyJob) error
	// SubscribeClassifyJobs blocks until ctx is done, delivering jobs to the
	// handler from a shared worker queue group.
	SubscribeClassifyJobs(ctx context.Context, handler func(context.Context, domain.ClassifyJob) error) error
	PublishAngleUpdate(ctx context.Context, update domain.AngleUpdate) error
	// SubscribeAngleUpdates registers a per-document handler and returns an
	// unsubscribe func.
	SubscribeAngleUpdates(ctx context.Context, documentID string, handler func(domain.AngleUpdate)) (func(), error)
}
