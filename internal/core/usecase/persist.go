package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carsnap/angle-review/internal/core/domain"
	"github.com/carsnap/angle-review/internal/core/ports"
	"github.com/carsnap/angle-review/internal/infrastructure/resilience"
)

// PersistUseCase is the write side of the persistence & sync layer: it applies
// field-level patches through the repository's priority guard and broadcasts
// every accepted write on the event bus. Bus failures degrade to polling and
// are never fatal to the write itself.
type PersistUseCase struct {
	repo     ports.ImageRepository
	bus      ports.EventBus
	executor *resilience.Executor
	log      *slog.Logger
}

func NewPersistUseCase(
	repo ports.ImageRepository,
	bus ports.EventBus,
	executor *resilience.Executor,
	log *slog.Logger,
) *PersistUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &PersistUseCase{
		repo:     repo,
		bus:      bus,
		executor: executor,
		log:      log,
	}
}

// RegisterImages records freshly uploaded images as unclassified rows: angle
// unknown, no source, rank zero. Registration never clobbers an existing
// classification, so re-uploading a manifest is idempotent, and every
// automated write stays eligible against the new rows.
func (uc *PersistUseCase) RegisterImages(ctx context.Context, documentID string, images []domain.ImagePatch) (int, error) {
	if documentID == "" {
		return 0, domain.WrapError(domain.ErrInvalidInput, "register images", fmt.Errorf("document id is required"))
	}
	patches := make([]domain.ImagePatch, 0, len(images))
	for _, img := range images {
		if img.URL == "" {
			return 0, domain.WrapError(domain.ErrInvalidInput, "register images", fmt.Errorf("image url is required"))
		}
		p := domain.ImagePatch{URL: img.URL, Category: img.Category, Source: domain.SourceNone}
		p.Normalize()
		patches = append(patches, p)
	}

	applied, err := uc.upsert(ctx, documentID, patches)
	if err != nil {
		return 0, fmt.Errorf("register images: %w", err)
	}

	for _, p := range patches {
		uc.notifyPatch(ctx, documentID, p)
	}
	return applied, nil
}

// ApplyUserPatches validates, normalizes and upserts user-path patches, then
// notifies connected sessions. Returns the number of accepted writes.
func (uc *PersistUseCase) ApplyUserPatches(ctx context.Context, documentID string, patches []domain.ImagePatch) (int, error) {
	if documentID == "" {
		return 0, domain.WrapError(domain.ErrInvalidInput, "apply patches", fmt.Errorf("document id is required"))
	}
	normalized := make([]domain.ImagePatch, 0, len(patches))
	for _, p := range patches {
		if p.URL == "" {
			return 0, domain.WrapError(domain.ErrInvalidInput, "apply patches", fmt.Errorf("image url is required"))
		}
		if p.Angle != nil && !p.Angle.Valid() {
			return 0, domain.WrapError(domain.ErrInvalidInput, "apply patches", fmt.Errorf("angle %q is not canonical", *p.Angle))
		}
		p.Normalize()
		normalized = append(normalized, p)
	}

	applied, err := uc.upsert(ctx, documentID, normalized)
	if err != nil {
		return 0, fmt.Errorf("persist patches: %w", err)
	}

	for _, p := range normalized {
		uc.notifyPatch(ctx, documentID, p)
	}
	return applied, nil
}

// ApplyClassification merges worker output into the image set. Only ok
// results are written; skipped and error entries leave persistence untouched,
// which keeps the downstream counts honest.
func (uc *PersistUseCase) ApplyClassification(ctx context.Context, documentID string, results []domain.ClassificationResult) (int, error) {
	applied := 0
	for _, res := range results {
		if res.Status != domain.StatusOK {
			continue
		}
		res := res
		var ok bool
		err := uc.execute(ctx, "repo.apply_result", func(callCtx context.Context) error {
			var applyErr error
			ok, applyErr = uc.repo.ApplyResult(callCtx, documentID, res)
			return applyErr
		})
		if err != nil {
			// A dropped write loses a classification; surface it after retries.
			return applied, fmt.Errorf("apply result for %s: %w", res.URL, err)
		}
		if !ok {
			continue
		}
		applied++
		uc.notifyResult(ctx, documentID, res)
	}
	return applied, nil
}

// DeleteImage removes one record and broadcasts the deletion.
func (uc *PersistUseCase) DeleteImage(ctx context.Context, documentID, url string) error {
	err := uc.execute(ctx, "repo.delete_image", func(callCtx context.Context) error {
		return uc.repo.DeleteImage(callCtx, documentID, url)
	})
	if err != nil {
		return fmt.Errorf("delete image %s: %w", url, err)
	}
	uc.notify(ctx, domain.AngleUpdate{
		DocumentID: documentID,
		URL:        url,
		Deleted:    true,
		At:         time.Now().UTC(),
	})
	return nil
}

// AngleStatus computes the live aggregate counts; never served stale.
func (uc *PersistUseCase) AngleStatus(ctx context.Context, documentID string) (domain.AngleCounts, error) {
	counts, err := uc.repo.CountAngles(ctx, documentID)
	if err != nil {
		return domain.AngleCounts{}, fmt.Errorf("count angles: %w", err)
	}
	return counts, nil
}

func (uc *PersistUseCase) upsert(ctx context.Context, documentID string, patches []domain.ImagePatch) (int, error) {
	var applied int
	err := uc.execute(ctx, "repo.upsert_patches", func(callCtx context.Context) error {
		var upsertErr error
		applied, upsertErr = uc.repo.UpsertPatches(callCtx, documentID, patches)
		return upsertErr
	})
	return applied, err
}

func (uc *PersistUseCase) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if uc.executor == nil {
		return fn(ctx)
	}
	return uc.executor.Do(ctx, operation, fn, classifyPersistenceError)
}

func (uc *PersistUseCase) notifyPatch(ctx context.Context, documentID string, p domain.ImagePatch) {
	update := domain.AngleUpdate{
		DocumentID: documentID,
		URL:        p.URL,
		Source:     p.Source,
		At:         time.Now().UTC(),
	}
	if p.Angle != nil {
		update.Angle = *p.Angle
	}
	if p.Category != nil {
		update.Category = *p.Category
	}
	update.IsCloseup = p.IsCloseup
	if p.Confidence != nil {
		update.Confidence = *p.Confidence
	}
	uc.notify(ctx, update)
}

func (uc *PersistUseCase) notifyResult(ctx context.Context, documentID string, res domain.ClassificationResult) {
	uc.notify(ctx, domain.AngleUpdate{
		DocumentID: documentID,
		URL:        res.URL,
		Angle:      res.Angle,
		Category:   domain.CategoryExterior,
		Source:     res.Source,
		Confidence: res.Confidence,
		At:         time.Now().UTC(),
	})
}

func (uc *PersistUseCase) notify(ctx context.Context, update domain.AngleUpdate) {
	if uc.bus == nil {
		return
	}
	if err := uc.bus.PublishAngleUpdate(ctx, update); err != nil {
		uc.log.Warn("angle_update_publish_failed",
			"document_id", update.DocumentID,
			"url", update.URL,
			"error", err,
		)
	}
}

func classifyPersistenceError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrImageNotFound) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}
