package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/carsnap/angle-review/internal/core/domain"
	"github.com/carsnap/angle-review/internal/core/ports"
)

// ClassifyConfig carries the tunables of the two-stage scoring pipeline.
type ClassifyConfig struct {
	// ModelThreshold is the heuristic confidence below which the batch
	// escalates to the model-based scorer.
	ModelThreshold float64
	// BatchTimeout bounds one whole batch; entries not resolved in time come
	// back as error results instead of being dropped.
	BatchTimeout time.Duration
}

func (c ClassifyConfig) normalize() ClassifyConfig {
	out := c
	if out.ModelThreshold <= 0 || out.ModelThreshold > 1 {
		out.ModelThreshold = 0.65
	}
	return out
}

// ClassifyBatchUseCase labels a batch of images: cheap deterministic scorer
// first, model escalation on low confidence, higher confidence wins with the
// heuristic taking ties. It has no side effects beyond the result list.
type ClassifyBatchUseCase struct {
	heuristic ports.AngleScorer
	model     ports.AngleScorer
	cache     ports.ResultCache
	repo      ports.ImageRepository
	cfg       ClassifyConfig
}

func NewClassifyBatchUseCase(
	heuristic ports.AngleScorer,
	model ports.AngleScorer,
	cache ports.ResultCache,
	repo ports.ImageRepository,
	cfg ClassifyConfig,
) *ClassifyBatchUseCase {
	return &ClassifyBatchUseCase{
		heuristic: heuristic,
		model:     model,
		cache:     cache,
		repo:      repo,
		cfg:       cfg.normalize(),
	}
}

// ClassifyBatch returns exactly one result per input image. Per-image
// failures are absorbed into error results and never abort the batch.
func (uc *ClassifyBatchUseCase) ClassifyBatch(ctx context.Context, job domain.ClassifyJob) []domain.ClassificationResult {
	if uc.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.cfg.BatchTimeout)
		defer cancel()
	}

	settled := uc.settledImages(ctx, job)

	results := make([]domain.ClassificationResult, 0, len(job.Images))
	for _, ref := range job.Images {
		if img, ok := settled[ref.URL]; ok {
			results = append(results, domain.ClassificationResult{
				URL:        ref.URL,
				ID:         ref.ID,
				Angle:      img.Angle,
				Source:     img.Source,
				Confidence: img.Confidence,
				Status:     domain.StatusSkipped,
			})
			continue
		}
		if err := ctx.Err(); err != nil {
			results = append(results, errorResult(ref, fmt.Errorf("batch timed out: %w", err)))
			continue
		}
		results = append(results, uc.classifyOne(ctx, ref, job.ModelEnabled))
	}
	return results
}

// settledImages returns the images the batch must not touch: anything a user
// already labeled, plus resolved images when reclassify_unknown_only is set.
// A failed eligibility read degrades to classifying everything; the
// persistence rank guard still keeps user labels safe.
func (uc *ClassifyBatchUseCase) settledImages(ctx context.Context, job domain.ClassifyJob) map[string]domain.Image {
	if uc.repo == nil || job.DocumentID == "" {
		return nil
	}
	existing, err := uc.repo.ListByDocument(ctx, job.DocumentID)
	if err != nil {
		return nil
	}
	settled := make(map[string]domain.Image)
	for _, img := range existing {
		if img.Source == domain.SourceUser {
			settled[img.URL] = img
			continue
		}
		if job.ReclassifyUnknownOnly && img.Angle.Resolved() {
			settled[img.URL] = img
		}
	}
	return settled
}

func (uc *ClassifyBatchUseCase) classifyOne(ctx context.Context, ref domain.ImageRef, modelEnabled bool) domain.ClassificationResult {
	if uc.cache != nil {
		if cached, ok, err := uc.cache.Get(ctx, ref.URL); err == nil && ok && cached.Angle.Resolved() {
			return domain.ClassificationResult{
				URL:        ref.URL,
				ID:         ref.ID,
				Angle:      cached.Angle,
				Source:     domain.SourceCache,
				Confidence: cached.Confidence,
				Status:     domain.StatusOK,
			}
		}
	}

	hAngle, hConf, hErr := uc.heuristic.Score(ctx, ref.URL)

	if hErr == nil && hConf >= uc.cfg.ModelThreshold {
		return okResult(ref, hAngle, domain.SourceHeuristic, hConf)
	}
	if !modelEnabled || uc.model == nil {
		if hErr != nil {
			return errorResult(ref, fmt.Errorf("heuristic scorer: %w", hErr))
		}
		return okResult(ref, hAngle, domain.SourceHeuristic, hConf)
	}

	mAngle, mConf, mErr := uc.model.Score(ctx, ref.URL)
	if mErr != nil {
		if hErr != nil {
			return errorResult(ref, fmt.Errorf("heuristic scorer: %w; model scorer: %w", hErr, mErr))
		}
		return okResult(ref, hAngle, domain.SourceHeuristic, hConf)
	}

	// Heuristic wins ties to keep repeated runs deterministic.
	if hErr == nil && hConf >= mConf {
		return okResult(ref, hAngle, domain.SourceHeuristic, hConf)
	}

	res := okResult(ref, mAngle, domain.SourceModel, mConf)
	if uc.cache != nil && res.Angle.Resolved() {
		// Best effort: a cache miss on retry only costs another model call.
		_ = uc.cache.Set(ctx, ref.URL, res)
	}
	return res
}

func okResult(ref domain.ImageRef, angle domain.Angle, source domain.Source, confidence float64) domain.ClassificationResult {
	return domain.ClassificationResult{
		URL:        ref.URL,
		ID:         ref.ID,
		Angle:      angle,
		Source:     source,
		Confidence: confidence,
		Status:     domain.StatusOK,
	}
}

func errorResult(ref domain.ImageRef, err error) domain.ClassificationResult {
	return domain.ClassificationResult{
		URL:    ref.URL,
		ID:     ref.ID,
		Angle:  domain.AngleUnknown,
		Status: domain.StatusError,
		Error:  err.Error(),
	}
}
