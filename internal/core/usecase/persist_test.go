package usecase

import (
	"context"
	"testing"

	"github.com/carsnap/angle-review/internal/core/domain"
)

func anglePtr(a domain.Angle) *domain.Angle          { return &a }
func categoryPtr(c domain.Category) *domain.Category { return &c }

func TestRegisterImagesCreatesUnclassifiedRows(t *testing.T) {
	repo := newFakeRepo()
	bus := newFakeBus()
	uc := NewPersistUseCase(repo, bus, nil, nil)

	registered, err := uc.RegisterImages(context.Background(), "doc-1", []domain.ImagePatch{
		{URL: "a.jpg"},
		{URL: "b.jpg", Category: categoryPtr(domain.CategoryInterior)},
	})
	if err != nil || registered != 2 {
		t.Fatalf("RegisterImages() = %d, %v", registered, err)
	}
	for _, p := range repo.upserted {
		if p.Source != domain.SourceNone {
			t.Fatalf("registration must not claim a provenance: %+v", p)
		}
	}
	if len(bus.publishedUpdates()) != 2 {
		t.Fatalf("registered images must be broadcast")
	}

	// Rank-zero rows stay eligible for every later automated write.
	applied, err := uc.ApplyClassification(context.Background(), "doc-1", []domain.ClassificationResult{
		{URL: "a.jpg", Angle: domain.AngleFront, Source: domain.SourceHeuristic, Confidence: 0.9, Status: domain.StatusOK},
	})
	if err != nil || applied != 1 {
		t.Fatalf("classification of a registered image must apply, got %d, %v", applied, err)
	}
}

func TestRegisterImagesRejectsMissingURL(t *testing.T) {
	repo := newFakeRepo()
	uc := NewPersistUseCase(repo, nil, nil, nil)

	_, err := uc.RegisterImages(context.Background(), "doc-1", []domain.ImagePatch{{URL: ""}})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("want invalid input, got %v", err)
	}
	if len(repo.upserted) != 0 {
		t.Fatalf("rejected batch must not reach the repository")
	}
}

func TestApplyUserPatchesRejectsNonCanonicalAngle(t *testing.T) {
	repo := newFakeRepo()
	uc := NewPersistUseCase(repo, nil, nil, nil)

	bad := domain.Angle("three_quarter")
	_, err := uc.ApplyUserPatches(context.Background(), "doc-1", []domain.ImagePatch{
		{URL: "a.jpg", Angle: &bad, Source: domain.SourceUser},
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("want invalid input, got %v", err)
	}
	if len(repo.upserted) != 0 {
		t.Fatalf("rejected batch must not reach the repository")
	}
}

func TestApplyUserPatchesNormalizesCategoryChange(t *testing.T) {
	repo := newFakeRepo()
	bus := newFakeBus()
	uc := NewPersistUseCase(repo, bus, nil, nil)

	applied, err := uc.ApplyUserPatches(context.Background(), "doc-1", []domain.ImagePatch{
		{URL: "a.jpg", Category: categoryPtr(domain.CategoryInterior), Source: domain.SourceUser},
	})
	if err != nil || applied != 1 {
		t.Fatalf("ApplyUserPatches() = %d, %v", applied, err)
	}
	got := repo.upserted[0]
	if got.Angle == nil || *got.Angle != domain.AngleUnknown {
		t.Fatalf("leaving exterior must force angle=unknown, got %+v", got)
	}
	if len(bus.publishedUpdates()) != 1 {
		t.Fatalf("every accepted patch must be broadcast")
	}
}

func TestApplyClassificationWritesOnlyOKResults(t *testing.T) {
	repo := newFakeRepo()
	bus := newFakeBus()
	uc := NewPersistUseCase(repo, bus, nil, nil)

	applied, err := uc.ApplyClassification(context.Background(), "doc-1", []domain.ClassificationResult{
		{URL: "a.jpg", Angle: domain.AngleFront, Source: domain.SourceHeuristic, Confidence: 0.9, Status: domain.StatusOK},
		{URL: "b.jpg", Angle: domain.AngleBack, Source: domain.SourceUser, Status: domain.StatusSkipped},
		{URL: "c.jpg", Angle: domain.AngleUnknown, Status: domain.StatusError, Error: "scorer failed"},
	})
	if err != nil {
		t.Fatalf("ApplyClassification() error = %v", err)
	}
	if applied != 1 || len(repo.applied) != 1 || repo.applied[0].URL != "a.jpg" {
		t.Fatalf("only the ok result may be written, applied = %d", applied)
	}
	if len(bus.publishedUpdates()) != 1 {
		t.Fatalf("only accepted writes may be broadcast")
	}
}

func TestApplyClassificationSkipsOutrankedWritesSilently(t *testing.T) {
	repo := newFakeRepo()
	repo.rejectApply = map[string]bool{"a.jpg": true}
	bus := newFakeBus()
	uc := NewPersistUseCase(repo, bus, nil, nil)

	applied, err := uc.ApplyClassification(context.Background(), "doc-1", []domain.ClassificationResult{
		{URL: "a.jpg", Angle: domain.AngleFront, Source: domain.SourceModel, Confidence: 0.9, Status: domain.StatusOK},
		{URL: "b.jpg", Angle: domain.AngleBack, Source: domain.SourceModel, Confidence: 0.8, Status: domain.StatusOK},
	})
	if err != nil {
		t.Fatalf("a guarded skip is not an error: %v", err)
	}
	if applied != 1 {
		t.Fatalf("want 1 accepted write, got %d", applied)
	}
	updates := bus.publishedUpdates()
	if len(updates) != 1 || updates[0].URL != "b.jpg" {
		t.Fatalf("skipped writes must not be broadcast: %+v", updates)
	}
}

func TestDeleteImageBroadcastsDeletion(t *testing.T) {
	repo := newFakeRepo(domain.Image{URL: "a.jpg", Category: domain.CategoryExterior})
	bus := newFakeBus()
	uc := NewPersistUseCase(repo, bus, nil, nil)

	if err := uc.DeleteImage(context.Background(), "doc-1", "a.jpg"); err != nil {
		t.Fatalf("DeleteImage() error = %v", err)
	}
	updates := bus.publishedUpdates()
	if len(updates) != 1 || !updates[0].Deleted || updates[0].URL != "a.jpg" {
		t.Fatalf("deletion must be broadcast: %+v", updates)
	}
}

func TestBusFailureDoesNotFailTheWrite(t *testing.T) {
	repo := newFakeRepo()
	bus := newFakeBus()
	bus.pubErr = context.DeadlineExceeded
	uc := NewPersistUseCase(repo, bus, nil, nil)

	applied, err := uc.ApplyUserPatches(context.Background(), "doc-1", []domain.ImagePatch{
		{URL: "a.jpg", Angle: anglePtr(domain.AngleFront), Source: domain.SourceUser},
	})
	if err != nil || applied != 1 {
		t.Fatalf("publish failure must degrade to polling, got %d, %v", applied, err)
	}
}
