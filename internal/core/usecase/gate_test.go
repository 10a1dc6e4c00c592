package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/carsnap/angle-review/internal/core/domain"
)

func TestGateRejectsUnresolvedReview(t *testing.T) {
	status := &fakeStatus{counts: []domain.AngleCounts{{TotalExterior: 5, UnknownExterior: 2}}}
	gate := NewGenerationGate(status)

	err := gate.Begin(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrReviewIncomplete) {
		t.Fatalf("want review incomplete, got %v", err)
	}

	state, err := gate.State(context.Background(), "doc-1")
	if err != nil || state != GateNotReady {
		t.Fatalf("State() = %v, %v", state, err)
	}
}

func TestGateAdmitsExactlyOneGeneration(t *testing.T) {
	status := &fakeStatus{counts: []domain.AngleCounts{{TotalExterior: 5}}}
	gate := NewGenerationGate(status)
	ctx := context.Background()

	if err := gate.Begin(ctx, "doc-1"); err != nil {
		t.Fatalf("first Begin() error = %v", err)
	}
	if err := gate.Begin(ctx, "doc-1"); !domain.IsKind(err, domain.ErrGenerationActive) {
		t.Fatalf("second Begin() must be rejected, got %v", err)
	}

	state, _ := gate.State(ctx, "doc-1")
	if state != GateInProgress {
		t.Fatalf("State() = %v, want in progress", state)
	}

	gate.Finish("doc-1", false)
	state, _ = gate.State(ctx, "doc-1")
	if state != GateComplete {
		t.Fatalf("State() = %v, want complete", state)
	}

	// The slot is free again once the previous run finished.
	if err := gate.Begin(ctx, "doc-1"); err != nil {
		t.Fatalf("Begin() after Finish() error = %v", err)
	}
}

func TestGateRecordsFailedOutcome(t *testing.T) {
	status := &fakeStatus{counts: []domain.AngleCounts{{TotalExterior: 3}}}
	gate := NewGenerationGate(status)
	ctx := context.Background()

	if err := gate.Begin(ctx, "doc-1"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	gate.Finish("doc-1", true)

	state, _ := gate.State(ctx, "doc-1")
	if state != GateFailed {
		t.Fatalf("State() = %v, want failed", state)
	}
}

func TestGateTracksDocumentsIndependently(t *testing.T) {
	status := &fakeStatus{counts: []domain.AngleCounts{{TotalExterior: 3}}}
	gate := NewGenerationGate(status)
	ctx := context.Background()

	if err := gate.Begin(ctx, "doc-1"); err != nil {
		t.Fatalf("Begin(doc-1) error = %v", err)
	}
	if err := gate.Begin(ctx, "doc-2"); err != nil {
		t.Fatalf("a second document must not be blocked, got %v", err)
	}
}

func TestGateSurfacesStatusFailures(t *testing.T) {
	status := &fakeStatus{errs: []error{errors.New("db down")}}
	gate := NewGenerationGate(status)

	if err := gate.Begin(context.Background(), "doc-1"); err == nil {
		t.Fatalf("unreadable counts must refuse admission")
	}
}
