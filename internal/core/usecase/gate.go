package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/carsnap/angle-review/internal/core/domain"
	"github.com/carsnap/angle-review/internal/core/ports"
)

// GateState is the document-level generation state. Readiness is always
// recomputed from current data; only the in-flight flag and the last terminal
// outcome live in memory.
type GateState string

const (
	GateNotReady   GateState = "not_ready"
	GateReady      GateState = "ready"
	GateInProgress GateState = "generation_in_progress"
	GateComplete   GateState = "generation_complete"
	GateFailed     GateState = "generation_failed"
)

// GenerationGate blocks report generation until review is complete and
// enforces at-most-one in-flight generation per document.
type GenerationGate struct {
	status ports.StatusReader

	mu       sync.Mutex
	inFlight map[string]struct{}
	outcome  map[string]GateState
}

func NewGenerationGate(status ports.StatusReader) *GenerationGate {
	return &GenerationGate{
		status:   status,
		inFlight: make(map[string]struct{}),
		outcome:  make(map[string]GateState),
	}
}

// Begin admits one generation for the document. It rejects with
// ErrReviewIncomplete while any exterior image is unresolved, and with
// ErrGenerationActive while another generation is in flight; a rejected
// request is never queued.
func (g *GenerationGate) Begin(ctx context.Context, documentID string) error {
	counts, err := g.status.AngleStatus(ctx, documentID)
	if err != nil {
		return fmt.Errorf("gate readiness check: %w", err)
	}
	if !counts.Ready() {
		return domain.WrapError(
			domain.ErrReviewIncomplete,
			"begin generation",
			fmt.Errorf("%d of %d exterior images unresolved", counts.UnknownExterior, counts.TotalExterior),
		)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, active := g.inFlight[documentID]; active {
		return domain.WrapError(
			domain.ErrGenerationActive,
			"begin generation",
			fmt.Errorf("document %s already generating", documentID),
		)
	}
	g.inFlight[documentID] = struct{}{}
	delete(g.outcome, documentID)
	return nil
}

// Finish releases the in-flight slot and records the terminal outcome.
func (g *GenerationGate) Finish(documentID string, failed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, documentID)
	if failed {
		g.outcome[documentID] = GateFailed
	} else {
		g.outcome[documentID] = GateComplete
	}
}

// State reports the current gate state for a document. not_ready/ready is a
// pure function of current counts; it is never a persisted flag.
func (g *GenerationGate) State(ctx context.Context, documentID string) (GateState, error) {
	g.mu.Lock()
	if _, active := g.inFlight[documentID]; active {
		g.mu.Unlock()
		return GateInProgress, nil
	}
	if outcome, ok := g.outcome[documentID]; ok {
		g.mu.Unlock()
		return outcome, nil
	}
	g.mu.Unlock()

	counts, err := g.status.AngleStatus(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("gate state check: %w", err)
	}
	if counts.Ready() {
		return GateReady, nil
	}
	return GateNotReady, nil
}
