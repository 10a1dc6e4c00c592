package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/carsnap/angle-review/internal/core/domain"
	"github.com/carsnap/angle-review/internal/core/ports"
)

// StatusPoller is the documented fallback when the sync channel is down: it
// polls the live counts, surfaces a retry affordance after a run of failed
// reads, and detects a stalled classification when the counts stop moving.
type StatusPoller struct {
	status           ports.StatusReader
	interval         time.Duration
	failureThreshold int
	stallThreshold   int
}

func NewStatusPoller(status ports.StatusReader, interval time.Duration, failureThreshold, stallThreshold int) *StatusPoller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if stallThreshold <= 0 {
		stallThreshold = 10
	}
	return &StatusPoller{
		status:           status,
		interval:         interval,
		failureThreshold: failureThreshold,
		stallThreshold:   stallThreshold,
	}
}

// Wait polls until every exterior image is resolved. It returns
// ErrSyncChannel after failureThreshold consecutive read failures and
// ErrStalled when the unknown count has not moved for stallThreshold polls;
// both tell the caller to show an explicit retry control instead of spinning.
func (p *StatusPoller) Wait(ctx context.Context, documentID string, onUpdate func(domain.AngleCounts)) (domain.AngleCounts, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		last         domain.AngleCounts
		haveLast     bool
		failures     int
		stalledPolls int
	)

	for {
		counts, err := p.status.AngleStatus(ctx, documentID)
		if err != nil {
			failures++
			if failures >= p.failureThreshold {
				return last, domain.WrapError(
					domain.ErrSyncChannel,
					"status poll",
					fmt.Errorf("%d consecutive status failures: %w", failures, err),
				)
			}
		} else {
			failures = 0
			if onUpdate != nil {
				onUpdate(counts)
			}
			if counts.Ready() {
				return counts, nil
			}
			if haveLast && counts == last {
				stalledPolls++
				if stalledPolls >= p.stallThreshold {
					return counts, domain.WrapError(
						domain.ErrStalled,
						"status poll",
						fmt.Errorf("no count movement across %d polls", stalledPolls),
					)
				}
			} else {
				stalledPolls = 0
			}
			last = counts
			haveLast = true
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
