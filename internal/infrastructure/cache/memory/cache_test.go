package memory

import (
	"context"
	"testing"
	"time"

	"github.com/carsnap/angle-review/internal/core/domain"
)

func result(angle domain.Angle) domain.ClassificationResult {
	return domain.ClassificationResult{
		URL:        "u",
		Angle:      angle,
		Source:     domain.SourceModel,
		Confidence: 0.9,
		Status:     domain.StatusOK,
	}
}

func TestGetReturnsStoredResult(t *testing.T) {
	c := New(4, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "a", result(domain.AngleFront)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Get() = %v %v, want hit", ok, err)
	}
	if got.Angle != domain.AngleFront {
		t.Fatalf("unexpected cached angle: %s", got.Angle)
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	c := New(4, time.Minute)
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }
	_ = c.Set(ctx, "a", result(domain.AngleBack))

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Fatalf("expired entry must miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry must be evicted on read, len = %d", c.Len())
	}
}

func TestEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := New(2, time.Minute)
	ctx := context.Background()

	_ = c.Set(ctx, "a", result(domain.AngleFront))
	_ = c.Set(ctx, "b", result(domain.AngleBack))
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatalf("expected hit for a")
	}
	_ = c.Set(ctx, "c", result(domain.AngleSideLeft))

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Fatalf("least recently used entry b should have been evicted")
	}
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatalf("recently used entry a should survive eviction")
	}
	if c.Len() != 2 {
		t.Fatalf("cache must stay within its size bound, len = %d", c.Len())
	}
}
