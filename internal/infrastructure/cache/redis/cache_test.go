package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/carsnap/angle-review/internal/core/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, time.Minute), srv
}

func TestSetThenGetRoundTrips(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	want := domain.ClassificationResult{
		URL:        "https://img/1.jpg",
		Angle:      domain.AngleBackRight,
		Source:     domain.SourceModel,
		Confidence: 0.88,
		Status:     domain.StatusOK,
	}
	if err := cache.Set(ctx, want.URL, want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := cache.Get(ctx, want.URL)
	if err != nil || !ok {
		t.Fatalf("Get() = %v %v, want hit", ok, err)
	}
	if got.Angle != want.Angle || got.Confidence != want.Confidence {
		t.Fatalf("unexpected cached result: %+v", got)
	}
}

func TestMissReturnsNoError(t *testing.T) {
	cache, _ := newTestCache(t)
	if _, ok, err := cache.Get(context.Background(), "https://img/absent.jpg"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestEntryExpiresWithTTL(t *testing.T) {
	cache, srv := newTestCache(t)
	ctx := context.Background()

	res := domain.ClassificationResult{URL: "u", Angle: domain.AngleFront, Status: domain.StatusOK}
	if err := cache.Set(ctx, "u", res); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	srv.FastForward(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "u"); ok {
		t.Fatalf("entry should expire with its TTL")
	}
}
