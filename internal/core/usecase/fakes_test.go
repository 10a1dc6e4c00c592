package usecase

import (
	"context"
	"sync"

	"github.com/carsnap/angle-review/internal/core/domain"
)

type fakeRepo struct {
	mu sync.Mutex

	images map[string]domain.Image

	upserted []domain.ImagePatch
	applied  []domain.ClassificationResult
	deleted  []string

	listErr   error
	upsertErr error
	applyErr  error
	countErr  error

	// rejectApply simulates the priority guard: results for these URLs are
	// skipped without error.
	rejectApply map[string]bool
}

func newFakeRepo(images ...domain.Image) *fakeRepo {
	r := &fakeRepo{images: make(map[string]domain.Image)}
	for _, img := range images {
		r.images[img.URL] = img
	}
	return r
}

func (r *fakeRepo) UpsertPatches(_ context.Context, _ string, patches []domain.ImagePatch) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return 0, r.upsertErr
	}
	r.upserted = append(r.upserted, patches...)
	for _, p := range patches {
		img := r.images[p.URL]
		img.URL = p.URL
		if p.Angle != nil {
			img.Angle = *p.Angle
		}
		if p.Category != nil {
			img.Category = *p.Category
		} else if img.Category == "" {
			img.Category = domain.CategoryExterior
		}
		if p.IsCloseup != nil {
			img.IsCloseup = *p.IsCloseup
		}
		if p.Source != domain.SourceNone {
			img.Source = p.Source
		}
		r.images[p.URL] = img
	}
	return len(patches), nil
}

func (r *fakeRepo) ApplyResult(_ context.Context, _ string, res domain.ClassificationResult) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return false, r.applyErr
	}
	if r.rejectApply[res.URL] {
		return false, nil
	}
	r.applied = append(r.applied, res)
	return true, nil
}

func (r *fakeRepo) ListByDocument(_ context.Context, _ string) ([]domain.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.Image, 0, len(r.images))
	for _, img := range r.images {
		out = append(out, img)
	}
	return out, nil
}

func (r *fakeRepo) CountAngles(_ context.Context, _ string) (domain.AngleCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countErr != nil {
		return domain.AngleCounts{}, r.countErr
	}
	var counts domain.AngleCounts
	for _, img := range r.images {
		if img.Category != domain.CategoryExterior {
			continue
		}
		counts.TotalExterior++
		if !img.Angle.Resolved() {
			counts.UnknownExterior++
		}
	}
	return counts, nil
}

func (r *fakeRepo) DeleteImage(_ context.Context, _ string, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, url)
	delete(r.images, url)
	return nil
}

type fakeScorer struct {
	mu     sync.Mutex
	calls  []string
	scores map[string]scoredAngle
	err    error
}

type scoredAngle struct {
	angle domain.Angle
	conf  float64
}

func newFakeScorer() *fakeScorer {
	return &fakeScorer{scores: make(map[string]scoredAngle)}
}

func (s *fakeScorer) set(url string, angle domain.Angle, conf float64) {
	s.scores[url] = scoredAngle{angle: angle, conf: conf}
}

func (s *fakeScorer) Score(_ context.Context, url string) (domain.Angle, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, url)
	if s.err != nil {
		return domain.AngleUnknown, 0, s.err
	}
	if sc, ok := s.scores[url]; ok {
		return sc.angle, sc.conf, nil
	}
	return domain.AngleUnknown, 0, nil
}

func (s *fakeScorer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.ClassificationResult
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]domain.ClassificationResult)}
}

func (c *fakeCache) Get(_ context.Context, url string) (domain.ClassificationResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[url]
	return res, ok, nil
}

func (c *fakeCache) Set(_ context.Context, url string, res domain.ClassificationResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = res
	c.sets++
	return nil
}

type fakeBus struct {
	mu       sync.Mutex
	jobs     []domain.ClassifyJob
	updates  []domain.AngleUpdate
	pubErr   error
	handlers map[string][]func(domain.AngleUpdate)
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string][]func(domain.AngleUpdate))}
}

func (b *fakeBus) PublishClassifyJob(_ context.Context, job domain.ClassifyJob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubErr != nil {
		return b.pubErr
	}
	b.jobs = append(b.jobs, job)
	return nil
}

func (b *fakeBus) SubscribeClassifyJobs(ctx context.Context, _ func(context.Context, domain.ClassifyJob) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *fakeBus) PublishAngleUpdate(_ context.Context, update domain.AngleUpdate) error {
	b.mu.Lock()
	if b.pubErr != nil {
		b.mu.Unlock()
		return b.pubErr
	}
	b.updates = append(b.updates, update)
	handlers := append([]func(domain.AngleUpdate){}, b.handlers[update.DocumentID]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(update)
	}
	return nil
}

func (b *fakeBus) SubscribeAngleUpdates(_ context.Context, documentID string, handler func(domain.AngleUpdate)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[documentID] = append(b.handlers[documentID], handler)
	return func() {}, nil
}

func (b *fakeBus) publishedUpdates() []domain.AngleUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.AngleUpdate{}, b.updates...)
}

type fakeStatus struct {
	mu     sync.Mutex
	counts []domain.AngleCounts
	errs   []error
	calls  int
}

func (s *fakeStatus) AngleStatus(context.Context, string) (domain.AngleCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return domain.AngleCounts{}, s.errs[i]
	}
	if len(s.counts) == 0 {
		return domain.AngleCounts{}, nil
	}
	if i >= len(s.counts) {
		return s.counts[len(s.counts)-1], nil
	}
	return s.counts[i], nil
}
