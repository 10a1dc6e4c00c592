package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/carsnap/angle-review/internal/core/domain"
)

// FlushFunc receives the coalesced edits of one autosave window: field-level
// patches keyed by image URL plus the URLs to delete.
type FlushFunc func(ctx context.Context, patches []domain.ImagePatch, deletes []string) error

// AutosaveBuffer coalesces rapid edits and flushes them after a short
// debounce window. Each new edit cancels and restarts the pending timer;
// Flush and Close force an immediate synchronous flush so no edit is lost.
// It is independent of any UI lifecycle.
type AutosaveBuffer struct {
	debounce     time.Duration
	flushTimeout time.Duration
	flushFn      FlushFunc

	mu      sync.Mutex
	patches map[string]domain.ImagePatch
	deletes map[string]struct{}
	order   []string
	timer   *time.Timer
	closed  bool
}

func NewAutosaveBuffer(debounce time.Duration, flushFn FlushFunc) *AutosaveBuffer {
	if debounce <= 0 {
		debounce = 750 * time.Millisecond
	}
	return &AutosaveBuffer{
		debounce:     debounce,
		flushTimeout: 10 * time.Second,
		flushFn:      flushFn,
		patches:      make(map[string]domain.ImagePatch),
		deletes:      make(map[string]struct{}),
	}
}

// Add buffers one patch, merging it field-by-field into any pending patch for
// the same image, and restarts the debounce timer.
func (b *AutosaveBuffer) Add(patch domain.ImagePatch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	existing, ok := b.patches[patch.URL]
	if !ok {
		b.order = append(b.order, patch.URL)
		existing = domain.ImagePatch{URL: patch.URL}
	}
	if patch.Angle != nil {
		existing.Angle = patch.Angle
	}
	if patch.Category != nil {
		existing.Category = patch.Category
	}
	if patch.IsCloseup != nil {
		existing.IsCloseup = patch.IsCloseup
	}
	if patch.Confidence != nil {
		existing.Confidence = patch.Confidence
	}
	if patch.Source != domain.SourceNone {
		existing.Source = patch.Source
	}
	b.patches[patch.URL] = existing
	delete(b.deletes, patch.URL)
	b.restartTimerLocked()
}

// AddDelete buffers a deletion; it supersedes any pending patch for the URL.
func (b *AutosaveBuffer) AddDelete(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if _, ok := b.patches[url]; ok {
		delete(b.patches, url)
		for i, u := range b.order {
			if u == url {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
	b.deletes[url] = struct{}{}
	b.restartTimerLocked()
}

// Flush synchronously writes out everything pending. On failure the drained
// edits go back into the buffer, so a later flush retries them and nothing is
// lost.
func (b *AutosaveBuffer) Flush(ctx context.Context) error {
	patches, deletes := b.drain()
	if len(patches) == 0 && len(deletes) == 0 {
		return nil
	}
	if err := b.flushFn(ctx, patches, deletes); err != nil {
		b.requeue(patches, deletes)
		return err
	}
	return nil
}

// Pending reports the number of buffered edits.
func (b *AutosaveBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.patches) + len(b.deletes)
}

// Close flushes outstanding edits and stops the timer for good.
func (b *AutosaveBuffer) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
	return b.Flush(ctx)
}

func (b *AutosaveBuffer) restartTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.debounce, b.flushAsync)
}

func (b *AutosaveBuffer) flushAsync() {
	ctx, cancel := context.WithTimeout(context.Background(), b.flushTimeout)
	defer cancel()
	// The failed edits are requeued by Flush; rearm the timer so they go out
	// without waiting for the next interaction.
	if err := b.Flush(ctx); err != nil {
		b.mu.Lock()
		if !b.closed {
			b.restartTimerLocked()
		}
		b.mu.Unlock()
	}
}

func (b *AutosaveBuffer) drain() ([]domain.ImagePatch, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	patches := make([]domain.ImagePatch, 0, len(b.patches))
	for _, url := range b.order {
		patches = append(patches, b.patches[url])
	}
	deletes := make([]string, 0, len(b.deletes))
	for url := range b.deletes {
		deletes = append(deletes, url)
	}
	b.patches = make(map[string]domain.ImagePatch)
	b.deletes = make(map[string]struct{})
	b.order = nil
	return patches, deletes
}

// requeue puts edits from a failed flush back into the buffer. Edits made
// while the flush was in flight are newer and win the merge.
func (b *AutosaveBuffer) requeue(patches []domain.ImagePatch, deletes []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range patches {
		if _, gone := b.deletes[p.URL]; gone {
			continue
		}
		newer, ok := b.patches[p.URL]
		if !ok {
			b.patches[p.URL] = p
			b.order = append(b.order, p.URL)
			continue
		}
		if newer.Angle == nil {
			newer.Angle = p.Angle
		}
		if newer.Category == nil {
			newer.Category = p.Category
		}
		if newer.IsCloseup == nil {
			newer.IsCloseup = p.IsCloseup
		}
		if newer.Confidence == nil {
			newer.Confidence = p.Confidence
		}
		if newer.Source == domain.SourceNone {
			newer.Source = p.Source
		}
		b.patches[p.URL] = newer
	}
	for _, url := range deletes {
		if _, ok := b.patches[url]; ok {
			continue
		}
		b.deletes[url] = struct{}{}
	}
}
