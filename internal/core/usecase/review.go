package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carsnap/angle-review/internal/core/domain"
	"github.com/carsnap/angle-review/internal/core/ports"
)

// Board is one reconciliation session over a document's image set. It buckets
// images by current angle, applies manual corrections locally, buffers the
// resulting patches through an AutosaveBuffer, and keeps itself converged
// with other sessions via the event bus. Every manual action stamps the
// record source=user, which is terminal against automated overwrite.
type Board struct {
	documentID string
	sessionID  string
	persist    *PersistUseCase
	buffer     *AutosaveBuffer
	unsub      func()
	log        *slog.Logger

	mu     sync.Mutex
	images map[string]*domain.Image
}

// BoardConfig tunes a review session.
type BoardConfig struct {
	Debounce time.Duration
}

// OpenBoard loads the current image set and subscribes to change
// notifications for the document.
func OpenBoard(
	ctx context.Context,
	documentID string,
	persist *PersistUseCase,
	bus ports.EventBus,
	cfg BoardConfig,
	log *slog.Logger,
) (*Board, error) {
	if log == nil {
		log = slog.Default()
	}
	images, err := persist.repo.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load board images: %w", err)
	}

	b := &Board{
		documentID: documentID,
		sessionID:  uuid.NewString(),
		persist:    persist,
		log:        log,
		images:     make(map[string]*domain.Image, len(images)),
	}
	for i := range images {
		img := images[i]
		b.images[img.URL] = &img
	}
	b.buffer = NewAutosaveBuffer(cfg.Debounce, b.flushEdits)

	if bus != nil {
		unsub, err := bus.SubscribeAngleUpdates(ctx, documentID, b.applyRemote)
		if err != nil {
			// Degraded mode: the session still works, callers fall back to
			// polling for remote changes.
			log.Warn("board_subscribe_failed", "document_id", documentID, "error", err)
		} else {
			b.unsub = unsub
		}
	}
	return b, nil
}

func (b *Board) SessionID() string { return b.sessionID }

// Pending reports the number of edits buffered for the next autosave flush.
func (b *Board) Pending() int { return b.buffer.Pending() }

// Buckets returns the images grouped by current angle, each bucket sorted by
// URL for stable presentation.
func (b *Board) Buckets() map[domain.Angle][]domain.Image {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[domain.Angle][]domain.Image)
	for _, img := range b.images {
		out[img.Angle] = append(out[img.Angle], *img)
	}
	for angle := range out {
		bucket := out[angle]
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].URL < bucket[j].URL })
		out[angle] = bucket
	}
	return out
}

// Move assigns a canonical angle to an image and marks it user-confirmed.
func (b *Board) Move(url string, target domain.Angle) error {
	if !target.Valid() {
		return domain.WrapError(domain.ErrInvalidInput, "move image", fmt.Errorf("angle %q is not canonical", target))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	img, err := b.imageLocked(url)
	if err != nil {
		return err
	}
	img.Angle = target
	img.Source = domain.SourceUser
	b.bufferAngleLocked(img)
	return nil
}

// Swap mirrors the image's angle left/right; a no-op for unknown.
func (b *Board) Swap(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	img, err := b.imageLocked(url)
	if err != nil {
		return err
	}
	if img.Angle == domain.AngleUnknown {
		return nil
	}
	img.Angle = domain.SwapLR(img.Angle)
	img.Source = domain.SourceUser
	b.bufferAngleLocked(img)
	return nil
}

// ToggleCloseup flips the close-up flag.
func (b *Board) ToggleCloseup(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	img, err := b.imageLocked(url)
	if err != nil {
		return err
	}
	img.IsCloseup = !img.IsCloseup
	img.Source = domain.SourceUser
	closeup := img.IsCloseup
	b.buffer.Add(domain.ImagePatch{
		URL:       url,
		IsCloseup: &closeup,
		Source:    domain.SourceUser,
	})
	return nil
}

// SetCategory recategorizes an image; moving it off exterior forces
// angle=unknown.
func (b *Board) SetCategory(url string, category domain.Category) error {
	if _, err := domain.ParseCategory(string(category)); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	img, err := b.imageLocked(url)
	if err != nil {
		return err
	}
	img.Category = category
	img.Source = domain.SourceUser
	if category != domain.CategoryExterior {
		img.Angle = domain.AngleUnknown
	}
	cat := category
	patch := domain.ImagePatch{URL: url, Category: &cat, Source: domain.SourceUser}
	patch.Normalize()
	b.buffer.Add(patch)
	return nil
}

// Delete removes the record entirely.
func (b *Board) Delete(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.imageLocked(url); err != nil {
		return err
	}
	delete(b.images, url)
	b.buffer.AddDelete(url)
	return nil
}

// Flush forces the pending autosave window out immediately.
func (b *Board) Flush(ctx context.Context) error {
	return b.buffer.Flush(ctx)
}

// Confirm flushes outstanding edits and verifies that every exterior image
// carries a definitive angle. The caller triggers generation on success.
func (b *Board) Confirm(ctx context.Context) (domain.AngleCounts, error) {
	if err := b.buffer.Flush(ctx); err != nil {
		return domain.AngleCounts{}, fmt.Errorf("confirm flush: %w", err)
	}
	counts, err := b.persist.AngleStatus(ctx, b.documentID)
	if err != nil {
		return domain.AngleCounts{}, err
	}
	if !counts.Ready() {
		return counts, domain.WrapError(
			domain.ErrReviewIncomplete,
			"confirm review",
			fmt.Errorf("%d of %d exterior images unresolved", counts.UnknownExterior, counts.TotalExterior),
		)
	}
	return counts, nil
}

// Close tears the session down, flushing whatever is pending so no edit is
// lost.
func (b *Board) Close(ctx context.Context) error {
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}
	return b.buffer.Close(ctx)
}

func (b *Board) imageLocked(url string) (*domain.Image, error) {
	img, ok := b.images[url]
	if !ok {
		return nil, domain.WrapError(domain.ErrImageNotFound, "board edit", fmt.Errorf("no image %s on board", url))
	}
	return img, nil
}

func (b *Board) bufferAngleLocked(img *domain.Image) {
	angle := img.Angle
	b.buffer.Add(domain.ImagePatch{
		URL:    img.URL,
		Angle:  &angle,
		Source: domain.SourceUser,
	})
}

func (b *Board) flushEdits(ctx context.Context, patches []domain.ImagePatch, deletes []string) error {
	if len(patches) > 0 {
		if _, err := b.persist.ApplyUserPatches(ctx, b.documentID, patches); err != nil {
			return err
		}
	}
	for _, url := range deletes {
		if err := b.persist.DeleteImage(ctx, b.documentID, url); err != nil {
			return err
		}
	}
	return nil
}

// applyRemote folds a change from another session into the local buckets.
// Last write wins per field; our own unflushed edits are re-applied on the
// next flush anyway.
func (b *Board) applyRemote(update domain.AngleUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if update.Deleted {
		delete(b.images, update.URL)
		return
	}
	img, ok := b.images[update.URL]
	if !ok {
		img = &domain.Image{
			DocumentID: b.documentID,
			URL:        update.URL,
			Category:   domain.CategoryExterior,
			Angle:      domain.AngleUnknown,
		}
		b.images[update.URL] = img
	}
	if update.Angle != "" {
		img.Angle = update.Angle
	}
	if update.Category != "" {
		img.Category = update.Category
	}
	if update.IsCloseup != nil {
		img.IsCloseup = *update.IsCloseup
	}
	if update.Source != domain.SourceNone {
		img.Source = update.Source
	}
	if update.Confidence > 0 {
		img.Confidence = update.Confidence
	}
}
