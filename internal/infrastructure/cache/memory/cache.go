// Package memory is the single-instance classification result cache: a
// bounded LRU with per-entry TTL behind a pure get/set interface, replacing
// module-global state.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/carsnap/angle-review/internal/core/domain"
)

type entry struct {
	url       string
	result    domain.ClassificationResult
	expiresAt time.Time
}

type Cache struct {
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
}

func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

func (c *Cache) Get(_ context.Context, url string) (domain.ClassificationResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[url]
	if !ok {
		return domain.ClassificationResult{}, false, nil
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeLocked(el)
		return domain.ClassificationResult{}, false, nil
	}
	c.order.MoveToFront(el)
	return e.result, true, nil
}

func (c *Cache) Set(_ context.Context, url string, res domain.ClassificationResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[url]; ok {
		e := el.Value.(*entry)
		e.result = res
		e.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return nil
	}

	el := c.order.PushFront(&entry{
		url:       url,
		result:    res,
		expiresAt: c.now().Add(c.ttl),
	})
	c.items[url] = el

	for len(c.items) > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
	return nil
}

// Len reports the number of live entries, expired ones included until their
// next Get.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.url)
}
