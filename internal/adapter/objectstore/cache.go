package objectstore

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/fire-perimeter-service/internal/observability"
)

// Presigner produces download URLs for archived objects.
type Presigner interface {
	Presign(ctx context.Context, fire, filename string) (string, error)
}

// CachedPresigner wraps a Presigner with an in-memory LRU cache. Entries expire
// after ttl, which should be well inside the URL expiry so cached links are still valid.
type CachedPresigner struct {
	inner   Presigner
	cache   *lruCache
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics
}

// NewCachedPresigner creates a cache decorator around a presigner.
func NewCachedPresigner(inner Presigner, maxEntries int, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedPresigner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CachedPresigner{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		ttl:     ttl,
		clock:   clock,
		metrics: metrics,
	}
}

func (c *CachedPresigner) Presign(ctx context.Context, fire, filename string) (string, error) {
	key := fire + "/" + filename
	now := c.clock.Now()
	if u, ok := c.cache.get(key, now); ok {
		c.metrics.PresignCache.WithLabelValues("hit").Inc()
		return u, nil
	}
	c.metrics.PresignCache.WithLabelValues("miss").Inc()

	u, err := c.inner.Presign(ctx, fire, filename)
	if err != nil {
		return "", err
	}
	c.cache.put(key, u, now.Add(c.ttl))
	return u, nil
}

// lruCache is a simple thread-safe LRU cache of presigned URLs with per-entry expiry.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key     string
	value   string
	expires time.Time
	prev    *entry
	next    *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !now.Before(e.expires) {
		delete(c.entries, key)
		c.remove(e)
		return "", false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key, value string, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = expires
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, expires: expires}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
