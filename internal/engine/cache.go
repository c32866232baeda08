package engine

import (
	"context"
	"sync"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/couchcryptid/relative-yield-service/internal/observability"
)

// CachedCatalog wraps a Catalog with an in-memory LRU cache of raster reads, so
// the percentile and output evaluations of one run read each layer once.
// Scene listings are not cached.
type CachedCatalog struct {
	inner   Catalog
	cache   *lruCache[domain.Raster]
	metrics *observability.Metrics
}

// NewCachedCatalog creates a cache decorator holding up to maxEntries rasters.
func NewCachedCatalog(inner Catalog, maxEntries int, metrics *observability.Metrics) *CachedCatalog {
	return &CachedCatalog{inner: inner, cache: newLRUCache[domain.Raster](maxEntries), metrics: metrics}
}

func (c *CachedCatalog) Scenes(ctx context.Context) ([]domain.SceneMeta, error) {
	return c.inner.Scenes(ctx)
}

func (c *CachedCatalog) Reflectance(ctx context.Context, sceneID string) (domain.Raster, error) {
	return c.get(ctx, "reflectance", sceneID, c.inner.Reflectance)
}

func (c *CachedCatalog) ClearScore(ctx context.Context, sceneID string) (domain.Raster, error) {
	return c.get(ctx, "clear_score", sceneID, c.inner.ClearScore)
}

func (c *CachedCatalog) LandCover(ctx context.Context, source string) (domain.Raster, error) {
	return c.get(ctx, "land_cover", source, c.inner.LandCover)
}

func (c *CachedCatalog) get(ctx context.Context, layer, id string, read func(context.Context, string) (domain.Raster, error)) (domain.Raster, error) {
	key := layer + ":" + id
	if r, ok := c.cache.get(key); ok {
		c.metrics.CatalogCache.WithLabelValues(layer, "hit").Inc()
		return r, nil
	}
	c.metrics.CatalogCache.WithLabelValues(layer, "miss").Inc()
	r, err := read(ctx, id)
	if err != nil {
		// Join misses and read failures are not cached so a later run sees new files.
		return r, err
	}
	c.cache.put(key, r)
	return r, nil
}

// lruCache is a simple thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
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

func (c *lruCache[V]) remove(e *entry[V]) {
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

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
