package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/couchcryptid/relative-yield-service/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock for cache tests ---

type countingCatalog struct {
	MemoryCatalog
	reflectanceCalls int
	clearScoreCalls  int
}

func (c *countingCatalog) Reflectance(ctx context.Context, sceneID string) (domain.Raster, error) {
	c.reflectanceCalls++
	return c.MemoryCatalog.Reflectance(ctx, sceneID)
}

func (c *countingCatalog) ClearScore(ctx context.Context, sceneID string) (domain.Raster, error) {
	c.clearScoreCalls++
	return c.MemoryCatalog.ClearScore(ctx, sceneID)
}

func raster(name string, v float64) domain.Raster {
	g := domain.Grid{CRS: "EPSG:3035", Scale: 10, Width: 1, Height: 1}
	return domain.Raster{Grid: g, Bands: []domain.Band{{Name: name, Data: []float64{v}}}}
}

func newCountingCatalog() *countingCatalog {
	return &countingCatalog{MemoryCatalog: MemoryCatalog{
		Bands:       map[string]domain.Raster{"a": raster(domain.BandRed, 0.1), "b": raster(domain.BandRed, 0.2)},
		ClearScores: map[string]domain.Raster{"a": raster(domain.BandClearScore, 0.9)},
	}}
}

// --- CachedCatalog tests ---

func TestCachedCatalog_ReflectanceCacheHit(t *testing.T) {
	inner := newCountingCatalog()
	cached := NewCachedCatalog(inner, 10, observability.NewMetricsForTesting())

	r1, err := cached.Reflectance(context.Background(), "a")
	require.NoError(t, err)
	r2, err := cached.Reflectance(context.Background(), "a")
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, inner.reflectanceCalls, "should only call inner once")
}

func TestCachedCatalog_LayersDoNotCollide(t *testing.T) {
	inner := newCountingCatalog()
	cached := NewCachedCatalog(inner, 10, observability.NewMetricsForTesting())

	_, err := cached.Reflectance(context.Background(), "a")
	require.NoError(t, err)
	cs, err := cached.ClearScore(context.Background(), "a")
	require.NoError(t, err)

	assert.Equal(t, domain.BandClearScore, cs.Bands[0].Name)
	assert.Equal(t, 1, inner.clearScoreCalls)
}

func TestCachedCatalog_JoinMissNotCached(t *testing.T) {
	inner := newCountingCatalog()
	cached := NewCachedCatalog(inner, 10, observability.NewMetricsForTesting())

	_, err := cached.ClearScore(context.Background(), "b")
	require.ErrorIs(t, err, domain.ErrJoinMiss)
	_, err = cached.ClearScore(context.Background(), "b")
	require.True(t, errors.Is(err, domain.ErrJoinMiss))

	assert.Equal(t, 2, inner.clearScoreCalls)
}

// --- LRU cache unit tests ---

func TestLRUCache_BasicGetPut(t *testing.T) {
	c := newLRUCache[string](3)

	c.put("a", "A")
	c.put("b", "B")

	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A", v)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache[string](2)

	c.put("a", "A")
	c.put("b", "B")
	c.put("c", "C") // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok, "a should have been evicted")

	v, ok := c.get("b")
	assert.True(t, ok)
	assert.Equal(t, "B", v)

	v, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, "C", v)
	assert.Equal(t, 2, c.len())
}

func TestLRUCache_AccessPromotesEntry(t *testing.T) {
	c := newLRUCache[string](2)

	c.put("a", "A")
	c.put("b", "B")

	c.get("a")

	// "b" is now least recently used.
	c.put("c", "C")

	_, ok := c.get("a")
	assert.True(t, ok, "a was accessed recently, should not be evicted")

	_, ok = c.get("b")
	assert.False(t, ok, "b should have been evicted")
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache[string](2)

	c.put("a", "A1")
	c.put("a", "A2")

	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A2", v)
	assert.Equal(t, 1, c.len())
}
