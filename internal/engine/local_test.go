package engine_test

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/couchcryptid/relative-yield-service/internal/engine"
	"github.com/couchcryptid/relative-yield-service/internal/observability"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crs = "EPSG:3035"

// grid is 4x3 pixels of 10 m with its upper-left corner at (0, 30).
var grid = domain.Grid{CRS: crs, OriginX: 0, OriginY: 30, Scale: 10, Width: 4, Height: 3}

var aoi = domain.AOI{
	CRS:     crs,
	Polygon: orb.Polygon{orb.Ring{{0, 0}, {40, 0}, {40, 30}, {0, 30}, {0, 0}}},
}

func fill(v float64) []float64 {
	out := make([]float64, grid.Pixels())
	for i := range out {
		out[i] = v
	}
	return out
}

func reflectance(red, nir float64) domain.Raster {
	return domain.Raster{Grid: grid, Bands: []domain.Band{
		{Name: domain.BandRed, Data: fill(red)},
		{Name: domain.BandNIR, Data: fill(nir)},
	}}
}

func clearScore(data []float64) domain.Raster {
	return domain.Raster{Grid: grid, Bands: []domain.Band{{Name: domain.BandClearScore, Data: data}}}
}

func meta(id string, acquired time.Time, cloudy float64) domain.SceneMeta {
	return domain.SceneMeta{ID: id, Acquired: acquired, CloudyPixelPercentage: cloudy, Grid: grid}
}

// newCatalog holds two summer scenes that pass the filter, one cloudy scene and
// one out of the year range. Scene s2 has a cloudy top-left pixel.
func newCatalog() *engine.MemoryCatalog {
	s2Score := fill(0.9)
	s2Score[0] = 0.2

	primary := fill(6)
	primary[3] = 1
	secondary := fill(30)
	secondary[5] = 100

	return &engine.MemoryCatalog{
		Metas: []domain.SceneMeta{
			meta("s2", time.Date(2021, 7, 1, 10, 0, 0, 0, time.UTC), 5),
			meta("s1", time.Date(2020, 6, 15, 10, 0, 0, 0, time.UTC), 10),
			meta("s3", time.Date(2020, 6, 20, 10, 0, 0, 0, time.UTC), 80),
			meta("s4", time.Date(2022, 7, 1, 10, 0, 0, 0, time.UTC), 1),
		},
		Bands: map[string]domain.Raster{
			"s1": reflectance(0.1, 0.3),
			"s2": reflectance(0.1, 0.9),
			"s3": reflectance(0.1, 0.1),
			"s4": reflectance(0.1, 0.1),
		},
		ClearScores: map[string]domain.Raster{
			"s1": clearScore(fill(0.9)),
			"s2": clearScore(s2Score),
			"s3": clearScore(fill(0.9)),
			"s4": clearScore(fill(0.9)),
		},
		LandCovers: map[string]domain.Raster{
			"clc": {Grid: grid, Bands: []domain.Band{{Name: "class", Data: primary}}},
			"wc":  {Grid: grid, Bands: []domain.Band{{Name: "class", Data: secondary}}},
		},
	}
}

func compositeGraph() domain.Node {
	filter := domain.SceneFilter{
		AOI:                aoi,
		StartYear:          2020,
		EndYear:            2021,
		Months:             domain.MonthWindow{Start: time.June, End: time.August},
		MaxCloudPercentage: 50,
	}
	masked := domain.CloudMaskNode{Source: domain.CollectionNode{Filter: filter}, Threshold: 0.6}
	ndvi := domain.IndexNode{Source: masked, A: domain.BandNIR, B: domain.BandRed, Out: domain.BandNDVI}
	return domain.MeanNode{Source: ndvi, Band: domain.BandNDVI}
}

func region() domain.Region {
	return domain.Region{AOI: aoi, CRS: crs, Scale: 10}
}

func newEngine(c engine.Catalog, tileSize int) *engine.Local {
	return engine.NewLocal(c, engine.Options{Workers: 3, TileSize: tileSize}, slog.Default(), observability.NewMetricsForTesting())
}

func TestLocal_Evaluate_Composite(t *testing.T) {
	for _, tileSize := range []int{0, 1, 2, 3} {
		r, err := newEngine(newCatalog(), tileSize).Evaluate(context.Background(), compositeGraph(), region())
		require.NoError(t, err, "tile size %d", tileSize)

		assert.True(t, r.Grid.Aligned(grid))
		ndvi, err := r.Band(domain.BandNDVI)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, ndvi.Data[0], 1e-9, "cloudy sample of s2 is excluded")
		for i := 1; i < len(ndvi.Data); i++ {
			assert.InDelta(t, 0.65, ndvi.Data[i], 1e-9, "pixel %d", i)
		}
	}
}

func TestLocal_Evaluate_JoinMissMasksScene(t *testing.T) {
	c := newCatalog()
	delete(c.ClearScores, "s2")

	r, err := newEngine(c, 2).Evaluate(context.Background(), compositeGraph(), region())
	require.NoError(t, err)

	for i, v := range r.Bands[0].Data {
		assert.InDelta(t, 0.5, v, 1e-9, "pixel %d", i)
	}
}

func TestLocal_Evaluate_NoMatchingScenes(t *testing.T) {
	c := newCatalog()
	c.Metas = c.Metas[2:]

	r, err := newEngine(c, 2).Evaluate(context.Background(), compositeGraph(), region())
	require.NoError(t, err)

	assert.Equal(t, 0, r.Bands[0].ObservedCount())
}

func TestLocal_Evaluate_Deterministic(t *testing.T) {
	first, err := newEngine(newCatalog(), 1).Evaluate(context.Background(), compositeGraph(), region())
	require.NoError(t, err)
	second, err := newEngine(newCatalog(), 3).Evaluate(context.Background(), compositeGraph(), region())
	require.NoError(t, err)

	assert.Equal(t, first.Bands[0].Data, second.Bands[0].Data)
}

func TestLocal_Evaluate_GrasslandMask(t *testing.T) {
	node := domain.UpdateMaskNode{
		Source: domain.ClipNode{Source: compositeGraph(), AOI: aoi},
		Mask:   domain.LandCoverNode{Primary: "clc", Secondary: "wc", Classes: domain.DefaultLandCoverClasses},
	}

	r, err := newEngine(newCatalog(), 2).Evaluate(context.Background(), node, region())
	require.NoError(t, err)

	data := r.Bands[0].Data
	assert.True(t, math.IsNaN(data[3]), "non-herbaceous class is masked")
	assert.True(t, math.IsNaN(data[5]), "moss and lichen is masked")
	assert.Equal(t, 10, r.Bands[0].ObservedCount())
}

func TestLocal_Evaluate_Percentiles(t *testing.T) {
	node := domain.PercentileNode{Source: compositeGraph(), Low: 2, High: 98}

	r, err := newEngine(newCatalog(), 2).Evaluate(context.Background(), node, region())
	require.NoError(t, err)

	stats, err := domain.StatsFromRaster(r)
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Samples)
	assert.False(t, stats.Approximate)
	assert.GreaterOrEqual(t, stats.Low, 0.5-1e-9)
	assert.Less(t, stats.Low, 0.65)
	assert.InDelta(t, 0.65, stats.High, 1e-9)
}

func TestLocal_Evaluate_PercentilesBestEffort(t *testing.T) {
	node := domain.PercentileNode{Source: compositeGraph(), Low: 2, High: 98, BestEffort: true, MaxPixels: 3}

	r, err := newEngine(newCatalog(), 2).Evaluate(context.Background(), node, region())
	require.NoError(t, err)

	stats, err := domain.StatsFromRaster(r)
	require.NoError(t, err)
	assert.True(t, stats.Approximate)
	assert.Equal(t, 1, stats.Samples)
	assert.InDelta(t, 0.65, stats.Low, 1e-9)
}

func TestLocal_Evaluate_PercentilesOverLimit(t *testing.T) {
	node := domain.PercentileNode{Source: compositeGraph(), Low: 2, High: 98, MaxPixels: 3}

	_, err := newEngine(newCatalog(), 2).Evaluate(context.Background(), node, region())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestLocal_Evaluate_RejectsCollectionRoot(t *testing.T) {
	node := domain.CollectionNode{Filter: domain.SceneFilter{AOI: aoi}}

	_, err := newEngine(newCatalog(), 2).Evaluate(context.Background(), node, region())
	require.Error(t, err)
}

func TestLocal_Evaluate_MissingLandCover(t *testing.T) {
	node := domain.LandCoverNode{Primary: "clc", Secondary: "missing", Classes: domain.DefaultLandCoverClasses}

	_, err := newEngine(newCatalog(), 2).Evaluate(context.Background(), node, region())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestLocal_Evaluate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEngine(newCatalog(), 1).Evaluate(ctx, compositeGraph(), region())
	require.ErrorIs(t, err, context.Canceled)
}

func TestLocal_Evaluate_UnprojectableLandCoverFails(t *testing.T) {
	c := newCatalog()
	stere := domain.Grid{CRS: "+proj=stere +lat_0=90 +lon_0=0 +ellps=WGS84 +units=m +no_defs", Scale: 10, Width: 4, Height: 3}
	c.LandCovers["clc"] = domain.Raster{Grid: stere, Bands: []domain.Band{{Name: "class", Data: fill(6)}}}
	node := domain.UpdateMaskNode{
		Source: domain.ClipNode{Source: compositeGraph(), AOI: aoi},
		Mask:   domain.LandCoverNode{Primary: "clc", Secondary: "wc", Classes: domain.DefaultLandCoverClasses},
	}

	_, err := newEngine(c, 2).Evaluate(context.Background(), node, region())
	require.Error(t, err, "a land cover that cannot be reprojected must not read as an empty mask")
	assert.Contains(t, err.Error(), "land cover clc")
}
