package engine

import (
	"context"
	"fmt"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
)

// Catalog supplies the pixels the local engine evaluates. Rasters are returned on
// their native grid; the engine resamples them to the evaluation grid.
type Catalog interface {
	// Scenes lists the metadata of every available scene.
	Scenes(ctx context.Context) ([]domain.SceneMeta, error)

	// Reflectance returns the red and nir bands of a scene.
	Reflectance(ctx context.Context, sceneID string) (domain.Raster, error)

	// ClearScore returns the clear-sky score layer joined to a scene, or an error
	// wrapping domain.ErrJoinMiss when the scene has none.
	ClearScore(ctx context.Context, sceneID string) (domain.Raster, error)

	// LandCover returns a named land-cover classification raster.
	LandCover(ctx context.Context, source string) (domain.Raster, error)
}

// MemoryCatalog is a Catalog over rasters held in memory.
type MemoryCatalog struct {
	Metas       []domain.SceneMeta
	Bands       map[string]domain.Raster
	ClearScores map[string]domain.Raster
	LandCovers  map[string]domain.Raster
}

func (m *MemoryCatalog) Scenes(_ context.Context) ([]domain.SceneMeta, error) {
	out := make([]domain.SceneMeta, len(m.Metas))
	copy(out, m.Metas)
	return out, nil
}

func (m *MemoryCatalog) Reflectance(_ context.Context, sceneID string) (domain.Raster, error) {
	r, ok := m.Bands[sceneID]
	if !ok {
		return domain.Raster{}, fmt.Errorf("scene %s: no reflectance bands", sceneID)
	}
	return r, nil
}

func (m *MemoryCatalog) ClearScore(_ context.Context, sceneID string) (domain.Raster, error) {
	r, ok := m.ClearScores[sceneID]
	if !ok {
		return domain.Raster{}, fmt.Errorf("scene %s: %w", sceneID, domain.ErrJoinMiss)
	}
	return r, nil
}

func (m *MemoryCatalog) LandCover(_ context.Context, source string) (domain.Raster, error) {
	r, ok := m.LandCovers[source]
	if !ok {
		return domain.Raster{}, fmt.Errorf("land cover source %q not found", source)
	}
	return r, nil
}
