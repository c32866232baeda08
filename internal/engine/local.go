package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/couchcryptid/relative-yield-service/internal/observability"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Options tune the local engine.
type Options struct {
	Workers  int
	TileSize int
}

// Local evaluates computation graphs in process. The evaluation grid is split into
// tiles evaluated by a bounded worker pool; tiles write disjoint windows of the
// result, so output does not depend on scheduling.
// It implements domain.RasterPipeline.
type Local struct {
	catalog Catalog
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewLocal creates a local engine reading from catalog.
func NewLocal(catalog Catalog, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Local {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Local{catalog: catalog, opts: opts, logger: logger, metrics: metrics}
}

// Evaluate materializes node over region.
func (e *Local) Evaluate(ctx context.Context, node domain.Node, region domain.Region) (domain.Raster, error) {
	if err := domain.ValidateGraph(node); err != nil {
		return domain.Raster{}, err
	}
	if node.Kind() != domain.KindImage {
		return domain.Raster{}, fmt.Errorf("cannot evaluate %s: result is a collection, not an image", node.Op())
	}

	start := time.Now()
	defer func() {
		e.metrics.EvaluationDuration.WithLabelValues(node.Op()).Observe(time.Since(start).Seconds())
	}()

	grid, err := region.Grid()
	if err != nil {
		return domain.Raster{}, err
	}

	s := &session{catalog: e.catalog, logger: e.logger, cache: make(map[string]domain.Raster)}

	if p, ok := node.(domain.PercentileNode); ok {
		return e.reduce(ctx, s, p, region, grid)
	}
	return e.evalTiled(ctx, s, node, grid)
}

// reduce computes a percentile reduction. In best-effort mode the scale doubles
// until the grid fits under MaxPixels and the result is flagged approximate.
func (e *Local) reduce(ctx context.Context, s *session, n domain.PercentileNode, region domain.Region, grid domain.Grid) (domain.Raster, error) {
	approximate := false
	if n.MaxPixels > 0 && grid.Pixels() > n.MaxPixels {
		if !n.BestEffort {
			return domain.Raster{}, fmt.Errorf("percentile reduction over %d pixels exceeds limit of %d", grid.Pixels(), n.MaxPixels)
		}
		for grid.Pixels() > n.MaxPixels {
			region = region.WithScale(region.Scale * 2)
			g, err := region.Grid()
			if err != nil {
				return domain.Raster{}, err
			}
			grid = g
		}
		approximate = true
		e.logger.Warn("percentile reduction coarsened",
			"scale", region.Scale,
			"pixels", grid.Pixels(),
			"max_pixels", n.MaxPixels,
		)
	}

	src, err := e.evalTiled(ctx, s, n.Source, grid)
	if err != nil {
		return domain.Raster{}, err
	}
	if len(src.Bands) == 0 {
		return domain.Raster{}, errors.New("percentile source has no bands")
	}
	stats := domain.ComputePercentiles(src.Bands[0].Data, n.Low, n.High)
	stats.Approximate = approximate || src.Approximate
	return domain.StatsRaster(grid, stats), nil
}

func (e *Local) evalTiled(ctx context.Context, s *session, node domain.Node, grid domain.Grid) (domain.Raster, error) {
	tiles := partition(grid, e.opts.TileSize)
	parts := make([]domain.Raster, len(tiles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, tl := range tiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := s.image(gctx, node, tl.grid)
			if err != nil {
				return fmt.Errorf("tile (%d,%d): %w", tl.col, tl.row, err)
			}
			parts[i] = r
			e.metrics.TilesEvaluated.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Raster{}, err
	}
	return stitch(grid, tiles, parts), nil
}

// session holds the catalog reads of one Evaluate call so tiles share them.
type session struct {
	catalog Catalog
	logger  *slog.Logger

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]domain.Raster
	metas []domain.SceneMeta
}

func (s *session) load(key string, fn func() (domain.Raster, error)) (domain.Raster, error) {
	s.mu.Lock()
	r, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return r, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		r, err := fn()
		if err != nil {
			return domain.Raster{}, err
		}
		if err := r.Validate(); err != nil {
			return domain.Raster{}, fmt.Errorf("%s: %w", key, err)
		}
		s.mu.Lock()
		s.cache[key] = r
		s.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return domain.Raster{}, err
	}
	return v.(domain.Raster), nil
}

func (s *session) scenes(ctx context.Context) ([]domain.SceneMeta, error) {
	v, err, _ := s.group.Do("scenes", func() (any, error) {
		s.mu.Lock()
		cached := s.metas
		s.mu.Unlock()
		if cached != nil {
			return cached, nil
		}
		metas, err := s.catalog.Scenes(ctx)
		if err != nil {
			return nil, fmt.Errorf("list scenes: %w", err)
		}
		if metas == nil {
			metas = []domain.SceneMeta{}
		}
		s.mu.Lock()
		s.metas = metas
		s.mu.Unlock()
		return metas, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.SceneMeta), nil
}

func (s *session) collection(ctx context.Context, node domain.Node, g domain.Grid) (domain.Collection, error) {
	switch n := node.(type) {
	case domain.CollectionNode:
		metas, err := s.scenes(ctx)
		if err != nil {
			return nil, err
		}
		var selected []domain.SceneMeta
		for _, m := range metas {
			ok, err := n.Filter.Match(m)
			if err != nil {
				return nil, err
			}
			if ok {
				selected = append(selected, m)
			}
		}
		// Stable fold order keeps composites bit-identical across runs.
		sort.Slice(selected, func(i, j int) bool { return selected[i].ID < selected[j].ID })

		out := make(domain.Collection, 0, len(selected))
		for _, m := range selected {
			native, err := s.load("reflectance:"+m.ID, func() (domain.Raster, error) {
				return s.catalog.Reflectance(ctx, m.ID)
			})
			if err != nil {
				return nil, err
			}
			r, err := resample(native, g)
			if err != nil {
				return nil, fmt.Errorf("scene %s: %w", m.ID, err)
			}
			out = append(out, domain.Scene{SceneMeta: m, Raster: r})
		}
		return out, nil

	case domain.CloudMaskNode:
		scenes, err := s.collection(ctx, n.Source, g)
		if err != nil {
			return nil, err
		}
		out := make(domain.Collection, len(scenes))
		for i, sc := range scenes {
			score, err := s.clearScore(ctx, sc.ID, g)
			if err != nil {
				return nil, err
			}
			masked, err := domain.MaskClouds(sc.Raster, score, n.Threshold)
			if err != nil {
				return nil, fmt.Errorf("scene %s: %w", sc.ID, err)
			}
			out[i] = domain.Scene{SceneMeta: sc.SceneMeta, Raster: masked}
		}
		return out, nil

	case domain.IndexNode:
		scenes, err := s.collection(ctx, n.Source, g)
		if err != nil {
			return nil, err
		}
		out := make(domain.Collection, len(scenes))
		for i, sc := range scenes {
			r, err := domain.NormalizedDifference(sc.Raster, n.A, n.B, n.Out)
			if err != nil {
				return nil, fmt.Errorf("scene %s: %w", sc.ID, err)
			}
			out[i] = domain.Scene{SceneMeta: sc.SceneMeta, Raster: r}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s does not produce a collection", node.Op())
}

// clearScore returns the score samples on g, or nil for a join miss.
func (s *session) clearScore(ctx context.Context, sceneID string, g domain.Grid) ([]float64, error) {
	native, err := s.load("clear_score:"+sceneID, func() (domain.Raster, error) {
		return s.catalog.ClearScore(ctx, sceneID)
	})
	if errors.Is(err, domain.ErrJoinMiss) {
		s.logger.Debug("clear score join miss, scene fully masked", "scene_id", sceneID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r, err := resample(native, g)
	if err != nil {
		return nil, fmt.Errorf("scene %s clear score: %w", sceneID, err)
	}
	b, err := r.Band(domain.BandClearScore)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", sceneID, err)
	}
	return b.Data, nil
}

func (s *session) landCover(ctx context.Context, source string, g domain.Grid) ([]float64, error) {
	native, err := s.load("land_cover:"+source, func() (domain.Raster, error) {
		return s.catalog.LandCover(ctx, source)
	})
	if err != nil {
		return nil, err
	}
	r, err := resample(native, g)
	if err != nil {
		return nil, fmt.Errorf("land cover %s: %w", source, err)
	}
	if len(r.Bands) == 0 {
		return nil, fmt.Errorf("land cover source %q has no bands", source)
	}
	return r.Bands[0].Data, nil
}

func (s *session) image(ctx context.Context, node domain.Node, g domain.Grid) (domain.Raster, error) {
	switch n := node.(type) {
	case domain.MeanNode:
		scenes, err := s.collection(ctx, n.Source, g)
		if err != nil {
			return domain.Raster{}, err
		}
		rasters := make([]domain.Raster, len(scenes))
		for i, sc := range scenes {
			rasters[i] = sc.Raster
		}
		return domain.MeanComposite(rasters, n.Band, g)

	case domain.ClipNode:
		src, err := s.image(ctx, n.Source, g)
		if err != nil {
			return domain.Raster{}, err
		}
		return domain.ClipToAOI(src, n.AOI)

	case domain.LandCoverNode:
		primary, err := s.landCover(ctx, n.Primary, g)
		if err != nil {
			return domain.Raster{}, err
		}
		secondary, err := s.landCover(ctx, n.Secondary, g)
		if err != nil {
			return domain.Raster{}, err
		}
		return domain.GrasslandMask(primary, secondary, g, n.Classes)

	case domain.UpdateMaskNode:
		src, err := s.image(ctx, n.Source, g)
		if err != nil {
			return domain.Raster{}, err
		}
		mask, err := s.image(ctx, n.Mask, g)
		if err != nil {
			return domain.Raster{}, err
		}
		if len(mask.Bands) == 0 {
			return domain.Raster{}, errors.New("mask has no bands")
		}
		return domain.UpdateMask(src, mask.Bands[0].Data)

	case domain.RescaleNode:
		src, err := s.image(ctx, n.Source, g)
		if err != nil {
			return domain.Raster{}, err
		}
		return domain.Rescale(src, n.Stats), nil
	}
	return domain.Raster{}, fmt.Errorf("%s cannot be evaluated per tile", node.Op())
}
