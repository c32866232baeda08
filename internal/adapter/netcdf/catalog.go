// Package netcdf reads Sentinel-2 scene extracts stored as NetCDF files.
//
// A scene directory holds one <id>.nc per acquisition with 2-D (y, x) variables
// "red" and "nir", plus an optional <id>_cs.nc carrying the "cs_cdf" clear-sky
// score on the same grid. Georeferencing and scene metadata live in global
// attributes: crs, origin_x, origin_y, scale, width, height, acquired (RFC 3339)
// and cloudy_pixel_percentage. Variables honour _FillValue, scale_factor and
// add_offset.
package netcdf

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/couchcryptid/relative-yield-service/internal/domain"
)

const clearScoreSuffix = "_cs.nc"

// Catalog lists and reads scenes from a directory of NetCDF files.
type Catalog struct {
	dir        string
	landCovers map[string]func() (domain.Raster, error)
	logger     *slog.Logger
}

// NewCatalog creates a catalog over dir. landCovers maps a source name to its
// loader.
func NewCatalog(dir string, landCovers map[string]func() (domain.Raster, error), logger *slog.Logger) *Catalog {
	return &Catalog{dir: dir, landCovers: landCovers, logger: logger}
}

// Scenes reads the global attributes of every scene file.
func (c *Catalog) Scenes(ctx context.Context) ([]domain.SceneMeta, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read scene dir: %w", err)
	}
	var metas []domain.SceneMeta
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".nc") || strings.HasSuffix(name, clearScoreSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, ".nc")
		meta, err := c.readMeta(id)
		if err != nil {
			c.logger.Warn("skipping unreadable scene", "scene_id", id, "error", err)
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	return metas, nil
}

func (c *Catalog) readMeta(id string) (domain.SceneMeta, error) {
	nc, err := netcdf.Open(filepath.Join(c.dir, id+".nc"))
	if err != nil {
		return domain.SceneMeta{}, err
	}
	defer nc.Close()
	return parseMeta(id, nc.Attributes())
}

func (c *Catalog) Reflectance(ctx context.Context, sceneID string) (domain.Raster, error) {
	return c.readBands(ctx, filepath.Join(c.dir, sceneID+".nc"), domain.BandRed, domain.BandNIR)
}

func (c *Catalog) ClearScore(ctx context.Context, sceneID string) (domain.Raster, error) {
	path := filepath.Join(c.dir, sceneID+clearScoreSuffix)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return domain.Raster{}, fmt.Errorf("scene %s: %w", sceneID, domain.ErrJoinMiss)
	}
	return c.readBands(ctx, path, domain.BandClearScore)
}

func (c *Catalog) LandCover(_ context.Context, source string) (domain.Raster, error) {
	load, ok := c.landCovers[source]
	if !ok {
		return domain.Raster{}, fmt.Errorf("land cover source %q not configured", source)
	}
	return load()
}

func (c *Catalog) readBands(ctx context.Context, path string, names ...string) (domain.Raster, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return domain.Raster{}, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer nc.Close()

	meta, err := parseMeta(strings.TrimSuffix(filepath.Base(path), ".nc"), nc.Attributes())
	if err != nil {
		return domain.Raster{}, err
	}
	r := domain.Raster{Grid: meta.Grid}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return domain.Raster{}, err
		}
		vr, err := nc.GetVariable(name)
		if err != nil {
			return domain.Raster{}, fmt.Errorf("%s: variable %q: %w", filepath.Base(path), name, err)
		}
		data, err := decodeVariable(vr.Values, vr.Attributes, meta.Grid.Width, meta.Grid.Height)
		if err != nil {
			return domain.Raster{}, fmt.Errorf("%s: variable %q: %w", filepath.Base(path), name, err)
		}
		r.Bands = append(r.Bands, domain.Band{Name: name, Data: data})
	}
	return r, nil
}

// parseMeta builds scene metadata from global attributes.
func parseMeta(id string, attrs api.AttributeMap) (domain.SceneMeta, error) {
	var errs []error
	str := func(key string) string {
		v, ok := attrs.Get(key)
		s, isStr := v.(string)
		if !ok || !isStr {
			errs = append(errs, fmt.Errorf("missing string attribute %q", key))
		}
		return s
	}
	num := func(key string) float64 {
		v, ok := attrs.Get(key)
		if !ok {
			errs = append(errs, fmt.Errorf("missing attribute %q", key))
			return 0
		}
		f, err := scalar(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("attribute %q: %w", key, err))
		}
		return f
	}

	meta := domain.SceneMeta{
		ID:                    id,
		CloudyPixelPercentage: num("cloudy_pixel_percentage"),
		Grid: domain.Grid{
			CRS:     str("crs"),
			OriginX: num("origin_x"),
			OriginY: num("origin_y"),
			Scale:   num("scale"),
			Width:   int(num("width")),
			Height:  int(num("height")),
		},
	}
	if acquired := str("acquired"); acquired != "" {
		t, err := time.Parse(time.RFC3339, acquired)
		if err != nil {
			errs = append(errs, fmt.Errorf("attribute \"acquired\": %w", err))
		}
		meta.Acquired = t.UTC()
	}
	if err := errors.Join(errs...); err != nil {
		return domain.SceneMeta{}, fmt.Errorf("scene %s: %w", id, err)
	}
	return meta, nil
}
