package domain

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// AOI is the polygon that bounds filtering, reduction and output clipping.
type AOI struct {
	Polygon orb.Polygon
	CRS     string
}

// Validate checks that the AOI has a closed outer ring with a non-zero area.
func (a AOI) Validate() error {
	if len(a.Polygon) == 0 || len(a.Polygon[0]) < 4 {
		return errors.New("aoi polygon needs an outer ring of at least 4 points")
	}
	ring := a.Polygon[0]
	if !ring.Closed() {
		return errors.New("aoi outer ring is not closed")
	}
	if planar.Area(a.Polygon) == 0 {
		return errors.New("aoi polygon has zero area")
	}
	if a.CRS == "" {
		return errors.New("aoi CRS is required")
	}
	return nil
}

// Reproject transforms every vertex of the AOI into crs.
func (a AOI) Reproject(crs string) (AOI, error) {
	if sameCRS(a.CRS, crs) {
		return a, nil
	}
	t, err := NewTransform(a.CRS, crs)
	if err != nil {
		return AOI{}, err
	}
	poly := make(orb.Polygon, len(a.Polygon))
	for i, ring := range a.Polygon {
		out := make(orb.Ring, len(ring))
		for j, p := range ring {
			x, y, err := t(p[0], p[1])
			if err != nil {
				return AOI{}, fmt.Errorf("reproject aoi vertex %d: %w", j, err)
			}
			out[j] = orb.Point{x, y}
		}
		poly[i] = out
	}
	return AOI{Polygon: poly, CRS: crs}, nil
}

// Bound returns the AOI bounding box in its own CRS.
func (a AOI) Bound() orb.Bound {
	return a.Polygon.Bound()
}

// Contains reports whether (x, y), in the AOI's CRS, lies inside the polygon.
func (a AOI) Contains(x, y float64) bool {
	return planar.PolygonContains(a.Polygon, orb.Point{x, y})
}

// Bound returns the grid extent as an orb.Bound in the grid's CRS.
func (g Grid) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{g.OriginX, g.OriginY - float64(g.Height)*g.Scale},
		Max: orb.Point{g.OriginX + float64(g.Width)*g.Scale, g.OriginY},
	}
}

// Region is the spatial domain of one evaluation: the AOI rendered on a grid of
// the given CRS and scale.
type Region struct {
	AOI   AOI
	CRS   string
	Scale float64
}

// Grid snaps the AOI bounds, reprojected into the region CRS, to the region scale.
func (r Region) Grid() (Grid, error) {
	if r.Scale <= 0 {
		return Grid{}, fmt.Errorf("region scale must be positive, got %v", r.Scale)
	}
	aoi, err := r.AOI.Reproject(r.CRS)
	if err != nil {
		return Grid{}, err
	}
	b := aoi.Bound()
	originX := math.Floor(b.Min[0]/r.Scale) * r.Scale
	originY := math.Ceil(b.Max[1]/r.Scale) * r.Scale
	width := int(math.Ceil((b.Max[0] - originX) / r.Scale))
	height := int(math.Ceil((originY - b.Min[1]) / r.Scale))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return Grid{CRS: r.CRS, OriginX: originX, OriginY: originY, Scale: r.Scale, Width: width, Height: height}, nil
}

// WithScale returns a copy of the region at another scale.
func (r Region) WithScale(scale float64) Region {
	r.Scale = scale
	return r
}
