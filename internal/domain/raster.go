package domain

import (
	"fmt"
	"math"
)

// NodataValue marks output pixels with no valid estimate.
const NodataValue = 999

// Grid is a north-up pixel grid. OriginX/OriginY locate the upper-left corner of
// pixel (0,0) in CRS units and Scale is the pixel edge length in the same units.
type Grid struct {
	CRS     string  `json:"crs"`
	OriginX float64 `json:"origin_x"`
	OriginY float64 `json:"origin_y"`
	Scale   float64 `json:"scale"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
}

// Pixels returns the number of pixels in the grid.
func (g Grid) Pixels() int64 {
	return int64(g.Width) * int64(g.Height)
}

// Center returns the CRS coordinates of the centre of pixel (col, row).
func (g Grid) Center(col, row int) (x, y float64) {
	return g.OriginX + (float64(col)+0.5)*g.Scale, g.OriginY - (float64(row)+0.5)*g.Scale
}

// Locate returns the pixel containing the CRS coordinate (x, y).
// ok is false when the coordinate falls outside the grid.
func (g Grid) Locate(x, y float64) (col, row int, ok bool) {
	if g.Scale <= 0 {
		return 0, 0, false
	}
	fc := (x - g.OriginX) / g.Scale
	fr := (g.OriginY - y) / g.Scale
	if fc < 0 || fr < 0 || math.IsNaN(fc) || math.IsNaN(fr) {
		return 0, 0, false
	}
	col, row = int(fc), int(fr)
	if col >= g.Width || row >= g.Height {
		return 0, 0, false
	}
	return col, row, true
}

// Window returns the sub-grid starting at pixel (col, row) with the given size,
// truncated to the grid extent.
func (g Grid) Window(col, row, width, height int) Grid {
	if col+width > g.Width {
		width = g.Width - col
	}
	if row+height > g.Height {
		height = g.Height - row
	}
	return Grid{
		CRS:     g.CRS,
		OriginX: g.OriginX + float64(col)*g.Scale,
		OriginY: g.OriginY - float64(row)*g.Scale,
		Scale:   g.Scale,
		Width:   width,
		Height:  height,
	}
}

// Aligned reports whether two grids share CRS, resolution and extent.
func (g Grid) Aligned(o Grid) bool {
	return g.CRS == o.CRS && g.Scale == o.Scale && g.Width == o.Width &&
		g.Height == o.Height && g.OriginX == o.OriginX && g.OriginY == o.OriginY
}

// Band is one named layer of samples in row-major order. NaN is unobserved.
type Band struct {
	Name string    `json:"name"`
	Data []float64 `json:"data"`
}

// Raster is a multi-band grid of samples.
type Raster struct {
	Grid        Grid   `json:"grid"`
	Bands       []Band `json:"bands"`
	Approximate bool   `json:"approximate,omitempty"`
}

// NewBand allocates a band of the grid's size with every sample unobserved.
func NewBand(name string, g Grid) Band {
	data := make([]float64, g.Pixels())
	for i := range data {
		data[i] = math.NaN()
	}
	return Band{Name: name, Data: data}
}

// Band returns the named band.
func (r Raster) Band(name string) (Band, error) {
	for _, b := range r.Bands {
		if b.Name == name {
			return b, nil
		}
	}
	return Band{}, fmt.Errorf("raster has no band %q", name)
}

// Validate checks that every band matches the grid size.
func (r Raster) Validate() error {
	n := r.Grid.Pixels()
	for _, b := range r.Bands {
		if int64(len(b.Data)) != n {
			return fmt.Errorf("band %q has %d samples, grid has %d", b.Name, len(b.Data), n)
		}
	}
	return nil
}

// ObservedCount returns the number of non-NaN samples in the band.
func (b Band) ObservedCount() int {
	n := 0
	for _, v := range b.Data {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// OutputRaster is the terminal single-band integer product. Every value is in
// 0..100 or NodataValue.
type OutputRaster struct {
	Grid   Grid    `json:"grid"`
	Values []int32 `json:"values"`
}

// Observed returns the number of pixels carrying an estimate.
func (o OutputRaster) Observed() int {
	n := 0
	for _, v := range o.Values {
		if v != NodataValue {
			n++
		}
	}
	return n
}

// At returns the value at pixel (col, row).
func (o OutputRaster) At(col, row int) int32 {
	return o.Values[row*o.Grid.Width+col]
}

// OutputFromRaster converts a rescaled single-band raster into its integer form.
// NaN samples become NodataValue.
func OutputFromRaster(r Raster) (OutputRaster, error) {
	if len(r.Bands) != 1 {
		return OutputRaster{}, fmt.Errorf("output raster must have exactly one band, got %d", len(r.Bands))
	}
	data := r.Bands[0].Data
	out := OutputRaster{Grid: r.Grid, Values: make([]int32, len(data))}
	for i, v := range data {
		switch {
		case math.IsNaN(v):
			out.Values[i] = NodataValue
		case v == NodataValue:
			out.Values[i] = NodataValue
		case v < 0 || v > 100 || v != math.Trunc(v):
			return OutputRaster{}, fmt.Errorf("pixel %d has value %v outside 0..100", i, v)
		default:
			out.Values[i] = int32(v)
		}
	}
	return out, nil
}
