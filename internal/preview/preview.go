// Package preview renders the relative-yield raster for quick inspection: an
// interactive HTML heat map and a static PNG. Nodata pixels are left out and the
// colour ramp runs from white (0) to dark green (100).
package preview

import (
	"github.com/couchcryptid/relative-yield-service/internal/domain"
)

// MaxCells bounds the rendered grid along its longer side; larger rasters are
// sampled with a fixed stride.
const MaxCells = 200

// ramp is the white to green palette shared by both renderers.
var ramp = []string{"#ffffff", "#e5f5e0", "#c7e9c0", "#a1d99b", "#74c476", "#41ab5d", "#238b45", "#006d2c", "#00441b"}

// cell is one sampled pixel.
type cell struct {
	col, row int
	value    int32
}

// sampled is the raster reduced to at most MaxCells per side.
type sampled struct {
	width, height int
	stride        int
	cells         []cell // observed cells only
}

func sample(o domain.OutputRaster, maxCells int) sampled {
	longest := max(o.Grid.Width, o.Grid.Height)
	stride := 1
	if maxCells > 0 && longest > maxCells {
		stride = (longest + maxCells - 1) / maxCells
	}
	s := sampled{
		width:  (o.Grid.Width + stride - 1) / stride,
		height: (o.Grid.Height + stride - 1) / stride,
		stride: stride,
	}
	for row := 0; row < s.height; row++ {
		for col := 0; col < s.width; col++ {
			v := o.At(col*stride, row*stride)
			if v == domain.NodataValue {
				continue
			}
			s.cells = append(s.cells, cell{col: col, row: row, value: v})
		}
	}
	return s
}
