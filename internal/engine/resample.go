package engine

import (
	"fmt"
	"math"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
)

// resample maps src onto dst with nearest-neighbour sampling, reprojecting pixel
// centres when the CRS differs. Destination pixels outside src are unobserved; a
// pixel centre that cannot be reprojected fails the whole resample.
func resample(src domain.Raster, dst domain.Grid) (domain.Raster, error) {
	if src.Grid.Aligned(dst) {
		return src, nil
	}
	t, err := domain.NewTransform(dst.CRS, src.Grid.CRS)
	if err != nil {
		return domain.Raster{}, err
	}
	return resampleWith(src, dst, t)
}

func resampleWith(src domain.Raster, dst domain.Grid, t domain.Transform) (domain.Raster, error) {
	index := make([]int, dst.Pixels())
	for row := 0; row < dst.Height; row++ {
		for col := 0; col < dst.Width; col++ {
			i := row*dst.Width + col
			index[i] = -1
			x, y := dst.Center(col, row)
			sx, sy, err := t(x, y)
			if err != nil {
				return domain.Raster{}, fmt.Errorf("reproject %s -> %s at pixel (%d, %d): %w", dst.CRS, src.Grid.CRS, col, row, err)
			}
			if math.IsNaN(sx) || math.IsNaN(sy) {
				continue
			}
			sc, sr, ok := src.Grid.Locate(sx, sy)
			if !ok {
				continue
			}
			index[i] = sr*src.Grid.Width + sc
		}
	}

	out := domain.Raster{Grid: dst, Bands: make([]domain.Band, len(src.Bands)), Approximate: src.Approximate}
	for bi, b := range src.Bands {
		nb := domain.NewBand(b.Name, dst)
		for i, si := range index {
			if si >= 0 {
				nb.Data[i] = b.Data[si]
			}
		}
		out.Bands[bi] = nb
	}
	return out, nil
}

// tile is one window of the evaluation grid.
type tile struct {
	col, row int
	grid     domain.Grid
}

// partition splits g into square tiles of at most size pixels per side.
func partition(g domain.Grid, size int) []tile {
	if size <= 0 {
		size = g.Width
		if g.Height > size {
			size = g.Height
		}
	}
	var tiles []tile
	for row := 0; row < g.Height; row += size {
		for col := 0; col < g.Width; col += size {
			tiles = append(tiles, tile{col: col, row: row, grid: g.Window(col, row, size, size)})
		}
	}
	return tiles
}

// stitch copies tile rasters back into one raster on g.
func stitch(g domain.Grid, tiles []tile, parts []domain.Raster) domain.Raster {
	out := domain.Raster{Grid: g}
	if len(parts) == 0 {
		return out
	}
	for _, b := range parts[0].Bands {
		out.Bands = append(out.Bands, domain.NewBand(b.Name, g))
	}
	for ti, tl := range tiles {
		part := parts[ti]
		out.Approximate = out.Approximate || part.Approximate
		for bi := range out.Bands {
			dst := out.Bands[bi].Data
			src := part.Bands[bi].Data
			for r := 0; r < tl.grid.Height; r++ {
				start := (tl.row+r)*g.Width + tl.col
				copy(dst[start:start+tl.grid.Width], src[r*tl.grid.Width:(r+1)*tl.grid.Width])
			}
		}
	}
	return out
}
