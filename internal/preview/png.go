package preview

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PNGSize is the edge length of the static preview.
const PNGSize = 6 * vg.Inch

// gridXYZ adapts a sampled raster to plotter.GridXYZ. Plot rows grow upwards, so
// plot row r is raster row height-1-r. A heat map needs two cells along each
// axis, so thinner rasters get an empty margin on the right or at the bottom.
type gridXYZ struct {
	width, height int
	stride        int
	values        []float64
}

func newGridXYZ(s sampled) gridXYZ {
	g := gridXYZ{width: max(s.width, 2), height: max(s.height, 2), stride: s.stride}
	g.values = make([]float64, g.width*g.height)
	for i := range g.values {
		g.values[i] = math.NaN()
	}
	for _, c := range s.cells {
		g.values[(g.height-1-c.row)*g.width+c.col] = float64(c.value)
	}
	return g
}

func (g gridXYZ) Dims() (c, r int)   { return g.width, g.height }
func (g gridXYZ) Z(c, r int) float64 { return g.values[r*g.width+c] }
func (g gridXYZ) X(c int) float64    { return float64(c * g.stride) }
func (g gridXYZ) Y(r int) float64    { return float64((g.height - 1 - r) * g.stride) }

// greens implements palette.Palette over the shared ramp.
type greens []color.Color

func (p greens) Colors() []color.Color { return p }

func rampPalette() greens {
	p := make(greens, len(ramp))
	for i, hex := range ramp {
		v, _ := strconv.ParseUint(hex[1:], 16, 32)
		p[i] = color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
	}
	return p
}

// PNG renders a static heat map image.
func PNG(w io.Writer, o domain.OutputRaster, title string) error {
	if o.Grid.Width < 1 || o.Grid.Height < 1 {
		return fmt.Errorf("png preview of an empty %dx%d raster", o.Grid.Width, o.Grid.Height)
	}
	hm := plotter.NewHeatMap(newGridXYZ(sample(o, MaxCells)), rampPalette())
	hm.Min, hm.Max = 0, 100
	hm.NaN = color.Transparent

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row (from bottom)"
	p.Add(hm)

	wt, err := p.WriterTo(PNGSize, PNGSize, "png")
	if err != nil {
		return fmt.Errorf("render png preview: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png preview: %w", err)
	}
	return nil
}
