package preview

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func output(width, height int, values ...int32) domain.OutputRaster {
	return domain.OutputRaster{
		Grid:   domain.Grid{CRS: "EPSG:3035", OriginX: 0, OriginY: float64(height) * 10, Scale: 10, Width: width, Height: height},
		Values: values,
	}
}

func TestSample_SkipsNodata(t *testing.T) {
	s := sample(output(2, 2, 0, 999, 100, 50), MaxCells)

	assert.Equal(t, 1, s.stride)
	assert.Equal(t, []cell{{0, 0, 0}, {0, 1, 100}, {1, 1, 50}}, s.cells)
}

func TestSample_Stride(t *testing.T) {
	values := make([]int32, 10*4)
	s := sample(output(10, 4, values...), 3)

	assert.Equal(t, 4, s.stride)
	assert.Equal(t, 3, s.width)
	assert.Equal(t, 1, s.height)
	assert.Len(t, s.cells, 3)
}

func TestHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, output(2, 2, 0, 999, 100, 50), "Relative yield"))

	page := buf.String()
	assert.Contains(t, page, "<html")
	assert.Contains(t, page, "Relative yield")
	assert.Contains(t, page, "echarts")
}

func TestPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PNG(&buf, output(3, 2, 0, 10, 999, 40, 80, 100), "Relative yield"))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
}

func TestPNG_ThinRasters(t *testing.T) {
	cases := map[string]domain.OutputRaster{
		"single pixel":  output(1, 1, 5),
		"single column": output(1, 3, 5, 999, 70),
		"single row":    output(4, 1, 0, 25, 50, 100),
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, PNG(&buf, o, "thin"))
			_, err := png.Decode(&buf)
			require.NoError(t, err)
		})
	}
}

func TestPNG_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, PNG(&buf, domain.OutputRaster{}, "empty"))
}

func TestGridXYZ_PadsThinRaster(t *testing.T) {
	g := newGridXYZ(sample(output(1, 3, 5, 999, 70), MaxCells))

	c, r := g.Dims()
	assert.Equal(t, 2, c)
	assert.Equal(t, 3, r)
	assert.Equal(t, 70.0, g.Z(0, 0))
	assert.Equal(t, 5.0, g.Z(0, 2))
	assert.True(t, math.IsNaN(g.Z(1, 2)), "margin column is empty")
}

func TestGridXYZ_FlipsRows(t *testing.T) {
	g := newGridXYZ(sample(output(2, 2, 1, 2, 3, 999), MaxCells))

	assert.Equal(t, 3.0, g.Z(0, 0), "plot row 0 is the bottom raster row")
	assert.Equal(t, 1.0, g.Z(0, 1))
	assert.True(t, g.Z(1, 0) != g.Z(1, 0), "nodata is NaN")
	assert.Equal(t, 1.0, g.Y(0))
}
