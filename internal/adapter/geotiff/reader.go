package geotiff

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"golang.org/x/image/tiff"
)

// ReadClassRaster loads a single-band classification TIFF with its world file.
// Sample values are class codes; nodata, when non-negative, marks unobserved pixels.
func ReadClassRaster(path, crs string, nodata int) (domain.Raster, error) {
	wf, err := os.Open(WorldFilePath(path))
	if err != nil {
		return domain.Raster{}, fmt.Errorf("open world file: %w", err)
	}
	defer wf.Close()
	scale, originX, originY, err := readWorldFile(wf)
	if err != nil {
		return domain.Raster{}, fmt.Errorf("%s: %w", WorldFilePath(path), err)
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.Raster{}, fmt.Errorf("open raster: %w", err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		return domain.Raster{}, fmt.Errorf("decode %s: %w", path, err)
	}

	bounds := img.Bounds()
	g := domain.Grid{
		CRS:     crs,
		OriginX: originX,
		OriginY: originY,
		Scale:   scale,
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
	}
	b := domain.NewBand("class", g)
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			v := sample(img, bounds.Min.X+col, bounds.Min.Y+row)
			if nodata >= 0 && v == nodata {
				continue
			}
			b.Data[row*g.Width+col] = float64(v)
		}
	}
	return domain.Raster{Grid: g, Bands: []domain.Band{b}}, nil
}

// sample returns the raw integer value of a pixel.
func sample(img image.Image, x, y int) int {
	switch m := img.(type) {
	case *image.Gray:
		return int(m.GrayAt(x, y).Y)
	case *image.Gray16:
		return int(m.Gray16At(x, y).Y)
	case *image.Paletted:
		return int(m.ColorIndexAt(x, y))
	}
	return int(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
}
