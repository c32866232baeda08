package geotiff

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"golang.org/x/image/tiff"
)

// Metadata is the JSON sidecar written next to an output raster.
type Metadata struct {
	CRS         string      `json:"crs"`
	Grid        domain.Grid `json:"grid"`
	Nodata      int32       `json:"nodata"`
	Band        string      `json:"band"`
	Approximate bool        `json:"approximate"`
}

// Files lists the paths produced by one write.
type Files struct {
	Raster    string
	WorldFile string
	Metadata  string
}

// All returns every path of the write.
func (f Files) All() []string {
	return []string{f.Raster, f.WorldFile, f.Metadata}
}

// WriteOutput encodes o as a deflate-compressed 16-bit TIFF at dir/label.tif with a
// world file and a JSON sidecar.
func WriteOutput(dir, label string, o domain.OutputRaster, approximate bool) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("create output dir: %w", err)
	}
	base := filepath.Join(dir, label)
	files := Files{
		Raster:    base + ".tif",
		WorldFile: base + ".tfw",
		Metadata:  base + ".json",
	}

	img, err := grayImage(o)
	if err != nil {
		return Files{}, err
	}
	if err := writeFile(files.Raster, func(f *os.File) error {
		return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	}); err != nil {
		return Files{}, fmt.Errorf("write raster: %w", err)
	}
	if err := writeFile(files.WorldFile, func(f *os.File) error {
		return writeWorldFile(f, o.Grid)
	}); err != nil {
		return Files{}, fmt.Errorf("write world file: %w", err)
	}
	meta := Metadata{CRS: o.Grid.CRS, Grid: o.Grid, Nodata: domain.NodataValue, Band: domain.BandRelativeYield, Approximate: approximate}
	if err := writeFile(files.Metadata, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}); err != nil {
		return Files{}, fmt.Errorf("write metadata: %w", err)
	}
	return files, nil
}

func grayImage(o domain.OutputRaster) (*image.Gray16, error) {
	if int64(len(o.Values)) != o.Grid.Pixels() {
		return nil, fmt.Errorf("output has %d values, grid has %d pixels", len(o.Values), o.Grid.Pixels())
	}
	img := image.NewGray16(image.Rect(0, 0, o.Grid.Width, o.Grid.Height))
	for row := 0; row < o.Grid.Height; row++ {
		for col := 0; col < o.Grid.Width; col++ {
			img.SetGray16(col, row, color.Gray16{Y: uint16(o.At(col, row))})
		}
	}
	return img, nil
}

// ReadOutput decodes a raster written by WriteOutput.
func ReadOutput(tifPath string) (domain.OutputRaster, Metadata, error) {
	raw, err := os.ReadFile(strings.TrimSuffix(tifPath, ".tif") + ".json")
	if err != nil {
		return domain.OutputRaster{}, Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return domain.OutputRaster{}, Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	r, err := ReadClassRaster(tifPath, meta.CRS, -1)
	if err != nil {
		return domain.OutputRaster{}, Metadata{}, err
	}
	out := domain.OutputRaster{Grid: r.Grid, Values: make([]int32, len(r.Bands[0].Data))}
	for i, v := range r.Bands[0].Data {
		out.Values[i] = int32(v)
	}
	return out, meta, nil
}

// writeFile writes through a temporary file and renames it into place, so readers
// never observe a partial file.
func writeFile(path string, fn func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if err := fn(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
