// Package export writes the relative-yield raster to disk and optionally copies
// it to object storage.
package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/relative-yield-service/internal/adapter/geotiff"
	"github.com/couchcryptid/relative-yield-service/internal/domain"
)

// DefaultMaxPixels is the export cap used when none is configured.
const DefaultMaxPixels int64 = 1e11

// Uploader copies written files elsewhere and returns the URI of the raster.
type Uploader interface {
	Upload(ctx context.Context, files []string) (string, error)
}

// Result describes a completed export.
type Result struct {
	Files geotiff.Files
	URI   string
}

// Exporter writes output rasters under a fixed directory and label.
type Exporter struct {
	dir       string
	label     string
	maxPixels int64
	uploader  Uploader
	logger    *slog.Logger
}

// New creates an Exporter. uploader may be nil.
func New(dir, label string, maxPixels int64, uploader Uploader, logger *slog.Logger) *Exporter {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Exporter{dir: dir, label: label, maxPixels: maxPixels, uploader: uploader, logger: logger}
}

// CheckCap rejects a grid whose pixel count exceeds the cap. Callers check before
// evaluating anything.
func (e *Exporter) CheckCap(g domain.Grid) error {
	if g.Pixels() > e.maxPixels {
		return &domain.ExportCapExceededError{Pixels: g.Pixels(), MaxPixels: e.maxPixels}
	}
	return nil
}

// Export writes o under the label suffixed with runID, so each run keeps its own
// files, and uploads them when an uploader is configured.
func (e *Exporter) Export(ctx context.Context, runID string, o domain.OutputRaster, approximate bool) (Result, error) {
	if err := e.CheckCap(o.Grid); err != nil {
		return Result{}, err
	}
	name := e.label
	if runID != "" {
		name += "_" + runID
	}
	files, err := geotiff.WriteOutput(e.dir, name, o, approximate)
	if err != nil {
		return Result{}, fmt.Errorf("export %s: %w", name, err)
	}
	res := Result{Files: files, URI: "file://" + files.Raster}
	e.logger.Info("output raster written",
		"run_id", runID,
		"path", files.Raster,
		"width", o.Grid.Width,
		"height", o.Grid.Height,
		"crs", o.Grid.CRS,
		"observed", o.Observed(),
	)

	if e.uploader != nil {
		uri, err := e.uploader.Upload(ctx, files.All())
		if err != nil {
			return Result{}, fmt.Errorf("upload %s: %w", name, err)
		}
		res.URI = uri
		e.logger.Info("output raster uploaded", "uri", uri)
	}
	return res, nil
}
