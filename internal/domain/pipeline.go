package domain

import "context"

// RasterPipeline evaluates a computation graph over a region. It is the only
// blocking operation the core issues: once for the percentile reduction and once
// for the final raster.
type RasterPipeline interface {
	Evaluate(ctx context.Context, node Node, region Region) (Raster, error)
}
