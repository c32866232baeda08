// Package domain models the grassland relative-yield computation.
//
// # Data Source
//
// Reflectance comes from Sentinel-2 Level-1C scenes (harmonized radiometry). Each
// scene carries the red (B4) and near-infrared (B8) bands plus a whole-scene
// CLOUDY_PIXEL_PERCENTAGE. Per-pixel clear-sky confidence comes from a separate
// Cloud Score+ layer (band "cs_cdf", 0 = certainly obstructed, 1 = certainly clear)
// that shares the scene identifier and is joined by it.
//
// Land cover comes from two static products:
//
//	CLC+ Backbone (10 m, EPSG:3035):  6 = permanent herbaceous, 7 = periodically herbaceous
//	ESA WorldCover (10 m, EPSG:4326): 100 = moss and lichen
//
// # Raster Conventions
//
// Every raster lives on a north-up [Grid]. Samples are float64 and NaN marks an
// unobserved pixel (cloud-masked, outside the AOI, outside the grassland mask, or
// undefined such as a zero NDVI denominator). Stages never write into their inputs.
//
// # Computation Graph
//
// Stages do not compute pixels. They build [Node] values describing the work, and a
// [RasterPipeline] evaluates a node over a [Region]. The graph for one run is:
//
//	SceneCollection → CloudMasked → NormalizedDifference → MeanComposite → Clip
//	                                                                          ↘
//	GrasslandMask ──────────────────────────────────────────────────────────→ UpdateMask
//	                                                                          ↙        ↘
//	                                               PercentileReduce (p2, p98)     Rescale → OutputRaster
//
// # Output Encoding
//
// Observed pixels are clamped to [p2, p98], unit-scaled, multiplied by 100 and rounded
// half away from zero (all inputs are non-negative at that point, so this is
// round-half-up). Unobserved pixels are written as [NodataValue] (999). A degenerate
// range (p2 == p98) maps every observed pixel to 0.
package domain
