package domain

import (
	"errors"
	"fmt"
)

// Conditions a run recovers from. They are recorded as warnings on the run result
// and never abort the computation.
var (
	// ErrEmptyInput means no observed grassland pixel survived the pipeline, most
	// often because no scene matched the scene filters. The output is all nodata.
	ErrEmptyInput = errors.New("no observed pixels: scene collection empty or fully masked")

	// ErrDegenerateRange means the 2nd and 98th percentiles are equal. Every
	// observed pixel is written as 0.
	ErrDegenerateRange = errors.New("degenerate percentile range: p_low equals p_high")

	// ErrRegionTooLarge means the percentile reduction ran at a coarser scale
	// than requested. The statistics are approximate.
	ErrRegionTooLarge = errors.New("region too large: percentiles computed at reduced resolution")
)

// ErrRunNotFound is returned by run history lookups for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// RemoteEvaluationError is a terminal failure of the evaluation engine.
type RemoteEvaluationError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RemoteEvaluationError) Error() string {
	return fmt.Sprintf("remote evaluation %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *RemoteEvaluationError) Unwrap() error { return e.Err }

// ExportCapExceededError rejects an export whose pixel count exceeds the cap.
type ExportCapExceededError struct {
	Pixels    int64
	MaxPixels int64
}

func (e *ExportCapExceededError) Error() string {
	return fmt.Sprintf("export of %d pixels exceeds maxPixels cap of %d", e.Pixels, e.MaxPixels)
}
