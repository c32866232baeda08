package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"
)

// RunParams are the inputs that determine a run's output.
type RunParams struct {
	StartYear            int     `json:"start_year"`
	EndYear              int     `json:"end_year"`
	StartMonth           int     `json:"start_month"`
	EndMonth             int     `json:"end_month"`
	CloudFilterThreshold float64 `json:"cloud_filter_threshold"`
	ClearScoreThreshold  float64 `json:"clear_score_threshold"`
	OutputCRS            string  `json:"output_crs"`
	OutputScale          float64 `json:"output_scale"`
}

// RunReport summarizes one completed run.
type RunReport struct {
	RunID       string          `json:"run_id"`
	Params      RunParams       `json:"params"`
	Stats       PercentileStats `json:"stats"`
	Grid        Grid            `json:"grid"`
	Observed    int             `json:"observed_pixels"`
	Warnings    []string        `json:"warnings,omitempty"`
	Checksum    string          `json:"checksum"`
	OutputURI   string          `json:"output_uri,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// NewRunReport stamps a report with the current clock time.
func NewRunReport(runID string, params RunParams, stats PercentileStats, out OutputRaster, warnings []error) RunReport {
	r := RunReport{
		RunID:       runID,
		Params:      params,
		Stats:       stats,
		Grid:        out.Grid,
		Observed:    out.Observed(),
		Checksum:    Checksum(out),
		CompletedAt: clock.Now().UTC(),
	}
	for _, w := range warnings {
		r.Warnings = append(r.Warnings, w.Error())
	}
	// NaN does not survive JSON encoding.
	if math.IsNaN(r.Stats.Low) || math.IsNaN(r.Stats.High) {
		r.Stats.Low, r.Stats.High = 0, 0
	}
	return r
}

// Checksum is a SHA-256 over the grid geometry and every output value. Two runs
// over identical inputs produce the same checksum.
func Checksum(o OutputRaster) string {
	h := sha256.New()
	var buf [8]byte
	for _, f := range []float64{o.Grid.OriginX, o.Grid.OriginY, o.Grid.Scale} {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(o.Grid.Width))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(o.Grid.Height))
	h.Write(buf[:])
	h.Write([]byte(o.Grid.CRS))
	for _, v := range o.Values {
		binary.LittleEndian.PutUint32(buf[:4], uint32(v))
		h.Write(buf[:4])
	}
	return hex.EncodeToString(h.Sum(nil))
}
