package domain

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Percentile bounds used for normalization.
const (
	PercentileLow  = 2.0
	PercentileHigh = 98.0
)

// BandRelativeYield names the rescaled output band.
const BandRelativeYield = "relative_yield"

// PercentileStats are the clamp bounds of one reduction.
type PercentileStats struct {
	Low         float64 `json:"p_low"`
	High        float64 `json:"p_high"`
	Samples     int     `json:"samples"`
	Approximate bool    `json:"approximate"`
}

// Empty reports whether the reduction saw no observed samples.
func (s PercentileStats) Empty() bool {
	return s.Samples == 0 || math.IsNaN(s.Low) || math.IsNaN(s.High)
}

// Degenerate reports whether the clamp range has zero width.
func (s PercentileStats) Degenerate() bool {
	return !s.Empty() && s.High == s.Low
}

// ComputePercentiles returns the low/high percentiles (0..100) of the observed
// samples using linear interpolation of the empirical CDF.
func ComputePercentiles(data []float64, low, high float64) PercentileStats {
	values := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return PercentileStats{Low: math.NaN(), High: math.NaN()}
	}
	sort.Float64s(values)
	return PercentileStats{
		Low:     stat.Quantile(low/100, stat.LinInterp, values, nil),
		High:    stat.Quantile(high/100, stat.LinInterp, values, nil),
		Samples: len(values),
	}
}

// RescaleValue maps a composite value to the 0..100 index: clamp to [Low, High],
// unit-scale, multiply by 100 and round half away from zero. Unobserved input or
// empty stats yield NaN; a degenerate range yields 0.
func RescaleValue(v float64, s PercentileStats) float64 {
	if math.IsNaN(v) || s.Empty() {
		return math.NaN()
	}
	if s.Degenerate() {
		return 0
	}
	c := math.Min(math.Max(v, s.Low), s.High)
	return math.Round((c - s.Low) / (s.High - s.Low) * 100)
}

// Rescale applies RescaleValue to the first band of r.
func Rescale(r Raster, s PercentileStats) Raster {
	nb := NewBand(BandRelativeYield, r.Grid)
	if len(r.Bands) == 0 {
		return Raster{Grid: r.Grid, Bands: []Band{nb}, Approximate: r.Approximate}
	}
	for i, v := range r.Bands[0].Data {
		nb.Data[i] = RescaleValue(v, s)
	}
	return Raster{Grid: r.Grid, Bands: []Band{nb}, Approximate: r.Approximate}
}
