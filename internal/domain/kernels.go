package domain

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// MaskClouds returns a copy of the scene raster in which every sample whose clear
// score is below threshold (or unknown) is unobserved. A nil score is a join miss
// and masks the whole scene.
func MaskClouds(r Raster, score []float64, threshold float64) (Raster, error) {
	if score != nil && int64(len(score)) != r.Grid.Pixels() {
		return Raster{}, fmt.Errorf("clear score has %d samples, grid has %d", len(score), r.Grid.Pixels())
	}
	out := Raster{Grid: r.Grid, Bands: make([]Band, 0, len(r.Bands))}
	for _, b := range r.Bands {
		if b.Name == BandClearScore {
			continue
		}
		nb := NewBand(b.Name, r.Grid)
		if score != nil {
			for i, v := range b.Data {
				s := score[i]
				if !math.IsNaN(s) && s >= threshold {
					nb.Data[i] = v
				}
			}
		}
		out.Bands = append(out.Bands, nb)
	}
	return out, nil
}

// NormalizedDifference computes (a-b)/(a+b) into a single band named out. A zero
// denominator or an unobserved input leaves the sample unobserved.
func NormalizedDifference(r Raster, a, b, out string) (Raster, error) {
	ba, err := r.Band(a)
	if err != nil {
		return Raster{}, err
	}
	bb, err := r.Band(b)
	if err != nil {
		return Raster{}, err
	}
	nb := NewBand(out, r.Grid)
	for i := range nb.Data {
		x, y := ba.Data[i], bb.Data[i]
		sum := x + y
		if math.IsNaN(sum) || sum == 0 {
			continue
		}
		nb.Data[i] = (x - y) / sum
	}
	return Raster{Grid: r.Grid, Bands: []Band{nb}}, nil
}

// MeanComposite averages the named band across rasters, counting only observed
// samples. Pixels unobserved everywhere stay unobserved. Rasters are folded in the
// order given, so callers pass them in a stable order for bit-identical output.
func MeanComposite(rasters []Raster, band string, g Grid) (Raster, error) {
	sum := make([]float64, g.Pixels())
	count := make([]int, g.Pixels())
	for _, r := range rasters {
		if !r.Grid.Aligned(g) {
			return Raster{}, errors.New("composite inputs must share the evaluation grid")
		}
		b, err := r.Band(band)
		if err != nil {
			return Raster{}, err
		}
		for i, v := range b.Data {
			if math.IsNaN(v) {
				continue
			}
			sum[i] += v
			count[i]++
		}
	}
	nb := NewBand(band, g)
	for i := range nb.Data {
		if count[i] > 0 {
			nb.Data[i] = sum[i] / float64(count[i])
		}
	}
	return Raster{Grid: g, Bands: []Band{nb}}, nil
}

// ClipToAOI unobserves every pixel whose centre is outside the AOI.
func ClipToAOI(r Raster, aoi AOI) (Raster, error) {
	local, err := aoi.Reproject(r.Grid.CRS)
	if err != nil {
		return Raster{}, err
	}
	bound := local.Bound()
	inside := make([]bool, r.Grid.Pixels())
	for row := 0; row < r.Grid.Height; row++ {
		for col := 0; col < r.Grid.Width; col++ {
			x, y := r.Grid.Center(col, row)
			if x < bound.Min[0] || x > bound.Max[0] || y < bound.Min[1] || y > bound.Max[1] {
				continue
			}
			inside[row*r.Grid.Width+col] = local.Contains(x, y)
		}
	}
	out := Raster{Grid: r.Grid, Bands: make([]Band, len(r.Bands)), Approximate: r.Approximate}
	for bi, b := range r.Bands {
		nb := NewBand(b.Name, r.Grid)
		for i, v := range b.Data {
			if inside[i] {
				nb.Data[i] = v
			}
		}
		out.Bands[bi] = nb
	}
	return out, nil
}

// LandCoverClasses configures the grassland mask.
type LandCoverClasses struct {
	// Herbaceous lists primary classification codes counted as grassland.
	Herbaceous []int
	// MossLichen is the secondary classification code forced out of the mask.
	MossLichen int
}

// DefaultLandCoverClasses are the CLC+ herbaceous codes and the WorldCover moss code.
var DefaultLandCoverClasses = LandCoverClasses{Herbaceous: []int{6, 7}, MossLichen: 100}

// GrasslandMask builds a 0/1 band: 1 where the primary class is herbaceous and the
// secondary class is not moss/lichen. Unknown classes count as not grassland, so
// the mask itself has no unobserved samples.
func GrasslandMask(primary, secondary []float64, g Grid, classes LandCoverClasses) (Raster, error) {
	n := g.Pixels()
	if int64(len(primary)) != n || int64(len(secondary)) != n {
		return Raster{}, fmt.Errorf("land cover inputs do not match grid of %d pixels", n)
	}
	mask := Band{Name: BandGrass, Data: make([]float64, n)}
	for i := range mask.Data {
		p := primary[i]
		if math.IsNaN(p) || !slices.Contains(classes.Herbaceous, int(p)) || p != math.Trunc(p) {
			continue
		}
		s := secondary[i]
		if !math.IsNaN(s) && s == math.Trunc(s) && int(s) == classes.MossLichen {
			continue
		}
		mask.Data[i] = 1
	}
	return Raster{Grid: g, Bands: []Band{mask}}, nil
}

// UpdateMask unobserves every sample of r where mask is 0 or unobserved.
func UpdateMask(r Raster, mask []float64) (Raster, error) {
	if int64(len(mask)) != r.Grid.Pixels() {
		return Raster{}, fmt.Errorf("mask has %d samples, grid has %d", len(mask), r.Grid.Pixels())
	}
	out := Raster{Grid: r.Grid, Bands: make([]Band, len(r.Bands)), Approximate: r.Approximate}
	for bi, b := range r.Bands {
		nb := NewBand(b.Name, r.Grid)
		for i, v := range b.Data {
			m := mask[i]
			if !math.IsNaN(m) && m != 0 {
				nb.Data[i] = v
			}
		}
		out.Bands[bi] = nb
	}
	return out, nil
}
