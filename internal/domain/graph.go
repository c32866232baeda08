package domain

import (
	"errors"
	"fmt"
	"math"
)

// Kind distinguishes nodes that evaluate to a scene collection from nodes that
// evaluate to a single raster.
type Kind int

const (
	KindCollection Kind = iota
	KindImage
)

// Node is one step of a lazy computation graph. Building nodes never touches
// pixels; a RasterPipeline evaluates them.
type Node interface {
	Op() string
	Kind() Kind
	Inputs() []Node
}

// CollectionNode selects scenes from the catalog.
type CollectionNode struct {
	Filter SceneFilter
}

// CloudMaskNode joins each scene to its clear-score layer and masks samples below
// Threshold.
type CloudMaskNode struct {
	Source    Node
	Threshold float64
}

// IndexNode computes (A-B)/(A+B) per scene into band Out, dropping the inputs.
type IndexNode struct {
	Source Node
	A, B   string
	Out    string
}

// MeanNode reduces a collection to the per-pixel mean of Band.
type MeanNode struct {
	Source Node
	Band   string
}

// ClipNode unobserves pixels outside AOI.
type ClipNode struct {
	Source Node
	AOI    AOI
}

// LandCoverNode builds the grassland mask from two named land-cover sources.
type LandCoverNode struct {
	Primary   string
	Secondary string
	Classes   LandCoverClasses
}

// UpdateMaskNode unobserves Source wherever Mask is zero or unobserved.
type UpdateMaskNode struct {
	Source Node
	Mask   Node
}

// PercentileNode reduces Source over the region to its Low/High percentiles.
// With BestEffort the engine may coarsen the scale until the pixel count is at
// most MaxPixels instead of failing.
type PercentileNode struct {
	Source     Node
	Low, High  float64
	BestEffort bool
	MaxPixels  int64
}

// RescaleNode clamps and scales Source to the 0..100 index with known stats.
type RescaleNode struct {
	Source Node
	Stats  PercentileStats
}

func (CollectionNode) Op() string { return "collection" }
func (CloudMaskNode) Op() string  { return "cloud_mask" }
func (IndexNode) Op() string      { return "normalized_difference" }
func (MeanNode) Op() string       { return "mean" }
func (ClipNode) Op() string       { return "clip" }
func (LandCoverNode) Op() string  { return "land_cover_mask" }
func (UpdateMaskNode) Op() string { return "update_mask" }
func (PercentileNode) Op() string { return "percentile" }
func (RescaleNode) Op() string    { return "rescale" }

func (CollectionNode) Kind() Kind { return KindCollection }
func (CloudMaskNode) Kind() Kind  { return KindCollection }
func (IndexNode) Kind() Kind      { return KindCollection }
func (MeanNode) Kind() Kind       { return KindImage }
func (ClipNode) Kind() Kind       { return KindImage }
func (LandCoverNode) Kind() Kind  { return KindImage }
func (UpdateMaskNode) Kind() Kind { return KindImage }
func (PercentileNode) Kind() Kind { return KindImage }
func (RescaleNode) Kind() Kind    { return KindImage }

func (CollectionNode) Inputs() []Node   { return nil }
func (n CloudMaskNode) Inputs() []Node  { return []Node{n.Source} }
func (n IndexNode) Inputs() []Node      { return []Node{n.Source} }
func (n MeanNode) Inputs() []Node       { return []Node{n.Source} }
func (n ClipNode) Inputs() []Node       { return []Node{n.Source} }
func (LandCoverNode) Inputs() []Node    { return nil }
func (n UpdateMaskNode) Inputs() []Node { return []Node{n.Source, n.Mask} }
func (n PercentileNode) Inputs() []Node { return []Node{n.Source} }
func (n RescaleNode) Inputs() []Node    { return []Node{n.Source} }

// ValidateGraph checks that every node receives inputs of the kind it expects.
func ValidateGraph(n Node) error {
	if n == nil {
		return errors.New("nil graph node")
	}
	var want []Kind
	switch n.(type) {
	case CollectionNode, LandCoverNode:
	case CloudMaskNode, IndexNode, MeanNode:
		want = []Kind{KindCollection}
	case ClipNode, PercentileNode, RescaleNode:
		want = []Kind{KindImage}
	case UpdateMaskNode:
		want = []Kind{KindImage, KindImage}
	default:
		return fmt.Errorf("unknown graph node %T", n)
	}
	inputs := n.Inputs()
	for i, in := range inputs {
		if in == nil {
			return fmt.Errorf("%s: input %d is nil", n.Op(), i)
		}
		if in.Kind() != want[i] {
			return fmt.Errorf("%s: input %d (%s) has the wrong kind", n.Op(), i, in.Op())
		}
		if err := ValidateGraph(in); err != nil {
			return err
		}
	}
	return nil
}

// Stats band names of a percentile reduction result.
const (
	BandPercentileLow  = "p_low"
	BandPercentileHigh = "p_high"
	BandSamples        = "samples"
)

// StatsRaster packs percentile stats into a 1x1 raster.
func StatsRaster(g Grid, s PercentileStats) Raster {
	one := Grid{CRS: g.CRS, OriginX: g.OriginX, OriginY: g.OriginY, Scale: g.Scale, Width: 1, Height: 1}
	return Raster{
		Grid: one,
		Bands: []Band{
			{Name: BandPercentileLow, Data: []float64{s.Low}},
			{Name: BandPercentileHigh, Data: []float64{s.High}},
			{Name: BandSamples, Data: []float64{float64(s.Samples)}},
		},
		Approximate: s.Approximate,
	}
}

// StatsFromRaster unpacks the result of a percentile reduction.
func StatsFromRaster(r Raster) (PercentileStats, error) {
	lo, err := r.Band(BandPercentileLow)
	if err != nil {
		return PercentileStats{}, err
	}
	hi, err := r.Band(BandPercentileHigh)
	if err != nil {
		return PercentileStats{}, err
	}
	if len(lo.Data) != 1 || len(hi.Data) != 1 {
		return PercentileStats{}, errors.New("percentile result must be a single pixel")
	}
	s := PercentileStats{Low: lo.Data[0], High: hi.Data[0], Approximate: r.Approximate}
	if n, err := r.Band(BandSamples); err == nil && len(n.Data) == 1 && !math.IsNaN(n.Data[0]) {
		s.Samples = int(n.Data[0])
	} else if !math.IsNaN(s.Low) && !math.IsNaN(s.High) {
		s.Samples = 1
	}
	return s, nil
}
