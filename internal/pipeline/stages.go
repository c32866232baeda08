package pipeline

import (
	"fmt"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
)

// Land-cover source names resolved by the catalog.
const (
	LandCoverPrimary   = "landcover"
	LandCoverSecondary = "worldcover"
)

// SceneSource selects the scenes intersecting the AOI inside the year range and
// recurring month window whose scene-level cloudiness is below the threshold. An
// empty selection is a valid result.
func SceneSource(filter domain.SceneFilter) (domain.Node, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("scene filter: %w", err)
	}
	return domain.CollectionNode{Filter: filter}, nil
}

// CloudMask unobserves every sample whose clear-sky score is below threshold.
// Scenes without a score layer contribute nothing.
func CloudMask(scenes domain.Node, threshold float64) domain.Node {
	return domain.CloudMaskNode{Source: scenes, Threshold: threshold}
}

// SpectralIndex replaces each scene's bands with its NDVI.
func SpectralIndex(scenes domain.Node) domain.Node {
	return domain.IndexNode{Source: scenes, A: domain.BandNIR, B: domain.BandRed, Out: domain.BandNDVI}
}

// TemporalComposite averages the NDVI of every observation per pixel and clips
// the result to the AOI.
func TemporalComposite(scenes domain.Node, aoi domain.AOI) domain.Node {
	return domain.ClipNode{Source: domain.MeanNode{Source: scenes, Band: domain.BandNDVI}, AOI: aoi}
}

// LandCoverMask is the static grassland mask. It depends only on the land-cover
// sources so one value serves every run.
type LandCoverMask struct {
	node domain.LandCoverNode
}

// NewLandCoverMask builds the mask from the herbaceous classes of the primary
// source, excluding moss and lichen in the secondary source.
func NewLandCoverMask(primary, secondary string, classes domain.LandCoverClasses) LandCoverMask {
	return LandCoverMask{node: domain.LandCoverNode{Primary: primary, Secondary: secondary, Classes: classes}}
}

// Node returns the mask's graph node.
func (m LandCoverMask) Node() domain.Node { return m.node }

// Normalizer converts a composite into the 0..100 relative-yield index.
type Normalizer struct {
	mask            LandCoverMask
	maxReducePixels int64
}

// NewNormalizer creates a Normalizer. Percentile reductions over more than
// maxReducePixels pixels run at a coarser scale.
func NewNormalizer(mask LandCoverMask, maxReducePixels int64) Normalizer {
	return Normalizer{mask: mask, maxReducePixels: maxReducePixels}
}

// Masked restricts the composite to grassland.
func (n Normalizer) Masked(composite domain.Node) domain.Node {
	return domain.UpdateMaskNode{Source: composite, Mask: n.mask.Node()}
}

// Percentiles reduces the masked composite to its 2nd and 98th percentiles.
func (n Normalizer) Percentiles(composite domain.Node) domain.Node {
	return domain.PercentileNode{
		Source:     n.Masked(composite),
		Low:        domain.PercentileLow,
		High:       domain.PercentileHigh,
		BestEffort: true,
		MaxPixels:  n.maxReducePixels,
	}
}

// Rescale maps the masked composite onto 0..100 using stats.
func (n Normalizer) Rescale(composite domain.Node, stats domain.PercentileStats) domain.Node {
	return domain.RescaleNode{Source: n.Masked(composite), Stats: stats}
}
