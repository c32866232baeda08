package remote

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Request is the body of an evaluation call.
type Request struct {
	Graph  *Node  `json:"graph"`
	Region Region `json:"region"`
}

// Region is the wire form of domain.Region.
type Region struct {
	AOI   AOI     `json:"aoi"`
	CRS   string  `json:"crs"`
	Scale float64 `json:"scale"`
}

// AOI carries the polygon as a GeoJSON geometry with its CRS alongside.
type AOI struct {
	Geometry *geojson.Geometry `json:"geometry"`
	CRS      string            `json:"crs"`
}

// Node is the wire form of a graph node. Only the fields of Op are set.
type Node struct {
	Op     string `json:"op"`
	Source *Node  `json:"source,omitempty"`
	Mask   *Node  `json:"mask,omitempty"`

	Filter    *Filter `json:"filter,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`

	A    string `json:"a,omitempty"`
	B    string `json:"b,omitempty"`
	Out  string `json:"out,omitempty"`
	Band string `json:"band,omitempty"`

	AOI *AOI `json:"aoi,omitempty"`

	Primary    string `json:"primary,omitempty"`
	Secondary  string `json:"secondary,omitempty"`
	Herbaceous []int  `json:"herbaceous,omitempty"`
	MossLichen int    `json:"moss_lichen,omitempty"`

	Low        float64 `json:"low,omitempty"`
	High       float64 `json:"high,omitempty"`
	BestEffort bool    `json:"best_effort,omitempty"`
	MaxPixels  int64   `json:"max_pixels,omitempty"`

	Stats *Stats `json:"stats,omitempty"`
}

// Filter is the wire form of domain.SceneFilter.
type Filter struct {
	AOI                AOI     `json:"aoi"`
	StartYear          int     `json:"start_year"`
	EndYear            int     `json:"end_year"`
	StartMonth         int     `json:"start_month"`
	EndMonth           int     `json:"end_month"`
	MaxCloudPercentage float64 `json:"max_cloud_percentage"`
}

// Stats carries percentile stats; nil bounds mean no observed samples.
type Stats struct {
	Low         *float64 `json:"p_low"`
	High        *float64 `json:"p_high"`
	Samples     int      `json:"samples"`
	Approximate bool     `json:"approximate,omitempty"`
}

// Response is the body of a successful evaluation.
type Response struct {
	Raster Raster `json:"raster"`
}

// ErrorResponse is the body of a failed evaluation.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Raster is the wire form of domain.Raster. Band samples are little-endian
// float64 encoded as base64, which keeps NaN intact.
type Raster struct {
	Grid        domain.Grid `json:"grid"`
	Bands       []Band      `json:"bands"`
	Approximate bool        `json:"approximate,omitempty"`
}

// Band is one encoded layer.
type Band struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// NewRequest encodes a graph and region.
func NewRequest(node domain.Node, region domain.Region) (Request, error) {
	n, err := encodeNode(node)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Graph:  n,
		Region: Region{AOI: encodeAOI(region.AOI), CRS: region.CRS, Scale: region.Scale},
	}, nil
}

// Decode returns the graph and region of the request.
func (r Request) Decode() (domain.Node, domain.Region, error) {
	if r.Graph == nil {
		return nil, domain.Region{}, errors.New("request has no graph")
	}
	node, err := decodeNode(r.Graph)
	if err != nil {
		return nil, domain.Region{}, err
	}
	aoi, err := decodeAOI(&r.Region.AOI)
	if err != nil {
		return nil, domain.Region{}, fmt.Errorf("region: %w", err)
	}
	return node, domain.Region{AOI: aoi, CRS: r.Region.CRS, Scale: r.Region.Scale}, nil
}

func encodeAOI(a domain.AOI) AOI {
	return AOI{Geometry: geojson.NewGeometry(a.Polygon), CRS: a.CRS}
}

func decodeAOI(a *AOI) (domain.AOI, error) {
	if a == nil || a.Geometry == nil {
		return domain.AOI{}, errors.New("missing AOI geometry")
	}
	poly, ok := a.Geometry.Geometry().(orb.Polygon)
	if !ok {
		return domain.AOI{}, fmt.Errorf("AOI geometry must be a Polygon, got %s", a.Geometry.Type)
	}
	return domain.AOI{Polygon: poly, CRS: a.CRS}, nil
}

func encodeStats(s domain.PercentileStats) *Stats {
	out := &Stats{Samples: s.Samples, Approximate: s.Approximate}
	if !math.IsNaN(s.Low) {
		out.Low = &s.Low
	}
	if !math.IsNaN(s.High) {
		out.High = &s.High
	}
	return out
}

func decodeStats(s *Stats) domain.PercentileStats {
	out := domain.PercentileStats{Low: math.NaN(), High: math.NaN()}
	if s == nil {
		return out
	}
	if s.Low != nil {
		out.Low = *s.Low
	}
	if s.High != nil {
		out.High = *s.High
	}
	out.Samples = s.Samples
	out.Approximate = s.Approximate
	return out
}

func encodeNode(node domain.Node) (*Node, error) {
	if node == nil {
		return nil, errors.New("nil graph node")
	}
	out := &Node{Op: node.Op()}
	var err error
	switch n := node.(type) {
	case domain.CollectionNode:
		f := n.Filter
		out.Filter = &Filter{
			AOI:                encodeAOI(f.AOI),
			StartYear:          f.StartYear,
			EndYear:            f.EndYear,
			StartMonth:         int(f.Months.Start),
			EndMonth:           int(f.Months.End),
			MaxCloudPercentage: f.MaxCloudPercentage,
		}
	case domain.CloudMaskNode:
		out.Threshold = n.Threshold
		out.Source, err = encodeNode(n.Source)
	case domain.IndexNode:
		out.A, out.B, out.Out = n.A, n.B, n.Out
		out.Source, err = encodeNode(n.Source)
	case domain.MeanNode:
		out.Band = n.Band
		out.Source, err = encodeNode(n.Source)
	case domain.ClipNode:
		aoi := encodeAOI(n.AOI)
		out.AOI = &aoi
		out.Source, err = encodeNode(n.Source)
	case domain.LandCoverNode:
		out.Primary, out.Secondary = n.Primary, n.Secondary
		out.Herbaceous, out.MossLichen = n.Classes.Herbaceous, n.Classes.MossLichen
	case domain.UpdateMaskNode:
		if out.Source, err = encodeNode(n.Source); err == nil {
			out.Mask, err = encodeNode(n.Mask)
		}
	case domain.PercentileNode:
		out.Low, out.High, out.BestEffort, out.MaxPixels = n.Low, n.High, n.BestEffort, n.MaxPixels
		out.Source, err = encodeNode(n.Source)
	case domain.RescaleNode:
		out.Stats = encodeStats(n.Stats)
		out.Source, err = encodeNode(n.Source)
	default:
		return nil, fmt.Errorf("unknown graph node %T", node)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeNode(n *Node) (domain.Node, error) {
	if n == nil {
		return nil, errors.New("missing graph node")
	}
	source := func() (domain.Node, error) {
		s, err := decodeNode(n.Source)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Op, err)
		}
		return s, nil
	}

	switch n.Op {
	case "collection":
		if n.Filter == nil {
			return nil, errors.New("collection: missing filter")
		}
		aoi, err := decodeAOI(&n.Filter.AOI)
		if err != nil {
			return nil, fmt.Errorf("collection: %w", err)
		}
		return domain.CollectionNode{Filter: domain.SceneFilter{
			AOI:                aoi,
			StartYear:          n.Filter.StartYear,
			EndYear:            n.Filter.EndYear,
			Months:             domain.MonthWindow{Start: time.Month(n.Filter.StartMonth), End: time.Month(n.Filter.EndMonth)},
			MaxCloudPercentage: n.Filter.MaxCloudPercentage,
		}}, nil
	case "cloud_mask":
		src, err := source()
		if err != nil {
			return nil, err
		}
		return domain.CloudMaskNode{Source: src, Threshold: n.Threshold}, nil
	case "normalized_difference":
		src, err := source()
		if err != nil {
			return nil, err
		}
		return domain.IndexNode{Source: src, A: n.A, B: n.B, Out: n.Out}, nil
	case "mean":
		src, err := source()
		if err != nil {
			return nil, err
		}
		return domain.MeanNode{Source: src, Band: n.Band}, nil
	case "clip":
		src, err := source()
		if err != nil {
			return nil, err
		}
		aoi, err := decodeAOI(n.AOI)
		if err != nil {
			return nil, fmt.Errorf("clip: %w", err)
		}
		return domain.ClipNode{Source: src, AOI: aoi}, nil
	case "land_cover_mask":
		return domain.LandCoverNode{
			Primary:   n.Primary,
			Secondary: n.Secondary,
			Classes:   domain.LandCoverClasses{Herbaceous: n.Herbaceous, MossLichen: n.MossLichen},
		}, nil
	case "update_mask":
		src, err := source()
		if err != nil {
			return nil, err
		}
		mask, err := decodeNode(n.Mask)
		if err != nil {
			return nil, fmt.Errorf("update_mask: %w", err)
		}
		return domain.UpdateMaskNode{Source: src, Mask: mask}, nil
	case "percentile":
		src, err := source()
		if err != nil {
			return nil, err
		}
		return domain.PercentileNode{Source: src, Low: n.Low, High: n.High, BestEffort: n.BestEffort, MaxPixels: n.MaxPixels}, nil
	case "rescale":
		src, err := source()
		if err != nil {
			return nil, err
		}
		return domain.RescaleNode{Source: src, Stats: decodeStats(n.Stats)}, nil
	}
	return nil, fmt.Errorf("unknown op %q", n.Op)
}

// EncodeRaster converts a raster to its wire form.
func EncodeRaster(r domain.Raster) Raster {
	out := Raster{Grid: r.Grid, Approximate: r.Approximate, Bands: make([]Band, len(r.Bands))}
	for i, b := range r.Bands {
		buf := make([]byte, 8*len(b.Data))
		for j, v := range b.Data {
			binary.LittleEndian.PutUint64(buf[8*j:], math.Float64bits(v))
		}
		out.Bands[i] = Band{Name: b.Name, Data: base64.StdEncoding.EncodeToString(buf)}
	}
	return out
}

// Decode converts the wire raster back to a validated domain.Raster.
func (r Raster) Decode() (domain.Raster, error) {
	out := domain.Raster{Grid: r.Grid, Approximate: r.Approximate, Bands: make([]domain.Band, len(r.Bands))}
	for i, b := range r.Bands {
		buf, err := base64.StdEncoding.DecodeString(b.Data)
		if err != nil {
			return domain.Raster{}, fmt.Errorf("band %q: %w", b.Name, err)
		}
		if len(buf)%8 != 0 {
			return domain.Raster{}, fmt.Errorf("band %q: truncated sample data", b.Name)
		}
		data := make([]float64, len(buf)/8)
		for j := range data {
			data[j] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*j:]))
		}
		out.Bands[i] = domain.Band{Name: b.Name, Data: data}
	}
	if err := out.Validate(); err != nil {
		return domain.Raster{}, err
	}
	return out, nil
}

// MarshalRequest encodes a graph and region as a JSON request body.
func MarshalRequest(node domain.Node, region domain.Region) ([]byte, error) {
	req, err := NewRequest(node, region)
	if err != nil {
		return nil, err
	}
	return json.Marshal(req)
}
