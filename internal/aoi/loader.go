// Package aoi loads the area of interest polygon from GeoJSON or WKT files.
package aoi

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// Load reads an AOI file. GeoJSON files (.geojson, .json) may name their CRS in
// a legacy "crs" member; otherwise defaultCRS applies. WKT files (.wkt, .txt)
// always use defaultCRS.
func Load(path, defaultCRS string) (domain.AOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.AOI{}, fmt.Errorf("read AOI: %w", err)
	}
	var a domain.AOI
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		a, err = ParseGeoJSON(data, defaultCRS)
	case ".wkt", ".txt":
		a, err = ParseWKT(string(data), defaultCRS)
	default:
		return domain.AOI{}, fmt.Errorf("unsupported AOI file type %q", filepath.Ext(path))
	}
	if err != nil {
		return domain.AOI{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return a, nil
}

// ParseGeoJSON accepts a Polygon, a single-polygon MultiPolygon, or a Feature or
// FeatureCollection holding exactly one such geometry.
func ParseGeoJSON(data []byte, defaultCRS string) (domain.AOI, error) {
	var head struct {
		Type string          `json:"type"`
		CRS  json.RawMessage `json:"crs"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return domain.AOI{}, fmt.Errorf("decode GeoJSON: %w", err)
	}
	crs := defaultCRS
	if len(head.CRS) > 0 {
		named, err := namedCRS(head.CRS)
		if err != nil {
			return domain.AOI{}, err
		}
		crs = named
	}

	var g orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return domain.AOI{}, fmt.Errorf("decode feature collection: %w", err)
		}
		if len(fc.Features) != 1 {
			return domain.AOI{}, fmt.Errorf("feature collection must hold exactly one feature, got %d", len(fc.Features))
		}
		g = fc.Features[0].Geometry
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return domain.AOI{}, fmt.Errorf("decode feature: %w", err)
		}
		g = f.Geometry
	default:
		geo, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return domain.AOI{}, fmt.Errorf("decode geometry: %w", err)
		}
		g = geo.Geometry()
	}

	poly, err := singlePolygon(g)
	if err != nil {
		return domain.AOI{}, err
	}
	return validated(domain.AOI{Polygon: poly, CRS: crs})
}

// ParseWKT accepts a POLYGON or a single-polygon MULTIPOLYGON.
func ParseWKT(s, crs string) (domain.AOI, error) {
	t, err := wkt.Unmarshal(strings.TrimSpace(s))
	if err != nil {
		return domain.AOI{}, fmt.Errorf("decode WKT: %w", err)
	}
	var p *geom.Polygon
	switch g := t.(type) {
	case *geom.Polygon:
		p = g
	case *geom.MultiPolygon:
		if g.NumPolygons() != 1 {
			return domain.AOI{}, fmt.Errorf("multipolygon must hold exactly one polygon, got %d", g.NumPolygons())
		}
		p = g.Polygon(0)
	default:
		return domain.AOI{}, fmt.Errorf("AOI must be a polygon, got %T", t)
	}

	poly := make(orb.Polygon, 0, p.NumLinearRings())
	for _, ring := range p.Coords() {
		r := make(orb.Ring, len(ring))
		for i, c := range ring {
			r[i] = orb.Point{c.X(), c.Y()}
		}
		poly = append(poly, r)
	}
	return validated(domain.AOI{Polygon: poly, CRS: crs})
}

func singlePolygon(g orb.Geometry) (orb.Polygon, error) {
	switch p := g.(type) {
	case orb.Polygon:
		return p, nil
	case orb.MultiPolygon:
		if len(p) != 1 {
			return nil, fmt.Errorf("multipolygon must hold exactly one polygon, got %d", len(p))
		}
		return p[0], nil
	case nil:
		return nil, errors.New("AOI has no geometry")
	}
	return nil, fmt.Errorf("AOI must be a polygon, got %s", g.GeoJSONType())
}

func validated(a domain.AOI) (domain.AOI, error) {
	if err := a.Validate(); err != nil {
		return domain.AOI{}, err
	}
	if err := domain.ValidateCRS(a.CRS); err != nil {
		return domain.AOI{}, err
	}
	return a, nil
}

var epsgURN = regexp.MustCompile(`(?i)EPSG:{1,2}(\d+)$`)

// namedCRS reads a legacy GeoJSON crs member such as
// {"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::3035"}}.
func namedCRS(raw json.RawMessage) (string, error) {
	var c struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("decode crs member: %w", err)
	}
	name := strings.TrimSpace(c.Properties.Name)
	if strings.EqualFold(name, "urn:ogc:def:crs:OGC:1.3:CRS84") {
		return "EPSG:4326", nil
	}
	m := epsgURN.FindStringSubmatch(name)
	if c.Type != "name" || m == nil {
		return "", fmt.Errorf("unsupported crs member %q", name)
	}
	return "EPSG:" + m[1], nil
}
