package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
)

// Transform maps a coordinate from one CRS to another.
type Transform func(x, y float64) (float64, float64, error)

// identity is returned when source and destination CRS are the same.
func identity(x, y float64) (float64, float64, error) { return x, y, nil }

// wgs84Def is the geographic CRS projections are chained through.
const wgs84Def = "+proj=longlat +datum=WGS84 +no_defs"

// epsgDefs holds proj4 definitions for the codes the service is routinely run with.
// UTM zones are derived in proj4Definition.
var epsgDefs = map[string]string{
	"EPSG:4326": wgs84Def,
	"EPSG:4258": "+proj=longlat +ellps=GRS80 +no_defs",
	"EPSG:3857": "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs",
	"EPSG:3035": "+proj=laea +lat_0=52 +lon_0=10 +x_0=4321000 +y_0=3210000 +ellps=GRS80 +units=m +no_defs",
}

// proj4Definition resolves an EPSG identifier or passes a proj4 string through.
func proj4Definition(crs string) (string, error) {
	crs = strings.TrimSpace(crs)
	if strings.HasPrefix(crs, "+proj=") {
		return crs, nil
	}
	key := strings.ToUpper(crs)
	if def, ok := epsgDefs[key]; ok {
		return def, nil
	}
	code, err := strconv.Atoi(strings.TrimPrefix(key, "EPSG:"))
	if err != nil || !strings.HasPrefix(key, "EPSG:") {
		return "", fmt.Errorf("unsupported CRS %q", crs)
	}
	switch {
	case code > 32600 && code <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600), nil
	case code > 32700 && code <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700), nil
	}
	return "", fmt.Errorf("unsupported CRS %q", crs)
}

// ValidateCRS reports whether the identifier can be used for reprojection.
// Projections without a transformer are rejected here rather than on first use.
func ValidateCRS(crs string) error {
	def, err := proj4Definition(crs)
	if err != nil {
		return err
	}
	if isLAEA(def) {
		if _, err := newLAEA(def); err != nil {
			return fmt.Errorf("parse CRS %q: %w", crs, err)
		}
		return nil
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return fmt.Errorf("parse CRS %q: %w", crs, err)
	}
	if _, _, err := sr.Transformers(); err != nil {
		return fmt.Errorf("CRS %q: %w", crs, err)
	}
	return nil
}

// NewTransform returns a coordinate transform from src to dst.
func NewTransform(src, dst string) (Transform, error) {
	if sameCRS(src, dst) {
		return identity, nil
	}
	srcDef, err := proj4Definition(src)
	if err != nil {
		return nil, err
	}
	dstDef, err := proj4Definition(dst)
	if err != nil {
		return nil, err
	}
	if !isLAEA(srcDef) && !isLAEA(dstDef) {
		t, err := proj4Transform(srcDef, dstDef)
		if err != nil {
			return nil, fmt.Errorf("transform %s -> %s: %w", src, dst, err)
		}
		return t, nil
	}

	// LAEA is handled locally, so go through geographic coordinates.
	toGeo, err := geographic(srcDef, false)
	if err != nil {
		return nil, fmt.Errorf("transform %s -> %s: %w", src, dst, err)
	}
	fromGeo, err := geographic(dstDef, true)
	if err != nil {
		return nil, fmt.Errorf("transform %s -> %s: %w", src, dst, err)
	}
	return func(x, y float64) (float64, float64, error) {
		lon, lat, err := toGeo(x, y)
		if err != nil {
			return 0, 0, err
		}
		return fromGeo(lon, lat)
	}, nil
}

// geographic returns the transform from def to WGS84 degrees, or the reverse
// when fromGeo is set. ETRS89 is taken as WGS84; they differ by well under a pixel.
func geographic(def string, fromGeo bool) (Transform, error) {
	if isLAEA(def) {
		p, err := newLAEA(def)
		if err != nil {
			return nil, err
		}
		if fromGeo {
			return p.forward, nil
		}
		return p.inverse, nil
	}
	if fromGeo {
		return proj4Transform(wgs84Def, def)
	}
	return proj4Transform(def, wgs84Def)
}

// proj4Transform builds a transform with github.com/ctessum/geom/proj.
func proj4Transform(srcDef, dstDef string) (Transform, error) {
	srcSR, err := proj.Parse(srcDef)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", srcDef, err)
	}
	dstSR, err := proj.Parse(dstDef)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", dstDef, err)
	}
	t, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, err
	}
	if t == nil {
		// proj returns no transformer for equivalent definitions.
		return identity, nil
	}
	return func(x, y float64) (float64, float64, error) {
		return t(x, y)
	}, nil
}

// proj4Params splits a proj4 string into its +key=value parameters.
func proj4Params(def string) map[string]string {
	params := make(map[string]string)
	for _, field := range strings.Fields(def) {
		k, v, _ := strings.Cut(strings.TrimPrefix(field, "+"), "=")
		params[strings.ToLower(k)] = v
	}
	return params
}

func isLAEA(def string) bool {
	return strings.EqualFold(proj4Params(def)["proj"], "laea")
}

func sameCRS(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
