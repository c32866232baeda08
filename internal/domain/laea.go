package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const deg = math.Pi / 180

// ellipsoids maps proj4 +ellps names to semi-major axis and inverse flattening.
var ellipsoids = map[string][2]float64{
	"grs80": {6378137, 298.257222101},
	"wgs84": {6378137, 298.257223563},
}

// laea is the ellipsoidal oblique Lambert azimuthal equal-area projection
// (EPSG method 9820), the projection of EPSG:3035. ctessum/geom/proj has no
// transformer for it.
type laea struct {
	lat0, lon0   float64 // radians
	x0, y0       float64
	e, e2        float64
	qp, rq, d    float64
	sinB0, cosB0 float64
}

// newLAEA builds the projection from a +proj=laea definition.
func newLAEA(def string) (*laea, error) {
	params := proj4Params(def)
	num := func(key string, fallback float64) (float64, error) {
		v, ok := params[key]
		if !ok {
			return fallback, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("laea: invalid +%s=%q", key, v)
		}
		return f, nil
	}

	var (
		p   laea
		err error
		lat float64
		lon float64
		a   float64
		rf  float64
	)
	if lat, err = num("lat_0", 0); err != nil {
		return nil, err
	}
	if lon, err = num("lon_0", 0); err != nil {
		return nil, err
	}
	if p.x0, err = num("x_0", 0); err != nil {
		return nil, err
	}
	if p.y0, err = num("y_0", 0); err != nil {
		return nil, err
	}
	if u, ok := params["units"]; ok && u != "m" {
		return nil, fmt.Errorf("laea: unsupported units %q", u)
	}
	if math.Abs(lat) >= 90 {
		return nil, errors.New("laea: polar aspect is not supported")
	}

	switch name := strings.ToLower(params["ellps"]); {
	case name != "":
		ellps, ok := ellipsoids[name]
		if !ok {
			return nil, fmt.Errorf("laea: unsupported ellipsoid %q", name)
		}
		a, rf = ellps[0], ellps[1]
	case params["datum"] != "":
		if !strings.EqualFold(params["datum"], "WGS84") {
			return nil, fmt.Errorf("laea: unsupported datum %q", params["datum"])
		}
		a, rf = ellipsoids["wgs84"][0], ellipsoids["wgs84"][1]
	default:
		if a, err = num("a", 0); err != nil {
			return nil, err
		}
		if rf, err = num("rf", 0); err != nil {
			return nil, err
		}
		b, err := num("b", 0)
		if err != nil {
			return nil, err
		}
		if b > 0 && a > b {
			rf = a / (a - b)
		}
	}
	if a <= 0 || rf <= 0 {
		return nil, errors.New("laea: an ellipsoid is required")
	}

	f := 1 / rf
	p.e2 = 2*f - f*f
	p.e = math.Sqrt(p.e2)
	p.lat0, p.lon0 = lat*deg, lon*deg
	p.qp = p.q(1)
	beta0 := math.Asin(p.q(math.Sin(p.lat0)) / p.qp)
	p.sinB0, p.cosB0 = math.Sincos(beta0)
	p.rq = a * math.Sqrt(p.qp/2)
	sinLat0 := math.Sin(p.lat0)
	p.d = a * (math.Cos(p.lat0) / math.Sqrt(1-p.e2*sinLat0*sinLat0)) / (p.rq * p.cosB0)
	return &p, nil
}

// q is the authalic latitude function of sin(phi).
func (p *laea) q(sinPhi float64) float64 {
	es := p.e * sinPhi
	return (1 - p.e2) * (sinPhi/(1-es*sinPhi*p.e) - math.Log((1-es)/(1+es))/(2*p.e))
}

// forward projects WGS84 degrees to easting and northing.
func (p *laea) forward(lon, lat float64) (float64, float64, error) {
	if math.IsNaN(lon) || math.IsNaN(lat) || math.Abs(lat) > 90 {
		return 0, 0, fmt.Errorf("laea: invalid coordinate (%v, %v)", lon, lat)
	}
	beta := math.Asin(clampUnit(p.q(math.Sin(lat*deg)) / p.qp))
	sinB, cosB := math.Sincos(beta)
	sinDL, cosDL := math.Sincos(lon*deg - p.lon0)

	denom := 1 + p.sinB0*sinB + p.cosB0*cosB*cosDL
	if denom < 1e-12 {
		return 0, 0, fmt.Errorf("laea: (%v, %v) is antipodal to the projection centre", lon, lat)
	}
	b := p.rq * math.Sqrt(2/denom)
	x := p.x0 + b*p.d*cosB*sinDL
	y := p.y0 + b/p.d*(p.cosB0*sinB-p.sinB0*cosB*cosDL)
	return x, y, nil
}

// inverse maps easting and northing back to WGS84 degrees.
func (p *laea) inverse(x, y float64) (float64, float64, error) {
	dx, dy := x-p.x0, y-p.y0
	rho := math.Hypot(dx/p.d, p.d*dy)
	if math.IsNaN(rho) || rho > 2*p.rq {
		return 0, 0, fmt.Errorf("laea: (%v, %v) is outside the projection", x, y)
	}
	if rho < 1e-9 {
		return p.lon0 / deg, p.lat0 / deg, nil
	}
	c := 2 * math.Asin(rho/(2*p.rq))
	sinC, cosC := math.Sincos(c)
	beta := math.Asin(clampUnit(cosC*p.sinB0 + p.d*dy*sinC*p.cosB0/rho))
	lon := p.lon0 + math.Atan2(dx*sinC, p.d*rho*p.cosB0*cosC-p.d*p.d*dy*p.sinB0*sinC)

	e2, e4, e6 := p.e2, p.e2*p.e2, p.e2*p.e2*p.e2
	lat := beta +
		(e2/3+31*e4/180+517*e6/5040)*math.Sin(2*beta) +
		(23*e4/360+251*e6/3780)*math.Sin(4*beta) +
		(761*e6/45360)*math.Sin(6*beta)

	lon = math.Remainder(lon, 2*math.Pi)
	return lon / deg, lat / deg, nil
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
