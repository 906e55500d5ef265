// Package osgb converts British National Grid (EPSG:27700) coordinates to
// WGS84 longitude/latitude. It is the one reprojection the loaders need:
// ONS boundary shapefiles and postcode directories ship in BNG.
package osgb

import (
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/rotisserie/eris"
)

// Supported spatial reference identifiers.
const (
	WGS84 = "EPSG:4326"
	BNG   = "EPSG:27700"
)

// Airy 1830 ellipsoid and National Grid projection constants.
const (
	airyA  = 6377563.396
	airyB  = 6356256.909
	f0     = 0.9996012717
	lat0   = 49 * math.Pi / 180
	lon0   = -2 * math.Pi / 180
	n0     = -100000.0
	e0     = 400000.0
	wgsA   = 6378137.0
	wgsB   = 6356752.3141
	arcsec = math.Pi / (180 * 3600)
)

// OSGB36 -> WGS84 Helmert parameters (metres, ppm, arcseconds).
const (
	tx = 446.448
	ty = -125.157
	tz = 542.060
	s  = -20.4894
	rx = 0.1502
	ry = 0.2470
	rz = 0.8421
)

// ErrUnsupportedCRS is returned for any CRS other than WGS84 or BNG.
var ErrUnsupportedCRS = eris.New("osgb: unsupported CRS")

// Normalize maps common spellings ("4326", "epsg:27700", "27700") to the
// canonical EPSG identifiers. An empty string stays empty.
func Normalize(crs string) string {
	c := strings.ToUpper(strings.TrimSpace(crs))
	c = strings.TrimPrefix(c, "EPSG:")
	switch c {
	case "":
		return ""
	case "4326", "WGS84", "CRS84":
		return WGS84
	case "27700", "BNG", "OSGB36":
		return BNG
	}
	return crs
}

// Projection returns the orb projection that brings crs into WGS84, or nil
// when crs is already WGS84 (or empty).
func Projection(crs string) (orb.Projection, error) {
	switch Normalize(crs) {
	case "", WGS84:
		return nil, nil
	case BNG:
		return ToWGS84, nil
	}
	return nil, eris.Wrapf(ErrUnsupportedCRS, "%q", crs)
}

// Reproject applies the projection for crs to g in place and returns it.
func Reproject(g orb.Geometry, crs string) (orb.Geometry, error) {
	proj, err := Projection(crs)
	if err != nil {
		return nil, err
	}
	if proj == nil || g == nil {
		return g, nil
	}
	return project.Geometry(g, proj), nil
}

// ToWGS84 converts a National Grid easting/northing (X, Y) to a WGS84
// longitude/latitude point. Accuracy is a few metres, limited by the single
// Helmert transform.
func ToWGS84(p orb.Point) orb.Point {
	lat, lon := gridToOSGB36(p[0], p[1])
	x, y, z := toCartesian(lat, lon, airyA, airyB)
	x, y, z = helmert(x, y, z)
	lat, lon = fromCartesian(x, y, z, wgsA, wgsB)
	return orb.Point{lon * 180 / math.Pi, lat * 180 / math.Pi}
}

// gridToOSGB36 is the inverse transverse Mercator on the Airy ellipsoid.
// Returns radians.
func gridToOSGB36(easting, northing float64) (lat, lon float64) {
	e2 := 1 - (airyB*airyB)/(airyA*airyA)
	n := (airyA - airyB) / (airyA + airyB)
	n2, n3 := n*n, n*n*n

	lat = lat0
	m := 0.0
	for i := 0; i < 100; i++ {
		lat = (northing-n0-m)/(airyA*f0) + lat
		ma := (1 + n + 1.25*n2 + 1.25*n3) * (lat - lat0)
		mb := (3*n + 3*n2 + 21.0/8*n3) * math.Sin(lat-lat0) * math.Cos(lat+lat0)
		mc := (15.0/8*n2 + 15.0/8*n3) * math.Sin(2*(lat-lat0)) * math.Cos(2*(lat+lat0))
		md := 35.0 / 24 * n3 * math.Sin(3*(lat-lat0)) * math.Cos(3*(lat+lat0))
		m = airyB * f0 * (ma - mb + mc - md)
		if math.Abs(northing-n0-m) < 0.00001 {
			break
		}
	}

	sinLat := math.Sin(lat)
	nu := airyA * f0 / math.Sqrt(1-e2*sinLat*sinLat)
	rho := airyA * f0 * (1 - e2) / math.Pow(1-e2*sinLat*sinLat, 1.5)
	eta2 := nu/rho - 1

	tanLat := math.Tan(lat)
	tan2 := tanLat * tanLat
	tan4 := tan2 * tan2
	tan6 := tan4 * tan2
	secLat := 1 / math.Cos(lat)
	nu3 := nu * nu * nu
	nu5 := nu3 * nu * nu
	nu7 := nu5 * nu * nu

	vii := tanLat / (2 * rho * nu)
	viii := tanLat / (24 * rho * nu3) * (5 + 3*tan2 + eta2 - 9*tan2*eta2)
	ix := tanLat / (720 * rho * nu5) * (61 + 90*tan2 + 45*tan4)
	x := secLat / nu
	xi := secLat / (6 * nu3) * (nu/rho + 2*tan2)
	xii := secLat / (120 * nu5) * (5 + 28*tan2 + 24*tan4)
	xiia := secLat / (5040 * nu7) * (61 + 662*tan2 + 1320*tan4 + 720*tan6)

	de := easting - e0
	de2 := de * de
	de3 := de2 * de
	de4 := de2 * de2
	de5 := de4 * de
	de6 := de3 * de3
	de7 := de6 * de

	lat = lat - vii*de2 + viii*de4 - ix*de6
	lon = lon0 + x*de - xi*de3 + xii*de5 - xiia*de7
	return lat, lon
}

func toCartesian(lat, lon, a, b float64) (x, y, z float64) {
	e2 := 1 - (b*b)/(a*a)
	sinLat := math.Sin(lat)
	nu := a / math.Sqrt(1-e2*sinLat*sinLat)
	x = nu * math.Cos(lat) * math.Cos(lon)
	y = nu * math.Cos(lat) * math.Sin(lon)
	z = (1 - e2) * nu * sinLat
	return x, y, z
}

func helmert(x, y, z float64) (float64, float64, float64) {
	s1 := s*1e-6 + 1
	rxr, ryr, rzr := rx*arcsec, ry*arcsec, rz*arcsec
	x2 := tx + x*s1 - y*rzr + z*ryr
	y2 := ty + x*rzr + y*s1 - z*rxr
	z2 := tz - x*ryr + y*rxr + z*s1
	return x2, y2, z2
}

func fromCartesian(x, y, z, a, b float64) (lat, lon float64) {
	e2 := 1 - (b*b)/(a*a)
	p := math.Sqrt(x*x + y*y)
	lat = math.Atan2(z, p*(1-e2))
	for i := 0; i < 10; i++ {
		sinLat := math.Sin(lat)
		nu := a / math.Sqrt(1-e2*sinLat*sinLat)
		next := math.Atan2(z+e2*nu*sinLat, p)
		if math.Abs(next-lat) < 1e-12 {
			lat = next
			break
		}
		lat = next
	}
	lon = math.Atan2(y, x)
	return lat, lon
}
