package boundary

import (
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/wardseg/internal/osgb"
)

// toMultiPolygon normalises a feature geometry to a WGS84 MultiPolygon.
// Non-areal geometries yield an empty result.
func toMultiPolygon(g orb.Geometry, crs string) (orb.MultiPolygon, error) {
	var mp orb.MultiPolygon
	switch v := g.(type) {
	case orb.Polygon:
		mp = orb.MultiPolygon{v}
	case orb.MultiPolygon:
		mp = v
	case orb.Collection:
		for _, sub := range v {
			part, err := toMultiPolygon(sub, "")
			if err != nil {
				return nil, err
			}
			mp = append(mp, part...)
		}
	default:
		return nil, nil
	}

	out, err := osgb.Reproject(mp, crs)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: reproject")
	}
	return out.(orb.MultiPolygon), nil
}

// shapeToMultiPolygon converts a shapefile polygon into polygons, starting a
// new polygon at each clockwise (outer) ring and attaching counter-clockwise
// rings to the current one as holes.
func shapeToMultiPolygon(shape shp.Shape) orb.MultiPolygon {
	var parts []int32
	var points []shp.Point
	switch s := shape.(type) {
	case *shp.Polygon:
		parts, points = s.Parts, s.Points
	case *shp.PolygonZ:
		parts, points = s.Parts, s.Points
	case *shp.PolygonM:
		parts, points = s.Parts, s.Points
	default:
		return nil
	}

	var mp orb.MultiPolygon
	for i := range parts {
		start := parts[i]
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || end-start < 4 {
			continue
		}

		ring := make(orb.Ring, 0, end-start)
		for _, p := range points[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}

		if ring.Orientation() == orb.CW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		last := len(mp) - 1
		mp[last] = append(mp[last], ring)
	}
	return mp
}
