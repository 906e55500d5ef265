package segment

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
)

// ErrInvalidPolygon is returned when a ward polygon cannot be clipped against.
var ErrInvalidPolygon = eris.New("segment: invalid polygon")

const (
	// boundaryEps is the distance, in coordinate units, within which a point
	// counts as lying on a ring.
	boundaryEps = 1e-12
	// paramEps merges split parameters along one line segment.
	paramEps = 1e-12
)

// validatePolygon rejects polygons with short or unclosed rings or
// non-finite coordinates.
func validatePolygon(mp orb.MultiPolygon) error {
	if len(mp) == 0 {
		return eris.Wrap(ErrInvalidPolygon, "empty multipolygon")
	}
	for i, poly := range mp {
		if len(poly) == 0 {
			return eris.Wrapf(ErrInvalidPolygon, "polygon %d has no rings", i)
		}
		for j, ring := range poly {
			if len(ring) < 4 {
				return eris.Wrapf(ErrInvalidPolygon, "polygon %d ring %d has %d points", i, j, len(ring))
			}
			for _, p := range ring {
				if !finite(p) {
					return eris.Wrapf(ErrInvalidPolygon, "polygon %d ring %d has a non-finite coordinate", i, j)
				}
			}
			if ring[0] != ring[len(ring)-1] {
				return eris.Wrapf(ErrInvalidPolygon, "polygon %d ring %d is not closed", i, j)
			}
		}
	}
	return nil
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

// onBoundary reports whether p lies on any ring of mp.
func onBoundary(p orb.Point, mp orb.MultiPolygon) bool {
	for _, poly := range mp {
		for _, ring := range poly {
			for i := 1; i < len(ring); i++ {
				if planar.DistanceFromSegment(ring[i-1], ring[i], p) <= boundaryEps {
					return true
				}
			}
		}
	}
	return false
}

// covers reports whether p is in the interior or on the boundary of mp.
func covers(mp orb.MultiPolygon, p orb.Point) bool {
	return onBoundary(p, mp) || planar.MultiPolygonContains(mp, p)
}

// intersects reports whether ls shares at least one point with mp.
func intersects(ls orb.LineString, mp orb.MultiPolygon) bool {
	for _, p := range ls {
		if covers(mp, p) {
			return true
		}
	}
	for i := 1; i < len(ls); i++ {
		for _, poly := range mp {
			for _, ring := range poly {
				for j := 1; j < len(ring); j++ {
					if segmentsTouch(ls[i-1], ls[i], ring[j-1], ring[j]) {
						return true
					}
				}
			}
		}
	}
	return false
}

func cross(a, b orb.Point) float64 { return a[0]*b[1] - a[1]*b[0] }
func dot(a, b orb.Point) float64   { return a[0]*b[0] + a[1]*b[1] }
func sub(a, b orb.Point) orb.Point { return orb.Point{a[0] - b[0], a[1] - b[1]} }

// segmentsTouch reports whether segments ab and cd share a point.
func segmentsTouch(a, b, c, d orb.Point) bool {
	return len(splitParams(a, b, c, d)) > 0
}

// splitParams returns the parameters t in [0,1] along ab where cd meets it.
// Collinear overlaps yield both overlap ends.
func splitParams(a, b, c, d orb.Point) []float64 {
	r := sub(b, a)
	s := sub(d, c)
	ca := sub(c, a)
	rr := dot(r, r)
	if rr == 0 {
		return nil
	}

	denom := cross(r, s)
	scale := math.Sqrt(rr * dot(s, s))
	if math.Abs(denom) > 1e-14*scale {
		t := cross(ca, s) / denom
		u := cross(ca, r) / denom
		if t < -paramEps || t > 1+paramEps || u < -paramEps || u > 1+paramEps {
			return nil
		}
		return []float64{clamp01(t)}
	}

	// Parallel: only collinear segments can meet.
	if math.Abs(cross(ca, r)) > 1e-14*rr+boundaryEps*math.Sqrt(rr) {
		return nil
	}
	t0 := dot(ca, r) / rr
	t1 := dot(sub(d, a), r) / rr
	if t0 > t1 {
		t0, t1 = t1, t0
	}
	if t1 < -paramEps || t0 > 1+paramEps {
		return nil
	}
	return []float64{clamp01(t0), clamp01(t1)}
}

func clamp01(t float64) float64 {
	return math.Max(0, math.Min(1, t))
}

func lerp(a, b orb.Point, t float64) orb.Point {
	switch t {
	case 0:
		return a
	case 1:
		return b
	}
	return orb.Point{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t}
}

// clip intersects ls with mp. The result is nil when they are disjoint, a
// LineString or MultiLineString when they share length, and a Point or
// MultiPoint when they only touch. Boundary-lying pieces count as inside.
func clip(ls orb.LineString, mp orb.MultiPolygon) (orb.Geometry, error) {
	if err := validatePolygon(mp); err != nil {
		return nil, err
	}

	// Walk ls as a chain of pieces, each entirely inside or outside mp.
	var pts []orb.Point
	var in []bool
	for i := 1; i < len(ls); i++ {
		a, b := ls[i-1], ls[i]
		if a == b {
			continue
		}
		if len(pts) == 0 {
			pts = append(pts, a)
		}
		ts := crossings(a, b, mp)
		for k := 1; k < len(ts); k++ {
			mid := lerp(a, b, (ts[k-1]+ts[k])/2)
			pts = append(pts, lerp(a, b, ts[k]))
			in = append(in, covers(mp, mid))
		}
	}

	var parts orb.MultiLineString
	var cur orb.LineString
	flush := func() {
		if len(cur) >= 2 {
			parts = append(parts, cur)
		}
		cur = nil
	}
	for j, inside := range in {
		if !inside {
			flush()
			continue
		}
		if len(cur) == 0 {
			cur = append(cur, pts[j])
		}
		cur = append(cur, pts[j+1])
	}
	flush()

	switch len(parts) {
	case 0:
	case 1:
		return parts[0], nil
	default:
		return parts, nil
	}

	var touches orb.MultiPoint
	for j, p := range pts {
		if j > 0 && in[j-1] || j < len(in) && in[j] {
			continue
		}
		if covers(mp, p) && !containsPoint(touches, p) {
			touches = append(touches, p)
		}
	}
	if len(pts) == 0 && len(ls) > 0 && covers(mp, ls[0]) {
		touches = append(touches, ls[0])
	}

	switch len(touches) {
	case 0:
		return nil, nil
	case 1:
		return touches[0], nil
	default:
		return touches, nil
	}
}

// crossings returns the sorted, de-duplicated split parameters of ab
// against every ring edge of mp, always including 0 and 1.
func crossings(a, b orb.Point, mp orb.MultiPolygon) []float64 {
	ts := []float64{0, 1}
	for _, poly := range mp {
		for _, ring := range poly {
			for j := 1; j < len(ring); j++ {
				ts = append(ts, splitParams(a, b, ring[j-1], ring[j])...)
			}
		}
	}
	sort.Float64s(ts)

	out := ts[:1]
	for _, t := range ts[1:] {
		if t-out[len(out)-1] > paramEps {
			out = append(out, t)
		}
	}
	// Snap the tail so the piece ends exactly at b.
	out[len(out)-1] = 1
	return out
}

func containsPoint(mp orb.MultiPoint, p orb.Point) bool {
	for _, q := range mp {
		if q == p {
			return true
		}
	}
	return false
}
