// Package spatial indexes postcode centroids for buffered proximity lookups
// against road geometries.
package spatial

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"

	"github.com/sells-group/wardseg/internal/postcode"
)

// metersPerDegree is the length of one degree of latitude on orb's sphere.
const metersPerDegree = orb.EarthRadius * math.Pi / 180

// onLineTolerance absorbs rounding when a point lies exactly on a line and
// the buffer is zero.
const onLineTolerance = 1e-6

type entry struct {
	code string
	pt   orb.Point
}

func (e *entry) Point() orb.Point { return e.pt }

// Index is an immutable quadtree over postcode points. The zero value and a
// nil *Index are valid and match nothing.
type Index struct {
	tree *quadtree.Quadtree
	size int
}

// NewIndex builds an index over points. Duplicates are kept; lookups
// de-duplicate codes.
func NewIndex(points []postcode.Point) *Index {
	if len(points) == 0 {
		return &Index{}
	}

	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = p.Location
	}
	tree := quadtree.New(mp.Bound().Pad(1e-9))

	ix := &Index{tree: tree}
	for _, p := range points {
		if err := tree.Add(&entry{code: p.Code, pt: p.Location}); err != nil {
			continue
		}
		ix.size++
	}
	return ix
}

// Len returns the number of indexed points.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return ix.size
}

// Within returns the sorted, de-duplicated codes of points within meters of
// g. Distances are measured in a flat frame centred on each candidate, so
// the result is accurate for buffers up to a few kilometres.
func (ix *Index) Within(g orb.Geometry, meters float64) []string {
	if ix.Len() == 0 || g == nil {
		return nil
	}
	if meters < 0 {
		meters = 0
	}

	bound := geo.BoundPad(g.Bound(), meters)
	candidates := ix.tree.InBound(nil, bound)

	seen := make(map[string]bool)
	var codes []string
	for _, c := range candidates {
		e := c.(*entry)
		if seen[e.code] {
			continue
		}
		if DistanceMeters(e.pt, g) <= meters+onLineTolerance {
			seen[e.code] = true
			codes = append(codes, e.code)
		}
	}
	sort.Strings(codes)
	return codes
}

// DistanceMeters returns the approximate shortest distance in metres from p
// to g, using an equirectangular projection centred on p.
func DistanceMeters(p orb.Point, g orb.Geometry) float64 {
	cosLat := math.Cos(p.Lat() * math.Pi / 180)
	local := func(q orb.Point) orb.Point {
		return orb.Point{
			(q.Lon() - p.Lon()) * cosLat * metersPerDegree,
			(q.Lat() - p.Lat()) * metersPerDegree,
		}
	}
	origin := orb.Point{0, 0}

	lineDist := func(ls orb.LineString) float64 {
		if len(ls) == 1 {
			return planar.Distance(origin, local(ls[0]))
		}
		best := math.Inf(1)
		for i := 1; i < len(ls); i++ {
			d := planar.DistanceFromSegment(local(ls[i-1]), local(ls[i]), origin)
			if d < best {
				best = d
			}
		}
		return best
	}

	switch v := g.(type) {
	case orb.Point:
		return planar.Distance(origin, local(v))
	case orb.MultiPoint:
		best := math.Inf(1)
		for _, q := range v {
			best = math.Min(best, planar.Distance(origin, local(q)))
		}
		return best
	case orb.LineString:
		return lineDist(v)
	case orb.MultiLineString:
		best := math.Inf(1)
		for _, ls := range v {
			best = math.Min(best, lineDist(ls))
		}
		return best
	}
	return math.Inf(1)
}
