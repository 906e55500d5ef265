package spatial

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wardseg/internal/postcode"
)

// road runs east-west along latitude 51.55 in Brent.
var road = orb.LineString{{-0.30, 51.55}, {-0.28, 51.55}}

// northOf returns a point dm metres north of p.
func northOf(p orb.Point, dm float64) orb.Point {
	return orb.Point{p.Lon(), p.Lat() + dm/metersPerDegree}
}

func TestWithin_OnLineZeroBuffer(t *testing.T) {
	ix := NewIndex([]postcode.Point{
		{Code: "HA0 1AA", Location: orb.Point{-0.29, 51.55}},
	})

	assert.Equal(t, []string{"HA0 1AA"}, ix.Within(road, 0))
}

func TestWithin_FarPointExcluded(t *testing.T) {
	ix := NewIndex([]postcode.Point{
		{Code: "NW10 1AA", Location: northOf(orb.Point{-0.29, 51.55}, 1000)},
	})

	assert.Empty(t, ix.Within(road, 30))
	assert.Equal(t, []string{"NW10 1AA"}, ix.Within(road, 1010))
}

func TestWithin_BufferBoundary(t *testing.T) {
	ix := NewIndex([]postcode.Point{
		{Code: "HA9 0WS", Location: northOf(orb.Point{-0.29, 51.55}, 25)},
	})

	assert.Equal(t, []string{"HA9 0WS"}, ix.Within(road, 30))
	assert.Empty(t, ix.Within(road, 20))
}

func TestWithin_BeyondLineEnd(t *testing.T) {
	// 20 m east of the eastern end, level with it.
	end := road[len(road)-1]
	p := orb.Point{end.Lon() + 20/(metersPerDegree*0.6217), end.Lat()}
	ix := NewIndex([]postcode.Point{{Code: "HA0 2ZZ", Location: p}})

	assert.Equal(t, []string{"HA0 2ZZ"}, ix.Within(road, 30))
	assert.Empty(t, ix.Within(road, 10))
}

func TestWithin_Monotonic(t *testing.T) {
	var pts []postcode.Point
	for i, d := range []float64{0, 5, 15, 40, 120, 600, 2500} {
		pts = append(pts, postcode.Point{
			Code:     string(rune('A'+i)) + "1 1AA",
			Location: northOf(orb.Point{-0.29, 51.55}, d),
		})
	}
	ix := NewIndex(pts)
	require.Equal(t, len(pts), ix.Len())

	var prev []string
	for _, buf := range []float64{0, 10, 30, 100, 500, 1000, 5000, 10000} {
		got := ix.Within(road, buf)
		assert.Subset(t, got, prev, "buffer %v lost codes", buf)
		prev = got
	}
	assert.Len(t, prev, len(pts))
}

func TestWithin_SortedAndDeduplicated(t *testing.T) {
	ix := NewIndex([]postcode.Point{
		{Code: "HA9 9ZZ", Location: orb.Point{-0.295, 51.55}},
		{Code: "HA0 1AA", Location: orb.Point{-0.29, 51.55}},
		{Code: "HA0 1AA", Location: orb.Point{-0.285, 51.55}},
	})

	assert.Equal(t, []string{"HA0 1AA", "HA9 9ZZ"}, ix.Within(road, 5))
}

func TestWithin_EmptyIndex(t *testing.T) {
	var nilIndex *Index
	assert.Empty(t, nilIndex.Within(road, 100))
	assert.Equal(t, 0, nilIndex.Len())

	assert.Empty(t, NewIndex(nil).Within(road, 100))
	assert.Empty(t, (&Index{}).Within(road, 100))
}

func TestDistanceMeters(t *testing.T) {
	p := orb.Point{-0.29, 51.55}
	assert.InDelta(t, 0, DistanceMeters(p, road), 1e-6)
	assert.InDelta(t, 250, DistanceMeters(northOf(p, 250), road), 1e-6)
	assert.InDelta(t, 250, DistanceMeters(northOf(p, 250), orb.MultiLineString{road}), 1e-6)
	assert.InDelta(t, 250, DistanceMeters(p, northOf(p, 250)), 1e-6)
}
