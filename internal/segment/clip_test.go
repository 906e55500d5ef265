package segment

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, x1, y1 float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}}
}

func TestClip_Inside(t *testing.T) {
	line := orb.LineString{{0.2, 0.2}, {0.5, 0.8}, {0.8, 0.3}}
	got, err := clip(line, square(0, 0, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, line, got)
}

func TestClip_Disjoint(t *testing.T) {
	got, err := clip(orb.LineString{{2, 2}, {3, 3}}, square(0, 0, 1, 1))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClip_Crossing(t *testing.T) {
	got, err := clip(orb.LineString{{-1, 0.5}, {0.5, 0.5}}, square(0, 0, 1, 1))
	require.NoError(t, err)

	ls, ok := got.(orb.LineString)
	require.True(t, ok, "got %T", got)
	require.Len(t, ls, 2)
	assert.InDelta(t, 0, ls[0][0], 1e-12)
	assert.Equal(t, orb.Point{0.5, 0.5}, ls[1])
}

func TestClip_ThroughHole(t *testing.T) {
	donut := orb.MultiPolygon{{
		{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}},
		{{1, 1}, {1, 3}, {3, 3}, {3, 1}, {1, 1}},
	}}
	got, err := clip(orb.LineString{{-1, 2}, {5, 2}}, donut)
	require.NoError(t, err)

	mls, ok := got.(orb.MultiLineString)
	require.True(t, ok, "got %T", got)
	require.Len(t, mls, 2)
	assert.InDelta(t, 1, planar.Length(mls[0]), 1e-9)
	assert.InDelta(t, 1, planar.Length(mls[1]), 1e-9)
}

func TestClip_KeepsVerticesAcrossJoin(t *testing.T) {
	// Leaves and re-enters, then bends inside.
	line := orb.LineString{{0.5, 0.5}, {1.5, 0.5}, {1.5, 0.8}, {0.5, 0.8}, {0.5, 0.9}}
	got, err := clip(line, square(0, 0, 1, 1))
	require.NoError(t, err)

	mls, ok := got.(orb.MultiLineString)
	require.True(t, ok, "got %T", got)
	require.Len(t, mls, 2)
	assert.Len(t, mls[1], 3, "second part keeps the interior bend")
	assert.Equal(t, orb.Point{0.5, 0.9}, mls[1][2])
}

func TestClip_TouchPoint(t *testing.T) {
	got, err := clip(orb.LineString{{0.2, 0.5}, {1, 0.5}}, square(1, 0, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, orb.Point{1, 0.5}, got)
}

func TestClip_TwoTouches(t *testing.T) {
	// A V-shaped line touching the square's bottom edge at two vertices.
	line := orb.LineString{{0, -1}, {0.25, 0}, {0.5, -1}, {0.75, 0}, {1, -1}}
	got, err := clip(line, square(0, 0, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, orb.MultiPoint{{0.25, 0}, {0.75, 0}}, got)
}

func TestClip_BoundaryOverlapCountsInside(t *testing.T) {
	got, err := clip(orb.LineString{{0.2, 0}, {0.8, 0}}, square(0, 0, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, orb.LineString{{0.2, 0}, {0.8, 0}}, got)
}

func TestClip_InvalidPolygon(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 1}}
	cases := map[string]orb.MultiPolygon{
		"empty":    {},
		"short":    {{{{0, 0}, {1, 0}, {0, 0}}}},
		"unclosed": {{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}},
		"nan":      {{{{0, 0}, {math.NaN(), 0}, {1, 1}, {0, 1}, {0, 0}}}},
		"inf":      {{{{0, 0}, {math.Inf(1), 0}, {1, 1}, {0, 1}, {0, 0}}}},
	}
	for name, mp := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := clip(line, mp)
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalidPolygon))
		})
	}
}

func TestIntersects(t *testing.T) {
	sq := square(0, 0, 1, 1)
	assert.True(t, intersects(orb.LineString{{0.5, 0.5}, {0.6, 0.6}}, sq), "inside")
	assert.True(t, intersects(orb.LineString{{-1, 0.5}, {2, 0.5}}, sq), "crosses without a vertex inside")
	assert.True(t, intersects(orb.LineString{{1, 0.5}, {2, 0.5}}, sq), "touches boundary")
	assert.True(t, intersects(orb.LineString{{-1, 1}, {1, -1}}, sq), "passes through a corner")
	assert.False(t, intersects(orb.LineString{{2, 2}, {3, 3}}, sq))
	assert.False(t, intersects(orb.LineString{{-1, 2}, {2, 1.5}}, sq))
}

func TestSplitParams_Collinear(t *testing.T) {
	ts := splitParams(orb.Point{0, 0}, orb.Point{4, 0}, orb.Point{1, 0}, orb.Point{3, 0})
	assert.Equal(t, []float64{0.25, 0.75}, ts)

	assert.Nil(t, splitParams(orb.Point{0, 0}, orb.Point{4, 0}, orb.Point{0, 1}, orb.Point{4, 1}))
	assert.Nil(t, splitParams(orb.Point{0, 0}, orb.Point{4, 0}, orb.Point{5, 0}, orb.Point{6, 0}))
}
