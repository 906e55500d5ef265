package osgb

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridToOSGB36_OrdnanceSurveyWorkedExample(t *testing.T) {
	// Worked example from the OS "guide to coordinate systems in Great Britain".
	lat, lon := gridToOSGB36(651409.903, 313177.270)

	assert.InDelta(t, 52+39.0/60+27.2531/3600, lat*180/math.Pi, 1e-6)
	assert.InDelta(t, 1+43.0/60+4.5177/3600, lon*180/math.Pi, 1e-6)
}

func TestToWGS84_DatumShiftIsSmall(t *testing.T) {
	lat, lon := gridToOSGB36(651409.903, 313177.270)
	p := ToWGS84(orb.Point{651409.903, 313177.270})

	// The OSGB36 -> WGS84 shift is around 100m in England.
	assert.InDelta(t, lat*180/math.Pi, p.Lat(), 0.003)
	assert.InDelta(t, lon*180/math.Pi, p.Lon(), 0.003)
	assert.NotEqual(t, lon*180/math.Pi, p.Lon())
}

func TestToWGS84_London(t *testing.T) {
	// Roughly central Brent.
	p := ToWGS84(orb.Point{520000, 185000})
	assert.InDelta(t, 51.55, p.Lat(), 0.02)
	assert.InDelta(t, -0.27, p.Lon(), 0.02)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, WGS84, Normalize("4326"))
	assert.Equal(t, WGS84, Normalize("epsg:4326"))
	assert.Equal(t, BNG, Normalize("EPSG:27700"))
	assert.Equal(t, BNG, Normalize(" 27700 "))
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "EPSG:3857", Normalize("EPSG:3857"))
}

func TestProjection(t *testing.T) {
	proj, err := Projection("")
	require.NoError(t, err)
	assert.Nil(t, proj)

	proj, err = Projection(WGS84)
	require.NoError(t, err)
	assert.Nil(t, proj)

	proj, err = Projection("27700")
	require.NoError(t, err)
	assert.NotNil(t, proj)

	_, err = Projection("EPSG:3857")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported CRS")
}

func TestReproject_Polygon(t *testing.T) {
	poly := orb.Polygon{{{520000, 185000}, {521000, 185000}, {521000, 186000}, {520000, 185000}}}

	g, err := Reproject(poly, BNG)
	require.NoError(t, err)

	out := g.(orb.Polygon)
	for _, p := range out[0] {
		assert.Less(t, math.Abs(p.Lon()), 1.0)
		assert.Greater(t, p.Lat(), 51.0)
	}
}

func TestReproject_WGS84IsIdentity(t *testing.T) {
	ls := orb.LineString{{-0.27, 51.55}, {-0.26, 51.56}}
	g, err := Reproject(ls, WGS84)
	require.NoError(t, err)
	assert.Equal(t, ls, g)
}
