package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/osm"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wardseg/internal/config"
	"github.com/sells-group/wardseg/internal/network"
)

type fakeSource struct {
	graph   *network.Graph
	err     error
	place   string
	onFetch func()
}

func (f *fakeSource) Fetch(_ context.Context, place string) (*network.Graph, error) {
	f.place = place
	if f.onFetch != nil {
		f.onFetch()
	}
	return f.graph, f.err
}

func writeWards(t *testing.T, dir string) string {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	add := func(name, code, lad string, b orb.Bound) {
		f := geojson.NewFeature(orb.Polygon{b.ToRing()})
		f.Properties["WD23NM"] = name
		f.Properties["WD23CD"] = code
		f.Properties["LAD23NM"] = lad
		f.Properties["LAD23CD"] = "E09000005"
		fc.Append(f)
	}
	add("Harlesden", "E05000001", "Brent", orb.Bound{Min: orb.Point{-0.26, 51.53}, Max: orb.Point{-0.24, 51.54}})
	add("Willesden", "E05000002", "Brent", orb.Bound{Min: orb.Point{-0.24, 51.53}, Max: orb.Point{-0.22, 51.54}})
	add("Elsewhere", "E05999999", "Camden", orb.Bound{Min: orb.Point{-0.22, 51.53}, Max: orb.Point{-0.20, 51.54}})

	data, err := fc.MarshalJSON()
	require.NoError(t, err)
	path := filepath.Join(dir, "wards.geojson")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Network: config.NetworkConfig{Place: "London Borough of Brent, United Kingdom"},
		Boundary: config.BoundaryConfig{
			Path:         writeWards(t, dir),
			DistrictName: "brent",
			Fields: config.BoundaryFields{
				WardName: "WD23NM", WardCode: "WD23CD",
				DistrictName: "LAD23NM", DistrictCode: "LAD23CD",
			},
		},
		Postcode: config.PostcodeConfig{Path: filepath.Join(dir, "missing.gpkg"), CodeField: "PCDS", DistrictField: "LAD25CD"},
		Segment:  config.SegmentConfig{BufferMeters: 30, Unmatched: "drop"},
		Output:   config.OutputConfig{Dir: filepath.Join(dir, "output")},
		PostGIS:  config.PostGISConfig{Schema: "public", Table: "ward_segments", BatchSize: 100},
	}
}

// roads crosses the Harlesden/Willesden boundary once and has one road
// outside both wards.
func roads() *network.Graph {
	return &network.Graph{
		Nodes: map[osm.NodeID]orb.Point{
			1: {-0.25, 51.535}, 2: {-0.23, 51.535},
			3: {-0.30, 51.60}, 4: {-0.31, 51.61},
		},
		Edges: []network.Edge{
			{U: 1, V: 2, WayIDs: []osm.WayID{10}, Tags: osm.Tags{{Key: "highway", Value: "primary"}, {Key: "name", Value: "Harrow Road"}}},
			{U: 3, V: 4, WayIDs: []osm.WayID{11}, Tags: osm.Tags{{Key: "highway", Value: "service"}}},
		},
	}
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{graph: roads()}

	res, err := New(cfg, src, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, cfg.Network.Place, src.place)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.Wards)
	assert.Zero(t, res.Postcodes)
	assert.Equal(t, 2, res.Edges)
	assert.Equal(t, 2, res.Stats.Features)
	assert.Equal(t, 1, res.Stats.Unmatched)
	assert.Equal(t, filepath.Join(cfg.Output.Dir, "brent_segments.geojson"), res.OutputPath)

	var names []string
	for _, ph := range res.Phases {
		names = append(names, ph.Name)
	}
	assert.Equal(t, []string{"boundaries", "postcodes", "network", "split", "write"}, names)

	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "Harlesden", fc.Features[0].Properties["ward"])
	assert.Equal(t, "Willesden", fc.Features[1].Properties["ward"])
	assert.NotContains(t, fc.Features[0].Properties, "postcodes")
}

func TestRun_PostGIS(t *testing.T) {
	cfg := testConfig(t)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "public"."ward_segments"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"public", "ward_segments"}, []string{
		"segment_id", "run_id", "osm_ids", "name", "highway",
		"ward", "ward_code", "lad", "lad_code", "postcodes", "geom",
	}).WillReturnResult(2)

	res, err := New(cfg, &fakeSource{graph: roads()}, mock).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsLoaded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_SourceError(t *testing.T) {
	cfg := testConfig(t)

	_, err := New(cfg, &fakeSource{err: errors.New("overpass down")}, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overpass down")

	_, statErr := os.Stat(cfg.OutputPath())
	assert.True(t, os.IsNotExist(statErr), "no output on failure")
}

func TestRun_CancelledBeforeSplitStopsTheRun(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := New(cfg, &fakeSource{graph: roads(), onFetch: cancel}, nil).Run(ctx)
	require.Error(t, err)
	assert.True(t, eris.Is(err, context.Canceled))
	assert.Contains(t, err.Error(), "pipeline: split")

	_, statErr := os.Stat(cfg.OutputPath())
	assert.True(t, os.IsNotExist(statErr), "nothing is written after a failed split")
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Segment.BufferMeters = -1

	_, err := New(cfg, &fakeSource{graph: roads()}, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, eris.Is(err, config.ErrInvalid))
}

func TestLoadWards_DistrictCode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Boundary.DistrictName = ""
	cfg.Boundary.DistrictCode = "E09000005"

	wards, err := New(cfg, nil, nil).LoadWards(context.Background())
	require.NoError(t, err)
	assert.Len(t, wards, 3, "Elsewhere carries the Brent code too")
}

func TestPostcodeOptions_FallsBackToWardDistrictCode(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, nil, nil)

	wards, err := p.LoadWards(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "E09000005", p.postcodeOptions(wards).DistrictCode)

	cfg.Boundary.DistrictCode = "E09000001"
	assert.Equal(t, "E09000001", p.postcodeOptions(wards).DistrictCode)
}
