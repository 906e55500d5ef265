// Package pipeline wires the loaders, the splitter and the sinks into one
// segmentation run.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wardseg/internal/boundary"
	"github.com/sells-group/wardseg/internal/config"
	"github.com/sells-group/wardseg/internal/network"
	"github.com/sells-group/wardseg/internal/output"
	"github.com/sells-group/wardseg/internal/postcode"
	"github.com/sells-group/wardseg/internal/segment"
	"github.com/sells-group/wardseg/internal/spatial"
)

// Source fetches the road graph for a place.
type Source interface {
	Fetch(ctx context.Context, place string) (*network.Graph, error)
}

// Pipeline runs one segmentation job.
type Pipeline struct {
	cfg    *config.Config
	source Source
	pool   output.Pool
}

// New creates a Pipeline. A nil pool disables the PostGIS sink.
func New(cfg *config.Config, source Source, pool output.Pool) *Pipeline {
	return &Pipeline{cfg: cfg, source: source, pool: pool}
}

// PhaseResult records how long one phase took.
type PhaseResult struct {
	Name     string
	Duration time.Duration
}

// Result summarises a completed run.
type Result struct {
	RunID      string
	Wards      int
	Postcodes  int
	Edges      int
	Stats      segment.Stats
	OutputPath string
	RowsLoaded int64
	Phases     []PhaseResult
}

// Run loads wards, postcodes and the road network, splits every edge by
// ward, and writes the result.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}

	result := &Result{RunID: uuid.NewString()}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", result.RunID))
	log.Info("pipeline: starting run", zap.String("place", p.cfg.Network.Place))

	trackPhase := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		d := time.Since(start)
		result.Phases = append(result.Phases, PhaseResult{Name: name, Duration: d})
		if err != nil {
			log.Error("pipeline: phase failed", zap.String("phase", name), zap.Int64("duration_ms", d.Milliseconds()), zap.Error(err))
			return err
		}
		log.Info("pipeline: phase complete", zap.String("phase", name), zap.Int64("duration_ms", d.Milliseconds()))
		return nil
	}

	var wards []boundary.Ward
	if err := trackPhase("boundaries", func() error {
		var err error
		wards, err = p.LoadWards(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	result.Wards = len(wards)

	var points []postcode.Point
	if err := trackPhase("postcodes", func() error {
		var err error
		points, err = postcode.Load(ctx, p.postcodeOptions(wards))
		return err
	}); err != nil {
		return nil, err
	}
	result.Postcodes = len(points)

	var graph *network.Graph
	if err := trackPhase("network", func() error {
		var err error
		graph, err = p.source.Fetch(ctx, p.cfg.Network.Place)
		if err == nil && graph == nil {
			err = eris.New("pipeline: source returned no graph")
		}
		return err
	}); err != nil {
		return nil, err
	}
	result.Edges = len(graph.Edges)

	var features []segment.Feature
	if err := trackPhase("split", func() error {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: split")
		}
		splitter := segment.New(wards, spatial.NewIndex(points), segment.Options{
			Unmatched:    segment.ZeroMatchPolicy(p.cfg.Segment.Unmatched),
			BufferMeters: p.cfg.Segment.BufferMeters,
		})
		features, result.Stats = splitter.Split(graph)
		return nil
	}); err != nil {
		return nil, err
	}

	result.OutputPath = p.cfg.OutputPath()
	if err := trackPhase("write", func() error {
		fc := output.FeatureCollection(features, output.Options{
			Color:            p.cfg.Output.Color,
			IncludePostcodes: len(points) > 0,
		})
		return output.WriteGeoJSON(result.OutputPath, fc)
	}); err != nil {
		return nil, err
	}

	if p.pool != nil {
		if err := trackPhase("postgis", func() error {
			pg := p.cfg.PostGIS
			if err := output.EnsureTable(ctx, p.pool, pg.Schema, pg.Table); err != nil {
				return err
			}
			n, err := output.LoadPostGIS(ctx, p.pool, output.PostGISOptions{
				Schema:    pg.Schema,
				Table:     pg.Table,
				BatchSize: pg.BatchSize,
				RunID:     result.RunID,
			}, features)
			result.RowsLoaded = n
			return err
		}); err != nil {
			return nil, err
		}
	}

	log.Info("pipeline: run complete",
		zap.Int("wards", result.Wards),
		zap.Int("edges", result.Edges),
		zap.Int("features", result.Stats.Features),
		zap.String("output", result.OutputPath),
	)
	return result, nil
}

// LoadWards loads the configured district's wards.
func (p *Pipeline) LoadWards(ctx context.Context) ([]boundary.Ward, error) {
	b := p.cfg.Boundary
	return boundary.Load(ctx, boundary.Options{
		Path:      b.Path,
		URL:       b.URL,
		CacheDir:  b.CacheDir,
		SourceCRS: b.SourceCRS,
		Fields: boundary.Fields{
			WardName:     b.Fields.WardName,
			WardCode:     b.Fields.WardCode,
			DistrictName: b.Fields.DistrictName,
			DistrictCode: b.Fields.DistrictCode,
		},
		Filter: boundary.Filter{DistrictName: b.DistrictName, DistrictCode: b.DistrictCode},
	})
}

// postcodeOptions takes the district code from config, falling back to the
// code carried by the loaded wards.
func (p *Pipeline) postcodeOptions(wards []boundary.Ward) postcode.Options {
	pc := p.cfg.Postcode
	code := p.cfg.Boundary.DistrictCode
	if code == "" && len(wards) > 0 {
		code = wards[0].DistrictCode
	}
	return postcode.Options{
		Path:          pc.Path,
		Table:         pc.Table,
		CodeField:     pc.CodeField,
		DistrictField: pc.DistrictField,
		DistrictCode:  code,
		SourceCRS:     pc.SourceCRS,
	}
}

// NewOverpassSource builds the network source described by cfg.
func NewOverpassSource(cfg config.NetworkConfig) *network.OverpassSource {
	return network.NewOverpassSource(network.OverpassConfig{
		Endpoint:  cfg.OverpassURL,
		Timeout:   time.Duration(cfg.TimeoutSecs) * time.Second,
		MergeWays: cfg.MergeWays,
		Retry: network.RetryConfig{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
			JitterFraction: 0.25,
		},
	})
}
