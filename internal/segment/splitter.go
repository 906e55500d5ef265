// Package segment splits road edges at ward boundaries and assigns every
// resulting piece to the ward it lies in.
package segment

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"

	"github.com/sells-group/wardseg/internal/boundary"
	"github.com/sells-group/wardseg/internal/network"
	"github.com/sells-group/wardseg/internal/spatial"
)

// ZeroMatchPolicy decides what happens to an edge outside every ward.
type ZeroMatchPolicy string

const (
	// Drop emits nothing for unmatched edges.
	Drop ZeroMatchPolicy = "drop"
	// Keep emits unmatched edges whole, with no ward.
	Keep ZeroMatchPolicy = "keep"
)

const progressEvery = 5000

// Options configures a Splitter.
type Options struct {
	Unmatched    ZeroMatchPolicy
	BufferMeters float64
}

// Feature is one output segment. Ward is nil only for edges kept under the
// Keep policy.
type Feature struct {
	ID        int
	Edge      network.Edge
	Ward      *boundary.Ward
	Postcodes []string
	Geometry  orb.LineString
}

// Stats summarises one Split run.
type Stats struct {
	Edges        int
	Matched      int
	Unmatched    int
	Split        int
	PairFailures int
	Skipped      int
	Features     int
	LengthKm     float64
}

// Splitter assigns road edges to wards.
type Splitter struct {
	wards []boundary.Ward
	index *spatial.Index
	opts  Options
	log   *zap.Logger
}

// New creates a Splitter. A nil index disables postcode enrichment. Wards
// with a zero Bound get one computed from their geometry.
func New(wards []boundary.Ward, index *spatial.Index, opts Options) *Splitter {
	if opts.Unmatched == "" {
		opts.Unmatched = Drop
	}
	ws := make([]boundary.Ward, len(wards))
	copy(ws, wards)
	for i := range ws {
		if ws[i].Bound == (orb.Bound{}) {
			ws[i].Bound = ws[i].Geometry.Bound()
		}
	}
	return &Splitter{
		wards: ws,
		index: index,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "segment.splitter")),
	}
}

// Split processes every edge of g in order and returns the features with
// ids numbered from 0.
func (s *Splitter) Split(g *network.Graph) ([]Feature, Stats) {
	var (
		stats    Stats
		features []Feature
		nextID   int
	)
	start := time.Now()

	emit := func(e network.Edge, w *boundary.Ward, geom orb.LineString) {
		f := Feature{ID: nextID, Edge: e, Ward: w, Geometry: geom}
		if s.index.Len() > 0 {
			f.Postcodes = s.index.Within(geom, s.opts.BufferMeters)
		}
		nextID++
		features = append(features, f)
		stats.LengthKm += geo.Length(geom) / 1000
	}

	for i, e := range g.Edges {
		stats.Edges++
		if (i+1)%progressEvery == 0 {
			s.log.Info("splitting edges",
				zap.Int("processed", i+1),
				zap.Int("total", len(g.Edges)),
				zap.Int("features", len(features)),
			)
		}

		line, ok := g.Line(e)
		if !ok || planar.Length(line) == 0 {
			stats.Skipped++
			s.log.Debug("skipping degenerate edge", zap.Int64("u", int64(e.U)), zap.Int64("v", int64(e.V)))
			continue
		}

		matches := s.candidates(line)
		switch len(matches) {
		case 0:
			stats.Unmatched++
			if s.opts.Unmatched == Keep {
				emit(e, nil, line)
			}
		case 1:
			stats.Matched++
			emit(e, matches[0], line)
		default:
			stats.Matched++
			stats.Split++
			for _, w := range matches {
				parts, err := clip(line, w.Geometry)
				if err != nil {
					stats.PairFailures++
					s.log.Warn("clip failed, skipping ward",
						zap.Int64("u", int64(e.U)),
						zap.Int64("v", int64(e.V)),
						zap.String("ward", w.Code),
						zap.Error(err),
					)
					continue
				}
				for _, part := range lineParts(parts) {
					emit(e, w, part)
				}
			}
		}
	}

	stats.Features = len(features)
	s.log.Info("split complete",
		zap.Int("edges", stats.Edges),
		zap.Int("features", stats.Features),
		zap.Int("unmatched", stats.Unmatched),
		zap.Int("split", stats.Split),
		zap.Int("pair_failures", stats.PairFailures),
		zap.Int("skipped", stats.Skipped),
		zap.Float64("length_km", stats.LengthKm),
		zap.Duration("elapsed", time.Since(start)),
	)
	return features, stats
}

// candidates returns the wards sharing at least one point with line, in ward
// load order.
func (s *Splitter) candidates(line orb.LineString) []*boundary.Ward {
	lb := line.Bound()
	var out []*boundary.Ward
	for i := range s.wards {
		w := &s.wards[i]
		if !lb.Intersects(w.Bound) {
			continue
		}
		if intersects(line, w.Geometry) {
			out = append(out, w)
		}
	}
	return out
}

// lineParts keeps the non-degenerate line pieces of a clip result.
func lineParts(g orb.Geometry) []orb.LineString {
	var parts []orb.LineString
	switch v := g.(type) {
	case orb.LineString:
		parts = []orb.LineString{v}
	case orb.MultiLineString:
		parts = v
	}

	out := parts[:0]
	for _, p := range parts {
		if len(p) >= 2 && planar.Length(p) > 0 {
			out = append(out, p)
		}
	}
	return out
}
