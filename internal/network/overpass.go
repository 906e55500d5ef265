package network

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/rotisserie/eris"
	"github.com/serjvanilla/go-overpass"
	"go.uber.org/zap"
)

// roadFilter selects every highway way except areas, private roads, and ways
// that are not (or no longer) roads.
const roadFilter = `["highway"]["area"!~"yes"]["access"!~"private"]` +
	`["highway"!~"abandoned|construction|no|planned|platform|proposed|raceway|razed"]`

// nameKeys are the tags an administrative boundary's name is matched against.
const nameKeys = `^(name|name:en|official_name|short_name|alt_name|int_name)$`

// ErrNoRoads is returned when the place resolves to no road ways, usually
// because no administrative area matched its name.
var ErrNoRoads = eris.New("network: no roads found")

// Querier runs a raw Overpass QL query. *overpass.Client satisfies it.
type Querier interface {
	Query(query string) (overpass.Result, error)
}

// OverpassSource fetches road graphs from an Overpass API endpoint.
type OverpassSource struct {
	client  Querier
	timeout time.Duration
	retry   RetryConfig
	build   BuildOptions
}

// OverpassConfig configures NewOverpassSource.
type OverpassConfig struct {
	Endpoint  string
	Timeout   time.Duration
	Retry     RetryConfig
	MergeWays bool
}

// NewOverpassSource creates a source backed by the given endpoint.
func NewOverpassSource(cfg OverpassConfig) *OverpassSource {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	client := overpass.NewWithSettings(cfg.Endpoint, 1, httpClient)
	return NewOverpassSourceWithClient(&client, cfg)
}

// NewOverpassSourceWithClient creates a source around an existing querier.
func NewOverpassSourceWithClient(q Querier, cfg OverpassConfig) *OverpassSource {
	return &OverpassSource{
		client:  q,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		build:   BuildOptions{MergeWays: cfg.MergeWays},
	}
}

// Fetch retrieves every road in the named place and builds its graph.
func (s *OverpassSource) Fetch(ctx context.Context, place string) (*Graph, error) {
	log := zap.L().With(zap.String("component", "network.overpass"), zap.String("place", place))

	query, err := BuildQuery(place, s.timeout)
	if err != nil {
		return nil, err
	}

	retry := s.retry
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, err error) {
			log.Warn("retrying overpass query", zap.Int("attempt", attempt), zap.Error(err))
		}
	}

	log.Info("downloading road network")
	start := time.Now()
	result, err := DoVal(ctx, retry, func(context.Context) (overpass.Result, error) {
		return s.client.Query(query)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "network: overpass query for %q", place)
	}

	g := FromResult(result, s.build)
	if len(g.Edges) == 0 {
		return nil, eris.Wrapf(ErrNoRoads, "place %q", place)
	}
	log.Info("downloaded road network",
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("ways", len(result.Ways)),
		zap.Int("edges", len(g.Edges)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return g, nil
}

// BuildQuery renders the Overpass QL for a place description such as
// "London Borough of Brent, United Kingdom". The comma-separated parts are
// resolved outermost first, each administrative area searched for inside
// the previous one, so "Newport, Wales" and "Newport, Rhode Island" select
// different areas.
func BuildQuery(place string, timeout time.Duration) (string, error) {
	parts := strings.Split(place, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if parts[i] == "" {
			return "", eris.Errorf("network: empty area name in place %q", place)
		}
	}
	secs := int(timeout.Seconds())
	if secs <= 0 {
		secs = 180
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n", secs)
	for i := len(parts) - 1; i >= 0; i-- {
		scope := ""
		if i < len(parts)-1 {
			scope = fmt.Sprintf("(area.a%d)", i+1)
		}
		set := fmt.Sprintf(".a%d", i)
		if i == 0 {
			set = ".searchArea"
		}
		fmt.Fprintf(&b, "rel%s[~\"%s\"~\"^%s$\",i][\"boundary\"=\"administrative\"];\nmap_to_area->%s;\n",
			scope, nameKeys, quoteName(parts[i]), set)
	}
	fmt.Fprintf(&b, "way%s(area.searchArea);\n(._;>;);\nout body;", roadFilter)
	return b.String(), nil
}

// quoteName escapes an area name for use as a regex inside an Overpass QL
// string literal.
func quoteName(name string) string {
	q := regexp.QuoteMeta(name)
	q = strings.ReplaceAll(q, `\`, `\\`)
	return strings.ReplaceAll(q, `"`, `\"`)
}

// FromResult converts an Overpass result into a graph. Ways that reference a
// node without coordinates are skipped.
func FromResult(result overpass.Result, opts BuildOptions) *Graph {
	nodes := make(map[osm.NodeID]orb.Point, len(result.Nodes))
	for id, n := range result.Nodes {
		if n == nil {
			continue
		}
		nodes[osm.NodeID(id)] = orb.Point{n.Lon, n.Lat}
	}

	ways := make([]Way, 0, len(result.Ways))
	var skipped int
	for id, w := range result.Ways {
		if w == nil {
			continue
		}
		way := Way{ID: osm.WayID(id), Tags: toTags(w.Tags)}
		complete := true
		for _, n := range w.Nodes {
			if n == nil {
				complete = false
				break
			}
			if _, ok := nodes[osm.NodeID(n.ID)]; !ok {
				complete = false
				break
			}
			way.Nodes = append(way.Nodes, osm.NodeID(n.ID))
		}
		if !complete || len(way.Nodes) < 2 {
			skipped++
			continue
		}
		ways = append(ways, way)
	}
	if skipped > 0 {
		zap.L().Debug("network: skipped incomplete ways", zap.Int("skipped", skipped))
	}

	return Build(nodes, ways, opts)
}

func toTags(m map[string]string) osm.Tags {
	tags := make(osm.Tags, 0, len(m))
	for k, v := range m {
		tags = append(tags, osm.Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}
