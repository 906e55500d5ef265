// Package network fetches a place's road network from OpenStreetMap and
// turns it into a graph whose edges run between intersections.
package network

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// Graph is a road network: node coordinates plus an ordered edge list.
type Graph struct {
	Nodes map[osm.NodeID]orb.Point
	Edges []Edge
}

// Edge is a road piece between two graph nodes. Geometry is nil when the
// piece is a straight line between U and V.
type Edge struct {
	U, V     osm.NodeID
	Geometry orb.LineString
	WayIDs   []osm.WayID
	Tags     osm.Tags
}

// Name returns the road name tag.
func (e Edge) Name() string { return e.Tags.Find("name") }

// Highway returns the road classification tag.
func (e Edge) Highway() string { return e.Tags.Find("highway") }

// Line resolves the edge geometry, synthesising a straight line from the
// endpoint coordinates when the edge has none. ok is false if an endpoint has
// no coordinate.
func (g *Graph) Line(e Edge) (orb.LineString, bool) {
	if len(e.Geometry) >= 2 {
		return e.Geometry, true
	}
	u, okU := g.Nodes[e.U]
	v, okV := g.Nodes[e.V]
	if !okU || !okV {
		return nil, false
	}
	return orb.LineString{u, v}, true
}

// Way is one OSM way as the graph builder sees it.
type Way struct {
	ID    osm.WayID
	Nodes []osm.NodeID
	Tags  osm.Tags
}

// BuildOptions controls graph construction.
type BuildOptions struct {
	// MergeWays joins pieces of different ways meeting end to end at a node
	// no other road touches, when their name, highway and oneway tags agree.
	MergeWays bool
}

// piece is an edge under construction, carried as a node id sequence.
type piece struct {
	nodes  []osm.NodeID
	wayIDs []osm.WayID
	tags   osm.Tags
	alive  bool
}

// Build splits ways at intersections and returns the resulting graph. Ways
// are processed in id order so edge order is deterministic.
func Build(nodes map[osm.NodeID]orb.Point, ways []Way, opts BuildOptions) *Graph {
	sorted := append([]Way(nil), ways...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	// Count way references per node and flag repeats within one way.
	uses := make(map[osm.NodeID]int)
	split := make(map[osm.NodeID]bool)
	for _, w := range sorted {
		if len(w.Nodes) < 2 {
			continue
		}
		seen := make(map[osm.NodeID]bool, len(w.Nodes))
		for _, n := range w.Nodes {
			if seen[n] {
				split[n] = true
				continue
			}
			seen[n] = true
			uses[n]++
		}
		split[w.Nodes[0]] = true
		split[w.Nodes[len(w.Nodes)-1]] = true
	}
	for n, c := range uses {
		if c > 1 {
			split[n] = true
		}
	}

	var pieces []*piece
	for _, w := range sorted {
		if len(w.Nodes) < 2 {
			continue
		}
		start := 0
		for i := 1; i < len(w.Nodes); i++ {
			if !split[w.Nodes[i]] && i != len(w.Nodes)-1 {
				continue
			}
			seq := append([]osm.NodeID(nil), w.Nodes[start:i+1]...)
			pieces = append(pieces, &piece{nodes: seq, wayIDs: []osm.WayID{w.ID}, tags: w.Tags, alive: true})
			start = i
		}
	}

	if opts.MergeWays {
		mergePieces(pieces)
	}

	g := &Graph{Nodes: nodes}
	for _, p := range pieces {
		if !p.alive {
			continue
		}
		e := Edge{
			U:      p.nodes[0],
			V:      p.nodes[len(p.nodes)-1],
			WayIDs: p.wayIDs,
			Tags:   p.tags,
		}
		if len(p.nodes) > 2 {
			e.Geometry = make(orb.LineString, 0, len(p.nodes))
			for _, n := range p.nodes {
				e.Geometry = append(e.Geometry, nodes[n])
			}
		}
		g.Edges = append(g.Edges, e)
	}
	return g
}

// mergePieces joins pairs of pieces from different ways that are the only
// two pieces touching a node. The merged piece keeps the first piece's slot.
func mergePieces(pieces []*piece) {
	ends := make(map[osm.NodeID][]*piece)
	for _, p := range pieces {
		ends[p.nodes[0]] = append(ends[p.nodes[0]], p)
		ends[p.nodes[len(p.nodes)-1]] = append(ends[p.nodes[len(p.nodes)-1]], p)
	}

	ids := make([]osm.NodeID, 0, len(ends))
	for n := range ends {
		ids = append(ids, n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, n := range ids {
		at := ends[n]
		if len(at) != 2 || at[0] == at[1] || !at[0].alive || !at[1].alive {
			continue
		}
		a, b := at[0], at[1]
		if !mergeable(a.tags, b.tags) {
			continue
		}
		if a.nodes[0] == a.nodes[len(a.nodes)-1] || b.nodes[0] == b.nodes[len(b.nodes)-1] {
			continue
		}

		// Orient a to end at n and b to start at n. One-way pieces keep
		// their digitised direction, so they merge only head to tail.
		flipA := a.nodes[len(a.nodes)-1] != n
		flipB := b.nodes[0] != n
		if flipA && flipB {
			a, b = b, a
			flipA, flipB = false, false
		}
		if (flipA || flipB) && isOneway(a.tags) {
			continue
		}
		if flipA {
			reverse(a.nodes)
		}
		if flipB {
			reverse(b.nodes)
		}

		far := b.nodes[len(b.nodes)-1]
		a.nodes = append(a.nodes, b.nodes[1:]...)
		a.wayIDs = appendUnique(a.wayIDs, b.wayIDs...)
		b.alive = false

		delete(ends, n)
		for i, p := range ends[far] {
			if p == b {
				ends[far][i] = a
			}
		}
	}
}

func mergeable(a, b osm.Tags) bool {
	for _, k := range []string{"highway", "name", "oneway"} {
		if a.Find(k) != b.Find(k) {
			return false
		}
	}
	return true
}

func isOneway(t osm.Tags) bool {
	switch t.Find("oneway") {
	case "yes", "true", "1", "-1":
		return true
	}
	return false
}

func reverse(ns []osm.NodeID) {
	for i, j := 0, len(ns)-1; i < j; i, j = i+1, j-1 {
		ns[i], ns[j] = ns[j], ns[i]
	}
}

func appendUnique(ids []osm.WayID, more ...osm.WayID) []osm.WayID {
	for _, m := range more {
		found := false
		for _, id := range ids {
			if id == m {
				found = true
				break
			}
		}
		if !found {
			ids = append(ids, m)
		}
	}
	return ids
}
