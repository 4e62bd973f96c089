package topology

import (
	"math"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// DefaultMaxPaths is the number of candidate paths tried per requirement
const DefaultMaxPaths = 10

// PathFinder enumerates loopless paths over a fixed snapshot of a graph,
// weighted by edge latency
type PathFinder struct {
	weighted *simple.WeightedUndirectedGraph
	ids      map[string]int64
	names    []string
}

// NewPathFinder indexes the graph for path search. Self loops are not
// candidates for simple paths and are skipped.
func NewPathFinder(g *Graph) *PathFinder {
	pf := &PathFinder{
		weighted: simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
		ids:      make(map[string]int64, g.Len()),
		names:    make([]string, 0, g.Len()),
	}
	for _, id := range g.order {
		nid := int64(len(pf.names))
		pf.ids[id] = nid
		pf.names = append(pf.names, id)
		pf.weighted.AddNode(simple.Node(nid))
	}
	for _, a := range g.order {
		for _, b := range g.adjacency[a] {
			if pf.ids[a] >= pf.ids[b] {
				continue
			}
			link := g.edges[newEdgeKey(a, b)]
			u, v := simple.Node(pf.ids[a]), simple.Node(pf.ids[b])
			pf.weighted.SetWeightedEdge(pf.weighted.NewWeightedEdge(u, v, float64(link.Latency)))
		}
	}
	return pf
}

// ShortestPaths returns up to k simple paths from src to dst ordered by
// ascending total latency. Missing or unreachable endpoints yield no paths.
func (pf *PathFinder) ShortestPaths(src, dst string, k int) [][]string {
	if k <= 0 || src == dst {
		return nil
	}
	sid, ok := pf.ids[src]
	if !ok {
		return nil
	}
	did, ok := pf.ids[dst]
	if !ok {
		return nil
	}

	found := path.YenKShortestPaths(pf.weighted, k, math.Inf(1), pf.weighted.Node(sid), pf.weighted.Node(did))
	paths := make([][]string, 0, len(found))
	for _, nodes := range found {
		if len(nodes) < 2 {
			continue
		}
		p := make([]string, len(nodes))
		for i, n := range nodes {
			p[i] = pf.names[n.ID()]
		}
		paths = append(paths, p)
	}
	return paths
}
