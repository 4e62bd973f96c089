package topology

import (
	"github.com/global-data-controller/rankplace/internal/models"
)

// edgeKey identifies an undirected edge independent of endpoint order
type edgeKey struct {
	a, b string
}

func newEdgeKey(u, v string) edgeKey {
	if v < u {
		u, v = v, u
	}
	return edgeKey{a: u, b: v}
}

// Graph is an undirected weighted graph with insertion-ordered nodes.
// Edges carry latency and bandwidth; self loops are allowed.
type Graph struct {
	order     []string
	index     map[string]int
	adjacency map[string][]string
	edges     map[edgeKey]models.Link
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		index:     make(map[string]int),
		adjacency: make(map[string][]string),
		edges:     make(map[edgeKey]models.Link),
	}
}

// AddNode adds a node; adding an existing node is a no-op
func (g *Graph) AddNode(id string) {
	if _, exists := g.index[id]; exists {
		return
	}
	g.index[id] = len(g.order)
	g.order = append(g.order, id)
}

// HasNode reports whether the node is present
func (g *Graph) HasNode(id string) bool {
	_, exists := g.index[id]
	return exists
}

// SetEdge adds or replaces the edge between u and v. Both nodes are added
// when missing.
func (g *Graph) SetEdge(u, v string, link models.Link) {
	g.AddNode(u)
	g.AddNode(v)
	key := newEdgeKey(u, v)
	if _, exists := g.edges[key]; !exists {
		g.adjacency[u] = append(g.adjacency[u], v)
		if u != v {
			g.adjacency[v] = append(g.adjacency[v], u)
		}
	}
	g.edges[key] = link
}

// Edge returns the attributes of the edge between u and v
func (g *Graph) Edge(u, v string) (models.Link, bool) {
	link, ok := g.edges[newEdgeKey(u, v)]
	return link, ok
}

// Nodes returns the node IDs in insertion order
func (g *Graph) Nodes() []string {
	nodes := make([]string, len(g.order))
	copy(nodes, g.order)
	return nodes
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.order)
}

// Neighbors returns the neighbours of a node in edge insertion order.
// A node with a self loop is its own neighbour.
func (g *Graph) Neighbors(id string) []string {
	neighbors := make([]string, len(g.adjacency[id]))
	copy(neighbors, g.adjacency[id])
	return neighbors
}

// IncidentBandwidth sums the bandwidth of the edges incident to a node,
// counting a self loop once
func (g *Graph) IncidentBandwidth(id string) int {
	total := 0
	for _, neighbor := range g.adjacency[id] {
		total += g.edges[newEdgeKey(id, neighbor)].Bandwidth
	}
	return total
}

// RemoveNode deletes a node together with every incident edge
func (g *Graph) RemoveNode(id string) bool {
	pos, exists := g.index[id]
	if !exists {
		return false
	}

	for _, neighbor := range g.adjacency[id] {
		delete(g.edges, newEdgeKey(id, neighbor))
		if neighbor == id {
			continue
		}
		g.adjacency[neighbor] = removeString(g.adjacency[neighbor], id)
	}
	delete(g.adjacency, id)

	g.order = append(g.order[:pos], g.order[pos+1:]...)
	delete(g.index, id)
	for i := pos; i < len(g.order); i++ {
		g.index[g.order[i]] = i
	}
	return true
}

// PathLatency sums the latency along a path; ok is false when a hop is not an edge
func (g *Graph) PathLatency(path []string) (latency int, ok bool) {
	for i := 0; i+1 < len(path); i++ {
		link, exists := g.Edge(path[i], path[i+1])
		if !exists {
			return 0, false
		}
		latency += link.Latency
	}
	return latency, true
}

func removeString(list []string, s string) []string {
	for i, item := range list {
		if item == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
