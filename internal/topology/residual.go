package topology

import "fmt"

// Residual tracks the bandwidth left on region edges during one link
// placement attempt. It never writes back to the graph it was taken from.
type Residual struct {
	graph     *Graph
	bandwidth map[edgeKey]int
}

// NewResidual snapshots the current edge bandwidths of a graph
func NewResidual(g *Graph) *Residual {
	bandwidth := make(map[edgeKey]int, len(g.edges))
	for key, link := range g.edges {
		bandwidth[key] = link.Bandwidth
	}
	return &Residual{graph: g, bandwidth: bandwidth}
}

// Bandwidth returns the residual bandwidth of the edge between u and v
func (r *Residual) Bandwidth(u, v string) (int, bool) {
	bw, ok := r.bandwidth[newEdgeKey(u, v)]
	return bw, ok
}

// Latency returns the latency of the edge between u and v
func (r *Residual) Latency(u, v string) (int, bool) {
	link, ok := r.graph.Edge(u, v)
	return link.Latency, ok
}

// PathLatency sums the latency along a path of the underlying graph
func (r *Residual) PathLatency(path []string) (int, bool) {
	return r.graph.PathLatency(path)
}

// Consume subtracts demand from every edge of the path. The whole path is
// checked first so a failed call leaves the overlay untouched.
func (r *Residual) Consume(path []string, demand int) error {
	for i := 0; i+1 < len(path); i++ {
		bw, ok := r.Bandwidth(path[i], path[i+1])
		if !ok {
			return fmt.Errorf("no edge between %s and %s", path[i], path[i+1])
		}
		if bw < demand {
			return fmt.Errorf("edge %s-%s has %d bandwidth left, need %d", path[i], path[i+1], bw, demand)
		}
	}
	for i := 0; i+1 < len(path); i++ {
		r.bandwidth[newEdgeKey(path[i], path[i+1])] -= demand
	}
	return nil
}
