// Package rank orders the nodes of a region or group graph by structural
// importance. Importance combines a node's own weight (total capacity or
// demand times incident bandwidth) with the importance of its neighbours,
// through the stationary vector of a teleporting random walk.
package rank

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/global-data-controller/rankplace/internal/models"
	"github.com/global-data-controller/rankplace/internal/telemetry"
	"github.com/global-data-controller/rankplace/internal/topology"
)

// ErrNonConvergence is returned when the power iteration does not settle
// within the iteration ceiling
var ErrNonConvergence = errors.New("ranking did not converge")

// Options tunes the power iteration
type Options struct {
	Epsilon       float64
	PJump         float64
	PFollow       float64
	MaxIterations int
}

// DefaultOptions returns the standard parameters
func DefaultOptions() Options {
	return Options{
		Epsilon:       1e-4,
		PJump:         0.15,
		PFollow:       0.85,
		MaxIterations: 10000,
	}
}

func (o Options) validate() error {
	if o.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %g", o.Epsilon)
	}
	if o.PJump < 0 || o.PFollow < 0 {
		return fmt.Errorf("jump and follow probabilities must be non-negative")
	}
	if o.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive, got %d", o.MaxIterations)
	}
	return nil
}

// Result is the outcome of one ranking run
type Result struct {
	Nodes      []models.RankedNode
	Iterations int
}

// IDs returns the ranked node IDs, most important first
func (r *Result) IDs() []string {
	ids := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Rank scores the nodes of g. totals and bandwidth are indexed like
// g.Nodes(). Nodes are returned by descending score; equal scores keep the
// graph's node order.
func Rank(g *topology.Graph, totals, bandwidth []float64, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	nodes := g.Nodes()
	n := len(nodes)
	if len(totals) != n || len(bandwidth) != n {
		return nil, fmt.Errorf("got %d totals and %d bandwidths for %d nodes", len(totals), len(bandwidth), n)
	}
	if n == 0 {
		return &Result{}, nil
	}

	index := make(map[string]int, n)
	for i, id := range nodes {
		index[id] = i
	}

	h := make([]float64, n)
	sum := 0.0
	for i := range nodes {
		h[i] = totals[i] * bandwidth[i]
		sum += h[i]
	}

	teleport := make([]float64, n)
	for i := range teleport {
		if sum > 0 {
			teleport[i] = h[i] / sum
		} else {
			teleport[i] = 1 / float64(n)
		}
	}

	// T[u][v] = pJump*teleport[v] + pFollow*follow[u][v]
	transition := mat.NewDense(n, n, nil)
	for u, id := range nodes {
		neighbors := g.Neighbors(id)
		neighborSum := 0.0
		for _, w := range neighbors {
			neighborSum += h[index[w]]
		}
		for v := 0; v < n; v++ {
			transition.Set(u, v, opts.PJump*teleport[v])
		}
		if neighborSum == 0 {
			// dangling: follow mass goes through the teleport vector
			for v := 0; v < n; v++ {
				transition.Set(u, v, transition.At(u, v)+opts.PFollow*teleport[v])
			}
			continue
		}
		for _, w := range neighbors {
			v := index[w]
			transition.Set(u, v, transition.At(u, v)+opts.PFollow*h[v]/neighborSum)
		}
	}

	scores := mat.NewVecDense(n, append([]float64(nil), teleport...))
	next := mat.NewVecDense(n, nil)
	delta := mat.NewVecDense(n, nil)

	iterations := 0
	for {
		if iterations >= opts.MaxIterations {
			return nil, fmt.Errorf("%w after %d iterations", ErrNonConvergence, iterations)
		}
		iterations++

		next.MulVec(transition.T(), scores)
		delta.SubVec(next, scores)
		scores.CopyVec(next)
		if delta.Norm(2) < opts.Epsilon {
			break
		}
	}

	ranked := make([]models.RankedNode, n)
	for i, id := range nodes {
		ranked[i] = models.RankedNode{ID: id, Score: scores.AtVec(i)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	return &Result{Nodes: ranked, Iterations: iterations}, nil
}

// Ranker computes the region and group orders of a topology model
type Ranker struct {
	opts   Options
	logger *zap.Logger
}

// NewRanker creates a ranker; a nil logger disables logging
func NewRanker(opts Options, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{opts: opts, logger: logger}
}

// RandomWalkRank ranks regions by total capacity and network bandwidth, and
// groups by total demand and communication bandwidth
func (r *Ranker) RandomWalkRank(ctx context.Context, m *topology.Model) (*models.Ranking, error) {
	ctx, span := telemetry.StartSpan(ctx, "rank")
	defer span.End()

	regions := m.Regions()
	regionTotals := make([]float64, len(regions))
	regionBandwidth := make([]float64, len(regions))
	for i, id := range regions {
		regionTotals[i] = float64(m.RegionTotalResource(id))
		regionBandwidth[i] = float64(m.RegionIncidentBandwidth(id))
	}

	groups := m.Groups()
	groupTotals := make([]float64, len(groups))
	groupBandwidth := make([]float64, len(groups))
	for i, id := range groups {
		groupTotals[i] = float64(m.GroupTotalResource(id))
		groupBandwidth[i] = float64(m.GroupIncidentBandwidth(id))
	}

	rankedRegions, err := Rank(m.RegionGraph, regionTotals, regionBandwidth, r.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to rank regions: %w", err)
	}
	rankedGroups, err := Rank(m.GroupGraph, groupTotals, groupBandwidth, r.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to rank groups: %w", err)
	}

	_ = telemetry.RecordHistogram(ctx, telemetry.MetricRankIterations, float64(rankedRegions.Iterations), attribute.String("graph", "regions"))
	_ = telemetry.RecordHistogram(ctx, telemetry.MetricRankIterations, float64(rankedGroups.Iterations), attribute.String("graph", "groups"))

	r.logger.Info("Ranking computed",
		zap.Int("regions", len(rankedRegions.Nodes)),
		zap.Int("groups", len(rankedGroups.Nodes)),
		zap.Int("region_iterations", rankedRegions.Iterations),
		zap.Int("group_iterations", rankedGroups.Iterations))

	return &models.Ranking{Regions: rankedRegions.Nodes, Groups: rankedGroups.Nodes}, nil
}

// RandomWalkRank ranks a model with default options
func RandomWalkRank(ctx context.Context, m *topology.Model) (*models.Ranking, error) {
	return NewRanker(DefaultOptions(), nil).RandomWalkRank(ctx, m)
}
