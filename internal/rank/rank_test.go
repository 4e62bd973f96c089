package rank

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/global-data-controller/rankplace/internal/models"
	"github.com/global-data-controller/rankplace/internal/topology"
)

func ring(n int) *topology.Graph {
	g := topology.NewGraph()
	for i := 0; i < n; i++ {
		g.SetEdge(fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", (i+1)%n), models.Link{Latency: 1, Bandwidth: 10})
	}
	return g
}

func complete(n int) *topology.Graph {
	g := topology.NewGraph()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			g.SetEdge(fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", j), models.Link{Latency: 1, Bandwidth: 10})
		}
	}
	return g
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func scoreMap(r *Result) map[string]float64 {
	m := make(map[string]float64, len(r.Nodes))
	for _, n := range r.Nodes {
		m[n.ID] = n.Score
	}
	return m
}

func TestRank_UniformImportanceOnRegularGraphs(t *testing.T) {
	graphs := map[string]*topology.Graph{
		"ring":     ring(5),
		"complete": complete(4),
	}

	for name, g := range graphs {
		t.Run(name, func(t *testing.T) {
			n := g.Len()
			res, err := Rank(g, filled(n, 3), filled(n, 7), DefaultOptions())
			require.NoError(t, err)
			require.Len(t, res.Nodes, n)

			for _, node := range res.Nodes {
				assert.InDelta(t, 1/float64(n), node.Score, 1e-6, node.ID)
			}
			assert.ElementsMatch(t, g.Nodes(), res.IDs())
		})
	}
}

func TestRank_ScoresSumToOne(t *testing.T) {
	g := topology.NewGraph()
	g.SetEdge("hub", "a", models.Link{Bandwidth: 50})
	g.SetEdge("hub", "b", models.Link{Bandwidth: 30})
	g.SetEdge("hub", "c", models.Link{Bandwidth: 20})
	g.SetEdge("a", "b", models.Link{Bandwidth: 5})
	g.AddNode("island")

	res, err := Rank(g, []float64{100, 10, 10, 10, 40}, []float64{100, 55, 35, 20, 0}, DefaultOptions())
	require.NoError(t, err)

	sum := 0.0
	for _, n := range res.Nodes {
		sum += n.Score
		assert.GreaterOrEqual(t, n.Score, 0.0)
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.Equal(t, "hub", res.Nodes[0].ID)

	scores := scoreMap(res)
	assert.Less(t, scores["island"], scores["a"], "zero-importance isolated node trails")
}

func TestRank_RelabelInvariance(t *testing.T) {
	type edge struct {
		u, v string
		bw   int
	}
	edges := []edge{{"x", "y", 10}, {"y", "z", 20}, {"z", "x", 5}, {"z", "w", 40}}
	totals := map[string]float64{"x": 4, "y": 9, "z": 2, "w": 7}

	build := func(order []string) (*topology.Graph, []float64, []float64) {
		g := topology.NewGraph()
		for _, id := range order {
			g.AddNode(id)
		}
		for i := len(edges) - 1; i >= 0; i-- {
			e := edges[i]
			g.SetEdge(e.u, e.v, models.Link{Bandwidth: e.bw})
		}
		ts := make([]float64, 0, len(order))
		bs := make([]float64, 0, len(order))
		for _, id := range g.Nodes() {
			ts = append(ts, totals[id])
			bs = append(bs, float64(g.IncidentBandwidth(id)))
		}
		return g, ts, bs
	}

	g1, t1, b1 := build([]string{"x", "y", "z", "w"})
	g2, t2, b2 := build([]string{"w", "z", "y", "x"})

	r1, err := Rank(g1, t1, b1, DefaultOptions())
	require.NoError(t, err)
	r2, err := Rank(g2, t2, b2, DefaultOptions())
	require.NoError(t, err)

	s1, s2 := scoreMap(r1), scoreMap(r2)
	for id, score := range s1 {
		assert.InDelta(t, score, s2[id], 1e-9, id)
	}
	assert.Equal(t, r1.IDs(), r2.IDs())
}

func TestRank_NonConvergence(t *testing.T) {
	g := topology.NewGraph()
	g.SetEdge("a", "b", models.Link{Bandwidth: 1})

	// Without teleporting the walk alternates between the two nodes forever
	opts := Options{Epsilon: 1e-9, PJump: 0, PFollow: 1, MaxIterations: 50}
	_, err := Rank(g, []float64{1, 3}, []float64{1, 1}, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonConvergence))
}

func TestRank_EdgeCases(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		res, err := Rank(topology.NewGraph(), nil, nil, DefaultOptions())
		require.NoError(t, err)
		assert.Empty(t, res.Nodes)
	})

	t.Run("all zero importance", func(t *testing.T) {
		g := topology.NewGraph()
		g.AddNode("a")
		g.AddNode("b")
		res, err := Rank(g, []float64{0, 0}, []float64{0, 0}, DefaultOptions())
		require.NoError(t, err)
		assert.InDelta(t, 0.5, res.Nodes[0].Score, 1e-9)
		assert.Equal(t, []string{"a", "b"}, res.IDs())
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := Rank(ring(3), []float64{1}, []float64{1, 1, 1}, DefaultOptions())
		assert.Error(t, err)
	})

	t.Run("invalid options", func(t *testing.T) {
		_, err := Rank(ring(3), filled(3, 1), filled(3, 1), Options{Epsilon: 0, MaxIterations: 10})
		assert.Error(t, err)
		_, err = Rank(ring(3), filled(3, 1), filled(3, 1), Options{Epsilon: 1e-4, MaxIterations: 0})
		assert.Error(t, err)
	})
}

func TestRandomWalkRank(t *testing.T) {
	big := models.NewRegion("big")
	big.Capacity.Set(models.DefaultZone, "cpu", 100)
	big.Tiers["loc"] = models.TierHot
	small := models.NewRegion("small")
	small.Capacity.Set(models.DefaultZone, "cpu", 10)
	small.Tiers["loc"] = models.TierHot
	edge := models.NewRegion("edge")
	edge.Capacity.Set(models.DefaultZone, "cpu", 10)
	edge.Tiers["loc"] = models.TierCold

	heavy := models.NewGroup("heavy")
	heavy.Demands["cpu"] = models.ResourceDemand{Quantity: 50}
	heavy.Requires = models.TierRequirement{Location: "loc", Tier: models.TierCold}
	light := models.NewGroup("light")
	light.Demands["cpu"] = models.ResourceDemand{Quantity: 1}
	light.Requires = models.TierRequirement{Location: "loc", Tier: models.TierCold}

	m, err := topology.NewModel(
		[]*models.Region{small, edge, big},
		[]*models.Group{light, heavy},
		[]models.LinkRecord{
			{A: "big", B: "small", Link: models.Link{Latency: 5, Bandwidth: 100}},
			{A: "big", B: "edge", Link: models.Link{Latency: 9, Bandwidth: 50}},
			{A: "small", B: "edge", Link: models.Link{Latency: 9, Bandwidth: 10}},
		},
		[]models.LinkRecord{{A: "heavy", B: "light", Link: models.Link{Latency: 30, Bandwidth: 20}}},
	)
	require.NoError(t, err)

	ranker := NewRanker(DefaultOptions(), zaptest.NewLogger(t))
	ranking, err := ranker.RandomWalkRank(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, "big", ranking.Regions[0].ID)
	assert.Equal(t, "heavy", ranking.Groups[0].ID)
	assert.ElementsMatch(t, []string{"big", "small", "edge"}, ranking.RegionIDs())
	assert.ElementsMatch(t, []string{"heavy", "light"}, ranking.GroupIDs())

	again, err := RandomWalkRank(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, ranking.RegionIDs(), again.RegionIDs(), "ranking is deterministic")
}
