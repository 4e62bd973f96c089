package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/global-data-controller/rankplace/internal/models"
	"github.com/global-data-controller/rankplace/internal/topology"
)

type recorder struct {
	solutions []*models.Solution
	summaries []*models.RunSummary
	failAt    int
}

func (r *recorder) RecordSolution(_ context.Context, s *models.Solution) error {
	if r.failAt > 0 && s.Round == r.failAt {
		return errors.New("disk full")
	}
	r.solutions = append(r.solutions, s)
	return nil
}

func (r *recorder) RecordTermination(_ context.Context, s *models.RunSummary) error {
	r.summaries = append(r.summaries, s)
	return nil
}

func region(id string, cpu int, tier models.Tier) *models.Region {
	r := models.NewRegion(id)
	r.Capacity.Set(models.DefaultZone, "cpu", cpu)
	r.Tiers["loc"] = tier
	return r
}

func group(id string, cpu int, tier models.Tier) *models.Group {
	g := models.NewGroup(id)
	g.Demands["cpu"] = models.ResourceDemand{Quantity: cpu}
	g.Requires = models.TierRequirement{Location: "loc", Tier: tier}
	return g
}

func twoRegionModel(t *testing.T) *topology.Model {
	t.Helper()
	m, err := topology.NewModel(
		[]*models.Region{region("R1", 10, models.TierHot), region("R2", 10, models.TierHot)},
		[]*models.Group{group("G1", 1, models.TierHot), group("G2", 1, models.TierHot)},
		[]models.LinkRecord{{A: "R1", B: "R2", Link: models.Link{Latency: 10, Bandwidth: 100}}},
		[]models.LinkRecord{{A: "G1", B: "G2", Link: models.Link{Latency: 20, Bandwidth: 50}}},
	)
	require.NoError(t, err)
	return m
}

func TestEnumerator_TwoRegions(t *testing.T) {
	m := twoRegionModel(t)
	rec := &recorder{}
	e := NewEnumerator(m, DefaultOptions(), rec, zaptest.NewLogger(t))
	assert.Equal(t, StateRunning, e.State())

	outcome, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, e.State())

	require.Len(t, outcome.Solutions, 1)
	assert.Equal(t, models.ReasonInfeasible, outcome.Summary.Reason)
	assert.Equal(t, 1, outcome.Summary.Solutions)
	assert.NotEmpty(t, outcome.Summary.RunID)

	solution := outcome.Solutions[0]
	assert.Equal(t, 1, solution.Round)
	assert.Equal(t, outcome.Summary.RunID, solution.RunID)
	nodes := solution.Result.NodePlacement
	require.Len(t, nodes, 2)
	assert.NotEqual(t, nodes["G1"], nodes["G2"])

	path := solution.Result.LinkPlacement[models.GroupPair{A: "G1", B: "G2"}]
	assert.ElementsMatch(t, []string{"R1", "R2"}, path)

	// the region of the top group is gone, the other remains
	top := outcome.Ranking.Groups[0].ID
	assert.Len(t, m.Regions(), 1)
	assert.NotContains(t, m.Regions(), nodes[top])

	assert.Equal(t, outcome.Solutions, rec.solutions)
	require.Len(t, rec.summaries, 1)
	assert.Equal(t, models.ReasonInfeasible, rec.summaries[0].Reason)

	_, err = e.Run(context.Background())
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestEnumerator_NoAlternativeForTopGroup(t *testing.T) {
	m, err := topology.NewModel(
		[]*models.Region{
			region("hot", 100, models.TierHot),
			region("cold1", 100, models.TierCold),
			region("cold2", 100, models.TierCold),
		},
		[]*models.Group{group("picky", 10, models.TierHot), group("easy", 1, models.TierCold)},
		nil, nil,
	)
	require.NoError(t, err)

	outcome, err := NewEnumerator(m, DefaultOptions(), nil, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, outcome.Solutions, 1)
	assert.Equal(t, "hot", outcome.Solutions[0].Result.NodePlacement["picky"])
	assert.Equal(t, models.ReasonInfeasible, outcome.Summary.Reason)
}

func spreadModel(t *testing.T, regions int) *topology.Model {
	t.Helper()
	rs := make([]*models.Region, regions)
	for i := range rs {
		rs[i] = region(fmt.Sprintf("r%d", i), 10, models.TierHot)
	}
	m, err := topology.NewModel(rs, []*models.Group{group("g", 1, models.TierCold)}, nil, nil)
	require.NoError(t, err)
	return m
}

func TestEnumerator_EliminatesOneRegionPerRound(t *testing.T) {
	m := spreadModel(t, 4)
	outcome, err := NewEnumerator(m, DefaultOptions(), nil, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, outcome.Solutions, 4)
	for i, s := range outcome.Solutions {
		assert.Equal(t, i+1, s.Round)
		assert.Equal(t, fmt.Sprintf("r%d", i), s.Result.NodePlacement["g"])
	}
	assert.Empty(t, m.Regions())
	assert.Equal(t, models.ReasonInfeasible, outcome.Summary.Reason)
}

func TestEnumerator_RoundLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRounds = 2
	rec := &recorder{}

	outcome, err := NewEnumerator(spreadModel(t, 4), opts, rec, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, outcome.Solutions, 2)
	assert.Equal(t, models.ReasonRoundLimit, outcome.Summary.Reason)
	assert.Len(t, rec.summaries, 1)
}

func TestEnumerator_ContextTermination(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rec := &recorder{}

		outcome, err := NewEnumerator(spreadModel(t, 3), DefaultOptions(), rec, nil).Run(ctx)
		require.NoError(t, err)
		assert.Empty(t, outcome.Solutions)
		assert.Equal(t, models.ReasonCancelled, outcome.Summary.Reason)
		require.Len(t, rec.summaries, 1, "summary is recorded after cancellation")
	})

	t.Run("deadline passed", func(t *testing.T) {
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		outcome, err := NewEnumerator(spreadModel(t, 3), DefaultOptions(), nil, nil).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.ReasonTimeLimit, outcome.Summary.Reason)
	})
}

func TestEnumerator_RecorderFailureAborts(t *testing.T) {
	rec := &recorder{failAt: 2}
	outcome, err := NewEnumerator(spreadModel(t, 4), DefaultOptions(), rec, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Len(t, outcome.Solutions, 2)
	assert.Len(t, rec.solutions, 1)
	assert.Empty(t, rec.summaries)
}

func TestEnumerator_ElapsedIsPerRound(t *testing.T) {
	e := NewEnumerator(spreadModel(t, 3), DefaultOptions(), nil, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	e.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	outcome, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, outcome.Solutions, 3)
	for _, s := range outcome.Solutions {
		assert.Equal(t, time.Second, s.Elapsed, "round %d", s.Round)
	}
}

func TestEnumerator_RankingFailure(t *testing.T) {
	opts := DefaultOptions()
	opts.Rank.MaxIterations = 0

	e := NewEnumerator(spreadModel(t, 2), opts, nil, nil)
	_, err := e.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateTerminated, e.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "TERMINATED", StateTerminated.String())
	assert.Equal(t, "State(7)", State(7).String())
}
