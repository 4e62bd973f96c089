package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/global-data-controller/rankplace/internal/models"
	"github.com/global-data-controller/rankplace/internal/rank"
	"github.com/global-data-controller/rankplace/internal/storage"
	"github.com/global-data-controller/rankplace/internal/topology"
)

func testModel(t *testing.T) *topology.Model {
	t.Helper()
	regions := make([]*models.Region, 0, 2)
	for _, id := range []string{"R1", "R2"} {
		r := models.NewRegion(id)
		r.Capacity.Set(models.DefaultZone, "cpu", 10)
		r.Tiers["eu"] = models.TierHot
		regions = append(regions, r)
	}
	g := models.NewGroup("G1")
	g.Demands["cpu"] = models.ResourceDemand{Quantity: 1}
	g.Requires = models.TierRequirement{Location: "eu", Tier: models.TierWarm}

	m, err := topology.NewModel(regions, []*models.Group{g},
		[]models.LinkRecord{{A: "R1", B: "R2", Link: models.Link{Latency: 5, Bandwidth: 100}}}, nil)
	require.NoError(t, err)
	return m
}

func TestBackend_Runs(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	backend := NewBackend(store, nil, rank.DefaultOptions(), zaptest.NewLogger(t))

	_, err := backend.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = backend.ListSolutions(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.RecordSolution(ctx, testSolution()))
	require.NoError(t, store.RecordTermination(ctx, &models.RunSummary{
		RunID:      "run-1",
		Solutions:  1,
		Reason:     models.ReasonInfeasible,
		StartedAt:  time.Now().Add(-time.Second),
		FinishedAt: time.Now(),
	}))

	run, err := backend.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Solutions)

	solutions, err := backend.ListSolutions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, solutions, 1)
	assert.Equal(t, "R1", solutions[0].Result.NodePlacement["G1"])

	runs, err := backend.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestBackend_NoTopology(t *testing.T) {
	backend := NewBackend(storage.NewMemoryStore(), nil, rank.DefaultOptions(), nil)

	_, err := backend.Regions(context.Background())
	assert.ErrorIs(t, err, ErrNoTopology)
	_, err = backend.Groups(context.Background())
	assert.ErrorIs(t, err, ErrNoTopology)
	_, err = backend.Ranking(context.Background())
	assert.ErrorIs(t, err, ErrNoTopology)
}

func TestBackend_Topology(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend(storage.NewMemoryStore(), testModel(t), rank.DefaultOptions(), zaptest.NewLogger(t))

	regions, err := backend.Regions(ctx)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "R1", regions[0].ID)

	groups, err := backend.Groups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, models.TierWarm, groups[0].Requires.Tier)

	ranking, err := backend.Ranking(ctx)
	require.NoError(t, err)
	assert.Len(t, ranking.Regions, 2)
	assert.Len(t, ranking.Groups, 1)

	again, err := backend.Ranking(ctx)
	require.NoError(t, err)
	assert.Same(t, ranking, again, "ranking is computed once")
}
