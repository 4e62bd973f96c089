package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/global-data-controller/rankplace/internal/models"
)

func testSolution(runID string, round int) *models.Solution {
	result := models.NewPlacementResult()
	result.NodePlacement["G1"] = "R1"
	result.NodePlacement["G2"] = "R2"
	result.LinkPlacement[models.GroupPair{A: "G1", B: "G2"}] = []string{"R1", "R2"}
	return &models.Solution{
		RunID:      runID,
		Round:      round,
		Elapsed:    1500 * time.Millisecond,
		RecordedAt: time.Date(2024, 3, 1, 12, 0, round, 0, time.UTC),
		Result:     result,
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()

	require.NoError(t, store.RecordSolution(ctx, testSolution("run-1", 2)))
	require.NoError(t, store.RecordSolution(ctx, testSolution("run-1", 1)))

	solutions, err := store.ListSolutions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, solutions, 2)
	assert.Equal(t, 1, solutions[0].Round)
	assert.Equal(t, 2, solutions[1].Round)

	_, err = store.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound, "run is unknown until it terminates")

	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordTermination(ctx, &models.RunSummary{
		RunID: "run-1", Solutions: 2, Reason: models.ReasonInfeasible,
		StartedAt: started, FinishedAt: started.Add(time.Minute),
	}))
	require.NoError(t, store.RecordTermination(ctx, &models.RunSummary{
		RunID: "run-2", Reason: models.ReasonCancelled,
		StartedAt: started.Add(time.Hour), FinishedAt: started.Add(time.Hour),
	}))

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, run.Solutions)
	assert.Equal(t, models.ReasonInfeasible, run.Reason)

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID, "most recent first")

	// a finished run without solutions lists as empty, not missing
	solutions, err = store.ListSolutions(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, solutions)

	_, err = store.ListSolutions(ctx, "run-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SummaryIsCopied(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	summary := &models.RunSummary{RunID: "run-1", Solutions: 1}
	require.NoError(t, store.RecordTermination(ctx, summary))
	summary.Solutions = 5

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Solutions)
}

func TestMemoryStore_RerecordedRoundReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := testSolution("run-1", 1)
	again := testSolution("run-1", 1)
	again.Elapsed = 2 * time.Second

	require.NoError(t, store.RecordSolution(ctx, first))
	require.NoError(t, store.RecordSolution(ctx, testSolution("run-1", 2)))
	require.NoError(t, store.RecordSolution(ctx, again))

	solutions, err := store.ListSolutions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, solutions, 2)
	assert.Equal(t, 1, solutions[0].Round)
	assert.Equal(t, 2*time.Second, solutions[0].Elapsed)
	assert.Equal(t, 2, solutions[1].Round)
}

func TestResultPayload(t *testing.T) {
	result := models.NewPlacementResult()
	result.NodePlacement["a-b"] = "R1"
	result.NodePlacement["c"] = "R2"
	result.LinkPlacement[models.GroupPair{A: "c", B: "a-b"}] = []string{"R2", "R3", "R1"}
	result.LinkPlacement[models.GroupPair{A: "a-b", B: "c"}] = []string{"R1", "R2"}

	payload, err := encodeResult(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"nodes": {"a-b": "R1", "c": "R2"},
		"links": [
			{"a": "a-b", "b": "c", "path": ["R1", "R2"]},
			{"a": "c", "b": "a-b", "path": ["R2", "R3", "R1"]}
		]
	}`, payload)

	decoded, err := decodeResult(payload)
	require.NoError(t, err)
	assert.Equal(t, result, decoded)

	_, err = decodeResult("{")
	assert.Error(t, err)
}

func TestEncodeResult_Nil(t *testing.T) {
	payload, err := encodeResult(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes": {}, "links": null}`, payload)
}
