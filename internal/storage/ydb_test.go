package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/global-data-controller/rankplace/internal/models"
)

// TestYDBSolutionStore_Integration runs against a real YDB instance.
// Set YDB_CONNECTION_STRING to run it.
func TestYDBSolutionStore_Integration(t *testing.T) {
	connectionString := os.Getenv("YDB_CONNECTION_STRING")
	if connectionString == "" {
		t.Skip("YDB_CONNECTION_STRING not set, skipping integration tests")
	}

	ctx := context.Background()
	table := fmt.Sprintf("solutions_test_%d", time.Now().UnixNano())
	store, err := NewYDBSolutionStore(ctx, connectionString, table, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.InitializeSchema(ctx))
	// idempotent
	require.NoError(t, store.InitializeSchema(ctx))

	runID := "run-" + table
	t.Run("Solutions", func(t *testing.T) {
		require.NoError(t, store.RecordSolution(ctx, testSolution(runID, 2)))
		require.NoError(t, store.RecordSolution(ctx, testSolution(runID, 1)))

		solutions, err := store.ListSolutions(ctx, runID)
		require.NoError(t, err)
		require.Len(t, solutions, 2)
		assert.Equal(t, 1, solutions[0].Round)
		assert.Equal(t, 1500*time.Millisecond, solutions[0].Elapsed)
		assert.Equal(t, "R2", solutions[1].Result.NodePlacement["G2"])
		assert.Equal(t, []string{"R1", "R2"}, solutions[1].Result.LinkPlacement[models.GroupPair{A: "G1", B: "G2"}])
	})

	t.Run("Runs", func(t *testing.T) {
		_, err := store.GetRun(ctx, runID)
		assert.ErrorIs(t, err, ErrNotFound)

		started := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, store.RecordTermination(ctx, &models.RunSummary{
			RunID: runID, Solutions: 2, Reason: models.ReasonRoundLimit,
			StartedAt: started, FinishedAt: started.Add(time.Second),
		}))

		run, err := store.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, 2, run.Solutions)
		assert.Equal(t, models.ReasonRoundLimit, run.Reason)
		assert.True(t, started.Equal(run.StartedAt))

		runs, err := store.ListRuns(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, runs)
	})

	t.Run("UnknownRun", func(t *testing.T) {
		_, err := store.ListSolutions(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestYDBSolutionStore_CloseWithoutConnection(t *testing.T) {
	store := &YDBSolutionStore{}
	assert.NoError(t, store.Close())
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "`placement_solutions`", quote("placement_solutions"))
	assert.Equal(t, "`dir/solutions`", quote("dir//solutions"))
}
