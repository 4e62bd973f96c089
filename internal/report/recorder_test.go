package report

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/global-data-controller/rankplace/internal/models"
)

type fakeRecorder struct {
	calls []string
	err   error
}

func (f *fakeRecorder) RecordSolution(context.Context, *models.Solution) error {
	f.calls = append(f.calls, "solution")
	return f.err
}

func (f *fakeRecorder) RecordTermination(context.Context, *models.RunSummary) error {
	f.calls = append(f.calls, "termination")
	return f.err
}

func TestMultiRecorder(t *testing.T) {
	ctx := context.Background()
	first, second := &fakeRecorder{}, &fakeRecorder{}
	m := NewMultiRecorder(nil).Add("first", first).Add("second", second)
	assert.Equal(t, 2, m.Len())

	require.NoError(t, m.RecordSolution(ctx, solution(1, 0)))
	require.NoError(t, m.RecordTermination(ctx, &models.RunSummary{RunID: "run"}))

	assert.Equal(t, []string{"solution", "termination"}, first.calls)
	assert.Equal(t, []string{"solution", "termination"}, second.calls)
}

func TestMultiRecorder_FailureStops(t *testing.T) {
	failing := &fakeRecorder{err: errors.New("boom")}
	after := &fakeRecorder{}
	m := NewMultiRecorder(nil).Add("store", failing).Add("after", after)

	err := m.RecordSolution(context.Background(), solution(1, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store: boom")
	assert.Empty(t, after.calls)
}

func TestMultiRecorder_BestEffort(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	failing := &fakeRecorder{err: errors.New("nats down")}
	after := &fakeRecorder{}
	m := NewMultiRecorder(zap.New(core)).AddBestEffort("events", failing).Add("after", after)

	require.NoError(t, m.RecordSolution(context.Background(), solution(3, 0)))
	assert.Equal(t, []string{"solution"}, after.calls)

	entries := logs.FilterMessage("Recorder failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "events", fields["sink"])
	assert.Equal(t, int64(3), fields["round"])
}
