package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/global-data-controller/rankplace/internal/models"
)

func testSolution() *models.Solution {
	result := models.NewPlacementResult()
	result.NodePlacement["G1"] = "R1"
	result.NodePlacement["G2"] = "R2"
	result.LinkPlacement[models.GroupPair{A: "G2", B: "G3"}] = []string{"R2", "R3"}
	result.LinkPlacement[models.GroupPair{A: "G1", B: "G2"}] = []string{"R1", "R2"}
	return &models.Solution{RunID: "run-1", Round: 2, Elapsed: 250 * time.Millisecond, Result: result}
}

func TestNewEvent(t *testing.T) {
	data := map[string]interface{}{
		"key1": "value1",
		"key2": 42,
	}

	event := NewEvent(EventTypeSolutionRecorded, "test-source", "test-subject", data)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventTypeSolutionRecorded, event.Type)
	assert.Equal(t, "test-source", event.Source)
	assert.Equal(t, "test-subject", event.Subject)
	assert.Equal(t, data, event.Data)
	assert.Equal(t, "1.0", event.Version)
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
	assert.Empty(t, event.TraceID)
}

func TestEvent_WithTraceID(t *testing.T) {
	event := NewEvent(EventTypeSolutionRecorded, "source", "subject", nil)

	result := event.WithTraceID("trace-123")

	assert.Equal(t, event, result) // Should return the same instance
	assert.Equal(t, "trace-123", event.TraceID)
}

func TestNewSolutionRecordedEvent(t *testing.T) {
	event := NewSolutionRecordedEvent("solver", testSolution(), "trace-123")

	assert.Equal(t, EventTypeSolutionRecorded, event.Type)
	assert.Equal(t, "solver", event.Source)
	assert.Equal(t, "run.run-1.round.2", event.Subject)
	assert.Equal(t, "trace-123", event.TraceID)
	assert.Equal(t, "run-1", event.Data["run_id"])
	assert.Equal(t, 0.25, event.Data["elapsed_seconds"])

	var payload SolutionRecordedEvent
	require.NoError(t, event.Decode(&payload))
	assert.Equal(t, 2, payload.Round)
	assert.Equal(t, map[string]string{"G1": "R1", "G2": "R2"}, payload.NodePlacement)
	assert.Equal(t, []LinkPath{
		{A: "G1", B: "G2", Path: []string{"R1", "R2"}},
		{A: "G2", B: "G3", Path: []string{"R2", "R3"}},
	}, payload.LinkPlacement)
}

func TestNewSearchTerminatedEvent(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	summary := &models.RunSummary{
		RunID:      "run-1",
		Solutions:  3,
		Reason:     models.ReasonInfeasible,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
	}

	event := NewSearchTerminatedEvent("solver", summary, "")

	assert.Equal(t, EventTypeSearchTerminated, event.Type)
	assert.Equal(t, "run.run-1", event.Subject)
	assert.Empty(t, event.TraceID)

	var payload SearchTerminatedEvent
	require.NoError(t, event.Decode(&payload))
	assert.Equal(t, 3, payload.Solutions)
	assert.Equal(t, "infeasible", payload.Reason)
	assert.True(t, started.Equal(payload.StartedAt))
}

func TestEventHandlerFunc(t *testing.T) {
	called := false
	handler := EventHandlerFunc(func(ctx context.Context, event *Event) error {
		called = true
		return nil
	})

	err := handler.Handle(context.Background(), NewEvent(EventTypeSearchTerminated, "s", "s", nil))
	require.NoError(t, err)
	assert.True(t, called)
}

type capturePublisher struct {
	events []*Event
	err    error
}

func (p *capturePublisher) PublishEvent(_ context.Context, event *Event) error {
	p.events = append(p.events, event)
	return p.err
}

func (p *capturePublisher) Close() error { return nil }

func TestRecorder(t *testing.T) {
	publisher := &capturePublisher{}
	recorder := NewRecorder(publisher, "")

	ctx := context.Background()
	require.NoError(t, recorder.RecordSolution(ctx, testSolution()))
	require.NoError(t, recorder.RecordTermination(ctx, &models.RunSummary{RunID: "run-1", Reason: models.ReasonCancelled}))

	require.Len(t, publisher.events, 2)
	assert.Equal(t, EventTypeSolutionRecorded, publisher.events[0].Type)
	assert.Equal(t, "rankplace", publisher.events[0].Source)
	assert.Equal(t, EventTypeSearchTerminated, publisher.events[1].Type)

	publisher.err = errors.New("no responders")
	assert.Error(t, recorder.RecordSolution(ctx, testSolution()))
}

type asyncCapturePublisher struct {
	capturePublisher
	pending int
	calls   []string
}

func (p *asyncCapturePublisher) PublishEvent(ctx context.Context, event *Event) error {
	p.calls = append(p.calls, "publish")
	return p.capturePublisher.PublishEvent(ctx, event)
}

func (p *asyncCapturePublisher) PublishEventAsync(_ context.Context, event *Event) error {
	p.calls = append(p.calls, "async")
	p.pending++
	p.events = append(p.events, event)
	return nil
}

func (p *asyncCapturePublisher) Flush(context.Context) error {
	p.calls = append(p.calls, "flush")
	p.pending = 0
	return p.err
}

func TestRecorder_FlushesSolutionsBeforeTermination(t *testing.T) {
	publisher := &asyncCapturePublisher{}
	recorder := NewRecorder(publisher, "solver")

	ctx := context.Background()
	require.NoError(t, recorder.RecordSolution(ctx, testSolution()))
	require.NoError(t, recorder.RecordSolution(ctx, testSolution()))
	require.NoError(t, recorder.RecordTermination(ctx, &models.RunSummary{RunID: "run-1"}))

	assert.Equal(t, []string{"async", "async", "flush", "publish"}, publisher.calls)
	assert.Zero(t, publisher.pending)

	publisher.err = errors.New("timeout")
	publisher.calls = nil
	assert.Error(t, recorder.RecordTermination(ctx, &models.RunSummary{RunID: "run-1"}))
	assert.Equal(t, []string{"flush"}, publisher.calls, "termination is not published when the flush fails")
}

type memorySink struct {
	solutions []*models.Solution
	summaries []*models.RunSummary
	err       error
}

func (s *memorySink) RecordSolution(_ context.Context, solution *models.Solution) error {
	s.solutions = append(s.solutions, solution)
	return s.err
}

func (s *memorySink) RecordTermination(_ context.Context, summary *models.RunSummary) error {
	s.summaries = append(s.summaries, summary)
	return s.err
}

func TestIngestor_Handle(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{}
	ingestor := NewIngestor(sink, nil)

	solution := testSolution()
	solution.RecordedAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, ingestor.Handle(ctx, NewSolutionRecordedEvent("solver", solution, "")))

	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	summary := &models.RunSummary{
		RunID: "run-1", Solutions: 1, Reason: models.ReasonTimeLimit,
		StartedAt: started, FinishedAt: started.Add(time.Hour),
	}
	require.NoError(t, ingestor.Handle(ctx, NewSearchTerminatedEvent("solver", summary, "")))

	// unrelated events are ignored
	require.NoError(t, ingestor.Handle(ctx, NewEvent("run.started", "solver", "run.run-1", nil)))

	require.Len(t, sink.solutions, 1)
	got := sink.solutions[0]
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 2, got.Round)
	assert.Equal(t, 250*time.Millisecond, got.Elapsed)
	assert.True(t, solution.RecordedAt.Equal(got.RecordedAt))
	assert.Equal(t, solution.Result, got.Result)

	require.Len(t, sink.summaries, 1)
	assert.Equal(t, models.ReasonTimeLimit, sink.summaries[0].Reason)
	assert.True(t, started.Equal(sink.summaries[0].StartedAt))

	sink.err = errors.New("store closed")
	assert.Error(t, ingestor.Handle(ctx, NewSearchTerminatedEvent("solver", summary, "")))
}

func TestSolutionFromEvent(t *testing.T) {
	// events without a recording time fall back to the event timestamp
	event := NewSolutionRecordedEvent("solver", testSolution(), "")
	solution, err := SolutionFromEvent(event)
	require.NoError(t, err)
	assert.True(t, event.Timestamp.Equal(solution.RecordedAt))

	_, err = SolutionFromEvent(NewSearchTerminatedEvent("solver", &models.RunSummary{RunID: "run-1"}, ""))
	assert.Error(t, err)

	_, err = SolutionFromEvent(NewEvent(EventTypeSolutionRecorded, "solver", "run", map[string]interface{}{"round": 1}))
	assert.Error(t, err, "missing run id")

	_, err = SolutionFromEvent(NewEvent(EventTypeSolutionRecorded, "solver", "run", map[string]interface{}{"round": "one"}))
	assert.Error(t, err)
}

func TestSummaryFromEvent(t *testing.T) {
	_, err := SummaryFromEvent(NewSolutionRecordedEvent("solver", testSolution(), ""))
	assert.Error(t, err)

	_, err = SummaryFromEvent(NewEvent(EventTypeSearchTerminated, "solver", "run", map[string]interface{}{}))
	assert.Error(t, err)
}
