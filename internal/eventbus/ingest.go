package eventbus

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/global-data-controller/rankplace/internal/models"
)

// Sink receives the solutions and summaries replayed from the bus.
// storage.SolutionStore satisfies it.
type Sink interface {
	RecordSolution(ctx context.Context, solution *models.Solution) error
	RecordTermination(ctx context.Context, summary *models.RunSummary) error
}

// Ingestor writes search events published by other processes into a Sink
type Ingestor struct {
	sink   Sink
	logger *zap.Logger
}

// NewIngestor creates an ingestor writing into sink
func NewIngestor(sink Sink, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{sink: sink, logger: logger}
}

// Start subscribes the ingestor to both search event types under the
// durable consumer name. Consumption stops when ctx is done or the bus is
// closed.
func (i *Ingestor) Start(ctx context.Context, bus Subscriber, durable string) error {
	for _, eventType := range []EventType{EventTypeSolutionRecorded, EventTypeSearchTerminated} {
		if err := bus.Subscribe(ctx, durable, eventType, i); err != nil {
			return err
		}
	}
	return nil
}

// Handle records one event. Unknown event types are acknowledged and
// ignored.
func (i *Ingestor) Handle(ctx context.Context, event *Event) error {
	switch event.Type {
	case EventTypeSolutionRecorded:
		solution, err := SolutionFromEvent(event)
		if err != nil {
			return err
		}
		i.logger.Debug("Ingesting solution",
			zap.String("run_id", solution.RunID),
			zap.Int("round", solution.Round))
		return i.sink.RecordSolution(ctx, solution)

	case EventTypeSearchTerminated:
		summary, err := SummaryFromEvent(event)
		if err != nil {
			return err
		}
		i.logger.Info("Ingesting run summary",
			zap.String("run_id", summary.RunID),
			zap.Int("solutions", summary.Solutions),
			zap.String("reason", string(summary.Reason)))
		return i.sink.RecordTermination(ctx, summary)

	default:
		i.logger.Debug("Ignoring event", zap.String("type", string(event.Type)))
		return nil
	}
}

// SolutionFromEvent rebuilds the solution carried by a solution.recorded
// event
func SolutionFromEvent(event *Event) (*models.Solution, error) {
	if event.Type != EventTypeSolutionRecorded {
		return nil, fmt.Errorf("unexpected event type %s", event.Type)
	}
	var data SolutionRecordedEvent
	if err := event.Decode(&data); err != nil {
		return nil, err
	}
	if data.RunID == "" {
		return nil, fmt.Errorf("event %s: missing run id", event.ID)
	}

	result := models.NewPlacementResult()
	for group, region := range data.NodePlacement {
		result.NodePlacement[group] = region
	}
	for _, link := range data.LinkPlacement {
		result.LinkPlacement[models.GroupPair{A: link.A, B: link.B}] = link.Path
	}

	recordedAt := data.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = event.Timestamp
	}
	return &models.Solution{
		RunID:      data.RunID,
		Round:      data.Round,
		Elapsed:    time.Duration(data.ElapsedSeconds * float64(time.Second)),
		RecordedAt: recordedAt,
		Result:     result,
	}, nil
}

// SummaryFromEvent rebuilds the run summary carried by a search.terminated
// event
func SummaryFromEvent(event *Event) (*models.RunSummary, error) {
	if event.Type != EventTypeSearchTerminated {
		return nil, fmt.Errorf("unexpected event type %s", event.Type)
	}
	var data SearchTerminatedEvent
	if err := event.Decode(&data); err != nil {
		return nil, err
	}
	if data.RunID == "" {
		return nil, fmt.Errorf("event %s: missing run id", event.ID)
	}
	return &models.RunSummary{
		RunID:      data.RunID,
		Solutions:  data.Solutions,
		Reason:     models.TerminationReason(data.Reason),
		StartedAt:  data.StartedAt,
		FinishedAt: data.FinishedAt,
	}, nil
}
