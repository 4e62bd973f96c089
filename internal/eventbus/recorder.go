package eventbus

import (
	"context"
	"fmt"

	"github.com/global-data-controller/rankplace/internal/models"
)

// Recorder publishes solution search progress on an event bus.
//
// Solutions are published without waiting when the publisher supports it.
// The termination event is published only after every earlier solution was
// acknowledged, so a consumer that sees it has seen the whole run.
type Recorder struct {
	publisher Publisher
	source    string
}

// NewRecorder creates a recorder publishing events from source
func NewRecorder(publisher Publisher, source string) *Recorder {
	if source == "" {
		source = "rankplace"
	}
	return &Recorder{publisher: publisher, source: source}
}

func (r *Recorder) RecordSolution(ctx context.Context, solution *models.Solution) error {
	event := NewSolutionRecordedEvent(r.source, solution, "")
	if async, ok := r.publisher.(AsyncPublisher); ok {
		return async.PublishEventAsync(ctx, event)
	}
	return r.publisher.PublishEvent(ctx, event)
}

func (r *Recorder) RecordTermination(ctx context.Context, summary *models.RunSummary) error {
	if async, ok := r.publisher.(AsyncPublisher); ok {
		if err := async.Flush(ctx); err != nil {
			return fmt.Errorf("run %s: %w", summary.RunID, err)
		}
	}
	return r.publisher.PublishEvent(ctx, NewSearchTerminatedEvent(r.source, summary, ""))
}
