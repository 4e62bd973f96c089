package eventbus

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/global-data-controller/rankplace/internal/models"
)

// Event creation helpers for typed events

// NewSolutionRecordedEvent creates a solution recorded event from a solution
func NewSolutionRecordedEvent(source string, solution *models.Solution, traceID string) *Event {
	data := &SolutionRecordedEvent{
		RunID:          solution.RunID,
		Round:          solution.Round,
		ElapsedSeconds: solution.Elapsed.Seconds(),
		RecordedAt:     solution.RecordedAt,
		NodePlacement:  map[string]string{},
	}
	if solution.Result != nil {
		data.NodePlacement = solution.Result.NodePlacement
		for pair, path := range solution.Result.LinkPlacement {
			data.LinkPlacement = append(data.LinkPlacement, LinkPath{A: pair.A, B: pair.B, Path: path})
		}
		sort.Slice(data.LinkPlacement, func(i, j int) bool {
			if data.LinkPlacement[i].A != data.LinkPlacement[j].A {
				return data.LinkPlacement[i].A < data.LinkPlacement[j].A
			}
			return data.LinkPlacement[i].B < data.LinkPlacement[j].B
		})
	}

	subject := fmt.Sprintf("run.%s.round.%d", solution.RunID, solution.Round)
	return newTypedEvent(EventTypeSolutionRecorded, source, subject, data, traceID)
}

// NewSearchTerminatedEvent creates a search terminated event from a run summary
func NewSearchTerminatedEvent(source string, summary *models.RunSummary, traceID string) *Event {
	data := &SearchTerminatedEvent{
		RunID:      summary.RunID,
		Solutions:  summary.Solutions,
		Reason:     string(summary.Reason),
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
	}
	return newTypedEvent(EventTypeSearchTerminated, source, "run."+summary.RunID, data, traceID)
}

func newTypedEvent(eventType EventType, source, subject string, data interface{}, traceID string) *Event {
	eventData := make(map[string]interface{})
	if jsonData, err := json.Marshal(data); err == nil {
		json.Unmarshal(jsonData, &eventData)
	}

	event := NewEvent(eventType, source, subject, eventData)
	if traceID != "" {
		event.WithTraceID(traceID)
	}
	return event
}

// Decode unmarshals the event data into a typed payload such as
// *SolutionRecordedEvent
func (e *Event) Decode(out interface{}) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s event: %w", e.Type, err)
	}
	return nil
}
