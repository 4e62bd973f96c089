package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	// Search events
	EventTypeSolutionRecorded EventType = "solution.recorded"
	EventTypeSearchTerminated EventType = "search.terminated"
)

// Event represents a generic event in the system
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Subject   string                 `json:"subject"`
	Data      map[string]interface{} `json:"data"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
}

// NewEvent creates a new event with generated ID and timestamp
func NewEvent(eventType EventType, source, subject string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Version:   "1.0",
	}
}

// WithTraceID adds a trace ID to the event
func (e *Event) WithTraceID(traceID string) *Event {
	e.TraceID = traceID
	return e
}

// SolutionRecordedEvent carries one recorded round
type SolutionRecordedEvent struct {
	RunID          string            `json:"run_id"`
	Round          int               `json:"round"`
	ElapsedSeconds float64           `json:"elapsed_seconds"`
	RecordedAt     time.Time         `json:"recorded_at"`
	NodePlacement  map[string]string `json:"node_placement"`
	LinkPlacement  []LinkPath        `json:"link_placement"`
}

// LinkPath is the region path chosen for one group pair
type LinkPath struct {
	A    string   `json:"a"`
	B    string   `json:"b"`
	Path []string `json:"path"`
}

// SearchTerminatedEvent carries the run summary
type SearchTerminatedEvent struct {
	RunID      string    `json:"run_id"`
	Solutions  int       `json:"solutions"`
	Reason     string    `json:"reason"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// EventHandler defines the interface for handling events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
}

// EventHandlerFunc is a function adapter for EventHandler
type EventHandlerFunc func(ctx context.Context, event *Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Publisher defines the interface for publishing events
type Publisher interface {
	PublishEvent(ctx context.Context, event *Event) error
	Close() error
}

// AsyncPublisher is a Publisher that can batch acknowledgements
type AsyncPublisher interface {
	Publisher

	PublishEventAsync(ctx context.Context, event *Event) error
	Flush(ctx context.Context) error
}

// Subscriber delivers the events of one type to a handler through a named
// durable consumer
type Subscriber interface {
	Subscribe(ctx context.Context, durable string, eventType EventType, handler EventHandler) error
}

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	AsyncPublisher
	Subscriber
}
