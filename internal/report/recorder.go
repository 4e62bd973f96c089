package report

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/global-data-controller/rankplace/internal/models"
	"github.com/global-data-controller/rankplace/internal/search"
)

// MultiRecorder forwards to every sink in order and stops at the first
// failing one. Sinks marked best-effort only log their failures.
type MultiRecorder struct {
	sinks  []sink
	logger *zap.Logger
}

type sink struct {
	name       string
	recorder   search.Recorder
	bestEffort bool
}

// NewMultiRecorder creates an empty fan-out
func NewMultiRecorder(logger *zap.Logger) *MultiRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiRecorder{logger: logger}
}

// Add appends a sink whose failures abort the search
func (m *MultiRecorder) Add(name string, r search.Recorder) *MultiRecorder {
	m.sinks = append(m.sinks, sink{name: name, recorder: r})
	return m
}

// AddBestEffort appends a sink whose failures are logged and ignored
func (m *MultiRecorder) AddBestEffort(name string, r search.Recorder) *MultiRecorder {
	m.sinks = append(m.sinks, sink{name: name, recorder: r, bestEffort: true})
	return m
}

// Len returns the number of sinks
func (m *MultiRecorder) Len() int {
	return len(m.sinks)
}

func (m *MultiRecorder) RecordSolution(ctx context.Context, solution *models.Solution) error {
	return m.each(func(r search.Recorder) error { return r.RecordSolution(ctx, solution) },
		zap.String("run_id", solution.RunID), zap.Int("round", solution.Round))
}

func (m *MultiRecorder) RecordTermination(ctx context.Context, summary *models.RunSummary) error {
	return m.each(func(r search.Recorder) error { return r.RecordTermination(ctx, summary) },
		zap.String("run_id", summary.RunID), zap.String("reason", string(summary.Reason)))
}

func (m *MultiRecorder) each(call func(search.Recorder) error, fields ...zap.Field) error {
	for _, s := range m.sinks {
		if err := call(s.recorder); err != nil {
			if s.bestEffort {
				m.logger.Warn("Recorder failed", append(fields, zap.String("sink", s.name), zap.Error(err))...)
				continue
			}
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}
