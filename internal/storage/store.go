// Package storage persists recorded solutions and run summaries.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/global-data-controller/rankplace/internal/models"
)

// ErrNotFound is returned when a run is unknown to the store
var ErrNotFound = errors.New("not found")

// SolutionStore keeps the solutions and summaries of solution searches.
// Every store can be used directly as a search recorder.
type SolutionStore interface {
	RecordSolution(ctx context.Context, solution *models.Solution) error
	RecordTermination(ctx context.Context, summary *models.RunSummary) error

	// ListSolutions returns the solutions of a run ordered by round
	ListSolutions(ctx context.Context, runID string) ([]*models.Solution, error)
	// GetRun returns the summary of a finished run
	GetRun(ctx context.Context, runID string) (*models.RunSummary, error)
	// ListRuns returns finished runs, most recent first
	ListRuns(ctx context.Context) ([]*models.RunSummary, error)

	Close() error
}

// MemoryStore is a SolutionStore held in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	solutions map[string][]*models.Solution
	runs      map[string]*models.RunSummary
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		solutions: make(map[string][]*models.Solution),
		runs:      make(map[string]*models.RunSummary),
	}
}

// RecordSolution stores a solution, replacing an earlier one for the same
// run and round
func (s *MemoryStore) RecordSolution(_ context.Context, solution *models.Solution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.solutions[solution.RunID]
	for i, existing := range run {
		if existing.Round == solution.Round {
			run[i] = solution
			return nil
		}
	}
	s.solutions[solution.RunID] = append(run, solution)
	return nil
}

func (s *MemoryStore) RecordTermination(_ context.Context, summary *models.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *summary
	s.runs[summary.RunID] = &copied
	return nil
}

func (s *MemoryStore) ListSolutions(_ context.Context, runID string) ([]*models.Solution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	solutions, ok := s.solutions[runID]
	if !ok {
		if _, finished := s.runs[runID]; !finished {
			return nil, ErrNotFound
		}
	}
	out := append([]*models.Solution(nil), solutions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	return out, nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*models.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]*models.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		copied := *run
		out = append(out, &copied)
	}
	sortRuns(out)
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func sortRuns(runs []*models.RunSummary) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].RunID < runs[j].RunID
	})
}
