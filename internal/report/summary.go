// Package report writes the append-only summary of a solution search and
// fans recorded solutions out to several sinks.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/global-data-controller/rankplace/internal/models"
)

// SummaryHeader is the first row of every summary file
var SummaryHeader = []string{"running_time", "solution"}

// SummaryWriter appends one row per recorded solution: the seconds the round
// took and the placement result as JSON. Rows are flushed as they are
// written so a partial summary survives an interrupted run.
type SummaryWriter struct {
	mu     sync.Mutex
	csv    *csv.Writer
	closer io.Closer
}

// NewSummaryWriter writes the header to w
func NewSummaryWriter(w io.Writer) (*SummaryWriter, error) {
	s := &SummaryWriter{csv: csv.NewWriter(w)}
	if err := s.write(SummaryHeader); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateSummary truncates or creates the file at path
func CreateSummary(path string) (*SummaryWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary: %w", err)
	}
	s, err := NewSummaryWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

func (s *SummaryWriter) RecordSolution(_ context.Context, solution *models.Solution) error {
	data, err := json.Marshal(solution.Result)
	if err != nil {
		return fmt.Errorf("failed to encode solution: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write([]string{
		strconv.FormatFloat(solution.Elapsed.Seconds(), 'f', -1, 64),
		string(data),
	})
}

// RecordTermination only flushes; the summary has no trailer row
func (s *SummaryWriter) RecordTermination(_ context.Context, _ *models.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csv.Flush()
	return s.csv.Error()
}

// Close flushes and closes the file opened by CreateSummary
func (s *SummaryWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csv.Flush()
	err := s.csv.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
		s.closer = nil
	}
	return err
}

func (s *SummaryWriter) write(record []string) error {
	if err := s.csv.Write(record); err != nil {
		return fmt.Errorf("failed to write summary row: %w", err)
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return fmt.Errorf("failed to write summary row: %w", err)
	}
	return nil
}
