// Package search enumerates alternative placements. After each successful
// round the region hosting the most important group is removed from the
// topology, forcing the next round to find a different solution, until a
// round fails or a configured bound is hit.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/global-data-controller/rankplace/internal/models"
	"github.com/global-data-controller/rankplace/internal/placement"
	"github.com/global-data-controller/rankplace/internal/rank"
	"github.com/global-data-controller/rankplace/internal/telemetry"
	"github.com/global-data-controller/rankplace/internal/topology"
)

// State of an Enumerator
type State int

const (
	StateRunning State = iota
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrTerminated is returned by Run on an enumerator that already finished
var ErrTerminated = errors.New("enumerator already terminated")

// Recorder receives every recorded solution and the final summary, in order.
// An error from a recorder aborts the search.
type Recorder interface {
	RecordSolution(ctx context.Context, solution *models.Solution) error
	RecordTermination(ctx context.Context, summary *models.RunSummary) error
}

// Options bounds the search and tunes its components
type Options struct {
	// MaxRounds caps recorded solutions; 0 means unbounded
	MaxRounds int
	// TimeLimit caps wall-clock time; 0 means unbounded
	TimeLimit time.Duration

	Rank      rank.Options
	Placement placement.Options
}

// DefaultOptions returns an unbounded search with default ranking and
// placement settings
func DefaultOptions() Options {
	return Options{
		Rank:      rank.DefaultOptions(),
		Placement: placement.DefaultOptions(),
	}
}

// Outcome is the result of a finished search
type Outcome struct {
	Summary   models.RunSummary
	Ranking   *models.Ranking
	Solutions []*models.Solution
}

// Enumerator owns the topology model for the duration of a search: regions
// are removed from it between rounds
type Enumerator struct {
	model    *topology.Model
	opts     Options
	recorder Recorder
	logger   *zap.Logger

	state State
	now   func() time.Time
}

// NewEnumerator creates an enumerator in the RUNNING state. recorder may be
// nil; a nil logger disables logging.
func NewEnumerator(model *topology.Model, opts Options, recorder Recorder, logger *zap.Logger) *Enumerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enumerator{
		model:    model,
		opts:     opts,
		recorder: recorder,
		logger:   logger,
		state:    StateRunning,
		now:      time.Now,
	}
}

// State returns the current state
func (e *Enumerator) State() State {
	return e.state
}

// Run ranks the topology once and then places round after round. It returns
// the outcome whenever the search terminates normally; a non-nil error means
// ranking, admission or a recorder failed, and the outcome then holds what
// was recorded before the failure.
func (e *Enumerator) Run(ctx context.Context) (*Outcome, error) {
	if e.state == StateTerminated {
		return nil, ErrTerminated
	}
	defer func() { e.state = StateTerminated }()

	if e.opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.TimeLimit)
		defer cancel()
	}

	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", runID))
	outcome := &Outcome{Summary: models.RunSummary{RunID: runID, StartedAt: e.now()}}

	ranking, err := rank.NewRanker(e.opts.Rank, logger).RandomWalkRank(ctx, e.model)
	if err != nil {
		return outcome, fmt.Errorf("failed to rank topology: %w", err)
	}
	outcome.Ranking = ranking

	regions := ranking.RegionIDs()
	groups := ranking.GroupIDs()
	engine := placement.NewEngine(e.model, e.opts.Placement, logger)

	clock := e.now()
	for {
		if e.opts.MaxRounds > 0 && len(outcome.Solutions) >= e.opts.MaxRounds {
			return e.terminate(ctx, outcome, models.ReasonRoundLimit, logger)
		}
		if err := ctx.Err(); err != nil {
			return e.terminate(ctx, outcome, contextReason(err), logger)
		}

		round := len(outcome.Solutions) + 1
		result, ok, err := e.attempt(ctx, engine, regions, groups, round)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return e.terminate(ctx, outcome, contextReason(ctxErr), logger)
			}
			return outcome, fmt.Errorf("round %d: %w", round, err)
		}
		if !ok {
			return e.terminate(ctx, outcome, models.ReasonInfeasible, logger)
		}

		solution := &models.Solution{
			RunID:      runID,
			Round:      round,
			Elapsed:    e.now().Sub(clock),
			RecordedAt: e.now(),
			Result:     result,
		}
		outcome.Solutions = append(outcome.Solutions, solution)
		if e.recorder != nil {
			if err := e.recorder.RecordSolution(ctx, solution); err != nil {
				return outcome, fmt.Errorf("failed to record round %d: %w", round, err)
			}
		}
		_ = telemetry.IncrementCounter(ctx, telemetry.MetricSolutionsTotal)

		// Without groups nothing is eliminated and every further round
		// would repeat this one
		if len(groups) == 0 {
			return e.terminate(ctx, outcome, models.ReasonInfeasible, logger)
		}
		eliminated := result.NodePlacement[groups[0]]
		regions = removeID(regions, eliminated)
		e.model.RemoveRegion(eliminated)

		logger.Info("Solution recorded",
			zap.Int("round", round),
			zap.Duration("elapsed", solution.Elapsed),
			zap.String("eliminated_region", eliminated),
			zap.Int("regions_left", len(regions)))

		clock = e.now()
	}
}

func (e *Enumerator) attempt(ctx context.Context, engine *placement.Engine, regions, groups []string, round int) (*models.PlacementResult, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "search.round")
	defer span.End()
	span.SetAttributes(attribute.Int("round", round), attribute.Int("regions", len(regions)))

	start := time.Now()
	result, ok, err := engine.Place(ctx, regions, groups)
	switch {
	case err != nil:
		_ = telemetry.RecordRound(ctx, "error", start)
	case ok:
		_ = telemetry.RecordRound(ctx, "success", start)
	default:
		_ = telemetry.RecordRound(ctx, string(models.ReasonInfeasible), start)
	}
	return result, ok, err
}

func (e *Enumerator) terminate(ctx context.Context, outcome *Outcome, reason models.TerminationReason, logger *zap.Logger) (*Outcome, error) {
	outcome.Summary.Reason = reason
	outcome.Summary.Solutions = len(outcome.Solutions)
	outcome.Summary.FinishedAt = e.now()

	logger.Info("Search terminated",
		zap.String("reason", string(reason)),
		zap.Int("solutions", outcome.Summary.Solutions),
		zap.Duration("duration", outcome.Summary.FinishedAt.Sub(outcome.Summary.StartedAt)))

	if e.recorder != nil {
		// the run context may already be done; the summary is still owed
		if err := e.recorder.RecordTermination(context.WithoutCancel(ctx), &outcome.Summary); err != nil {
			return outcome, fmt.Errorf("failed to record termination: %w", err)
		}
	}
	return outcome, nil
}

func contextReason(err error) models.TerminationReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ReasonTimeLimit
	}
	return models.ReasonCancelled
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
