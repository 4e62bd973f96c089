// Package placement assigns groups to regions and routes their communication
// requirements over the region network.
//
// Node placement is greedy first fit: groups in ranked order, each taking the
// best-ranked free region that satisfies its constraints, with no
// backtracking. Link placement routes every requirement on the first of the
// lowest-latency simple paths that still has the bandwidth, consuming it from
// a residual overlay private to the attempt.
package placement

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/global-data-controller/rankplace/internal/constraint"
	"github.com/global-data-controller/rankplace/internal/models"
	"github.com/global-data-controller/rankplace/internal/topology"
)

// Admitter is an additional admission rule for a (region, group) pair. It is
// only consulted for pairs that already satisfy the node constraints.
type Admitter interface {
	Admit(ctx context.Context, region *models.Region, group *models.Group) (bool, error)
}

// Options configures an Engine
type Options struct {
	// MaxPaths bounds the candidate paths tried per requirement
	MaxPaths int
	// Workers > 1 evaluates the candidate regions of a group concurrently
	Workers int
	// Admitter is optional
	Admitter Admitter
}

// DefaultOptions returns sequential evaluation with the standard path bound
func DefaultOptions() Options {
	return Options{MaxPaths: topology.DefaultMaxPaths, Workers: 1}
}

// Engine runs placement attempts against a topology model. The model's
// region graph must not change while an attempt is in progress.
type Engine struct {
	model  *topology.Model
	opts   Options
	logger *zap.Logger
}

// NewEngine creates a placement engine; a nil logger disables logging
func NewEngine(model *topology.Model, opts Options, logger *zap.Logger) *Engine {
	if opts.MaxPaths <= 0 {
		opts.MaxPaths = topology.DefaultMaxPaths
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{model: model, opts: opts, logger: logger}
}

// LinkOutcome is a successful link placement together with the bandwidth
// left on the region edges after all requirements were routed
type LinkOutcome struct {
	Paths    map[models.GroupPair][]string
	Residual *topology.Residual
}

// NodePlacement assigns every group, in order, to the first region in order
// that is still free and satisfies it. It reports false as soon as one group
// finds no region. Errors come only from the admitter or ctx.
func (e *Engine) NodePlacement(ctx context.Context, regions, groups []string) (map[string]string, bool, error) {
	assignment := make(map[string]string, len(groups))
	taken := make(map[string]bool, len(groups))

	for _, groupID := range groups {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		group, ok := e.model.Group(groupID)
		if !ok {
			return nil, false, fmt.Errorf("unknown group %s", groupID)
		}

		candidates := make([]*models.Region, 0, len(regions))
		for _, regionID := range regions {
			if taken[regionID] {
				continue
			}
			region, ok := e.model.Region(regionID)
			if !ok {
				return nil, false, fmt.Errorf("unknown region %s", regionID)
			}
			candidates = append(candidates, region)
		}

		chosen, err := e.firstFit(ctx, candidates, group)
		if err != nil {
			return nil, false, err
		}
		if chosen == nil {
			e.logger.Debug("No region fits group",
				zap.String("group", groupID),
				zap.Int("candidates", len(candidates)))
			return nil, false, nil
		}

		assignment[groupID] = chosen.ID
		taken[chosen.ID] = true
		e.logger.Debug("Group assigned",
			zap.String("group", groupID),
			zap.String("region", chosen.ID))
	}

	return assignment, true, nil
}

// firstFit returns the first candidate admitting the group, or nil
func (e *Engine) firstFit(ctx context.Context, candidates []*models.Region, group *models.Group) (*models.Region, error) {
	if e.opts.Workers <= 1 || len(candidates) < 2 {
		for _, region := range candidates {
			ok, err := e.admits(ctx, region, group)
			if err != nil {
				return nil, err
			}
			if ok {
				return region, nil
			}
		}
		return nil, nil
	}

	// Every candidate is checked, then the lowest index wins, so the answer
	// matches the sequential scan
	fits := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, region := range candidates {
		i, region := i, region
		g.Go(func() error {
			ok, err := e.admits(gctx, region, group)
			if err != nil {
				return err
			}
			fits[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, ok := range fits {
		if ok {
			return candidates[i], nil
		}
	}
	return nil, nil
}

func (e *Engine) admits(ctx context.Context, region *models.Region, group *models.Group) (bool, error) {
	if !constraint.NodeSatisfied(region, group) {
		return false, nil
	}
	if e.opts.Admitter == nil {
		return true, nil
	}
	ok, err := e.opts.Admitter.Admit(ctx, region, group)
	if err != nil {
		return false, fmt.Errorf("admission of group %s to region %s: %w", group.ID, region.ID, err)
	}
	return ok, nil
}

// LinkPlacement routes every non-self requirement between the regions its
// groups were assigned to. Candidate paths come from the region graph as it
// is now, ordered by latency, and ignore residual bandwidth; the first
// candidate that passes the path constraint is committed. It reports false
// as soon as one requirement has no passing candidate.
func (e *Engine) LinkPlacement(assignment map[string]string) (*LinkOutcome, bool) {
	residual := topology.NewResidual(e.model.RegionGraph)
	finder := topology.NewPathFinder(e.model.RegionGraph)
	paths := make(map[models.GroupPair][]string)

	for _, pair := range e.model.Requirements() {
		if pair.A == pair.B {
			continue
		}
		demand, _ := e.model.Requirement(pair)

		src, okA := assignment[pair.A]
		dst, okB := assignment[pair.B]
		if !okA || !okB {
			e.logger.Debug("Requirement endpoint not placed", zap.Stringer("pair", pair))
			return nil, false
		}

		committed := false
		for _, candidate := range finder.ShortestPaths(src, dst, e.opts.MaxPaths) {
			if !constraint.PathSatisfied(residual, candidate, demand.Bandwidth, demand.Latency) {
				continue
			}
			if err := residual.Consume(candidate, demand.Bandwidth); err != nil {
				continue
			}
			paths[pair] = candidate
			committed = true
			break
		}
		if !committed {
			e.logger.Debug("No path carries requirement",
				zap.Stringer("pair", pair),
				zap.String("from", src),
				zap.String("to", dst),
				zap.Int("bandwidth", demand.Bandwidth),
				zap.Int("latency", demand.Latency))
			return nil, false
		}
	}

	return &LinkOutcome{Paths: paths, Residual: residual}, true
}

// Place runs node placement and, if it succeeds, link placement. A result
// is returned only when both succeed.
func (e *Engine) Place(ctx context.Context, regions, groups []string) (*models.PlacementResult, bool, error) {
	nodes, ok, err := e.NodePlacement(ctx, regions, groups)
	if err != nil || !ok {
		return nil, false, err
	}

	links, ok := e.LinkPlacement(nodes)
	if !ok {
		return nil, false, nil
	}

	result := models.NewPlacementResult()
	for group, region := range nodes {
		result.NodePlacement[group] = region
	}
	for pair, path := range links.Paths {
		result.LinkPlacement[pair] = path
	}
	return result, true, nil
}
