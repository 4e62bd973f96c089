package api

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/global-data-controller/rankplace/internal/models"
	"github.com/global-data-controller/rankplace/internal/rank"
	"github.com/global-data-controller/rankplace/internal/storage"
	"github.com/global-data-controller/rankplace/internal/topology"
)

var (
	// ErrNotFound marks an unknown run, round, region or group
	ErrNotFound = errors.New("not found")
	// ErrNoTopology is returned by topology queries when no input was loaded
	ErrNoTopology = errors.New("no topology loaded")
)

// Services is the read-only backend of the report API
type Services interface {
	ListRuns(ctx context.Context) ([]*models.RunSummary, error)
	GetRun(ctx context.Context, runID string) (*models.RunSummary, error)
	ListSolutions(ctx context.Context, runID string) ([]*models.Solution, error)

	Regions(ctx context.Context) ([]*models.Region, error)
	Groups(ctx context.Context) ([]*models.Group, error)
	Ranking(ctx context.Context) (*models.Ranking, error)
}

// Backend serves runs from a solution store and topology queries from a
// model that nothing else mutates. The ranking is computed on first use.
type Backend struct {
	store  storage.SolutionStore
	model  *topology.Model
	ranker *rank.Ranker

	once    sync.Once
	ranking *models.Ranking
	rankErr error
}

// NewBackend creates a backend; model may be nil when only stored runs are
// served
func NewBackend(store storage.SolutionStore, model *topology.Model, opts rank.Options, logger *zap.Logger) *Backend {
	return &Backend{
		store:  store,
		model:  model,
		ranker: rank.NewRanker(opts, logger),
	}
}

func (b *Backend) ListRuns(ctx context.Context) ([]*models.RunSummary, error) {
	return b.store.ListRuns(ctx)
}

func (b *Backend) GetRun(ctx context.Context, runID string) (*models.RunSummary, error) {
	run, err := b.store.GetRun(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return run, err
}

func (b *Backend) ListSolutions(ctx context.Context, runID string) ([]*models.Solution, error) {
	solutions, err := b.store.ListSolutions(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return solutions, err
}

func (b *Backend) Regions(_ context.Context) ([]*models.Region, error) {
	if b.model == nil {
		return nil, ErrNoTopology
	}
	ids := b.model.Regions()
	regions := make([]*models.Region, 0, len(ids))
	for _, id := range ids {
		if r, ok := b.model.Region(id); ok {
			regions = append(regions, r)
		}
	}
	return regions, nil
}

func (b *Backend) Groups(_ context.Context) ([]*models.Group, error) {
	if b.model == nil {
		return nil, ErrNoTopology
	}
	ids := b.model.Groups()
	groups := make([]*models.Group, 0, len(ids))
	for _, id := range ids {
		if g, ok := b.model.Group(id); ok {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

func (b *Backend) Ranking(ctx context.Context) (*models.Ranking, error) {
	if b.model == nil {
		return nil, ErrNoTopology
	}
	b.once.Do(func() {
		b.ranking, b.rankErr = b.ranker.RandomWalkRank(context.WithoutCancel(ctx), b.model)
	})
	return b.ranking, b.rankErr
}
