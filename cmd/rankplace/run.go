package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/global-data-controller/rankplace/internal/config"
	"github.com/global-data-controller/rankplace/internal/eventbus"
	"github.com/global-data-controller/rankplace/internal/loader"
	"github.com/global-data-controller/rankplace/internal/models"
	"github.com/global-data-controller/rankplace/internal/placement"
	"github.com/global-data-controller/rankplace/internal/policy"
	"github.com/global-data-controller/rankplace/internal/rank"
	"github.com/global-data-controller/rankplace/internal/report"
	"github.com/global-data-controller/rankplace/internal/search"
	"github.com/global-data-controller/rankplace/internal/storage"
)

func rankOptions(cfg *config.Config) rank.Options {
	return rank.Options{
		Epsilon:       cfg.Solver.Epsilon,
		PJump:         cfg.Solver.PJump,
		PFollow:       cfg.Solver.PFollow,
		MaxIterations: cfg.Solver.MaxIterations,
	}
}

func searchOptions(cfg *config.Config) search.Options {
	return search.Options{
		MaxRounds: cfg.Solver.MaxRounds,
		TimeLimit: cfg.Solver.TimeLimit,
		Rank:      rankOptions(cfg),
		Placement: placement.Options{
			MaxPaths: cfg.Solver.MaxPaths,
			Workers:  cfg.Solver.Workers,
		},
	}
}

// openStore returns the YDB store when the database is enabled and an
// in-memory store otherwise
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.SolutionStore, error) {
	if !cfg.Database.Enabled {
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.NewYDBSolutionStore(ctx, cfg.Database.Endpoint, cfg.Database.Table, logger)
	if err != nil {
		return nil, err
	}
	if err := store.InitializeSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// solve loads a fresh model and runs one search. The summary table and the
// store are required sinks; the event bus is best effort.
func solve(ctx context.Context, cfg *config.Config, store storage.SolutionStore, logger *zap.Logger) (*search.Outcome, error) {
	model, err := loader.New(loader.FilesFromConfig(cfg.Input), cfg.Input.DefaultZone, logger).Load(ctx)
	if err != nil {
		return nil, err
	}

	opts := searchOptions(cfg)
	admitter, err := policy.LoadRegoAdmitter(ctx, cfg.Policy, logger)
	if err != nil {
		return nil, err
	}
	if admitter != nil {
		opts.Placement.Admitter = admitter
	}

	recorder := report.NewMultiRecorder(logger)

	if cfg.Report.SummaryPath != "" {
		summary, err := report.CreateSummary(cfg.Report.SummaryPath)
		if err != nil {
			return nil, err
		}
		defer summary.Close()
		recorder.Add("summary", summary)
	}

	recorder.Add("store", store)

	if cfg.EventBus.Enabled {
		bus, err := eventbus.NewEventBusFromConfig(cfg.EventBus, logger)
		if err != nil {
			logger.Warn("Event bus unavailable, continuing without events", zap.Error(err))
		} else {
			defer bus.Close()
			recorder.AddBestEffort("eventbus", eventbus.NewRecorder(bus, cfg.Telemetry.ServiceName))
		}
	}

	return search.NewEnumerator(model, opts, recorder, logger).Run(ctx)
}

// ingestEvents replays search events recorded by other processes into
// store. A bus that cannot be reached is logged and skipped.
func ingestEvents(ctx context.Context, cfg *config.Config, store storage.SolutionStore, logger *zap.Logger) func() {
	bus, err := eventbus.NewEventBusFromConfig(cfg.EventBus, logger)
	if err != nil {
		logger.Warn("Event bus unavailable, serving local runs only", zap.Error(err))
		return func() {}
	}
	if err := eventbus.NewIngestor(store, logger).Start(ctx, bus, cfg.EventBus.Consumer); err != nil {
		logger.Warn("Event ingestion not started", zap.Error(err))
	}
	return func() { _ = bus.Close() }
}

func printOutcome(w io.Writer, outcome *search.Outcome) {
	fmt.Fprintf(w, "run %s: %d solution(s), terminated: %s\n",
		outcome.Summary.RunID, outcome.Summary.Solutions, outcome.Summary.Reason)
}

func printRanking(w io.Writer, ranking *models.Ranking) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, section := range []struct {
		title string
		nodes []models.RankedNode
	}{
		{"REGION", ranking.Regions},
		{"GROUP", ranking.Groups},
	} {
		fmt.Fprintf(tw, "RANK\t%s\tSCORE\n", section.title)
		for i, n := range section.nodes {
			fmt.Fprintf(tw, "%d\t%s\t%.6f\n", i+1, n.ID, n.Score)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
