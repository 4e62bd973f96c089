package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/global-data-controller/rankplace/internal/api"
	"github.com/global-data-controller/rankplace/internal/bootstrap"
	"github.com/global-data-controller/rankplace/internal/loader"
	"github.com/global-data-controller/rankplace/internal/rank"
	"github.com/global-data-controller/rankplace/internal/server"
	"github.com/global-data-controller/rankplace/internal/storage"
)

var configFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "rankplace",
		Short: "Rank regions and groups and enumerate alternative placements",
		Long: `rankplace reads a topology of cloud regions and application groups from
five CSV tables, ranks both by a random walk over their bandwidth graphs and
places every group on a region, routing every group requirement over a
latency bounded region path. Each successful placement is recorded and the
region hosting the most important group is removed, until no placement
remains.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	root.PersistentFlags().AddFlagSet(globalFlags())

	root.AddCommand(newSolveCommand(), newRankCommand(), newServeCommand(), newSchemaCommand())
	return root
}

// globalFlags are named after configuration keys so they override the file
// and the environment
func globalFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("global", pflag.ExitOnError)
	fs.String("input.dir", ".", "Directory holding the input tables")
	fs.String("input.default_zone", "default", "Zone name of capacity without zone affinity")
	fs.String("logging.level", "info", "Log level")
	fs.String("logging.format", "json", "Log format (json or console)")
	fs.Bool("telemetry.enabled", true, "Export metrics and traces")
	return fs
}

func solverFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("solver", pflag.ExitOnError)
	fs.Float64("solver.epsilon", 1e-4, "Convergence threshold of the ranking")
	fs.Float64("solver.p_jump", 0.15, "Teleport weight of the ranking")
	fs.Float64("solver.p_follow", 0.85, "Follow weight of the ranking")
	fs.Int("solver.max_iterations", 10000, "Iteration ceiling of the ranking")
	return fs
}

func searchFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("search", pflag.ExitOnError)
	fs.Int("solver.max_paths", 10, "Candidate paths tried per group requirement")
	fs.Int("solver.max_rounds", 0, "Maximum number of recorded solutions, 0 for no limit")
	fs.Duration("solver.time_limit", 0, "Wall-clock limit of the search, 0 for no limit")
	fs.Int("solver.workers", 1, "Concurrent constraint checks per group")
	fs.String("policy.path", "", "Optional Rego admission policy")
	fs.String("report.summary_path", "summary.csv", "Summary table written by the search")
	return fs
}

// initialize loads configuration with the command's flags and starts
// telemetry; the returned stop function flushes both
func initialize(cmd *cobra.Command) (*bootstrap.Bootstrap, func(), error) {
	ctx := cmd.Context()
	bs := bootstrap.New()
	if err := bs.InitializeWithFlags(ctx, configFile, cmd.Flags()); err != nil {
		return nil, nil, err
	}
	if err := bs.Start(ctx); err != nil {
		return nil, nil, err
	}
	return bs, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = bs.Stop(shutdownCtx)
	}, nil
}

func newSolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Enumerate placements and write the summary table",
		RunE: func(cmd *cobra.Command, args []string) error {
			bs, stop, err := initialize(cmd)
			if err != nil {
				return err
			}
			defer stop()

			ctx := cmd.Context()
			cfg := bs.GetConfig()
			logger := bs.GetLogger().Zap()

			store, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			outcome, err := solve(ctx, cfg, store, logger)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), outcome)
			return nil
		},
	}
	cmd.Flags().AddFlagSet(solverFlags())
	cmd.Flags().AddFlagSet(searchFlags())
	return cmd
}

func newRankCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Print the region and group rankings",
		RunE: func(cmd *cobra.Command, args []string) error {
			bs, stop, err := initialize(cmd)
			if err != nil {
				return err
			}
			defer stop()

			ctx := cmd.Context()
			cfg := bs.GetConfig()
			logger := bs.GetLogger().Zap()

			model, err := loader.New(loader.FilesFromConfig(cfg.Input), cfg.Input.DefaultZone, logger).Load(ctx)
			if err != nil {
				return err
			}
			ranking, err := rank.NewRanker(rankOptions(cfg), logger).RandomWalkRank(ctx, model)
			if err != nil {
				return err
			}
			return printRanking(cmd.OutOrStdout(), ranking)
		},
	}
	cmd.Flags().AddFlagSet(solverFlags())
	return cmd
}

func newServeCommand() *cobra.Command {
	var runSearch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded runs and the loaded topology over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			bs, stop, err := initialize(cmd)
			if err != nil {
				return err
			}
			defer stop()

			ctx := cmd.Context()
			cfg := bs.GetConfig()
			logger := bs.GetLogger().Zap()

			store, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			// the search removes regions from its model, so the API gets its own
			files := loader.FilesFromConfig(cfg.Input)
			model, err := loader.New(files, cfg.Input.DefaultZone, logger).Load(ctx)
			if err != nil {
				logger.Warn("Topology not loaded, serving stored runs only", zap.Error(err))
				model = nil
			}

			if cfg.EventBus.Enabled {
				closeBus := ingestEvents(ctx, cfg, store, logger)
				defer closeBus()
			}

			srv, err := server.New(cfg, api.NewBackend(store, model, rankOptions(cfg), logger), logger)
			if err != nil {
				return err
			}
			if err := srv.Start(ctx); err != nil {
				return err
			}

			if runSearch && model != nil {
				go func() {
					if _, err := solve(ctx, cfg, store, logger); err != nil {
						logger.Error("Search failed", zap.Error(err))
					}
				}()
			}

			<-ctx.Done()
			logger.Info("Shutdown signal received, stopping gracefully...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&runSearch, "solve", false, "Run a search in the background and record it in the store")
	cmd.Flags().AddFlagSet(solverFlags())
	cmd.Flags().AddFlagSet(searchFlags())
	cmd.Flags().String("server.host", "0.0.0.0", "Listen host")
	cmd.Flags().Int("server.port", 8080, "HTTP port")
	cmd.Flags().Int("server.grpc_port", 9090, "gRPC health port")
	return cmd
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the YDB solution tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			bs, stop, err := initialize(cmd)
			if err != nil {
				return err
			}
			defer stop()

			ctx := cmd.Context()
			cfg := bs.GetConfig()
			logger := bs.GetLogger().Zap()

			store, err := storage.NewYDBSolutionStore(ctx, cfg.Database.Endpoint, cfg.Database.Table, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.InitializeSchema(ctx); err != nil {
				return err
			}
			logger.Info("Schema initialized", zap.String("table", cfg.Database.Table))
			return nil
		},
	}
}
