package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/ydb-platform/ydb-go-sdk/v3"
	"github.com/ydb-platform/ydb-go-sdk/v3/table"
	"github.com/ydb-platform/ydb-go-sdk/v3/table/result/named"
	"github.com/ydb-platform/ydb-go-sdk/v3/table/types"
	"go.uber.org/zap"

	"github.com/global-data-controller/rankplace/internal/models"
)

// DefaultTable is the table holding solutions; run summaries live in the
// same name with a "_runs" suffix
const DefaultTable = "placement_solutions"

// YDBSolutionStore implements SolutionStore on YDB tables
type YDBSolutionStore struct {
	db        *ydb.Driver
	solutions string
	runs      string
	logger    *zap.Logger
}

// NewYDBSolutionStore connects to YDB. dsn is a connection string such as
// grpc://localhost:2136/local.
func NewYDBSolutionStore(ctx context.Context, dsn, tableName string, logger *zap.Logger) (*YDBSolutionStore, error) {
	if tableName == "" {
		tableName = DefaultTable
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := ydb.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to YDB: %w", err)
	}

	return &YDBSolutionStore{
		db:        db,
		solutions: tableName,
		runs:      tableName + "_runs",
		logger:    logger,
	}, nil
}

// InitializeSchema creates the tables if they do not exist
func (s *YDBSolutionStore) InitializeSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id Utf8,
			round Int32,
			elapsed_seconds Double,
			recorded_at Timestamp,
			payload Utf8,
			PRIMARY KEY (run_id, round)
		)`, quote(s.solutions)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id Utf8,
			solutions Int32,
			reason Utf8,
			started_at Timestamp,
			finished_at Timestamp,
			PRIMARY KEY (run_id)
		)`, quote(s.runs)),
	}

	return s.db.Table().Do(ctx, func(ctx context.Context, session table.Session) error {
		for _, stmt := range statements {
			if err := session.ExecuteSchemeQuery(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute schema statement: %w", err)
			}
		}
		return nil
	}, table.WithIdempotent())
}

// RecordSolution upserts one solution row
func (s *YDBSolutionStore) RecordSolution(ctx context.Context, solution *models.Solution) error {
	payload, err := encodeResult(solution.Result)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		DECLARE $run_id AS Utf8;
		DECLARE $round AS Int32;
		DECLARE $elapsed_seconds AS Double;
		DECLARE $recorded_at AS Timestamp;
		DECLARE $payload AS Utf8;

		UPSERT INTO %s (run_id, round, elapsed_seconds, recorded_at, payload)
		VALUES ($run_id, $round, $elapsed_seconds, $recorded_at, $payload);
	`, quote(s.solutions))

	err = s.db.Table().Do(ctx, func(ctx context.Context, session table.Session) error {
		_, _, err := session.Execute(ctx, table.DefaultTxControl(), query,
			table.NewQueryParameters(
				table.ValueParam("$run_id", types.UTF8Value(solution.RunID)),
				table.ValueParam("$round", types.Int32Value(int32(solution.Round))),
				table.ValueParam("$elapsed_seconds", types.DoubleValue(solution.Elapsed.Seconds())),
				table.ValueParam("$recorded_at", types.TimestampValueFromTime(solution.RecordedAt)),
				table.ValueParam("$payload", types.UTF8Value(payload)),
			))
		return err
	}, table.WithIdempotent())
	if err != nil {
		return fmt.Errorf("failed to save solution %s/%d: %w", solution.RunID, solution.Round, err)
	}

	s.logger.Debug("Solution stored", zap.String("run_id", solution.RunID), zap.Int("round", solution.Round))
	return nil
}

// RecordTermination upserts the run summary
func (s *YDBSolutionStore) RecordTermination(ctx context.Context, summary *models.RunSummary) error {
	query := fmt.Sprintf(`
		DECLARE $run_id AS Utf8;
		DECLARE $solutions AS Int32;
		DECLARE $reason AS Utf8;
		DECLARE $started_at AS Timestamp;
		DECLARE $finished_at AS Timestamp;

		UPSERT INTO %s (run_id, solutions, reason, started_at, finished_at)
		VALUES ($run_id, $solutions, $reason, $started_at, $finished_at);
	`, quote(s.runs))

	err := s.db.Table().Do(ctx, func(ctx context.Context, session table.Session) error {
		_, _, err := session.Execute(ctx, table.DefaultTxControl(), query,
			table.NewQueryParameters(
				table.ValueParam("$run_id", types.UTF8Value(summary.RunID)),
				table.ValueParam("$solutions", types.Int32Value(int32(summary.Solutions))),
				table.ValueParam("$reason", types.UTF8Value(string(summary.Reason))),
				table.ValueParam("$started_at", types.TimestampValueFromTime(summary.StartedAt)),
				table.ValueParam("$finished_at", types.TimestampValueFromTime(summary.FinishedAt)),
			))
		return err
	}, table.WithIdempotent())
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", summary.RunID, err)
	}
	return nil
}

// ListSolutions returns the solutions of a run ordered by round
func (s *YDBSolutionStore) ListSolutions(ctx context.Context, runID string) ([]*models.Solution, error) {
	query := fmt.Sprintf(`
		DECLARE $run_id AS Utf8;

		SELECT run_id, round, elapsed_seconds, recorded_at, payload
		FROM %s
		WHERE run_id = $run_id
		ORDER BY round;
	`, quote(s.solutions))

	var solutions []*models.Solution
	err := s.db.Table().Do(ctx, func(ctx context.Context, session table.Session) error {
		solutions = solutions[:0]
		_, res, err := session.Execute(ctx, table.DefaultTxControl(), query,
			table.NewQueryParameters(table.ValueParam("$run_id", types.UTF8Value(runID))))
		if err != nil {
			return err
		}
		defer res.Close()

		for res.NextResultSet(ctx) {
			for res.NextRow() {
				var (
					id         string
					round      int32
					elapsed    float64
					recordedAt time.Time
					payload    string
				)
				if err := res.ScanNamed(
					named.OptionalWithDefault("run_id", &id),
					named.OptionalWithDefault("round", &round),
					named.OptionalWithDefault("elapsed_seconds", &elapsed),
					named.OptionalWithDefault("recorded_at", &recordedAt),
					named.OptionalWithDefault("payload", &payload),
				); err != nil {
					return err
				}
				result, err := decodeResult(payload)
				if err != nil {
					return err
				}
				solutions = append(solutions, &models.Solution{
					RunID:      id,
					Round:      int(round),
					Elapsed:    time.Duration(elapsed * float64(time.Second)),
					RecordedAt: recordedAt,
					Result:     result,
				})
			}
		}
		return res.Err()
	}, table.WithIdempotent())
	if err != nil {
		return nil, fmt.Errorf("failed to list solutions of run %s: %w", runID, err)
	}

	if len(solutions) == 0 {
		if _, err := s.GetRun(ctx, runID); err != nil {
			return nil, err
		}
	}
	return solutions, nil
}

// GetRun returns a run summary
func (s *YDBSolutionStore) GetRun(ctx context.Context, runID string) (*models.RunSummary, error) {
	runs, err := s.queryRuns(ctx, fmt.Sprintf(`
		DECLARE $run_id AS Utf8;

		SELECT run_id, solutions, reason, started_at, finished_at
		FROM %s
		WHERE run_id = $run_id;
	`, quote(s.runs)), table.NewQueryParameters(table.ValueParam("$run_id", types.UTF8Value(runID))))
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

// ListRuns returns finished runs, most recent first
func (s *YDBSolutionStore) ListRuns(ctx context.Context) ([]*models.RunSummary, error) {
	runs, err := s.queryRuns(ctx, fmt.Sprintf(`
		SELECT run_id, solutions, reason, started_at, finished_at
		FROM %s;
	`, quote(s.runs)), table.NewQueryParameters())
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *YDBSolutionStore) queryRuns(ctx context.Context, query string, params *table.QueryParameters) ([]*models.RunSummary, error) {
	var runs []*models.RunSummary
	err := s.db.Table().Do(ctx, func(ctx context.Context, session table.Session) error {
		runs = runs[:0]
		_, res, err := session.Execute(ctx, table.DefaultTxControl(), query, params)
		if err != nil {
			return err
		}
		defer res.Close()

		for res.NextResultSet(ctx) {
			for res.NextRow() {
				var (
					run       models.RunSummary
					solutions int32
					reason    string
				)
				if err := res.ScanNamed(
					named.OptionalWithDefault("run_id", &run.RunID),
					named.OptionalWithDefault("solutions", &solutions),
					named.OptionalWithDefault("reason", &reason),
					named.OptionalWithDefault("started_at", &run.StartedAt),
					named.OptionalWithDefault("finished_at", &run.FinishedAt),
				); err != nil {
					return err
				}
				run.Solutions = int(solutions)
				run.Reason = models.TerminationReason(reason)
				runs = append(runs, &run)
			}
		}
		return res.Err()
	}, table.WithIdempotent())
	return runs, err
}

// Close closes the YDB connection
func (s *YDBSolutionStore) Close() error {
	if s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.db.Close(ctx)
}

// quote renders a table name as a YQL identifier
func quote(name string) string {
	return "`" + path.Clean(name) + "`"
}

// resultPayload is the stored form of a placement result. Link placements
// are a list because group IDs may contain the pair separator.
type resultPayload struct {
	Nodes map[string]string `json:"nodes"`
	Links []linkPayload     `json:"links"`
}

type linkPayload struct {
	A    string   `json:"a"`
	B    string   `json:"b"`
	Path []string `json:"path"`
}

func encodeResult(result *models.PlacementResult) (string, error) {
	p := resultPayload{Nodes: map[string]string{}}
	if result != nil {
		p.Nodes = result.NodePlacement
		for pair, regions := range result.LinkPlacement {
			p.Links = append(p.Links, linkPayload{A: pair.A, B: pair.B, Path: regions})
		}
	}
	// map iteration order is random; keep the stored text stable
	sortLinks(p.Links)
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode placement: %w", err)
	}
	return string(data), nil
}

func decodeResult(payload string) (*models.PlacementResult, error) {
	var p resultPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("failed to decode placement: %w", err)
	}
	result := models.NewPlacementResult()
	for group, region := range p.Nodes {
		result.NodePlacement[group] = region
	}
	for _, l := range p.Links {
		result.LinkPlacement[models.GroupPair{A: l.A, B: l.B}] = l.Path
	}
	return result, nil
}

func sortLinks(links []linkPayload) {
	sort.Slice(links, func(i, j int) bool {
		if links[i].A != links[j].A {
			return links[i].A < links[j].A
		}
		return links[i].B < links[j].B
	})
}
