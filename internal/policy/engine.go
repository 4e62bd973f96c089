// Package policy evaluates an optional Rego admission rule for every
// (region, group) candidate of node placement. The rule is an extra
// conjunct: it can only reject candidates the built-in constraints accept.
package policy

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"go.uber.org/zap"

	"github.com/global-data-controller/rankplace/internal/config"
	"github.com/global-data-controller/rankplace/internal/models"
)

// DefaultQuery is the rule consulted when no query is configured
const DefaultQuery = "data.rankplace.placement.allow"

// Options configures a RegoAdmitter
type Options struct {
	// Query must evaluate to a boolean; undefined means "deny"
	Query string
	// Data is exposed to the module under data
	Data map[string]interface{}
}

// RegoAdmitter implements placement.Admitter with a prepared Rego query.
// Decisions are cached per (region, group) pair since both are immutable
// for the lifetime of a model.
type RegoAdmitter struct {
	query  rego.PreparedEvalQuery
	name   string
	logger *zap.Logger

	mu        sync.RWMutex
	decisions map[decisionKey]bool
}

type decisionKey struct {
	region string
	group  string
}

// NewRegoAdmitter compiles module (named name for error messages)
func NewRegoAdmitter(ctx context.Context, name, module string, opts Options, logger *zap.Logger) (*RegoAdmitter, error) {
	if opts.Query == "" {
		opts.Query = DefaultQuery
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	regoOpts := []func(*rego.Rego){
		rego.Query(opts.Query),
		rego.Module(name, module),
	}
	if opts.Data != nil {
		regoOpts = append(regoOpts, rego.Store(inmem.NewFromObject(opts.Data)))
	}

	query, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("invalid Rego policy %s: %w", name, err)
	}

	logger.Info("Admission policy loaded", zap.String("policy", name), zap.String("query", opts.Query))
	return &RegoAdmitter{
		query:     query,
		name:      name,
		logger:    logger,
		decisions: make(map[decisionKey]bool),
	}, nil
}

// LoadRegoAdmitter reads the module from the configured path. It returns
// nil without error when no path is configured.
func LoadRegoAdmitter(ctx context.Context, cfg config.PolicyConfig, logger *zap.Logger) (*RegoAdmitter, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	module, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return NewRegoAdmitter(ctx, cfg.Path, string(module), Options{Query: cfg.Query}, logger)
}

// Admit evaluates the rule with input {"region": ..., "group": ...}
func (a *RegoAdmitter) Admit(ctx context.Context, region *models.Region, group *models.Group) (bool, error) {
	key := decisionKey{region: region.ID, group: group.ID}
	a.mu.RLock()
	allowed, ok := a.decisions[key]
	a.mu.RUnlock()
	if ok {
		return allowed, nil
	}

	rs, err := a.query.Eval(ctx, rego.EvalInput(Input(region, group)))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy %s: %w", a.name, err)
	}

	allowed, err = decision(rs)
	if err != nil {
		return false, fmt.Errorf("policy %s: %w", a.name, err)
	}

	a.mu.Lock()
	a.decisions[key] = allowed
	a.mu.Unlock()

	a.logger.Debug("Admission decided",
		zap.String("region", region.ID),
		zap.String("group", group.ID),
		zap.Bool("allowed", allowed))
	return allowed, nil
}

// decision reads a boolean out of a result set; an undefined result denies
func decision(rs rego.ResultSet) (bool, error) {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	value := rs[0].Expressions[0].Value
	allowed, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("query returned %T, want bool", value)
	}
	return allowed, nil
}

// Input shapes a candidate pair for the Rego module
func Input(region *models.Region, group *models.Group) map[string]interface{} {
	capacity := make(map[string]interface{}, len(region.Capacity))
	for zone, resources := range region.Capacity {
		cells := make(map[string]interface{}, len(resources))
		for kind, quantity := range resources {
			cells[kind] = quantity
		}
		capacity[zone] = cells
	}
	tiers := make(map[string]interface{}, len(region.Tiers))
	for location, tier := range region.Tiers {
		tiers[location] = string(tier)
	}

	demands := make(map[string]interface{}, len(group.Demands))
	for kind, demand := range group.Demands {
		zones := make([]interface{}, len(demand.Zones))
		for i, z := range demand.Zones {
			zones[i] = z
		}
		demands[kind] = map[string]interface{}{
			"quantity": demand.Quantity,
			"zones":    zones,
		}
	}

	return map[string]interface{}{
		"region": map[string]interface{}{
			"id":             region.ID,
			"capacity":       capacity,
			"tiers":          tiers,
			"total_capacity": region.TotalCapacity(),
		},
		"group": map[string]interface{}{
			"id":      group.ID,
			"demands": demands,
			"requires": map[string]interface{}{
				"location": group.Requires.Location,
				"tier":     string(group.Requires.Tier),
			},
			"total_demand": group.TotalDemand(),
		},
	}
}
