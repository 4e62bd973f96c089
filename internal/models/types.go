package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultZone is the zone that carries capacity with no zone affinity
const DefaultZone = "default"

// Tier represents the temperature service tier offered or required at a location
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// tierOrder lists tiers from best to worst
var tierOrder = []Tier{TierHot, TierWarm, TierCold}

// Index returns the position of the tier in the hot < warm < cold order,
// or -1 for an unknown tier
func (t Tier) Index() int {
	for i, candidate := range tierOrder {
		if candidate == t {
			return i
		}
	}
	return -1
}

// Valid reports whether the tier is one of hot, warm or cold
func (t Tier) Valid() bool {
	return t.Index() >= 0
}

// ParseTier parses a tier tag
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// ZoneCapacity maps zone ID -> resource kind -> quantity
type ZoneCapacity map[string]map[string]int

// Set stores a capacity cell, creating the zone entry when needed
func (z ZoneCapacity) Set(zoneID, resource string, quantity int) {
	resources, ok := z[zoneID]
	if !ok {
		resources = make(map[string]int)
		z[zoneID] = resources
	}
	resources[resource] = quantity
}

// Region represents a physical placement target
type Region struct {
	ID       string          `json:"id"`
	Capacity ZoneCapacity    `json:"capacity"`
	Tiers    map[string]Tier `json:"tiers"` // location ID -> tier
}

// NewRegion creates an empty region
func NewRegion(id string) *Region {
	return &Region{
		ID:       id,
		Capacity: make(ZoneCapacity),
		Tiers:    make(map[string]Tier),
	}
}

// TotalResource returns the capacity of one resource kind summed over all zones
func (r *Region) TotalResource(resource string) int {
	total := 0
	for _, resources := range r.Capacity {
		total += resources[resource]
	}
	return total
}

// TotalCapacity returns the sum of every capacity cell of the region
func (r *Region) TotalCapacity() int {
	total := 0
	for _, resources := range r.Capacity {
		for _, quantity := range resources {
			total += quantity
		}
	}
	return total
}

// ZoneCapacities returns the per-zone capacities of a resource kind,
// skipping the no-affinity zone and zones that do not offer the resource
func (r *Region) ZoneCapacities(resource string) []int {
	var capacities []int
	for zoneID, resources := range r.Capacity {
		if zoneID == DefaultZone {
			continue
		}
		if quantity, ok := resources[resource]; ok {
			capacities = append(capacities, quantity)
		}
	}
	return capacities
}

// TierAt returns the tier the region offers at a location
func (r *Region) TierAt(location string) (Tier, bool) {
	t, ok := r.Tiers[location]
	return t, ok
}

// ZoneDemand is either "no per-zone demand" (nil/empty) or an ordered list
// of zone-scoped sub-requests, each matched to a distinct zone
type ZoneDemand []int

// NoZoneDemand is the explicit "satisfy from aggregate capacity" variant
var NoZoneDemand ZoneDemand

// HasZones reports whether the demand carries per-zone sub-requests
func (z ZoneDemand) HasZones() bool {
	return len(z) > 0
}

// String renders the demand the way it appears in the group table
func (z ZoneDemand) String() string {
	parts := make([]string, len(z))
	for i, d := range z {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return strings.Join(parts, "/")
}

// ResourceDemand is a group's need for one resource kind
type ResourceDemand struct {
	Quantity int        `json:"quantity"`
	Zones    ZoneDemand `json:"zones,omitempty"`
}

// TierRequirement is the tier a group requires at a location
type TierRequirement struct {
	Location string `json:"location"`
	Tier     Tier   `json:"tier"`
}

// Group represents a demand unit to be placed in exactly one region
type Group struct {
	ID       string                    `json:"id"`
	Demands  map[string]ResourceDemand `json:"demands"` // resource kind -> demand
	Requires TierRequirement           `json:"requires"`
}

// NewGroup creates a group without demands
func NewGroup(id string) *Group {
	return &Group{
		ID:      id,
		Demands: make(map[string]ResourceDemand),
	}
}

// TotalDemand returns the sum of the aggregate quantities over all resource kinds
func (g *Group) TotalDemand() int {
	total := 0
	for _, demand := range g.Demands {
		total += demand.Quantity
	}
	return total
}

// Link carries the latency and bandwidth of an edge or a communication requirement
type Link struct {
	Latency   int `json:"latency"`
	Bandwidth int `json:"bandwidth"`
}

// LinkRecord is one row of a region or group link table
type LinkRecord struct {
	A    string `json:"a"`
	B    string `json:"b"`
	Link Link   `json:"link"`
}

// SelfPair reports whether both endpoints are the same node
func (l LinkRecord) SelfPair() bool {
	return l.A == l.B
}

// GroupPair identifies a communication requirement between two groups,
// in the order it was stored
type GroupPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// String renders the pair as "A-B"
func (p GroupPair) String() string {
	return p.A + "-" + p.B
}

// MarshalText lets pairs key JSON objects
func (p GroupPair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PlacementResult is one full solution: groups mapped to distinct regions and
// every non-self communication requirement routed on a simple region path
type PlacementResult struct {
	NodePlacement map[string]string      `json:"node_placement"`
	LinkPlacement map[GroupPair][]string `json:"link_placement"`
}

// NewPlacementResult creates an empty result
func NewPlacementResult() *PlacementResult {
	return &PlacementResult{
		NodePlacement: make(map[string]string),
		LinkPlacement: make(map[GroupPair][]string),
	}
}

// Solution is a recorded successful round of the solution search
type Solution struct {
	RunID      string           `json:"run_id"`
	Round      int              `json:"round"`
	Elapsed    time.Duration    `json:"elapsed"`
	RecordedAt time.Time        `json:"recorded_at"`
	Result     *PlacementResult `json:"result"`
}

// RankedNode is a node ID with its importance score
type RankedNode struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Ranking holds the region and group orders produced by the ranking engine
type Ranking struct {
	Regions []RankedNode `json:"regions"`
	Groups  []RankedNode `json:"groups"`
}

// RegionIDs returns the ranked region IDs, best first
func (r *Ranking) RegionIDs() []string {
	return nodeIDs(r.Regions)
}

// GroupIDs returns the ranked group IDs, most important first
func (r *Ranking) GroupIDs() []string {
	return nodeIDs(r.Groups)
}

func nodeIDs(nodes []RankedNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// TerminationReason says why a solution search stopped
type TerminationReason string

const (
	// ReasonInfeasible: the last placement attempt failed
	ReasonInfeasible TerminationReason = "infeasible"
	ReasonRoundLimit TerminationReason = "round_limit"
	ReasonTimeLimit  TerminationReason = "time_limit"
	ReasonCancelled  TerminationReason = "cancelled"
)

// RunSummary describes a finished solution search
type RunSummary struct {
	RunID      string            `json:"run_id"`
	Solutions  int               `json:"solutions"`
	Reason     TerminationReason `json:"reason"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}
