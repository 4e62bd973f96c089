package topology

import (
	"errors"
	"fmt"

	"github.com/global-data-controller/rankplace/internal/models"
)

// ErrMalformedInput marks input that references unknown entities or carries
// invalid values. The model is never built from such input.
var ErrMalformedInput = errors.New("malformed input")

// Model is the topology the placement core runs on: regions and groups with
// their attributes, the region network and the group demand network
type Model struct {
	regions map[string]*models.Region
	groups  map[string]*models.Group

	RegionGraph *Graph
	GroupGraph  *Graph

	// requirements holds the group link table in storage order
	requirements []models.GroupPair
}

// NewModel validates the inputs and builds both graphs. Regions and groups
// keep the order in which they are given.
func NewModel(regions []*models.Region, groups []*models.Group, regionLinks, groupLinks []models.LinkRecord) (*Model, error) {
	m := &Model{
		regions:     make(map[string]*models.Region, len(regions)),
		groups:      make(map[string]*models.Group, len(groups)),
		RegionGraph: NewGraph(),
		GroupGraph:  NewGraph(),
	}

	resources := make(map[string]bool)
	locations := make(map[string]bool)
	for _, region := range regions {
		if region == nil || region.ID == "" {
			return nil, fmt.Errorf("%w: region without ID", ErrMalformedInput)
		}
		if _, dup := m.regions[region.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate region %s", ErrMalformedInput, region.ID)
		}
		for zoneID, cells := range region.Capacity {
			for resource, quantity := range cells {
				if quantity < 0 {
					return nil, fmt.Errorf("%w: region %s zone %s has negative %s capacity %d",
						ErrMalformedInput, region.ID, zoneID, resource, quantity)
				}
				resources[resource] = true
			}
		}
		for location, tier := range region.Tiers {
			if !tier.Valid() {
				return nil, fmt.Errorf("%w: region %s has unknown tier %q at %s", ErrMalformedInput, region.ID, tier, location)
			}
			locations[location] = true
		}
		m.regions[region.ID] = region
		m.RegionGraph.AddNode(region.ID)
	}

	for _, group := range groups {
		if group == nil || group.ID == "" {
			return nil, fmt.Errorf("%w: group without ID", ErrMalformedInput)
		}
		if _, dup := m.groups[group.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate group %s", ErrMalformedInput, group.ID)
		}
		if err := validateGroup(group, resources, locations); err != nil {
			return nil, err
		}
		m.groups[group.ID] = group
		m.GroupGraph.AddNode(group.ID)
	}

	for _, record := range regionLinks {
		if err := validateLink(record, "region", m.RegionGraph); err != nil {
			return nil, err
		}
		// a region is never a hop to itself; self rows add no incident
		// bandwidth and no rank neighbour
		if record.SelfPair() {
			continue
		}
		m.RegionGraph.SetEdge(record.A, record.B, record.Link)
	}

	seen := make(map[edgeKey]bool)
	for _, record := range groupLinks {
		if err := validateLink(record, "group", m.GroupGraph); err != nil {
			return nil, err
		}
		m.GroupGraph.SetEdge(record.A, record.B, record.Link)
		key := newEdgeKey(record.A, record.B)
		if !seen[key] {
			seen[key] = true
			m.requirements = append(m.requirements, models.GroupPair{A: record.A, B: record.B})
		}
	}

	return m, nil
}

func validateGroup(group *models.Group, resources, locations map[string]bool) error {
	for resource, demand := range group.Demands {
		if !resources[resource] {
			return fmt.Errorf("%w: group %s demands unknown resource %s", ErrMalformedInput, group.ID, resource)
		}
		if demand.Quantity < 0 {
			return fmt.Errorf("%w: group %s has negative %s demand %d", ErrMalformedInput, group.ID, resource, demand.Quantity)
		}
		for _, sub := range demand.Zones {
			if sub <= 0 {
				return fmt.Errorf("%w: group %s has non-positive zone demand %d for %s", ErrMalformedInput, group.ID, sub, resource)
			}
		}
	}
	if !group.Requires.Tier.Valid() {
		return fmt.Errorf("%w: group %s requires unknown tier %q", ErrMalformedInput, group.ID, group.Requires.Tier)
	}
	if !locations[group.Requires.Location] {
		return fmt.Errorf("%w: group %s requires tier at unknown location %s", ErrMalformedInput, group.ID, group.Requires.Location)
	}
	return nil
}

func validateLink(record models.LinkRecord, kind string, g *Graph) error {
	if !g.HasNode(record.A) {
		return fmt.Errorf("%w: %s link references unknown %s %s", ErrMalformedInput, kind, kind, record.A)
	}
	if !g.HasNode(record.B) {
		return fmt.Errorf("%w: %s link references unknown %s %s", ErrMalformedInput, kind, kind, record.B)
	}
	if record.Link.Latency < 0 || record.Link.Bandwidth < 0 {
		return fmt.Errorf("%w: %s link %s-%s has negative latency or bandwidth", ErrMalformedInput, kind, record.A, record.B)
	}
	return nil
}

// Region returns a region by ID
func (m *Model) Region(id string) (*models.Region, bool) {
	r, ok := m.regions[id]
	return r, ok
}

// Group returns a group by ID
func (m *Model) Group(id string) (*models.Group, bool) {
	g, ok := m.groups[id]
	return g, ok
}

// Regions returns the IDs of the regions still in the topology, in load order
func (m *Model) Regions() []string {
	return m.RegionGraph.Nodes()
}

// Groups returns the group IDs in load order
func (m *Model) Groups() []string {
	return m.GroupGraph.Nodes()
}

// Requirements returns the group communication requirements in storage
// order, including self pairs
func (m *Model) Requirements() []models.GroupPair {
	out := make([]models.GroupPair, len(m.requirements))
	copy(out, m.requirements)
	return out
}

// Requirement returns the latency and bandwidth demanded between two groups
func (m *Model) Requirement(pair models.GroupPair) (models.Link, bool) {
	return m.GroupGraph.Edge(pair.A, pair.B)
}

// RegionTotalResource sums every capacity cell of a region
func (m *Model) RegionTotalResource(id string) int {
	if r, ok := m.regions[id]; ok {
		return r.TotalCapacity()
	}
	return 0
}

// GroupTotalResource sums the aggregate demands of a group
func (m *Model) GroupTotalResource(id string) int {
	if g, ok := m.groups[id]; ok {
		return g.TotalDemand()
	}
	return 0
}

// RegionIncidentBandwidth sums the bandwidth of the region's network edges
func (m *Model) RegionIncidentBandwidth(id string) int {
	return m.RegionGraph.IncidentBandwidth(id)
}

// GroupIncidentBandwidth sums the bandwidth of the group's demand edges
func (m *Model) GroupIncidentBandwidth(id string) int {
	return m.GroupGraph.IncidentBandwidth(id)
}

// RemoveRegion permanently deletes a region and its incident edges from the
// region network. The region record stays resolvable for reporting.
func (m *Model) RemoveRegion(id string) bool {
	return m.RegionGraph.RemoveNode(id)
}
