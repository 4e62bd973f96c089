// Package constraint holds the pure feasibility predicates used by placement:
// whether a region can host a group and whether a region path can carry a
// group-to-group communication requirement.
package constraint

import (
	"sort"

	"github.com/global-data-controller/rankplace/internal/models"
	"github.com/global-data-controller/rankplace/internal/topology"
)

// ResourceFits reports whether the region satisfies the group's demand for
// one resource kind.
//
// Without zone sub-demands the aggregate demand must be strictly below the
// region's capacity summed over all zones. With sub-demands, the largest
// demand is paired with the largest zone capacity (no-affinity zone
// excluded), the second with the second, and so on; each demand must not
// exceed its paired capacity.
func ResourceFits(region *models.Region, group *models.Group, resource string) bool {
	demand, ok := group.Demands[resource]
	if !ok {
		return true
	}

	if !demand.Zones.HasZones() {
		return demand.Quantity < region.TotalResource(resource)
	}

	demands := append([]int(nil), demand.Zones...)
	sort.Sort(sort.Reverse(sort.IntSlice(demands)))

	capacities := region.ZoneCapacities(resource)
	sort.Sort(sort.Reverse(sort.IntSlice(capacities)))

	if len(capacities) < len(demands) {
		return false
	}
	for i, d := range demands {
		if d > capacities[i] {
			return false
		}
	}
	return true
}

// NodeResourceFits reports whether every resource demand of the group fits
func NodeResourceFits(region *models.Region, group *models.Group) bool {
	for resource := range group.Demands {
		if !ResourceFits(region, group, resource) {
			return false
		}
	}
	return true
}

// TierSatisfies reports whether an offered tier meets a required one:
// a hotter or equal offer always satisfies, a colder one never does
func TierSatisfies(offered, required models.Tier) bool {
	return required.Index() >= offered.Index()
}

// NodeTierFits checks the region's tier at the group's required location.
// A region without a tier at that location does not fit.
func NodeTierFits(region *models.Region, group *models.Group) bool {
	offered, ok := region.TierAt(group.Requires.Location)
	if !ok || !offered.Valid() {
		return false
	}
	return TierSatisfies(offered, group.Requires.Tier)
}

// NodeSatisfied is the conjunction of the resource and tier predicates
func NodeSatisfied(region *models.Region, group *models.Group) bool {
	return NodeResourceFits(region, group) && NodeTierFits(region, group)
}

// PathSatisfied reports whether every hop of the path has at least the
// demanded residual bandwidth and the path's total latency is strictly
// below the latency demand
func PathSatisfied(residual *topology.Residual, path []string, bandwidth, latency int) bool {
	for i := 0; i+1 < len(path); i++ {
		bw, ok := residual.Bandwidth(path[i], path[i+1])
		if !ok || bw < bandwidth {
			return false
		}
	}
	total, ok := residual.PathLatency(path)
	return ok && total < latency
}
