package policy

// Templates holds ready-made admission rules. Each declares package
// rankplace.placement so it answers DefaultQuery.
var Templates = map[string]string{
	// A region may only host groups asking for exactly the tier it offers
	// at their location, keeping hot regions free for hot groups.
	"exact-tier": `
package rankplace.placement

default allow := false

allow if {
	input.region.tiers[input.group.requires.location] == input.group.requires.tier
}`,

	// Leave half of a region's total capacity unused.
	"headroom": `
package rankplace.placement

default allow := false

allow if {
	input.group.total_demand * 2 <= input.region.total_capacity
}`,

	// Regions listed under data.rankplace.denied_regions never host groups.
	"deny-regions": `
package rankplace.placement

default allow := true

allow := false if {
	some id in data.rankplace.denied_regions
	id == input.region.id
}`,
}
