package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTier(t *testing.T) {
	t.Run("Order", func(t *testing.T) {
		assert.Equal(t, 0, TierHot.Index())
		assert.Equal(t, 1, TierWarm.Index())
		assert.Equal(t, 2, TierCold.Index())
		assert.Equal(t, -1, Tier("lukewarm").Index())
	})

	t.Run("Parse", func(t *testing.T) {
		tier, err := ParseTier(" Warm ")
		require.NoError(t, err)
		assert.Equal(t, TierWarm, tier)

		_, err = ParseTier("tepid")
		assert.Error(t, err)
	})
}

func TestRegion(t *testing.T) {
	region := NewRegion("r1")
	region.Capacity.Set(DefaultZone, "cpu", 4)
	region.Capacity.Set("az1", "cpu", 6)
	region.Capacity.Set("az2", "cpu", 3)
	region.Capacity.Set("az2", "mem", 16)
	region.Tiers["loc1"] = TierWarm

	t.Run("Totals", func(t *testing.T) {
		assert.Equal(t, 13, region.TotalResource("cpu"))
		assert.Equal(t, 16, region.TotalResource("mem"))
		assert.Equal(t, 0, region.TotalResource("gpu"))
		assert.Equal(t, 29, region.TotalCapacity())
	})

	t.Run("Zone capacities skip the default zone", func(t *testing.T) {
		assert.ElementsMatch(t, []int{6, 3}, region.ZoneCapacities("cpu"))
		assert.Equal(t, []int{16}, region.ZoneCapacities("mem"))
		assert.Empty(t, region.ZoneCapacities("gpu"))
	})

	t.Run("Tier lookup", func(t *testing.T) {
		tier, ok := region.TierAt("loc1")
		assert.True(t, ok)
		assert.Equal(t, TierWarm, tier)

		_, ok = region.TierAt("loc2")
		assert.False(t, ok)
	})
}

func TestGroup(t *testing.T) {
	group := NewGroup("g1")
	group.Demands["cpu"] = ResourceDemand{Quantity: 8, Zones: ZoneDemand{5, 3}}
	group.Demands["mem"] = ResourceDemand{Quantity: 4, Zones: NoZoneDemand}

	assert.Equal(t, 12, group.TotalDemand())
	assert.True(t, group.Demands["cpu"].Zones.HasZones())
	assert.False(t, group.Demands["mem"].Zones.HasZones())
	assert.Equal(t, "5/3", group.Demands["cpu"].Zones.String())
}

func TestPlacementResultJSON(t *testing.T) {
	result := NewPlacementResult()
	result.NodePlacement["g1"] = "r1"
	result.NodePlacement["g2"] = "r2"
	result.LinkPlacement[GroupPair{A: "g1", B: "g2"}] = []string{"r1", "r2"}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "r1", decoded["node_placement"]["g1"])
	assert.Contains(t, decoded["link_placement"], "g1-g2")
}

func TestRankingIDs(t *testing.T) {
	ranking := &Ranking{
		Regions: []RankedNode{{ID: "r2", Score: 0.6}, {ID: "r1", Score: 0.4}},
		Groups:  []RankedNode{{ID: "g1", Score: 1}},
	}
	assert.Equal(t, []string{"r2", "r1"}, ranking.RegionIDs())
	assert.Equal(t, []string{"g1"}, ranking.GroupIDs())
}

func TestLinkRecordSelfPair(t *testing.T) {
	assert.True(t, LinkRecord{A: "g1", B: "g1"}.SelfPair())
	assert.False(t, LinkRecord{A: "g1", B: "g2"}.SelfPair())
}
