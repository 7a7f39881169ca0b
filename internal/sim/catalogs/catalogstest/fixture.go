// Package catalogstest builds small in-memory catalogs for package tests.
package catalogstest

import "idleempire.io/internal/sim/catalogs"

// Tier0 mirrors the canonical first tier: cost 15 ×1.15, revenue 2, 1200ms cycle.
var Tier0 = catalogs.TierDef{
	Name:                "Stand",
	BaseCost:            15,
	CostMultiplier:      1.15,
	BaseRevenue:         2,
	RevenueMultiplier:   1.5,
	CycleMs:             1200,
	LevelBaseCost:       100,
	LevelCostMultiplier: 2,
}

func tiers(first catalogs.TierDef, powerMW float64) []catalogs.TierDef {
	out := make([]catalogs.TierDef, catalogs.TiersPerDivision)
	out[0] = first
	out[0].PowerMW = powerMW
	cost, rev, cycle := first.BaseCost, first.BaseRevenue, first.CycleMs
	for i := 1; i < len(out); i++ {
		cost *= 10
		rev *= 8
		cycle *= 2
		out[i] = catalogs.TierDef{
			Name:                first.Name,
			UnlockCost:          cost * 5,
			BaseCost:            cost,
			CostMultiplier:      1.15,
			BaseRevenue:         rev,
			RevenueMultiplier:   1.5,
			CycleMs:             cycle,
			PowerMW:             powerMW,
			LevelBaseCost:       cost * 10,
			LevelCostMultiplier: 2,
		}
	}
	return out
}

// New returns a two-division catalog: "shop" (no power draw on tier 0, -2MW per unit
// above) and "grid" (power source, +5MW per unit). Only "shop" starts unlocked.
func New() *catalogs.Catalogs {
	shopTiers := tiers(Tier0, -2)
	shopTiers[0].PowerMW = 0
	gridFirst := catalogs.TierDef{
		Name:                "Generator",
		BaseCost:            100,
		CostMultiplier:      1.2,
		BaseRevenue:         10,
		RevenueMultiplier:   1.5,
		CycleMs:             2000,
		LevelBaseCost:       500,
		LevelCostMultiplier: 2,
	}

	c := &catalogs.Catalogs{
		Divisions: catalogs.DivisionCatalog{
			Order: []string{"shop", "grid"},
			ByID: map[string]catalogs.DivisionDef{
				"shop": {
					ID: "shop", Name: "Shop",
					ChiefBaseCost: 50, ChiefCostMultiplier: 10,
					WorkerBaseCost: 20, WorkerCostMultiplier: 1.5,
					Tiers: shopTiers,
				},
				"grid": {
					ID: "grid", Name: "Grid", UnlockCost: 1000, PowerSource: true,
					ChiefBaseCost: 500, ChiefCostMultiplier: 10,
					WorkerBaseCost: 200, WorkerCostMultiplier: 1.5,
					Tiers: tiers(gridFirst, 5),
				},
			},
		},
		Automation: catalogs.AutomationCatalog{Speeds: []float64{1, 1, 1.25, 1.5, 2, 3, 5}},
		Bottlenecks: catalogs.BottleneckCatalog{
			Defs: []catalogs.BottleneckDef{
				{ID: "power_deficit", Kind: catalogs.BottleneckPowerDeficit},
				{
					ID: "rush", Kind: catalogs.BottleneckDivision, Division: "shop",
					Trigger:  catalogs.Trigger{Metric: catalogs.MetricTierCount, Tier: 0, Op: ">=", Value: 10},
					Severity: 0.5, CashCost: 100, ResearchCost: 5, WaitMs: 60_000,
				},
				{
					ID: "audit", Kind: catalogs.BottleneckDivision, Division: "shop",
					Trigger:  catalogs.Trigger{Metric: catalogs.MetricTierCount, Tier: 0, Op: ">=", Value: 20},
					Severity: 0.9, CashCost: 200, WaitMs: 60_000,
				},
			},
		},
		Research: catalogs.ResearchCatalog{ByID: map[string]catalogs.ResearchDef{
			"basics": {
				ID: "basics", CashCost: 10, DurationMs: 10_000,
				Effects: []catalogs.Effect{{Kind: catalogs.EffectSpeed, Scope: catalogs.ScopeGlobal, Value: 0.1}},
			},
			"advanced": {
				ID: "advanced", Prereqs: []string{"basics"}, CashCost: 100, PointsCost: 1, DurationMs: 20_000,
				Effects: []catalogs.Effect{
					{Kind: catalogs.EffectRevenue, Scope: catalogs.ScopeDivision, Division: "shop", Value: 0.5},
					{Kind: catalogs.EffectOfflineEfficiency, Scope: catalogs.ScopeGlobal, Value: 0.2},
				},
			},
		}},
		Upgrades: catalogs.UpgradeCatalog{ByID: map[string]catalogs.UpgradeDef{
			"double_stand": {
				ID: "double_stand", Cost: 50,
				Effects: []catalogs.Effect{{Kind: catalogs.EffectRevenue, Scope: catalogs.ScopeTier, Division: "shop", Tier: 0, Value: 2}},
			},
			"discount": {
				ID: "discount", Cost: 500,
				Effects: []catalogs.Effect{{Kind: catalogs.EffectCost, Scope: catalogs.ScopeGlobal, Value: 0.5}},
			},
			"night_crew": {
				ID: "night_crew", Cost: 500,
				Effects: []catalogs.Effect{{Kind: catalogs.EffectOfflineEfficiency, Scope: catalogs.ScopeGlobal, Value: 0.75}},
			},
		}},
		Milestones: catalogs.MilestoneCatalog{Steps: []catalogs.MilestoneStep{
			{Count: 25, Kind: catalogs.EffectSpeed, Mult: 2},
			{Count: 50, Kind: catalogs.EffectRevenue, Mult: 3},
		}},
		Contracts: catalogs.ContractCatalog{
			Templates: []catalogs.ContractTemplate{
				{ID: "earn", Kind: catalogs.ContractEarnCash, Target: 10, DurationMs: 600_000, Reward: catalogs.ContractReward{Tokens: 2}},
				{ID: "own", Kind: catalogs.ContractOwnTier, Division: "shop", Tier: 0, Target: 5, DurationMs: 600_000, Reward: catalogs.ContractReward{Cash: 100, Buff: "rush_hour"}},
				{ID: "cycles", Kind: catalogs.ContractCompleteCycles, Target: 3, DurationMs: 600_000, Reward: catalogs.ContractReward{ResearchPoints: 5}},
			},
		},
		Instruments: catalogs.InstrumentCatalog{
			Order: []string{"bond"},
			ByID: map[string]catalogs.InstrumentDef{
				"bond": {ID: "bond", BasePrice: 100, Volatility: 0.1, PeriodMs: 60_000},
			},
		},
		Buffs: catalogs.BuffCatalog{ByID: map[string]catalogs.BuffDef{
			"rush_hour": {
				ID: "rush_hour", DurationMs: 30_000, TokenCost: 1,
				Effects: []catalogs.Effect{{Kind: catalogs.EffectSpeed, Scope: catalogs.ScopeGlobal, Value: 2}},
			},
		}},
	}
	c.Bottlenecks.ByID = map[string]catalogs.BottleneckDef{}
	for _, d := range c.Bottlenecks.Defs {
		c.Bottlenecks.ByID[d.ID] = d
	}
	c.Contracts.ByID = map[string]catalogs.ContractTemplate{}
	for _, t := range c.Contracts.Templates {
		c.Contracts.ByID[t.ID] = t
	}
	if err := c.Validate(); err != nil {
		panic("catalogstest: " + err.Error())
	}
	return c
}

// Quiet returns New without any bottleneck definitions except power deficit,
// for tests that need unthrottled production.
func Quiet() *catalogs.Catalogs {
	c := New()
	c.Bottlenecks.Defs = c.Bottlenecks.Defs[:1]
	c.Bottlenecks.ByID = map[string]catalogs.BottleneckDef{c.Bottlenecks.Defs[0].ID: c.Bottlenecks.Defs[0]}
	return c
}
