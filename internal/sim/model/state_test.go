package model

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"idleempire.io/internal/sim/catalogs/catalogstest"
)

func busyState() *GameState {
	cat := catalogstest.New()
	st := DefaultState(cat, 25)
	st.SimTimeMs = 123_456
	st.LastPlayed = 1_700_000_000_000
	st.Cash = 1234.5678
	st.ResearchPoints = 3.25
	st.Secondary[SecondaryTokens] = 4
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 2
	shop.Tiers[0] = Tier{Unlocked: true, Count: 12, Level: 1, Producing: true, Progress: 0.4375}
	shop.Tiers[1] = Tier{Unlocked: true, Count: 3, Producing: false}
	started := int64(120_000)
	shop.Bottlenecks = append(shop.Bottlenecks,
		BottleneckInstance{ID: "rush", Active: true, Severity: 0.5, WaitStartedAt: &started},
		BottleneckInstance{ID: "audit", Resolved: true, Severity: 0.9},
	)
	st.GlobalBottlenecks = append(st.GlobalBottlenecks, BottleneckInstance{ID: "power_deficit", Active: true, Severity: 0.2})
	st.Research.Unlocked["basics"] = true
	st.Research.Active = &ActiveResearch{ID: "advanced", Progress: 0.1}
	st.Upgrades["double_stand"] = true
	st.Treasury.Holdings["bond"] = Holding{Shares: 1.5, CostBasis: 150}
	st.Contracts.Active = append(st.Contracts.Active, Contract{ID: "c1", Template: "earn", Baseline: 10, Progress: 2, ExpiresAtMs: 700_000})
	st.Buffs = append(st.Buffs, ActiveBuff{ID: "rush_hour", ExpiresAtMs: 150_000})
	st.Stats.CyclesCompleted = 77
	st.AchievementFlags["first_sale"] = true
	return st
}

func TestJSONRoundTrip_Idempotent(t *testing.T) {
	for name, st := range map[string]*GameState{
		"default": DefaultState(catalogstest.New(), 25),
		"busy":    busyState(),
	} {
		raw, err := json.Marshal(st)
		if err != nil {
			t.Fatalf("%s: marshal: %v", name, err)
		}
		var back GameState
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("%s: unmarshal: %v", name, err)
		}
		if !reflect.DeepEqual(st, &back) {
			t.Fatalf("%s: round trip changed state\nbefore: %+v\nafter:  %+v", name, st, &back)
		}
	}
}

func TestClone_IsDeep(t *testing.T) {
	st := busyState()
	c := st.Clone()
	if !reflect.DeepEqual(st, c) {
		t.Fatalf("clone differs")
	}

	c.Divisions["shop"].Tiers[0].Count = 999
	*c.Divisions["shop"].Bottlenecks[0].WaitStartedAt = 1
	c.Research.Active.Progress = 0.9
	c.Upgrades["discount"] = true
	c.Secondary[SecondaryTokens] = 0

	shop := st.Divisions["shop"]
	if shop.Tiers[0].Count != 12 || *shop.Bottlenecks[0].WaitStartedAt != 120_000 {
		t.Fatalf("clone shares division memory")
	}
	if st.Research.Active.Progress != 0.1 || st.Upgrades["discount"] || st.Secondary[SecondaryTokens] != 4 {
		t.Fatalf("clone shares root memory")
	}
}

func TestDefaultState_FirstDivisionOnly(t *testing.T) {
	st := DefaultState(catalogstest.New(), 25)
	if !st.Divisions["shop"].Unlocked || st.Divisions["grid"].Unlocked {
		t.Fatalf("unlock flags: shop=%v grid=%v", st.Divisions["shop"].Unlocked, st.Divisions["grid"].Unlocked)
	}
	for id, d := range st.Divisions {
		for i, tier := range d.Tiers {
			if tier.Unlocked != (i == 0) {
				t.Fatalf("%s tier %d unlocked=%v", id, i, tier.Unlocked)
			}
		}
	}
	if st.Version != CurrentVersion {
		t.Fatalf("version: got %d", st.Version)
	}
}

func TestNormalize_RepairsDamage(t *testing.T) {
	cat := catalogstest.New()
	st := &GameState{
		Cash: math.NaN(),
		Divisions: map[string]*Division{
			"shop": {
				ChiefLevel: 42,
				Tiers: []Tier{
					{Count: -4, Progress: math.Inf(1)},
					{Count: 2, Level: -1, Progress: -3},
				},
			},
			"legacy": {Tiers: []Tier{{Count: 1}}},
		},
	}
	Normalize(st, cat)

	shop := st.Divisions["shop"]
	if len(shop.Tiers) != 6 || !shop.Tiers[0].Unlocked || !shop.Unlocked {
		t.Fatalf("shop not padded/unlocked: %+v", shop)
	}
	if shop.Tiers[0].Count != 0 || shop.Tiers[0].Progress != 0 || shop.Tiers[1].Level != 0 || shop.Tiers[1].Progress != 0 {
		t.Fatalf("tier values not clamped: %+v", shop.Tiers[:2])
	}
	if shop.ChiefLevel != 6 {
		t.Fatalf("chief level clamp: got %d", shop.ChiefLevel)
	}
	if st.Divisions["grid"] == nil || st.Divisions["grid"].Unlocked {
		t.Fatalf("grid should be added locked")
	}
	if st.Divisions["legacy"] == nil {
		t.Fatalf("unknown divisions are kept")
	}
	if st.Cash != 0 {
		t.Fatalf("non-finite cash should become 0, got %v", st.Cash)
	}
	if st.Upgrades == nil || st.Treasury.Holdings == nil || st.Contracts.Active == nil || st.Buffs == nil || st.AchievementFlags == nil {
		t.Fatalf("collections should be non-nil")
	}
}

func TestDivisionHelpers(t *testing.T) {
	d := NewDivision()
	d.Tiers[0].Count = 3
	d.Tiers[2].Count = 4
	if d.TotalCount() != 7 {
		t.Fatalf("total count: got %d", d.TotalCount())
	}
	if d.Tier(-1) != nil || d.Tier(6) != nil || d.Tier(0) == nil {
		t.Fatalf("tier bounds")
	}
	if d.Bottleneck("nope") != nil {
		t.Fatalf("missing bottleneck should be nil")
	}
}
