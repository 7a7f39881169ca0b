package modifiers

import (
	"math"
	"math/rand"
	"testing"

	"idleempire.io/internal/sim/catalogs/catalogstest"
	"idleempire.io/internal/sim/logic/power"
	"idleempire.io/internal/sim/model"
	"idleempire.io/internal/sim/tuning"
)

func near(a, b float64) bool { return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b)) }

func newResolver() Resolver {
	return Resolver{Cat: catalogstest.New(), Tun: tuning.Defaults()}
}

func TestResolve_BaselineIsIdentity(t *testing.T) {
	r := newResolver()
	st := model.DefaultState(r.Cat, 0)
	st.Divisions["shop"].Tiers[0].Count = 1
	m, ok := r.Resolve(st, "shop", 0, power.Balance{})
	if !ok || m != Identity {
		t.Fatalf("got %+v ok=%v", m, ok)
	}
}

func TestResolve_UnknownUnit(t *testing.T) {
	r := newResolver()
	st := model.DefaultState(r.Cat, 0)
	if _, ok := r.Resolve(st, "nope", 0, power.Balance{}); ok {
		t.Fatalf("unknown division should not resolve")
	}
	if _, ok := r.Resolve(st, "shop", 6, power.Balance{}); ok {
		t.Fatalf("tier beyond catalog should not resolve")
	}
}

func TestResolve_StacksSources(t *testing.T) {
	r := newResolver()
	st := model.DefaultState(r.Cat, 0)
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 4      // x2 speed
	shop.Tiers[0].Count = 50 // milestones: x2 speed, x3 revenue
	shop.RevenueStars = 2    // +20%
	shop.SpeedStars = 1      // +5%
	shop.Workers = 5         // +10%
	st.PrestigePoints = 10   // +20%
	st.Upgrades["double_stand"] = true
	st.Research.Unlocked["basics"] = true   // speed +10%
	st.Research.Unlocked["advanced"] = true // shop revenue +50%
	st.Buffs = append(st.Buffs, model.ActiveBuff{ID: "rush_hour", ExpiresAtMs: 1_000})

	m, ok := r.Resolve(st, "shop", 0, power.Balance{})
	if !ok {
		t.Fatalf("resolve failed")
	}
	wantSpeed := 2 * 2 * 1.05 * 1.1 * 2.0
	wantRev := 3 * 2 * 1.2 * 1.1 * 1.2 * 1.5
	if !near(m.Speed, wantSpeed) || !near(m.Revenue, wantRev) || m.Cost != 1 {
		t.Fatalf("got %+v want speed=%v revenue=%v", m, wantSpeed, wantRev)
	}

	// Upgrade scoped to tier 0 must not touch tier 1.
	shop.Tiers[1].Count = 1
	m1, _ := r.Resolve(st, "shop", 1, power.Balance{})
	if !near(m1.Revenue, 1.5*1.2*1.1*1.2) {
		t.Fatalf("tier-scoped upgrade leaked: %+v", m1)
	}

	// Expired buff no longer applies.
	st.SimTimeMs = 1_000
	m2, _ := r.Resolve(st, "shop", 0, power.Balance{})
	if !near(m2.Speed, wantSpeed/2) {
		t.Fatalf("expired buff still applied: %+v", m2)
	}
}

func TestResolve_PowerEfficiencyOnlyForConsumers(t *testing.T) {
	r := newResolver()
	st := model.DefaultState(r.Cat, 0)
	st.Divisions["grid"].Unlocked = true
	st.Divisions["grid"].Tiers[0].Count = 1
	st.Divisions["shop"].Tiers[0].Count = 1
	bal := power.Balance{Generated: 5, Consumed: 20}

	shop, _ := r.Resolve(st, "shop", 0, bal)
	grid, _ := r.Resolve(st, "grid", 0, bal)
	if !near(shop.Speed, 0.25) {
		t.Fatalf("shop speed: got %v want 0.25", shop.Speed)
	}
	if grid.Speed != 1 {
		t.Fatalf("power source must run at full speed, got %v", grid.Speed)
	}

	starved, _ := r.Resolve(st, "shop", 0, power.Balance{Consumed: 20})
	if !near(starved.Speed, r.Tun.Bottleneck.Floor) {
		t.Fatalf("zero generation should hit the floor, got %v", starved.Speed)
	}
}

func TestCombine_Commutes(t *testing.T) {
	r := newResolver()
	st := model.DefaultState(r.Cat, 0)
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 3
	shop.Tiers[0].Count = 60
	shop.Workers = 7
	shop.Bottlenecks = []model.BottleneckInstance{{ID: "rush", Active: true, Severity: 0.5}}
	st.Upgrades["double_stand"] = true
	st.Upgrades["discount"] = true
	st.Research.Unlocked["basics"] = true

	srcs, ok := r.Sources(st, "shop", 0, power.Balance{Generated: 3, Consumed: 4})
	if !ok {
		t.Fatalf("sources failed")
	}
	want := Combine(srcs)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		shuffled := append([]Source(nil), srcs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := Combine(shuffled)
		if !near(got.Speed, want.Speed) || !near(got.Revenue, want.Revenue) || !near(got.Cost, want.Cost) {
			t.Fatalf("order changed result: %+v vs %+v", got, want)
		}
	}
}

func TestCombine_CostFloor(t *testing.T) {
	m := Combine([]Source{{Speed: 1, Revenue: 1, Cost: 0.001}})
	if m.Cost != 0.01 {
		t.Fatalf("cost floor: got %v", m.Cost)
	}
}

func TestOfflineEfficiency(t *testing.T) {
	r := newResolver()
	st := model.DefaultState(r.Cat, 0)
	if got := r.OfflineEfficiency(st); got != 0.5 {
		t.Fatalf("base: got %v", got)
	}
	st.Research.Unlocked["advanced"] = true
	if got := r.OfflineEfficiency(st); !near(got, 0.7) {
		t.Fatalf("with research: got %v", got)
	}
	st.Upgrades["night_crew"] = true
	if got := r.OfflineEfficiency(st); got != 1 {
		t.Fatalf("should cap at 1, got %v", got)
	}
}

func TestCycle_AutomationTableThenBoosts(t *testing.T) {
	r := newResolver()
	st := model.DefaultState(r.Cat, 0)
	shop := st.Divisions["shop"]
	shop.Tiers[0].Count = 1
	shop.ChiefLevel = 4
	shop.SpeedStars = 4

	m, cycle, ok := r.Cycle(st, "shop", 0, power.Balance{})
	if !ok {
		t.Fatalf("cycle did not resolve")
	}
	// 1200ms / automation 2 / (1 + 4×0.05)
	if !near(cycle, 500) {
		t.Fatalf("cycle=%v want 500", cycle)
	}
	if !near(float64(catalogstest.Tier0.CycleMs)/m.Speed, cycle) {
		t.Fatalf("cycle %v disagrees with combined speed %v", cycle, m.Speed)
	}
	if _, _, ok := r.Cycle(st, "nope", 0, power.Balance{}); ok {
		t.Fatalf("unknown division should not resolve")
	}
}
