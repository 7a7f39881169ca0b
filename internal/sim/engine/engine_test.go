package engine

import (
	"io"
	"log/slog"
	"math"
	"reflect"
	"testing"

	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/catalogs/catalogstest"
	"idleempire.io/internal/sim/events"
	"idleempire.io/internal/sim/model"
	"idleempire.io/internal/sim/tuning"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(cat *catalogs.Catalogs, pub events.Publisher) *Engine {
	return New(Config{Catalogs: cat, Tuning: tuning.Defaults(), Publisher: pub, Logger: quietLogger()})
}

// manualStand is the canonical tier: count 1, chief level 0.
func manualStand(cat *catalogs.Catalogs) *model.GameState {
	st := model.DefaultState(cat, 0)
	st.Divisions["shop"].Tiers[0].Count = 1
	return st
}

func TestTap_ManualTierPaysOneCycleAndHalts(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := manualStand(cat)
	tier := &st.Divisions["shop"].Tiers[0]
	tier.Producing = true
	tier.Progress = 0.6

	if !e.Tap(st, "shop", 0) {
		t.Fatalf("tap failed")
	}
	if st.Cash != 2 {
		t.Fatalf("cash: got %v want exactly 2", st.Cash)
	}
	if tier.Progress != 0 || tier.Producing {
		t.Fatalf("tier after tap: %+v", *tier)
	}
}

func TestTap_AutomatedTierKeepsCycling(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := manualStand(cat)
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 1
	shop.Tiers[0].Producing = true
	shop.Tiers[0].Progress = 0.25

	if !e.Tap(st, "shop", 0) {
		t.Fatalf("tap failed")
	}
	if st.Cash != 2 || !shop.Tiers[0].Producing || shop.Tiers[0].Progress != 0.25 {
		t.Fatalf("cash=%v tier=%+v", st.Cash, shop.Tiers[0])
	}
}

func TestTap_Invalid(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := model.DefaultState(cat, 0)
	if e.Tap(st, "shop", 0) {
		t.Fatalf("tap with count 0 should fail")
	}
	if e.Tap(st, "nope", 0) || e.Tap(st, "shop", -1) || e.Tap(st, "grid", 0) {
		t.Fatalf("invalid taps should fail")
	}
}

func TestTick_AutomatedCompletesOnceIn1200ms(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := manualStand(cat)
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 1
	shop.Tiers[0].Producing = true

	res := e.Tick(st, 1200)
	if res.Completions != 1 || st.Cash != 2 {
		t.Fatalf("completions=%d cash=%v", res.Completions, st.Cash)
	}
	if !shop.Tiers[0].Producing || math.Abs(shop.Tiers[0].Progress) > 1e-9 {
		t.Fatalf("tier after tick: %+v", shop.Tiers[0])
	}
}

func TestTick_CompletionIndependentOfStepSize(t *testing.T) {
	for _, step := range []int64{50, 100, 200, 300, 400, 600} {
		cat := catalogstest.Quiet()
		e := newEngine(cat, nil)
		st := manualStand(cat)
		shop := st.Divisions["shop"]
		shop.ChiefLevel = 1
		shop.Tiers[0].Producing = true

		var completions int64
		for elapsed := int64(0); elapsed < 1200; elapsed += step {
			completions += e.Tick(st, step).Completions
		}
		if completions != 1 || st.Cash != 2 {
			t.Fatalf("step=%dms: completions=%d cash=%v progress=%v", step, completions, st.Cash, shop.Tiers[0].Progress)
		}
		if p := shop.Tiers[0].Progress; p < 0 || p > 1e-9 {
			t.Fatalf("step=%dms: carried progress %v", step, p)
		}
	}
}

func TestTick_ManualCompletionIndependentOfStepSize(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := manualStand(cat)
	tier := &st.Divisions["shop"].Tiers[0]
	if !e.Start(st, "shop", 0) {
		t.Fatalf("start failed")
	}
	var completions int64
	for i := 0; i < 24; i++ {
		completions += e.Tick(st, 50).Completions
	}
	if completions != 1 || st.Cash != 2 || tier.Producing || tier.Progress != 0 {
		t.Fatalf("completions=%d cash=%v tier=%+v", completions, st.Cash, *tier)
	}
}

func TestTick_AutoStartAccruesNothingOnStartStep(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := manualStand(cat)
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 1

	e.Tick(st, 5000)
	if !shop.Tiers[0].Producing || shop.Tiers[0].Progress != 0 || st.Cash != 0 {
		t.Fatalf("start step: tier=%+v cash=%v", shop.Tiers[0], st.Cash)
	}
	e.Tick(st, 600)
	if shop.Tiers[0].Progress != 0.5 {
		t.Fatalf("progress after 600ms: %v", shop.Tiers[0].Progress)
	}
}

func TestTick_ManualExactCompletion(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := manualStand(cat)
	tier := &st.Divisions["shop"].Tiers[0]

	e.Tick(st, 600)
	if tier.Producing || tier.Progress != 0 {
		t.Fatalf("manual tier must not auto-start: %+v", *tier)
	}
	if !e.Start(st, "shop", 0) {
		t.Fatalf("start failed")
	}
	if e.Start(st, "shop", 0) {
		t.Fatalf("start on a producing tier should fail")
	}
	e.Tick(st, 600)
	if tier.Progress != 0.5 || st.Cash != 0 {
		t.Fatalf("half way: %+v cash=%v", *tier, st.Cash)
	}
	res := e.Tick(st, 600)
	if res.Completions != 1 || st.Cash != 2 {
		t.Fatalf("completion: n=%d cash=%v", res.Completions, st.Cash)
	}
	if tier.Progress != 0 || tier.Producing {
		t.Fatalf("manual tier should halt: %+v", *tier)
	}
}

func TestTick_BurstPaysSameRevenuePerCycle(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := manualStand(cat)
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 1
	shop.Tiers[0].Count = 3
	shop.Tiers[0].Producing = true

	res := e.Tick(st, 3000)
	if res.Completions != 2 || st.Cash != 12 {
		t.Fatalf("burst: n=%d cash=%v", res.Completions, st.Cash)
	}
	if math.Abs(shop.Tiers[0].Progress-0.5) > 1e-9 {
		t.Fatalf("remainder: %v", shop.Tiers[0].Progress)
	}
	if st.Stats.CyclesCompleted != 2 || st.Stats.TotalCashEarned != 12 {
		t.Fatalf("stats: %+v", st.Stats)
	}
}

func TestTick_Deterministic(t *testing.T) {
	cat := catalogstest.New()
	e := newEngine(cat, nil)
	base := model.DefaultState(cat, 5000)
	shop := base.Divisions["shop"]
	shop.ChiefLevel = 3
	shop.Tiers[0].Count = 12
	shop.Tiers[1] = model.Tier{Unlocked: true, Count: 4}
	base.Divisions["grid"].Unlocked = true
	base.Divisions["grid"].Tiers[0].Count = 1
	base.Divisions["grid"].ChiefLevel = 2
	base.Research.Active = &model.ActiveResearch{ID: "basics"}

	a, b := base.Clone(), base.Clone()
	var ra, rb []Result
	for i := 0; i < 300; i++ {
		ra = append(ra, e.Tick(a, 137))
		rb = append(rb, e.Tick(b, 137))
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("states diverged")
	}
	if !reflect.DeepEqual(ra, rb) {
		t.Fatalf("results diverged")
	}
}

func TestTick_InvalidUnitsAreSkipped(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := model.DefaultState(cat, 0)
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 1
	shop.Tiers[0] = model.Tier{Unlocked: true, Count: -5, Producing: true}
	shop.Tiers = append(shop.Tiers, model.Tier{Unlocked: true, Count: 3, Producing: true})
	st.Divisions["ghost"] = &model.Division{Unlocked: true, Tiers: []model.Tier{{Unlocked: true, Count: 1, Producing: true}}}

	res := e.Tick(st, 10_000)
	if res.Completions != 0 || st.Cash != 0 {
		t.Fatalf("invalid units produced: %+v cash=%v", res, st.Cash)
	}
}

func TestTick_PowerRecomputedBeforeProduction(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := model.DefaultState(cat, 0)
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 1
	shop.Tiers[1] = model.Tier{Unlocked: true, Count: 1, Producing: true} // -2MW, 2400ms
	st.Power = model.PowerTelemetry{GeneratedMW: 100, Efficiency: 1}      // stale

	e.Tick(st, 2400)
	if math.Abs(shop.Tiers[1].Progress-0.1) > 1e-9 {
		t.Fatalf("starved tier should run at the floor: progress %v", shop.Tiers[1].Progress)
	}
	if st.Power.ConsumedMW != 2 || st.Power.GeneratedMW != 0 {
		t.Fatalf("telemetry not refreshed: %+v", st.Power)
	}

	grid := st.Divisions["grid"]
	grid.Unlocked = true
	grid.Tiers[0].Count = 1 // +5MW
	res := e.Tick(st, 2400)
	if res.Completions != 1 {
		t.Fatalf("fresh power should apply in the same tick, completions=%d", res.Completions)
	}
}

func TestTick_BottleneckSlowsDivision(t *testing.T) {
	cat := catalogstest.New()
	e := newEngine(cat, nil)
	st := model.DefaultState(cat, 0)
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 1
	shop.Tiers[0] = model.Tier{Unlocked: true, Count: 10, Producing: true}

	e.Tick(st, 1000)
	if inst := shop.Bottleneck("rush"); inst == nil || !inst.Active {
		t.Fatalf("rush should activate at the first evaluation")
	}
	before := shop.Tiers[0].Progress
	e.Tick(st, 600)
	if got := shop.Tiers[0].Progress - before; math.Abs(got-0.25) > 1e-9 {
		t.Fatalf("halved speed expected, progress delta %v", got)
	}
}

func TestTick_EventsPublishedAfterCommit(t *testing.T) {
	cat := catalogstest.Quiet()
	bus := events.NewBus(quietLogger())
	e := newEngine(cat, bus)
	st := manualStand(cat)
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 1
	shop.Tiers[0].Producing = true

	var kinds []events.Kind
	var cashSeen float64
	bus.Subscribe(events.KindAll, func(ev events.Event) {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == events.CycleCompleted {
			cashSeen = st.Cash
		}
	})
	e.Tick(st, 1200)

	if len(kinds) != 2 || kinds[0] != events.CycleCompleted || kinds[1] != events.StateChanged {
		t.Fatalf("events: %v", kinds)
	}
	if cashSeen != 2 {
		t.Fatalf("listener saw cash %v before commit", cashSeen)
	}
}

func TestBuy_CostCurve(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := model.DefaultState(cat, 25)

	if !e.Buy(st, "shop", 0, 1) {
		t.Fatalf("first buy failed")
	}
	if st.Cash != 10 {
		t.Fatalf("first unit should cost 15, cash=%v", st.Cash)
	}
	if e.Buy(st, "shop", 0, 1) {
		t.Fatalf("second unit costs 17.25 and should not be affordable")
	}
	q, ok := e.BuyQuote(st, "shop", 0, 1)
	if !ok || math.Abs(q-17.25) > 1e-9 {
		t.Fatalf("quote: %v", q)
	}
	if e.Buy(st, "shop", 0, 0) || e.Buy(st, "shop", 1, 1) || e.Buy(st, "grid", 0, 1) {
		t.Fatalf("invalid buys should fail")
	}
	st.Cash = 100
	if n := e.BuyMax(st, "shop", 0); n != 4 {
		t.Fatalf("buy max: got %d", n)
	}
	if st.Divisions["shop"].Tiers[0].Count != 5 || st.Stats.TiersPurchased != 5 {
		t.Fatalf("count=%d purchased=%d", st.Divisions["shop"].Tiers[0].Count, st.Stats.TiersPurchased)
	}
}

func TestUnlockAndHire(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := model.DefaultState(cat, 0)

	if e.UnlockTier(st, "shop", 2) {
		t.Fatalf("tier 2 requires tier 1")
	}
	if e.UnlockTier(st, "shop", 1) {
		t.Fatalf("unlock without cash")
	}
	st.Cash = 1e9
	if !e.UnlockTier(st, "shop", 1) || !st.Divisions["shop"].Tiers[1].Unlocked {
		t.Fatalf("unlock tier 1")
	}
	if e.UnlockTier(st, "shop", 0) || e.UnlockTier(st, "shop", 1) {
		t.Fatalf("tier 0 and already unlocked tiers")
	}
	if !e.UnlockDivision(st, "grid") || e.UnlockDivision(st, "grid") {
		t.Fatalf("unlock division once")
	}
	for i := 0; i < 6; i++ {
		if !e.HireChief(st, "shop") {
			t.Fatalf("hire chief %d", i+1)
		}
	}
	if e.HireChief(st, "shop") || st.Divisions["shop"].ChiefLevel != 6 {
		t.Fatalf("chief level capped at 6")
	}
	if e.LevelUp(st, "shop", 0) {
		t.Fatalf("level up needs owned units")
	}
	st.Divisions["shop"].Tiers[0].Count = 1
	if !e.LevelUp(st, "shop", 0) || st.Divisions["shop"].Tiers[0].Level != 1 {
		t.Fatalf("level up")
	}
	if !e.HireWorker(st, "shop") || st.Divisions["shop"].Workers != 1 {
		t.Fatalf("hire worker")
	}
	if !e.BuyUpgrade(st, "double_stand") || e.BuyUpgrade(st, "double_stand") || e.BuyUpgrade(st, "nope") {
		t.Fatalf("upgrade purchase rules")
	}
}

func TestBottleneckActions(t *testing.T) {
	cat := catalogstest.New()
	bus := events.NewBus(quietLogger())
	e := newEngine(cat, bus)
	st := model.DefaultState(cat, 0)
	st.Divisions["shop"].Tiers[0].Count = 20
	e.Tick(st, 1000)

	var resolved int
	bus.Subscribe(events.BottleneckResolved, func(events.Event) { resolved++ })
	if e.ResolveBottleneckCash(st, "shop", "rush") {
		t.Fatalf("no cash yet")
	}
	st.Cash = 100
	if !e.ResolveBottleneckCash(st, "shop", "rush") {
		t.Fatalf("cash resolve")
	}
	if !e.WaitBottleneck(st, "shop", "audit") {
		t.Fatalf("wait")
	}
	e.Tick(st, 60_000)
	if !st.Divisions["shop"].Bottleneck("audit").Resolved || resolved != 2 {
		t.Fatalf("audit should resolve after waiting; resolved events=%d", resolved)
	}
}

func TestResearch_Lifecycle(t *testing.T) {
	cat := catalogstest.Quiet()
	bus := events.NewBus(quietLogger())
	e := newEngine(cat, bus)
	st := model.DefaultState(cat, 10)
	var done []string
	bus.Subscribe(events.ResearchCompleted, func(ev events.Event) { done = append(done, ev.ID) })

	if e.StartResearch(st, "advanced") {
		t.Fatalf("prerequisite missing")
	}
	if !e.StartResearch(st, "basics") || st.Cash != 0 {
		t.Fatalf("start basics, cash=%v", st.Cash)
	}
	if e.StartResearch(st, "basics") {
		t.Fatalf("only one active project")
	}
	e.Tick(st, 5_000)
	if st.Research.Active == nil || st.Research.Active.Progress != 0.5 {
		t.Fatalf("half way: %+v", st.Research.Active)
	}
	e.Tick(st, 5_000)
	if !st.Research.Unlocked["basics"] || st.Research.Active != nil {
		t.Fatalf("basics not completed: %+v", st.Research)
	}
	if math.Abs(st.ResearchPoints-5) > 1e-9 {
		t.Fatalf("research points: %v", st.ResearchPoints)
	}
	if len(done) != 1 || done[0] != "basics" {
		t.Fatalf("completion events: %v", done)
	}
}

func TestContracts_RotateCompleteClaim(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := model.DefaultState(cat, 0)
	other := model.DefaultState(cat, 0)

	e.Tick(st, 100)
	e.Tick(other, 100)
	if len(st.Contracts.Active) != 3 {
		t.Fatalf("slots not filled: %+v", st.Contracts.Active)
	}
	if !reflect.DeepEqual(st.Contracts, other.Contracts) {
		t.Fatalf("rotation not deterministic")
	}
	seen := map[string]bool{}
	for _, c := range st.Contracts.Active {
		if seen[c.Template] {
			t.Fatalf("duplicate template %s", c.Template)
		}
		seen[c.Template] = true
	}

	st.Divisions["shop"].Tiers[0].Count = 5
	e.Tick(st, 100)
	var own *model.Contract
	for i := range st.Contracts.Active {
		if st.Contracts.Active[i].Template == "own" {
			own = &st.Contracts.Active[i]
		}
	}
	if own == nil || !own.Completed {
		t.Fatalf("own contract should complete: %+v", own)
	}
	if !e.ClaimContract(st, own.ID) {
		t.Fatalf("claim failed")
	}
	if e.ClaimContract(st, own.ID) {
		t.Fatalf("double claim")
	}
	if st.Cash != 100 || len(st.Buffs) != 1 || st.Buffs[0].ID != "rush_hour" {
		t.Fatalf("reward not paid: cash=%v buffs=%+v", st.Cash, st.Buffs)
	}
}

func TestContracts_RotationIgnoresMarketSeed(t *testing.T) {
	cat := catalogstest.Quiet()
	tun := tuning.Defaults()
	a := New(Config{Catalogs: cat, Tuning: tun, Logger: quietLogger()})
	tun.Treasury.Seed++
	b := New(Config{Catalogs: cat, Tuning: tun, Logger: quietLogger()})

	sa, sb := model.DefaultState(cat, 0), model.DefaultState(cat, 0)
	a.Tick(sa, 100)
	b.Tick(sb, 100)
	if len(sa.Contracts.Active) == 0 || !reflect.DeepEqual(sa.Contracts, sb.Contracts) {
		t.Fatalf("contracts follow the market seed:\n%+v\n%+v", sa.Contracts, sb.Contracts)
	}
}

func TestBuffs_ActivateAndExpire(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := model.DefaultState(cat, 0)
	if e.ActivateBuff(st, "rush_hour") {
		t.Fatalf("no tokens")
	}
	st.Secondary[model.SecondaryTokens] = 1
	if !e.ActivateBuff(st, "rush_hour") || st.Secondary[model.SecondaryTokens] != 0 {
		t.Fatalf("activate buff")
	}
	e.Tick(st, 29_999)
	if len(st.Buffs) != 1 {
		t.Fatalf("buff expired early")
	}
	e.Tick(st, 1)
	if len(st.Buffs) != 0 {
		t.Fatalf("buff should expire: %+v", st.Buffs)
	}
}

func TestPrestige(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := model.DefaultState(cat, 0)
	st.Cash = 5e6
	st.Stats.RunCashEarned = 999_999
	if e.Prestige(st) {
		t.Fatalf("below threshold")
	}
	st.Stats.RunCashEarned = 4e6
	st.Stats.TotalCashEarned = 4e6
	st.Divisions["shop"].RevenueStars = 2
	st.Divisions["shop"].Tiers[0].Count = 40
	st.Upgrades["discount"] = true
	st.AchievementFlags["big"] = true
	st.SimTimeMs = 77_000

	if !e.Prestige(st) {
		t.Fatalf("prestige failed")
	}
	if st.PrestigePoints != 2 || st.Cash != e.Tuning().StartingCash {
		t.Fatalf("points=%v cash=%v", st.PrestigePoints, st.Cash)
	}
	if st.Divisions["shop"].RevenueStars != 2 || st.Divisions["shop"].Tiers[0].Count != 0 {
		t.Fatalf("division after prestige: %+v", st.Divisions["shop"])
	}
	if st.Upgrades["discount"] || !st.AchievementFlags["big"] || st.SimTimeMs != 77_000 {
		t.Fatalf("carry-over rules broken")
	}
	if st.Stats.Prestiges != 1 || st.Stats.RunCashEarned != 0 || st.Stats.TotalCashEarned != 4e6 {
		t.Fatalf("stats: %+v", st.Stats)
	}
}

func TestDivisionPrestige(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := model.DefaultState(cat, 0)
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 3
	shop.Tiers[5] = model.Tier{Unlocked: true, Count: 24}
	if e.DivisionPrestige(st, "shop", TrackSpeed) {
		t.Fatalf("needs 25 of the last tier")
	}
	shop.Tiers[5].Count = 25
	if e.DivisionPrestige(st, "shop", "bogus") {
		t.Fatalf("unknown track")
	}
	if !e.DivisionPrestige(st, "shop", TrackSpeed) {
		t.Fatalf("division prestige failed")
	}
	if shop.SpeedStars != 1 || shop.ChiefLevel != 0 || shop.Tiers[5].Count != 0 || !shop.Tiers[0].Unlocked {
		t.Fatalf("division after reset: %+v", shop)
	}
}

func TestTreasuryActions(t *testing.T) {
	cat := catalogstest.Quiet()
	e := newEngine(cat, nil)
	st := model.DefaultState(cat, 100)
	if !e.BuyInstrument(st, "bond", 50) || st.Cash != 50 {
		t.Fatalf("buy instrument, cash=%v", st.Cash)
	}
	shares := st.Treasury.Holdings["bond"].Shares
	if !e.SellInstrument(st, "bond", shares) {
		t.Fatalf("sell instrument")
	}
	if e.SellInstrument(st, "bond", 1) {
		t.Fatalf("nothing left to sell")
	}
}
