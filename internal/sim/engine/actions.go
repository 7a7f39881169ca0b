package engine

import (
	"idleempire.io/internal/sim/bottleneck"
	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/events"
	"idleempire.io/internal/sim/logic/economy"
	"idleempire.io/internal/sim/model"
)

// Player actions return false, leaving st untouched, on insufficient funds,
// unmet prerequisites or invalid input. On success their events are published
// before returning, followed by state-changed.

// unit looks up an unlocked tier of an unlocked division.
func (e *Engine) unit(st *model.GameState, divID string, tier int) (*model.Division, *model.Tier, catalogs.TierDef, bool) {
	def, ok := e.cat.Divisions.ByID[divID]
	d := st.Divisions[divID]
	if !ok || d == nil || !d.Unlocked || tier < 0 || tier >= len(def.Tiers) {
		return nil, nil, catalogs.TierDef{}, false
	}
	t := d.Tier(tier)
	if t == nil || !t.Unlocked {
		return nil, nil, catalogs.TierDef{}, false
	}
	return d, t, def.Tiers[tier], true
}

func (e *Engine) commit(st *model.GameState, evs ...events.Event) bool {
	sink := e.emit(st)
	for _, ev := range evs {
		sink(ev)
	}
	e.flush(st)
	return true
}

// Tap completes one cycle out of band: it pays exactly one cycle's revenue whatever
// the current progress. A manual tier is left idle; an automated tier keeps cycling.
func (e *Engine) Tap(st *model.GameState, divID string, tier int) bool {
	d, t, tdef, ok := e.unit(st, divID, tier)
	if !ok || t.Count <= 0 {
		return false
	}
	mods, ok := e.Mods(st, divID, tier)
	if !ok {
		return false
	}
	revenue := economy.CycleRevenue(tdef, t.Count, t.Level) * mods.Revenue
	e.credit(st, revenue)
	st.Stats.Taps++
	st.Stats.CyclesCompleted++
	if d.ChiefLevel == 0 {
		t.Progress = 0
		t.Producing = false
	}
	return e.commit(st, events.Event{Kind: events.CycleCompleted, Division: divID, Tier: tier, Amount: revenue})
}

// Start begins a manual cycle on an idle tier.
func (e *Engine) Start(st *model.GameState, divID string, tier int) bool {
	_, t, _, ok := e.unit(st, divID, tier)
	if !ok || t.Count <= 0 || t.Producing {
		return false
	}
	t.Producing = true
	t.Progress = 0
	return e.commit(st)
}

// BuyQuote prices n units of a tier including cost modifiers.
func (e *Engine) BuyQuote(st *model.GameState, divID string, tier, n int) (float64, bool) {
	_, t, tdef, ok := e.unit(st, divID, tier)
	if !ok || n <= 0 {
		return 0, false
	}
	mods, ok := e.Mods(st, divID, tier)
	if !ok {
		return 0, false
	}
	return e.pricer.BulkCost(tdef, t.Count, n) * mods.Cost, true
}

func (e *Engine) Buy(st *model.GameState, divID string, tier, n int) bool {
	cost, ok := e.BuyQuote(st, divID, tier, n)
	if !ok || !e.debit(st, cost) {
		return false
	}
	t := st.Divisions[divID].Tier(tier)
	t.Count += n
	st.Stats.TiersPurchased += int64(n)
	return e.commit(st, events.Event{Kind: events.TierPurchased, Division: divID, Tier: tier, Amount: float64(n)})
}

// BuyMax buys as many units as cash allows and returns the count bought.
func (e *Engine) BuyMax(st *model.GameState, divID string, tier int) int {
	_, t, tdef, ok := e.unit(st, divID, tier)
	if !ok {
		return 0
	}
	mods, ok := e.Mods(st, divID, tier)
	if !ok {
		return 0
	}
	n, _ := economy.MaxAffordable(tdef, t.Count, st.Cash, mods.Cost)
	// Summation order differs from BulkCost, so the last unit may miss by rounding.
	for ; n > 0; n-- {
		if e.Buy(st, divID, tier, n) {
			return n
		}
	}
	return 0
}

// UnlockTier requires the previous tier to be unlocked.
func (e *Engine) UnlockTier(st *model.GameState, divID string, tier int) bool {
	def, ok := e.cat.Divisions.ByID[divID]
	d := st.Divisions[divID]
	if !ok || d == nil || !d.Unlocked || tier <= 0 || tier >= len(def.Tiers) {
		return false
	}
	t, prev := d.Tier(tier), d.Tier(tier-1)
	if t == nil || prev == nil || t.Unlocked || !prev.Unlocked {
		return false
	}
	if !e.debit(st, def.Tiers[tier].UnlockCost) {
		return false
	}
	t.Unlocked = true
	return e.commit(st, events.Event{Kind: events.TierUnlocked, Division: divID, Tier: tier})
}

// UnlockDivision requires the previous division in catalog order to be unlocked.
func (e *Engine) UnlockDivision(st *model.GameState, divID string) bool {
	def, ok := e.cat.Divisions.ByID[divID]
	d := st.Divisions[divID]
	if !ok || d == nil || d.Unlocked {
		return false
	}
	for i, id := range e.cat.Divisions.Order {
		if id != divID {
			continue
		}
		if i > 0 {
			if prev := st.Divisions[e.cat.Divisions.Order[i-1]]; prev == nil || !prev.Unlocked {
				return false
			}
		}
		break
	}
	if !e.debit(st, def.UnlockCost) {
		return false
	}
	d.Unlocked = true
	return e.commit(st, events.Event{Kind: events.DivisionUnlocked, Division: divID})
}

func (e *Engine) HireChief(st *model.GameState, divID string) bool {
	def, ok := e.cat.Divisions.ByID[divID]
	d := st.Divisions[divID]
	if !ok || d == nil || !d.Unlocked || d.ChiefLevel >= e.cat.Automation.MaxLevel() {
		return false
	}
	if !e.debit(st, economy.ChiefCost(def, d.ChiefLevel)) {
		return false
	}
	d.ChiefLevel++
	return e.commit(st, events.Event{Kind: events.ChiefHired, Division: divID, Amount: float64(d.ChiefLevel)})
}

func (e *Engine) LevelUp(st *model.GameState, divID string, tier int) bool {
	_, t, tdef, ok := e.unit(st, divID, tier)
	if !ok || t.Count <= 0 {
		return false
	}
	if !e.debit(st, economy.LevelCost(tdef, t.Level)) {
		return false
	}
	t.Level++
	return e.commit(st)
}

func (e *Engine) HireWorker(st *model.GameState, divID string) bool {
	def, ok := e.cat.Divisions.ByID[divID]
	d := st.Divisions[divID]
	if !ok || d == nil || !d.Unlocked {
		return false
	}
	if !e.debit(st, economy.WorkerCost(def, d.Workers)) {
		return false
	}
	d.Workers++
	return e.commit(st)
}

func (e *Engine) BuyUpgrade(st *model.GameState, id string) bool {
	def, ok := e.cat.Upgrades.ByID[id]
	if !ok || st.Upgrades[id] {
		return false
	}
	if !e.debit(st, def.Cost) {
		return false
	}
	st.Upgrades[id] = true
	return e.commit(st)
}

func (e *Engine) ResolveBottleneckCash(st *model.GameState, divID, defID string) bool {
	if !bottleneck.ResolveCash(st, e.cat, divID, defID) {
		return false
	}
	return e.commit(st, events.Event{Kind: events.BottleneckResolved, Division: divID, ID: defID})
}

func (e *Engine) ResolveBottleneckResearch(st *model.GameState, divID, defID string) bool {
	if !bottleneck.ResolveResearch(st, e.cat, divID, defID) {
		return false
	}
	return e.commit(st, events.Event{Kind: events.BottleneckResolved, Division: divID, ID: defID})
}

// WaitBottleneck starts the wait timer; resolution happens in a later evaluation.
func (e *Engine) WaitBottleneck(st *model.GameState, divID, defID string) bool {
	if !bottleneck.StartWait(st, e.cat, divID, defID) {
		return false
	}
	return e.commit(st)
}

func (e *Engine) BuyInstrument(st *model.GameState, id string, cash float64) bool {
	if !e.market.Buy(st, id, cash) {
		return false
	}
	return e.commit(st)
}

func (e *Engine) SellInstrument(st *model.GameState, id string, shares float64) bool {
	if _, ok := e.market.Sell(st, id, shares); !ok {
		return false
	}
	return e.commit(st)
}
