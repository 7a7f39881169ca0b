// Package bottleneck runs the per-division slowdown state machines and the global
// power-deficit toggle. All timing is simulated time (GameState.SimTimeMs).
package bottleneck

import (
	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/events"
	"idleempire.io/internal/sim/logic/power"
	"idleempire.io/internal/sim/model"
)

// Due reports whether a throttled evaluation should run now.
func Due(st *model.GameState, intervalMs int) bool {
	return st.SimTimeMs-st.LastBottleneckEvalMs >= int64(intervalMs)
}

// Evaluate activates triggered definitions, completes elapsed waits and toggles the
// global power-deficit instance. Each transition is reported through emit.
func Evaluate(st *model.GameState, cat *catalogs.Catalogs, bal power.Balance, emit func(events.Event)) {
	now := st.SimTimeMs
	for _, def := range cat.Bottlenecks.Defs {
		if def.Kind == catalogs.BottleneckPowerDeficit {
			togglePowerDeficit(st, def, bal, emit)
		}
	}

	for _, divID := range cat.Divisions.Order {
		d := st.Divisions[divID]
		if d == nil || !d.Unlocked {
			continue
		}
		for _, def := range cat.Bottlenecks.Defs {
			if def.Kind != catalogs.BottleneckDivision {
				continue
			}
			if def.Division != "" && def.Division != divID {
				continue
			}
			inst := d.Bottleneck(def.ID)
			if inst == nil {
				if Triggered(def.Trigger, st, d, bal) {
					d.Bottlenecks = append(d.Bottlenecks, model.BottleneckInstance{
						ID:       def.ID,
						Active:   true,
						Severity: def.Severity,
					})
					emit(events.Event{Kind: events.BottleneckActive, Division: divID, ID: def.ID, Amount: def.Severity, SimTimeMs: now})
				}
				continue
			}
			if inst.Active && !inst.Resolved && inst.WaitStartedAt != nil && now-*inst.WaitStartedAt >= def.WaitMs {
				inst.Active = false
				inst.Resolved = true
				emit(events.Event{Kind: events.BottleneckResolved, Division: divID, ID: def.ID, SimTimeMs: now})
			}
		}
	}
	st.LastBottleneckEvalMs = now
}

func togglePowerDeficit(st *model.GameState, def catalogs.BottleneckDef, bal power.Balance, emit func(events.Event)) {
	inst := st.GlobalBottleneck(def.ID)
	deficit := bal.Deficit()
	if inst == nil {
		if !deficit {
			return
		}
		st.GlobalBottlenecks = append(st.GlobalBottlenecks, model.BottleneckInstance{ID: def.ID})
		inst = &st.GlobalBottlenecks[len(st.GlobalBottlenecks)-1]
	}
	inst.Severity = 1 - bal.Efficiency()
	switch {
	case deficit && !inst.Active:
		inst.Active = true
		emit(events.Event{Kind: events.BottleneckActive, ID: def.ID, Amount: inst.Severity, SimTimeMs: st.SimTimeMs})
	case !deficit && inst.Active:
		inst.Active = false
		emit(events.Event{Kind: events.BottleneckResolved, ID: def.ID, SimTimeMs: st.SimTimeMs})
	}
}

// Triggered evaluates a trigger predicate against the owning division.
func Triggered(tr catalogs.Trigger, st *model.GameState, d *model.Division, bal power.Balance) bool {
	var v float64
	switch tr.Metric {
	case catalogs.MetricTierCount:
		t := d.Tier(tr.Tier)
		if t == nil {
			return false
		}
		v = float64(t.Count)
	case catalogs.MetricDivisionCount:
		v = float64(d.TotalCount())
	case catalogs.MetricCash:
		v = st.Cash
	case catalogs.MetricPowerDeficit:
		v = bal.Consumed - bal.Generated
	default:
		return false
	}
	switch tr.Op {
	case ">":
		return v > tr.Value
	case ">=":
		return v >= tr.Value
	case "<":
		return v < tr.Value
	case "<=":
		return v <= tr.Value
	case "==":
		return v == tr.Value
	case "!=":
		return v != tr.Value
	}
	return false
}

// Multiplier is the division's combined speed factor: every active instance
// contributes (1 - severity), power efficiency applies to every division except
// the power source, and the product never drops below floor.
func Multiplier(d *model.Division, def catalogs.DivisionDef, bal power.Balance, floor float64) float64 {
	m := 1.0
	for _, b := range d.Bottlenecks {
		if b.Active && !b.Resolved {
			m *= 1 - b.Severity
		}
	}
	if !def.PowerSource {
		m *= bal.Efficiency()
	}
	if m < floor {
		return floor
	}
	return m
}

func pending(st *model.GameState, cat *catalogs.Catalogs, divID, defID string) (*model.BottleneckInstance, catalogs.BottleneckDef, bool) {
	d := st.Divisions[divID]
	def, ok := cat.Bottlenecks.ByID[defID]
	if d == nil || !ok || def.Kind != catalogs.BottleneckDivision {
		return nil, def, false
	}
	inst := d.Bottleneck(defID)
	if inst == nil || !inst.Active || inst.Resolved || inst.WaitStartedAt != nil {
		return nil, def, false
	}
	return inst, def, true
}

// ResolveCash pays the definition's cash cost and resolves the instance at once.
func ResolveCash(st *model.GameState, cat *catalogs.Catalogs, divID, defID string) bool {
	inst, def, ok := pending(st, cat, divID, defID)
	if !ok || st.Cash < def.CashCost {
		return false
	}
	st.Cash -= def.CashCost
	inst.Active = false
	inst.Resolved = true
	return true
}

// ResolveResearch is only offered when the definition has a research cost.
func ResolveResearch(st *model.GameState, cat *catalogs.Catalogs, divID, defID string) bool {
	inst, def, ok := pending(st, cat, divID, defID)
	if !ok || def.ResearchCost <= 0 || st.ResearchPoints < def.ResearchCost {
		return false
	}
	st.ResearchPoints -= def.ResearchCost
	inst.Active = false
	inst.Resolved = true
	return true
}

// StartWait records the wait start; a later Evaluate resolves it once WaitMs has elapsed.
// A waiting instance can no longer be paid off.
func StartWait(st *model.GameState, cat *catalogs.Catalogs, divID, defID string) bool {
	inst, _, ok := pending(st, cat, divID, defID)
	if !ok {
		return false
	}
	now := st.SimTimeMs
	inst.WaitStartedAt = &now
	return true
}

// Rearm drops every instance on the division so definitions can trigger again.
func Rearm(d *model.Division) {
	d.Bottlenecks = []model.BottleneckInstance{}
}
