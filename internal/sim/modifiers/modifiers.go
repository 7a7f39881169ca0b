// Package modifiers folds every bonus and penalty source into one set of
// multipliers per production unit.
package modifiers

import (
	"sort"

	"idleempire.io/internal/sim/bottleneck"
	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/logic/economy"
	"idleempire.io/internal/sim/logic/mathx"
	"idleempire.io/internal/sim/logic/power"
	"idleempire.io/internal/sim/model"
	"idleempire.io/internal/sim/tuning"
)

const minCostMult = 0.01

type Mods struct {
	Speed   float64
	Revenue float64
	Cost    float64
}

// Identity is the neutral element of Combine.
var Identity = Mods{Speed: 1, Revenue: 1, Cost: 1}

// Source is one independent contribution; its fields are multipliers.
type Source struct {
	Name    string
	Speed   float64
	Revenue float64
	Cost    float64
}

func neutral(name string) Source { return Source{Name: name, Speed: 1, Revenue: 1, Cost: 1} }

// Combine multiplies sources together. The result does not depend on order
// beyond floating-point rounding.
func Combine(srcs []Source) Mods {
	m := Identity
	for _, s := range srcs {
		m.Speed *= s.Speed
		m.Revenue *= s.Revenue
		m.Cost *= s.Cost
	}
	if m.Cost < minCostMult {
		m.Cost = minCostMult
	}
	return m
}

type Resolver struct {
	Cat *catalogs.Catalogs
	Tun tuning.Tuning
}

// Resolve returns the effective multipliers for one tier. ok is false for a division
// or tier index unknown to the catalog.
func (r Resolver) Resolve(st *model.GameState, divID string, tier int, bal power.Balance) (Mods, bool) {
	srcs, ok := r.Sources(st, divID, tier, bal)
	if !ok {
		return Identity, false
	}
	return Combine(srcs), true
}

// Cycle resolves one tier's multipliers together with its effective cycle duration:
// the chief's automation speed from the catalog table, then every other speed source.
func (r Resolver) Cycle(st *model.GameState, divID string, tier int, bal power.Balance) (Mods, float64, bool) {
	srcs, ok := r.Sources(st, divID, tier, bal)
	if !ok {
		return Identity, 0, false
	}
	// srcs[0] is the automation source, already folded into CycleTimeMs.
	boost := Combine(srcs[1:])
	def := r.Cat.Divisions.ByID[divID].Tiers[tier]
	cycle := economy.CycleTimeMs(def, r.Cat.Automation, st.Divisions[divID].ChiefLevel) / boost.Speed
	return Combine(srcs), cycle, true
}

func (r Resolver) Sources(st *model.GameState, divID string, tier int, bal power.Balance) ([]Source, bool) {
	def, ok := r.Cat.Divisions.ByID[divID]
	d := st.Divisions[divID]
	if !ok || d == nil || tier < 0 || tier >= len(def.Tiers) || tier >= len(d.Tiers) {
		return nil, false
	}
	count := d.Tiers[tier].Count

	auto := neutral("automation")
	auto.Speed = r.Cat.Automation.Speed(d.ChiefLevel)

	return []Source{
		auto,
		r.milestones(count),
		r.upgrades(st, divID, tier),
		r.research(st, divID, tier),
		r.stars(d),
		r.workers(d),
		r.prestige(st),
		r.buffs(st, divID, tier),
		r.bottlenecks(d, def, bal),
	}, true
}

func (r Resolver) milestones(count int) Source {
	s := neutral("milestones")
	for _, step := range r.Cat.Milestones.Steps {
		if count < step.Count {
			break
		}
		switch step.Kind {
		case catalogs.EffectSpeed:
			s.Speed *= step.Mult
		case catalogs.EffectRevenue:
			s.Revenue *= step.Mult
		}
	}
	return s
}

func applyMult(s *Source, e catalogs.Effect) {
	switch e.Kind {
	case catalogs.EffectSpeed:
		s.Speed *= e.Value
	case catalogs.EffectRevenue:
		s.Revenue *= e.Value
	case catalogs.EffectCost:
		s.Cost *= e.Value
	}
}

func (r Resolver) upgrades(st *model.GameState, divID string, tier int) Source {
	s := neutral("upgrades")
	for _, id := range sortedKeys(st.Upgrades) {
		def, ok := r.Cat.Upgrades.ByID[id]
		if !ok {
			continue
		}
		for _, e := range def.Effects {
			if e.Applies(divID, tier) {
				applyMult(&s, e)
			}
		}
	}
	return s
}

// research sums effect values within a node (1 + Σ) and multiplies across nodes.
func (r Resolver) research(st *model.GameState, divID string, tier int) Source {
	s := neutral("research")
	for _, id := range sortedKeys(st.Research.Unlocked) {
		def, ok := r.Cat.Research.ByID[id]
		if !ok {
			continue
		}
		var sp, rev, cost float64
		for _, e := range def.Effects {
			if !e.Applies(divID, tier) {
				continue
			}
			switch e.Kind {
			case catalogs.EffectSpeed:
				sp += e.Value
			case catalogs.EffectRevenue:
				rev += e.Value
			case catalogs.EffectCost:
				cost += e.Value
			}
		}
		s.Speed *= 1 + sp
		s.Revenue *= 1 + rev
		s.Cost *= mathx.MaxOf(1+cost, minCostMult)
	}
	return s
}

func (r Resolver) stars(d *model.Division) Source {
	s := neutral("stars")
	s.Revenue = 1 + float64(d.RevenueStars)*r.Tun.Stars.RevenueBonus
	s.Speed = 1 + float64(d.SpeedStars)*r.Tun.Stars.SpeedBonus
	return s
}

func (r Resolver) workers(d *model.Division) Source {
	s := neutral("workers")
	s.Revenue = 1 + float64(d.Workers)*r.Tun.Workers.RevenueBonus
	return s
}

func (r Resolver) prestige(st *model.GameState) Source {
	s := neutral("prestige")
	s.Revenue = 1 + st.PrestigePoints*r.Tun.Prestige.BonusPerPoint
	return s
}

func (r Resolver) buffs(st *model.GameState, divID string, tier int) Source {
	s := neutral("buffs")
	for _, b := range st.Buffs {
		if b.ExpiresAtMs <= st.SimTimeMs {
			continue
		}
		def, ok := r.Cat.Buffs.ByID[b.ID]
		if !ok {
			continue
		}
		for _, e := range def.Effects {
			if e.Applies(divID, tier) {
				applyMult(&s, e)
			}
		}
	}
	return s
}

func (r Resolver) bottlenecks(d *model.Division, def catalogs.DivisionDef, bal power.Balance) Source {
	s := neutral("bottlenecks")
	s.Speed = bottleneck.Multiplier(d, def, bal, r.Tun.Bottleneck.Floor)
	return s
}

// OfflineEfficiency is the base offline rate plus owned upgrade and research bonuses, capped.
func (r Resolver) OfflineEfficiency(st *model.GameState) float64 {
	eff := r.Tun.Offline.BaseEfficiency
	for _, id := range sortedKeys(st.Upgrades) {
		for _, e := range r.Cat.Upgrades.ByID[id].Effects {
			if e.Kind == catalogs.EffectOfflineEfficiency {
				eff += e.Value
			}
		}
	}
	for _, id := range sortedKeys(st.Research.Unlocked) {
		for _, e := range r.Cat.Research.ByID[id].Effects {
			if e.Kind == catalogs.EffectOfflineEfficiency {
				eff += e.Value
			}
		}
	}
	return mathx.Clamp(eff, 0, r.Tun.Offline.MaxEfficiency)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
