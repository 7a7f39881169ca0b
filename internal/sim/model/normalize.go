package model

import (
	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/logic/mathx"
)

// Normalize repairs a decoded state against the catalogs: missing divisions and tiers
// appear, nil collections become empty, and out-of-range numbers are clamped.
// Unknown divisions and surplus tiers are kept; the engine skips them.
func Normalize(st *GameState, cat *catalogs.Catalogs) {
	if st.Secondary == nil {
		st.Secondary = map[string]float64{}
	}
	if st.Divisions == nil {
		st.Divisions = map[string]*Division{}
	}
	if st.GlobalBottlenecks == nil {
		st.GlobalBottlenecks = []BottleneckInstance{}
	}
	if st.Research.Unlocked == nil {
		st.Research.Unlocked = map[string]bool{}
	}
	if a := st.Research.Active; a != nil {
		if _, ok := cat.Research.ByID[a.ID]; !ok {
			st.Research.Active = nil
		} else {
			a.Progress = mathx.Clamp(mathx.NonNegative(a.Progress), 0, 1)
		}
	}
	if st.Upgrades == nil {
		st.Upgrades = map[string]bool{}
	}
	if st.Treasury.Holdings == nil {
		st.Treasury.Holdings = map[string]Holding{}
	}
	if st.Contracts.Active == nil {
		st.Contracts.Active = []Contract{}
	}
	if st.Buffs == nil {
		st.Buffs = []ActiveBuff{}
	}
	if st.AchievementFlags == nil {
		st.AchievementFlags = map[string]bool{}
	}

	st.Cash = mathx.NonNegative(st.Cash)
	st.ResearchPoints = mathx.NonNegative(st.ResearchPoints)
	st.PrestigePoints = mathx.NonNegative(st.PrestigePoints)
	for k, v := range st.Secondary {
		st.Secondary[k] = mathx.NonNegative(v)
	}

	for i, id := range cat.Divisions.Order {
		d := st.Divisions[id]
		if d == nil {
			d = NewDivision()
			st.Divisions[id] = d
		}
		if i == 0 {
			d.Unlocked = true
		}
	}
	maxChief := cat.Automation.MaxLevel()
	for _, d := range st.Divisions {
		normalizeDivision(d, maxChief)
	}
}

func normalizeDivision(d *Division, maxChief int) {
	for len(d.Tiers) < catalogs.TiersPerDivision {
		d.Tiers = append(d.Tiers, Tier{})
	}
	d.Tiers[0].Unlocked = true
	if d.Bottlenecks == nil {
		d.Bottlenecks = []BottleneckInstance{}
	}
	d.ChiefLevel = mathx.Clamp(d.ChiefLevel, 0, mathx.MaxOf(maxChief, 0))
	d.Workers = mathx.MaxOf(d.Workers, 0)
	d.RevenueStars = mathx.MaxOf(d.RevenueStars, 0)
	d.SpeedStars = mathx.MaxOf(d.SpeedStars, 0)
	for i := range d.Tiers {
		t := &d.Tiers[i]
		t.Count = mathx.MaxOf(t.Count, 0)
		t.Level = mathx.MaxOf(t.Level, 0)
		t.Progress = mathx.NonNegative(t.Progress)
	}
	for i := range d.Bottlenecks {
		b := &d.Bottlenecks[i]
		b.Severity = mathx.Clamp(mathx.NonNegative(b.Severity), 0, 1)
	}
}
