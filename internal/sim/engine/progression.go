package engine

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"idleempire.io/internal/sim/bottleneck"
	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/events"
	"idleempire.io/internal/sim/logic/mathx"
	"idleempire.io/internal/sim/model"
)

// contractNamespace seeds name-based contract ids so rotation stays reproducible.
var contractNamespace = uuid.MustParse("6f0c8a43-5a53-4d57-9a1e-2d4c3b7f1e01")

const (
	TrackRevenue = "revenue"
	TrackSpeed   = "speed"
)

func (e *Engine) StartResearch(st *model.GameState, id string) bool {
	def, ok := e.cat.Research.ByID[id]
	if !ok || st.Research.Active != nil || st.Research.Unlocked[id] {
		return false
	}
	for _, p := range def.Prereqs {
		if !st.Research.Unlocked[p] {
			return false
		}
	}
	if st.Cash < def.CashCost || st.ResearchPoints < def.PointsCost {
		return false
	}
	st.Cash -= def.CashCost
	st.ResearchPoints -= def.PointsCost
	st.Research.Active = &model.ActiveResearch{ID: id}
	return e.commit(st)
}

// advanceResearch accrues research points while a project runs and completes it.
func (e *Engine) advanceResearch(st *model.GameState, elapsedMs int64) {
	a := st.Research.Active
	if a == nil {
		return
	}
	def, ok := e.cat.Research.ByID[a.ID]
	if !ok {
		e.log.Debug("drop unknown active research", "research", a.ID)
		st.Research.Active = nil
		return
	}
	st.ResearchPoints += e.tun.Research.PointsPerSec * float64(elapsedMs) / 1000
	a.Progress += float64(elapsedMs) / float64(def.DurationMs)
	if a.Progress < 1 {
		return
	}
	st.Research.Unlocked[a.ID] = true
	st.Research.Active = nil
	e.emit(st)(events.Event{Kind: events.ResearchCompleted, ID: def.ID})
}

// ActivateBuff spends tokens on a catalog buff.
func (e *Engine) ActivateBuff(st *model.GameState, id string) bool {
	def, ok := e.cat.Buffs.ByID[id]
	if !ok || st.Secondary[model.SecondaryTokens] < def.TokenCost {
		return false
	}
	st.Secondary[model.SecondaryTokens] -= def.TokenCost
	e.applyBuff(st, def)
	return e.commit(st)
}

// applyBuff starts a buff, or extends it when already running.
func (e *Engine) applyBuff(st *model.GameState, def catalogs.BuffDef) {
	until := st.SimTimeMs + def.DurationMs
	for i := range st.Buffs {
		if st.Buffs[i].ID == def.ID {
			st.Buffs[i].ExpiresAtMs = mathx.MaxOf(st.Buffs[i].ExpiresAtMs, until)
			return
		}
	}
	st.Buffs = append(st.Buffs, model.ActiveBuff{ID: def.ID, ExpiresAtMs: until})
}

func (e *Engine) expireBuffs(st *model.GameState) {
	kept := st.Buffs[:0]
	for _, b := range st.Buffs {
		if b.ExpiresAtMs > st.SimTimeMs {
			kept = append(kept, b)
		}
	}
	st.Buffs = kept
}

func (e *Engine) contractMetric(st *model.GameState, tmpl catalogs.ContractTemplate) float64 {
	switch tmpl.Kind {
	case catalogs.ContractEarnCash:
		return st.Stats.TotalCashEarned
	case catalogs.ContractCompleteCycles:
		return float64(st.Stats.CyclesCompleted)
	case catalogs.ContractOwnTier:
		if d := st.Divisions[tmpl.Division]; d != nil {
			if t := d.Tier(tmpl.Tier); t != nil {
				return float64(t.Count)
			}
		}
	}
	return 0
}

func (e *Engine) advanceContracts(st *model.GameState) {
	for i := range st.Contracts.Active {
		c := &st.Contracts.Active[i]
		if c.Completed || c.Claimed || st.SimTimeMs >= c.ExpiresAtMs {
			continue
		}
		tmpl, ok := e.cat.Contracts.ByID[c.Template]
		if !ok {
			continue
		}
		c.Progress = e.contractMetric(st, tmpl) - c.Baseline
		if c.Progress >= tmpl.Target {
			c.Completed = true
			e.emit(st)(events.Event{Kind: events.ContractCompleted, ID: c.ID, Amount: tmpl.Target})
		}
	}
	if st.SimTimeMs >= st.Contracts.NextRotationMs {
		e.rotateContracts(st)
	}
}

// rotateContracts drops claimed and expired contracts, keeps claimable ones, and
// refills the slots from templates chosen by hashing the rotation serial.
func (e *Engine) rotateContracts(st *model.GameState) {
	now := st.SimTimeMs
	kept := st.Contracts.Active[:0]
	for _, c := range st.Contracts.Active {
		claimable := c.Completed && !c.Claimed
		running := !c.Completed && !c.Claimed && now < c.ExpiresAtMs
		if claimable || running {
			kept = append(kept, c)
		}
	}
	st.Contracts.Active = kept
	st.Contracts.NextRotationMs = now + e.tun.Contracts.RotationMs

	tmpls := e.cat.Contracts.Templates
	if len(tmpls) == 0 {
		return
	}
	for len(st.Contracts.Active) < e.tun.Contracts.Slots {
		st.Contracts.Serial++
		start := int(mathx.Hash2(e.tun.Contracts.Seed, st.Contracts.Serial, 0) % uint64(len(tmpls)))
		tmpl := tmpls[start]
		for k := 0; k < len(tmpls); k++ {
			cand := tmpls[(start+k)%len(tmpls)]
			if !hasTemplate(st.Contracts.Active, cand.ID) {
				tmpl = cand
				break
			}
		}
		baseline := e.contractMetric(st, tmpl)
		if tmpl.Kind == catalogs.ContractOwnTier {
			baseline = 0
		}
		name := fmt.Sprintf("%d/%s", st.Contracts.Serial, tmpl.ID)
		st.Contracts.Active = append(st.Contracts.Active, model.Contract{
			ID:          uuid.NewSHA1(contractNamespace, []byte(name)).String(),
			Template:    tmpl.ID,
			Baseline:    baseline,
			ExpiresAtMs: now + tmpl.DurationMs,
		})
	}
}

func hasTemplate(cs []model.Contract, id string) bool {
	for _, c := range cs {
		if c.Template == id {
			return true
		}
	}
	return false
}

// ClaimContract pays a completed contract's reward once.
func (e *Engine) ClaimContract(st *model.GameState, id string) bool {
	for i := range st.Contracts.Active {
		c := &st.Contracts.Active[i]
		if c.ID != id {
			continue
		}
		if !c.Completed || c.Claimed {
			return false
		}
		tmpl, ok := e.cat.Contracts.ByID[c.Template]
		if !ok {
			return false
		}
		r := tmpl.Reward
		st.Cash += r.Cash
		st.ResearchPoints += r.ResearchPoints
		st.Secondary[model.SecondaryTokens] += r.Tokens
		if r.Buff != "" {
			if def, ok := e.cat.Buffs.ByID[r.Buff]; ok {
				e.applyBuff(st, def)
			}
		}
		c.Claimed = true
		return e.commit(st)
	}
	return false
}

// PrestigeGain is floor(sqrt(runCash / divisor)), or 0 below the run threshold.
func (e *Engine) PrestigeGain(st *model.GameState) float64 {
	run := st.Stats.RunCashEarned
	if run < e.tun.Prestige.MinRunCash {
		return 0
	}
	return math.Floor(math.Sqrt(run / e.tun.Prestige.Divisor))
}

// Prestige resets the run. Prestige points, division stars, secondary currencies,
// lifetime stats and achievement flags carry over; everything else starts fresh.
func (e *Engine) Prestige(st *model.GameState) bool {
	gain := e.PrestigeGain(st)
	if gain < 1 {
		return false
	}
	fresh := model.DefaultState(e.cat, e.tun.StartingCash)
	fresh.LastPlayed = st.LastPlayed
	fresh.SimTimeMs = st.SimTimeMs
	fresh.LastBottleneckEvalMs = st.LastBottleneckEvalMs
	fresh.PrestigePoints = st.PrestigePoints + gain
	fresh.Secondary = st.Secondary
	fresh.AchievementFlags = st.AchievementFlags
	fresh.Stats = st.Stats
	fresh.Stats.RunCashEarned = 0
	fresh.Stats.Prestiges++
	for id, d := range st.Divisions {
		if fd := fresh.Divisions[id]; fd != nil {
			fd.RevenueStars = d.RevenueStars
			fd.SpeedStars = d.SpeedStars
		}
	}
	*st = *fresh
	return e.commit(st, events.Event{Kind: events.PrestigeCompleted, Amount: gain})
}

// DivisionPrestige resets one division's tiers, chief, workers and bottlenecks in
// exchange for a star on the chosen track. The last tier must reach the configured count.
func (e *Engine) DivisionPrestige(st *model.GameState, divID, track string) bool {
	d := st.Divisions[divID]
	if _, ok := e.cat.Divisions.ByID[divID]; !ok || d == nil || !d.Unlocked {
		return false
	}
	if track != TrackRevenue && track != TrackSpeed {
		return false
	}
	last := d.Tier(catalogs.TiersPerDivision - 1)
	if last == nil || last.Count < e.tun.DivisionPrestige.MinLastTierCount {
		return false
	}
	d.Tiers = model.NewDivision().Tiers
	d.ChiefLevel = 0
	d.Workers = 0
	bottleneck.Rearm(d)
	if track == TrackRevenue {
		d.RevenueStars++
	} else {
		d.SpeedStars++
	}
	return e.commit(st, events.Event{Kind: events.PrestigeCompleted, Division: divID, ID: track, Amount: 1})
}
