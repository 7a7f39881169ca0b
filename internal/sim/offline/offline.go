// Package offline converts time spent away into earnings, once, before the live
// loop starts.
package offline

import (
	"log/slog"

	"idleempire.io/internal/sim/engine"
	"idleempire.io/internal/sim/events"
	"idleempire.io/internal/sim/logic/economy"
	"idleempire.io/internal/sim/logic/mathx"
	"idleempire.io/internal/sim/logic/power"
	"idleempire.io/internal/sim/model"
	"idleempire.io/internal/sim/tuning"
)

type DivisionEarnings struct {
	Division     string  `json:"division"`
	IncomePerSec float64 `json:"income_per_sec"`
	Cash         float64 `json:"cash"`
}

type Report struct {
	NowMs            int64              `json:"now_ms"`
	GapMs            int64              `json:"gap_ms"`
	CappedDurationMs int64              `json:"capped_duration_ms"`
	Mode             string             `json:"mode"`
	Efficiency       float64            `json:"efficiency"`
	Divisions        []DivisionEarnings `json:"divisions"`
	TotalCash        float64            `json:"total_cash"`
	ResearchPoints   float64            `json:"research_points"`
}

func (r Report) Empty() bool { return r.CappedDurationMs == 0 }

type Reconciler struct {
	eng *engine.Engine
	tun tuning.Tuning
	log *slog.Logger
}

func New(eng *engine.Engine, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{eng: eng, tun: eng.Tuning(), log: log}
}

// Compute reports what the gap since st.LastPlayed is worth without touching st.
// Gaps under offline.min_ms yield an empty report; longer gaps are capped at offline.max_ms.
func (r *Reconciler) Compute(st *model.GameState, nowMs int64) Report {
	return r.ComputeMode(st, nowMs, r.tun.Offline.Mode)
}

func (r *Reconciler) ComputeMode(st *model.GameState, nowMs int64, mode string) Report {
	gap := nowMs - st.LastPlayed
	if gap < 0 {
		gap = 0
	}
	rep := Report{NowMs: nowMs, GapMs: gap, Mode: mode, Divisions: []DivisionEarnings{}}
	if gap < r.tun.Offline.MinMs {
		return rep
	}
	rep.CappedDurationMs = gap
	if rep.CappedDurationMs > r.tun.Offline.MaxMs {
		rep.CappedDurationMs = r.tun.Offline.MaxMs
	}
	rep.Efficiency = r.eng.Resolver().OfflineEfficiency(st)

	if mode == tuning.OfflineReplay {
		r.replay(st, &rep)
	} else {
		r.closedForm(st, &rep)
	}
	return rep
}

// IncomePerSec is each unlocked division's steady-state rate, treating every owned
// tier as continuously producing under current modifiers.
func (r *Reconciler) IncomePerSec(st *model.GameState) []DivisionEarnings {
	cat := r.eng.Catalogs()
	bal := power.Compute(st, cat)
	res := r.eng.Resolver()
	out := []DivisionEarnings{}
	for _, divID := range cat.Divisions.Order {
		d := st.Divisions[divID]
		if d == nil || !d.Unlocked {
			continue
		}
		def := cat.Divisions.ByID[divID]
		rate := 0.0
		for i, t := range d.Tiers {
			if i >= len(def.Tiers) || !t.Unlocked || t.Count <= 0 {
				continue
			}
			mods, cycleMs, ok := res.Cycle(st, divID, i, bal)
			if !ok {
				continue
			}
			cycleSec := cycleMs / 1000
			if cycleSec <= 0 || !mathx.Finite(cycleSec) {
				continue
			}
			rate += economy.CycleRevenue(def.Tiers[i], t.Count, t.Level) * mods.Revenue / cycleSec
		}
		out = append(out, DivisionEarnings{Division: divID, IncomePerSec: rate})
	}
	return out
}

func (r *Reconciler) closedForm(st *model.GameState, rep *Report) {
	secs := float64(rep.CappedDurationMs) / 1000
	for _, de := range r.IncomePerSec(st) {
		de.Cash = de.IncomePerSec * secs * rep.Efficiency
		rep.TotalCash += de.Cash
		rep.Divisions = append(rep.Divisions, de)
	}
	if st.Research.Active != nil {
		rep.ResearchPoints = r.tun.Research.PointsPerSec * secs
	}
}

// cycleCollector sums replayed revenue per division.
type cycleCollector map[string]float64

func (c cycleCollector) Publish(ev events.Event) {
	if ev.Kind == events.CycleCompleted {
		c[ev.Division] += ev.Amount
	}
}

// replay runs the tick engine at offline.replay_step_ms on a clone and credits its
// earnings scaled by efficiency.
func (r *Reconciler) replay(st *model.GameState, rep *Report) {
	clone := st.Clone()
	collected := cycleCollector{}
	eng := r.eng.WithPublisher(collected)
	step := int64(r.tun.Offline.ReplayStepMs)

	remaining := rep.CappedDurationMs
	for remaining > 0 {
		dt := step
		if remaining < dt {
			dt = remaining
		}
		eng.Tick(clone, dt)
		remaining -= dt
	}

	secs := float64(rep.CappedDurationMs) / 1000
	for _, divID := range r.eng.Catalogs().Divisions.Order {
		d := st.Divisions[divID]
		if d == nil || !d.Unlocked {
			continue
		}
		cash := collected[divID] * rep.Efficiency
		rep.Divisions = append(rep.Divisions, DivisionEarnings{Division: divID, IncomePerSec: collected[divID] / secs, Cash: cash})
		rep.TotalCash += cash
	}
	if rp := clone.ResearchPoints - st.ResearchPoints; rp > 0 {
		rep.ResearchPoints = rp
	}
}

// Apply credits a report atomically: cash, research points and the simulated clock
// move; counts, progress and unlocks never do.
func (r *Reconciler) Apply(st *model.GameState, rep Report) {
	st.LastPlayed = rep.NowMs
	if rep.Empty() {
		return
	}
	st.Cash += rep.TotalCash
	st.Stats.TotalCashEarned += rep.TotalCash
	st.Stats.RunCashEarned += rep.TotalCash
	st.Stats.OfflineCashEarned += rep.TotalCash
	st.ResearchPoints += rep.ResearchPoints
	st.SimTimeMs += rep.CappedDurationMs

	pub := r.eng.Publisher()
	pub.Publish(events.Event{Kind: events.OfflineApplied, Amount: rep.TotalCash, SimTimeMs: st.SimTimeMs})
	pub.Publish(events.Event{Kind: events.StateChanged, SimTimeMs: st.SimTimeMs})
	r.log.Info("offline progress applied",
		"gap_ms", rep.GapMs,
		"credited_ms", rep.CappedDurationMs,
		"cash", rep.TotalCash,
		"research_points", rep.ResearchPoints,
		"mode", rep.Mode,
	)
}
