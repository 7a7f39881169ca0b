// Package engine is the authoritative state-transition function: Tick advances a
// GameState by an elapsed duration, and the action methods apply player commands.
// Neither reads a wall clock or a random source.
package engine

import (
	"log/slog"
	"math"

	"idleempire.io/internal/sim/bottleneck"
	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/events"
	"idleempire.io/internal/sim/logic/economy"
	"idleempire.io/internal/sim/logic/mathx"
	"idleempire.io/internal/sim/logic/power"
	"idleempire.io/internal/sim/model"
	"idleempire.io/internal/sim/modifiers"
	"idleempire.io/internal/sim/treasury"
	"idleempire.io/internal/sim/tuning"
)

// progressEps absorbs rounding when per-step fractions sum to a whole cycle.
const progressEps = 1e-9

type Config struct {
	Catalogs  *catalogs.Catalogs
	Tuning    tuning.Tuning
	Publisher events.Publisher
	Logger    *slog.Logger
}

// Engine is not safe for concurrent use; a single driver goroutine owns it.
type Engine struct {
	cat    *catalogs.Catalogs
	tun    tuning.Tuning
	res    modifiers.Resolver
	market *treasury.Market
	pricer *economy.Pricer
	pub    events.Publisher
	log    *slog.Logger

	pending []events.Event
}

func New(cfg Config) *Engine {
	pub := cfg.Publisher
	if pub == nil {
		pub = events.Discard
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cat:    cfg.Catalogs,
		tun:    cfg.Tuning,
		res:    modifiers.Resolver{Cat: cfg.Catalogs, Tun: cfg.Tuning},
		market: treasury.NewMarket(cfg.Catalogs, cfg.Tuning.Treasury.Seed),
		pricer: economy.NewPricer(2048),
		pub:    pub,
		log:    log,
	}
}

// WithPublisher returns an engine sharing configuration but publishing to pub,
// for replays on cloned state that must not reach live listeners.
func (e *Engine) WithPublisher(pub events.Publisher) *Engine {
	return &Engine{
		cat:    e.cat,
		tun:    e.tun,
		res:    e.res,
		market: e.market,
		pricer: e.pricer,
		pub:    pub,
		log:    e.log,
	}
}

func (e *Engine) Catalogs() *catalogs.Catalogs { return e.cat }
func (e *Engine) Tuning() tuning.Tuning { return e.tun }
func (e *Engine) Resolver() modifiers.Resolver { return e.res }
func (e *Engine) Market() *treasury.Market { return e.market }
func (e *Engine) Publisher() events.Publisher { return e.pub }

type Result struct {
	ElapsedMs   int64
	Revenue     float64
	Completions int64
	Power       power.Balance
	Events      int
}

// Tick advances st by elapsedMs in three ordered phases. Power is recomputed in
// phase one and handed to production explicitly, so no unit can see a stale balance.
func (e *Engine) Tick(st *model.GameState, elapsedMs int64) Result {
	if elapsedMs <= 0 {
		return Result{}
	}
	bal := e.aggregates(st, elapsedMs)
	res := e.produce(st, elapsedMs, bal)
	e.housekeeping(st, elapsedMs)
	res.ElapsedMs = elapsedMs
	res.Power = bal
	res.Events = e.flush(st)
	return res
}

func (e *Engine) aggregates(st *model.GameState, elapsedMs int64) power.Balance {
	st.SimTimeMs += elapsedMs
	bal := power.Compute(st, e.cat)
	st.Power = bal.Telemetry()
	if bottleneck.Due(st, e.tun.Bottleneck.EvalIntervalMs) {
		bottleneck.Evaluate(st, e.cat, bal, e.emit(st))
	}
	return bal
}

func (e *Engine) produce(st *model.GameState, elapsedMs int64, bal power.Balance) Result {
	var res Result
	for id, d := range st.Divisions {
		if _, known := e.cat.Divisions.ByID[id]; !known && d != nil && d.Unlocked {
			e.log.Debug("skip unknown division", "division", id)
		}
	}
	for _, divID := range e.cat.Divisions.Order {
		d := st.Divisions[divID]
		if d == nil || !d.Unlocked {
			continue
		}
		def := e.cat.Divisions.ByID[divID]
		for i := range d.Tiers {
			t := &d.Tiers[i]
			if i >= len(def.Tiers) {
				if t.Count > 0 {
					e.log.Debug("skip tier beyond catalog", "division", divID, "tier", i)
				}
				continue
			}
			if t.Count < 0 {
				e.log.Debug("skip negative count", "division", divID, "tier", i, "count", t.Count)
				continue
			}
			if !t.Unlocked || t.Count == 0 {
				continue
			}
			if !t.Producing {
				if d.ChiefLevel > 0 {
					t.Producing = true
					t.Progress = 0
				}
				continue
			}
			mods, cycle, ok := e.res.Cycle(st, divID, i, bal)
			if !ok || !mathx.Finite(cycle) || cycle <= 0 {
				e.log.Debug("skip unresolvable tier", "division", divID, "tier", i)
				continue
			}
			t.Progress += float64(elapsedMs) / cycle
			if t.Progress < 1-progressEps {
				continue
			}
			n := math.Floor(t.Progress + progressEps)
			revenue := economy.CycleRevenue(def.Tiers[i], t.Count, t.Level) * mods.Revenue * n
			e.credit(st, revenue)
			st.Stats.CyclesCompleted += int64(n)
			if d.ChiefLevel > 0 {
				t.Progress = math.Max(0, t.Progress-n)
			} else {
				t.Progress = 0
				t.Producing = false
			}
			res.Revenue += revenue
			res.Completions += int64(n)
			e.emit(st)(events.Event{Kind: events.CycleCompleted, Division: divID, Tier: i, Amount: revenue})
		}
	}
	return res
}

func (e *Engine) housekeeping(st *model.GameState, elapsedMs int64) {
	e.advanceResearch(st, elapsedMs)
	e.expireBuffs(st)
	e.advanceContracts(st)
	st.Stats.PlayTimeMs += elapsedMs
}

func (e *Engine) credit(st *model.GameState, amount float64) {
	if !mathx.Finite(amount) || amount <= 0 {
		return
	}
	st.Cash += amount
	st.Stats.TotalCashEarned += amount
	st.Stats.RunCashEarned += amount
}

// debit refuses rather than letting cash go negative.
func (e *Engine) debit(st *model.GameState, amount float64) bool {
	if !mathx.Finite(amount) || amount < 0 || st.Cash < amount {
		return false
	}
	st.Cash -= amount
	return true
}

// emit returns a sink that stamps events with the current simulated time and
// buffers them until the mutation commits.
func (e *Engine) emit(st *model.GameState) func(events.Event) {
	return func(ev events.Event) {
		ev.SimTimeMs = st.SimTimeMs
		e.pending = append(e.pending, ev)
	}
}

// flush publishes buffered events then one state-changed signal.
func (e *Engine) flush(st *model.GameState) int {
	evs := e.pending
	e.pending = nil
	for _, ev := range evs {
		e.pub.Publish(ev)
	}
	e.pub.Publish(events.Event{Kind: events.StateChanged, SimTimeMs: st.SimTimeMs})
	return len(evs)
}

// Balance recomputes power for out-of-tick callers (actions, offline, UI quotes).
func (e *Engine) Balance(st *model.GameState) power.Balance {
	return power.Compute(st, e.cat)
}

// Mods resolves the current multipliers for one tier.
func (e *Engine) Mods(st *model.GameState, divID string, tier int) (modifiers.Mods, bool) {
	return e.res.Resolve(st, divID, tier, power.Compute(st, e.cat))
}
