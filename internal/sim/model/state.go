// Package model defines the persisted game state. Every field round-trips through
// encoding/json unchanged; maps and slices are never nil after DefaultState or Normalize.
package model

import "idleempire.io/internal/sim/catalogs"

// CurrentVersion is the schema version stamped by the last migration.
const CurrentVersion = 5

// SecondaryTokens is the secondary currency spent on buffs.
const SecondaryTokens = "tokens"

type GameState struct {
	Version              int   `json:"version"`
	LastPlayed           int64 `json:"lastPlayed"`
	SimTimeMs            int64 `json:"simTimeMs"`
	LastBottleneckEvalMs int64 `json:"lastBottleneckEvalMs"`

	Cash           float64            `json:"cash"`
	ResearchPoints float64            `json:"researchPoints"`
	PrestigePoints float64            `json:"prestigePoints"`
	Secondary      map[string]float64 `json:"secondary"`

	Power PowerTelemetry `json:"power"`

	Divisions         map[string]*Division `json:"divisions"`
	GlobalBottlenecks []BottleneckInstance `json:"globalBottlenecks"`

	Research  Research        `json:"research"`
	Upgrades  map[string]bool `json:"upgrades"`
	Treasury  Treasury        `json:"treasury"`
	Contracts Contracts       `json:"contracts"`
	Buffs     []ActiveBuff    `json:"buffs"`

	Stats            LifetimeStats   `json:"stats"`
	AchievementFlags map[string]bool `json:"achievementFlags"`
}

type PowerTelemetry struct {
	GeneratedMW float64 `json:"generatedMW"`
	ConsumedMW  float64 `json:"consumedMW"`
	Efficiency  float64 `json:"efficiency"`
}

type Division struct {
	Unlocked     bool                 `json:"unlocked"`
	ChiefLevel   int                  `json:"chiefLevel"`
	Workers      int                  `json:"workers"`
	RevenueStars int                  `json:"revenueStars"`
	SpeedStars   int                  `json:"speedStars"`
	Tiers        []Tier               `json:"tiers"`
	Bottlenecks  []BottleneckInstance `json:"bottlenecks"`
}

type Tier struct {
	Unlocked  bool    `json:"unlocked"`
	Count     int     `json:"count"`
	Level     int     `json:"level"`
	Producing bool    `json:"producing"`
	Progress  float64 `json:"progress"`
}

type BottleneckInstance struct {
	ID       string  `json:"id"`
	Active   bool    `json:"active"`
	Severity float64 `json:"severity"`
	Resolved bool    `json:"resolved"`
	// WaitStartedAt is simulated time (SimTimeMs), nil until the wait path is chosen.
	WaitStartedAt *int64 `json:"waitStartedAt"`
}

type Research struct {
	Unlocked map[string]bool `json:"unlocked"`
	Active   *ActiveResearch `json:"active"`
}

type ActiveResearch struct {
	ID       string  `json:"id"`
	Progress float64 `json:"progress"`
}

type Treasury struct {
	Holdings       map[string]Holding `json:"holdings"`
	RealizedProfit float64            `json:"realizedProfit"`
}

type Holding struct {
	Shares    float64 `json:"shares"`
	CostBasis float64 `json:"costBasis"`
}

type Contracts struct {
	Active         []Contract `json:"active"`
	NextRotationMs int64      `json:"nextRotationMs"`
	Serial         int        `json:"serial"`
}

type Contract struct {
	ID          string  `json:"id"`
	Template    string  `json:"template"`
	Baseline    float64 `json:"baseline"`
	Progress    float64 `json:"progress"`
	ExpiresAtMs int64   `json:"expiresAtMs"`
	Completed   bool    `json:"completed"`
	Claimed     bool    `json:"claimed"`
}

type ActiveBuff struct {
	ID          string `json:"id"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

type LifetimeStats struct {
	TotalCashEarned   float64 `json:"totalCashEarned"`
	RunCashEarned     float64 `json:"runCashEarned"`
	OfflineCashEarned float64 `json:"offlineCashEarned"`
	CyclesCompleted   int64   `json:"cyclesCompleted"`
	TiersPurchased    int64   `json:"tiersPurchased"`
	Taps              int64   `json:"taps"`
	Prestiges         int     `json:"prestiges"`
	PlayTimeMs        int64   `json:"playTimeMs"`
}

// NewDivision returns a locked division with only its first tier unlocked.
func NewDivision() *Division {
	d := &Division{
		Tiers:       make([]Tier, catalogs.TiersPerDivision),
		Bottlenecks: []BottleneckInstance{},
	}
	d.Tiers[0].Unlocked = true
	return d
}

// DefaultState is a fresh run: the first catalog division unlocked, startingCash in hand.
func DefaultState(cat *catalogs.Catalogs, startingCash float64) *GameState {
	st := &GameState{
		Version:           CurrentVersion,
		Cash:              startingCash,
		Secondary:         map[string]float64{},
		Power:             PowerTelemetry{Efficiency: 1},
		Divisions:         map[string]*Division{},
		GlobalBottlenecks: []BottleneckInstance{},
		Research:          Research{Unlocked: map[string]bool{}},
		Upgrades:          map[string]bool{},
		Treasury:          Treasury{Holdings: map[string]Holding{}},
		Contracts:         Contracts{Active: []Contract{}},
		Buffs:             []ActiveBuff{},
		AchievementFlags:  map[string]bool{},
	}
	for i, id := range cat.Divisions.Order {
		d := NewDivision()
		d.Unlocked = i == 0
		st.Divisions[id] = d
	}
	return st
}

// Clone returns a deep copy sharing no memory with st.
func (st *GameState) Clone() *GameState {
	if st == nil {
		return nil
	}
	out := *st
	out.Secondary = cloneMap(st.Secondary)
	out.Divisions = make(map[string]*Division, len(st.Divisions))
	for id, d := range st.Divisions {
		out.Divisions[id] = d.Clone()
	}
	out.GlobalBottlenecks = cloneBottlenecks(st.GlobalBottlenecks)
	out.Research.Unlocked = cloneMap(st.Research.Unlocked)
	if st.Research.Active != nil {
		a := *st.Research.Active
		out.Research.Active = &a
	}
	out.Upgrades = cloneMap(st.Upgrades)
	out.Treasury.Holdings = cloneMap(st.Treasury.Holdings)
	out.Contracts.Active = cloneSlice(st.Contracts.Active)
	out.Buffs = cloneSlice(st.Buffs)
	out.AchievementFlags = cloneMap(st.AchievementFlags)
	return &out
}

func (d *Division) Clone() *Division {
	if d == nil {
		return nil
	}
	out := *d
	out.Tiers = cloneSlice(d.Tiers)
	out.Bottlenecks = cloneBottlenecks(d.Bottlenecks)
	return &out
}

// Tier returns the tier at idx or nil when idx is out of range.
func (d *Division) Tier(idx int) *Tier {
	if d == nil || idx < 0 || idx >= len(d.Tiers) {
		return nil
	}
	return &d.Tiers[idx]
}

// TotalCount sums owned units across the division's tiers.
func (d *Division) TotalCount() int {
	n := 0
	for _, t := range d.Tiers {
		if t.Count > 0 {
			n += t.Count
		}
	}
	return n
}

// Bottleneck returns the instance for defID, or nil.
func (d *Division) Bottleneck(defID string) *BottleneckInstance {
	for i := range d.Bottlenecks {
		if d.Bottlenecks[i].ID == defID {
			return &d.Bottlenecks[i]
		}
	}
	return nil
}

// GlobalBottleneck returns the root-level instance for defID, or nil.
func (st *GameState) GlobalBottleneck(defID string) *BottleneckInstance {
	for i := range st.GlobalBottlenecks {
		if st.GlobalBottlenecks[i].ID == defID {
			return &st.GlobalBottlenecks[i]
		}
	}
	return nil
}

func cloneBottlenecks(in []BottleneckInstance) []BottleneckInstance {
	if in == nil {
		return nil
	}
	out := make([]BottleneckInstance, len(in))
	for i, b := range in {
		out[i] = b
		if b.WaitStartedAt != nil {
			v := *b.WaitStartedAt
			out[i].WaitStartedAt = &v
		}
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	if in == nil {
		return nil
	}
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
