package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TiersPerDivision is fixed for every division.
const TiersPerDivision = 6

type Catalogs struct {
	Divisions   DivisionCatalog
	Automation  AutomationCatalog
	Bottlenecks BottleneckCatalog
	Research    ResearchCatalog
	Upgrades    UpgradeCatalog
	Milestones  MilestoneCatalog
	Contracts   ContractCatalog
	Instruments InstrumentCatalog
	Buffs       BuffCatalog
}

type DivisionCatalog struct {
	// Order is the unlock/evaluation order; the first division starts unlocked.
	Order  []string
	ByID   map[string]DivisionDef
	Digest string
}

type DivisionDef struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	UnlockCost  float64 `json:"unlock_cost"`
	PowerSource bool    `json:"power_source"`

	ChiefBaseCost        float64 `json:"chief_base_cost"`
	ChiefCostMultiplier  float64 `json:"chief_cost_multiplier"`
	WorkerBaseCost       float64 `json:"worker_base_cost"`
	WorkerCostMultiplier float64 `json:"worker_cost_multiplier"`

	Tiers []TierDef `json:"tiers"`
}

type TierDef struct {
	Name              string  `json:"name"`
	UnlockCost        float64 `json:"unlock_cost"`
	BaseCost          float64 `json:"base_cost"`
	CostMultiplier    float64 `json:"cost_multiplier"`
	BaseRevenue       float64 `json:"base_revenue"`
	RevenueMultiplier float64 `json:"revenue_multiplier"`
	CycleMs           int64   `json:"cycle_ms"`
	// PowerMW > 0 generates, < 0 consumes.
	PowerMW             float64 `json:"power_mw"`
	LevelBaseCost       float64 `json:"level_base_cost"`
	LevelCostMultiplier float64 `json:"level_cost_multiplier"`
}

type AutomationCatalog struct {
	// Speeds[level] is the cycle speed multiplier for chief level 0..MaxLevel.
	Speeds []float64 `json:"speeds"`
	Digest string    `json:"-"`
}

func (a AutomationCatalog) MaxLevel() int { return len(a.Speeds) - 1 }

// Speed returns the multiplier for a chief level, clamping out-of-range levels.
func (a AutomationCatalog) Speed(level int) float64 {
	if len(a.Speeds) == 0 {
		return 1
	}
	if level < 0 {
		level = 0
	}
	if level >= len(a.Speeds) {
		level = len(a.Speeds) - 1
	}
	return a.Speeds[level]
}

const (
	BottleneckDivision     = "division"
	BottleneckPowerDeficit = "power_deficit"
)

const (
	MetricTierCount     = "tier_count"
	MetricDivisionCount = "division_count"
	MetricCash          = "cash"
	MetricPowerDeficit  = "power_deficit"
)

type BottleneckCatalog struct {
	Defs   []BottleneckDef
	ByID   map[string]BottleneckDef
	Digest string
}

type BottleneckDef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
	// Division restricts the definition to one division; empty means every division.
	Division     string  `json:"division,omitempty"`
	Trigger      Trigger `json:"trigger"`
	Severity     float64 `json:"severity"`
	CashCost     float64 `json:"cash_cost"`
	ResearchCost float64 `json:"research_cost"`
	WaitMs       int64   `json:"wait_ms"`
}

type Trigger struct {
	Metric string  `json:"metric"`
	Tier   int     `json:"tier,omitempty"`
	Op     string  `json:"op"`
	Value  float64 `json:"value"`
}

const (
	EffectSpeed             = "speed"
	EffectRevenue           = "revenue"
	EffectCost              = "cost"
	EffectOfflineEfficiency = "offline_efficiency"
)

const (
	ScopeGlobal   = "global"
	ScopeDivision = "division"
	ScopeTier     = "tier"
)

// Effect is shared by research nodes, upgrades and buffs. Research values are
// additive bonuses (0.1 = +10%); upgrade and buff values are direct multipliers.
// offline_efficiency is always additive.
type Effect struct {
	Kind     string  `json:"kind"`
	Scope    string  `json:"scope"`
	Division string  `json:"division,omitempty"`
	Tier     int     `json:"tier,omitempty"`
	Value    float64 `json:"value"`
}

// Applies reports whether the effect targets the given unit.
func (e Effect) Applies(divisionID string, tier int) bool {
	switch e.Scope {
	case "", ScopeGlobal:
		return true
	case ScopeDivision:
		return e.Division == divisionID
	case ScopeTier:
		return e.Division == divisionID && e.Tier == tier
	}
	return false
}

type ResearchCatalog struct {
	ByID   map[string]ResearchDef
	Digest string
}

type ResearchDef struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Prereqs    []string `json:"prereqs"`
	CashCost   float64  `json:"cash_cost"`
	PointsCost float64  `json:"points_cost"`
	DurationMs int64    `json:"duration_ms"`
	Effects    []Effect `json:"effects"`
}

type UpgradeCatalog struct {
	ByID   map[string]UpgradeDef
	Digest string
}

type UpgradeDef struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Cost    float64  `json:"cost"`
	Effects []Effect `json:"effects"`
}

type MilestoneCatalog struct {
	Steps  []MilestoneStep `json:"steps"`
	Digest string          `json:"-"`
}

// MilestoneStep applies to every tier whose owned count reaches Count.
type MilestoneStep struct {
	Count int     `json:"count"`
	Kind  string  `json:"kind"`
	Mult  float64 `json:"mult"`
}

const (
	ContractEarnCash       = "earn_cash"
	ContractOwnTier        = "own_tier"
	ContractCompleteCycles = "complete_cycles"
)

type ContractCatalog struct {
	Templates []ContractTemplate
	ByID      map[string]ContractTemplate
	Digest    string
}

type ContractTemplate struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Division   string         `json:"division,omitempty"`
	Tier       int            `json:"tier,omitempty"`
	Target     float64        `json:"target"`
	DurationMs int64          `json:"duration_ms"`
	Reward     ContractReward `json:"reward"`
}

type ContractReward struct {
	Cash           float64 `json:"cash,omitempty"`
	ResearchPoints float64 `json:"research_points,omitempty"`
	Tokens         float64 `json:"tokens,omitempty"`
	Buff           string  `json:"buff,omitempty"`
}

type InstrumentCatalog struct {
	Order  []string
	ByID   map[string]InstrumentDef
	Digest string
}

type InstrumentDef struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	BasePrice  float64 `json:"base_price"`
	Volatility float64 `json:"volatility"`
	PeriodMs   int64   `json:"period_ms"`
}

type BuffCatalog struct {
	ByID   map[string]BuffDef
	Digest string
}

type BuffDef struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	DurationMs int64    `json:"duration_ms"`
	TokenCost  float64  `json:"token_cost"`
	Effects    []Effect `json:"effects"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadDivisions(filepath.Join(configDir, "divisions"), &c.Divisions); err != nil {
		return nil, err
	}
	if err := loadAutomation(filepath.Join(configDir, "automation.json"), &c.Automation); err != nil {
		return nil, err
	}
	if err := loadBottlenecks(filepath.Join(configDir, "bottlenecks.json"), &c.Bottlenecks); err != nil {
		return nil, err
	}
	if err := loadResearch(filepath.Join(configDir, "research.json"), &c.Research); err != nil {
		return nil, err
	}
	if err := loadUpgrades(filepath.Join(configDir, "upgrades.json"), &c.Upgrades); err != nil {
		return nil, err
	}
	if err := loadMilestones(filepath.Join(configDir, "milestones.json"), &c.Milestones); err != nil {
		return nil, err
	}
	if err := loadContracts(filepath.Join(configDir, "contracts.json"), &c.Contracts); err != nil {
		return nil, err
	}
	if err := loadInstruments(filepath.Join(configDir, "instruments.json"), &c.Instruments); err != nil {
		return nil, err
	}
	if err := loadBuffs(filepath.Join(configDir, "buffs.json"), &c.Buffs); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks cross-references and the numeric shape every curve relies on.
// Catalogs built in code (tests, tools) should call it too.
func (c *Catalogs) Validate() error {
	if len(c.Divisions.Order) == 0 {
		return fmt.Errorf("divisions: at least one division required")
	}
	for _, id := range c.Divisions.Order {
		d, ok := c.Divisions.ByID[id]
		if !ok {
			return fmt.Errorf("divisions: order references unknown %q", id)
		}
		if len(d.Tiers) != TiersPerDivision {
			return fmt.Errorf("division %s: want %d tiers, got %d", id, TiersPerDivision, len(d.Tiers))
		}
		for i, t := range d.Tiers {
			if t.BaseCost <= 0 || t.CostMultiplier <= 1 {
				return fmt.Errorf("division %s tier %d: base_cost > 0 and cost_multiplier > 1 required", id, i)
			}
			if t.CycleMs <= 0 {
				return fmt.Errorf("division %s tier %d: cycle_ms must be > 0", id, i)
			}
			if t.BaseRevenue < 0 || t.RevenueMultiplier < 1 {
				return fmt.Errorf("division %s tier %d: bad revenue curve", id, i)
			}
		}
	}
	if len(c.Automation.Speeds) == 0 {
		return fmt.Errorf("automation.json: speeds required")
	}
	for i, s := range c.Automation.Speeds {
		if s <= 0 {
			return fmt.Errorf("automation.json: speed[%d] must be > 0", i)
		}
	}
	for _, b := range c.Bottlenecks.Defs {
		if b.Severity < 0 || b.Severity > 1 {
			return fmt.Errorf("bottleneck %s: severity out of [0,1]", b.ID)
		}
		if b.Division != "" {
			if _, ok := c.Divisions.ByID[b.Division]; !ok {
				return fmt.Errorf("bottleneck %s: unknown division %q", b.ID, b.Division)
			}
		}
		if b.Kind == BottleneckDivision && !validOp(b.Trigger.Op) {
			return fmt.Errorf("bottleneck %s: unknown op %q", b.ID, b.Trigger.Op)
		}
	}
	for id, r := range c.Research.ByID {
		for _, p := range r.Prereqs {
			if _, ok := c.Research.ByID[p]; !ok {
				return fmt.Errorf("research %s: unknown prereq %q", id, p)
			}
		}
		if r.DurationMs <= 0 {
			return fmt.Errorf("research %s: duration_ms must be > 0", id)
		}
	}
	prev := 0
	for _, s := range c.Milestones.Steps {
		if s.Count <= prev {
			return fmt.Errorf("milestones.json: thresholds must strictly increase (%d after %d)", s.Count, prev)
		}
		prev = s.Count
	}
	for _, t := range c.Contracts.Templates {
		if t.Reward.Buff != "" {
			if _, ok := c.Buffs.ByID[t.Reward.Buff]; !ok {
				return fmt.Errorf("contract %s: unknown buff %q", t.ID, t.Reward.Buff)
			}
		}
	}
	for id, in := range c.Instruments.ByID {
		if in.BasePrice <= 0 || in.PeriodMs <= 0 {
			return fmt.Errorf("instrument %s: base_price and period_ms must be > 0", id)
		}
	}
	return nil
}

// PowerSourceID returns the division flagged as the principal generator, or "".
func (c *Catalogs) PowerSourceID() string {
	for _, id := range c.Divisions.Order {
		if c.Divisions.ByID[id].PowerSource {
			return id
		}
	}
	return ""
}

func validOp(op string) bool {
	switch op {
	case ">", ">=", "<", "<=", "==", "!=":
		return true
	}
	return false
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// loadDivisions reads one JSON file per division; file names sort into unlock order.
func loadDivisions(dir string, out *DivisionCatalog) error {
	out.ByID = map[string]DivisionDef{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var concat bytes.Buffer
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		var d DivisionDef
		if err := json.Unmarshal(b, &d); err != nil {
			return fmt.Errorf("division %s: %w", filepath.Base(p), err)
		}
		if d.ID == "" {
			return fmt.Errorf("division %s: missing id", filepath.Base(p))
		}
		if _, dup := out.ByID[d.ID]; dup {
			return fmt.Errorf("division %s: duplicate id %q", filepath.Base(p), d.ID)
		}
		out.ByID[d.ID] = d
		out.Order = append(out.Order, d.ID)
	}
	out.Digest = sha256Hex(concat.Bytes())
	return nil
}

func loadAutomation(path string, out *AutomationCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("automation.json: %w", err)
	}
	return nil
}

func loadBottlenecks(path string, out *BottleneckCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	if err := json.Unmarshal(raw, &out.Defs); err != nil {
		return fmt.Errorf("bottlenecks.json: %w", err)
	}
	out.ByID = map[string]BottleneckDef{}
	for _, d := range out.Defs {
		if d.ID == "" {
			return fmt.Errorf("bottlenecks.json: empty id")
		}
		if d.Kind == "" {
			return fmt.Errorf("bottlenecks.json: %s missing kind", d.ID)
		}
		out.ByID[d.ID] = d
	}
	return nil
}

func loadResearch(path string, out *ResearchCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ResearchDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("research.json: %w", err)
	}
	out.ByID = map[string]ResearchDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("research.json: empty id")
		}
		out.ByID[d.ID] = d
	}
	return nil
}

func loadUpgrades(path string, out *UpgradeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []UpgradeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("upgrades.json: %w", err)
	}
	out.ByID = map[string]UpgradeDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("upgrades.json: empty id")
		}
		out.ByID[d.ID] = d
	}
	return nil
}

func loadMilestones(path string, out *MilestoneCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("milestones.json: %w", err)
	}
	return nil
}

func loadContracts(path string, out *ContractCatalog) error {
	out.ByID = map[string]ContractTemplate{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)

	if err := json.Unmarshal(raw, &out.Templates); err != nil {
		return fmt.Errorf("contracts.json: %w", err)
	}
	for _, t := range out.Templates {
		if t.ID == "" {
			return fmt.Errorf("contracts.json: empty id")
		}
		switch t.Kind {
		case ContractEarnCash, ContractOwnTier, ContractCompleteCycles:
		default:
			return fmt.Errorf("contracts.json: %s unknown kind %q", t.ID, t.Kind)
		}
		out.ByID[t.ID] = t
	}
	return nil
}

func loadInstruments(path string, out *InstrumentCatalog) error {
	out.ByID = map[string]InstrumentDef{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []InstrumentDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("instruments.json: %w", err)
	}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("instruments.json: empty id")
		}
		out.ByID[d.ID] = d
		out.Order = append(out.Order, d.ID)
	}
	return nil
}

func loadBuffs(path string, out *BuffCatalog) error {
	out.ByID = map[string]BuffDef{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []BuffDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("buffs.json: %w", err)
	}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("buffs.json: empty id")
		}
		if d.DurationMs <= 0 {
			return fmt.Errorf("buffs.json: %s duration_ms must be > 0", d.ID)
		}
		out.ByID[d.ID] = d
	}
	return nil
}
