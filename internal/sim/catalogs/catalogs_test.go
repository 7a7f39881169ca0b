package catalogs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_RepoCatalogs(t *testing.T) {
	c, err := Load("../../../configs/catalog")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Divisions.Order) < 2 {
		t.Fatalf("expected several divisions, got %v", c.Divisions.Order)
	}
	first := c.Divisions.ByID[c.Divisions.Order[0]]
	if first.UnlockCost != 0 {
		t.Fatalf("first division should be free, got %v", first.UnlockCost)
	}
	if got := first.Tiers[0]; got.BaseCost != 15 || got.CostMultiplier != 1.15 || got.BaseRevenue != 2 || got.CycleMs != 1200 {
		t.Fatalf("first tier curve: %+v", got)
	}
	if c.PowerSourceID() == "" {
		t.Fatalf("expected a power source division")
	}
	if c.Automation.MaxLevel() != 6 {
		t.Fatalf("automation max level: got %d want 6", c.Automation.MaxLevel())
	}
	if c.Divisions.Digest == "" || c.Bottlenecks.Digest == "" {
		t.Fatalf("digests should be set")
	}
}

func TestAutomationSpeed_Clamps(t *testing.T) {
	a := AutomationCatalog{Speeds: []float64{1, 1, 2}}
	if a.Speed(-3) != 1 || a.Speed(9) != 2 || a.Speed(2) != 2 {
		t.Fatalf("speed clamping broken: %v %v %v", a.Speed(-3), a.Speed(9), a.Speed(2))
	}
}

func TestEffectApplies(t *testing.T) {
	cases := []struct {
		e    Effect
		div  string
		tier int
		want bool
	}{
		{Effect{Scope: ScopeGlobal}, "a", 3, true},
		{Effect{}, "a", 0, true},
		{Effect{Scope: ScopeDivision, Division: "a"}, "a", 5, true},
		{Effect{Scope: ScopeDivision, Division: "a"}, "b", 5, false},
		{Effect{Scope: ScopeTier, Division: "a", Tier: 2}, "a", 2, true},
		{Effect{Scope: ScopeTier, Division: "a", Tier: 2}, "a", 1, false},
		{Effect{Scope: "bogus"}, "a", 0, false},
	}
	for i, tc := range cases {
		if got := tc.e.Applies(tc.div, tc.tier); got != tc.want {
			t.Fatalf("case %d: got %v want %v", i, got, tc.want)
		}
	}
}

func TestValidate_RejectsNonIncreasingMilestones(t *testing.T) {
	c, err := Load("../../../configs/catalog")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c.Milestones.Steps = []MilestoneStep{{Count: 25, Kind: EffectSpeed, Mult: 2}, {Count: 25, Kind: EffectSpeed, Mult: 2}}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for duplicate threshold")
	}
}

func TestLoad_MissingDivisionsDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "automation.json"), []byte(`{"speeds":[1]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error without divisions/")
	}
}
