// Package economy holds the pure cost, revenue and timing curves.
package economy

import (
	"math"

	lru "github.com/hashicorp/golang-lru"

	"idleempire.io/internal/sim/catalogs"
)

// Cost is the price of the next unit when count are already owned.
func Cost(t catalogs.TierDef, count int) float64 {
	if count < 0 {
		count = 0
	}
	return t.BaseCost * math.Pow(t.CostMultiplier, float64(count))
}

// BulkCost sums n consecutive single purchases starting at count.
func BulkCost(t catalogs.TierDef, count, n int) float64 {
	if n <= 0 {
		return 0
	}
	if count < 0 {
		count = 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += Cost(t, count+i)
	}
	return sum
}

func CycleRevenue(t catalogs.TierDef, count, level int) float64 {
	if count <= 0 {
		return 0
	}
	if level < 0 {
		level = 0
	}
	return t.BaseRevenue * float64(count) * math.Pow(t.RevenueMultiplier, float64(level))
}

// CycleTimeMs is the cycle duration under a chief level only; other modifiers are applied by the caller.
func CycleTimeMs(t catalogs.TierDef, auto catalogs.AutomationCatalog, level int) float64 {
	return float64(t.CycleMs) / auto.Speed(level)
}

func LevelCost(t catalogs.TierDef, level int) float64 {
	if level < 0 {
		level = 0
	}
	return t.LevelBaseCost * math.Pow(t.LevelCostMultiplier, float64(level))
}

// ChiefCost is the price of going from chiefLevel to chiefLevel+1.
func ChiefCost(d catalogs.DivisionDef, chiefLevel int) float64 {
	if chiefLevel < 0 {
		chiefLevel = 0
	}
	return d.ChiefBaseCost * math.Pow(d.ChiefCostMultiplier, float64(chiefLevel))
}

func WorkerCost(d catalogs.DivisionDef, workers int) float64 {
	if workers < 0 {
		workers = 0
	}
	return d.WorkerBaseCost * math.Pow(d.WorkerCostMultiplier, float64(workers))
}

// MaxAffordable returns how many units fit in budget, and their total price,
// applying costMult to every unit.
func MaxAffordable(t catalogs.TierDef, count int, budget, costMult float64) (int, float64) {
	n, total := 0, 0.0
	for {
		next := Cost(t, count+n) * costMult
		if total+next > budget || n >= 10_000 {
			return n, total
		}
		total += next
		n++
	}
}

type bulkKey struct {
	base, mult float64
	count, n   int
}

// Pricer memoizes BulkCost; bulk quotes are recomputed every frame by UI bridges.
type Pricer struct {
	cache *lru.Cache
}

func NewPricer(size int) *Pricer {
	if size <= 0 {
		size = 1024
	}
	cache, _ := lru.New(size)
	return &Pricer{cache: cache}
}

func (p *Pricer) BulkCost(t catalogs.TierDef, count, n int) float64 {
	if p == nil || p.cache == nil {
		return BulkCost(t, count, n)
	}
	k := bulkKey{base: t.BaseCost, mult: t.CostMultiplier, count: count, n: n}
	if v, ok := p.cache.Get(k); ok {
		return v.(float64)
	}
	v := BulkCost(t, count, n)
	p.cache.Add(k, v)
	return v
}

func (p *Pricer) Len() int {
	if p == nil || p.cache == nil {
		return 0
	}
	return p.cache.Len()
}
