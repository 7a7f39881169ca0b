package snapshot

import (
	"math"

	"idleempire.io/internal/sim/logic/mathx"
)

// step upgrades a decoded document to version to. Steps only add missing fields or
// perform one structural change, so running one twice leaves the document unchanged.
type step struct {
	to    int
	name  string
	apply func(doc map[string]any)
}

var steps = []step{
	{to: 2, name: "research", apply: addResearch},
	{to: 3, name: "timing model", apply: resetTimingModel},
	{to: 4, name: "meta progression", apply: addMetaProgression},
	{to: 5, name: "session fields", apply: addSessionFields},
}

// Version reads the stamped version; absent or malformed means 1.
func Version(doc map[string]any) int {
	f, ok := doc["version"].(float64)
	if !ok || f < 1 {
		return 1
	}
	return int(f)
}

// Migrate brings doc up to the newest version in place and returns the version it started
// at. Documents already at or past the newest version only get their integers coerced.
func Migrate(doc map[string]any) int {
	from := Version(doc)
	v := from
	for _, s := range steps {
		if v >= s.to {
			continue
		}
		s.apply(doc)
		v = s.to
		doc["version"] = float64(v)
	}
	coerceIntegers(doc)
	return from
}

func addResearch(doc map[string]any) {
	setDefault(doc, "researchPoints", 0.0)
	r := object(doc, "research")
	setDefault(r, "unlocked", map[string]any{})
	setDefault(r, "active", nil)
}

// Cycles became time based; in-flight progress from the old model is meaningless.
func resetTimingModel(doc map[string]any) {
	eachDivision(doc, func(d map[string]any) {
		eachTier(d, func(t map[string]any) {
			t["progress"] = 0.0
			t["producing"] = false
		})
		setDefault(d, "bottlenecks", []any{})
	})
	setDefault(doc, "globalBottlenecks", []any{})
}

func addMetaProgression(doc map[string]any) {
	setDefault(doc, "prestigePoints", 0.0)
	setDefault(doc, "secondary", map[string]any{})
	setDefault(doc, "upgrades", map[string]any{})
	tr := object(doc, "treasury")
	setDefault(tr, "holdings", map[string]any{})
	setDefault(tr, "realizedProfit", 0.0)
	c := object(doc, "contracts")
	setDefault(c, "active", []any{})
	setDefault(c, "nextRotationMs", 0.0)
	setDefault(c, "serial", 0.0)
}

func addSessionFields(doc map[string]any) {
	flags := map[string]any{}
	if cur, ok := doc["achievementFlags"].(map[string]any); ok {
		flags = cur
	}
	switch legacy := doc["_achievementFlags"].(type) {
	case map[string]any:
		for k, v := range legacy {
			if b, ok := v.(bool); ok {
				flags[k] = b
			}
		}
	case []any:
		for _, v := range legacy {
			if s, ok := v.(string); ok {
				flags[s] = true
			}
		}
	}
	delete(doc, "_achievementFlags")
	doc["achievementFlags"] = flags

	eachDivision(doc, func(d map[string]any) {
		setDefault(d, "workers", 0.0)
		setDefault(d, "revenueStars", 0.0)
		setDefault(d, "speedStars", 0.0)
	})
	setDefault(doc, "simTimeMs", 0.0)
	setDefault(doc, "lastBottleneckEvalMs", 0.0)
	setDefault(doc, "buffs", []any{})
	setDefault(doc, "stats", map[string]any{})
}

const maxSafeInteger = 1 << 53

// Integer fields by location. A fractional or huge JSON number there would fail the typed
// decode, so it is truncated into range first. Keys elsewhere (secondary currencies,
// holdings, catalog ids) are left alone.
var (
	rootInts       = []string{"version", "lastPlayed", "simTimeMs", "lastBottleneckEvalMs"}
	divisionInts   = []string{"chiefLevel", "workers", "revenueStars", "speedStars"}
	tierInts       = []string{"count", "level"}
	bottleneckInts = []string{"waitStartedAt"}
	contractsInts  = []string{"nextRotationMs", "serial"}
	expiringInts   = []string{"expiresAtMs"}
	statsInts      = []string{"cyclesCompleted", "tiersPurchased", "taps", "prestiges", "playTimeMs"}
)

func coerceIntegers(doc map[string]any) {
	coerceKeys(doc, rootInts)
	eachDivision(doc, func(d map[string]any) {
		coerceKeys(d, divisionInts)
		eachTier(d, func(t map[string]any) { coerceKeys(t, tierInts) })
		eachObject(d["bottlenecks"], func(b map[string]any) { coerceKeys(b, bottleneckInts) })
	})
	eachObject(doc["globalBottlenecks"], func(b map[string]any) { coerceKeys(b, bottleneckInts) })
	if c, ok := doc["contracts"].(map[string]any); ok {
		coerceKeys(c, contractsInts)
		eachObject(c["active"], func(a map[string]any) { coerceKeys(a, expiringInts) })
	}
	eachObject(doc["buffs"], func(b map[string]any) { coerceKeys(b, expiringInts) })
	if st, ok := doc["stats"].(map[string]any); ok {
		coerceKeys(st, statsInts)
	}
}

func coerceKeys(m map[string]any, keys []string) {
	for _, k := range keys {
		if f, ok := m[k].(float64); ok {
			m[k] = mathx.Clamp(math.Trunc(f), -maxSafeInteger, maxSafeInteger)
		}
	}
}

// eachObject calls fn for every object element of v when v is an array.
func eachObject(v any, fn func(map[string]any)) {
	arr, _ := v.([]any)
	for _, e := range arr {
		if m, ok := e.(map[string]any); ok {
			fn(m)
		}
	}
}

func setDefault(m map[string]any, key string, v any) {
	if _, ok := m[key]; !ok {
		m[key] = v
	}
}

// object returns m[key] as an object, replacing anything that is not one.
func object(m map[string]any, key string) map[string]any {
	o, ok := m[key].(map[string]any)
	if !ok {
		o = map[string]any{}
		m[key] = o
	}
	return o
}

func eachDivision(doc map[string]any, fn func(map[string]any)) {
	divs, _ := doc["divisions"].(map[string]any)
	for _, v := range divs {
		if d, ok := v.(map[string]any); ok {
			fn(d)
		}
	}
}

func eachTier(d map[string]any, fn func(map[string]any)) {
	tiers, _ := d["tiers"].([]any)
	for _, v := range tiers {
		if t, ok := v.(map[string]any); ok {
			fn(t)
		}
	}
}
