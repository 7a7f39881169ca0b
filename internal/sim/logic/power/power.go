package power

import (
	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/model"
)

// Balance is recomputed from owned counts every tick; it is never patched incrementally.
type Balance struct {
	Generated float64
	Consumed  float64
}

// Efficiency is 1 with no consumers, otherwise min(1, generated/consumed).
func (b Balance) Efficiency() float64 {
	if b.Consumed <= 0 {
		return 1
	}
	if b.Generated >= b.Consumed {
		return 1
	}
	return b.Generated / b.Consumed
}

// Deficit reports consumption exceeding a non-zero generation.
func (b Balance) Deficit() bool {
	return b.Consumed > b.Generated && b.Generated > 0
}

func (b Balance) Telemetry() model.PowerTelemetry {
	return model.PowerTelemetry{GeneratedMW: b.Generated, ConsumedMW: b.Consumed, Efficiency: b.Efficiency()}
}

// Compute sums power over unlocked tiers of unlocked divisions known to the catalog.
func Compute(st *model.GameState, cat *catalogs.Catalogs) Balance {
	var b Balance
	for _, id := range cat.Divisions.Order {
		d := st.Divisions[id]
		if d == nil || !d.Unlocked {
			continue
		}
		def := cat.Divisions.ByID[id]
		for i, t := range d.Tiers {
			if i >= len(def.Tiers) || !t.Unlocked || t.Count <= 0 {
				continue
			}
			mw := def.Tiers[i].PowerMW * float64(t.Count)
			switch {
			case mw > 0:
				b.Generated += mw
			case mw < 0:
				b.Consumed += -mw
			}
		}
	}
	return b
}
