package main

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"idleempire.io/internal/sim/catalogs/catalogstest"
	"idleempire.io/internal/sim/model"
	"idleempire.io/internal/sim/offline"
	"idleempire.io/internal/sim/tuning"
)

func TestGauges_IncomeRefreshesOncePerSimSecond(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cats := catalogstest.Quiet()
	eng, _ := newEngine(cats, tuning.Defaults(), log)
	g := &gauges{rec: offline.New(eng, log)}

	st := model.DefaultState(cats, 0)
	shop := st.Divisions["shop"]
	shop.Tiers[0].Count = 1
	g.observe(st)
	// 2 per 1200ms cycle.
	if got := g.incomePerSec(); math.Abs(got-2/1.2) > 1e-9 {
		t.Fatalf("income=%v", got)
	}

	shop.Tiers[0].Count = 2
	st.SimTimeMs += 500
	g.observe(st)
	if got := g.incomePerSec(); math.Abs(got-2/1.2) > 1e-9 {
		t.Fatalf("income refreshed early: %v", got)
	}
	st.SimTimeMs += 500
	g.observe(st)
	if got := g.incomePerSec(); math.Abs(got-4/1.2) > 1e-9 {
		t.Fatalf("income after a second: %v", got)
	}
	if g.simMs.Load() != 1000 {
		t.Fatalf("sim_ms=%d", g.simMs.Load())
	}
}
