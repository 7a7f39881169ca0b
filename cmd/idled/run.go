package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	persistlog "idleempire.io/internal/persistence/log"
	"idleempire.io/internal/sim/clock"
	"idleempire.io/internal/sim/driver"
	"idleempire.io/internal/sim/model"
	"idleempire.io/internal/sim/offline"
	"idleempire.io/internal/transport/ws"
)

func newRunCmd(o *options) *cobra.Command {
	var addr string
	var stateEveryMs int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resume the save, credit offline time and serve the bridge until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o, addr, stateEveryMs)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envString("IDLE_ADDR", "127.0.0.1:8080"), "http listen address")
	cmd.Flags().IntVar(&stateEveryMs, "state-every-ms", 250, "minimum spacing between STATE pushes")
	return cmd
}

// incomeEveryMs spaces steady-state income recomputation in simulated time.
const incomeEveryMs = 1000

// gauges are written by a driver observer and read by /metrics.
type gauges struct {
	rec *offline.Reconciler

	simMs  atomic.Int64
	cash   atomic.Uint64
	income atomic.Uint64

	// loop goroutine only
	incomeAtMs int64
	incomeSet  bool
}

func (g *gauges) observe(st *model.GameState) {
	g.simMs.Store(st.SimTimeMs)
	g.cash.Store(math.Float64bits(st.Cash))
	if g.rec == nil || (g.incomeSet && st.SimTimeMs-g.incomeAtMs < incomeEveryMs) {
		return
	}
	total := 0.0
	for _, de := range g.rec.IncomePerSec(st) {
		total += de.IncomePerSec
	}
	g.income.Store(math.Float64bits(total))
	g.incomeAtMs = st.SimTimeMs
	g.incomeSet = true
}

func (g *gauges) incomePerSec() float64 { return math.Float64frombits(g.income.Load()) }

func run(parent context.Context, o *options, addr string, stateEveryMs int) error {
	log := o.logger()
	cats, tune, err := o.load(log)
	if err != nil {
		return err
	}
	store, db, err := o.openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if db != nil {
		if err := db.UpsertCatalogs(parent, cats, tune); err != nil {
			log.Warn("record catalogs", "err", err)
		}
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, bus := newEngine(cats, tune, log)
	journal := persistlog.NewEventJournal(o.dataDir, log)
	detach := journal.Attach(bus)
	defer func() {
		detach()
		if err := journal.Close(); err != nil {
			log.Warn("close journal", "err", err)
		}
	}()

	mirror, err := buildMirror(ctx, tune.Save.Slot, log)
	if err != nil {
		return err
	}
	drvCfg := driver.Config{
		Engine:     eng,
		Bus:        bus,
		Store:      store,
		Clock:      clock.Real{},
		Logger:     log,
		ArchiveDir: o.dataDir,
	}
	if mirror != nil {
		drvCfg.Mirror = mirror
		defer mirror.Close()
	}
	d := driver.New(drvCfg)
	rep, err := d.Init(ctx)
	if err != nil {
		return err
	}
	if !rep.Empty() {
		log.Info("welcome back", "away", duration(rep.GapMs), "credited", duration(rep.CappedDurationMs), "earned", money(rep.TotalCash))
	}

	g := &gauges{rec: offline.New(eng, log)}
	g.observe(d.State())
	d.Observe(g.observe)
	bridge := ws.NewServer(ws.Config{Driver: d, Bus: bus, Logger: log, StateEveryMs: stateEveryMs})
	defer bridge.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		ss := d.SaverStats()
		fmt.Fprintf(rw, "# HELP idle_sim_time_ms Simulated time of the live state.\n")
		fmt.Fprintf(rw, "# TYPE idle_sim_time_ms gauge\n")
		fmt.Fprintf(rw, "idle_sim_time_ms %d\n", g.simMs.Load())
		fmt.Fprintf(rw, "# HELP idle_cash Current cash.\n")
		fmt.Fprintf(rw, "# TYPE idle_cash gauge\n")
		fmt.Fprintf(rw, "idle_cash %g\n", math.Float64frombits(g.cash.Load()))
		fmt.Fprintf(rw, "# HELP idle_income_per_sec Steady-state income of all unlocked divisions.\n")
		fmt.Fprintf(rw, "# TYPE idle_income_per_sec gauge\n")
		fmt.Fprintf(rw, "idle_income_per_sec %g\n", g.incomePerSec())
		fmt.Fprintf(rw, "# HELP idle_bridge_sessions Connected UI shells.\n")
		fmt.Fprintf(rw, "# TYPE idle_bridge_sessions gauge\n")
		fmt.Fprintf(rw, "idle_bridge_sessions %d\n", bridge.Sessions())
		fmt.Fprintf(rw, "# HELP idle_saves_total Slot writes by result.\n")
		fmt.Fprintf(rw, "# TYPE idle_saves_total counter\n")
		fmt.Fprintf(rw, "idle_saves_total{result=%q} %d\n", "ok", ss.Saved)
		fmt.Fprintf(rw, "idle_saves_total{result=%q} %d\n", "fail", ss.Failed)
		fmt.Fprintf(rw, "idle_saves_total{result=%q} %d\n", "superseded", ss.Superseded)
		fmt.Fprintf(rw, "# HELP idle_journal_failures_total Event journal write failures.\n")
		fmt.Fprintf(rw, "# TYPE idle_journal_failures_total counter\n")
		fmt.Fprintf(rw, "idle_journal_failures_total %d\n", journal.Failures())
		fmt.Fprintf(rw, "# HELP idle_journal_dropped_total Event journal entries dropped while the writer was behind.\n")
		fmt.Fprintf(rw, "# TYPE idle_journal_dropped_total counter\n")
		fmt.Fprintf(rw, "idle_journal_dropped_total %d\n", journal.Dropped())
		as := d.ArchiveStats()
		fmt.Fprintf(rw, "# HELP idle_prestige_archives_total Prestige archives by result.\n")
		fmt.Fprintf(rw, "# TYPE idle_prestige_archives_total counter\n")
		fmt.Fprintf(rw, "idle_prestige_archives_total{result=%q} %d\n", "ok", as.Written)
		fmt.Fprintf(rw, "idle_prestige_archives_total{result=%q} %d\n", "fail", as.Failed)
		fmt.Fprintf(rw, "idle_prestige_archives_total{result=%q} %d\n", "dropped", as.Dropped)
		writeMirrorMetrics(rw, mirror)
	})
	mux.HandleFunc("/v1/ws", bridge.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		if err := d.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		log.Info("listening", "addr", addr, "data", filepath.Clean(o.dataDir))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	runErr := grp.Wait()

	// The loop has stopped, so the state is ours again.
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Shutdown(sctx); err != nil {
		log.Warn("teardown backup failed", "err", err)
	}
	return runErr
}
