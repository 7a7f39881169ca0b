// Package driver owns a play session: it loads and reconciles the save, runs the
// fixed-step loop, applies queued player commands between steps and persists on the way.
// The GameState is only touched from the goroutine running Run (or, before Run starts and
// after it returns, from the caller of Init and Shutdown).
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"idleempire.io/internal/persistence/archive"
	"idleempire.io/internal/persistence/kv"
	"idleempire.io/internal/persistence/saver"
	"idleempire.io/internal/persistence/snapshot"
	"idleempire.io/internal/sim/clock"
	"idleempire.io/internal/sim/engine"
	"idleempire.io/internal/sim/events"
	"idleempire.io/internal/sim/model"
	"idleempire.io/internal/sim/offline"
	"idleempire.io/internal/sim/tuning"
)

// Mirror receives successfully written save blobs.
type Mirror interface {
	Enqueue(blob []byte)
}

type Config struct {
	Engine *engine.Engine
	// Bus must be the publisher the engine was built with.
	Bus    *events.Bus
	Store  kv.Store
	Clock  clock.Clock
	Logger *slog.Logger

	// ArchiveDir receives a copy of the save before every prestige; empty disables it.
	ArchiveDir string
	Mirror     Mirror
}

type Driver struct {
	eng   *engine.Engine
	tun   tuning.Tuning
	bus   *events.Bus
	store kv.Store
	clk   clock.Clock
	log   *slog.Logger
	rec   *offline.Reconciler
	saver *saver.Saver

	archiver   *archive.Writer
	mirror     Mirror
	lastMirror atomic.Int64

	st       *model.GameState
	loadInfo snapshot.LoadInfo
	report   offline.Report

	accMs      int64
	paused     bool
	lastSaveMs int64
	observers  []func(*model.GameState)

	inbox   chan func()
	running atomic.Bool
}

func New(cfg Config) *Driver {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	d := &Driver{
		eng:        cfg.Engine,
		tun:        cfg.Engine.Tuning(),
		bus:        cfg.Bus,
		store:      cfg.Store,
		clk:        clk,
		log:        log,
		rec:        offline.New(cfg.Engine, log),
		mirror:     cfg.Mirror,
		inbox:      make(chan func(), 256),
	}
	if cfg.ArchiveDir != "" {
		d.archiver = archive.NewWriter(cfg.ArchiveDir, log)
	}
	d.saver = saver.New(saver.Config{
		Store:           cfg.Store,
		Slot:            d.tun.Save.Slot,
		BackupSlot:      d.tun.Save.BackupSlot,
		Publisher:       loopPublisher{d},
		Logger:          log,
		ManualPerSecond: d.tun.Save.ManualPerSecond,
		ManualBurst:     d.tun.Save.ManualBurst,
		OnSaved:         d.onSaved,
	})
	return d
}

// loopPublisher hands events raised on other goroutines to the loop, so bus handlers only
// ever run where the state lives.
type loopPublisher struct{ d *Driver }

func (p loopPublisher) Publish(ev events.Event) {
	if !p.d.Post(func() { p.d.bus.Publish(ev) }) {
		p.d.log.Warn("event dropped, driver inbox full", "kind", ev.Kind)
	}
}

// Init loads the save (falling back to the backup slot), migrates it and credits the
// time spent away. It must run once, before Run.
func (d *Driver) Init(ctx context.Context) (offline.Report, error) {
	cat := d.eng.Catalogs()
	st, info, err := d.load(ctx, d.tun.Save.Slot)
	if err != nil {
		return offline.Report{}, err
	}
	if info.Fresh && d.tun.Save.BackupSlot != "" {
		bst, binfo, berr := d.load(ctx, d.tun.Save.BackupSlot)
		if berr == nil && !binfo.Fresh {
			d.log.Info("restored from backup slot", "slot", d.tun.Save.BackupSlot)
			st, info = bst, binfo
		}
	}
	if info.Fresh {
		// A new run has no time away to credit.
		st.LastPlayed = clock.UnixMs(d.clk)
	}
	model.Normalize(st, cat)
	d.st = st
	d.loadInfo = info

	rep := d.rec.Compute(st, clock.UnixMs(d.clk))
	d.rec.Apply(st, rep)
	d.report = rep
	d.lastSaveMs = clock.UnixMs(d.clk)
	d.log.Info("session started",
		"fresh", info.Fresh,
		"discarded", info.Discarded,
		"from_version", info.FromVersion,
		"offline_ms", rep.CappedDurationMs,
	)
	return rep, nil
}

func (d *Driver) load(ctx context.Context, slot string) (*model.GameState, snapshot.LoadInfo, error) {
	raw, err := d.store.Get(ctx, slot)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return nil, snapshot.LoadInfo{}, fmt.Errorf("load %s: %w", slot, err)
	}
	st, info := snapshot.Load(raw, d.eng.Catalogs(), d.tun.StartingCash, d.log)
	return st, info, nil
}

// State is the live state. Only call it from the loop goroutine, an observer, or while
// the loop is not running.
func (d *Driver) State() *model.GameState { return d.st }

func (d *Driver) LoadInfo() snapshot.LoadInfo { return d.loadInfo }

func (d *Driver) OfflineReport() offline.Report { return d.report }

func (d *Driver) Engine() *engine.Engine { return d.eng }

func (d *Driver) Paused() bool { return d.paused }

// Observe registers fn to run on the loop goroutine after every frame that advanced the
// simulation and after every applied command. Register before Run.
func (d *Driver) Observe(fn func(*model.GameState)) {
	d.observers = append(d.observers, fn)
}

func (d *Driver) notify() {
	for _, fn := range d.observers {
		fn(d.st)
	}
}

// Advance feeds one wall-clock frame into the accumulator and runs as many whole steps
// as it holds, at most tuning.MaxStepsPerFrame; time beyond that cap is dropped. It
// returns the number of steps run.
func (d *Driver) Advance(frameMs int64) int {
	if d.paused || frameMs <= 0 {
		return 0
	}
	step := int64(d.tun.TickStepMs)
	d.accMs += frameMs
	steps := d.accMs / step
	if limit := int64(d.tun.MaxStepsPerFrame); steps > limit {
		d.log.Debug("frame budget exceeded, dropping time", "steps", steps, "max", limit)
		steps = limit
		d.accMs = 0
	} else {
		d.accMs -= steps * step
	}
	for i := int64(0); i < steps; i++ {
		d.eng.Tick(d.st, step)
	}
	if steps > 0 {
		d.notify()
	}
	d.maybeAutosave()
	return int(steps)
}

func (d *Driver) maybeAutosave() {
	now := clock.UnixMs(d.clk)
	if now-d.lastSaveMs < int64(d.tun.Save.AutosaveEveryMs) {
		return
	}
	d.autosave()
}

func (d *Driver) autosave() {
	now := clock.UnixMs(d.clk)
	d.lastSaveMs = now
	d.st.LastPlayed = now
	d.saver.Autosave(d.st)
}

func (d *Driver) onSaved(blob []byte) {
	if d.mirror == nil {
		return
	}
	now := clock.UnixMs(d.clk)
	last := d.lastMirror.Load()
	if last != 0 && now-last < int64(d.tun.Save.MirrorEveryMs) {
		return
	}
	d.lastMirror.Store(now)
	d.mirror.Enqueue(blob)
}

// Post queues fn to run on the loop goroutine. It never blocks and reports false when
// the inbox is full.
func (d *Driver) Post(fn func()) bool {
	select {
	case d.inbox <- fn:
		return true
	default:
		return false
	}
}

func (d *Driver) drain() {
	for {
		select {
		case fn := <-d.inbox:
			fn()
		default:
			return
		}
	}
}

// Run drives frames every tuning.FrameIntervalMs until ctx is done. Commands posted to the
// inbox run between frames, never inside a tick.
func (d *Driver) Run(ctx context.Context) error {
	if d.st == nil {
		return errors.New("driver: Run before Init")
	}
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("driver: already running")
	}
	defer d.running.Store(false)

	ticker := time.NewTicker(time.Duration(d.tun.FrameIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	last := d.clk.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-d.inbox:
			fn()
		case <-ticker.C:
			now := d.clk.Now()
			frameMs := now.Sub(last).Milliseconds()
			last = last.Add(time.Duration(frameMs) * time.Millisecond)
			d.Advance(frameMs)
		}
	}
}

// Shutdown persists the final state: one last autosave, pending prestige archives, then
// a synchronous write to the backup slot. The backup may fail (for example on a full
// store); that is logged and returned but is not fatal.
func (d *Driver) Shutdown(ctx context.Context) error {
	if d.archiver != nil {
		d.archiver.Close()
	}
	if d.st == nil {
		d.saver.Close()
		return nil
	}
	d.autosave()
	d.saver.Close()
	d.drain()
	err := d.saver.Backup(ctx, d.st)
	d.log.Info("session ended", "sim_ms", d.st.SimTimeMs, "cash", d.st.Cash, "backup_err", err)
	return err
}

// SaverStats exposes save counters for the host.
func (d *Driver) SaverStats() saver.Stats { return d.saver.Stats() }

// archivePrestige encodes pre on the loop and leaves the disk write to the archiver.
func (d *Driver) archivePrestige(pre *model.GameState, gain float64) {
	if d.archiver == nil {
		return
	}
	blob, err := snapshot.Encode(pre)
	if err != nil {
		d.log.Error("prestige archive encode failed", "err", err)
		return
	}
	d.archiver.Enqueue(pre, blob, gain)
}

// ArchiveStats is zero when archiving is disabled.
func (d *Driver) ArchiveStats() archive.WriterStats {
	if d.archiver == nil {
		return archive.WriterStats{}
	}
	return d.archiver.Stats()
}
