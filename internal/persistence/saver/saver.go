// Package saver writes GameState snapshots to a slot store off the simulation goroutine.
package saver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"idleempire.io/internal/persistence/kv"
	"idleempire.io/internal/persistence/snapshot"
	"idleempire.io/internal/sim/events"
	"idleempire.io/internal/sim/model"
)

type Config struct {
	Store      kv.Store
	Slot       string
	BackupSlot string
	// Publisher receives save-failed events from the writer goroutine.
	Publisher events.Publisher
	Logger    *slog.Logger

	ManualPerSecond float64
	ManualBurst     int
	// OnSaved runs on the writer goroutine after every successful primary write.
	OnSaved func(blob []byte)
	// WriteTimeout bounds one store write. Zero means 10s.
	WriteTimeout time.Duration
}

type job struct {
	blob      []byte
	simTimeMs int64
}

// Saver is fire-and-forget: Autosave and SaveNow encode on the caller goroutine and hand
// the blob to a single writer. A pending blob not yet written is replaced by a newer one.
type Saver struct {
	cfg     Config
	log     *slog.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	jobs   chan job
	closed bool
	wg     sync.WaitGroup

	saved      atomic.Int64
	failed     atomic.Int64
	superseded atomic.Int64
	lastErr    atomic.Value
}

func New(cfg Config) *Saver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Discard
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	perSec := cfg.ManualPerSecond
	if perSec <= 0 {
		perSec = 0.5
	}
	burst := cfg.ManualBurst
	if burst <= 0 {
		burst = 1
	}
	s := &Saver{
		cfg:     cfg,
		log:     cfg.Logger,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		jobs:    make(chan job, 1),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for j := range s.jobs {
			s.write(j)
		}
	}()
	return s
}

// Autosave queues a snapshot of st. It never blocks on storage.
func (s *Saver) Autosave(st *model.GameState) {
	blob, err := snapshot.Encode(st)
	if err != nil {
		s.fail(st.SimTimeMs, err)
		return
	}
	s.enqueue(job{blob: blob, simTimeMs: st.SimTimeMs})
}

// SaveNow is the player-requested save. It reports false when throttled.
func (s *Saver) SaveNow(st *model.GameState) bool {
	if !s.limiter.Allow() {
		s.log.Debug("manual save throttled")
		return false
	}
	s.Autosave(st)
	return true
}

func (s *Saver) enqueue(j job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.jobs <- j:
		return
	default:
	}
	select {
	case <-s.jobs:
		s.superseded.Add(1)
	default:
	}
	s.jobs <- j
}

func (s *Saver) write(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.cfg.Store.Put(ctx, s.cfg.Slot, j.blob); err != nil {
		s.fail(j.simTimeMs, err)
		return
	}
	s.saved.Add(1)
	s.log.Debug("saved", "slot", s.cfg.Slot, "bytes", len(j.blob), "sim_ms", j.simTimeMs)
	if s.cfg.OnSaved != nil {
		s.cfg.OnSaved(j.blob)
	}
}

func (s *Saver) fail(simTimeMs int64, err error) {
	s.failed.Add(1)
	s.lastErr.Store(errBox{err})
	s.log.Error("save failed", "slot", s.cfg.Slot, "quota", errors.Is(err, kv.ErrQuotaExceeded), "err", err)
	s.cfg.Publisher.Publish(events.Event{Kind: events.SaveFailed, ID: s.cfg.Slot, SimTimeMs: simTimeMs})
}

// Backup writes st to the backup slot synchronously. Teardown calls it; errors are logged
// at debug level and returned for callers that care.
func (s *Saver) Backup(ctx context.Context, st *model.GameState) error {
	if s.cfg.BackupSlot == "" {
		return nil
	}
	blob, err := snapshot.Encode(st)
	if err == nil {
		err = s.cfg.Store.Put(ctx, s.cfg.BackupSlot, blob)
	}
	if err != nil {
		s.log.Debug("backup save failed", "slot", s.cfg.BackupSlot, "err", err)
	}
	return err
}

// Close writes whatever is pending and stops the writer.
func (s *Saver) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	s.wg.Wait()
}

// errBox keeps atomic.Value stores on one concrete type.
type errBox struct{ err error }

type Stats struct {
	Saved      int64
	Failed     int64
	Superseded int64
	LastErr    error
}

func (s *Saver) Stats() Stats {
	st := Stats{Saved: s.saved.Load(), Failed: s.failed.Load(), Superseded: s.superseded.Load()}
	if b, ok := s.lastErr.Load().(errBox); ok {
		st.LastErr = b.err
	}
	return st
}
