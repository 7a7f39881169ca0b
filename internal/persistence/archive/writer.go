package archive

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"idleempire.io/internal/sim/model"
)

type archiveJob struct {
	st   *model.GameState
	blob []byte
	gain float64
}

// Writer runs ArchivePrestige on its own goroutine. Enqueue never blocks; a full queue
// drops the archive.
type Writer struct {
	dir     string
	log     *slog.Logger
	archive func(dir string, st *model.GameState, blob []byte, gain float64) (string, error)

	mu     sync.Mutex
	jobs   chan archiveJob
	closed bool
	wg     sync.WaitGroup

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func NewWriter(dir string, log *slog.Logger) *Writer {
	return newWriter(dir, log, ArchivePrestige, 8)
}

func newWriter(dir string, log *slog.Logger, fn func(string, *model.GameState, []byte, float64) (string, error), size int) *Writer {
	if log == nil {
		log = slog.Default()
	}
	w := &Writer{dir: dir, log: log, archive: fn, jobs: make(chan archiveJob, size)}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for j := range w.jobs {
			w.run(j)
		}
	}()
	return w
}

// Enqueue hands over st and blob; the caller must not mutate them afterwards.
func (w *Writer) Enqueue(st *model.GameState, blob []byte, gain float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.jobs <- archiveJob{st: st, blob: blob, gain: gain}:
		return true
	default:
		w.dropped.Add(1)
		w.log.Warn("prestige archive queue full, dropping", "prestige", st.Stats.Prestiges+1)
		return false
	}
}

func (w *Writer) run(j archiveJob) {
	path, err := w.archive(w.dir, j.st, j.blob, j.gain)
	if err != nil {
		w.failed.Add(1)
		w.log.Error("prestige archive failed", "err", err)
		return
	}
	w.written.Add(1)
	w.log.Info("prestige archived", "path", path, "gain", j.gain)
}

// Close writes what is queued and stops the goroutine.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	w.wg.Wait()
}

type WriterStats struct {
	Written int64
	Failed  int64
	Dropped int64
}

func (w *Writer) Stats() WriterStats {
	return WriterStats{Written: w.written.Load(), Failed: w.failed.Load(), Dropped: w.dropped.Load()}
}
