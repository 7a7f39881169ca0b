// Package log writes the event journal: hourly-rotated, zstd-compressed JSONL files.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"idleempire.io/internal/sim/events"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	return w.WriteAt(w.now(), v)
}

// WriteAt appends v to the file of the hour containing at.
func (w *JSONLZstdWriter) WriteAt(at time.Time, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := at.UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 32*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Entry is one journal line.
type Entry struct {
	events.Event
	WallMs int64 `json:"wall_ms"`
}

type entryWriter interface {
	WriteAt(at time.Time, v any) error
	Close() error
}

// EventJournal appends every domain event except state-changed to
// `<dir>/events/events-<hour>.jsonl.zst`. Record runs on the publisher's goroutine and
// only queues; one writer goroutine does the file I/O. A full queue drops the entry.
// Write failures are logged, never returned to the publisher.
type EventJournal struct {
	w   entryWriter
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	queue   chan Entry
	closed  bool
	wg      sync.WaitGroup
	failed  atomic.Int64
	dropped atomic.Int64
}

const journalQueue = 1024

func NewEventJournal(dir string, log *slog.Logger) *EventJournal {
	return newEventJournal(NewJSONLZstdWriter(filepath.Join(dir, "events"), "events"), log, journalQueue)
}

func newEventJournal(w entryWriter, log *slog.Logger, size int) *EventJournal {
	if log == nil {
		log = slog.Default()
	}
	j := &EventJournal{
		w:     w,
		log:   log,
		now:   time.Now,
		queue: make(chan Entry, size),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for e := range j.queue {
			j.write(e)
		}
	}()
	return j
}

// Attach subscribes the journal to every kind on bus.
func (j *EventJournal) Attach(bus *events.Bus) (detach func()) {
	return bus.Subscribe(events.KindAll, j.Record)
}

func (j *EventJournal) Record(ev events.Event) {
	if ev.Kind == events.StateChanged {
		return
	}
	e := Entry{Event: ev, WallMs: j.now().UnixMilli()}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- e:
	default:
		if j.dropped.Add(1) == 1 {
			j.log.Warn("event journal backed up, dropping entries")
		}
	}
}

func (j *EventJournal) write(e Entry) {
	if err := j.w.WriteAt(time.UnixMilli(e.WallMs), e); err != nil {
		// Only the first failure is logged; the count keeps the rest.
		if j.failed.Add(1) == 1 {
			j.log.Error("event journal write failed", "err", err)
		}
	}
}

// Failures counts writes that did not reach disk.
func (j *EventJournal) Failures() int64 { return j.failed.Load() }

// Dropped counts entries discarded because the writer was behind.
func (j *EventJournal) Dropped() int64 { return j.dropped.Load() }

// Close writes what is queued, stops the writer and closes the current file.
func (j *EventJournal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	j.wg.Wait()
	return j.w.Close()
}

// Files lists journal files under dir, oldest first.
func Files(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "events", "events-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadFile decodes every entry of one journal file.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	jd := json.NewDecoder(dec)
	for {
		var e Entry
		if err := jd.Decode(&e); err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		out = append(out, e)
	}
}
