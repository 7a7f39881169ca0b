// Package r2s3 mirrors the save slot to an S3-compatible bucket.
package r2s3

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	EnqueuedTotal      uint64
	SupersededTotal    uint64
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
	LastSuccessUnix    int64
	LastErrorUnix      int64
}

// Mirror uploads save blobs in the background. Only the newest pending blob is kept: a
// blob enqueued while another waits replaces it.
type Mirror struct {
	up     Uploader
	key    string
	logger *slog.Logger

	jobs   chan []byte
	wg     sync.WaitGroup
	closed atomic.Bool
	mu     sync.Mutex

	// backoff is the pause before retry attempt n (1-based).
	backoff func(n int) time.Duration

	enqueuedTotal      atomic.Uint64
	supersededTotal    atomic.Uint64
	uploadSuccessTotal atomic.Uint64
	uploadFailTotal    atomic.Uint64
	lastSuccessUnix    atomic.Int64
	lastErrorUnix      atomic.Int64
}

// NewMirror uploads to `<prefix>/<slot>.json`.
func NewMirror(up Uploader, prefix, slot string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/")
	m := &Mirror{
		up:     up,
		key:    path.Join(prefix, slot+".json"),
		logger: logger,
		jobs:   make(chan []byte, 1),
		backoff: func(n int) time.Duration {
			return time.Duration(n*n) * 200 * time.Millisecond
		},
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for blob := range m.jobs {
			m.uploadOne(blob)
		}
	}()
	return m
}

func (m *Mirror) Key() string { return m.key }

func (m *Mirror) Enqueue(blob []byte) {
	if m == nil || m.up == nil || m.closed.Load() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return
	}
	m.enqueuedTotal.Add(1)
	select {
	case m.jobs <- blob:
		return
	default:
	}
	select {
	case <-m.jobs:
		m.supersededTotal.Add(1)
	default:
	}
	select {
	case m.jobs <- blob:
	default:
		m.supersededTotal.Add(1)
	}
}

// Close uploads whatever is still pending and stops the worker.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed.Swap(true) {
		m.mu.Unlock()
		return
	}
	close(m.jobs)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		EnqueuedTotal:      m.enqueuedTotal.Load(),
		SupersededTotal:    m.supersededTotal.Load(),
		UploadSuccessTotal: m.uploadSuccessTotal.Load(),
		UploadFailTotal:    m.uploadFailTotal.Load(),
		LastSuccessUnix:    m.lastSuccessUnix.Load(),
		LastErrorUnix:      m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(blob []byte) {
	if err := m.uploadWithRetry(blob); err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.logger.Error("save mirror upload failed", "key", m.key, "err", err)
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
	m.logger.Debug("save mirror uploaded", "key", m.key, "bytes", len(blob))
}

func (m *Mirror) uploadWithRetry(blob []byte) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.up.PutObject(ctx, m.key, blob)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(m.backoff(attempt))
		}
	}
	return lastErr
}
