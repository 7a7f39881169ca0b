// Package kv stores whole save blobs under string keys.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrNotFound      = errors.New("kv: key not found")
	ErrQuotaExceeded = errors.New("kv: quota exceeded")
)

// Store is a slot store. Put replaces the whole value; implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, val []byte) error
	Close() error
}

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return fmt.Errorf("kv: bad key %q", key)
	}
	return nil
}

// MemoryStore keeps values in memory. A positive QuotaBytes caps the sum of stored values.
type MemoryStore struct {
	QuotaBytes int

	mu   sync.Mutex
	vals map[string][]byte
	used int
}

func NewMemory(quotaBytes int) *MemoryStore {
	return &MemoryStore{QuotaBytes: quotaBytes, vals: map[string][]byte{}}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, val []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	used := m.used - len(m.vals[key]) + len(val)
	if m.QuotaBytes > 0 && used > m.QuotaBytes {
		return fmt.Errorf("put %s (%d bytes): %w", key, len(val), ErrQuotaExceeded)
	}
	m.vals[key] = append([]byte(nil), val...)
	m.used = used
	return nil
}

func (m *MemoryStore) Close() error { return nil }
