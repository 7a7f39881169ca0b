package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMemoryStore_Quota(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	if _, err := m.Get(ctx, "save"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: %v", err)
	}
	if err := m.Put(ctx, "save", []byte("12345678")); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Replacing a value frees its old size first.
	if err := m.Put(ctx, "save", []byte("1234567890")); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := m.Put(ctx, "backup", []byte("x")); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	got, err := m.Get(ctx, "save")
	if err != nil || string(got) != "1234567890" {
		t.Fatalf("get=%q err=%v", got, err)
	}
	got[0] = 'X'
	again, _ := m.Get(ctx, "save")
	if again[0] != '1' {
		t.Fatalf("Get must return a copy")
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenFile(dir)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := s.Get(ctx, "save"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: %v", err)
	}
	big := []byte(strings.Repeat(`{"cash":1}`, 2000))
	if err := s.Put(ctx, "save", big); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "save", []byte(`{"cash":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := s.Get(ctx, "save")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"cash":2}` {
		t.Fatalf("got %q", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "save.json.zst" {
		t.Fatalf("unexpected files: %v", entries)
	}
	if _, err := os.Stat(filepath.Join(dir, "save.json.zst")); err != nil {
		t.Fatalf("stat: %v", err)
	}
}

func TestFileStore_Limits(t *testing.T) {
	ctx := context.Background()
	s, err := OpenFile(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	s.MaxBytes = 4
	if err := s.Put(ctx, "save", []byte("12345")); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	for _, bad := range []string{"", "../x", "a/b"} {
		if err := s.Put(ctx, bad, []byte("1")); err == nil {
			t.Fatalf("key %q accepted", bad)
		}
	}
}
