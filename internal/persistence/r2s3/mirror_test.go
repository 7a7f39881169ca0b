package r2s3

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeUploader struct {
	mu       sync.Mutex
	failures int
	puts     map[string][]byte
	calls    int
}

func (f *fakeUploader) PutObject(_ context.Context, key string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("boom")
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = body
	return nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestMirror_UploadsLatest(t *testing.T) {
	up := &fakeUploader{}
	m := NewMirror(up, "/saves/", "idle-empire-save", quietLogger())
	if m.Key() != "saves/idle-empire-save.json" {
		t.Fatalf("key=%s", m.Key())
	}
	m.Enqueue([]byte(`{"cash":1}`))
	m.Enqueue([]byte(`{"cash":2}`))
	m.Enqueue([]byte(`{"cash":3}`))
	m.Close()

	if got := string(up.puts[m.Key()]); got != `{"cash":3}` {
		t.Fatalf("last upload=%s", got)
	}
	st := m.Stats()
	if st.EnqueuedTotal != 3 || st.UploadFailTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
	if st.UploadSuccessTotal+st.SupersededTotal != 3 {
		t.Fatalf("every blob is uploaded or superseded: %+v", st)
	}

	m.Enqueue([]byte(`{"cash":4}`))
	if string(up.puts[m.Key()]) != `{"cash":3}` {
		t.Fatalf("enqueue after close must be ignored")
	}
}

func TestMirror_RetriesThenGivesUp(t *testing.T) {
	up := &fakeUploader{failures: 2}
	m := NewMirror(up, "", "slot", quietLogger())
	m.backoff = func(int) time.Duration { return 0 }
	m.Enqueue([]byte(`{}`))
	m.Close()
	if up.calls != 3 || m.Stats().UploadSuccessTotal != 1 {
		t.Fatalf("calls=%d stats=%+v", up.calls, m.Stats())
	}

	up = &fakeUploader{failures: 10}
	m = NewMirror(up, "", "slot", quietLogger())
	m.backoff = func(int) time.Duration { return 0 }
	m.Enqueue([]byte(`{}`))
	m.Close()
	if up.calls != 4 || m.Stats().UploadFailTotal != 1 {
		t.Fatalf("calls=%d stats=%+v", up.calls, m.Stats())
	}
}

func TestNormalizeObjectKey(t *testing.T) {
	cases := map[string]string{
		"saves/a.json":     "saves/a.json",
		"/saves//a.json":   "saves/a.json",
		`saves\a.json`:     "saves/a.json",
		"../../etc/passwd": "etc/passwd",
		"  ":               "",
		"/":                "",
	}
	for in, want := range cases {
		if got := normalizeObjectKey(in); got != want {
			t.Fatalf("normalizeObjectKey(%q)=%q want %q", in, got, want)
		}
	}
}
