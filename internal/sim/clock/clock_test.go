package clock

import (
	"testing"
	"time"
)

func TestManual(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	m := NewManual(start)
	m.Advance(1500 * time.Millisecond)
	if got := UnixMs(m); got != 1_700_000_001_500 {
		t.Fatalf("got %d", got)
	}
	m.Set(start)
	if !m.Now().Equal(start) {
		t.Fatalf("set failed")
	}
}

func TestReal(t *testing.T) {
	before := time.Now()
	if (Real{}).Now().Before(before) {
		t.Fatalf("real clock went backwards")
	}
}
