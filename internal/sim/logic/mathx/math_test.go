package mathx

import (
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	if got := Clamp(7, 0, 6); got != 6 {
		t.Fatalf("clamp high: got %d want 6", got)
	}
	if got := Clamp(-1, 0, 6); got != 0 {
		t.Fatalf("clamp low: got %d want 0", got)
	}
	if got := Clamp(0.5, 0.0, 1.0); got != 0.5 {
		t.Fatalf("clamp mid: got %v want 0.5", got)
	}
}

func TestNonNegative(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{in: 1.5, want: 1.5},
		{in: -2, want: 0},
		{in: math.NaN(), want: 0},
		{in: math.Inf(1), want: 0},
	}
	for _, c := range cases {
		if got := NonNegative(c.in); got != c.want {
			t.Fatalf("NonNegative(%v)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestHash2_Deterministic(t *testing.T) {
	if Hash2(7, 1, 2) != Hash2(7, 1, 2) {
		t.Fatalf("hash not deterministic")
	}
	if Hash2(7, 1, 2) == Hash2(7, 2, 1) {
		t.Fatalf("hash should depend on argument order")
	}
}
