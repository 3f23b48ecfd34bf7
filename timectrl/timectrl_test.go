package timectrl

import (
	"testing"
	"time"
)

func TestManualClockSet(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	newNow := start.Add(42 * time.Second)
	clock.Set(newNow)

	if got := clock.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestManualClockMonotonic(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	clock.Set(start.Add(-time.Minute))
	if got := clock.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v after backwards Set, want %v", got, start)
	}

	clock.Advance(-time.Second)
	if got := clock.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v after negative Advance, want %v", got, start)
	}

	if got := clock.Advance(15 * time.Millisecond); !got.Equal(start.Add(15 * time.Millisecond)) {
		t.Fatalf("Advance() = %v, want %v", got, start.Add(15*time.Millisecond))
	}
}

func TestSystemClockMovesForward(t *testing.T) {
	var clock Clock = SystemClock{}
	a := clock.Now()
	b := clock.Now()
	if b.Before(a) {
		t.Fatalf("SystemClock went backwards: %v then %v", a, b)
	}
}
