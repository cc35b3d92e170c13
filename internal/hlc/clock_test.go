package hlc

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		wallMS  int64
		counter uint16
	}{
		{0, 0},
		{1_700_000_000_000, 1},
		{1_700_000_000_000, 65535},
	}
	for _, tc := range cases {
		ts := Encode(tc.wallMS, tc.counter)
		gotWall, gotCounter := Decode(ts)
		if gotWall != tc.wallMS || gotCounter != tc.counter {
			t.Errorf("Encode(%d, %d) -> Decode = (%d, %d)", tc.wallMS, tc.counter, gotWall, gotCounter)
		}
	}
}

func TestCompare(t *testing.T) {
	a := Encode(100, 0)
	b := Encode(100, 1)
	c := Encode(101, 0)

	if Compare(a, b) >= 0 {
		t.Errorf("expected a < b")
	}
	if Compare(b, c) >= 0 {
		t.Errorf("expected b < c")
	}
	if Compare(a, a) != 0 {
		t.Errorf("expected a == a")
	}
}

// fakeWall lets tests drive the clock's wall-time reads deterministically.
type fakeWall struct {
	ms int64
}

func (f *fakeWall) now() time.Time {
	return time.UnixMilli(f.ms)
}

func TestClock_MonotonicOnAdvancingWall(t *testing.T) {
	w := &fakeWall{ms: 1000}
	clock := NewClock(w.now)

	var prev Timestamp
	for i := 0; i < 5; i++ {
		w.ms += 10
		ts := clock.Now()
		if i > 0 && Compare(ts, prev) <= 0 {
			t.Fatalf("iteration %d: timestamp did not increase: prev=%s ts=%s", i, prev, ts)
		}
		prev = ts
	}
}

func TestClock_StalledWallIncrementsCounter(t *testing.T) {
	w := &fakeWall{ms: 5000}
	clock := NewClock(w.now)

	first := clock.Now()
	second := clock.Now() // wall unchanged
	third := clock.Now()  // wall unchanged

	if Compare(second, first) <= 0 || Compare(third, second) <= 0 {
		t.Fatalf("expected strictly increasing timestamps, got %s, %s, %s", first, second, third)
	}

	wall1, count1 := Decode(first)
	wall2, count2 := Decode(second)
	if wall1 != wall2 {
		t.Fatalf("wall clock should not have advanced: %d vs %d", wall1, wall2)
	}
	if count2 != count1+1 {
		t.Fatalf("expected counter to increment by 1, got %d -> %d", count1, count2)
	}
}

func TestClock_RegressingWallPinsMax(t *testing.T) {
	w := &fakeWall{ms: 10_000}
	clock := NewClock(w.now)

	first := clock.Now()
	w.ms = 5_000 // wall regresses
	second := clock.Now()

	if Compare(second, first) <= 0 {
		t.Fatalf("expected monotonic timestamp despite wall regression, got %s then %s", first, second)
	}
	wall2, _ := Decode(second)
	if wall2 != 10_000 {
		t.Fatalf("expected wall to stay pinned at max-seen value 10000, got %d", wall2)
	}
}

func TestClock_CounterOverflowBumpsWall(t *testing.T) {
	w := &fakeWall{ms: 42}
	clock := NewClock(w.now)

	clock.mu.Lock()
	clock.lastWallMS = 42
	clock.lastCount = maxCounter
	clock.mu.Unlock()

	ts := clock.Now()
	wall, counter := Decode(ts)
	if wall != 43 {
		t.Fatalf("expected wall to bump to 43 on counter overflow, got %d", wall)
	}
	if counter != 0 {
		t.Fatalf("expected counter to reset to 0, got %d", counter)
	}
}

func TestClock_SuccessiveNowCallsStrictlyIncrease(t *testing.T) {
	// Property 1 from spec §8: successive Now() calls strictly increase,
	// exercised against the real system clock too.
	clock := NewSystemClock()
	var prev Timestamp
	for i := 0; i < 1000; i++ {
		ts := clock.Now()
		if i > 0 && Compare(ts, prev) <= 0 {
			t.Fatalf("iteration %d: %s did not exceed previous %s", i, ts, prev)
		}
		prev = ts
	}
}

func TestClock_Observe(t *testing.T) {
	w := &fakeWall{ms: 1000}
	clock := NewClock(w.now)

	remote := Encode(5000, 3)
	clock.Observe(remote)

	next := clock.Now()
	if Compare(next, remote) <= 0 {
		t.Fatalf("expected Now() after Observe(%s) to exceed it, got %s", remote, next)
	}
}

func TestZeroIsNeverSyncedSentinel(t *testing.T) {
	if Zero != Timestamp(0) {
		t.Fatalf("Zero must be the zero value")
	}
	wallMS, counter := Decode(Zero)
	if wallMS != 0 || counter != 0 {
		t.Fatalf("Zero must decode to (0, 0)")
	}
}
