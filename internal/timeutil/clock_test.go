package timeutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_After(t *testing.T) {
	clock := RealClock{}
	select {
	case <-clock.After(5 * time.Millisecond):
	case <-time.After(500 * time.Millisecond):
		t.Error("After did not fire")
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Sleep(100 * time.Millisecond)
	clock.Sleep(200 * time.Millisecond)

	if got := clock.Since(start); got != 300*time.Millisecond {
		t.Errorf("Since() = %v, want 300ms", got)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 100*time.Millisecond || sleeps[1] != 200*time.Millisecond {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}

func TestMockClock_AfterFiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ch := clock.After(time.Second)

	clock.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("After fired before deadline")
	default:
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		if !got.Equal(time.Unix(1, 0)) {
			t.Errorf("fired at %v, want %v", got, time.Unix(1, 0))
		}
	default:
		t.Fatal("After did not fire at deadline")
	}
}

func TestSleepContext_Cancelled(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := SleepContext(ctx, clock, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("SleepContext() = %v, want context.Canceled", err)
	}
}

func TestSleepContext_Elapses(t *testing.T) {
	if err := SleepContext(context.Background(), RealClock{}, time.Millisecond); err != nil {
		t.Fatalf("SleepContext() = %v", err)
	}
}
