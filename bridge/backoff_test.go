package bridge

import (
	"context"
	"testing"
	"time"
)

func TestReconnectDelay_BoundsWithJitter(t *testing.T) {
	t.Parallel()

	p := ReconnectPolicy{
		InitialDelay: 100 * time.Millisecond,
		Factor:       2,
		MaxDelay:     10 * time.Second,
		Jitter:       0.2,
	}
	base := 1600 * time.Millisecond
	lo := time.Duration(float64(base) * 0.8)
	hi := time.Duration(float64(base) * 1.2)

	for i := 0; i < 200; i++ {
		d := reconnectDelay(p, 5)
		if d < lo || d > hi {
			t.Fatalf("attempt 5 delay %v outside [%v, %v]", d, lo, hi)
		}
	}
}

func TestReconnectDelay_CapsAtMaxDelay(t *testing.T) {
	t.Parallel()

	p := ReconnectPolicy{
		InitialDelay: 100 * time.Millisecond,
		Factor:       2,
		MaxDelay:     10 * time.Second,
		Jitter:       0,
	}
	if d := reconnectDelay(p, 30); d != 10*time.Second {
		t.Fatalf("got %v, want %v", d, 10*time.Second)
	}
}

func TestReconnectDelay_NeverBelowFloor(t *testing.T) {
	t.Parallel()

	p := ReconnectPolicy{
		InitialDelay: 100 * time.Millisecond,
		Factor:       2,
		MaxDelay:     10 * time.Second,
		Jitter:       1,
	}
	for i := 0; i < 200; i++ {
		if d := reconnectDelay(p, 1); d < minReconnectDelay {
			t.Fatalf("delay %v below floor %v", d, minReconnectDelay)
		}
	}
}

func TestNormalizeReconnectPolicy_Clamps(t *testing.T) {
	t.Parallel()

	p := normalizeReconnectPolicy(ReconnectPolicy{
		MaxAttempts:  -3,
		InitialDelay: 10 * time.Millisecond,
		Factor:       0.5,
		MaxDelay:     5 * time.Millisecond,
		Jitter:       4,
	})
	if p.MaxAttempts != 0 {
		t.Fatalf("MaxAttempts = %d, want 0", p.MaxAttempts)
	}
	if p.InitialDelay != minReconnectDelay {
		t.Fatalf("InitialDelay = %v, want %v", p.InitialDelay, minReconnectDelay)
	}
	if p.Factor != minReconnectFactor {
		t.Fatalf("Factor = %v, want %v", p.Factor, minReconnectFactor)
	}
	if p.MaxDelay != p.InitialDelay {
		t.Fatalf("MaxDelay = %v, want %v", p.MaxDelay, p.InitialDelay)
	}
	if p.Jitter != 1 {
		t.Fatalf("Jitter = %v, want 1", p.Jitter)
	}

	p = normalizeReconnectPolicy(ReconnectPolicy{Jitter: -0.5})
	if p.Jitter != 0 {
		t.Fatalf("Jitter = %v, want 0", p.Jitter)
	}
	if p.InitialDelay != DefaultReconnectInitialDelay {
		t.Fatalf("InitialDelay = %v, want default %v", p.InitialDelay, DefaultReconnectInitialDelay)
	}
}

func TestSleepWithContext_CancelWakesEarly(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := sleepWithContext(ctx, 5*time.Second)
	if err == nil {
		t.Fatalf("expected context error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("sleep did not wake on cancel, took %v", elapsed)
	}
}

func TestSleepWithContext_ZeroReturnsImmediately(t *testing.T) {
	t.Parallel()

	if err := sleepWithContext(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
