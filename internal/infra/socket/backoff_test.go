package socket

import (
	"testing"
	"time"
)

func TestBackoff_ExponentialThenCooldown(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		Delay:       100 * time.Millisecond,
		MaxDelay:    time.Second,
		MaxAttempts: 5,
		Cooldown:    10 * time.Second,
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		10 * time.Second, // cooldown
		100 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
	if b.Attempts() != len(want) {
		t.Errorf("Expected %d attempts, got %d", len(want), b.Attempts())
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(BackoffConfig{Delay: 50 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 3, Cooldown: time.Minute})
	b.Next()
	b.Next()
	b.Reset()

	if b.Attempts() != 0 {
		t.Errorf("Expected attempts reset, got %d", b.Attempts())
	}
	if got := b.Next(); got != 50*time.Millisecond {
		t.Errorf("Expected first delay after reset, got %v", got)
	}
}

func TestBackoff_CooldownLongerThanDelay(t *testing.T) {
	b := NewBackoff(BackoffConfig{Delay: time.Second, MaxDelay: 5 * time.Second, MaxAttempts: 1, Cooldown: time.Millisecond})
	b.Next()
	if got := b.Next(); got < 5*time.Second {
		t.Errorf("Expected cooldown to be at least MaxDelay, got %v", got)
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := NewBackoff(BackoffConfig{Delay: time.Second, MaxDelay: time.Second, JitterRatio: 0.5})
	b.rand = func() float64 { return 1 }
	if got := b.Next(); got != 1500*time.Millisecond {
		t.Errorf("Expected upper jitter bound, got %v", got)
	}
	b.rand = func() float64 { return 0 }
	if got := b.Next(); got != 500*time.Millisecond {
		t.Errorf("Expected lower jitter bound, got %v", got)
	}
}

func TestBackoff_NoLimitNeverCoolsDown(t *testing.T) {
	b := NewBackoff(BackoffConfig{Delay: time.Millisecond, MaxDelay: 4 * time.Millisecond})
	for i := 0; i < 20; i++ {
		if got := b.Next(); got > 4*time.Millisecond {
			t.Fatalf("attempt %d: expected cap 4ms, got %v", i+1, got)
		}
	}
}
