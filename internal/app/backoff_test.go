package app

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_DelayGrowsAndCaps(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second)

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for retry, want := range expected {
		got := b.DelayFor(retry)
		lo := time.Duration(float64(want) * 0.8)
		hi := time.Duration(float64(want) * 1.2)
		if got < lo || got > hi {
			t.Errorf("DelayFor(%d) = %v, want within [%v, %v]", retry, got, lo, hi)
		}
	}
}

func TestBackoff_WaitCompletes(t *testing.T) {
	b := NewBackoff(time.Millisecond, 10*time.Millisecond)
	if err := b.Wait(context.Background(), 0); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestBackoff_WaitCancelled(t *testing.T) {
	b := NewBackoff(10*time.Second, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := b.Wait(ctx, 3)
	if err == nil {
		t.Fatal("expected error from cancelled Wait")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancelled Wait blocked for %v", elapsed)
	}
}
