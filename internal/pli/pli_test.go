package pli

import (
	"testing"
	"time"
)

func TestInitialRequest(t *testing.T) {
	b := NewBudget(Config{})
	now := time.Now()
	if !b.ShouldRequest(now) {
		t.Fatal("expected a fresh budget to request immediately")
	}
}

func TestExponentialBackoff(t *testing.T) {
	cfg := Config{InitialTimeout: time.Second, MaxTimeout: 8 * time.Second, Multiplier: 2.0, MaxRequests: 0}
	b := NewBudget(cfg)
	now := time.Now()

	b.Requested(now)
	if b.ShouldRequest(now.Add(500 * time.Millisecond)) {
		t.Fatal("should not request before the first interval elapses")
	}
	if !b.ShouldRequest(now.Add(time.Second)) {
		t.Fatal("should request once the first interval elapses")
	}

	b.Requested(now.Add(time.Second))
	if b.ShouldRequest(now.Add(2 * time.Second)) {
		t.Fatal("second interval should have doubled to 2s")
	}
	if !b.ShouldRequest(now.Add(3 * time.Second)) {
		t.Fatal("should request once the doubled interval elapses")
	}

	// Drive past the cap; the interval must not exceed MaxTimeout.
	next := now.Add(3 * time.Second)
	for i := 0; i < 10; i++ {
		b.Requested(next)
		next = next.Add(cfg.MaxTimeout)
	}
	if b.currentTimeout > cfg.MaxTimeout {
		t.Fatalf("backoff exceeded cap: %v > %v", b.currentTimeout, cfg.MaxTimeout)
	}
}

func TestKeyframeResetsBackoff(t *testing.T) {
	cfg := Config{InitialTimeout: time.Second, MaxTimeout: 8 * time.Second, Multiplier: 2.0, MaxRequests: 3}
	b := NewBudget(cfg)
	now := time.Now()

	b.Requested(now)
	b.Requested(now.Add(2 * time.Second))
	if b.currentTimeout == cfg.InitialTimeout {
		t.Fatal("timeout should have grown after two requests")
	}

	b.KeyframeObserved()
	if b.currentTimeout != cfg.InitialTimeout {
		t.Fatalf("expected reset to initial timeout, got %v", b.currentTimeout)
	}
	if b.RequestCount() != 0 {
		t.Fatal("expected request count to reset")
	}
	if b.Exhausted() {
		t.Fatal("expected budget to no longer be exhausted after reset")
	}
	if !b.ShouldRequest(now) {
		t.Fatal("expected reset budget to allow an immediate request")
	}
}

func TestMaxRequestsExhausts(t *testing.T) {
	cfg := Config{InitialTimeout: time.Millisecond, MaxTimeout: time.Millisecond, Multiplier: 1.0, MaxRequests: 2}
	b := NewBudget(cfg)
	now := time.Now()

	b.Requested(now)
	if b.Exhausted() {
		t.Fatal("should not be exhausted after one request with MaxRequests=2")
	}
	b.Requested(now)
	if !b.Exhausted() {
		t.Fatal("should be exhausted after reaching MaxRequests")
	}
	if b.ShouldRequest(now.Add(time.Hour)) {
		t.Fatal("exhausted budget must not request even after a long wait")
	}
}
