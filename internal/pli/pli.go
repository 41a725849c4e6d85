// Package pli implements the Picture Loss Indication request budget the
// Forwarder keeps for a publisher's video track. The recorder pipeline does
// not use it: its keyframe requests come from its own fixed-interval check
// (recorder.Segmenter.ShouldRequestKeyframe) and do not touch the Forwarder's
// Budget. Nothing in this package is itself concurrency-safe
// because each Budget is owned by exactly one goroutine (the track's
// RTCP-writer loop) per SPEC_FULL.md's ownership model.
package pli

import "time"

// Config tunes the exponential backoff. Zero-value Config has no sensible
// defaults — always go through NewBudget or DefaultConfig.
type Config struct {
	InitialTimeout time.Duration
	MaxTimeout     time.Duration
	Multiplier     float64
	// MaxRequests bounds how many PLIs are sent before a keyframe resets the
	// budget. Zero means unlimited.
	MaxRequests int
}

// DefaultConfig matches the values observed in the reference recorder's
// keyframe backoff: a 5s initial interval doubling up to a 30s cap, giving
// up after 5 consecutive unanswered requests.
func DefaultConfig() Config {
	return Config{
		InitialTimeout: 5 * time.Second,
		MaxTimeout:     30 * time.Second,
		Multiplier:     2.0,
		MaxRequests:    5,
	}
}

// Budget tracks one track's outstanding PLI request state.
type Budget struct {
	cfg            Config
	currentTimeout time.Duration
	requestCount   int
	lastRequest    time.Time
	exhausted      bool
}

// NewBudget creates a Budget using cfg, or DefaultConfig if cfg is the zero
// value.
func NewBudget(cfg Config) *Budget {
	if cfg.InitialTimeout == 0 {
		cfg = DefaultConfig()
	}
	return &Budget{cfg: cfg, currentTimeout: cfg.InitialTimeout}
}

// ShouldRequest reports whether a PLI should be sent at time now, given the
// last request time and current backoff state. It does not itself record
// the request — call Requested after actually sending one.
func (b *Budget) ShouldRequest(now time.Time) bool {
	if b.exhausted {
		return false
	}
	if b.lastRequest.IsZero() {
		return true
	}
	return now.Sub(b.lastRequest) >= b.currentTimeout
}

// Requested records that a PLI was sent at time now and advances the
// backoff: the interval after the first request since a reset is
// InitialTimeout, and each later request grows it by Multiplier, capped at
// MaxTimeout. The request counter increments toward MaxRequests.
func (b *Budget) Requested(now time.Time) {
	b.lastRequest = now
	b.requestCount++
	if b.cfg.MaxRequests > 0 && b.requestCount >= b.cfg.MaxRequests {
		b.exhausted = true
	}
	if b.requestCount == 1 {
		return
	}
	next := time.Duration(float64(b.currentTimeout) * b.cfg.Multiplier)
	if next > b.cfg.MaxTimeout {
		next = b.cfg.MaxTimeout
	}
	b.currentTimeout = next
}

// KeyframeObserved resets the budget to its initial state. Call this
// whenever the owning track produces a keyframe, whether or not it was
// requested — an upstream encoder's own periodic keyframe satisfies the
// same need a PLI would have.
func (b *Budget) KeyframeObserved() {
	b.currentTimeout = b.cfg.InitialTimeout
	b.requestCount = 0
	b.exhausted = false
	b.lastRequest = time.Time{}
}

// Exhausted reports whether the request budget has been spent without an
// intervening keyframe.
func (b *Budget) Exhausted() bool {
	return b.exhausted
}

// RequestCount returns the number of PLIs sent since the last reset.
func (b *Budget) RequestCount() int {
	return b.requestCount
}
