// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker implements per-analyzer circuit breakers for the
// moderation gateway.
//
// Each analyzer gets one breaker cell. A cell is a three-state machine:
//
//   - Closed: healthy, calls admitted.
//   - Open: degraded, calls rejected immediately with ErrShortCircuited.
//   - Half-open: probing, exactly one concurrent probe admitted.
//
// Unlike a consecutive-failure breaker, cells track a trailing window of
// completions so a burst of failures mixed with successes still trips
// the breaker once the failure ratio degrades.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrShortCircuited is returned by Admit when the breaker refuses a call.
var ErrShortCircuited = errors.New("circuit breaker open: call short-circuited")

// State represents the state of a breaker cell.
type State int

const (
	// StateClosed allows requests through normally.
	StateClosed State = iota

	// StateOpen rejects all requests immediately.
	StateOpen

	// StateHalfOpen allows a single probe request to test recovery.
	StateHalfOpen
)

// String returns the human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures breaker behavior.
type Config struct {
	// FailureThreshold is the number of failures in the trailing window
	// that opens the breaker. Default: 5
	FailureThreshold int

	// Window is the number of trailing completions tracked. Default: 20
	Window int

	// RatioThreshold opens the breaker when the failure ratio over the
	// window exceeds it, given at least MinimumSamples completions.
	// Default: 0.5
	RatioThreshold float64

	// MinimumSamples is the minimum completions before the ratio rule
	// applies. Default: 10
	MinimumSamples int

	// Cooldown is how long an open breaker waits before admitting a
	// probe. Default: 30s
	Cooldown time.Duration
}

// DefaultConfig returns sensible defaults for the breaker.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           20,
		RatioThreshold:   0.5,
		MinimumSamples:   10,
		Cooldown:         30 * time.Second,
	}
}

// normalized fills zero fields with defaults so a partially-populated
// Config never produces a breaker that can divide by zero or never trip.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.RatioThreshold <= 0 {
		c.RatioThreshold = def.RatioThreshold
	}
	if c.MinimumSamples <= 0 {
		c.MinimumSamples = def.MinimumSamples
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	return c
}

// Ticket is the admission token returned by Admit. It must be handed
// back to Record exactly once when the call completes.
type Ticket struct {
	name  string
	probe bool
}

// Name returns the analyzer name this ticket was issued for.
func (t Ticket) Name() string { return t.name }

// Probe reports whether this ticket is the half-open probe.
func (t Ticket) Probe() bool { return t.probe }

// Breaker is a single breaker cell.
//
// Thread Safety: Safe for concurrent use. The lock is never held across
// I/O; admit and record are both O(1).
type Breaker struct {
	config Config

	mu            sync.Mutex
	state         State
	window        []bool // ring buffer of completions, true = failure
	next          int
	filled        int
	failures      int
	openedAt      time.Time
	probeInFlight bool
	stateChanged  time.Time
}

// New creates a breaker cell in the closed state.
func New(name string, config Config) *Breaker {
	_ = name // name travels on tickets via the registry
	cfg := config.normalized()
	return &Breaker{
		config:       cfg,
		state:        StateClosed,
		window:       make([]bool, cfg.Window),
		stateChanged: time.Now(),
	}
}

// Admit asks permission to issue a call.
//
// Outputs:
//   - Ticket: the admission token, valid only when err is nil.
//   - error: ErrShortCircuited when the breaker refuses the call.
//
// In the open state, Admit transitions to half-open once the cooldown
// has elapsed and admits the caller as the single probe. In half-open,
// all callers other than the in-flight probe are refused.
func (b *Breaker) Admit() (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case StateClosed:
		return Ticket{}, nil

	case StateOpen:
		if now.Sub(b.openedAt) >= b.config.Cooldown {
			b.transitionTo(StateHalfOpen, now)
			b.probeInFlight = true
			return Ticket{probe: true}, nil
		}
		return Ticket{}, ErrShortCircuited

	case StateHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return Ticket{probe: true}, nil
		}
		return Ticket{}, ErrShortCircuited

	default:
		return Ticket{}, ErrShortCircuited
	}
}

// Record reports the completion of an admitted call.
//
// A probe completion resolves the half-open state: success closes the
// breaker, failure reopens it and restarts the cooldown. A regular
// completion feeds the trailing window and may open the breaker.
// Completions that land after a state transition (e.g. a slow call
// finishing while the breaker is already open) are discarded.
func (b *Breaker) Record(t Ticket, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	if t.probe {
		b.probeInFlight = false
		if b.state != StateHalfOpen {
			return
		}
		if success {
			b.transitionTo(StateClosed, now)
		} else {
			b.transitionTo(StateOpen, now)
			b.openedAt = now
		}
		return
	}

	if b.state != StateClosed {
		return
	}

	b.push(!success)

	if b.failures >= b.config.FailureThreshold ||
		(b.filled >= b.config.MinimumSamples &&
			float64(b.failures)/float64(b.filled) > b.config.RatioThreshold) {
		b.transitionTo(StateOpen, now)
		b.openedAt = now
	}
}

// Discard hands back an admitted ticket without recording a completion.
//
// Used when the caller, not the analyzer, aborted the call: the aborted
// exchange says nothing about analyzer health, so the trailing window is
// left untouched. A discarded probe releases the probe slot so the next
// caller can probe; the breaker stays half-open.
func (b *Breaker) Discard(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.probe && b.state == StateHalfOpen {
		b.probeInFlight = false
	}
}

// State returns the current breaker state.
//
// Thread Safety: Safe for concurrent use.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a point-in-time view of the cell for observability.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:        b.state,
		WindowFilled: b.filled,
		Failures:     b.failures,
		StateChanged: b.stateChanged,
	}
}

// push appends a completion to the ring buffer, evicting the oldest
// entry once the window is full. Must be called with the lock held.
func (b *Breaker) push(failure bool) {
	if b.filled == len(b.window) {
		if b.window[b.next] {
			b.failures--
		}
	} else {
		b.filled++
	}
	b.window[b.next] = failure
	if failure {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.window)
}

// transitionTo changes state and resets the window and probe bookkeeping.
// Must be called with the lock held.
func (b *Breaker) transitionTo(newState State, now time.Time) {
	b.state = newState
	b.stateChanged = now
	b.probeInFlight = false
	b.next = 0
	b.filled = 0
	b.failures = 0
	for i := range b.window {
		b.window[i] = false
	}
}

// Stats contains breaker cell statistics.
type Stats struct {
	State        State
	WindowFilled int
	Failures     int
	StateChanged time.Time
}
