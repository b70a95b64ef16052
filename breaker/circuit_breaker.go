// Copyright 2025 achetronic
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package breaker implements per-provider circuit breakers and leaky-bucket
// rate limiters (C5). A breaker counts failures within a rolling window; a
// limiter admits calls against a refilling token budget. The handoff
// manager consults both before calling an adapter's send.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three standard breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig configures a single breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures within RollingWindow that
	// trips the breaker open.
	FailureThreshold int
	RollingWindow    time.Duration
	CoolDown         time.Duration
}

// DefaultCircuitBreakerConfig matches the values implied by spec.md's
// scenario S4 (breaker opens after repeated failures, recovers after a
// cool-down probe).
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RollingWindow:    time.Minute,
		CoolDown:         30 * time.Second,
	}
}

// CircuitBreaker is a count-based breaker over a rolling time window,
// independent per provider key: closed while failures stay under
// threshold, open for CoolDown once tripped, then half-open for exactly
// one probe call before returning to closed (probe succeeds) or open
// (probe fails).
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  []time.Time
	openedAt  time.Time
	halfOpenInFlight bool
}

// NewCircuitBreaker builds a breaker from cfg, filling zero fields with
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = def.RollingWindow
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = def.CoolDown
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether a call may proceed right now. When the breaker is
// open past its cool-down, Allow transitions it to half-open and permits
// exactly one in-flight probe; concurrent callers during that probe are
// refused until RecordSuccess/RecordFailure resolves it.
func (b *CircuitBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.CoolDown {
			return false
		}
		b.state = StateHalfOpen
		b.halfOpenInFlight = true
		return true
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call. In half-open, this closes the
// breaker and clears failure history.
func (b *CircuitBreaker) RecordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = nil
		b.halfOpenInFlight = false
	case StateClosed:
		b.pruneLocked(now)
	}
}

// RecordFailure reports a failed call. In half-open, this reopens the
// breaker immediately. In closed, it records the failure and trips open
// once the rolling-window count reaches FailureThreshold.
func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = now
		b.halfOpenInFlight = false
		b.failures = nil
		return
	}

	b.failures = append(b.failures, now)
	b.pruneLocked(now)
	if len(b.failures) >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = now
	}
}

func (b *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.RollingWindow)
	kept := b.failures[:0]
	for _, f := range b.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	b.failures = kept
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the number of failures currently counted within
// the rolling window.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.failures)
}
