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

package breaker

import (
	"sync"
	"time"
)

// Registry owns one CircuitBreaker and one RateLimiter per provider key,
// created lazily on first use so callers never need to pre-register a
// provider before admitting calls against it.
type Registry struct {
	breakerCfg CircuitBreakerConfig
	limiterCfg RateLimiterConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	limiters map[string]*RateLimiter
}

// NewRegistry builds a Registry applying the given configs to every
// provider key it creates.
func NewRegistry(breakerCfg CircuitBreakerConfig, limiterCfg RateLimiterConfig) *Registry {
	return &Registry{
		breakerCfg: breakerCfg,
		limiterCfg: limiterCfg,
		breakers:   make(map[string]*CircuitBreaker),
		limiters:   make(map[string]*RateLimiter),
	}
}

// Breaker returns the breaker for key, creating it if necessary.
func (r *Registry) Breaker(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = NewCircuitBreaker(r.breakerCfg)
		r.breakers[key] = b
	}
	return b
}

// Limiter returns the rate limiter for key, creating it if necessary.
func (r *Registry) Limiter(key string, now time.Time) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[key]
	if !ok {
		l = NewRateLimiter(r.limiterCfg, now)
		r.limiters[key] = l
	}
	return l
}

// Admission is the combined breaker+limiter decision the handoff manager
// checks before calling an adapter's Send.
type Admission struct {
	Allowed      bool
	Reason       string // "breaker_open" or "rate_limited" when Allowed is false
	RetryAfterMs int64
}

// Admit checks both the breaker and the limiter for key and returns a
// single decision: the breaker is checked first since an open breaker
// means the limiter's budget shouldn't be spent on a call known to fail.
func (r *Registry) Admit(key string, now time.Time) Admission {
	b := r.Breaker(key)
	if !b.Allow(now) {
		return Admission{Allowed: false, Reason: "breaker_open", RetryAfterMs: r.breakerCfg.CoolDown.Milliseconds()}
	}

	l := r.Limiter(key, now)
	result := l.Allow(now)
	if !result.Allowed {
		return Admission{Allowed: false, Reason: "rate_limited", RetryAfterMs: result.RetryAfterMs}
	}

	return Admission{Allowed: true}
}

// RecordResult reports the outcome of a call admitted via Admit, updating
// the breaker for key accordingly. The limiter has no notion of outcome.
func (r *Registry) RecordResult(key string, now time.Time, success bool) {
	b := r.Breaker(key)
	if success {
		b.RecordSuccess(now)
	} else {
		b.RecordFailure(now)
	}
}

// OpenCount returns how many registered breakers are currently open, used
// by HandoffMetrics.CircuitsOpen.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, b := range r.breakers {
		if b.State() == StateOpen {
			n++
		}
	}
	return n
}
