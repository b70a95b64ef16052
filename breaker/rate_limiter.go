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

// RateLimiterConfig configures a leaky-bucket limiter.
type RateLimiterConfig struct {
	Capacity     float64
	RefillPerSec float64
}

// DefaultRateLimiterConfig is a modest per-provider budget.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{Capacity: 10, RefillPerSec: 1}
}

// AllowResult is RateLimiter.Allow's return shape.
type AllowResult struct {
	Allowed      bool
	RetryAfterMs int64
}

// RateLimiter is a leaky bucket: Capacity tokens, refilled at RefillPerSec
// tokens/second, one token consumed per admitted call.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu       sync.Mutex
	tokens   float64
	lastFill time.Time
}

// NewRateLimiter builds a limiter from cfg, filling zero fields with
// defaults, starting at full capacity.
func NewRateLimiter(cfg RateLimiterConfig, now time.Time) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.RefillPerSec <= 0 {
		cfg.RefillPerSec = def.RefillPerSec
	}
	return &RateLimiter{cfg: cfg, tokens: cfg.Capacity, lastFill: now}
}

// Allow consumes a token if one is available and reports whether the call
// may proceed; if not, RetryAfterMs estimates how long until one refills.
func (r *RateLimiter) Allow(now time.Time) AllowResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillLocked(now)

	if r.tokens >= 1 {
		r.tokens--
		return AllowResult{Allowed: true}
	}

	deficit := 1 - r.tokens
	seconds := deficit / r.cfg.RefillPerSec
	return AllowResult{Allowed: false, RetryAfterMs: int64(seconds * 1000)}
}

func (r *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(r.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	r.tokens += elapsed * r.cfg.RefillPerSec
	if r.tokens > r.cfg.Capacity {
		r.tokens = r.cfg.Capacity
	}
	r.lastFill = now
}

// Tokens returns the current token count, for observability/tests.
func (r *RateLimiter) Tokens(now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refillLocked(now)
	return r.tokens
}
