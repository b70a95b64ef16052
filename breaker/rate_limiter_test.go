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
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToCapacity(t *testing.T) {
	now := time.Now()
	r := NewRateLimiter(RateLimiterConfig{Capacity: 3, RefillPerSec: 1}, now)

	for i := 0; i < 3; i++ {
		if res := r.Allow(now); !res.Allowed {
			t.Fatalf("call %d: expected allowed within capacity", i)
		}
	}
	if res := r.Allow(now); res.Allowed {
		t.Fatal("expected 4th call at same instant to be refused")
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	now := time.Now()
	r := NewRateLimiter(RateLimiterConfig{Capacity: 1, RefillPerSec: 2}, now)

	r.Allow(now) // drains the single token
	if res := r.Allow(now); res.Allowed {
		t.Fatal("expected immediate second call to be refused")
	}

	later := now.Add(600 * time.Millisecond) // 2 tokens/sec * 0.6s = 1.2 tokens
	if res := r.Allow(later); !res.Allowed {
		t.Fatalf("expected call after refill window to be allowed, retryAfterMs=%d", res.RetryAfterMs)
	}
}

func TestRateLimiter_RetryAfterIsPositiveWhenRefused(t *testing.T) {
	now := time.Now()
	r := NewRateLimiter(RateLimiterConfig{Capacity: 1, RefillPerSec: 1}, now)
	r.Allow(now)

	res := r.Allow(now)
	if res.Allowed {
		t.Fatal("expected refusal")
	}
	if res.RetryAfterMs <= 0 {
		t.Fatalf("RetryAfterMs = %d, want > 0", res.RetryAfterMs)
	}
}

func TestRateLimiter_NeverExceedsCapacity(t *testing.T) {
	now := time.Now()
	r := NewRateLimiter(RateLimiterConfig{Capacity: 2, RefillPerSec: 100}, now)

	later := now.Add(time.Hour)
	if got := r.Tokens(later); got != 2 {
		t.Fatalf("Tokens after long idle = %v, want capped at capacity 2", got)
	}
}
