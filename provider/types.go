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

// Package provider implements C7: adapters speaking the three wire
// protocols a handoff request can target (local-ollama, anthropic-style,
// openai-style), a model registry for context-window/cost metadata
// (backed by catwalk rather than the teacher's hand-rolled Crush fetcher),
// and a cost table for estimating request price.
package provider

import (
	"context"

	"github.com/claude-flow/v3/flowtypes"
)

// Adapter is implemented by every provider wire-format client.
type Adapter interface {
	// HealthCheck reports whether the endpoint is currently reachable and
	// accepting requests.
	HealthCheck(ctx context.Context, cfg flowtypes.ProviderConfig) error
	// Send dispatches req synchronously and returns the parsed response.
	Send(ctx context.Context, req flowtypes.HandoffRequest, cfg flowtypes.ProviderConfig) (flowtypes.HandoffResponse, error)
}

// ModelRegistry supplies per-model metadata an adapter or the handoff
// manager needs but a request doesn't carry itself: context window size,
// default max output tokens, and per-million-token cost. Mirrors the
// teacher's plugin/contextguard.ModelRegistry interface, extended with
// cost lookups since spec.md's TokenUsage carries an EstimatedCost.
type ModelRegistry interface {
	ContextWindow(modelID string) int
	DefaultMaxTokens(modelID string) int
	CostPerMillionTokens(modelID string) (in, out float64)
}
