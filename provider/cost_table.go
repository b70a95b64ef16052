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

package provider

import "github.com/claude-flow/v3/flowtypes"

// CostTable estimates the dollar cost of a completed request from a
// ModelRegistry's per-million-token rates. Local ollama endpoints have no
// registry entry (CostPerMillionTokens returns zeros), so EstimatedCost
// stays nil for them rather than reporting a bogus $0.00.
type CostTable struct {
	registry ModelRegistry
}

// NewCostTable wraps registry for cost estimation.
func NewCostTable(registry ModelRegistry) *CostTable {
	return &CostTable{registry: registry}
}

// Estimate computes the estimated cost of usage against modelID, or nil
// if the registry has no cost data for that model.
func (c *CostTable) Estimate(modelID string, usage flowtypes.TokenUsage) *float64 {
	in, out := c.registry.CostPerMillionTokens(modelID)
	if in == 0 && out == 0 {
		return nil
	}
	cost := (float64(usage.Prompt)/1_000_000)*in + (float64(usage.Completion)/1_000_000)*out
	return &cost
}
