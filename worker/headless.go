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

// Package worker implements C10, a cooperative scheduler running a fixed
// set of maintenance worker types (codebase mapping, security audit,
// performance optimization, memory consolidation, test-gap analysis,
// benchmarking) against a resource-aware admission gate.
package worker

import "context"

// HeadlessRuntime is an optional external AI-capable runtime a worker's
// action may delegate to instead of running its local deterministic
// routine. Mirrors the shape of the teacher's memory.MemoryService: a
// narrow interface the caller supplies, with no assumption the concrete
// implementation is reachable. Its absence, or any error from Delegate,
// must never prevent a worker from completing — callers fall back to
// the worker's local routine.
type HeadlessRuntime interface {
	// Delegate asks the runtime to perform the named worker type's logic
	// against a target project path, returning an implementation-defined
	// result payload to be marshaled into the worker's metrics artifact.
	Delegate(ctx context.Context, workerType string, projectPath string) (map[string]any, error)
}

// noRuntime is used when a Daemon is configured without a HeadlessRuntime;
// Delegate always fails so every action takes its local fallback path.
type noRuntime struct{}

func (noRuntime) Delegate(ctx context.Context, workerType string, projectPath string) (map[string]any, error) {
	return nil, errNoRuntime
}
