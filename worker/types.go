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

package worker

import (
	"context"
	"errors"

	"github.com/claude-flow/v3/flowtypes"
)

var errNoRuntime = errors.New("worker: no headless runtime configured")

// Built-in worker type names, matching the metrics artifact names from
// spec.md §6.
const (
	TypeCodebaseMap    = "codebase-map"
	TypeSecurityAudit  = "security-audit"
	TypePerformance    = "performance"
	TypeTestGaps       = "test-gaps"
	TypeConsolidation  = "consolidation"
	TypeBenchmark      = "benchmark"
)

// Event is a lifecycle notification the daemon emits for observability.
type Event string

const (
	EventDeferred  Event = "worker:deferred"
	EventStarted   Event = "worker:started"
	EventCompleted Event = "worker:completed"
	EventFailed    Event = "worker:failed"
	EventShutdown  Event = "worker:shutdown"
)

// Action is the callable a worker type maps to. It receives the runtime
// to optionally delegate to (never nil — callers get noRuntime when none
// is configured) and the project path it operates against, and returns an
// arbitrary result payload to be written to the worker's metrics
// artifact.
type Action func(ctx context.Context, runtime HeadlessRuntime, projectPath string) (map[string]any, error)

// Definition pairs a worker type's schedule configuration with its
// callable.
type Definition struct {
	Config flowtypes.WorkerConfig
	Run     Action
}
