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

package background

import (
	"context"
	"fmt"
	"time"

	"github.com/claude-flow/v3/errkind"
	"github.com/claude-flow/v3/flowtypes"
	"github.com/claude-flow/v3/provider"
)

// RunChild is the detached child process's entire job: read the request
// envelope the parent wrote, perform the provider call under a
// per-request timeout, and atomically write the output and terminal
// status documents. cmd/flowd's "handoff-worker" subcommand calls this
// directly; it is factored out of main() so it's unit-testable without
// an actual subprocess.
func RunChild(ctx context.Context, workDir, id string, dispatcher provider.Adapter) error {
	var envelope requestEnvelope
	if err := readJSON(requestPath(workDir, id), &envelope); err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("background child %q: read request file: %w", id, err))
	}

	timeout := time.Duration(envelope.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := dispatcher.Send(sendCtx, envelope.Request, envelope.ProviderConfig)
	if err != nil {
		resp = flowtypes.HandoffResponse{
			RequestID: envelope.Request.ID,
			Provider:  envelope.ProviderConfig.Name,
			Status:    flowtypes.StatusFailed,
			Error:     err.Error(),
		}
	}
	resp.CompletedAt = time.Now()

	if err := writeJSONAtomic(outputPath(workDir, id), resp); err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("background child %q: write output file: %w", id, err))
	}

	completedAt := resp.CompletedAt
	status := statusDocument{Status: resp.Status, CompletedAt: &completedAt}
	if err := writeJSONAtomic(statusPath(workDir, id), status); err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("background child %q: write status file: %w", id, err))
	}

	return nil
}
