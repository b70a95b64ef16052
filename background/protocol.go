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

// Package background implements C9: executing one handoff in an isolated
// OS process via a file-rendezvous protocol, so a crashing or hung
// provider call can't take the parent process down with it. Three files
// per job live under a work directory: {id}_request.json (written by the
// parent), {id}_status.json (written by both sides), {id}_output.json
// (written by the child at completion).
package background

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/claude-flow/v3/flowtypes"
)

// requestEnvelope is the full payload the parent hands the child: the
// request itself plus the resolved provider config and the per-attempt
// timeout, so the child never has to re-run provider selection.
type requestEnvelope struct {
	Request        flowtypes.HandoffRequest `json:"request"`
	ProviderConfig flowtypes.ProviderConfig `json:"providerConfig"`
	TimeoutMs      int64                    `json:"timeoutMs"`
}

// statusDocument is the contents of {id}_status.json.
type statusDocument struct {
	Status      flowtypes.HandoffStatus `json:"status"`
	StartedAt   time.Time               `json:"startedAt"`
	CompletedAt *time.Time              `json:"completedAt,omitempty"`
}

func requestPath(workDir, id string) string { return filepath.Join(workDir, id+"_request.json") }
func statusPath(workDir, id string) string  { return filepath.Join(workDir, id+"_status.json") }
func outputPath(workDir, id string) string  { return filepath.Join(workDir, id+"_output.json") }

// writeJSONAtomic writes-temp-then-renames so any poller reading path
// always sees either the previous complete document or the new one,
// never a partial write (spec.md §6's work-directory protocol).
func writeJSONAtomic(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file into %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// cleanupJobFiles removes the three per-job files, ignoring
// already-missing ones.
func cleanupJobFiles(workDir, id string) {
	for _, p := range []string{requestPath(workDir, id), statusPath(workDir, id), outputPath(workDir, id)} {
		_ = os.Remove(p)
	}
}
