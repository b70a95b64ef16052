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
	"os"
	"sync"
	"testing"
	"time"

	"github.com/claude-flow/v3/flowtypes"
)

// newTestRunner spawns real but trivial /bin/sh processes as the
// "detached worker" so Launch exercises its full process-spawning and
// polling path; the simulated child's output/status files are written
// directly by the test rather than by a real handoff-worker subcommand,
// standing in for what cmd/flowd's child entrypoint would do.
func newTestRunner(t *testing.T, pollInterval, totalTimeout time.Duration, onComplete func(id string, resp flowtypes.HandoffResponse)) *Runner {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	r, err := NewRunner(RunnerConfig{
		WorkDir:        t.TempDir(),
		PollInterval:   pollInterval,
		RequestTimeout: time.Second,
		TotalTimeout:   totalTimeout,
		Executable:     "/bin/sh",
		ChildArgs:      []string{"-c", "sleep 5"},
		OnComplete:     onComplete,
	})
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func TestRunner_LaunchWritesRequestAndStatusFiles(t *testing.T) {
	r := newTestRunner(t, 20*time.Millisecond, time.Minute, nil)
	req := flowtypes.HandoffRequest{ID: "job-1", Prompt: "hello"}
	cfg := flowtypes.ProviderConfig{Name: "primary"}

	if err := r.Launch(context.Background(), req, cfg); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	var envelope requestEnvelope
	if err := readJSON(requestPath(r.cfg.WorkDir, "job-1"), &envelope); err != nil {
		t.Fatalf("request file not written: %v", err)
	}
	if envelope.Request.Prompt != "hello" {
		t.Fatalf("Request.Prompt = %q, want %q", envelope.Request.Prompt, "hello")
	}

	var status statusDocument
	if err := readJSON(statusPath(r.cfg.WorkDir, "job-1"), &status); err != nil {
		t.Fatalf("status file not written: %v", err)
	}
	if status.Status != flowtypes.StatusProcessing {
		t.Fatalf("Status = %v, want Processing", status.Status)
	}
}

func TestRunner_PollsUntilTerminalAndInvokesOnComplete(t *testing.T) {
	var mu sync.Mutex
	var completed *flowtypes.HandoffResponse

	r := newTestRunner(t, 10*time.Millisecond, time.Minute, func(id string, resp flowtypes.HandoffResponse) {
		mu.Lock()
		defer mu.Unlock()
		completed = &resp
	})

	req := flowtypes.HandoffRequest{ID: "job-2", Prompt: "hello"}
	if err := r.Launch(context.Background(), req, flowtypes.ProviderConfig{Name: "primary"}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	// Simulate the child writing its output and terminal status.
	resp := flowtypes.HandoffResponse{RequestID: "job-2", Status: flowtypes.StatusCompleted, Content: "done"}
	if err := writeJSONAtomic(outputPath(r.cfg.WorkDir, "job-2"), resp); err != nil {
		t.Fatalf("write output failed: %v", err)
	}
	completedAt := time.Now()
	if err := writeJSONAtomic(statusPath(r.cfg.WorkDir, "job-2"), statusDocument{Status: flowtypes.StatusCompleted, CompletedAt: &completedAt}); err != nil {
		t.Fatalf("write status failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := completed != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if completed == nil {
		t.Fatal("OnComplete was never invoked")
	}
	if completed.Content != "done" {
		t.Fatalf("Content = %q, want %q", completed.Content, "done")
	}

	if _, err := os.Stat(requestPath(r.cfg.WorkDir, "job-2")); !os.IsNotExist(err) {
		t.Fatal("request file should be cleaned up after completion")
	}
}

func TestRunner_CancelSignalsAndRemovesJobFiles(t *testing.T) {
	r := newTestRunner(t, 10*time.Millisecond, time.Minute, nil)

	req := flowtypes.HandoffRequest{ID: "job-3", Prompt: "hello"}
	if err := r.Launch(context.Background(), req, flowtypes.ProviderConfig{Name: "primary"}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	if err := r.Cancel(context.Background(), "job-3"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	if _, err := os.Stat(statusPath(r.cfg.WorkDir, "job-3")); !os.IsNotExist(err) {
		t.Fatal("status file should be cleaned up after cancel")
	}
}

func TestRunner_CancelUnknownJobFails(t *testing.T) {
	r := newTestRunner(t, 10*time.Millisecond, time.Minute, nil)
	if err := r.Cancel(context.Background(), "never-launched"); err == nil {
		t.Fatal("expected error cancelling an unknown job")
	}
}

func TestRunner_TimeoutWithoutTerminalStatus(t *testing.T) {
	var mu sync.Mutex
	var completed *flowtypes.HandoffResponse

	r := newTestRunner(t, 5*time.Millisecond, 30*time.Millisecond, func(id string, resp flowtypes.HandoffResponse) {
		mu.Lock()
		defer mu.Unlock()
		completed = &resp
	})

	req := flowtypes.HandoffRequest{ID: "job-4", Prompt: "hello"}
	if err := r.Launch(context.Background(), req, flowtypes.ProviderConfig{Name: "primary"}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := completed != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if completed == nil {
		t.Fatal("OnComplete was never invoked after total timeout")
	}
	if completed.Status != flowtypes.StatusTimeout {
		t.Fatalf("Status = %v, want Timeout", completed.Status)
	}
}
