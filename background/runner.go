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
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/claude-flow/v3/errkind"
	"github.com/claude-flow/v3/flowtypes"
	"github.com/claude-flow/v3/handoff"
)

// Event is one of the lifecycle notifications the runner emits per job.
type Event string

const (
	EventStarted   Event = "started"
	EventComplete  Event = "complete"
	EventCancelled Event = "cancelled"
	EventShutdown  Event = "shutdown"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	WorkDir        string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	TotalTimeout   time.Duration

	// Executable and ChildArgs spawn the detached worker process; the job
	// id is appended as the final argument. Defaults to re-executing the
	// current binary with "handoff-worker" (cmd/flowd's subcommand).
	Executable string
	ChildArgs  []string

	// OnComplete is invoked once a job reaches a terminal status, so the
	// caller (typically handoff.Manager.OnBackgroundComplete) can update
	// its own queue/metrics state.
	OnComplete func(id string, resp flowtypes.HandoffResponse)
	// OnEvent, if set, receives every lifecycle event.
	OnEvent func(event Event, id string)
}

func (c *RunnerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = 5 * time.Minute
	}
	if c.Executable == "" {
		c.Executable = os.Args[0]
	}
	if len(c.ChildArgs) == 0 {
		c.ChildArgs = []string{"handoff-worker", "--workdir", c.WorkDir}
	}
}

type trackedJob struct {
	process   *os.Process
	startedAt time.Time
	cancel    context.CancelFunc
}

// Runner launches each handoff job as a detached child process and polls
// its status file for completion (spec.md §4.9). It implements
// handoff.BackgroundLauncher.
type Runner struct {
	cfg RunnerConfig

	mu   sync.Mutex
	jobs map[string]*trackedJob
}

// NewRunner creates the work directory if needed and returns a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.WorkDir == "" {
		return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("background: WorkDir is required"))
	}
	cfg.applyDefaults()
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, errkind.Wrap(errkind.Storage, fmt.Errorf("background: create work dir: %w", err))
	}
	return &Runner{cfg: cfg, jobs: make(map[string]*trackedJob)}, nil
}

// Launch writes the request/status files, spawns the detached child
// process, and starts a goroutine polling the status file to
// completion.
func (r *Runner) Launch(ctx context.Context, req flowtypes.HandoffRequest, cfg flowtypes.ProviderConfig) error {
	id := req.ID
	envelope := requestEnvelope{Request: req, ProviderConfig: cfg, TimeoutMs: r.cfg.RequestTimeout.Milliseconds()}
	if err := writeJSONAtomic(requestPath(r.cfg.WorkDir, id), envelope); err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("background: write request file: %w", err))
	}

	startedAt := time.Now()
	status := statusDocument{Status: flowtypes.StatusProcessing, StartedAt: startedAt}
	if err := writeJSONAtomic(statusPath(r.cfg.WorkDir, id), status); err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("background: write status file: %w", err))
	}

	args := append(append([]string{}, r.cfg.ChildArgs...), id)
	cmd := exec.Command(r.cfg.Executable, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		cleanupJobFiles(r.cfg.WorkDir, id)
		return errkind.Wrap(errkind.Transient, fmt.Errorf("background: spawn child process: %w", err))
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.jobs[id] = &trackedJob{process: cmd.Process, startedAt: startedAt, cancel: cancel}
	r.mu.Unlock()

	r.emit(EventStarted, id)

	go func() {
		// Reap the child once it exits so it never becomes a zombie;
		// the parent doesn't wait on this to learn the job's outcome,
		// that comes from polling the status file below.
		_ = cmd.Wait()
	}()
	go r.pollUntilTerminal(pollCtx, id)

	return nil
}

func (r *Runner) pollUntilTerminal(ctx context.Context, id string) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.mu.Lock()
	job := r.jobs[id]
	r.mu.Unlock()
	if job == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var status statusDocument
			if err := readJSON(statusPath(r.cfg.WorkDir, id), &status); err != nil {
				continue
			}
			if status.Status.IsTerminal() {
				r.finish(id, status.Status)
				return
			}
			if time.Since(job.startedAt) > r.cfg.TotalTimeout {
				r.finishTimeout(id)
				return
			}
		}
	}
}

func (r *Runner) finish(id string, status flowtypes.HandoffStatus) {
	var resp flowtypes.HandoffResponse
	_ = readJSON(outputPath(r.cfg.WorkDir, id), &resp)
	resp.RequestID = id
	resp.Status = status

	cleanupJobFiles(r.cfg.WorkDir, id)

	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()

	if r.cfg.OnComplete != nil {
		r.cfg.OnComplete(id, resp)
	}

	if status == flowtypes.StatusCancelled {
		r.emit(EventCancelled, id)
	} else {
		r.emit(EventComplete, id)
	}
}

// finishTimeout marks a job timed out without forcibly killing the
// child: spec.md's hard-timeout rule is the parent gives up waiting, not
// that it reaches into the child's process state.
func (r *Runner) finishTimeout(id string) {
	resp := flowtypes.HandoffResponse{RequestID: id, Status: flowtypes.StatusTimeout, Error: "background job exceeded total timeout"}

	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()

	if r.cfg.OnComplete != nil {
		r.cfg.OnComplete(id, resp)
	}
	r.emit(EventComplete, id)
}

// Cancel sends a termination signal to the job's child process, writes a
// cancelled status document, stops polling, and removes the job's files.
// OnComplete is not invoked; the caller (handoff.Manager.Cancel) updates
// its own queue state independently.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	job, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return errkind.Wrap(errkind.Invariant, fmt.Errorf("background: no tracked job %q", id))
	}

	if err := job.process.Signal(syscall.SIGTERM); err != nil {
		return errkind.Wrap(errkind.Transient, fmt.Errorf("background: signal job %q: %w", id, err))
	}

	status := statusDocument{Status: flowtypes.StatusCancelled, StartedAt: job.startedAt}
	completedAt := time.Now()
	status.CompletedAt = &completedAt
	_ = writeJSONAtomic(statusPath(r.cfg.WorkDir, id), status)

	job.cancel()
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()

	cleanupJobFiles(r.cfg.WorkDir, id)
	r.emit(EventCancelled, id)
	return nil
}

// Shutdown stops polling every in-flight job without killing their child
// processes, which are free to keep writing their status/output files.
// A new Runner does not scan WorkDir, so jobs left behind this way are
// not picked back up by it.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, job := range r.jobs {
		job.cancel()
	}
	r.jobs = make(map[string]*trackedJob)
	r.mu.Unlock()
	r.emit(EventShutdown, "")
	return nil
}

func (r *Runner) emit(event Event, id string) {
	if r.cfg.OnEvent != nil {
		r.cfg.OnEvent(event, id)
	}
}

var _ handoff.BackgroundLauncher = (*Runner)(nil)
