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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/claude-flow/v3/errkind"
	"github.com/claude-flow/v3/flowtypes"
	"github.com/claude-flow/v3/store"
)

// DaemonConfig configures a Daemon. Store, Oracle and Workers are
// required; everything else has a sane default applied by
// applyDefaults.
type DaemonConfig struct {
	Store   store.Store
	Oracle  ResourceOracle
	Runtime HeadlessRuntime

	// Workers maps a worker type name to its Definition (schedule plus
	// callable).
	Workers map[string]Definition

	MaxConcurrent        int
	MaxCPULoad           float64
	MinFreeMemoryPercent float64

	// WorkerTimeout bounds a single worker run; zero disables the bound.
	WorkerTimeout time.Duration
	// ShutdownTimeout bounds how long Stop waits for in-flight workers.
	ShutdownTimeout time.Duration

	OnEvent func(event Event, workerType string)

	Clock func() time.Time
}

func (c *DaemonConfig) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.MaxCPULoad <= 0 {
		c.MaxCPULoad = 4.0
	}
	if c.MinFreeMemoryPercent <= 0 {
		c.MinFreeMemoryPercent = 10.0
	}
	if c.WorkerTimeout <= 0 {
		c.WorkerTimeout = 10 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Runtime == nil {
		c.Runtime = noRuntime{}
	}
	if c.OnEvent == nil {
		c.OnEvent = func(Event, string) {}
	}
}

// Daemon is the cooperative scheduler for C10's worker types.
type Daemon struct {
	cfg DaemonConfig

	mu        sync.Mutex
	running   map[string]bool
	pending   []string // FIFO of deferred worker types awaiting capacity
	timers    map[string]*time.Timer
	states    map[string]flowtypes.WorkerState
	shuttingDown bool
	wg        sync.WaitGroup
}

// NewDaemon validates cfg and returns a ready-to-Start Daemon.
func NewDaemon(cfg DaemonConfig) (*Daemon, error) {
	if cfg.Store == nil {
		return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("worker: Store is required"))
	}
	if cfg.Oracle == nil {
		return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("worker: ResourceOracle is required"))
	}
	if len(cfg.Workers) == 0 {
		return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("worker: at least one worker definition is required"))
	}
	cfg.applyDefaults()

	return &Daemon{
		cfg:     cfg,
		running: make(map[string]bool),
		timers:  make(map[string]*time.Timer),
		states:  make(map[string]flowtypes.WorkerState),
	}, nil
}

// IsHeadlessAvailable reports whether a real HeadlessRuntime was
// configured, as opposed to the no-op fallback sentinel.
func (d *Daemon) IsHeadlessAvailable() bool {
	_, isNoop := d.cfg.Runtime.(noRuntime)
	return !isNoop
}

// Start restores persisted WorkerState, rebuilds the schedule per
// spec.md §4.10 step 1, and begins firing timers for enabled workers.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shuttingDown = false

	for workerType, def := range d.cfg.Workers {
		state, err := d.cfg.Store.WorkerState(ctx, workerType)
		if err != nil {
			return fmt.Errorf("restore worker state for %s: %w", workerType, err)
		}
		d.states[workerType] = state

		if !def.Config.Enabled {
			continue
		}
		d.scheduleLocked(ctx, workerType, def.Config)
	}
	return nil
}

// scheduleLocked computes the next-fire delay and arms a timer. Callers
// must hold d.mu.
func (d *Daemon) scheduleLocked(ctx context.Context, workerType string, cfg flowtypes.WorkerConfig) {
	if d.shuttingDown {
		return
	}
	state := d.states[workerType]

	intervalMs := cfg.IntervalMs
	offsetMs := cfg.OffsetMs
	delay := time.Duration(offsetMs) * time.Millisecond

	if state.LastRun != nil {
		sinceLast := d.cfg.Clock().Sub(*state.LastRun)
		remaining := time.Duration(intervalMs)*time.Millisecond - sinceLast
		if remaining > delay {
			delay = remaining
		}
	}
	if delay < 0 {
		delay = 0
	}

	next := d.cfg.Clock().Add(delay)
	state.NextRun = &next
	d.states[workerType] = state
	_ = d.cfg.Store.UpsertWorkerState(ctx, workerType, state)

	if existing, ok := d.timers[workerType]; ok {
		existing.Stop()
	}
	d.timers[workerType] = time.AfterFunc(delay, func() {
		d.fire(context.Background(), workerType)
	})
}

// fire is invoked when a worker's timer elapses, implementing spec.md
// §4.10 step 2.
func (d *Daemon) fire(ctx context.Context, workerType string) {
	d.mu.Lock()
	if d.shuttingDown {
		d.mu.Unlock()
		return
	}
	def, ok := d.cfg.Workers[workerType]
	if !ok || !def.Config.Enabled {
		d.mu.Unlock()
		return
	}

	if !d.admitLocked(workerType) {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.run(ctx, workerType, def)
}

// admitLocked applies the concurrency cap and resource-oracle gate,
// deferring into the FIFO pending list on refusal. Callers must hold
// d.mu; returns true if the caller may proceed to run the worker
// immediately (and has already marked it running).
func (d *Daemon) admitLocked(workerType string) bool {
	if len(d.running) >= d.cfg.MaxConcurrent {
		d.deferLocked(workerType)
		return false
	}

	if load, err := d.cfg.Oracle.CPULoad(); err == nil && load > d.cfg.MaxCPULoad {
		d.deferLocked(workerType)
		return false
	}
	if free, err := d.cfg.Oracle.FreeMemoryPercent(); err == nil && free < d.cfg.MinFreeMemoryPercent {
		d.deferLocked(workerType)
		return false
	}

	d.running[workerType] = true
	return true
}

func (d *Daemon) deferLocked(workerType string) {
	for _, t := range d.pending {
		if t == workerType {
			return
		}
	}
	d.pending = append(d.pending, workerType)
	d.cfg.OnEvent(EventDeferred, workerType)
}

// run executes one worker action under WorkerTimeout, updates state, and
// drains the pending list once capacity frees up.
func (d *Daemon) run(ctx context.Context, workerType string, def Definition) {
	d.wg.Add(1)
	defer d.wg.Done()

	d.cfg.OnEvent(EventStarted, workerType)
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.WorkerTimeout)
	defer cancel()

	start := d.cfg.Clock()
	_, runErr := def.Run(runCtx, d.cfg.Runtime, ".")
	duration := d.cfg.Clock().Sub(start)

	d.mu.Lock()
	state := d.states[workerType]
	state.RunCount++
	if runErr != nil {
		state.FailureCount++
	} else {
		state.SuccessCount++
	}
	if state.RunCount == 1 {
		state.AverageDurationMs = float64(duration.Milliseconds())
	} else {
		n := float64(state.RunCount)
		state.AverageDurationMs = state.AverageDurationMs + (float64(duration.Milliseconds())-state.AverageDurationMs)/n
	}
	now := d.cfg.Clock()
	state.LastRun = &now
	state.IsRunning = false
	d.states[workerType] = state
	delete(d.running, workerType)
	_ = d.cfg.Store.UpsertWorkerState(context.Background(), workerType, state)

	if runErr != nil {
		d.cfg.OnEvent(EventFailed, workerType)
	} else {
		d.cfg.OnEvent(EventCompleted, workerType)
	}

	d.drainPendingLocked(ctx)

	if !d.shuttingDown {
		if wdef, ok := d.cfg.Workers[workerType]; ok && wdef.Config.Enabled {
			d.scheduleLocked(ctx, workerType, wdef.Config)
		}
	}
	d.mu.Unlock()
}

// drainPendingLocked admits as many FIFO-ordered pending workers as
// current capacity allows. Callers must hold d.mu.
func (d *Daemon) drainPendingLocked(ctx context.Context) {
	for len(d.pending) > 0 && len(d.running) < d.cfg.MaxConcurrent {
		workerType := d.pending[0]
		d.pending = d.pending[1:]
		def, ok := d.cfg.Workers[workerType]
		if !ok {
			continue
		}
		if !d.admitLocked(workerType) {
			// admitLocked already re-deferred it (e.g. resource gate still
			// refuses); avoid spinning forever on a persistently blocked head.
			return
		}
		d.mu.Unlock()
		go d.run(ctx, workerType, def)
		d.mu.Lock()
	}
}

// TriggerWorker fires a worker type immediately, bypassing its schedule,
// still subject to the concurrency and resource admission gate.
func (d *Daemon) TriggerWorker(ctx context.Context, workerType string) error {
	d.mu.Lock()
	def, ok := d.cfg.Workers[workerType]
	if !ok {
		d.mu.Unlock()
		return errkind.Wrap(errkind.Configuration, fmt.Errorf("worker: unknown worker type %q", workerType))
	}
	if d.shuttingDown {
		d.mu.Unlock()
		return errkind.Wrap(errkind.Cancellation, fmt.Errorf("worker: daemon is shutting down"))
	}
	admitted := d.admitLocked(workerType)
	d.mu.Unlock()

	if admitted {
		d.run(ctx, workerType, def)
	}
	return nil
}

// SetWorkerEnabled toggles a worker type's enabled flag; disabling stops
// its timer, enabling reschedules it.
func (d *Daemon) SetWorkerEnabled(ctx context.Context, workerType string, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	def, ok := d.cfg.Workers[workerType]
	if !ok {
		return errkind.Wrap(errkind.Configuration, fmt.Errorf("worker: unknown worker type %q", workerType))
	}
	def.Config.Enabled = enabled
	d.cfg.Workers[workerType] = def

	if !enabled {
		if t, ok := d.timers[workerType]; ok {
			t.Stop()
			delete(d.timers, workerType)
		}
		return nil
	}
	d.scheduleLocked(ctx, workerType, def.Config)
	return nil
}

// GetStatus returns a snapshot of every worker type's persisted state,
// keyed by type.
func (d *Daemon) GetStatus() map[string]flowtypes.WorkerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]flowtypes.WorkerState, len(d.states))
	for k, v := range d.states {
		running := d.running[k]
		v.IsRunning = running
		out[k] = v
	}
	return out
}

// pendingSnapshot returns a copy of the current FIFO deferral list,
// ordered oldest-first; used by tests to assert draining order.
func (d *Daemon) pendingSnapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.pending))
	copy(out, d.pending)
	return out
}

// runningTypesSnapshot returns the sorted list of worker types currently
// running.
func (d *Daemon) runningTypesSnapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.running))
	for k := range d.running {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Stop cancels every pending timer, waits up to ShutdownTimeout for
// in-flight workers, then persists final state. No new work is started
// once called.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.shuttingDown = true
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[string]*time.Timer)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.cfg.ShutdownTimeout):
	case <-ctx.Done():
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for workerType, state := range d.states {
		if err := d.cfg.Store.UpsertWorkerState(ctx, workerType, state); err != nil {
			return fmt.Errorf("persist worker state for %s on shutdown: %w", workerType, err)
		}
	}
	d.cfg.OnEvent(EventShutdown, "")
	return nil
}
