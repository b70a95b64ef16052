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

package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/claude-flow/v3/errkind"
	"github.com/claude-flow/v3/flowtypes"
)

// BackgroundLauncher starts a handoff request in an isolated process
// (C9). Defined here rather than imported from the background package so
// handoff has no compile-time dependency on it; background.Runner
// implements this interface.
type BackgroundLauncher interface {
	Launch(ctx context.Context, req flowtypes.HandoffRequest, cfg flowtypes.ProviderConfig) error
	Cancel(ctx context.Context, id string) error
}

// Initialize loads the last-persisted metrics and scans the persisted
// pending/processing queue items so that new items get later positions.
// Those items stay in the store as they are: processing items are not
// relaunched and do not count toward MaxConcurrent.
func (m *Manager) Initialize(ctx context.Context) error {
	metrics, err := m.cfg.Store.CurrentMetrics(ctx)
	if err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: load metrics: %w", err))
	}
	if metrics.ByProvider == nil {
		metrics.ByProvider = make(map[string]int64)
	}
	m.mu.Lock()
	m.metrics = metrics
	m.mu.Unlock()

	for _, status := range []flowtypes.HandoffStatus{flowtypes.StatusPending, flowtypes.StatusProcessing} {
		items, err := m.cfg.Store.ListByStatus(ctx, status)
		if err != nil {
			return errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: load queue status %q: %w", status, err))
		}
		for _, item := range items {
			if item.Position > m.nextPos {
				m.mu.Lock()
				m.nextPos = item.Position
				m.mu.Unlock()
			}
		}
	}
	return nil
}

// SendBackground enqueues req for out-of-process execution (spec.md
// §4.8/§4.9) and returns its ID immediately. If capacity allows, it
// launches the job right away via cfg.Launcher; otherwise the item stays
// pending until OnBackgroundComplete frees a slot and promotes the oldest
// pending item.
func (m *Manager) SendBackground(ctx context.Context, req flowtypes.HandoffRequest) (string, error) {
	if m.cfg.Launcher == nil {
		return "", errkind.Wrap(errkind.Configuration, fmt.Errorf("handoff: background dispatch requires a Launcher"))
	}
	if req.ID == "" {
		req = m.CreateRequest(req)
	}

	item := flowtypes.HandoffQueueItem{
		Request:  req,
		Status:   flowtypes.StatusPending,
		Position: m.nextPosition(),
		AddedAt:  m.cfg.Clock(),
	}
	if err := m.cfg.Store.UpsertQueueItem(ctx, item); err != nil {
		return "", errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: persist queue item: %w", err))
	}

	m.mu.Lock()
	canStart := m.backgroundActive < m.cfg.MaxConcurrent
	if canStart {
		m.backgroundActive++
	}
	m.mu.Unlock()

	if !canStart {
		return req.ID, nil
	}

	if err := m.startBackground(ctx, item); err != nil {
		m.mu.Lock()
		m.backgroundActive--
		m.mu.Unlock()
		return "", err
	}
	return req.ID, nil
}

func (m *Manager) startBackground(ctx context.Context, item flowtypes.HandoffQueueItem) error {
	cfg, err := m.selectProvider(ctx, item.Request)
	if err != nil {
		item.Status = flowtypes.StatusFailed
		completed := m.cfg.Clock()
		item.CompletedAt = &completed
		_ = m.cfg.Store.UpsertQueueItem(ctx, item)
		return err
	}

	item.Status = flowtypes.StatusProcessing
	started := m.cfg.Clock()
	item.StartedAt = &started
	if err := m.cfg.Store.UpsertQueueItem(ctx, item); err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: persist processing status: %w", err))
	}

	return m.cfg.Launcher.Launch(ctx, item.Request, cfg)
}

// promotePending starts the oldest pending item, if any, now that a slot
// has freed. Called from OnBackgroundComplete.
func (m *Manager) promotePending(ctx context.Context) {
	items, err := m.cfg.Store.ListByStatus(ctx, flowtypes.StatusPending)
	if err != nil || len(items) == 0 {
		return
	}
	next := items[0]
	for _, it := range items[1:] {
		if it.Position < next.Position {
			next = it
		}
	}

	m.mu.Lock()
	m.backgroundActive++
	m.mu.Unlock()

	if err := m.startBackground(ctx, next); err != nil {
		m.mu.Lock()
		m.backgroundActive--
		m.mu.Unlock()
	}
}

// OnBackgroundComplete is invoked by the background runner (or a poller
// observing its status file) once a background job reaches a terminal
// status. It persists the response, updates metrics, frees a concurrency
// slot and promotes the next pending item.
func (m *Manager) OnBackgroundComplete(ctx context.Context, id string, resp flowtypes.HandoffResponse) error {
	items, err := m.cfg.Store.ListByStatus(ctx, flowtypes.StatusProcessing)
	if err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: list processing items: %w", err))
	}

	var item *flowtypes.HandoffQueueItem
	for i := range items {
		if items[i].Request.ID == id {
			item = &items[i]
			break
		}
	}
	if item == nil {
		return errkind.Wrap(errkind.Invariant, fmt.Errorf("handoff: no processing queue item for id %q", id))
	}

	item.Status = resp.Status
	completed := m.cfg.Clock()
	item.CompletedAt = &completed
	item.Response = &resp
	if err := m.cfg.Store.UpsertQueueItem(ctx, *item); err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: persist completed item: %w", err))
	}

	m.mu.Lock()
	switch resp.Status {
	case flowtypes.StatusCompleted:
		m.metrics.Successful++
		m.metrics.Tokens += int64(resp.Tokens.Total)
		if m.metrics.ByProvider == nil {
			m.metrics.ByProvider = make(map[string]int64)
		}
		m.metrics.ByProvider[resp.Provider]++
	case flowtypes.StatusCancelled:
		m.metrics.Cancelled++
	default:
		m.metrics.Failed++
	}
	if m.backgroundActive > 0 {
		m.backgroundActive--
	}
	m.mu.Unlock()

	if item.Request.Options.OnComplete != nil {
		item.Request.Options.OnComplete(&resp)
	}

	m.promotePending(ctx)
	return nil
}

// GetStatus returns the current status of a background job by ID.
func (m *Manager) GetStatus(ctx context.Context, id string) (flowtypes.HandoffStatus, error) {
	for _, status := range []flowtypes.HandoffStatus{
		flowtypes.StatusPending, flowtypes.StatusProcessing, flowtypes.StatusCompleted,
		flowtypes.StatusFailed, flowtypes.StatusCancelled, flowtypes.StatusTimeout,
	} {
		items, err := m.cfg.Store.ListByStatus(ctx, status)
		if err != nil {
			return "", errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: list status %q: %w", status, err))
		}
		for _, item := range items {
			if item.Request.ID == id {
				return item.Status, nil
			}
		}
	}
	return "", errkind.Wrap(errkind.Invariant, fmt.Errorf("handoff: no queue item with id %q", id))
}

// GetResponse polls the queue for id's response at PollInterval cadence
// until it reaches a terminal status or timeoutMs elapses, in which case
// the item is marked StatusTimeout and nil is returned.
func (m *Manager) GetResponse(ctx context.Context, id string, timeoutMs int64) (*flowtypes.HandoffResponse, error) {
	deadline := m.cfg.Clock().Add(time.Duration(timeoutMs) * time.Millisecond)

	for {
		for _, status := range []flowtypes.HandoffStatus{
			flowtypes.StatusCompleted, flowtypes.StatusFailed, flowtypes.StatusCancelled, flowtypes.StatusTimeout,
		} {
			items, err := m.cfg.Store.ListByStatus(ctx, status)
			if err != nil {
				return nil, errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: list status %q: %w", status, err))
			}
			for _, item := range items {
				if item.Request.ID == id {
					return item.Response, nil
				}
			}
		}

		if m.cfg.Clock().After(deadline) {
			_ = m.markTimeout(ctx, id)
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			m.cfg.Sleep(m.cfg.PollInterval)
		}
	}
}

func (m *Manager) markTimeout(ctx context.Context, id string) error {
	for _, status := range []flowtypes.HandoffStatus{flowtypes.StatusPending, flowtypes.StatusProcessing} {
		items, err := m.cfg.Store.ListByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Request.ID == id {
				item.Status = flowtypes.StatusTimeout
				completed := m.cfg.Clock()
				item.CompletedAt = &completed
				return m.cfg.Store.UpsertQueueItem(ctx, item)
			}
		}
	}
	return nil
}

// Cancel cancels a pending or processing job. A pending job is simply
// marked cancelled without ever having spawned; a processing job is
// cancelled via the Launcher (which sends the equivalent of SIGTERM).
func (m *Manager) Cancel(ctx context.Context, id string) error {
	pending, err := m.cfg.Store.ListByStatus(ctx, flowtypes.StatusPending)
	if err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: list pending: %w", err))
	}
	for _, item := range pending {
		if item.Request.ID == id {
			item.Status = flowtypes.StatusCancelled
			completed := m.cfg.Clock()
			item.CompletedAt = &completed
			m.mu.Lock()
			m.metrics.Cancelled++
			m.mu.Unlock()
			return m.cfg.Store.UpsertQueueItem(ctx, item)
		}
	}

	processing, err := m.cfg.Store.ListByStatus(ctx, flowtypes.StatusProcessing)
	if err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: list processing: %w", err))
	}
	for _, item := range processing {
		if item.Request.ID == id {
			if m.cfg.Launcher != nil {
				if err := m.cfg.Launcher.Cancel(ctx, id); err != nil {
					return errkind.Wrap(errkind.Cancellation, fmt.Errorf("handoff: cancel processing job %q: %w", id, err))
				}
			}
			item.Status = flowtypes.StatusCancelled
			completed := m.cfg.Clock()
			item.CompletedAt = &completed
			m.mu.Lock()
			m.metrics.Cancelled++
			if m.backgroundActive > 0 {
				m.backgroundActive--
			}
			m.mu.Unlock()
			return m.cfg.Store.UpsertQueueItem(ctx, item)
		}
	}

	return errkind.Wrap(errkind.Invariant, fmt.Errorf("handoff: no pending/processing item with id %q", id))
}

// ClearCompleted removes terminal queue items down to MaxQueueItems,
// oldest-completed-first (spec.md §4.6's cleanup rule).
func (m *Manager) ClearCompleted(ctx context.Context) (int, error) {
	removed, err := m.cfg.Store.CleanupCompleted(ctx, m.cfg.MaxQueueItems)
	if err != nil {
		return 0, errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: cleanup completed: %w", err))
	}
	return removed, nil
}

// Shutdown persists the running metrics as the store's current metrics,
// then flushes the store and releases its resources.
func (m *Manager) Shutdown(ctx context.Context) error {
	metricsErr := m.cfg.Store.UpsertMetrics(ctx, m.GetMetrics())
	if err := m.cfg.Store.Close(ctx); err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: shutdown: %w", err))
	}
	if metricsErr != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("handoff: persist metrics: %w", metricsErr))
	}
	return nil
}
