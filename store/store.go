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

// Package store implements C6, the persistent store for the handoff
// queue, handoff metrics and worker run state. Three backends share the
// Store interface: a default file-backed store (grounded on the teacher's
// artifact.FilesystemService), a Redis-backed store (grounded on the
// teacher's session/redis.RedisSessionService key-schema pattern), and a
// Postgres-backed store (using the teacher's otherwise-unused lib/pq
// dependency).
package store

import (
	"context"
	"time"

	"github.com/claude-flow/v3/flowtypes"
)

// Store is the durable backing every handoff manager and worker daemon
// can be configured with.
type Store interface {
	// UpsertQueueItem inserts or updates a HandoffQueueItem keyed by its
	// Request.ID.
	UpsertQueueItem(ctx context.Context, item flowtypes.HandoffQueueItem) error
	// ListByStatus returns every queue item in the given status, sorted
	// by Position ascending.
	ListByStatus(ctx context.Context, status flowtypes.HandoffStatus) ([]flowtypes.HandoffQueueItem, error)
	// DeleteQueueItem removes a queue item by request ID.
	DeleteQueueItem(ctx context.Context, id string) error

	// UpsertMetrics replaces the current metrics snapshot.
	UpsertMetrics(ctx context.Context, m flowtypes.HandoffMetrics) error
	// CurrentMetrics returns the last upserted metrics, or the zero value
	// if none have been written yet.
	CurrentMetrics(ctx context.Context) (flowtypes.HandoffMetrics, error)
	// AppendSnapshot records a point-in-time metrics snapshot to history.
	AppendSnapshot(ctx context.Context, snap flowtypes.MetricsSnapshot) error
	// LastNSnapshots returns up to n most recent snapshots, newest last.
	LastNSnapshots(ctx context.Context, n int) ([]flowtypes.MetricsSnapshot, error)

	// UpsertWorkerState replaces the persisted run-history for a worker type.
	UpsertWorkerState(ctx context.Context, workerType string, state flowtypes.WorkerState) error
	// WorkerState returns the persisted state for a worker type, or the
	// zero value if none has been recorded.
	WorkerState(ctx context.Context, workerType string) (flowtypes.WorkerState, error)

	// CleanupCompleted removes oldest completed|failed queue items once
	// the queue exceeds maxItems, ordered by CompletedAt ascending.
	CleanupCompleted(ctx context.Context, maxItems int) (removed int, err error)

	// Flush forces any buffered writes to durable storage immediately.
	Flush(ctx context.Context) error
	// Close flushes and releases any held resources (timers, connections).
	Close(ctx context.Context) error
}

// defaultAutoSaveInterval is the default write-through flush cadence (spec.md
// §4.6's write policy).
const defaultAutoSaveInterval = 5 * time.Second
