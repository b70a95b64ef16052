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

package store

import (
	"context"
	"testing"
	"time"

	"github.com/claude-flow/v3/flowtypes"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(FileStoreConfig{Dir: t.TempDir(), AutoSaveInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	t.Cleanup(func() { _ = fs.Close(context.Background()) })
	return fs
}

func TestFileStore_UpsertAndListByStatus(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	item := flowtypes.HandoffQueueItem{
		Request: flowtypes.HandoffRequest{ID: "req-1"},
		Status:  flowtypes.StatusPending,
		Position: 1,
	}
	if err := fs.UpsertQueueItem(ctx, item); err != nil {
		t.Fatalf("UpsertQueueItem failed: %v", err)
	}

	pending, err := fs.ListByStatus(ctx, flowtypes.StatusPending)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Request.ID != "req-1" {
		t.Fatalf("ListByStatus = %+v, want one item req-1", pending)
	}
}

func TestFileStore_ListByStatusSortedByPosition(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	ids := []string{"a", "b", "c"}
	positions := []int64{3, 1, 2}
	for i, id := range ids {
		_ = fs.UpsertQueueItem(ctx, flowtypes.HandoffQueueItem{
			Request:  flowtypes.HandoffRequest{ID: id},
			Status:   flowtypes.StatusPending,
			Position: positions[i],
		})
	}

	ordered, err := fs.ListByStatus(ctx, flowtypes.StatusPending)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(ordered) != 3 {
		t.Fatalf("expected 3 items, got %d", len(ordered))
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Position > ordered[i].Position {
			t.Fatalf("items not sorted by position: %+v", ordered)
		}
	}
}

func TestFileStore_FlushAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	fs, err := NewFileStore(FileStoreConfig{Dir: dir, AutoSaveInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	_ = fs.UpsertMetrics(ctx, flowtypes.HandoffMetrics{Successful: 7})
	if err := fs.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := fs.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewFileStore(FileStoreConfig{Dir: dir, AutoSaveInterval: time.Hour})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close(ctx)

	m, err := reopened.CurrentMetrics(ctx)
	if err != nil {
		t.Fatalf("CurrentMetrics failed: %v", err)
	}
	if m.Successful != 7 {
		t.Fatalf("CurrentMetrics.Successful = %d, want 7 (P-invariant: writes observable after restart)", m.Successful)
	}
}

func TestFileStore_CleanupCompletedRemovesOldestFirst(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	_ = fs.UpsertQueueItem(ctx, flowtypes.HandoffQueueItem{
		Request: flowtypes.HandoffRequest{ID: "old"}, Status: flowtypes.StatusCompleted, CompletedAt: &older,
	})
	_ = fs.UpsertQueueItem(ctx, flowtypes.HandoffQueueItem{
		Request: flowtypes.HandoffRequest{ID: "new"}, Status: flowtypes.StatusCompleted, CompletedAt: &newer,
	})

	removed, err := fs.CleanupCompleted(ctx, 1)
	if err != nil {
		t.Fatalf("CleanupCompleted failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	remaining, _ := fs.ListByStatus(ctx, flowtypes.StatusCompleted)
	if len(remaining) != 1 || remaining[0].Request.ID != "new" {
		t.Fatalf("expected only the newer item to remain, got %+v", remaining)
	}
}

func TestFileStore_WorkerStateRoundTrip(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	if err := fs.UpsertWorkerState(ctx, "codebase-mapping", flowtypes.WorkerState{RunCount: 3}); err != nil {
		t.Fatalf("UpsertWorkerState failed: %v", err)
	}
	state, err := fs.WorkerState(ctx, "codebase-mapping")
	if err != nil {
		t.Fatalf("WorkerState failed: %v", err)
	}
	if state.RunCount != 3 {
		t.Fatalf("RunCount = %d, want 3", state.RunCount)
	}
}

func TestFileStore_LastNSnapshots(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = fs.AppendSnapshot(ctx, flowtypes.MetricsSnapshot{TakenAt: time.Now()})
	}
	last, err := fs.LastNSnapshots(ctx, 2)
	if err != nil {
		t.Fatalf("LastNSnapshots failed: %v", err)
	}
	if len(last) != 2 {
		t.Fatalf("len(last) = %d, want 2", len(last))
	}
}
