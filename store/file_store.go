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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/claude-flow/v3/flowtypes"
)

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Dir is the directory the store's state file lives in. Created if
	// missing.
	Dir string
	// AutoSaveInterval is how often the write-through timer flushes
	// dirty state to disk. Zero uses defaultAutoSaveInterval.
	AutoSaveInterval time.Duration
}

type fileStoreDocument struct {
	Queue        map[string]flowtypes.HandoffQueueItem `json:"queue"`
	Metrics      flowtypes.HandoffMetrics              `json:"metrics"`
	Snapshots    []flowtypes.MetricsSnapshot           `json:"snapshots"`
	WorkerStates map[string]flowtypes.WorkerState      `json:"workerStates"`
}

// FileStore is the default Store backend: an in-memory document, written
// through to a single JSON file on an auto-save timer, with atomic
// write-temp-then-rename semantics so a poller or a restart never observes
// a half-written document. Grounded on the teacher's
// artifact/filesystem.FilesystemService — the same base-path-plus-
// mutex-guarded-os.MkdirAll shape, generalized from one-file-per-artifact-
// version to a single periodically-flushed state document, since this
// store's unit of durability is the whole queue/metrics table rather than
// an individually versioned blob.
type FileStore struct {
	path             string
	autoSaveInterval time.Duration

	mu    sync.Mutex
	doc   fileStoreDocument
	dirty bool

	stopTimer chan struct{}
	timerDone chan struct{}
}

// NewFileStore opens (or creates) the state file under cfg.Dir and starts
// its auto-save timer.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("file store: dir is required")
	}
	if cfg.AutoSaveInterval <= 0 {
		cfg.AutoSaveInterval = defaultAutoSaveInterval
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	fs := &FileStore{
		path:             filepath.Join(cfg.Dir, "flowstate.json"),
		autoSaveInterval: cfg.AutoSaveInterval,
		doc: fileStoreDocument{
			Queue:        make(map[string]flowtypes.HandoffQueueItem),
			WorkerStates: make(map[string]flowtypes.WorkerState),
		},
		stopTimer: make(chan struct{}),
		timerDone: make(chan struct{}),
	}

	if err := fs.load(); err != nil {
		return nil, err
	}

	go fs.runAutoSave()
	return fs, nil
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store file: %w", err)
	}
	var doc fileStoreDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal store file: %w", err)
	}
	if doc.Queue == nil {
		doc.Queue = make(map[string]flowtypes.HandoffQueueItem)
	}
	if doc.WorkerStates == nil {
		doc.WorkerStates = make(map[string]flowtypes.WorkerState)
	}
	fs.doc = doc
	return nil
}

func (fs *FileStore) runAutoSave() {
	defer close(fs.timerDone)
	ticker := time.NewTicker(fs.autoSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = fs.Flush(context.Background())
		case <-fs.stopTimer:
			return
		}
	}
}

func (fs *FileStore) UpsertQueueItem(_ context.Context, item flowtypes.HandoffQueueItem) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.doc.Queue[item.Request.ID] = item
	fs.dirty = true
	return nil
}

func (fs *FileStore) ListByStatus(_ context.Context, status flowtypes.HandoffStatus) ([]flowtypes.HandoffQueueItem, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []flowtypes.HandoffQueueItem
	for _, item := range fs.doc.Queue {
		if item.Status == status {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (fs *FileStore) DeleteQueueItem(_ context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.doc.Queue, id)
	fs.dirty = true
	return nil
}

func (fs *FileStore) UpsertMetrics(_ context.Context, m flowtypes.HandoffMetrics) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.doc.Metrics = m
	fs.dirty = true
	return nil
}

func (fs *FileStore) CurrentMetrics(context.Context) (flowtypes.HandoffMetrics, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.doc.Metrics, nil
}

func (fs *FileStore) AppendSnapshot(_ context.Context, snap flowtypes.MetricsSnapshot) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.doc.Snapshots = append(fs.doc.Snapshots, snap)
	fs.dirty = true
	return nil
}

func (fs *FileStore) LastNSnapshots(_ context.Context, n int) ([]flowtypes.MetricsSnapshot, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if n <= 0 || n >= len(fs.doc.Snapshots) {
		out := make([]flowtypes.MetricsSnapshot, len(fs.doc.Snapshots))
		copy(out, fs.doc.Snapshots)
		return out, nil
	}
	start := len(fs.doc.Snapshots) - n
	out := make([]flowtypes.MetricsSnapshot, n)
	copy(out, fs.doc.Snapshots[start:])
	return out, nil
}

func (fs *FileStore) UpsertWorkerState(_ context.Context, workerType string, state flowtypes.WorkerState) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.doc.WorkerStates[workerType] = state
	fs.dirty = true
	return nil
}

func (fs *FileStore) WorkerState(_ context.Context, workerType string) (flowtypes.WorkerState, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.doc.WorkerStates[workerType], nil
}

func (fs *FileStore) CleanupCompleted(_ context.Context, maxItems int) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if len(fs.doc.Queue) <= maxItems {
		return 0, nil
	}

	type candidate struct {
		id          string
		completedAt time.Time
	}
	var candidates []candidate
	for id, item := range fs.doc.Queue {
		if item.Status == flowtypes.StatusCompleted || item.Status == flowtypes.StatusFailed {
			completedAt := time.Time{}
			if item.CompletedAt != nil {
				completedAt = *item.CompletedAt
			}
			candidates = append(candidates, candidate{id: id, completedAt: completedAt})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].completedAt.Before(candidates[j].completedAt) })

	over := len(fs.doc.Queue) - maxItems
	var removed int
	for _, c := range candidates {
		if removed >= over {
			break
		}
		delete(fs.doc.Queue, c.id)
		removed++
	}
	if removed > 0 {
		fs.dirty = true
	}
	return removed, nil
}

// Flush writes the current document to disk if dirty, using a
// write-temp-then-rename so a crash mid-write never leaves a truncated
// file for a poller to read. A failed write leaves the store dirty so the
// next flush retries it.
func (fs *FileStore) Flush(context.Context) error {
	fs.mu.Lock()
	if !fs.dirty {
		fs.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(fs.doc, "", "  ")
	fs.dirty = err != nil
	fs.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal store document: %w", err)
	}
	markDirty := func() {
		fs.mu.Lock()
		fs.dirty = true
		fs.mu.Unlock()
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		markDirty()
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		markDirty()
		return fmt.Errorf("rename temp store file: %w", err)
	}
	return nil
}

// Close flushes and stops the auto-save timer.
func (fs *FileStore) Close(ctx context.Context) error {
	close(fs.stopTimer)
	<-fs.timerDone
	return fs.Flush(ctx)
}

var _ Store = (*FileStore)(nil)
