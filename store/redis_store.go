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
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/claude-flow/v3/flowtypes"
)

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Client    *redis.Client
	Namespace string // key prefix, e.g. the flowd instance name
}

// RedisStore is a Store backend for deployments that already run Redis
// for other state. Its key layout mirrors the teacher's
// session/redis.RedisSessionService: one hash per logical collection,
// fields keyed by ID, generalized from session/user/app state to the
// queue/metrics/worker-state tables this store owns.
type RedisStore struct {
	client *redis.Client
	ns     string
}

// NewRedisStore builds a RedisStore from cfg.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis store: client is required")
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "flowd"
	}
	return &RedisStore{client: cfg.Client, ns: ns}, nil
}

func (r *RedisStore) queueKey() string        { return fmt.Sprintf("%s:queue", r.ns) }
func (r *RedisStore) metricsKey() string      { return fmt.Sprintf("%s:metrics:current", r.ns) }
func (r *RedisStore) snapshotsKey() string    { return fmt.Sprintf("%s:metrics:snapshots", r.ns) }
func (r *RedisStore) workerStatesKey() string { return fmt.Sprintf("%s:workers", r.ns) }

func (r *RedisStore) UpsertQueueItem(ctx context.Context, item flowtypes.HandoffQueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := r.client.HSet(ctx, r.queueKey(), item.Request.ID, data).Err(); err != nil {
		return fmt.Errorf("hset queue item: %w", err)
	}
	return nil
}

func (r *RedisStore) ListByStatus(ctx context.Context, status flowtypes.HandoffStatus) ([]flowtypes.HandoffQueueItem, error) {
	raw, err := r.client.HGetAll(ctx, r.queueKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall queue: %w", err)
	}
	var out []flowtypes.HandoffQueueItem
	for _, v := range raw {
		var item flowtypes.HandoffQueueItem
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			continue
		}
		if item.Status == status {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *RedisStore) DeleteQueueItem(ctx context.Context, id string) error {
	if err := r.client.HDel(ctx, r.queueKey(), id).Err(); err != nil {
		return fmt.Errorf("hdel queue item: %w", err)
	}
	return nil
}

func (r *RedisStore) UpsertMetrics(ctx context.Context, m flowtypes.HandoffMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	if err := r.client.Set(ctx, r.metricsKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("set metrics: %w", err)
	}
	return nil
}

func (r *RedisStore) CurrentMetrics(ctx context.Context) (flowtypes.HandoffMetrics, error) {
	data, err := r.client.Get(ctx, r.metricsKey()).Bytes()
	if err == redis.Nil {
		return flowtypes.HandoffMetrics{}, nil
	}
	if err != nil {
		return flowtypes.HandoffMetrics{}, fmt.Errorf("get metrics: %w", err)
	}
	var m flowtypes.HandoffMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return flowtypes.HandoffMetrics{}, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return m, nil
}

func (r *RedisStore) AppendSnapshot(ctx context.Context, snap flowtypes.MetricsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.RPush(ctx, r.snapshotsKey(), data).Err(); err != nil {
		return fmt.Errorf("rpush snapshot: %w", err)
	}
	return nil
}

func (r *RedisStore) LastNSnapshots(ctx context.Context, n int) ([]flowtypes.MetricsSnapshot, error) {
	var raw []string
	var err error
	if n <= 0 {
		raw, err = r.client.LRange(ctx, r.snapshotsKey(), 0, -1).Result()
	} else {
		raw, err = r.client.LRange(ctx, r.snapshotsKey(), int64(-n), -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("lrange snapshots: %w", err)
	}
	out := make([]flowtypes.MetricsSnapshot, 0, len(raw))
	for _, v := range raw {
		var snap flowtypes.MetricsSnapshot
		if err := json.Unmarshal([]byte(v), &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (r *RedisStore) UpsertWorkerState(ctx context.Context, workerType string, state flowtypes.WorkerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal worker state: %w", err)
	}
	if err := r.client.HSet(ctx, r.workerStatesKey(), workerType, data).Err(); err != nil {
		return fmt.Errorf("hset worker state: %w", err)
	}
	return nil
}

func (r *RedisStore) WorkerState(ctx context.Context, workerType string) (flowtypes.WorkerState, error) {
	data, err := r.client.HGet(ctx, r.workerStatesKey(), workerType).Bytes()
	if err == redis.Nil {
		return flowtypes.WorkerState{}, nil
	}
	if err != nil {
		return flowtypes.WorkerState{}, fmt.Errorf("hget worker state: %w", err)
	}
	var s flowtypes.WorkerState
	if err := json.Unmarshal(data, &s); err != nil {
		return flowtypes.WorkerState{}, fmt.Errorf("unmarshal worker state: %w", err)
	}
	return s, nil
}

func (r *RedisStore) CleanupCompleted(ctx context.Context, maxItems int) (int, error) {
	raw, err := r.client.HGetAll(ctx, r.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("hgetall queue: %w", err)
	}
	if len(raw) <= maxItems {
		return 0, nil
	}

	type candidate struct {
		id          string
		completedAt time.Time
	}
	var candidates []candidate
	for id, v := range raw {
		var item flowtypes.HandoffQueueItem
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			continue
		}
		if item.Status == flowtypes.StatusCompleted || item.Status == flowtypes.StatusFailed {
			completedAt := time.Time{}
			if item.CompletedAt != nil {
				completedAt = *item.CompletedAt
			}
			candidates = append(candidates, candidate{id: id, completedAt: completedAt})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].completedAt.Before(candidates[j].completedAt) })

	over := len(raw) - maxItems
	var removed int
	for _, c := range candidates {
		if removed >= over {
			break
		}
		if err := r.client.HDel(ctx, r.queueKey(), c.id).Err(); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Flush is a no-op: every write above is already applied directly to
// Redis, which is itself the durable store.
func (r *RedisStore) Flush(context.Context) error { return nil }

// Close closes the underlying Redis client.
func (r *RedisStore) Close(context.Context) error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
