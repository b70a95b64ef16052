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
	"sync"
	"testing"
	"time"

	"github.com/claude-flow/v3/breaker"
	"github.com/claude-flow/v3/flowtypes"
)

// fakeLauncher is a BackgroundLauncher test double that records launches
// and lets the test drive completion explicitly via OnBackgroundComplete,
// standing in for a real background.Runner's file-rendezvous protocol.
type fakeLauncher struct {
	mu       sync.Mutex
	launched []string
	cancelled []string
}

func (l *fakeLauncher) Launch(ctx context.Context, req flowtypes.HandoffRequest, cfg flowtypes.ProviderConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched = append(l.launched, req.ID)
	return nil
}

func (l *fakeLauncher) Cancel(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelled = append(l.cancelled, id)
	return nil
}

func testManagerWithLauncher(t *testing.T, maxConcurrent int) (*Manager, *memStore, *fakeLauncher) {
	t.Helper()
	st := newMemStore()
	reg := breaker.NewRegistry(breaker.DefaultCircuitBreakerConfig(), breaker.DefaultRateLimiterConfig())
	launcher := &fakeLauncher{}

	m, err := NewManager(ManagerConfig{
		Store:         st,
		Dispatcher:    &fakeAdapter{},
		Registry:      reg,
		Launcher:      launcher,
		MaxConcurrent: maxConcurrent,
		PollInterval:  time.Millisecond,
		Sleep:         time.Sleep,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.AddProvider(flowtypes.ProviderConfig{Name: "primary", Type: flowtypes.ProviderTypeOllama, Priority: 1, Healthy: true})
	return m, st, launcher
}

func TestManager_SendBackgroundLaunchesImmediatelyUnderCapacity(t *testing.T) {
	m, _, launcher := testManagerWithLauncher(t, 2)

	id, err := m.SendBackground(context.Background(), flowtypes.HandoffRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("SendBackground failed: %v", err)
	}

	status, err := m.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status != flowtypes.StatusProcessing {
		t.Fatalf("status = %v, want Processing", status)
	}
	if len(launcher.launched) != 1 || launcher.launched[0] != id {
		t.Fatalf("launched = %v, want [%s]", launcher.launched, id)
	}
}

func TestManager_SendBackgroundQueuesWhenAtCapacity(t *testing.T) {
	m, _, launcher := testManagerWithLauncher(t, 1)
	ctx := context.Background()

	firstID, _ := m.SendBackground(ctx, flowtypes.HandoffRequest{Prompt: "first"})
	secondID, _ := m.SendBackground(ctx, flowtypes.HandoffRequest{Prompt: "second"})

	status, _ := m.GetStatus(ctx, secondID)
	if status != flowtypes.StatusPending {
		t.Fatalf("second job status = %v, want Pending (at capacity)", status)
	}
	if len(launcher.launched) != 1 {
		t.Fatalf("launched = %v, want exactly the first job", launcher.launched)
	}

	if err := m.OnBackgroundComplete(ctx, firstID, flowtypes.HandoffResponse{
		RequestID: firstID, Status: flowtypes.StatusCompleted, Provider: "primary",
	}); err != nil {
		t.Fatalf("OnBackgroundComplete failed: %v", err)
	}

	status, _ = m.GetStatus(ctx, secondID)
	if status != flowtypes.StatusProcessing {
		t.Fatalf("second job status after promotion = %v, want Processing", status)
	}
	if len(launcher.launched) != 2 {
		t.Fatalf("launched = %v, want both jobs after promotion", launcher.launched)
	}
}

func TestManager_CancelPendingJob(t *testing.T) {
	m, _, launcher := testManagerWithLauncher(t, 1)
	ctx := context.Background()

	_, _ = m.SendBackground(ctx, flowtypes.HandoffRequest{Prompt: "first"})
	secondID, _ := m.SendBackground(ctx, flowtypes.HandoffRequest{Prompt: "second"})

	if err := m.Cancel(ctx, secondID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	status, _ := m.GetStatus(ctx, secondID)
	if status != flowtypes.StatusCancelled {
		t.Fatalf("status = %v, want Cancelled", status)
	}
	if len(launcher.cancelled) != 0 {
		t.Fatal("a pending job's cancellation must not reach the launcher")
	}
}

func TestManager_CancelProcessingJob(t *testing.T) {
	m, _, launcher := testManagerWithLauncher(t, 1)
	ctx := context.Background()

	id, _ := m.SendBackground(ctx, flowtypes.HandoffRequest{Prompt: "first"})

	if err := m.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	status, _ := m.GetStatus(ctx, id)
	if status != flowtypes.StatusCancelled {
		t.Fatalf("status = %v, want Cancelled", status)
	}
	if len(launcher.cancelled) != 1 || launcher.cancelled[0] != id {
		t.Fatalf("cancelled = %v, want [%s]", launcher.cancelled, id)
	}
}

func TestManager_GetResponseTimesOut(t *testing.T) {
	m, _, _ := testManagerWithLauncher(t, 1)
	ctx := context.Background()

	id, _ := m.SendBackground(ctx, flowtypes.HandoffRequest{Prompt: "first"})

	resp, err := m.GetResponse(ctx, id, 1)
	if err != nil {
		t.Fatalf("GetResponse failed: %v", err)
	}
	if resp != nil {
		t.Fatalf("resp = %+v, want nil on timeout", resp)
	}

	status, _ := m.GetStatus(ctx, id)
	if status != flowtypes.StatusTimeout {
		t.Fatalf("status = %v, want Timeout", status)
	}
}

func TestManager_ClearCompleted(t *testing.T) {
	m, st, _ := testManagerWithLauncher(t, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		completed := time.Now()
		_ = st.UpsertQueueItem(ctx, flowtypes.HandoffQueueItem{
			Request:     flowtypes.HandoffRequest{ID: string(rune('a' + i))},
			Status:      flowtypes.StatusCompleted,
			CompletedAt: &completed,
		})
	}
	m.cfg.MaxQueueItems = 1

	removed, err := m.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
}
