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

package runtime

import (
	"context"
	"testing"
	"time"
)

func TestNew_RequiresWorkDir(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatalf("expected an error when WorkDir is empty")
	}
}

func TestNew_RejectsUnknownStoreBackend(t *testing.T) {
	_, err := New(Config{WorkDir: t.TempDir(), StoreBackend: "carrier-pigeon"})
	if err == nil {
		t.Fatalf("expected an error for an unknown store backend")
	}
}

func TestNew_RejectsRedisBackendWithoutAddr(t *testing.T) {
	_, err := New(Config{WorkDir: t.TempDir(), StoreBackend: "redis"})
	if err == nil {
		t.Fatalf("expected an error when store.redisAddr is unset")
	}
}

func TestNew_BuildsAFileBackedRuntime(t *testing.T) {
	rt, err := New(Config{
		WorkDir:           t.TempDir(),
		ProjectPath:       t.TempDir(),
		ContextWindowSize: 100000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	}()

	if rt.Cache == nil || rt.Handoff == nil || rt.Workers == nil || rt.Bus == nil || rt.Telemetry == nil {
		t.Fatalf("expected every component to be wired, got %+v", rt)
	}
}

func TestRuntime_HookDelegationReachesCacheOptimizer(t *testing.T) {
	rt, err := New(Config{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	}()

	result := rt.OnUserPromptSubmit(context.Background(), "hello", "session-1")
	if !result.Success {
		t.Fatalf("expected the hook to report success on an otherwise-empty cache, got %+v", result)
	}
}
