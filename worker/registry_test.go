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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

type scriptedRuntime struct {
	result map[string]any
	err    error
}

func (r *scriptedRuntime) Delegate(ctx context.Context, workerType, projectPath string) (map[string]any, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func TestNewBuiltinDefinitions_FallsBackWithoutRuntime(t *testing.T) {
	dir := t.TempDir()
	defs := NewBuiltinDefinitions(dir, ".")

	action, ok := defs[TypeCodebaseMap]
	if !ok {
		t.Fatal("codebase-map definition missing")
	}
	if _, err := action(context.Background(), noRuntime{}, dir); err != nil {
		t.Fatalf("action failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, TypeCodebaseMap+".json"))
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("artifact not valid JSON: %v", err)
	}
	if payload["source"] != "local-fallback" {
		t.Fatalf("source = %v, want local-fallback", payload["source"])
	}
}

func TestNewBuiltinDefinitions_UsesRuntimeWhenAvailable(t *testing.T) {
	dir := t.TempDir()
	defs := NewBuiltinDefinitions(dir, ".")

	rt := &scriptedRuntime{result: map[string]any{"delegated": true}}
	action := defs[TypeSecurityAudit]
	if _, err := action(context.Background(), rt, dir); err != nil {
		t.Fatalf("action failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, TypeSecurityAudit+".json"))
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("artifact not valid JSON: %v", err)
	}
	if payload["source"] != "headless-runtime" {
		t.Fatalf("source = %v, want headless-runtime", payload["source"])
	}
	if payload["delegated"] != true {
		t.Fatalf("expected delegated runtime payload to be preserved, got %v", payload)
	}
}

func TestNewBuiltinDefinitions_AllSixTypesRegistered(t *testing.T) {
	dir := t.TempDir()
	defs := NewBuiltinDefinitions(dir, ".")
	for _, typ := range []string{TypeCodebaseMap, TypeSecurityAudit, TypePerformance, TypeTestGaps, TypeConsolidation, TypeBenchmark} {
		if _, ok := defs[typ]; !ok {
			t.Fatalf("missing definition for worker type %q", typ)
		}
	}
}

func TestWriteArtifact_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	if err := writeArtifact(dir, "demo", map[string]any{"ok": true}); err != nil {
		t.Fatalf("writeArtifact failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "demo.json.tmp")); !os.IsNotExist(err) {
		t.Fatal("temp file should not remain after rename")
	}
}
