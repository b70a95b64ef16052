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

package cache

import (
	"context"
	"strings"
	"testing"
)

func newTestOptimizer(windowSize int) *Optimizer {
	return NewOptimizer(OptimizerConfig{
		ContextWindowSize: windowSize,
		Pruning: PruningConfig{
			SoftThreshold:       0.70,
			HardThreshold:       0.85,
			EmergencyThreshold:  0.95,
			TargetUtilization:   0.60,
			MinRelevanceScore:   0.9, // aggressive: most entries qualify for pruning in tests
			PreserveRecentCount: 0,
		},
	})
}

func fill(t *testing.T, o *Optimizer, n int, tokensEach int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	content := strings.Repeat("x", tokensEach*4)
	for i := 0; i < n; i++ {
		id, err := o.Add(context.Background(), content, EntryTypeToolResult, Entry{})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestOptimizer_AddStartsAtHotWithFullScore(t *testing.T) {
	o := newTestOptimizer(10000)
	id, err := o.Add(context.Background(), "hello", EntryTypeUserMessage, Entry{})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	e, ok := o.GetEntry(id)
	if !ok {
		t.Fatal("entry not found after Add")
	}
	if e.Tier != TierHot || e.Score.Overall != 1.0 || e.AccessCount != 1 {
		t.Fatalf("unexpected new entry state: %+v", e)
	}
}

func TestOptimizer_GetRecordsHitsAndMisses(t *testing.T) {
	o := newTestOptimizer(10000)
	id, _ := o.Add(context.Background(), "hello", EntryTypeUserMessage, Entry{})

	if _, ok := o.Get(id); !ok {
		t.Fatal("expected hit on existing entry")
	}
	if _, ok := o.Get("does-not-exist"); ok {
		t.Fatal("expected miss on unknown id")
	}

	m := o.GetMetrics()
	if m.Hits != 1 || m.Misses != 1 {
		t.Fatalf("Metrics = %+v, want 1 hit and 1 miss", m)
	}
}

func TestOptimizer_DeleteFreesTokens(t *testing.T) {
	o := newTestOptimizer(10000)
	id, _ := o.Add(context.Background(), strings.Repeat("x", 400), EntryTypeUserMessage, Entry{})
	before := o.GetMetrics().CurrentTokens

	if !o.Delete(id) {
		t.Fatal("expected Delete to succeed")
	}
	after := o.GetMetrics().CurrentTokens

	if after != 0 || before == 0 {
		t.Fatalf("CurrentTokens before=%d after=%d, want before>0 after=0", before, after)
	}
}

func TestOptimizer_PruneRespectsPreservedTypes(t *testing.T) {
	o := NewOptimizer(OptimizerConfig{
		ContextWindowSize: 1000,
		Pruning: PruningConfig{
			SoftThreshold:      0.1,
			HardThreshold:      0.5,
			EmergencyThreshold: 0.9,
			TargetUtilization:  0.05,
			MinRelevanceScore:  0.99,
		},
		Tiers: TierManagerConfig{PreserveTypes: []EntryType{EntryTypeSystemPrompt}},
	})

	sysID, _ := o.Add(context.Background(), strings.Repeat("s", 400), EntryTypeSystemPrompt, Entry{})
	_, _ = o.Add(context.Background(), strings.Repeat("t", 400), EntryTypeToolResult, Entry{})

	decision := o.GetPruningDecision(context.Background(), ScoringContext{})
	for _, id := range decision.ToPrune {
		if id == sysID {
			t.Fatal("system_prompt entry must never appear in toPrune (P3)")
		}
	}
	for _, id := range decision.ToDemote {
		if id == sysID {
			t.Fatal("system_prompt entry must never appear in toDemote (P3)")
		}
	}
}

func TestOptimizer_PruneReducesUtilizationTowardTarget(t *testing.T) {
	o := newTestOptimizer(1000)
	// 17 tool_result entries of 43 tokens each: Add's proactive prune finds
	// nothing to do below softThreshold, so utilization ends at 0.731.
	fill(t, o, 17, 40)

	utilBefore := o.GetUtilization()
	if utilBefore < 0.7 {
		t.Fatalf("test setup error: utilization %v too low to trigger pruning", utilBefore)
	}

	result, err := o.Prune(context.Background(), nil)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if result.Pruned == 0 && result.Compressed == 0 {
		t.Fatal("expected Prune to take some action at high utilization")
	}

	utilAfter := o.GetUtilization()
	if utilAfter >= utilBefore {
		t.Fatalf("utilization did not decrease: before=%v after=%v", utilBefore, utilAfter)
	}
}

func TestOptimizer_OnUserPromptSubmitExtractsFilesAndTools(t *testing.T) {
	o := newTestOptimizer(10000)
	prompt := "please Read src/main.go and run Bash"
	result := o.OnUserPromptSubmit(context.Background(), prompt, "session-1")
	if !result.Success {
		t.Fatalf("OnUserPromptSubmit failed: %+v", result)
	}
	if files := filePathPattern.FindAllString(prompt, -1); len(files) != 1 || files[0] != "src/main.go" {
		t.Fatalf("extracted files = %v, want [src/main.go]", files)
	}
	if tools := matchToolNames(prompt); len(tools) != 2 || tools[0] != "Read" || tools[1] != "Bash" {
		t.Fatalf("extracted tools = %v, want [Read Bash]", tools)
	}
}

func TestOptimizer_OnPreCompactBringsUtilizationBelowEmergency(t *testing.T) {
	o := newTestOptimizer(1000)
	fill(t, o, 30, 40)

	// Force utilization above emergency threshold by bypassing Add's
	// proactive-prune guard: lift softThreshold while filling, then restore
	// it before the hook runs (OnPreCompact prunes back toward it).
	o.pruning.SoftThreshold = 2.0
	for o.GetUtilization() < 0.95 {
		fill(t, o, 5, 40)
	}
	o.pruning.SoftThreshold = 0.70

	result := o.OnPreCompact(context.Background())
	if !result.Success {
		t.Fatalf("OnPreCompact did not succeed: %+v", result)
	}
	if o.GetUtilization() >= 0.95 {
		t.Fatalf("utilization after OnPreCompact = %v, want < emergencyThreshold (P4)", o.GetUtilization())
	}
}

func TestOptimizer_ClearEmptiesTable(t *testing.T) {
	o := newTestOptimizer(10000)
	fill(t, o, 5, 10)
	o.Clear()

	if len(o.GetEntries()) != 0 {
		t.Fatal("expected no entries after Clear")
	}
	if o.GetMetrics().CurrentTokens != 0 {
		t.Fatal("expected zero tokens after Clear")
	}
}
