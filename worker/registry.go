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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/claude-flow/v3/errkind"
)

// artifactPath is where a worker type's metrics artifact is written,
// matching {base}/metrics/*.json from spec.md §6.
func artifactPath(metricsDir, workerType string) string {
	return filepath.Join(metricsDir, workerType+".json")
}

// writeArtifact marshals payload and writes it to the worker's metrics
// artifact, tagging any failure as StorageError per the taxonomy.
func writeArtifact(metricsDir, workerType string, payload map[string]any) error {
	if err := os.MkdirAll(metricsDir, 0o755); err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("create metrics dir: %w", err))
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("marshal artifact: %w", err))
	}
	path := artifactPath(metricsDir, workerType)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("write artifact: %w", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		return errkind.Wrap(errkind.Storage, fmt.Errorf("rename artifact: %w", err))
	}
	return nil
}

// delegateOrFallback tries the headless runtime first; on any error
// (including the absence sentinel from noRuntime) it runs the local
// fallback, per spec.md §4.10's "never depends on the remote runtime
// being present" rule.
func delegateOrFallback(ctx context.Context, runtime HeadlessRuntime, workerType, projectPath string, metricsDir string, fallback func() map[string]any) (map[string]any, error) {
	payload, err := runtime.Delegate(ctx, workerType, projectPath)
	if err != nil {
		payload = fallback()
		payload["source"] = "local-fallback"
	} else {
		payload["source"] = "headless-runtime"
	}
	payload["workerType"] = workerType
	payload["generatedAt"] = time.Now().UTC().Format(time.RFC3339)
	if err := writeArtifact(metricsDir, workerType, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// NewBuiltinDefinitions returns the six built-in worker type definitions,
// each writing its metrics artifact under metricsDir. Callers register
// these with a Daemon and may layer their own schedule config (interval,
// offset, priority, enabled) from flowtypes.WorkerConfig on top.
func NewBuiltinDefinitions(metricsDir, projectPath string) map[string]Action {
	return map[string]Action{
		TypeCodebaseMap: func(ctx context.Context, rt HeadlessRuntime, path string) (map[string]any, error) {
			return delegateOrFallback(ctx, rt, TypeCodebaseMap, path, metricsDir, func() map[string]any {
				return localCodebaseMap(path)
			})
		},
		TypeSecurityAudit: func(ctx context.Context, rt HeadlessRuntime, path string) (map[string]any, error) {
			return delegateOrFallback(ctx, rt, TypeSecurityAudit, path, metricsDir, func() map[string]any {
				return localSecurityAudit(path)
			})
		},
		TypePerformance: func(ctx context.Context, rt HeadlessRuntime, path string) (map[string]any, error) {
			return delegateOrFallback(ctx, rt, TypePerformance, path, metricsDir, func() map[string]any {
				return localPerformance(path)
			})
		},
		TypeTestGaps: func(ctx context.Context, rt HeadlessRuntime, path string) (map[string]any, error) {
			return delegateOrFallback(ctx, rt, TypeTestGaps, path, metricsDir, func() map[string]any {
				return localTestGaps(path)
			})
		},
		TypeConsolidation: func(ctx context.Context, rt HeadlessRuntime, path string) (map[string]any, error) {
			return delegateOrFallback(ctx, rt, TypeConsolidation, path, metricsDir, func() map[string]any {
				return localConsolidation(path)
			})
		},
		TypeBenchmark: func(ctx context.Context, rt HeadlessRuntime, path string) (map[string]any, error) {
			return delegateOrFallback(ctx, rt, TypeBenchmark, path, metricsDir, func() map[string]any {
				return localBenchmark(path)
			})
		},
	}
}

// countFiles walks projectPath counting regular files matching suffix,
// capped at a sane bound so a misconfigured path can't make a worker run
// unboundedly long.
func countFiles(projectPath, suffix string) int {
	count := 0
	const maxVisited = 50000
	visited := 0
	_ = filepath.WalkDir(projectPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		visited++
		if visited > maxVisited {
			return filepath.SkipAll
		}
		if !d.IsDir() && filepath.Ext(path) == suffix {
			count++
		}
		return nil
	})
	return count
}

func localCodebaseMap(projectPath string) map[string]any {
	return map[string]any{
		"goFiles": countFiles(projectPath, ".go"),
		"summary": "local deterministic file-count scan; no AST analysis without a headless runtime",
	}
}

func localSecurityAudit(projectPath string) map[string]any {
	return map[string]any{
		"filesScanned": countFiles(projectPath, ".go"),
		"findings":     []string{},
		"summary":      "no static analyzer available locally; findings list is empty pending a headless runtime",
	}
}

func localPerformance(projectPath string) map[string]any {
	return map[string]any{
		"hotspots": []string{},
		"summary":  "no profiler data available locally",
	}
}

func localTestGaps(projectPath string) map[string]any {
	src := countFiles(projectPath, ".go")
	return map[string]any{
		"sourceFiles": src,
		"summary":     "coverage data requires a headless runtime; reporting file counts only",
	}
}

func localConsolidation(projectPath string) map[string]any {
	return map[string]any{
		"consolidatedEntries": 0,
		"summary":             "memory consolidation requires a headless runtime; no entries merged locally",
	}
}

func localBenchmark(projectPath string) map[string]any {
	return map[string]any{
		"durationMs": 0,
		"summary":    "no benchmark harness available locally",
	}
}
