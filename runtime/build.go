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
	"strings"
	"time"

	"github.com/claude-flow/v3/cache"
	"github.com/claude-flow/v3/flowtypes"
	"github.com/claude-flow/v3/handoff"
	"github.com/claude-flow/v3/worker"
)

// buildOptimizerConfig translates the YAML "pruning"/"temporal" sections
// into a cache.OptimizerConfig. Zero-value sub-sections fall through to
// each component's own defaults.
func buildOptimizerConfig(cfg Config) cache.OptimizerConfig {
	pruning := cache.PruningConfig{
		SoftThreshold:       cfg.Pruning.SoftThreshold,
		HardThreshold:       cfg.Pruning.HardThreshold,
		EmergencyThreshold:  cfg.Pruning.EmergencyThreshold,
		TargetUtilization:   cfg.Pruning.TargetUtilization,
		MinRelevanceScore:   cfg.Pruning.MinRelevanceScore,
		PreserveRecentCount: cfg.Pruning.PreserveRecentCount,
	}

	tiers := cache.TierManagerConfig{
		PromoteOnAccess: cfg.Temporal.PromoteOnAccess,
		PreservePattern: strings.Join(cfg.Pruning.PreservePatterns, "|"),
	}
	if t, ok := cfg.Temporal.Tiers["hot"]; ok {
		tiers.Hot = cache.TierPolicy{CompressionRatio: t.CompressionRatio}
	}
	if t, ok := cfg.Temporal.Tiers["warm"]; ok {
		tiers.Warm = cache.TierPolicy{CompressionRatio: t.CompressionRatio}
	}
	if t, ok := cfg.Temporal.Tiers["cold"]; ok {
		tiers.Cold = cache.TierPolicy{CompressionRatio: t.CompressionRatio}
	}
	if t, ok := cfg.Temporal.Tiers["archived"]; ok {
		tiers.Archived = cache.TierPolicy{CompressionRatio: t.CompressionRatio}
	}

	return cache.OptimizerConfig{
		ContextWindowSize: cfg.ContextWindowSize,
		Pruning:           pruning,
		Tiers:             tiers,
	}
}

// buildRetryConfig translates the YAML "retry" section into a
// handoff.RetryConfig.
func buildRetryConfig(section RetrySection) handoff.RetryConfig {
	if section.MaxRetries == 0 && section.BaseDelay == "" && section.MaxDelay == "" && section.BackoffFactor == 0 {
		return handoff.DefaultRetryConfig()
	}
	return handoff.RetryConfig{
		MaxRetries:    section.MaxRetries,
		BaseDelay:     parseDurationOrDefault(section.BaseDelay, 500*time.Millisecond),
		MaxDelay:      parseDurationOrDefault(section.MaxDelay, 10*time.Second),
		BackoffFactor: section.BackoffFactor,
	}
}

// buildWorkerDefinitions pairs the six built-in worker actions with their
// per-type schedule from the YAML "workers" section.
func buildWorkerDefinitions(cfg Config, metricsDir string) map[string]worker.Definition {
	actions := worker.NewBuiltinDefinitions(metricsDir, cfg.ProjectPath)
	defs := make(map[string]worker.Definition, len(actions))
	for workerType, action := range actions {
		section := cfg.Workers[workerType]
		defs[workerType] = worker.Definition{
			Config: flowtypes.WorkerConfig{
				Type:       workerType,
				IntervalMs: defaultInt64(section.IntervalMs, defaultWorkerIntervalMs),
				OffsetMs:   section.OffsetMs,
				Priority:   section.Priority,
				Enabled:    section.Enabled,
			},
			Run: action,
		}
	}
	return defs
}

const defaultWorkerIntervalMs = int64(30 * time.Minute / time.Millisecond)

func defaultInt64(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
