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

// Package runtime wires C1-C10 into a single running system: the cache
// optimizer, the handoff manager with its background process handler,
// and the worker daemon, bound to one persistent store and one
// configuration document.
package runtime

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PruningSection configures proactive/reactive cache pruning (spec.md §6
// "pruning" table).
type PruningSection struct {
	SoftThreshold       float64  `yaml:"softThreshold"`
	HardThreshold       float64  `yaml:"hardThreshold"`
	EmergencyThreshold  float64  `yaml:"emergencyThreshold"`
	TargetUtilization   float64  `yaml:"targetUtilization"`
	MinRelevanceScore   float64  `yaml:"minRelevanceScore"`
	PreserveRecentCount int      `yaml:"preserveRecentCount"`
	PreservePatterns    []string `yaml:"preservePatterns"`
}

// TierPolicySection configures one tier's compression ratio.
type TierPolicySection struct {
	CompressionRatio float64 `yaml:"compressionRatio"`
}

// TemporalSection configures tier transitions (spec.md §6 "temporal" table).
type TemporalSection struct {
	PromoteOnAccess bool              `yaml:"promoteOnAccess"`
	Tiers           map[string]TierPolicySection `yaml:"tiers"`
}

// BackgroundSection configures the handoff background process handler
// (spec.md §6 "background" table).
type BackgroundSection struct {
	MaxConcurrent int    `yaml:"maxConcurrent"`
	PollInterval  string `yaml:"pollInterval"`
	WorkDir       string `yaml:"workDir"`
	QueueSize     int    `yaml:"queueSize"`
}

// RetrySection configures exponential backoff (spec.md §6 "retry" table).
type RetrySection struct {
	MaxRetries    int     `yaml:"maxRetries"`
	BaseDelay     string  `yaml:"baseDelay"`
	MaxDelay      string  `yaml:"maxDelay"`
	BackoffFactor float64 `yaml:"backoffFactor"`
}

// TimeoutSection configures per-attempt/total/streaming timeouts (spec.md
// §6 "timeout" table).
type TimeoutSection struct {
	Request string `yaml:"request"`
	Total   string `yaml:"total"`
	Stream  string `yaml:"stream"`
}

// WorkerSection is one worker type's schedule (spec.md §6 "workers" table).
type WorkerSection struct {
	IntervalMs int64 `yaml:"intervalMs"`
	OffsetMs   int64 `yaml:"offsetMs"`
	Enabled    bool  `yaml:"enabled"`
	Priority   int   `yaml:"priority"`
}

// ResourceThresholdsSection gates worker admission (spec.md §6
// "resourceThresholds" table).
type ResourceThresholdsSection struct {
	MaxCPULoad           float64 `yaml:"maxCpuLoad"`
	MinFreeMemoryPercent float64 `yaml:"minFreeMemoryPercent"`
}

// StoreSection configures the non-default persistent store backends
// (spec.md §6 "store" table); only the section matching StoreBackend is
// consulted.
type StoreSection struct {
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	RedisDB        int    `yaml:"redisDB"`
	RedisNamespace string `yaml:"redisNamespace"`
	PostgresDSN    string `yaml:"postgresDSN"`
}

// ProviderSection describes one configured model endpoint.
type ProviderSection struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	Priority int    `yaml:"priority"`
	APIKey   string `yaml:"apiKey"`
}

// TelemetrySection configures OpenTelemetry tracing and the daemon log
// file.
type TelemetrySection struct {
	ServiceName    string  `yaml:"serviceName"`
	ServiceVersion string  `yaml:"serviceVersion"`
	Environment    string  `yaml:"environment"`
	OTLPEndpoint   string  `yaml:"otlpEndpoint"`
	OTLPInsecure   bool    `yaml:"otlpInsecure"`
	SampleRatio    float64 `yaml:"sampleRatio"`
	LogJSON        bool    `yaml:"logJSON"`
}

// Config is the top-level nested configuration document (spec.md §6's
// configuration table, one section per key).
type Config struct {
	WorkDir            string                    `yaml:"workDir"`
	ProjectPath        string                     `yaml:"projectPath"`
	ContextWindowSize  int                        `yaml:"contextWindowSize"`
	StoreBackend       string                     `yaml:"storeBackend"`
	Store              StoreSection               `yaml:"store"`
	Pruning            PruningSection             `yaml:"pruning"`
	Temporal           TemporalSection            `yaml:"temporal"`
	Background         BackgroundSection          `yaml:"background"`
	Retry              RetrySection               `yaml:"retry"`
	Timeout            TimeoutSection             `yaml:"timeout"`
	Workers            map[string]WorkerSection   `yaml:"workers"`
	ResourceThresholds ResourceThresholdsSection  `yaml:"resourceThresholds"`
	Providers          []ProviderSection          `yaml:"providers"`
	Telemetry          TelemetrySection           `yaml:"telemetry"`
}

// LoadConfig reads and parses a YAML configuration document from path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// parseDurationOrDefault parses s as a duration, falling back to def on
// an empty or invalid value.
func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
