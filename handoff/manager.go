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

// Package handoff implements C8, the central broker that creates
// HandoffRequests, selects a healthy provider, checks admission against
// the breaker/rate-limiter registry, dispatches through a provider
// adapter with retry-with-backoff, and persists queue state and metrics.
package handoff

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude-flow/v3/breaker"
	"github.com/claude-flow/v3/errkind"
	"github.com/claude-flow/v3/flowtypes"
	"github.com/claude-flow/v3/provider"
	"github.com/claude-flow/v3/store"
)

const handoffCallbackDelimiter = "[HANDOFF CALLBACK INSTRUCTIONS]"

// RetryConfig is the exponential-backoff schedule for transient adapter
// failures (spec.md §6's retry section).
type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig matches spec.md's described defaults for a broker
// that retries a handful of times without waiting unreasonably long.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// delay returns the sleep duration before attempt (0-indexed).
func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Retry       RetryConfig
	RequestTimeout time.Duration
	MaxConcurrent  int
	PollInterval   time.Duration
	MaxQueueItems  int

	Store      store.Store
	Dispatcher provider.Adapter
	Registry   *breaker.Registry
	CostTable  *provider.CostTable
	Launcher   BackgroundLauncher

	// Clock and Sleep are overridden in tests to avoid real time.Sleep
	// calls during retry-backoff tests.
	Clock func() time.Time
	Sleep func(time.Duration)
}

func (c *ManagerConfig) applyDefaults() {
	if c.Retry == (RetryConfig{}) {
		c.Retry = DefaultRetryConfig()
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.MaxQueueItems <= 0 {
		c.MaxQueueItems = 500
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
}

// Manager is the handoff broker (C8).
type Manager struct {
	cfg ManagerConfig

	mu         sync.Mutex
	providers  map[string]flowtypes.ProviderConfig
	nextPos    int64
	metrics    flowtypes.HandoffMetrics
	backgroundActive int
}

// NewManager wires a Manager. cfg.Store, cfg.Dispatcher and cfg.Registry
// are required.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("handoff: Store is required"))
	}
	if cfg.Dispatcher == nil {
		return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("handoff: Dispatcher is required"))
	}
	if cfg.Registry == nil {
		return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("handoff: Registry is required"))
	}
	cfg.applyDefaults()
	return &Manager{
		cfg:       cfg,
		providers: make(map[string]flowtypes.ProviderConfig),
		metrics:   flowtypes.HandoffMetrics{ByProvider: make(map[string]int64)},
	}, nil
}

// AddProvider registers or replaces a provider configuration.
func (m *Manager) AddProvider(cfg flowtypes.ProviderConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[cfg.Name] = cfg
}

// RemoveProvider unregisters a provider by name.
func (m *Manager) RemoveProvider(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.providers, name)
}

// HealthCheckAll refreshes the Healthy flag of every configured provider.
func (m *Manager) HealthCheckAll(ctx context.Context) {
	m.mu.Lock()
	configs := make([]flowtypes.ProviderConfig, 0, len(m.providers))
	for _, cfg := range m.providers {
		configs = append(configs, cfg)
	}
	m.mu.Unlock()

	for _, cfg := range configs {
		err := m.cfg.Dispatcher.HealthCheck(ctx, cfg)
		cfg.Healthy = err == nil
		m.mu.Lock()
		m.providers[cfg.Name] = cfg
		m.mu.Unlock()
	}
}

// CreateRequest assigns an ID and creation timestamp to opts, leaving
// every other field as supplied by the caller.
func (m *Manager) CreateRequest(opts flowtypes.HandoffRequest) flowtypes.HandoffRequest {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Metadata.CreatedAt.IsZero() {
		opts.Metadata.CreatedAt = m.cfg.Clock()
	}
	if opts.ProviderHint == "" {
		opts.ProviderHint = "auto"
	}
	return opts
}

// selectProvider implements spec.md §4.8 step 1: an explicit hint must
// name a healthy provider; "auto" tries every healthy provider ascending
// by Priority, health-checking each until one succeeds.
func (m *Manager) selectProvider(ctx context.Context, req flowtypes.HandoffRequest) (flowtypes.ProviderConfig, error) {
	m.mu.Lock()
	configs := make([]flowtypes.ProviderConfig, 0, len(m.providers))
	for _, cfg := range m.providers {
		configs = append(configs, cfg)
	}
	m.mu.Unlock()

	if req.ProviderHint != "" && req.ProviderHint != "auto" {
		for _, cfg := range configs {
			if cfg.Name == req.ProviderHint {
				if !cfg.Healthy {
					return flowtypes.ProviderConfig{}, errkind.Wrap(errkind.Configuration, fmt.Errorf("handoff: provider %q is not healthy", cfg.Name))
				}
				return cfg, nil
			}
		}
		return flowtypes.ProviderConfig{}, errkind.Wrap(errkind.Configuration, fmt.Errorf("handoff: unknown provider %q", req.ProviderHint))
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].Priority < configs[j].Priority })
	for _, cfg := range configs {
		if !cfg.Healthy {
			continue
		}
		if err := m.cfg.Dispatcher.HealthCheck(ctx, cfg); err == nil {
			return cfg, nil
		}
	}
	return flowtypes.ProviderConfig{}, errkind.Wrap(errkind.ResourceRefusal, fmt.Errorf("handoff: no healthy provider available"))
}

// Send dispatches req synchronously, retrying transient failures with
// exponential backoff up to Retry.MaxRetries. An open breaker short-circuits
// immediately without sleeping or calling the adapter; a rate-limit refusal
// backs off and retries like any other transient failure. Protocol errors
// stop retrying past half of MaxRetries.
func (m *Manager) Send(ctx context.Context, req flowtypes.HandoffRequest) flowtypes.HandoffResponse {
	start := m.cfg.Clock()

	cfg, err := m.selectProvider(ctx, req)
	if err != nil {
		return m.recordFailure(req, "", start, err)
	}

	var lastErr error
	for attempt := 0; attempt <= m.cfg.Retry.MaxRetries; attempt++ {
		admission := m.cfg.Registry.Admit(cfg.Name, m.cfg.Clock())
		if !admission.Allowed {
			lastErr = errkind.Wrap(errkind.ResourceRefusal, fmt.Errorf("handoff: provider %q refused: %s", cfg.Name, admission.Reason))
			if admission.Reason == "breaker_open" {
				break
			}
			if attempt < m.cfg.Retry.MaxRetries {
				m.cfg.Sleep(m.cfg.Retry.delay(attempt))
				continue
			}
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
		resp, sendErr := m.cfg.Dispatcher.Send(attemptCtx, req, cfg)
		cancel()

		if sendErr == nil {
			m.cfg.Registry.RecordResult(cfg.Name, m.cfg.Clock(), true)
			return m.recordSuccess(req, cfg, resp, start)
		}

		lastErr = sendErr
		m.cfg.Registry.RecordResult(cfg.Name, m.cfg.Clock(), false)

		if errkind.IsTerminal(sendErr) || !errkind.IsTransient(sendErr) {
			break
		}
		if errkind.KindOf(sendErr) == errkind.Protocol && attempt >= m.cfg.Retry.MaxRetries/2 {
			break
		}
		if attempt < m.cfg.Retry.MaxRetries {
			m.cfg.Sleep(m.cfg.Retry.delay(attempt))
		}
	}

	return m.recordFailure(req, cfg.Name, start, lastErr)
}

func (m *Manager) recordSuccess(req flowtypes.HandoffRequest, cfg flowtypes.ProviderConfig, resp flowtypes.HandoffResponse, start time.Time) flowtypes.HandoffResponse {
	duration := m.cfg.Clock().Sub(start)
	resp.DurationMs = duration.Milliseconds()
	resp.CompletedAt = m.cfg.Clock()

	if m.cfg.CostTable != nil {
		resp.Tokens.EstimatedCost = m.cfg.CostTable.Estimate(resp.Model, resp.Tokens)
	}

	m.mu.Lock()
	m.metrics.Successful++
	m.metrics.Tokens += int64(resp.Tokens.Total)
	if m.metrics.ByProvider == nil {
		m.metrics.ByProvider = make(map[string]int64)
	}
	m.metrics.ByProvider[cfg.Name]++
	n := float64(m.metrics.Successful)
	m.metrics.AvgLatencyMs = m.metrics.AvgLatencyMs + (float64(resp.DurationMs)-m.metrics.AvgLatencyMs)/n
	m.mu.Unlock()

	if req.Options.OnComplete != nil {
		req.Options.OnComplete(&resp)
	}
	return resp
}

func (m *Manager) recordFailure(req flowtypes.HandoffRequest, providerName string, start time.Time, err error) flowtypes.HandoffResponse {
	m.mu.Lock()
	m.metrics.Failed++
	m.mu.Unlock()

	resp := flowtypes.HandoffResponse{
		RequestID:  req.ID,
		Provider:   providerName,
		Status:     flowtypes.StatusFailed,
		DurationMs: m.cfg.Clock().Sub(start).Milliseconds(),
		CompletedAt: m.cfg.Clock(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if req.Options.OnComplete != nil {
		req.Options.OnComplete(&resp)
	}
	return resp
}

// InjectInstructions appends a delimited callback-instructions block to
// resp.Content, returning a copy with InjectedInstructions set verbatim
// for traceability.
func InjectInstructions(resp flowtypes.HandoffResponse, text string) flowtypes.HandoffResponse {
	if text == "" {
		return resp
	}
	resp.Content = fmt.Sprintf("%s\n\n%s\n%s", resp.Content, handoffCallbackDelimiter, text)
	resp.InjectedInstructions = text
	return resp
}

// GetMetrics returns the manager's running counters, with CircuitsOpen
// filled from the breaker registry.
func (m *Manager) GetMetrics() flowtypes.HandoffMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.metrics
	snapshot.ByProvider = make(map[string]int64, len(m.metrics.ByProvider))
	for k, v := range m.metrics.ByProvider {
		snapshot.ByProvider[k] = v
	}
	snapshot.CircuitsOpen = m.cfg.Registry.OpenCount()
	return snapshot
}

// nextPosition returns the next monotonically increasing queue position.
func (m *Manager) nextPosition() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPos++
	return m.nextPos
}
