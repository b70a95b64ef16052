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

package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"charm.land/catwalk/pkg/catwalk"
)

const (
	catwalkRefreshInterval  = 6 * time.Hour
	catwalkFetchTimeout     = 15 * time.Second
	catwalkDefaultCtxWindow = 128000
	catwalkDefaultMaxTokens = 4096
)

type catwalkModelInfo struct {
	contextWindow    int
	defaultMaxTokens int
	costPerMIn       float64
	costPerMOut      float64
}

// CatwalkRegistry implements ModelRegistry by querying catwalk's provider
// database, refreshing periodically in the background. It replaces the
// teacher's CrushRegistry (plugin/contextguard/model_registry_crush.go),
// which hand-rolled an HTTP GET against Crush's raw provider.json — the
// same data catwalk now serves as a maintained client library, so this
// registry keeps the teacher's start/stop/periodic-refresh shape and
// swaps the transport for the purpose-built client.
type CatwalkRegistry struct {
	client *catwalk.Client

	mu     sync.RWMutex
	models map[string]catwalkModelInfo
	cancel context.CancelFunc
}

// NewCatwalkRegistry creates an empty registry. Call Start to populate it
// and begin periodic refresh.
func NewCatwalkRegistry() *CatwalkRegistry {
	return &CatwalkRegistry{
		client: catwalk.NewClient(),
		models: make(map[string]catwalkModelInfo),
	}
}

// Start performs the initial fetch and spawns a background goroutine that
// refreshes every 6 hours, matching the teacher's refresh cadence.
func (r *CatwalkRegistry) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.fetch(ctx)

	go func() {
		ticker := time.NewTicker(catwalkRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.fetch(ctx)
			}
		}
	}()
}

// Stop cancels the background refresh goroutine.
func (r *CatwalkRegistry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// fetch downloads the current provider list and atomically replaces the
// in-memory model map. Errors are logged and ignored, same failure
// posture as the teacher's CrushRegistry.fetch: the registry keeps
// serving stale data rather than failing a caller.
func (r *CatwalkRegistry) fetch(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, catwalkFetchTimeout)
	defer cancel()

	providers, err := r.client.GetProviders(fetchCtx)
	if err != nil {
		slog.Warn("CatwalkRegistry: fetch failed", "error", err)
		return
	}

	models := make(map[string]catwalkModelInfo)
	for _, p := range providers {
		for _, m := range p.Models {
			models[m.ID] = catwalkModelInfo{
				contextWindow:    int(m.ContextWindow),
				defaultMaxTokens: int(m.DefaultMaxTokens),
				costPerMIn:       m.CostPer1MIn,
				costPerMOut:      m.CostPer1MOut,
			}
		}
	}

	r.mu.Lock()
	r.models = models
	r.mu.Unlock()

	slog.Info("CatwalkRegistry: loaded models", "count", len(models))
}

// ContextWindow returns the context window size for modelID, or a
// conservative default if the model is unknown.
func (r *CatwalkRegistry) ContextWindow(modelID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.models[modelID]; ok && info.contextWindow > 0 {
		return info.contextWindow
	}
	return catwalkDefaultCtxWindow
}

// DefaultMaxTokens returns the default max output tokens for modelID, or
// a conservative default if the model is unknown.
func (r *CatwalkRegistry) DefaultMaxTokens(modelID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.models[modelID]; ok && info.defaultMaxTokens > 0 {
		return info.defaultMaxTokens
	}
	return catwalkDefaultMaxTokens
}

// CostPerMillionTokens returns the input/output per-million-token cost
// for modelID, or zero values if unknown.
func (r *CatwalkRegistry) CostPerMillionTokens(modelID string) (in, out float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info := r.models[modelID]
	return info.costPerMIn, info.costPerMOut
}

var _ ModelRegistry = (*CatwalkRegistry)(nil)
