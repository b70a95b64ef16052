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
	"fmt"

	"github.com/claude-flow/v3/errkind"
	"github.com/claude-flow/v3/flowtypes"
)

// Dispatcher routes a request to the Adapter matching its ProviderConfig's
// Type, so the handoff manager never has to branch on wire protocol
// itself.
type Dispatcher struct {
	adapters map[flowtypes.ProviderType]Adapter
}

// NewDispatcher wires the three built-in adapters against registry.
func NewDispatcher(registry ModelRegistry) *Dispatcher {
	return &Dispatcher{
		adapters: map[flowtypes.ProviderType]Adapter{
			flowtypes.ProviderTypeOllama:    NewOllamaAdapter(),
			flowtypes.ProviderTypeAnthropic: NewAnthropicAdapter(registry),
			flowtypes.ProviderTypeOpenAI:    NewOpenAIAdapter(registry),
		},
	}
}

func (d *Dispatcher) adapterFor(cfg flowtypes.ProviderConfig) (Adapter, error) {
	adapter, ok := d.adapters[cfg.Type]
	if !ok {
		return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("provider %q: unknown type %q", cfg.Name, cfg.Type))
	}
	return adapter, nil
}

// HealthCheck delegates to the adapter matching cfg.Type.
func (d *Dispatcher) HealthCheck(ctx context.Context, cfg flowtypes.ProviderConfig) error {
	adapter, err := d.adapterFor(cfg)
	if err != nil {
		return err
	}
	return adapter.HealthCheck(ctx, cfg)
}

// Send delegates to the adapter matching cfg.Type.
func (d *Dispatcher) Send(ctx context.Context, req flowtypes.HandoffRequest, cfg flowtypes.ProviderConfig) (flowtypes.HandoffResponse, error) {
	adapter, err := d.adapterFor(cfg)
	if err != nil {
		return flowtypes.HandoffResponse{}, err
	}
	return adapter.Send(ctx, req, cfg)
}

var _ Adapter = (*Dispatcher)(nil)
