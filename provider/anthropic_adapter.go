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

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/claude-flow/v3/errkind"
	"github.com/claude-flow/v3/flowtypes"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicAdapter speaks the anthropic-style wire protocol (spec.md
// §4.7) via the official anthropic-sdk-go client rather than a hand-rolled
// HTTP client, since the teacher's go.mod already carries it as a direct
// dependency with no consumer.
type AnthropicAdapter struct {
	registry ModelRegistry
}

// NewAnthropicAdapter creates an adapter that consults registry for
// per-model default max-token limits when a request doesn't specify one.
func NewAnthropicAdapter(registry ModelRegistry) *AnthropicAdapter {
	return &AnthropicAdapter{registry: registry}
}

func (a *AnthropicAdapter) client(cfg flowtypes.ProviderConfig) (*anthropic.Client, error) {
	if cfg.APIKey == "" {
		return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("anthropic provider %q: missing apiKey", cfg.Name))
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := anthropic.NewClient(opts...)
	return &client, nil
}

// HealthCheck issues a minimal single-token request and treats any
// response (including a model-level refusal) as healthy; only transport
// and auth failures count as unhealthy.
func (a *AnthropicAdapter) HealthCheck(ctx context.Context, cfg flowtypes.ProviderConfig) error {
	client, err := a.client(cfg)
	if err != nil {
		return err
	}
	_, err = client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return errkind.Wrap(errkind.Transient, fmt.Errorf("anthropic provider %q health check: %w", cfg.Name, err))
	}
	return nil
}

// Send dispatches req as a single Messages.New call.
func (a *AnthropicAdapter) Send(ctx context.Context, req flowtypes.HandoffRequest, cfg flowtypes.ProviderConfig) (flowtypes.HandoffResponse, error) {
	client, err := a.client(cfg)
	if err != nil {
		return flowtypes.HandoffResponse{}, err
	}

	maxTokens := int64(req.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int64(a.registry.DefaultMaxTokens(cfg.Model))
	}
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: maxTokens,
		Messages:  anthropicMessages(req),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Options.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Options.Temperature)
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return flowtypes.HandoffResponse{}, errkind.Wrap(errkind.Transient, fmt.Errorf("anthropic provider %q send: %w", cfg.Name, err))
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	usage := flowtypes.TokenUsage{
		Prompt:     int(msg.Usage.InputTokens),
		Completion: int(msg.Usage.OutputTokens),
		Total:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}

	return flowtypes.HandoffResponse{
		RequestID: req.ID,
		Provider:  cfg.Name,
		Model:     string(msg.Model),
		Content:   content,
		Tokens:    usage,
		Status:    flowtypes.StatusCompleted,
	}, nil
}

// anthropicMessages converts the generic conversation history into
// anthropic-sdk-go message params, folding every role but "assistant"
// into a user turn since Anthropic's wire protocol only recognizes the
// two.
func anthropicMessages(req flowtypes.HandoffRequest) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(req.Context)+1)
	for _, turn := range req.Context {
		text := contentText(turn.Content)
		if turn.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))
	return messages
}

var _ Adapter = (*AnthropicAdapter)(nil)
