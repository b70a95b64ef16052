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

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/claude-flow/v3/errkind"
	"github.com/claude-flow/v3/flowtypes"
)

// OpenAIAdapter speaks the openai-style wire protocol (spec.md §4.7) via
// the official openai-go client. Because that client's base URL is
// configurable, this same adapter also serves any OpenAI-compatible
// third-party endpoint a ProviderConfig names.
type OpenAIAdapter struct {
	registry ModelRegistry
}

// NewOpenAIAdapter creates an adapter that consults registry for
// per-model default max-token limits when a request doesn't specify one.
func NewOpenAIAdapter(registry ModelRegistry) *OpenAIAdapter {
	return &OpenAIAdapter{registry: registry}
}

func (a *OpenAIAdapter) client(cfg flowtypes.ProviderConfig) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("openai provider %q: missing apiKey", cfg.Name))
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := openai.NewClient(opts...)
	return &client, nil
}

// HealthCheck issues a minimal single-token completion; only transport
// and auth failures count as unhealthy.
func (a *OpenAIAdapter) HealthCheck(ctx context.Context, cfg flowtypes.ProviderConfig) error {
	client, err := a.client(cfg)
	if err != nil {
		return err
	}
	_, err = client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     cfg.Model,
		MaxTokens: openai.Int(1),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("ping"),
		},
	})
	if err != nil {
		return errkind.Wrap(errkind.Transient, fmt.Errorf("openai provider %q health check: %w", cfg.Name, err))
	}
	return nil
}

// Send dispatches req as a single chat-completion call.
func (a *OpenAIAdapter) Send(ctx context.Context, req flowtypes.HandoffRequest, cfg flowtypes.ProviderConfig) (flowtypes.HandoffResponse, error) {
	client, err := a.client(cfg)
	if err != nil {
		return flowtypes.HandoffResponse{}, err
	}

	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.registry.DefaultMaxTokens(cfg.Model)
	}

	params := openai.ChatCompletionNewParams{
		Model:    cfg.Model,
		Messages: openaiMessages(req),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if req.Options.Temperature > 0 {
		params.Temperature = openai.Float(req.Options.Temperature)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return flowtypes.HandoffResponse{}, errkind.Wrap(errkind.Transient, fmt.Errorf("openai provider %q send: %w", cfg.Name, err))
	}
	if len(resp.Choices) == 0 {
		return flowtypes.HandoffResponse{}, errkind.Wrap(errkind.Protocol, fmt.Errorf("openai provider %q: empty choices", cfg.Name))
	}

	usage := flowtypes.TokenUsage{
		Prompt:     int(resp.Usage.PromptTokens),
		Completion: int(resp.Usage.CompletionTokens),
		Total:      int(resp.Usage.TotalTokens),
	}

	return flowtypes.HandoffResponse{
		RequestID: req.ID,
		Provider:  cfg.Name,
		Model:     resp.Model,
		Content:   resp.Choices[0].Message.Content,
		Tokens:    usage,
		Status:    flowtypes.StatusCompleted,
	}, nil
}

// openaiMessages converts the generic conversation history plus system
// prompt into openai-go message params.
func openaiMessages(req flowtypes.HandoffRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Context)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, turn := range req.Context {
		text := contentText(turn.Content)
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(text))
		} else {
			messages = append(messages, openai.UserMessage(text))
		}
	}
	messages = append(messages, openai.UserMessage(req.Prompt))
	return messages
}

var _ Adapter = (*OpenAIAdapter)(nil)
