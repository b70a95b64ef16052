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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/claude-flow/v3/errkind"
	"github.com/claude-flow/v3/flowtypes"
)

const ollamaHealthCheckTimeout = 5 * time.Second

// ollamaChatMessage is one turn of ollama's /api/chat wire format.
type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaChatOptions   `json:"options,omitempty"`
}

type ollamaChatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model           string             `json:"model"`
	Message         ollamaChatMessage  `json:"message"`
	Done            bool               `json:"done"`
	PromptEvalCount int                `json:"prompt_eval_count"`
	EvalCount       int                `json:"eval_count"`
}

// OllamaAdapter speaks ollama's local REST wire protocol directly over
// net/http+encoding/json, the same raw-HTTP style the teacher uses for
// its OpenAI-compatible embedding client (memory/postgres/embedding.go)
// and its provider.json fetcher (model_registry_crush.go): no official
// Go SDK ships for ollama's local API, so there is no pack library to
// wire in here.
type OllamaAdapter struct {
	httpClient *http.Client
}

// NewOllamaAdapter creates an adapter using a default-timeout HTTP client.
func NewOllamaAdapter() *OllamaAdapter {
	return &OllamaAdapter{httpClient: &http.Client{}}
}

// HealthCheck issues a GET against /api/tags, ollama's model-listing
// endpoint, since it requires no payload and succeeds whenever the
// daemon is reachable.
func (a *OllamaAdapter) HealthCheck(ctx context.Context, cfg flowtypes.ProviderConfig) error {
	ctx, cancel := context.WithTimeout(ctx, ollamaHealthCheckTimeout)
	defer cancel()

	url := strings.TrimRight(cfg.Endpoint, "/") + "/api/tags"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errkind.Wrap(errkind.Configuration, fmt.Errorf("ollama provider %q: build health request: %w", cfg.Name, err))
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return errkind.Wrap(errkind.Transient, fmt.Errorf("ollama provider %q health check: %w", cfg.Name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errkind.Wrap(errkind.Transient, fmt.Errorf("ollama provider %q health check: status %d", cfg.Name, resp.StatusCode))
	}
	return nil
}

// Send dispatches req to ollama's /api/chat endpoint with stream disabled.
func (a *OllamaAdapter) Send(ctx context.Context, req flowtypes.HandoffRequest, cfg flowtypes.ProviderConfig) (flowtypes.HandoffResponse, error) {
	body := ollamaChatRequest{
		Model:    cfg.Model,
		Messages: ollamaMessages(req),
		Stream:   false,
		Options: ollamaChatOptions{
			Temperature: req.Options.Temperature,
			NumPredict:  req.Options.MaxTokens,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return flowtypes.HandoffResponse{}, errkind.Wrap(errkind.Invariant, fmt.Errorf("ollama provider %q: marshal request: %w", cfg.Name, err))
	}

	url := strings.TrimRight(cfg.Endpoint, "/") + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return flowtypes.HandoffResponse{}, errkind.Wrap(errkind.Configuration, fmt.Errorf("ollama provider %q: build send request: %w", cfg.Name, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return flowtypes.HandoffResponse{}, errkind.Wrap(errkind.Transient, fmt.Errorf("ollama provider %q send: %w", cfg.Name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return flowtypes.HandoffResponse{}, errkind.Wrap(errkind.Transient, fmt.Errorf("ollama provider %q send: status %d", cfg.Name, resp.StatusCode))
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return flowtypes.HandoffResponse{}, errkind.Wrap(errkind.Protocol, fmt.Errorf("ollama provider %q: decode response: %w", cfg.Name, err))
	}

	usage := flowtypes.TokenUsage{
		Prompt:     parsed.PromptEvalCount,
		Completion: parsed.EvalCount,
		Total:      parsed.PromptEvalCount + parsed.EvalCount,
	}

	return flowtypes.HandoffResponse{
		RequestID: req.ID,
		Provider:  cfg.Name,
		Model:     parsed.Model,
		Content:   parsed.Message.Content,
		Tokens:    usage,
		Status:    flowtypes.StatusCompleted,
	}, nil
}

// ollamaMessages converts the generic conversation history plus system
// prompt into ollama chat messages.
func ollamaMessages(req flowtypes.HandoffRequest) []ollamaChatMessage {
	messages := make([]ollamaChatMessage, 0, len(req.Context)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, turn := range req.Context {
		messages = append(messages, ollamaChatMessage{Role: turn.Role, Content: contentText(turn.Content)})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: req.Prompt})
	return messages
}

var _ Adapter = (*OllamaAdapter)(nil)
