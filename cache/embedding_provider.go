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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// EmbeddingProvider produces an embedding vector for a piece of text. The
// semantic component of the relevance scorer compares entry embeddings
// against a query embedding via cosine similarity.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// OpenAICompatibleEmbeddingConfig configures an OpenAICompatibleEmbeddingProvider.
type OpenAICompatibleEmbeddingConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimension  int
	HTTPClient *http.Client
}

// OpenAICompatibleEmbeddingProvider implements EmbeddingProvider against the
// OpenAI embeddings wire format, the de facto standard also served by
// Ollama (/v1), vLLM, LocalAI and LiteLLM. Ported from the teacher's
// memory/postgres.OpenAICompatibleEmbedding, generalized to guard the
// auto-detected dimension with a mutex since one provider instance can be
// shared by scorers that call Embed concurrently.
type OpenAICompatibleEmbeddingProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	mu  sync.Mutex
	dim int
}

// NewOpenAICompatibleEmbeddingProvider builds a provider from cfg.
func NewOpenAICompatibleEmbeddingProvider(cfg OpenAICompatibleEmbeddingConfig) *OpenAICompatibleEmbeddingProvider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAICompatibleEmbeddingProvider{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dim:        cfg.Dimension,
		httpClient: httpClient,
	}
}

// Dimension returns the embedding dimension, or 0 if not yet known.
func (e *OpenAICompatibleEmbeddingProvider) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

type embeddingAPIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed calls {baseURL}/embeddings with the given text and returns the
// resulting vector.
func (e *OpenAICompatibleEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]any{
		"model": e.model,
		"input": text,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var result embeddingAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embedding endpoint returned no data")
	}

	vec := result.Data[0].Embedding
	e.mu.Lock()
	if e.dim == 0 && len(vec) > 0 {
		e.dim = len(vec)
	}
	e.mu.Unlock()

	return vec, nil
}

var _ EmbeddingProvider = (*OpenAICompatibleEmbeddingProvider)(nil)
