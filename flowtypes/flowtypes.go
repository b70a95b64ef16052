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

// Package flowtypes holds the wire-level record types shared across the
// handoff, provider, background, worker and store packages. They are kept
// in one leaf package, instead of dynamic maps, so every producer and
// consumer agrees on a single explicit shape and so packages that both
// need to refer to them (e.g. store and worker) don't have to import one
// another.
package flowtypes

import (
	"time"

	"google.golang.org/genai"
)

// HandoffStatus is the lifecycle state of a HandoffRequest/Response pair.
type HandoffStatus string

const (
	StatusPending    HandoffStatus = "pending"
	StatusProcessing HandoffStatus = "processing"
	StatusCompleted  HandoffStatus = "completed"
	StatusFailed     HandoffStatus = "failed"
	StatusCancelled  HandoffStatus = "cancelled"
	StatusTimeout    HandoffStatus = "timeout"
)

// IsTerminal reports whether the status will never change again.
func (s HandoffStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// ContextMessage is a single turn of conversation handed to a provider
// alongside a HandoffRequest. Content reuses genai.Part the way the
// teacher's contextguard package represents conversation turns, so the
// same token-estimation helpers apply to both subsystems.
type ContextMessage struct {
	Role    string        `json:"role"`
	Content []*genai.Part `json:"content"`
}

// RequestMetadata carries provenance for a HandoffRequest.
type RequestMetadata struct {
	SessionID string    `json:"sessionId"`
	TaskID    string    `json:"taskId,omitempty"`
	Source    string    `json:"source,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RequestOptions are per-request knobs that affect dispatch.
type RequestOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Background  bool    `json:"background,omitempty"`
	// OnComplete, when set, is invoked synchronously by the handoff
	// manager once the final HandoffResponse is produced, whatever its
	// status (by Send, or by OnBackgroundComplete for background jobs). It is
	// never serialized (a queue item that crosses a flush/restart
	// boundary loses its callback, matching spec.md's contract that only
	// synchronous sends are guaranteed to observe onComplete).
	OnComplete func(*HandoffResponse) `json:"-"`
}

// HandoffRequest is the unit of work submitted to the handoff manager.
type HandoffRequest struct {
	ID                   string            `json:"id"`
	ProviderHint         string            `json:"providerHint"`
	SystemPrompt         string            `json:"systemPrompt,omitempty"`
	Prompt               string            `json:"prompt"`
	Context              []ContextMessage  `json:"context,omitempty"`
	CallbackInstructions string            `json:"callbackInstructions,omitempty"`
	Metadata             RequestMetadata   `json:"metadata"`
	Options              RequestOptions    `json:"options"`
}

// TokenUsage reports token accounting for a completed HandoffResponse.
type TokenUsage struct {
	Prompt        int      `json:"prompt"`
	Completion    int      `json:"completion"`
	Total         int      `json:"total"`
	EstimatedCost *float64 `json:"estimatedCost,omitempty"`
}

// HandoffResponse is the result of dispatching a HandoffRequest.
type HandoffResponse struct {
	RequestID           string        `json:"requestId"`
	Provider            string        `json:"provider"`
	Model               string        `json:"model"`
	Content              string       `json:"content"`
	Tokens              TokenUsage    `json:"tokens"`
	DurationMs          int64         `json:"durationMs"`
	Status              HandoffStatus `json:"status"`
	Error               string        `json:"error,omitempty"`
	InjectedInstructions string       `json:"injectedInstructions,omitempty"`
	CompletedAt         time.Time     `json:"completedAt,omitempty"`
}

// HandoffQueueItem is a persisted view of a request moving through the
// handoff manager's queue.
type HandoffQueueItem struct {
	Request     HandoffRequest   `json:"request"`
	Status      HandoffStatus    `json:"status"`
	Position    int64            `json:"position"`
	AddedAt     time.Time        `json:"addedAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	Response    *HandoffResponse `json:"response,omitempty"`
	Retries     int              `json:"retries"`
}

// ProviderType is the closed set of supported wire protocols (spec.md §4.7).
type ProviderType string

const (
	ProviderTypeOllama    ProviderType = "local-ollama"
	ProviderTypeAnthropic ProviderType = "anthropic-style"
	ProviderTypeOpenAI    ProviderType = "openai-style"
)

// ProviderConfig describes one configured model endpoint.
type ProviderConfig struct {
	Name     string       `json:"name"`
	Type     ProviderType `json:"type"`
	Endpoint string       `json:"endpoint"`
	Model    string       `json:"model"`
	Priority int          `json:"priority"`
	Healthy  bool         `json:"healthy"`
	APIKey   string       `json:"apiKey,omitempty"`
}

// HandoffMetrics is the handoff manager's running counters, exposed by
// GetMetrics and persisted by the store as "current".
type HandoffMetrics struct {
	Successful      int64            `json:"successful"`
	Failed          int64            `json:"failed"`
	Cancelled       int64            `json:"cancelled"`
	Tokens          int64            `json:"tokens"`
	ByProvider      map[string]int64 `json:"byProvider"`
	AvgLatencyMs    float64          `json:"avgLatencyMs"`
	CircuitsOpen    int              `json:"circuitsOpen"`
}

// MetricsSnapshot is a point-in-time copy of HandoffMetrics appended to
// the store's history.
type MetricsSnapshot struct {
	TakenAt time.Time      `json:"takenAt"`
	Metrics HandoffMetrics `json:"metrics"`
}

// WorkerConfig is the per-type schedule configuration for the worker
// daemon (spec.md §3, §6).
type WorkerConfig struct {
	Type        string `json:"type"`
	IntervalMs  int64  `json:"intervalMs"`
	OffsetMs    int64  `json:"offsetMs"`
	Priority    int    `json:"priority"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// WorkerState is the persisted run-history for a single worker type.
type WorkerState struct {
	RunCount          int64      `json:"runCount"`
	SuccessCount      int64      `json:"successCount"`
	FailureCount      int64      `json:"failureCount"`
	AverageDurationMs float64    `json:"averageDurationMs"`
	LastRun           *time.Time `json:"lastRun,omitempty"`
	NextRun           *time.Time `json:"nextRun,omitempty"`
	IsRunning         bool       `json:"isRunning"`
}

// HookResult is the uniform shape returned by every hook/handoff-facing
// user-visible operation, letting a caller distinguish success, a handled
// failure and a cancellation without inspecting internals (spec.md §7).
type HookResult struct {
	Success           bool     `json:"success"`
	Error             string   `json:"error,omitempty"`
	DurationMs        int64    `json:"durationMs"`
	TokensFreed       int      `json:"tokensFreed,omitempty"`
	NewUtilization    float64  `json:"newUtilization,omitempty"`
	CompactionPrevented bool   `json:"compactionPrevented,omitempty"`
	ActionsTaken      []string `json:"actionsTaken,omitempty"`
}
