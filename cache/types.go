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

// Package cache implements the working-set cache optimizer: token
// accounting (C1), relevance scoring (C2), tier management and
// compression (C3), and the orchestrator that ties them together to
// proactively prune the context window before it is forced to compact
// (C4). The design mirrors the teacher's plugin/contextguard package —
// same split between a pure estimation layer, a pluggable strategy, and
// an orchestrator that owns the mutable state — generalized from a single
// conversation transcript to an arbitrary table of typed cache entries.
package cache

import "time"

// EntryType is the closed set of content kinds a CacheEntry can hold.
type EntryType string

const (
	EntryTypeSystemPrompt      EntryType = "system_prompt"
	EntryTypeClaudeMD          EntryType = "claude_md"
	EntryTypeUserMessage       EntryType = "user_message"
	EntryTypeAssistantMessage  EntryType = "assistant_message"
	EntryTypeFileRead          EntryType = "file_read"
	EntryTypeFileWrite         EntryType = "file_write"
	EntryTypeToolResult        EntryType = "tool_result"
	EntryTypeBashOutput        EntryType = "bash_output"
	EntryTypeSearchResult      EntryType = "search_result"
	EntryTypeContextSummary    EntryType = "context_summary"
	EntryTypeAgentState        EntryType = "agent_state"
	EntryTypeMemorySnapshot    EntryType = "memory_snapshot"
	EntryTypeCompressedHistory EntryType = "compressed_history"
	EntryTypeSemanticIndex     EntryType = "semantic_index"
	EntryTypeEmbeddingCache    EntryType = "embedding_cache"
	EntryTypeOther             EntryType = "other"
)

// Tier is a bucket of entries sharing a compression/retention policy.
type Tier string

const (
	TierHot      Tier = "hot"
	TierWarm     Tier = "warm"
	TierCold     Tier = "cold"
	TierArchived Tier = "archived"
)

// colder reports whether t is strictly colder than other, used to assert
// the monotonic-except-on-promotion tier invariant.
func (t Tier) colder(other Tier) bool {
	rank := map[Tier]int{TierHot: 0, TierWarm: 1, TierCold: 2, TierArchived: 3}
	return rank[t] > rank[other]
}

// RelevanceComponents is the per-signal breakdown behind an overall score.
type RelevanceComponents struct {
	Recency   float64 `json:"recency"`
	Frequency float64 `json:"frequency"`
	Semantic  float64 `json:"semantic"`
	Attention float64 `json:"attention"`
	Expert    float64 `json:"expert"`
}

// RelevanceScore is the scalar-in-[0,1] summary of how useful an entry is
// to the current context, plus the components that produced it.
type RelevanceScore struct {
	Overall    float64             `json:"overall"`
	Components RelevanceComponents `json:"components"`
	ScoredAt   time.Time           `json:"scoredAt"`
	Confidence float64             `json:"confidence"`
}

// Compressed holds a compressed rendering of an entry's payload.
type Compressed struct {
	OriginalTokens   int    `json:"originalTokens"`
	CompressedTokens int    `json:"compressedTokens"`
	Method           string `json:"method"`
	Content          string `json:"content"`
}

// Entry is an indivisible unit of cached context.
type Entry struct {
	ID       string     `json:"id"`
	Type     EntryType  `json:"type"`
	Content  string     `json:"content"`
	Tokens   int        `json:"tokens"`
	Compressed *Compressed `json:"compressed,omitempty"`

	Source   string            `json:"source,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	FilePath string            `json:"filePath,omitempty"`
	ToolName string            `json:"toolName,omitempty"`

	Score RelevanceScore `json:"score"`

	Tier           Tier      `json:"tier"`
	AccessCount    int       `json:"accessCount"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	Timestamp      time.Time `json:"timestamp"`
}

// effectiveTokens returns the token weight an entry contributes to
// currentTokens: its compressed size if compressed, else its raw size.
func (e *Entry) effectiveTokens() int {
	if e.Compressed != nil {
		return e.Compressed.CompressedTokens
	}
	return e.Tokens
}

// ScoringContext is the situational input to the relevance scorer.
type ScoringContext struct {
	CurrentQuery string
	ActiveFiles  []string
	ActiveTools  []string
	SessionID    string
	Timestamp    time.Time
}

// PruningUrgency is the closed set of urgency levels a pruning decision
// can carry.
type PruningUrgency string

const (
	UrgencyNone      PruningUrgency = "none"
	UrgencySoft      PruningUrgency = "soft"
	UrgencyHard      PruningUrgency = "hard"
	UrgencyEmergency PruningUrgency = "emergency"
)

// PruningDecision is the output of getPruningDecision: what to do, and
// why.
type PruningDecision struct {
	ToPrune      []string       `json:"toPrune"`
	ToCompress   []string       `json:"toCompress"`
	ToPromote    []string       `json:"toPromote"`
	ToDemote     []string       `json:"toDemote"`
	TokensToFree int            `json:"tokensToFree"`
	Urgency      PruningUrgency `json:"urgency"`
	UtilizationBefore    float64 `json:"utilizationBefore"`
	UtilizationProjected float64 `json:"utilizationProjected"`
}

// PruningResult is the outcome of executing a PruningDecision.
type PruningResult struct {
	Pruned       int `json:"pruned"`
	Compressed   int `json:"compressed"`
	Promoted     int `json:"promoted"`
	Demoted      int `json:"demoted"`
	TokensFreed  int `json:"tokensFreed"`
}

// HookResult is the uniform result shape returned by onUserPromptSubmit
// and onPreCompact (spec.md §7).
type HookResult struct {
	Success             bool     `json:"success"`
	Error                string   `json:"error,omitempty"`
	DurationMs           int64    `json:"durationMs"`
	TokensFreed          int      `json:"tokensFreed,omitempty"`
	NewUtilization       float64  `json:"newUtilization,omitempty"`
	CompactionPrevented  bool     `json:"compactionPrevented,omitempty"`
	ActionsTaken         []string `json:"actionsTaken,omitempty"`
}

// Metrics is the snapshot returned by Optimizer.GetMetrics.
type Metrics struct {
	CurrentTokens        int     `json:"currentTokens"`
	ContextWindowSize     int     `json:"contextWindowSize"`
	Utilization           float64 `json:"utilization"`
	Hits                  int64   `json:"hits"`
	Misses                int64   `json:"misses"`
	PruningCount          int64   `json:"pruningCount"`
	CompactionPrevented   int64   `json:"compactionPrevented"`
	EntryCount            int     `json:"entryCount"`
}
