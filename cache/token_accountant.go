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

import "sync"

// charsPerToken is the teacher's ~4-chars-per-token heuristic
// (compaction_utils.go:estimatePartTokens), generalized per entry type:
// structured/code-shaped content tends to tokenize more densely than
// prose, so file and tool content gets a slightly lower divisor (more
// tokens per character).
var charsPerToken = map[EntryType]float64{
	EntryTypeSystemPrompt:      4.0,
	EntryTypeClaudeMD:          4.0,
	EntryTypeUserMessage:       4.0,
	EntryTypeAssistantMessage:  4.0,
	EntryTypeFileRead:          3.5,
	EntryTypeFileWrite:         3.5,
	EntryTypeToolResult:        3.7,
	EntryTypeBashOutput:        3.7,
	EntryTypeSearchResult:      3.7,
	EntryTypeContextSummary:    4.0,
	EntryTypeAgentState:        3.5,
	EntryTypeMemorySnapshot:    3.5,
	EntryTypeCompressedHistory: 4.0,
	EntryTypeSemanticIndex:     3.5,
	EntryTypeEmbeddingCache:    3.5,
	EntryTypeOther:             4.0,
}

// TokenCounter is C1: the pure accounting layer. It never errors — it
// maintains an aggregate token count and hit/miss/pruning counters that
// the optimizer updates as entries move through the table.
type TokenCounter struct {
	mu sync.Mutex

	contextWindowSize int
	currentTokens     int

	hits                int64
	misses              int64
	pruningCount        int64
	compactionPrevented int64
}

// NewTokenCounter creates a counter for a context window of the given
// size in tokens.
func NewTokenCounter(contextWindowSize int) *TokenCounter {
	return &TokenCounter{contextWindowSize: contextWindowSize}
}

// CountTokens estimates the token count of content of the given type
// using the chars-per-token heuristic for that type.
func (c *TokenCounter) CountTokens(content string, typ EntryType) int {
	ratio, ok := charsPerToken[typ]
	if !ok {
		ratio = 4.0
	}
	return int(float64(len(content)) / ratio)
}

// AddEntry records tokens as newly live.
func (c *TokenCounter) AddEntry(tokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTokens += tokens
}

// UpdateEntry replaces an entry's token contribution, e.g. after
// compression changes its effective size.
func (c *TokenCounter) UpdateEntry(oldTokens, newTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTokens += newTokens - oldTokens
	if c.currentTokens < 0 {
		c.currentTokens = 0
	}
}

// RemoveEntry drops tokens from the aggregate and records a prune.
func (c *TokenCounter) RemoveEntry(tokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTokens -= tokens
	if c.currentTokens < 0 {
		c.currentTokens = 0
	}
	c.pruningCount++
}

// RecordHit increments the hit counter.
func (c *TokenCounter) RecordHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits++
}

// RecordMiss increments the miss counter.
func (c *TokenCounter) RecordMiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.misses++
}

// RecordCompactionPrevented increments the compaction-prevented counter.
func (c *TokenCounter) RecordCompactionPrevented() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compactionPrevented++
}

// CurrentTokens returns the live aggregate token count.
func (c *TokenCounter) CurrentTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTokens
}

// Utilization returns currentTokens / contextWindowSize.
func (c *TokenCounter) Utilization() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.utilizationLocked()
}

func (c *TokenCounter) utilizationLocked() float64 {
	if c.contextWindowSize <= 0 {
		return 0
	}
	return float64(c.currentTokens) / float64(c.contextWindowSize)
}

// PredictUtilization returns the utilization that would result from
// adding extra tokens, without mutating state.
func (c *TokenCounter) PredictUtilization(extra int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.contextWindowSize <= 0 {
		return 0
	}
	return float64(c.currentTokens+extra) / float64(c.contextWindowSize)
}

// GetTokensToFree returns max(0, currentTokens - targetUtilization*windowSize).
func (c *TokenCounter) GetTokensToFree(targetUtilization float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := int(targetUtilization * float64(c.contextWindowSize))
	toFree := c.currentTokens - target
	if toFree < 0 {
		return 0
	}
	return toFree
}

// Snapshot returns the counters as a Metrics value (EntryCount is filled
// in by the caller, which knows the live entry table).
func (c *TokenCounter) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metrics{
		CurrentTokens:       c.currentTokens,
		ContextWindowSize:   c.contextWindowSize,
		Utilization:         c.utilizationLocked(),
		Hits:                c.hits,
		Misses:              c.misses,
		PruningCount:        c.pruningCount,
		CompactionPrevented: c.compactionPrevented,
	}
}
