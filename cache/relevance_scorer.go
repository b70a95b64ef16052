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
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// ScorerWeights are the per-component weights used to combine
// RelevanceComponents into an overall score. They must sum to 1; NewScorer
// normalizes them defensively if they don't.
type ScorerWeights struct {
	Recency   float64
	Frequency float64
	Semantic  float64
	Attention float64
	Expert    float64
}

// DefaultScorerWeights: recency carries the largest weight, then semantic
// and frequency; attention contributes less, and the type-expert bonus is
// a small tiebreaker.
var DefaultScorerWeights = ScorerWeights{
	Recency:   0.30,
	Frequency: 0.20,
	Semantic:  0.25,
	Attention: 0.15,
	Expert:    0.10,
}

// typeExpertBonus is the per-EntryType bonus in the `expert` component.
var typeExpertBonus = map[EntryType]float64{
	EntryTypeSystemPrompt:      1.0,
	EntryTypeClaudeMD:          0.9,
	EntryTypeAgentState:        0.8,
	EntryTypeContextSummary:    0.7,
	EntryTypeMemorySnapshot:    0.7,
	EntryTypeUserMessage:       0.6,
	EntryTypeAssistantMessage:  0.5,
	EntryTypeSemanticIndex:     0.5,
	EntryTypeFileRead:          0.45,
	EntryTypeFileWrite:         0.45,
	EntryTypeToolResult:        0.4,
	EntryTypeSearchResult:      0.4,
	EntryTypeCompressedHistory: 0.35,
	EntryTypeBashOutput:        0.35,
	EntryTypeEmbeddingCache:    0.3,
	EntryTypeOther:             0.3,
}

// ScorerConfig configures a Scorer.
type ScorerConfig struct {
	// TauRecency is the exponential decay constant, in seconds, for the
	// recency component.
	TauRecency time.Duration
	// FMax bounds the frequency component's logarithmic curve.
	FMax    float64
	Weights ScorerWeights
	// Embeddings is optional; when nil the semantic component is always
	// zero and confidence is derived accordingly.
	Embeddings EmbeddingProvider
}

// Scorer is C2: the relevance scorer.
type Scorer struct {
	tauRecency time.Duration
	fMax       float64
	weights    ScorerWeights
	embeddings EmbeddingProvider

	queryMu      sync.Mutex
	queryCache   []float32
	queryCacheOf string
}

// NewScorer builds a Scorer, filling unset fields with defaults.
func NewScorer(cfg ScorerConfig) *Scorer {
	if cfg.TauRecency <= 0 {
		cfg.TauRecency = 30 * time.Minute
	}
	if cfg.FMax <= 0 {
		cfg.FMax = 20
	}
	w := cfg.Weights
	if w == (ScorerWeights{}) {
		w = DefaultScorerWeights
	}
	sum := w.Recency + w.Frequency + w.Semantic + w.Attention + w.Expert
	if sum > 0 && math.Abs(sum-1.0) > 1e-9 {
		w.Recency /= sum
		w.Frequency /= sum
		w.Semantic /= sum
		w.Attention /= sum
		w.Expert /= sum
	}
	return &Scorer{
		tauRecency: cfg.TauRecency,
		fMax:       cfg.FMax,
		weights:    w,
		embeddings: cfg.Embeddings,
	}
}

// ScoreEntries scores every entry against ctx and returns a map keyed by
// entry ID. Recomputation is idempotent for fixed inputs: entries are
// processed in an id-sorted order so ties in any downstream consumer that
// also sorts by score see a stable order.
func (s *Scorer) ScoreEntries(ctx context.Context, entries []*Entry, sctx ScoringContext) map[string]RelevanceScore {
	ids := make([]string, 0, len(entries))
	byID := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
		byID[e.ID] = e
	}
	sort.Strings(ids)

	var queryVec []float32
	if s.embeddings != nil && sctx.CurrentQuery != "" {
		queryVec = s.embedForQuery(ctx, sctx.CurrentQuery)
	}

	out := make(map[string]RelevanceScore, len(entries))
	for _, id := range ids {
		e := byID[id]
		out[id] = s.scoreOne(ctx, e, sctx, queryVec)
	}
	return out
}

// embedForQuery caches the last embedded query vector. Guarded by queryMu
// since ScoreEntries runs outside the optimizer's lock and two scoring
// passes (e.g. a prompt-submit hook overlapping a pre-compact prune) can
// call it concurrently on the same Scorer.
func (s *Scorer) embedForQuery(ctx context.Context, query string) []float32 {
	s.queryMu.Lock()
	if s.queryCacheOf == query && s.queryCache != nil {
		defer s.queryMu.Unlock()
		return s.queryCache
	}
	s.queryMu.Unlock()

	vec, err := s.embeddings.Embed(ctx, query)
	if err != nil {
		return nil
	}

	s.queryMu.Lock()
	s.queryCacheOf = query
	s.queryCache = vec
	s.queryMu.Unlock()
	return vec
}

func (s *Scorer) scoreOne(ctx context.Context, e *Entry, sctx ScoringContext, queryVec []float32) RelevanceScore {
	now := sctx.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	age := now.Sub(e.LastAccessedAt)
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-age.Seconds() / s.tauRecency.Seconds())

	frequency := math.Log(1+float64(e.AccessCount)) / math.Log(1+s.fMax)
	if frequency > 1 {
		frequency = 1
	}

	semantic := 0.0
	contributors := 2 // recency, frequency always contribute
	if queryVec != nil && s.embeddings != nil {
		entryVec, err := s.embeddings.Embed(ctx, e.Content)
		if err == nil {
			semantic = cosineSimilarity(queryVec, entryVec)
			contributors++
		}
	}

	attention := attentionScore(e, sctx)
	if attention > 0 {
		contributors++
	}

	expert, ok := typeExpertBonus[e.Type]
	if !ok {
		expert = 0.3
	}
	contributors++

	overall := s.weights.Recency*recency +
		s.weights.Frequency*frequency +
		s.weights.Semantic*semantic +
		s.weights.Attention*attention +
		s.weights.Expert*expert

	return RelevanceScore{
		Overall: overall,
		Components: RelevanceComponents{
			Recency:   recency,
			Frequency: frequency,
			Semantic:  semantic,
			Attention: attention,
			Expert:    expert,
		},
		ScoredAt:   now,
		Confidence: float64(contributors) / 5.0,
	}
}

// attentionScore implements the attention-style scorer over
// {query, activeFiles, activeTools}: it rewards entries whose file path or
// tool name is currently active, and entries whose content mentions terms
// from the current query.
func attentionScore(e *Entry, sctx ScoringContext) float64 {
	var hits, total float64

	if e.FilePath != "" {
		total++
		for _, f := range sctx.ActiveFiles {
			if f == e.FilePath {
				hits++
				break
			}
		}
	}
	if e.ToolName != "" {
		total++
		for _, t := range sctx.ActiveTools {
			if t == e.ToolName {
				hits++
				break
			}
		}
	}
	if sctx.CurrentQuery != "" && e.Content != "" {
		total++
		terms := strings.Fields(strings.ToLower(sctx.CurrentQuery))
		content := strings.ToLower(e.Content)
		var matched int
		for _, term := range terms {
			if len(term) < 3 {
				continue
			}
			if strings.Contains(content, term) {
				matched++
			}
		}
		if len(terms) > 0 && matched > 0 {
			hits += math.Min(1, float64(matched)/float64(len(terms)))
		}
	}

	if total == 0 {
		return 0
	}
	return hits / total
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos < 0 {
		return 0
	}
	if cos > 1 {
		return 1
	}
	return cos
}
