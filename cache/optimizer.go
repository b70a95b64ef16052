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
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// filePathPattern extracts path-shaped tokens ("/a/b.ext") out of a prompt,
// per spec.md §4.4's onUserPromptSubmit contract.
var filePathPattern = regexp.MustCompile(`(?:[./][\w\-./]*)?\b[\w\-]+/[\w\-./]+\.\w+\b`)

// knownToolNames is the fixed set onUserPromptSubmit scans a prompt for.
var knownToolNames = []string{
	"Read", "Write", "Edit", "Bash", "Grep", "Glob", "WebFetch", "WebSearch", "Task",
}

// PruningConfig configures the orchestrator's urgency thresholds.
type PruningConfig struct {
	SoftThreshold       float64
	HardThreshold       float64
	EmergencyThreshold  float64
	TargetUtilization   float64
	MinRelevanceScore   float64
	PreserveRecentCount int
}

// DefaultPruningConfig matches the levels implied by spec.md's scenarios.
func DefaultPruningConfig() PruningConfig {
	return PruningConfig{
		SoftThreshold:       0.70,
		HardThreshold:       0.85,
		EmergencyThreshold:  0.95,
		TargetUtilization:   0.60,
		MinRelevanceScore:   0.2,
		PreserveRecentCount: 5,
	}
}

// OptimizerConfig configures a new Optimizer.
type OptimizerConfig struct {
	ContextWindowSize int
	Pruning           PruningConfig
	Tiers             TierManagerConfig
	Scorer            ScorerConfig
}

// Optimizer is C4: the cache optimizer orchestrator binding the token
// accountant, relevance scorer and tier manager into the public contract
// external collaborators call through (the hook handlers, the worker
// daemon, and any CLI/MCP surface layered on top).
type Optimizer struct {
	mu sync.Mutex

	tokens  *TokenCounter
	scorer  *Scorer
	tiers   *TierManager
	pruning PruningConfig

	entries map[string]*Entry
	order   []string // insertion order, for stable iteration
}

// NewOptimizer builds an Optimizer from cfg, filling defaults.
func NewOptimizer(cfg OptimizerConfig) *Optimizer {
	pruning := cfg.Pruning
	if pruning == (PruningConfig{}) {
		pruning = DefaultPruningConfig()
	}
	return &Optimizer{
		tokens:  NewTokenCounter(cfg.ContextWindowSize),
		scorer:  NewScorer(cfg.Scorer),
		tiers:   NewTierManager(cfg.Tiers),
		pruning: pruning,
		entries: make(map[string]*Entry),
	}
}

// Initialize is a no-op hook point kept for symmetry with the other
// components' lifecycle methods (spec.md's public contract lists it
// alongside add/get/etc even though the optimizer has no external
// resources to open).
func (o *Optimizer) Initialize(context.Context) error { return nil }

// Add counts tokens for content, runs a proactive pruning pass if the
// insertion would push utilization past softThreshold, then inserts a new
// hot-tier entry and returns its ID.
func (o *Optimizer) Add(ctx context.Context, content string, typ EntryType, metadata Entry) (string, error) {
	o.mu.Lock()
	tokens := o.tokens.CountTokens(content, typ)
	if o.tokens.PredictUtilization(tokens) > o.pruning.SoftThreshold {
		o.mu.Unlock()
		if _, err := o.Prune(ctx, nil); err != nil {
			return "", fmt.Errorf("proactive prune before add: %w", err)
		}
		o.mu.Lock()
	}
	defer o.mu.Unlock()

	id := uuid.NewString()
	now := time.Now()
	e := &Entry{
		ID:             id,
		Type:           typ,
		Content:        content,
		Tokens:         tokens,
		Source:         metadata.Source,
		SessionID:      metadata.SessionID,
		Tags:           metadata.Tags,
		FilePath:       metadata.FilePath,
		ToolName:       metadata.ToolName,
		Tier:           TierHot,
		AccessCount:    1,
		LastAccessedAt: now,
		Timestamp:      now,
		Score:          RelevanceScore{Overall: 1.0, ScoredAt: now, Confidence: 1.0},
	}
	o.entries[id] = e
	o.order = append(o.order, id)
	o.tokens.AddEntry(tokens)
	return id, nil
}

// Get looks up id, recording a hit/miss, bumping access bookkeeping on a
// hit, and promoting to hot if configured.
func (o *Optimizer) Get(id string) (*Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.entries[id]
	if !ok {
		o.tokens.RecordMiss()
		return nil, false
	}
	o.tokens.RecordHit()
	e.AccessCount++
	e.LastAccessedAt = time.Now()
	if o.tiers.PromoteOnAccess() && e.Tier != TierHot {
		before := e.effectiveTokens()
		e.Tier = TierHot
		e.Compressed = nil
		o.tokens.UpdateEntry(before, e.effectiveTokens())
	}
	cp := *e
	return &cp, true
}

// Delete removes id from the table, freeing its tokens.
func (o *Optimizer) Delete(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deleteLocked(id)
}

func (o *Optimizer) deleteLocked(id string) bool {
	e, ok := o.entries[id]
	if !ok {
		return false
	}
	o.tokens.RemoveEntry(e.effectiveTokens())
	delete(o.entries, id)
	for i, oid := range o.order {
		if oid == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear empties the table.
func (o *Optimizer) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range o.order {
		if e, ok := o.entries[id]; ok {
			o.tokens.RemoveEntry(e.effectiveTokens())
		}
	}
	o.entries = make(map[string]*Entry)
	o.order = nil
}

// ScoreAll drives the scorer over every entry and writes the scores back.
func (o *Optimizer) ScoreAll(ctx context.Context, sctx ScoringContext) map[string]RelevanceScore {
	o.mu.Lock()
	entries := o.liveEntriesLocked()
	o.mu.Unlock()

	scores := o.scorer.ScoreEntries(ctx, entries, sctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, score := range scores {
		if e, ok := o.entries[id]; ok {
			e.Score = score
		}
	}
	return scores
}

func (o *Optimizer) liveEntriesLocked() []*Entry {
	out := make([]*Entry, 0, len(o.entries))
	for _, id := range o.order {
		if e, ok := o.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (o *Optimizer) urgencyFor(utilization float64) PruningUrgency {
	switch {
	case utilization >= o.pruning.EmergencyThreshold:
		return UrgencyEmergency
	case utilization >= o.pruning.HardThreshold:
		return UrgencyHard
	case utilization >= o.pruning.SoftThreshold:
		return UrgencySoft
	default:
		return UrgencyNone
	}
}

// GetPruningDecision computes what should be pruned/compressed/promoted/
// demoted to bring utilization back to target, per spec.md §4.4's
// four-step algorithm.
func (o *Optimizer) GetPruningDecision(ctx context.Context, sctx ScoringContext) PruningDecision {
	o.mu.Lock()
	utilizationBefore := o.tokens.Utilization()
	urgency := o.urgencyFor(utilizationBefore)
	if urgency == UrgencyNone {
		o.mu.Unlock()
		return PruningDecision{Urgency: UrgencyNone, UtilizationBefore: utilizationBefore, UtilizationProjected: utilizationBefore}
	}
	entries := o.liveEntriesLocked()
	o.mu.Unlock()

	scores := o.scorer.ScoreEntries(ctx, entries, sctx)
	for _, e := range entries {
		if s, ok := scores[e.ID]; ok {
			e.Score = s
		}
	}

	target := o.pruning.TargetUtilization
	if urgency == UrgencyEmergency {
		target = o.pruning.SoftThreshold
	}

	o.mu.Lock()
	tokensToFree := o.tokens.GetTokensToFree(target)
	windowSize := o.tokens.contextWindowSize
	o.mu.Unlock()

	return o.buildDecision(entries, sctx, urgency, tokensToFree, windowSize, utilizationBefore)
}

func (o *Optimizer) buildDecision(entries []*Entry, sctx ScoringContext, urgency PruningUrgency, tokensToFree, windowSize int, utilizationBefore float64) PruningDecision {
	candidates := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if o.tiers.IsPreserved(e) {
			continue
		}
		candidates = append(candidates, e)
	}
	recent := recentlyAccessed(candidates, o.pruning.PreserveRecentCount)
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score.Overall != candidates[j].Score.Overall {
			return candidates[i].Score.Overall < candidates[j].Score.Overall
		}
		return candidates[i].ID < candidates[j].ID
	})

	decision := PruningDecision{
		Urgency:           urgency,
		TokensToFree:      tokensToFree,
		UtilizationBefore: utilizationBefore,
	}

	var accounted int
	for _, e := range candidates {
		if recent[e.ID] {
			continue
		}
		if accounted >= tokensToFree {
			break
		}
		switch {
		case e.Score.Overall < o.pruning.MinRelevanceScore:
			decision.ToPrune = append(decision.ToPrune, e.ID)
			accounted += e.effectiveTokens()
		case e.Score.Overall < 0.5 && e.Tier != TierCold:
			decision.ToDemote = append(decision.ToDemote, e.ID)
			decision.ToCompress = append(decision.ToCompress, e.ID)
			savings := int(float64(e.Tokens) * (1 - o.tiers.Policy(TierWarm).CompressionRatio))
			accounted += savings
		}
	}

	freedRatio := float64(accounted) / float64(max(windowSize, 1))
	decision.UtilizationProjected = utilizationBefore - freedRatio
	if decision.UtilizationProjected < 0 {
		decision.UtilizationProjected = 0
	}
	return decision
}

// recentlyAccessed returns the set of the n most-recently-accessed
// candidate IDs, which buildDecision's walk must skip (spec.md's
// preserveRecentCount).
func recentlyAccessed(candidates []*Entry, n int) map[string]bool {
	set := make(map[string]bool, n)
	if n <= 0 || len(candidates) == 0 {
		return set
	}
	byRecency := append([]*Entry(nil), candidates...)
	sort.Slice(byRecency, func(i, j int) bool {
		return byRecency[i].LastAccessedAt.After(byRecency[j].LastAccessedAt)
	})
	if n > len(byRecency) {
		n = len(byRecency)
	}
	for _, e := range byRecency[:n] {
		set[e.ID] = true
	}
	return set
}

// Prune executes decision (computing a fresh one with an empty
// ScoringContext if nil), updating the token accountant as it goes.
// Per-entry failures are swallowed and the loop continues; the call only
// reports an error if the table itself became inconsistent.
func (o *Optimizer) Prune(ctx context.Context, decision *PruningDecision) (PruningResult, error) {
	var d PruningDecision
	if decision != nil {
		d = *decision
	} else {
		d = o.GetPruningDecision(ctx, ScoringContext{Timestamp: time.Now()})
	}

	var result PruningResult
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, id := range d.ToPrune {
		before := 0
		if e, ok := o.entries[id]; ok {
			before = e.effectiveTokens()
		}
		if o.deleteLocked(id) {
			result.Pruned++
			result.TokensFreed += before
		}
	}
	for _, id := range d.ToCompress {
		e, ok := o.entries[id]
		if !ok {
			continue
		}
		before := e.effectiveTokens()
		e.Compressed = o.tiers.CompressEntry(e, TierWarm)
		e.Tier = TierWarm
		after := e.effectiveTokens()
		o.tokens.UpdateEntry(before, after)
		result.Compressed++
		result.Demoted++
		result.TokensFreed += before - after
	}
	for _, id := range d.ToPromote {
		e, ok := o.entries[id]
		if !ok {
			continue
		}
		before := e.effectiveTokens()
		e.Tier = TierHot
		e.Compressed = nil
		o.tokens.UpdateEntry(before, e.effectiveTokens())
		result.Promoted++
	}
	return result, nil
}

// Compress explicitly compresses the given entry IDs into their current
// tier's policy. Compression failure on a single entry is non-fatal: the
// entry is left at its previous tier and the loop continues.
func (o *Optimizer) Compress(ids []string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	var n int
	for _, id := range ids {
		e, ok := o.entries[id]
		if !ok || e.Tier == TierHot {
			continue
		}
		before := e.effectiveTokens()
		compressed := o.tiers.CompressEntry(e, e.Tier)
		if compressed == nil {
			continue
		}
		e.Compressed = compressed
		o.tokens.UpdateEntry(before, e.effectiveTokens())
		n++
	}
	return n
}

// TransitionTiers runs the tier manager's age/access classification over
// every live entry.
func (o *Optimizer) TransitionTiers() TransitionTotals {
	o.mu.Lock()
	entries := o.liveEntriesLocked()
	o.mu.Unlock()
	return o.tiers.ProcessTransitions(entries, time.Now())
}

// OnUserPromptSubmit parses prompt for file paths and known tool names,
// builds a ScoringContext, proactively prunes if utilization exceeds
// softThreshold, and always runs tier transitions.
func (o *Optimizer) OnUserPromptSubmit(ctx context.Context, prompt, sessionID string) HookResult {
	start := time.Now()

	utilizationBefore := o.tokens.Utilization()
	sctx := ScoringContext{
		CurrentQuery: prompt,
		ActiveFiles:  filePathPattern.FindAllString(prompt, -1),
		ActiveTools:  matchToolNames(prompt),
		SessionID:    sessionID,
		Timestamp:    start,
	}

	var actions []string
	var tokensFreed int
	if utilizationBefore > o.pruning.SoftThreshold {
		decision := o.GetPruningDecision(ctx, sctx)
		result, err := o.Prune(ctx, &decision)
		if err != nil {
			return HookResult{Success: false, Error: err.Error(), DurationMs: time.Since(start).Milliseconds()}
		}
		tokensFreed = result.TokensFreed
		actions = append(actions, "proactive_prune")
	}

	totals := o.TransitionTiers()
	if totals.HotToWarm+totals.WarmToCold+totals.ColdToArchived > 0 {
		actions = append(actions, "tier_transition")
	}

	newUtilization := o.tokens.Utilization()
	compactionPrevented := utilizationBefore >= o.pruning.EmergencyThreshold && newUtilization < o.pruning.EmergencyThreshold
	if compactionPrevented {
		o.tokens.RecordCompactionPrevented()
	}

	return HookResult{
		Success:             true,
		DurationMs:          time.Since(start).Milliseconds(),
		TokensFreed:         tokensFreed,
		NewUtilization:      newUtilization,
		CompactionPrevented: compactionPrevented,
		ActionsTaken:        actions,
	}
}

func matchToolNames(prompt string) []string {
	var found []string
	for _, name := range knownToolNames {
		if strings.Contains(prompt, name) {
			found = append(found, name)
		}
	}
	return found
}

// OnPreCompact is the emergency path: it forces emergency urgency, extends
// toPrune beyond the computed decision until an aggressive freed-token
// target is met, and reports success only if utilization drops below
// emergencyThreshold.
func (o *Optimizer) OnPreCompact(ctx context.Context) HookResult {
	start := time.Now()
	sctx := ScoringContext{Timestamp: start}

	o.mu.Lock()
	utilizationBefore := o.tokens.Utilization()
	windowSize := o.tokens.contextWindowSize
	o.mu.Unlock()

	decision := o.buildDecision(func() []*Entry {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.liveEntriesLocked()
	}(), sctx, UrgencyEmergency, 0, windowSize, utilizationBefore)

	aggressiveTarget := o.tokens.GetTokensToFree(o.pruning.SoftThreshold)
	decision.TokensToFree = aggressiveTarget

	o.mu.Lock()
	entries := o.liveEntriesLocked()
	byID := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	already := make(map[string]bool, len(decision.ToPrune))
	var accounted int
	for _, id := range decision.ToPrune {
		already[id] = true
		if e, ok := byID[id]; ok {
			accounted += e.effectiveTokens()
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score.Overall != entries[j].Score.Overall {
			return entries[i].Score.Overall < entries[j].Score.Overall
		}
		return entries[i].ID < entries[j].ID
	})

	for _, e := range entries {
		if accounted >= aggressiveTarget {
			break
		}
		if already[e.ID] || o.tiers.IsPreserved(e) {
			continue
		}
		decision.ToPrune = append(decision.ToPrune, e.ID)
		accounted += e.effectiveTokens()
		already[e.ID] = true
	}
	o.mu.Unlock()

	result, err := o.Prune(ctx, &decision)
	actions := []string{"emergency_prune"}
	if err != nil {
		return HookResult{Success: false, Error: err.Error(), DurationMs: time.Since(start).Milliseconds(), ActionsTaken: actions}
	}

	newUtilization := o.tokens.Utilization()
	success := newUtilization < o.pruning.EmergencyThreshold
	if success {
		o.tokens.RecordCompactionPrevented()
	}

	return HookResult{
		Success:             success,
		DurationMs:          time.Since(start).Milliseconds(),
		TokensFreed:         result.TokensFreed,
		NewUtilization:      newUtilization,
		CompactionPrevented: success,
		ActionsTaken:        actions,
	}
}

// GetMetrics returns a snapshot of the accountant's counters plus the
// live entry count.
func (o *Optimizer) GetMetrics() Metrics {
	o.mu.Lock()
	count := len(o.entries)
	o.mu.Unlock()
	m := o.tokens.Snapshot()
	m.EntryCount = count
	return m
}

// GetUtilization returns currentTokens / contextWindowSize.
func (o *Optimizer) GetUtilization() float64 {
	return o.tokens.Utilization()
}

// GetEntries returns a defensive copy of every live entry, in insertion
// order.
func (o *Optimizer) GetEntries() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Entry, 0, len(o.entries))
	for _, id := range o.order {
		if e, ok := o.entries[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// GetEntry returns a defensive copy of a single entry.
func (o *Optimizer) GetEntry(id string) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
