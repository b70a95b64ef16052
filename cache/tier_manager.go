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
	"math"
	"regexp"
	"time"
)

// TierPolicy holds the per-tier knobs: how much a compressed entry shrinks,
// and how long an entry sits at this tier untouched before it is eligible
// for transition to the next-colder tier.
type TierPolicy struct {
	CompressionRatio  float64
	TransitionTimeout time.Duration
}

// TierManagerConfig configures a TierManager.
type TierManagerConfig struct {
	Hot      TierPolicy
	Warm     TierPolicy
	Cold     TierPolicy
	Archived TierPolicy

	// PromoteOnAccess controls whether Get promotes an entry back to hot.
	PromoteOnAccess bool
	// PreserveTypes are entry types that are never demoted or pruned.
	PreserveTypes []EntryType
	// PreservePattern, if non-empty, is a regex; entries whose content
	// matches it are never demoted or pruned.
	PreservePattern string
}

// DefaultTierManagerConfig matches spec.md §4.3's suggested ratios.
func DefaultTierManagerConfig() TierManagerConfig {
	return TierManagerConfig{
		Hot:             TierPolicy{CompressionRatio: 1.0, TransitionTimeout: 10 * time.Minute},
		Warm:            TierPolicy{CompressionRatio: 0.75, TransitionTimeout: 30 * time.Minute},
		Cold:            TierPolicy{CompressionRatio: 0.5, TransitionTimeout: 2 * time.Hour},
		Archived:        TierPolicy{CompressionRatio: 0.3},
		PromoteOnAccess: true,
		PreserveTypes:   []EntryType{EntryTypeSystemPrompt, EntryTypeClaudeMD},
	}
}

// TransitionTotals is the return value of ProcessTransitions.
type TransitionTotals struct {
	HotToWarm     int
	WarmToCold    int
	ColdToArchived int
	TokensSaved   int
}

// TierManager is C3: the temporal compressor / tier manager.
type TierManager struct {
	cfg     TierManagerConfig
	preserveRe *regexp.Regexp
}

// NewTierManager builds a TierManager from cfg, filling in defaults for
// zero-value tier policies.
func NewTierManager(cfg TierManagerConfig) *TierManager {
	def := DefaultTierManagerConfig()
	if cfg.Hot == (TierPolicy{}) {
		cfg.Hot = def.Hot
	}
	if cfg.Warm == (TierPolicy{}) {
		cfg.Warm = def.Warm
	}
	if cfg.Cold == (TierPolicy{}) {
		cfg.Cold = def.Cold
	}
	if cfg.Archived == (TierPolicy{}) {
		cfg.Archived = def.Archived
	}
	if cfg.PreserveTypes == nil {
		cfg.PreserveTypes = def.PreserveTypes
	}
	tm := &TierManager{cfg: cfg}
	if cfg.PreservePattern != "" {
		if re, err := regexp.Compile(cfg.PreservePattern); err == nil {
			tm.preserveRe = re
		}
	}
	return tm
}

// Policy returns the configured policy for tier t.
func (m *TierManager) Policy(t Tier) TierPolicy {
	switch t {
	case TierHot:
		return m.cfg.Hot
	case TierWarm:
		return m.cfg.Warm
	case TierCold:
		return m.cfg.Cold
	default:
		return m.cfg.Archived
	}
}

// PromoteOnAccess reports whether Get should promote entries to hot.
func (m *TierManager) PromoteOnAccess() bool { return m.cfg.PromoteOnAccess }

// IsPreserved reports whether e must never be demoted or pruned.
func (m *TierManager) IsPreserved(e *Entry) bool {
	for _, t := range m.cfg.PreserveTypes {
		if e.Type == t {
			return true
		}
	}
	if m.preserveRe != nil && m.preserveRe.MatchString(e.Content) {
		return true
	}
	return false
}

// CompressEntry returns a Compressed payload for e at targetTier. Promotion
// to hot clears compression entirely rather than producing a payload.
func (m *TierManager) CompressEntry(e *Entry, targetTier Tier) *Compressed {
	if targetTier == TierHot {
		return nil
	}
	ratio := m.Policy(targetTier).CompressionRatio
	compressedTokens := int(math.Round(float64(e.Tokens) * ratio))
	content := e.Content
	if targetTier != TierHot && len(content) > 0 {
		content = truncateToRatio(content, ratio)
	}
	return &Compressed{
		OriginalTokens:   e.Tokens,
		CompressedTokens: compressedTokens,
		Method:           "tier_ratio:" + string(targetTier),
		Content:          content,
	}
}

// truncateToRatio keeps the leading ratio-fraction of s, a stand-in for
// the real summarization pipeline: good enough to bound memory and
// deterministic for tests, without requiring a live model call to
// recompute compressed content at every tier walk.
func truncateToRatio(s string, ratio float64) string {
	n := int(float64(len(s)) * ratio)
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	return s[:n]
}

// ProcessTransitions classifies entries by how long they have sat
// untouched at their current tier, demoting any that have exceeded their
// tier's TransitionTimeout. Preserved entries are skipped entirely.
func (m *TierManager) ProcessTransitions(entries []*Entry, now time.Time) TransitionTotals {
	var totals TransitionTotals
	for _, e := range entries {
		if m.IsPreserved(e) {
			continue
		}
		idle := now.Sub(e.LastAccessedAt)
		var next Tier
		switch e.Tier {
		case TierHot:
			if m.cfg.Hot.TransitionTimeout <= 0 || idle < m.cfg.Hot.TransitionTimeout {
				continue
			}
			next = TierWarm
		case TierWarm:
			if m.cfg.Warm.TransitionTimeout <= 0 || idle < m.cfg.Warm.TransitionTimeout {
				continue
			}
			next = TierCold
		case TierCold:
			if m.cfg.Cold.TransitionTimeout <= 0 || idle < m.cfg.Cold.TransitionTimeout {
				continue
			}
			next = TierArchived
		default:
			continue
		}

		before := e.effectiveTokens()
		e.Compressed = m.CompressEntry(e, next)
		e.Tier = next
		totals.TokensSaved += before - e.effectiveTokens()

		switch next {
		case TierWarm:
			totals.HotToWarm++
		case TierCold:
			totals.WarmToCold++
		case TierArchived:
			totals.ColdToArchived++
		}
	}
	return totals
}
