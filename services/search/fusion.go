// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
)

// =============================================================================
// Fusion Configuration
// =============================================================================

// FusionConfig tunes the fusion engine.
type FusionConfig struct {
	// SimilarityThreshold is the minimum token-set similarity at which two
	// results from different providers merge into one entry.
	SimilarityThreshold float64

	// MinConfidence drops fused entries scoring below it, except that the
	// single best entry always survives when any results exist.
	MinConfidence float64

	// RecencyHalfLife controls recency decay: a result this old scores
	// half the recency credit of a fresh one. Zero disables recency.
	RecencyHalfLife time.Duration

	// AgreementBonus is the per-extra-source multiplier applied to the
	// fused score. Two corroborating sources score (1 + bonus) times one.
	AgreementBonus float64
}

// DefaultFusionConfig returns production defaults.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		SimilarityThreshold: 0.75,
		MinConfidence:       0.25,
		RecencyHalfLife:     24 * time.Hour,
		AgreementBonus:      0.15,
	}
}

// WeightFunc supplies the per-intent source-authority weight. The
// registry's WeightFor satisfies it.
type WeightFunc func(category datatypes.IntentCategory, source string) float64

// =============================================================================
// Fusion Engine
// =============================================================================

// Fusion deduplicates, cross-validates, and ranks provider results into a
// single ordered evidence list.
//
// # Thread Safety
//
// Stateless apart from immutable configuration; safe for concurrent use.
type Fusion struct {
	cfg    FusionConfig
	weight WeightFunc
	now    func() time.Time
}

// NewFusion creates a fusion engine. weight must not be nil.
func NewFusion(cfg FusionConfig, weight WeightFunc) *Fusion {
	return &Fusion{cfg: cfg, weight: weight, now: time.Now}
}

// Fuse merges raw provider results into ranked evidence.
//
// # Description
//
// Steps, in order:
//  1. Near-duplicate detection across sources: normalized title+snippet
//     token similarity merges duplicates into one entry, incrementing
//     its agreement count. Feeding the identical result twice yields one
//     entry with agreement 2, never two entries.
//  2. Scoring: authority weight for the intent, blended with recency
//     decay where a timestamp is available, multiplied by the agreement
//     bonus.
//  3. Descending sort by fused score.
//  4. Threshold: entries below MinConfidence drop unless that would empty
//     the set — the single best entry is always preserved so the
//     validator can reason about "some vs. none" evidence.
func (f *Fusion) Fuse(category datatypes.IntentCategory,
	results []datatypes.SearchResult) datatypes.FusedEvidence {

	if len(results) == 0 {
		return datatypes.FusedEvidence{}
	}

	// Step 1: merge near-duplicates.
	type bucket struct {
		entry  datatypes.FusedResult
		tokens map[string]bool
	}
	var buckets []*bucket

	for _, res := range results {
		tokens := tokenSet(res.Title + " " + res.Snippet)
		merged := false
		for _, b := range buckets {
			if jaccard(tokens, b.tokens) >= f.cfg.SimilarityThreshold {
				b.entry.Agreement++
				if !containsString(b.entry.Sources, res.Source) {
					b.entry.Sources = append(b.entry.Sources, res.Source)
				}
				// Keep the higher-scored variant as the representative.
				if res.Score > b.entry.Score {
					src := b.entry.Sources
					agr := b.entry.Agreement
					b.entry = datatypes.FusedResult{SearchResult: res, Sources: src, Agreement: agr}
				}
				if res.ObservedAt.After(b.entry.ObservedAt) {
					b.entry.ObservedAt = res.ObservedAt
				}
				merged = true
				break
			}
		}
		if !merged {
			buckets = append(buckets, &bucket{
				entry: datatypes.FusedResult{
					SearchResult: res,
					Agreement:    1,
					Sources:      []string{res.Source},
				},
				tokens: tokens,
			})
		}
	}

	// Step 2: score.
	fused := make([]datatypes.FusedResult, 0, len(buckets))
	for _, b := range buckets {
		b.entry.FusedScore = f.score(category, b.entry)
		fused = append(fused, b.entry)
	}

	// Step 3: rank.
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].FusedScore > fused[j].FusedScore
	})

	// Step 4: threshold, preserving at least the best entry.
	kept := fused[:0]
	for i, entry := range fused {
		if entry.FusedScore >= f.cfg.MinConfidence || i == 0 {
			kept = append(kept, entry)
		}
	}

	return datatypes.FusedEvidence{Results: kept}
}

// score blends source authority with recency and the agreement bonus.
func (f *Fusion) score(category datatypes.IntentCategory, entry datatypes.FusedResult) float64 {
	// Highest authority across corroborating sources wins.
	authority := 0.0
	for _, src := range entry.Sources {
		if w := f.weight(category, src); w > authority {
			authority = w
		}
	}

	base := authority
	if f.cfg.RecencyHalfLife > 0 && !entry.ObservedAt.IsZero() {
		age := f.now().Sub(entry.ObservedAt)
		if age < 0 {
			age = 0
		}
		recency := math.Exp2(-age.Hours() / f.cfg.RecencyHalfLife.Hours())
		base = 0.7*authority + 0.3*recency
	}

	bonus := 1 + f.cfg.AgreementBonus*float64(entry.Agreement-1)
	return base * bonus
}

// =============================================================================
// Similarity Helpers
// =============================================================================

// tokenSet lowercases, strips punctuation, and splits into a word set.
func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			set[word.String()] = true
			word.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			word.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return set
}

// jaccard computes intersection-over-union of two token sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
