// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Provider Results
// =============================================================================

// SearchResult is one fact retrieved from an information provider.
//
// # Description
//
// Produced by a provider client and never mutated after creation. The
// fusion engine owns results once they are returned: it may merge
// duplicates across providers but never rewrites Title or Snippet.
//
// # Fields
//
//   - Source: Registered provider name that produced the result.
//   - Title: Short headline for the fact.
//   - Snippet: The fact itself, one or two sentences.
//   - URL: Optional origin link.
//   - Score: Provider-local relevance score in [0,1].
//   - ObservedAt: When the provider observed the fact. Zero when the
//     provider has no recency signal; fusion then skips recency weighting.
type SearchResult struct {
	Source     string    `json:"source"`
	Title      string    `json:"title"`
	Snippet    string    `json:"snippet"`
	URL        string    `json:"url,omitempty"`
	Score      float64   `json:"score"`
	ObservedAt time.Time `json:"observed_at,omitzero"`
}

// =============================================================================
// Fused Evidence
// =============================================================================

// FusedResult is a SearchResult after cross-provider fusion.
//
// Agreement counts how many independent providers corroborated the same
// fact; Sources lists them. FusedScore is the authority/recency weighted
// rank score, distinct from the provider-local Score.
type FusedResult struct {
	SearchResult
	Agreement  int      `json:"agreement"`
	Sources    []string `json:"sources"`
	FusedScore float64  `json:"fused_score"`
}

// FusedEvidence is the ordered, deduplicated evidence list for one query.
//
// An empty evidence set is a valid terminal outcome of search, never an
// error. The validator uses Agreement counts to reason about "some vs.
// none" evidence.
type FusedEvidence struct {
	Results []FusedResult `json:"results"`
}

// Empty reports whether no provider returned any usable result.
func (e FusedEvidence) Empty() bool { return len(e.Results) == 0 }

// SourceNames returns the distinct provider names across all entries,
// in rank order of first appearance. Used for citation lists.
func (e FusedEvidence) SourceNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range e.Results {
		for _, s := range r.Sources {
			if !seen[s] {
				seen[s] = true
				names = append(names, s)
			}
		}
	}
	return names
}

// =============================================================================
// Answer
// =============================================================================

// Answer is a synthesized candidate response.
//
// Produced by the synthesizer, consumed by the validator, and finally by
// the orchestrator. ConfidencePassed is set by the validator when the
// candidate survived all checks; a false value on a returned answer means
// the retry budget was exhausted and Text holds the safe fallback.
type Answer struct {
	Text             string   `json:"text"`
	Citations        []string `json:"citations"`
	ConfidencePassed bool     `json:"confidence_passed"`
}
