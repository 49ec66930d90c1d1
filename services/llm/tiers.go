// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"log/slog"
)

// =============================================================================
// Model Tiers
// =============================================================================

// ModelTier names a cost/capability class of model.
//
// # Description
//
// The pipeline runs two kinds of generation: short constrained calls
// (intent classification, factual lookups) and open-ended reasoning.
// Running both on one large model wastes latency on the cheap calls and
// running both on one small model degrades the hard ones, so each call
// site declares a tier and the router maps it to a concrete model name.
type ModelTier string

const (
	// TierFast is for short factual lookups and constrained-schema calls.
	TierFast ModelTier = "fast"

	// TierReasoning is for open-ended synthesis over fused evidence.
	TierReasoning ModelTier = "reasoning"
)

// TierRouter resolves a ModelTier to a concrete model on one backend.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type TierRouter struct {
	client LLMClient
	models map[ModelTier]string
}

// NewTierRouter wraps a backend client with tier-to-model routing.
//
// # Inputs
//
//   - client: The backend LLM client all tiers share.
//   - fastModel / reasoningModel: Concrete model names. Either may be
//     empty, in which case calls for that tier use the client's default
//     model.
func NewTierRouter(client LLMClient, fastModel, reasoningModel string) *TierRouter {
	slog.Info("Initializing LLM tier router",
		"fast_model", fastModel,
		"reasoning_model", reasoningModel,
	)
	return &TierRouter{
		client: client,
		models: map[ModelTier]string{
			TierFast:      fastModel,
			TierReasoning: reasoningModel,
		},
	}
}

// Generate runs one generation on the model registered for the tier.
func (r *TierRouter) Generate(ctx context.Context, tier ModelTier, prompt string,
	params GenerationParams) (string, error) {

	if params.Model == "" {
		params.Model = r.models[tier]
	}
	return r.client.Generate(ctx, prompt, params)
}

// ModelFor returns the model name registered for a tier ("" means the
// backend default).
func (r *TierRouter) ModelFor(tier ModelTier) string {
	return r.models[tier]
}
