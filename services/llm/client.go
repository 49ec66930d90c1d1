// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the model-generation capability behind an opaque
// generate contract, with adapters for OpenAI, Ollama, and Anthropic
// backends plus a tier router that picks a model per intent.
package llm

import "context"

// GenerationParams carries per-call sampling parameters.
//
// Pointer fields distinguish "unset, use backend default" from an explicit
// zero. Model optionally overrides the client's default model for one call;
// the tier router uses it to steer between the fast and reasoning tiers on
// a single backend connection.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
	Model       string   `json:"model,omitempty"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Float32Ptr is a convenience for building GenerationParams literals.
func Float32Ptr(v float32) *float32 { return &v }

// IntPtr is a convenience for building GenerationParams literals.
func IntPtr(v int) *int { return &v }
