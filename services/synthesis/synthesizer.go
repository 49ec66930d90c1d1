// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package synthesis produces evidence-grounded answers and validates them
// against the retrieved facts, retrying on suspected fabrication.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
	"github.com/hearthward/hearthward/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var synthTracer = otel.Tracer("hearthward.synthesis")

// =============================================================================
// Configuration
// =============================================================================

// SynthesizerConfig tunes prompt construction and the model call.
type SynthesizerConfig struct {
	// MaxHistoryTurns is how many recent session turns enter the prompt.
	MaxHistoryTurns int

	// ModelTimeout caps one generation call. A call exceeding it is
	// treated like a provider failure and feeds the validator's retry
	// path, never a top-level error.
	ModelTimeout time.Duration

	// MaxTokens caps the generated answer length.
	MaxTokens int
}

// DefaultSynthesizerConfig returns production defaults.
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		MaxHistoryTurns: 6,
		ModelTimeout:    20 * time.Second,
		MaxTokens:       512,
	}
}

// SynthesisInput carries everything one answer attempt needs.
type SynthesisInput struct {
	Query       string
	Intent      datatypes.Intent
	Evidence    datatypes.FusedEvidence
	History     []datatypes.Message
	Temperature float32
}

// =============================================================================
// Synthesizer
// =============================================================================

const systemFraming = `You are a home voice assistant. Answer the user's question
in one to three spoken sentences. Ground every fact in the provided evidence and
never invent specifics the evidence does not support. If the evidence is empty,
answer only from general knowledge you are certain of, or say you don't know.`

// Synthesizer builds one evidence-grounded prompt per attempt and calls
// the model-generation capability.
//
// # Description
//
// Conversation-history flattening and evidence rendering are
// implementation details of this type; nothing upstream ever sees the
// prompt. Model-tier selection is a pure function of the intent, decided
// before the call.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Synthesizer struct {
	router *llm.TierRouter
	cfg    SynthesizerConfig
}

// NewSynthesizer creates a synthesizer over the tier router.
func NewSynthesizer(router *llm.TierRouter, cfg SynthesizerConfig) *Synthesizer {
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = DefaultSynthesizerConfig().MaxHistoryTurns
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = DefaultSynthesizerConfig().ModelTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultSynthesizerConfig().MaxTokens
	}
	return &Synthesizer{router: router, cfg: cfg}
}

// TierFor maps an intent to a model tier.
//
// Short factual lookups (weather, sports, events) run on the fast tier;
// open-ended general and unknown queries run on the reasoning tier. Pure
// function, no ambient state.
func TierFor(category datatypes.IntentCategory) llm.ModelTier {
	switch category {
	case datatypes.IntentWeather, datatypes.IntentSports, datatypes.IntentEvents:
		return llm.TierFast
	default:
		return llm.TierReasoning
	}
}

// Synthesize produces one candidate answer.
//
// # Description
//
// Calls the model once on the intent's tier. On failure — including a
// timeout — it makes exactly one immediate retry on the other tier, then
// gives up; the caller maps the error to the exhausted fallback. The
// returned answer cites every evidence source that entered the prompt.
func (s *Synthesizer) Synthesize(ctx context.Context, in SynthesisInput) (datatypes.Answer, error) {
	ctx, span := synthTracer.Start(ctx, "Synthesizer.Synthesize")
	defer span.End()

	tier := TierFor(in.Intent.Category)
	prompt := s.buildPrompt(in)
	span.SetAttributes(
		attribute.String("synthesis.tier", string(tier)),
		attribute.Int("synthesis.evidence_entries", len(in.Evidence.Results)),
	)

	text, err := s.generate(ctx, tier, prompt, in.Temperature)
	if err != nil {
		fallbackTier := llm.TierReasoning
		if tier == llm.TierReasoning {
			fallbackTier = llm.TierFast
		}
		slog.Warn("synthesis: model call failed, retrying on fallback tier",
			"tier", string(tier), "fallback_tier", string(fallbackTier), "error", err)
		text, err = s.generate(ctx, fallbackTier, prompt, in.Temperature)
		if err != nil {
			return datatypes.Answer{}, fmt.Errorf("synthesis failed on both tiers: %w", err)
		}
	}

	answer := datatypes.Answer{
		Text:      strings.TrimSpace(text),
		Citations: in.Evidence.SourceNames(),
	}
	if answer.Citations == nil {
		answer.Citations = []string{}
	}
	return answer, nil
}

func (s *Synthesizer) generate(ctx context.Context, tier llm.ModelTier, prompt string,
	temperature float32) (string, error) {

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ModelTimeout)
	defer cancel()

	return s.router.Generate(callCtx, tier, prompt, llm.GenerationParams{
		Temperature: llm.Float32Ptr(temperature),
		MaxTokens:   llm.IntPtr(s.cfg.MaxTokens),
	})
}

// buildPrompt flattens framing, history, evidence, and the query into the
// single generation prompt.
func (s *Synthesizer) buildPrompt(in SynthesisInput) string {
	var sb strings.Builder
	sb.WriteString(systemFraming)
	sb.WriteString("\n\n")

	if len(in.History) > 0 {
		sb.WriteString("Recent conversation:\n")
		start := 0
		if len(in.History) > s.cfg.MaxHistoryTurns {
			start = len(in.History) - s.cfg.MaxHistoryTurns
		}
		for _, m := range in.History[start:] {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
		sb.WriteString("\n")
	}

	if in.Evidence.Empty() {
		sb.WriteString("Evidence: no external data available.\n\n")
	} else {
		sb.WriteString("Evidence:\n")
		for i, entry := range in.Evidence.Results {
			fmt.Fprintf(&sb, "%d. [%s] %s — %s", i+1,
				strings.Join(entry.Sources, ", "), entry.Title, entry.Snippet)
			if entry.Agreement > 1 {
				fmt.Fprintf(&sb, " (corroborated by %d sources)", entry.Agreement)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "User: %s", in.Query)
	return sb.String()
}
