// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package intent classifies transcribed utterances into the closed intent
// enumeration.
//
// # Description
//
// The primary path is a low-cost model call with a constrained JSON output
// schema. Any failure — transport error, timeout, malformed output, an
// intent name outside the enumeration — falls back to the deterministic
// keyword matcher. Classification therefore never returns an error:
// ambiguity is absorbed, per the pipeline's error taxonomy.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
	"github.com/hearthward/hearthward/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var classifierTracer = otel.Tracer("hearthward.intent")

// DefaultModelTimeout bounds the classification model call. The fallback
// matcher answers in microseconds, so a slow model never stalls the
// pipeline for long.
const DefaultModelTimeout = 3 * time.Second

// classifierPromptTemplate constrains the model to the closed enumeration.
const classifierPromptTemplate = `You classify a single voice-assistant utterance.
Respond with ONLY a JSON object, no prose, in this exact shape:
{"intent": "<one of: control, weather, events, sports, general, unknown>",
 "confidence": <number between 0 and 1>,
 "entities": {"<key>": "<value>"}}

For control intents, extract entities: "domain" (light, lock, thermostat,
media, fan, camera, garage), "device" (the spoken device name), "action"
(on, off, open, close, lock, unlock, play, pause, set), and "brightness"
or "volume" when a level is given.
For sports intents extract "team" when named. For weather and events
extract "location" when named.

Recent conversation:
%s

Utterance: %q`

// Classifier maps raw utterances to Intent values.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Classifier struct {
	router   *llm.TierRouter
	fallback *PatternMatcher
	timeout  time.Duration
}

// NewClassifier creates a classifier over the fast model tier.
//
// Pass a zero timeout to use DefaultModelTimeout.
func NewClassifier(router *llm.TierRouter, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = DefaultModelTimeout
	}
	return &Classifier{
		router:   router,
		fallback: NewPatternMatcher(),
		timeout:  timeout,
	}
}

// Classify maps an utterance to an Intent. It never returns an error.
//
// # Inputs
//
//   - ctx: Request context; the model call gets its own shorter deadline.
//   - text: The transcribed utterance.
//   - history: Optional recent session turns, used as classification
//     context ("what about tomorrow?" after a weather question).
func (c *Classifier) Classify(ctx context.Context, text string,
	history []datatypes.Message) datatypes.Intent {

	ctx, span := classifierTracer.Start(ctx, "Classifier.Classify")
	defer span.End()

	verdict, err := c.classifyWithModel(ctx, text, history)
	if err != nil {
		slog.Debug("intent.classifier: model path failed, using keyword fallback",
			"error", err)
		verdict = c.fallback.Match(text)
		span.SetAttributes(attribute.Bool("intent.fallback", true))
	}

	span.SetAttributes(
		attribute.String("intent.category", string(verdict.Category)),
		attribute.Float64("intent.confidence", verdict.Confidence),
	)
	return verdict
}

// modelVerdict is the constrained output schema for the model call.
type modelVerdict struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
}

func (c *Classifier) classifyWithModel(ctx context.Context, text string,
	history []datatypes.Message) (datatypes.Intent, error) {

	if c.router == nil {
		return datatypes.Intent{}, fmt.Errorf("no model router configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := fmt.Sprintf(classifierPromptTemplate, renderHistory(history), text)
	raw, err := c.router.Generate(ctx, llm.TierFast, prompt, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0),
		MaxTokens:   llm.IntPtr(256),
	})
	if err != nil {
		return datatypes.Intent{}, fmt.Errorf("classification model call failed: %w", err)
	}

	var verdict modelVerdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdict); err != nil {
		return datatypes.Intent{}, fmt.Errorf("malformed classifier output: %w", err)
	}

	category, err := datatypes.ParseIntentCategory(strings.ToLower(strings.TrimSpace(verdict.Intent)))
	if err != nil {
		return datatypes.Intent{}, err
	}

	confidence := verdict.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	entities := verdict.Entities
	if entities == nil {
		entities = map[string]string{}
	}

	return datatypes.Intent{
		Category:   category,
		Confidence: confidence,
		Entities:   entities,
	}, nil
}

// renderHistory flattens up to the last four turns for the prompt.
func renderHistory(history []datatypes.Message) string {
	if len(history) == 0 {
		return "(none)"
	}
	start := 0
	if len(history) > 4 {
		start = len(history) - 4
	}
	var sb strings.Builder
	for _, m := range history[start:] {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// extractJSON strips surrounding prose and code fences so a chatty model
// still parses. Returns the substring between the first '{' and the last
// '}', or the input unchanged when no braces are present.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
