// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package synthesis

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var validatorTracer = otel.Tracer("hearthward.synthesis.validator")

// =============================================================================
// Validation State Machine
// =============================================================================

// ValidationState enumerates the validator's states.
//
// Transitions: Pending → Accepted | Retrying; Retrying → Pending;
// Pending → Exhausted once the retry budget is exceeded. Accepted and
// Exhausted are terminal.
type ValidationState string

const (
	StatePending   ValidationState = "pending"
	StateAccepted  ValidationState = "accepted"
	StateRetrying  ValidationState = "retrying"
	StateExhausted ValidationState = "exhausted"
)

// FailureReason classifies why a candidate failed validation.
type FailureReason string

const (
	// ReasonInsufficientEvidence: the model hedged and no evidence exists.
	// Drives search escalation before the next attempt.
	ReasonInsufficientEvidence FailureReason = "insufficient_evidence"

	// ReasonIgnorancePhrase: the model hedged despite available evidence.
	ReasonIgnorancePhrase FailureReason = "ignorance_phrase"

	// ReasonUncorroborated: no fact in the answer appears in the evidence.
	ReasonUncorroborated FailureReason = "uncorroborated"
)

// CheckOutcome is the verdict for one candidate answer.
type CheckOutcome struct {
	OK     bool
	Reason FailureReason
}

// =============================================================================
// Configuration
// =============================================================================

// ValidatorConfig tunes the retry loop.
type ValidatorConfig struct {
	// RetryBudget caps re-synthesis: an always-failing answer makes
	// exactly RetryBudget+1 synthesis attempts before the fallback.
	RetryBudget int

	// InitialTemperature for the first attempt; each retry multiplies it
	// by TemperatureDecay to push the model toward the evidence.
	InitialTemperature float32
	TemperatureDecay   float32

	// FallbackAnswer is returned verbatim from the Exhausted state.
	FallbackAnswer string

	// MinFactOverlap is how many significant tokens an answer must share
	// with some evidence entry to count as grounded.
	MinFactOverlap int
}

// DefaultValidatorConfig returns production defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		RetryBudget:        2,
		InitialTemperature: 0.7,
		TemperatureDecay:   0.5,
		FallbackAnswer:     "I don't have reliable information on that.",
		MinFactOverlap:     3,
	}
}

// ignoranceSignatures is the closed catalogue of explicit-ignorance
// phrasings. Matching is paraphrase-tolerant: a signature matches when
// every one of its tokens appears in a single sentence of the answer,
// in any order, so "I'm not able to find current information" still
// matches {not, able, find, information}.
var ignoranceSignatures = [][]string{
	{"dont", "have", "information"},
	{"dont", "have", "access"},
	{"no", "information", "available"},
	{"not", "able", "find"},
	{"cannot", "find", "information"},
	{"unable", "provide", "information"},
	{"dont", "know"},
	{"not", "sure"},
	{"cannot", "access", "real", "time"},
	{"cant", "access", "real", "time"},
	{"as", "an", "ai"},
	{"knowledge", "cutoff"},
}

// answerStopwords are excluded from the fact-overlap check so agreement
// on filler words never counts as grounding.
var answerStopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"from": true, "have": true, "will": true, "your": true, "their": true,
	"about": true, "there": true, "been": true, "would": true, "should": true,
	"tomorrow": true, "today": true, "tonight": true,
}

// =============================================================================
// Validator
// =============================================================================

// Validator checks candidate answers against the evidence set and drives
// the bounded retry/escalation loop.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator creates a validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	def := DefaultValidatorConfig()
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = def.RetryBudget
	}
	if cfg.InitialTemperature <= 0 {
		cfg.InitialTemperature = def.InitialTemperature
	}
	if cfg.TemperatureDecay <= 0 {
		cfg.TemperatureDecay = def.TemperatureDecay
	}
	if cfg.FallbackAnswer == "" {
		cfg.FallbackAnswer = def.FallbackAnswer
	}
	if cfg.MinFactOverlap <= 0 {
		cfg.MinFactOverlap = def.MinFactOverlap
	}
	return &Validator{cfg: cfg}
}

// FallbackAnswer returns the configured safe answer for the Exhausted state.
func (v *Validator) FallbackAnswer() string { return v.cfg.FallbackAnswer }

// Check runs the two validation checks on one candidate.
//
// # Description
//
// (a) scans for explicit-ignorance signatures; (b) when evidence is
// non-empty, cross-checks that at least one fact in the answer overlaps
// the evidence. An empty evidence set with a confident answer passes:
// the synthesizer's prompt already told the model no external data was
// available, so a confident answer is drawn from general knowledge.
func (v *Validator) Check(answerText string, evidence datatypes.FusedEvidence) CheckOutcome {
	if v.matchesIgnorance(answerText) {
		if evidence.Empty() {
			return CheckOutcome{OK: false, Reason: ReasonInsufficientEvidence}
		}
		return CheckOutcome{OK: false, Reason: ReasonIgnorancePhrase}
	}
	if !evidence.Empty() && !v.grounded(answerText, evidence) {
		return CheckOutcome{OK: false, Reason: ReasonUncorroborated}
	}
	return CheckOutcome{OK: true}
}

// LoopDeps are the collaborators the retry loop re-invokes.
//
// Escalate re-runs search with the expanded provider subset and returns
// the new evidence; it is called at most once per request, only when the
// failure was insufficient evidence. May be nil for control-free tests.
type LoopDeps struct {
	Synthesize func(ctx context.Context, in SynthesisInput) (datatypes.Answer, error)
	Escalate   func(ctx context.Context) datatypes.FusedEvidence

	// OnReject is invoked once per rejected candidate with the failure
	// reason; the pipeline feeds it into the retry metrics. May be nil.
	OnReject func(reason FailureReason)
}

// Run drives the full Pending/Retrying loop for one request.
//
// # Outputs
//
//   - datatypes.Answer: The accepted candidate (ConfidencePassed true) or
//     the safe fallback (ConfidencePassed false).
//   - ValidationState: StateAccepted or StateExhausted.
//   - int: Number of synthesis attempts actually made.
func (v *Validator) Run(ctx context.Context, in SynthesisInput, deps LoopDeps) (datatypes.Answer, ValidationState, int) {
	ctx, span := validatorTracer.Start(ctx, "Validator.Run")
	defer span.End()

	temperature := v.cfg.InitialTemperature
	escalated := false
	attempts := 0

	for attempt := 0; attempt <= v.cfg.RetryBudget; attempt++ {
		in.Temperature = temperature

		candidate, err := deps.Synthesize(ctx, in)
		attempts++
		if err != nil {
			// Synthesis already retried its fallback tier internally;
			// a second failure exhausts the request.
			slog.Warn("synthesis.validator: synthesis failed", "attempt", attempts, "error", err)
			break
		}

		outcome := v.Check(candidate.Text, in.Evidence)
		if outcome.OK {
			candidate.ConfidencePassed = true
			span.SetAttributes(
				attribute.String("validation.state", string(StateAccepted)),
				attribute.Int("validation.attempts", attempts),
			)
			return candidate, StateAccepted, attempts
		}

		slog.Info("synthesis.validator: candidate rejected",
			"attempt", attempts,
			"reason", string(outcome.Reason),
		)
		if deps.OnReject != nil {
			deps.OnReject(outcome.Reason)
		}

		// Retrying: lower the temperature and, when the failure was
		// insufficient evidence, escalate search once before the next
		// synthesis.
		temperature *= v.cfg.TemperatureDecay
		if outcome.Reason == ReasonInsufficientEvidence && !escalated && deps.Escalate != nil {
			in.Evidence = deps.Escalate(ctx)
			escalated = true
		}
	}

	span.SetAttributes(
		attribute.String("validation.state", string(StateExhausted)),
		attribute.Int("validation.attempts", attempts),
	)
	return datatypes.Answer{
		Text:             v.cfg.FallbackAnswer,
		Citations:        []string{},
		ConfidencePassed: false,
	}, StateExhausted, attempts
}

// =============================================================================
// Check Internals
// =============================================================================

// matchesIgnorance scans each sentence for any signature token set.
func (v *Validator) matchesIgnorance(answer string) bool {
	for _, sentence := range splitSentences(answer) {
		tokens := normalizedTokens(sentence)
		set := make(map[string]bool, len(tokens))
		for _, t := range tokens {
			set[t] = true
		}
		for _, sig := range ignoranceSignatures {
			all := true
			for _, want := range sig {
				if !set[want] {
					all = false
					break
				}
			}
			if all {
				return true
			}
		}
	}
	return false
}

// grounded reports whether the answer shares enough significant tokens
// with at least one evidence entry.
func (v *Validator) grounded(answer string, evidence datatypes.FusedEvidence) bool {
	answerTokens := make(map[string]bool)
	for _, t := range normalizedTokens(answer) {
		if len(t) > 3 && !answerStopwords[t] {
			answerTokens[t] = true
		}
	}
	for _, entry := range evidence.Results {
		overlap := 0
		// Distinct tokens only: a snippet repeating one shared word must
		// not satisfy the overlap threshold on its own.
		counted := make(map[string]bool)
		for _, t := range normalizedTokens(entry.Title + " " + entry.Snippet) {
			if len(t) > 3 && !answerStopwords[t] && answerTokens[t] && !counted[t] {
				counted[t] = true
				overlap++
				if overlap >= v.cfg.MinFactOverlap {
					return true
				}
			}
		}
	}
	return false
}

func splitSentences(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n' || r == ';'
	})
}

// normalizedTokens lowercases, drops apostrophes, and splits on
// non-alphanumerics, so "don't" and "dont" normalize identically.
func normalizedTokens(s string) []string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "’", "")
	return strings.FieldsFunc(s, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
}
