// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// Tests for the synthesizer and tier routing.

package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
	"github.com/hearthward/hearthward/services/llm"
)

// scriptedLLM returns one scripted outcome per call, in order. Calls past
// the script's end repeat the last entry.
type scriptedLLM struct {
	outputs []string
	errs    []error
	models  []string
	calls   int
}

func (s *scriptedLLM) Generate(_ context.Context, _ string, params llm.GenerationParams) (string, error) {
	i := s.calls
	if i >= len(s.outputs) {
		i = len(s.outputs) - 1
	}
	s.calls++
	s.models = append(s.models, params.Model)
	return s.outputs[i], s.errs[i]
}

func newTestSynthesizer(client llm.LLMClient) *Synthesizer {
	router := llm.NewTierRouter(client, "fast-model", "reasoning-model")
	return NewSynthesizer(router, DefaultSynthesizerConfig())
}

func someEvidence() datatypes.FusedEvidence {
	return datatypes.FusedEvidence{Results: []datatypes.FusedResult{
		{
			SearchResult: datatypes.SearchResult{
				Source:  "weather_api",
				Title:   "Saturday forecast",
				Snippet: "Rain expected Saturday afternoon with highs near 60",
			},
			Agreement: 2,
			Sources:   []string{"weather_api", "web_search"},
		},
	}}
}

// =============================================================================
// Tier Routing
// =============================================================================

func TestTierFor(t *testing.T) {
	tests := []struct {
		category datatypes.IntentCategory
		want     llm.ModelTier
	}{
		{datatypes.IntentWeather, llm.TierFast},
		{datatypes.IntentSports, llm.TierFast},
		{datatypes.IntentEvents, llm.TierFast},
		{datatypes.IntentGeneral, llm.TierReasoning},
		{datatypes.IntentUnknown, llm.TierReasoning},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, TierFor(tc.category), "category %s", tc.category)
	}
}

// =============================================================================
// Synthesis
// =============================================================================

func TestSynthesize_CitesEvidenceSources(t *testing.T) {
	client := &scriptedLLM{
		outputs: []string{"Rain is expected Saturday afternoon with highs near 60."},
		errs:    []error{nil},
	}
	s := newTestSynthesizer(client)

	answer, err := s.Synthesize(context.Background(), SynthesisInput{
		Query:    "will it rain saturday",
		Intent:   datatypes.Intent{Category: datatypes.IntentWeather},
		Evidence: someEvidence(),
	})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"weather_api", "web_search"}, answer.Citations)
}

func TestSynthesize_FastTierForWeather(t *testing.T) {
	client := &scriptedLLM{outputs: []string{"ok"}, errs: []error{nil}}
	s := newTestSynthesizer(client)

	_, err := s.Synthesize(context.Background(), SynthesisInput{
		Query:  "forecast",
		Intent: datatypes.Intent{Category: datatypes.IntentWeather},
	})

	require.NoError(t, err)
	require.Len(t, client.models, 1)
	assert.Equal(t, "fast-model", client.models[0])
}

func TestSynthesize_RetriesOnceOnFallbackTier(t *testing.T) {
	client := &scriptedLLM{
		outputs: []string{"", "Recovered on the other tier."},
		errs:    []error{errors.New("model overloaded"), nil},
	}
	s := newTestSynthesizer(client)

	answer, err := s.Synthesize(context.Background(), SynthesisInput{
		Query:  "forecast",
		Intent: datatypes.Intent{Category: datatypes.IntentWeather},
	})

	require.NoError(t, err)
	assert.Equal(t, "Recovered on the other tier.", answer.Text)
	require.Len(t, client.models, 2)
	assert.Equal(t, "fast-model", client.models[0])
	assert.Equal(t, "reasoning-model", client.models[1])
}

func TestSynthesize_BothTiersFailingSurfacesError(t *testing.T) {
	boom := errors.New("all models down")
	client := &scriptedLLM{outputs: []string{"", ""}, errs: []error{boom, boom}}
	s := newTestSynthesizer(client)

	_, err := s.Synthesize(context.Background(), SynthesisInput{
		Query:  "anything",
		Intent: datatypes.Intent{Category: datatypes.IntentGeneral},
	})

	require.Error(t, err)
	assert.Equal(t, 2, client.calls, "exactly one fallback-tier retry")
}

// =============================================================================
// Prompt Construction
// =============================================================================

func TestBuildPrompt_MarksEmptyEvidence(t *testing.T) {
	s := newTestSynthesizer(&scriptedLLM{outputs: []string{""}, errs: []error{nil}})

	prompt := s.buildPrompt(SynthesisInput{
		Query:  "who invented the telephone",
		Intent: datatypes.Intent{Category: datatypes.IntentGeneral},
	})

	assert.Contains(t, prompt, "no external data available")
	assert.Contains(t, prompt, "who invented the telephone")
}

func TestBuildPrompt_AnnotatesCorroboration(t *testing.T) {
	s := newTestSynthesizer(&scriptedLLM{outputs: []string{""}, errs: []error{nil}})

	prompt := s.buildPrompt(SynthesisInput{
		Query:    "will it rain saturday",
		Intent:   datatypes.Intent{Category: datatypes.IntentWeather},
		Evidence: someEvidence(),
	})

	assert.Contains(t, prompt, "corroborated by 2 sources")
	assert.Contains(t, prompt, "weather_api")
}

func TestBuildPrompt_TrimsHistoryToConfiguredTurns(t *testing.T) {
	s := newTestSynthesizer(&scriptedLLM{outputs: []string{""}, errs: []error{nil}})

	history := make([]datatypes.Message, 0, 20)
	for i := 0; i < 10; i++ {
		history = append(history,
			datatypes.Message{Role: datatypes.RoleUser, Content: "question " + strings.Repeat("x", i+1)},
			datatypes.Message{Role: datatypes.RoleAssistant, Content: "answer " + strings.Repeat("y", i+1)},
		)
	}

	prompt := s.buildPrompt(SynthesisInput{
		Query:   "follow up",
		History: history,
	})

	assert.NotContains(t, prompt, "question x\n", "oldest turns are dropped")
	assert.Contains(t, prompt, "answer "+strings.Repeat("y", 10))
}
