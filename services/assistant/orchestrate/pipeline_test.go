// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// End-to-end pipeline tests with scripted collaborators: no network, no
// real models.

package orchestrate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthward/hearthward/pkg/config"
	"github.com/hearthward/hearthward/services/assistant/datatypes"
	"github.com/hearthward/hearthward/services/assistant/observability"
	"github.com/hearthward/hearthward/services/assistant/session"
	"github.com/hearthward/hearthward/services/devicectl"
	"github.com/hearthward/hearthward/services/intent"
	"github.com/hearthward/hearthward/services/llm"
	"github.com/hearthward/hearthward/services/policy"
	"github.com/hearthward/hearthward/services/search"
	"github.com/hearthward/hearthward/services/synthesis"
)

const pipelineRoutingYAML = `
routes:
  weather: [weather_api]
  general: [web_search]
  unknown: [web_search]
escalation:
  weather: [weather_api, web_search]
weights:
  default:
    weather_api: 1.0
    web_search: 0.9
`

// scriptedLLM returns one scripted outcome per call; calls past the end
// repeat the last entry.
type scriptedLLM struct {
	outputs []string
	errs    []error
	calls   int
}

func (s *scriptedLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	i := s.calls
	if i >= len(s.outputs) {
		i = len(s.outputs) - 1
	}
	s.calls++
	return s.outputs[i], s.errs[i]
}

type fakeController struct {
	domain, action, target string
	params                 map[string]string
	result                 devicectl.Result
	err                    error
	calls                  int
}

func (c *fakeController) Execute(_ context.Context, domain, action, target string,
	params map[string]string) (devicectl.Result, error) {

	c.calls++
	c.domain, c.action, c.target, c.params = domain, action, target, params
	return c.result, c.err
}

// harness wires a full pipeline from scripted parts. The classifier's
// model always errors so classification uses the deterministic keyword
// fallback; the synthesizer's model follows the given script.
type harness struct {
	pipeline     *Pipeline
	synthLLM     *scriptedLLM
	controller   *fakeController
	manager      *session.Manager
	metrics      *observability.QueryMetrics
	weatherCalls *int32
	webCalls     *int32
	weatherEmpty bool // weather_api returns no results when set
}

func newHarness(t *testing.T, synthOutputs []string) *harness {
	t.Helper()

	h := &harness{
		synthLLM:     &scriptedLLM{outputs: synthOutputs, errs: make([]error, len(synthOutputs))},
		controller:   &fakeController{result: devicectl.Result{Status: "ok", Message: "Bedroom lamp dimmed."}},
		metrics:      observability.NewMetrics(prometheus.NewRegistry()),
		weatherCalls: new(int32),
		webCalls:     new(int32),
	}

	classifyLLM := &scriptedLLM{outputs: []string{""}, errs: []error{errors.New("model offline")}}
	classifier := intent.NewClassifier(llm.NewTierRouter(classifyLLM, "fast", "reasoning"), time.Second)

	gate, err := policy.NewGate(nil)
	require.NoError(t, err)

	weatherProvider := &search.FuncProvider{
		ProviderName: "weather_api",
		Fn: func(context.Context, string) ([]datatypes.SearchResult, error) {
			atomic.AddInt32(h.weatherCalls, 1)
			if h.weatherEmpty {
				return nil, nil
			}
			return []datatypes.SearchResult{{
				Source:     "weather_api",
				Title:      "Saturday forecast",
				Snippet:    "Rain expected Saturday afternoon with highs near 60",
				Score:      0.9,
				ObservedAt: time.Now(),
			}}, nil
		},
	}
	webProvider := &search.FuncProvider{
		ProviderName: "web_search",
		Fn: func(context.Context, string) ([]datatypes.SearchResult, error) {
			atomic.AddInt32(h.webCalls, 1)
			return []datatypes.SearchResult{{
				Source:     "web_search",
				Title:      "Weekend weather report",
				Snippet:    "Rain expected Saturday afternoon across the region",
				Score:      0.8,
				ObservedAt: time.Now(),
			}}, nil
		},
	}
	registry, err := search.NewRegistry(
		[]search.Provider{weatherProvider, webProvider},
		config.NewStaticProvider([]byte(pipelineRoutingYAML)),
	)
	require.NoError(t, err)
	fusion := search.NewFusion(search.DefaultFusionConfig(), registry.WeightFor)
	coordinator := search.NewCoordinator(registry, fusion, search.DefaultCoordinatorConfig())

	synthesizer := synthesis.NewSynthesizer(
		llm.NewTierRouter(h.synthLLM, "fast", "reasoning"),
		synthesis.DefaultSynthesizerConfig(),
	)
	validator := synthesis.NewValidator(synthesis.DefaultValidatorConfig())

	h.manager = session.NewManager(session.NewMemoryStore(), session.DefaultManagerConfig(), nil)

	p, err := NewPipeline(PipelineConfig{
		Gate:        gate,
		Classifier:  classifier,
		Coordinator: coordinator,
		Synthesizer: synthesizer,
		Validator:   validator,
		Controller:  h.controller,
		Sessions:    h.manager,
		Metrics:     h.metrics,
	})
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func weatherRequest() *datatypes.QueryRequest {
	return &datatypes.QueryRequest{
		Text:     "will it rain saturday",
		Mode:     "owner",
		DeviceID: "kitchen-speaker",
	}
}

func TestNewPipelineRequiresCollaborators(t *testing.T) {
	_, err := NewPipeline(PipelineConfig{})
	assert.Error(t, err)
}

func TestExecuteAnswersWeatherQueryWithCitations(t *testing.T) {
	h := newHarness(t, []string{"Rain is expected Saturday afternoon with highs near 60."})
	ctx := context.Background()

	resp, err := h.pipeline.Execute(ctx, weatherRequest())
	require.NoError(t, err)

	assert.Equal(t, "Rain is expected Saturday afternoon with highs near 60.", resp.Answer)
	assert.Equal(t, "weather", resp.Intent)
	assert.Contains(t, resp.Citations, "weather_api")
	assert.NotEmpty(t, resp.SessionID)
	assert.EqualValues(t, 1, atomic.LoadInt32(h.weatherCalls))
	assert.EqualValues(t, 0, atomic.LoadInt32(h.webCalls), "web_search is not routed for weather")

	// The exchange landed in session history.
	sess, err := h.manager.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "will it rain saturday", sess.Messages[0].Content)
	assert.Equal(t, resp.Answer, sess.Messages[1].Content)
}

func TestExecuteReusesSessionAcrossRequests(t *testing.T) {
	h := newHarness(t, []string{"Rain is expected Saturday afternoon with highs near 60."})
	ctx := context.Background()

	first, err := h.pipeline.Execute(ctx, weatherRequest())
	require.NoError(t, err)

	second, err := h.pipeline.Execute(ctx, weatherRequest())
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	sess, err := h.manager.Get(ctx, second.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 4)
	assert.Equal(t, 2, sess.InteractionCount)
}

func TestExecuteDeniedControlSkipsSearchAndSynthesis(t *testing.T) {
	h := newHarness(t, []string{"never spoken"})
	ctx := context.Background()

	resp, err := h.pipeline.Execute(ctx, &datatypes.QueryRequest{
		Text:     "lock the front door",
		Mode:     "guest",
		DeviceID: "hall-speaker",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Answer, "a denial is spoken, not silent")
	assert.Equal(t, "control", resp.Intent)
	assert.Equal(t, 0, h.synthLLM.calls, "denied requests never reach synthesis")
	assert.Equal(t, 0, h.controller.calls, "denied requests never reach the controller")
	assert.EqualValues(t, 0, atomic.LoadInt32(h.weatherCalls))
	assert.EqualValues(t, 0, atomic.LoadInt32(h.webCalls))

	// Denials are still remembered as a turn.
	sess, err := h.manager.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)
}

func TestExecuteAnswersGuestUnclassifiedQuery(t *testing.T) {
	h := newHarness(t, []string{"Rain is expected Saturday afternoon across the region."})
	ctx := context.Background()

	// No control verb, info keyword, or question-word prefix: the keyword
	// fallback classifies this as unknown, which must be answered, not
	// denied, in guest mode.
	resp, err := h.pipeline.Execute(ctx, &datatypes.QueryRequest{
		Text:     "recommend a good book",
		Mode:     "guest",
		DeviceID: "hall-speaker",
	})
	require.NoError(t, err)

	assert.Equal(t, "unknown", resp.Intent)
	assert.Equal(t, "Rain is expected Saturday afternoon across the region.", resp.Answer)
	assert.EqualValues(t, 1, atomic.LoadInt32(h.webCalls),
		"unknown queries search their routed providers")
}

func TestExecuteDispatchesAllowedControl(t *testing.T) {
	h := newHarness(t, []string{"never spoken"})
	ctx := context.Background()

	resp, err := h.pipeline.Execute(ctx, &datatypes.QueryRequest{
		Text:     "dim the bedroom lamp to 30 percent",
		Mode:     "owner",
		DeviceID: "bedroom-speaker",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bedroom lamp dimmed.", resp.Answer)
	require.Equal(t, 1, h.controller.calls)
	assert.Equal(t, "light", h.controller.domain)
	assert.Equal(t, "dim", h.controller.action)
	assert.Equal(t, "bedroom lamp", h.controller.target)
	assert.Equal(t, "30", h.controller.params["brightness"])
	assert.Equal(t, 0, h.synthLLM.calls, "control intents never reach synthesis")
}

func TestExecuteControllerFailureIsSpoken(t *testing.T) {
	h := newHarness(t, []string{"never spoken"})
	h.controller.err = errors.New("bridge offline")
	ctx := context.Background()

	resp, err := h.pipeline.Execute(ctx, &datatypes.QueryRequest{
		Text:     "dim the bedroom lamp to 30 percent",
		Mode:     "owner",
		DeviceID: "bedroom-speaker",
	})
	require.NoError(t, err, "an unreachable device degrades, never errors")
	assert.Equal(t, controllerUnreachableAnswer, resp.Answer)
}

func TestExecuteFallsBackWhenValidationExhausts(t *testing.T) {
	h := newHarness(t, []string{"I'm not sure about that."})
	ctx := context.Background()

	resp, err := h.pipeline.Execute(ctx, weatherRequest())
	require.NoError(t, err)

	cfg := synthesis.DefaultValidatorConfig()
	assert.Equal(t, cfg.FallbackAnswer, resp.Answer)
	assert.Equal(t, cfg.RetryBudget+1, h.synthLLM.calls)

	// Every rejected candidate is counted against its failure reason.
	assert.Equal(t, float64(cfg.RetryBudget+1), testutil.ToFloat64(
		h.metrics.ValidationRetriesTotal.WithLabelValues(string(synthesis.ReasonIgnorancePhrase))))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FallbackAnswersTotal))
}

func TestExecuteEscalatesSearchOnInsufficientEvidence(t *testing.T) {
	h := newHarness(t, []string{
		"I don't have information on that.",
		"Rain is expected Saturday afternoon with highs near 60.",
	})
	h.weatherEmpty = true
	ctx := context.Background()

	resp, err := h.pipeline.Execute(ctx, weatherRequest())
	require.NoError(t, err)

	assert.Equal(t, "Rain is expected Saturday afternoon with highs near 60.", resp.Answer)
	assert.EqualValues(t, 1, atomic.LoadInt32(h.webCalls),
		"escalation widens the provider subset")
	assert.EqualValues(t, 2, atomic.LoadInt32(h.weatherCalls),
		"the routed provider is queried again on escalation")
	assert.Contains(t, resp.Citations, "web_search")
}

func TestExecuteEmitsOrderedStageEvents(t *testing.T) {
	h := newHarness(t, []string{"Rain is expected Saturday afternoon with highs near 60."})
	events := h.pipeline.Notifier().Subscribe()
	defer h.pipeline.Notifier().Unsubscribe(events)

	_, err := h.pipeline.Execute(context.Background(), weatherRequest())
	require.NoError(t, err)

	var seen []Stage
	for ev := range events {
		seen = append(seen, ev.Stage)
		if ev.Stage == StageDone {
			break
		}
	}

	require.NotEmpty(t, seen)
	assert.Equal(t, StageReceived, seen[0])
	assert.Equal(t, StageDone, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.True(t, CanTransition(seen[i-1], seen[i]),
			"event stream must follow the stage machine: %s -> %s", seen[i-1], seen[i])
	}
}
