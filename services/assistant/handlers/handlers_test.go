// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// HTTP-level tests for the assistant's handlers.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthward/hearthward/pkg/config"
	"github.com/hearthward/hearthward/services/assistant/datatypes"
	"github.com/hearthward/hearthward/services/assistant/orchestrate"
	"github.com/hearthward/hearthward/services/assistant/session"
	"github.com/hearthward/hearthward/services/intent"
	"github.com/hearthward/hearthward/services/llm"
	"github.com/hearthward/hearthward/services/policy"
	"github.com/hearthward/hearthward/services/search"
	"github.com/hearthward/hearthward/services/synthesis"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const handlerRoutingYAML = `
routes:
  weather: [weather_api]
  general: [weather_api]
  unknown: [weather_api]
weights:
  default:
    weather_api: 1.0
`

// staticLLM answers (or fails) identically on every call.
type staticLLM struct {
	output string
	err    error
}

func (s *staticLLM) Generate(context.Context, string, llm.GenerationParams) (string, error) {
	return s.output, s.err
}

// testEnv is a pipeline with a manager and binding the tests can poke at.
type testEnv struct {
	pipeline *orchestrate.Pipeline
	manager  *session.Manager
	binding  *session.DeviceBinding
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	classifier := intent.NewClassifier(
		llm.NewTierRouter(&staticLLM{err: errors.New("model offline")}, "fast", "reasoning"),
		time.Second,
	)

	gate, err := policy.NewGate(nil)
	require.NoError(t, err)

	provider := &search.FuncProvider{
		ProviderName: "weather_api",
		Fn: func(context.Context, string) ([]datatypes.SearchResult, error) {
			return []datatypes.SearchResult{{
				Source:     "weather_api",
				Title:      "Saturday forecast",
				Snippet:    "Rain expected Saturday afternoon with highs near 60",
				Score:      0.9,
				ObservedAt: time.Now(),
			}}, nil
		},
	}
	registry, err := search.NewRegistry(
		[]search.Provider{provider},
		config.NewStaticProvider([]byte(handlerRoutingYAML)),
	)
	require.NoError(t, err)
	coordinator := search.NewCoordinator(registry,
		search.NewFusion(search.DefaultFusionConfig(), registry.WeightFor),
		search.DefaultCoordinatorConfig())

	synthesizer := synthesis.NewSynthesizer(
		llm.NewTierRouter(&staticLLM{output: "Rain is expected Saturday afternoon with highs near 60."},
			"fast", "reasoning"),
		synthesis.DefaultSynthesizerConfig(),
	)

	manager := session.NewManager(session.NewMemoryStore(), session.DefaultManagerConfig(), nil)
	binding := session.NewDeviceBinding(manager)

	pipeline, err := orchestrate.NewPipeline(orchestrate.PipelineConfig{
		Gate:        gate,
		Classifier:  classifier,
		Coordinator: coordinator,
		Synthesizer: synthesizer,
		Validator:   synthesis.NewValidator(synthesis.DefaultValidatorConfig()),
		Sessions:    manager,
		Binding:     binding,
	})
	require.NoError(t, err)

	return &testEnv{pipeline: pipeline, manager: manager, binding: binding}
}

func (e *testEnv) router() *gin.Engine {
	r := gin.New()
	r.GET("/health", HealthCheck)
	v1 := r.Group("/v1")
	v1.POST("/query", HandleQuery(e.pipeline))
	v1.GET("/events/ws", HandleEventsWebSocket(e.pipeline.Notifier()))
	v1.GET("/sessions", ListSessions(e.manager))
	v1.GET("/sessions/:sessionId/history", GetSessionHistory(e.manager))
	v1.DELETE("/sessions/:sessionId", DeleteSession(e.manager))
	v1.GET("/devices/:deviceId/session", GetDeviceSession(e.binding))
	v1.DELETE("/devices/:deviceId/session", ClearDeviceBinding(e.binding))
	return r
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Health
// =============================================================================

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	w := doJSON(t, env.router(), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

// =============================================================================
// Query
// =============================================================================

func TestHandleQuerySuccess(t *testing.T) {
	env := newTestEnv(t)
	w := doJSON(t, env.router(), http.MethodPost, "/v1/query",
		`{"text":"will it rain saturday","mode":"owner","device_id":"kitchen-speaker"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Rain is expected Saturday afternoon with highs near 60.", resp.Answer)
	assert.Equal(t, "weather", resp.Intent)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.ResponseID)
	assert.Contains(t, resp.Citations, "weather_api")
}

func TestHandleQueryDenialIsStillOK(t *testing.T) {
	env := newTestEnv(t)
	w := doJSON(t, env.router(), http.MethodPost, "/v1/query",
		`{"text":"unlock the front door","mode":"guest","device_id":"hall-speaker"}`)

	require.Equal(t, http.StatusOK, w.Code, "denials are answers, not errors")
	var resp datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Answer)
	assert.Empty(t, resp.Citations)
}

func TestHandleQueryRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	w := doJSON(t, env.router(), http.MethodPost, "/v1/query", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleQueryRejectsInvalidFields(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	tests := []struct {
		name string
		body string
	}{
		{"missing text", `{"mode":"owner","device_id":"d1"}`},
		{"missing device", `{"text":"hello","mode":"owner"}`},
		{"unknown mode", `{"text":"hello","mode":"admin","device_id":"d1"}`},
		{"oversized utterance", `{"text":"` + strings.Repeat("a", datatypes.MaxUtteranceBytes+1) +
			`","mode":"owner","device_id":"d1"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/v1/query", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

// =============================================================================
// Session Administration
// =============================================================================

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.manager.Create(ctx, "kitchen-speaker")
	require.NoError(t, err)
	require.NoError(t, env.manager.AppendTurn(ctx, sess.SessionID, "hi", "Hello."))

	w := doJSON(t, env.router(), http.MethodGet, "/v1/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sessions []struct {
			SessionID        string `json:"session_id"`
			DeviceID         string `json:"device_id"`
			InteractionCount int    `json:"interaction_count"`
			MessageCount     int    `json:"message_count"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, sess.SessionID, body.Sessions[0].SessionID)
	assert.Equal(t, "kitchen-speaker", body.Sessions[0].DeviceID)
	assert.Equal(t, 1, body.Sessions[0].InteractionCount)
	assert.Equal(t, 2, body.Sessions[0].MessageCount)
}

func TestGetSessionHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.manager.Create(ctx, "kitchen-speaker")
	require.NoError(t, err)
	require.NoError(t, env.manager.AppendTurn(ctx, sess.SessionID, "will it rain", "Yes."))

	w := doJSON(t, env.router(), http.MethodGet, "/v1/sessions/"+sess.SessionID+"/history", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		SessionID string              `json:"session_id"`
		Messages  []datatypes.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, sess.SessionID, body.SessionID)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, datatypes.RoleUser, body.Messages[0].Role)
}

func TestGetSessionHistoryNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := doJSON(t, env.router(), http.MethodGet, "/v1/sessions/no-such-session/history", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.manager.Create(ctx, "kitchen-speaker")
	require.NoError(t, err)

	w := doJSON(t, env.router(), http.MethodDelete, "/v1/sessions/"+sess.SessionID, "")
	require.Equal(t, http.StatusOK, w.Code)

	_, err = env.manager.Get(ctx, sess.SessionID)
	assert.True(t, session.IsNotFound(err))
}

func TestGetDeviceSessionCreatesBinding(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	w := doJSON(t, router, http.MethodGet, "/v1/devices/kitchen-speaker/session", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		DeviceID  string `json:"device_id"`
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "kitchen-speaker", body.DeviceID)
	require.NotEmpty(t, body.SessionID)

	// A second lookup returns the same session.
	w2 := doJSON(t, router, http.MethodGet, "/v1/devices/kitchen-speaker/session", "")
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Contains(t, w2.Body.String(), body.SessionID)
}

func TestDeviceRoutesRejectInvalidIdentifiers(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	w := doJSON(t, router, http.MethodGet, "/v1/devices/bad%20device/session", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/v1/devices/-leading-hyphen/session", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClearDeviceBinding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess, err := env.binding.SessionForDevice(ctx, "kitchen-speaker")
	require.NoError(t, err)

	w := doJSON(t, env.router(), http.MethodDelete, "/v1/devices/kitchen-speaker/session", "")
	require.Equal(t, http.StatusOK, w.Code)

	_, bound := env.binding.BoundSessionID("kitchen-speaker")
	assert.False(t, bound)

	_, err = env.manager.Get(ctx, sess.SessionID)
	assert.NoError(t, err, "clearing the binding keeps the session")
}

// =============================================================================
// Event Stream
// =============================================================================

func TestEventsWebSocketStreamsStageEvents(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	env.pipeline.Notifier().Publish(orchestrate.StageEvent{
		RequestID: "r-1",
		Stage:     orchestrate.StageReceived,
		At:        time.Now(),
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev orchestrate.StageEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "r-1", ev.RequestID)
	assert.Equal(t, orchestrate.StageReceived, ev.Stage)
}
