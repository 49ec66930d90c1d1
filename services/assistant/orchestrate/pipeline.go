// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
	"github.com/hearthward/hearthward/services/assistant/observability"
	"github.com/hearthward/hearthward/services/assistant/session"
	"github.com/hearthward/hearthward/services/devicectl"
	"github.com/hearthward/hearthward/services/intent"
	"github.com/hearthward/hearthward/services/policy"
	"github.com/hearthward/hearthward/services/search"
	"github.com/hearthward/hearthward/services/synthesis"
)

var pipelineTracer = otel.Tracer("hearthward.orchestrate")

// controllerUnreachableAnswer is spoken when device dispatch fails.
const controllerUnreachableAnswer = "Sorry, I couldn't reach that device right now."

// Pipeline wires the stage machine to its collaborators.
//
// # Description
//
// One Pipeline serves all requests; it holds no per-request state. Each
// Execute call walks the stage machine exactly once, emitting a stage
// event at every transition. The pipeline degrades rather than fails:
// session store errors cost history, provider failures cost evidence,
// and an exhausted validation loop still produces the safe fallback.
//
// # Thread Safety
//
// Safe for concurrent use; all mutable state lives in collaborators that
// own their own locking.
type Pipeline struct {
	gate        *policy.Gate
	classifier  *intent.Classifier
	coordinator *search.Coordinator
	synthesizer *synthesis.Synthesizer
	validator   *synthesis.Validator
	controller  devicectl.Controller
	sessions    *session.Manager
	binding     *session.DeviceBinding
	notifier    *Notifier
	metrics     *observability.QueryMetrics
	logger      *slog.Logger

	// historyTurns is how many messages of context classify and
	// synthesize see. Decoupled from the session's retention cap.
	historyTurns int

	now func() time.Time
}

// PipelineConfig collects the pipeline's collaborators.
type PipelineConfig struct {
	Gate        *policy.Gate
	Classifier  *intent.Classifier
	Coordinator *search.Coordinator
	Synthesizer *synthesis.Synthesizer
	Validator   *synthesis.Validator
	Controller  devicectl.Controller
	Sessions    *session.Manager
	Binding     *session.DeviceBinding
	Notifier    *Notifier
	Metrics     *observability.QueryMetrics
	Logger      *slog.Logger

	// HistoryTurns is the number of recent messages passed as context.
	// Defaults to 12 (six exchanges).
	HistoryTurns int
}

// NewPipeline validates the wiring and returns a ready pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	switch {
	case cfg.Gate == nil:
		return nil, fmt.Errorf("pipeline requires a policy gate")
	case cfg.Classifier == nil:
		return nil, fmt.Errorf("pipeline requires an intent classifier")
	case cfg.Coordinator == nil:
		return nil, fmt.Errorf("pipeline requires a search coordinator")
	case cfg.Synthesizer == nil:
		return nil, fmt.Errorf("pipeline requires a synthesizer")
	case cfg.Validator == nil:
		return nil, fmt.Errorf("pipeline requires a validator")
	case cfg.Sessions == nil:
		return nil, fmt.Errorf("pipeline requires a session manager")
	}
	if cfg.Binding == nil {
		cfg.Binding = session.NewDeviceBinding(cfg.Sessions)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewNotifier()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 12
	}
	return &Pipeline{
		gate:         cfg.Gate,
		classifier:   cfg.Classifier,
		coordinator:  cfg.Coordinator,
		synthesizer:  cfg.Synthesizer,
		validator:    cfg.Validator,
		controller:   cfg.Controller,
		sessions:     cfg.Sessions,
		binding:      cfg.Binding,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		historyTurns: cfg.HistoryTurns,
		now:          time.Now,
	}, nil
}

// Notifier exposes the stage-event stream for the websocket handler.
func (p *Pipeline) Notifier() *Notifier { return p.notifier }

// run tracks one request's walk through the stage machine.
type run struct {
	requestID string
	sessionID string
	stage     Stage
	started   time.Time
	pipeline  *Pipeline
}

// advance moves the run to the next stage, asserting the edge is legal
// and publishing the transition.
func (r *run) advance(to Stage, detail string) {
	if !CanTransition(r.stage, to) {
		// An illegal edge is a programming error; log loudly and keep
		// going so a live request still gets an answer.
		r.pipeline.logger.Error("orchestrate.pipeline: illegal stage transition",
			"request_id", r.requestID, "from", string(r.stage), "to", string(to))
	}
	r.stage = to
	r.pipeline.notifier.Publish(StageEvent{
		RequestID: r.requestID,
		SessionID: r.sessionID,
		Stage:     to,
		Detail:    detail,
		At:        r.pipeline.now(),
	})
}

// observeStage records one stage's latency.
func (p *Pipeline) observeStage(stage string, since time.Time) {
	if p.metrics != nil {
		p.metrics.StageDurationSeconds.WithLabelValues(stage).
			Observe(time.Since(since).Seconds())
	}
}

// Execute runs one query through the full pipeline.
//
// # Description
//
// Never returns an error for degraded conditions (provider failures,
// rejected candidates, session store trouble): those produce a spoken
// answer. The error return is reserved for requests the pipeline cannot
// answer at all, such as unloadable policy tables.
//
// # Inputs
//
//   - ctx: Request context; cancellation aborts in-flight model and
//     provider calls.
//   - req: Validated query request.
//
// # Outputs
//
//   - *datatypes.QueryResponse: The spoken answer plus metadata.
//   - error: Non-nil only for unrecoverable pipeline failures.
func (p *Pipeline) Execute(ctx context.Context, req *datatypes.QueryRequest) (*datatypes.QueryResponse, error) {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.Execute")
	defer span.End()

	r := &run{
		requestID: uuid.NewString(),
		stage:     StageReceived,
		started:   p.now(),
		pipeline:  p,
	}
	span.SetAttributes(attribute.String("request.id", r.requestID))
	p.notifier.Publish(StageEvent{
		RequestID: r.requestID, Stage: StageReceived, At: r.started,
	})

	// Session resolution. Store failures degrade to a history-free
	// request rather than refusing to answer.
	sess, history := p.resolveSession(ctx, req, r)

	// Classification always runs before the gate so denials can name
	// the category they denied.
	classifyStart := p.now()
	in := p.classifier.Classify(ctx, req.Text, history)
	p.observeStage("classify", classifyStart)
	r.advance(StageClassified, string(in.Category))
	span.SetAttributes(
		attribute.String("intent.category", string(in.Category)),
		attribute.Float64("intent.confidence", in.Confidence),
	)

	gateStart := p.now()
	pol, err := p.gate.PolicyFor(ctx, req.Mode)
	if err != nil {
		span.RecordError(err)
		return nil, datatypes.NewPipelineError(datatypes.ErrCodeInternal,
			"policy tables unavailable", err)
	}

	var decision policy.Decision
	if in.Category == datatypes.IntentControl {
		decision = p.gate.EvaluateControl(pol, in, p.now())
	} else {
		decision = p.gate.EvaluateInfo(pol, in.Category)
	}
	p.observeStage("gate", gateStart)
	r.advance(StageGated, "")

	var answer datatypes.Answer
	outcome := observability.OutcomeAnswered

	switch {
	case !decision.Allowed:
		r.advance(StageDenied, string(decision.Reason))
		answer = datatypes.Answer{Text: decision.Message, Citations: []string{}}
		outcome = observability.OutcomeDenied
		if p.metrics != nil {
			p.metrics.PolicyDenialsTotal.WithLabelValues(string(decision.Reason)).Inc()
		}
		p.logger.Info("orchestrate.pipeline: request denied",
			"request_id", r.requestID,
			"mode", req.Mode,
			"reason", string(decision.Reason),
		)

	case in.Category == datatypes.IntentControl:
		r.advance(StageDispatching, in.Entity("domain"))
		answer = p.dispatchControl(ctx, in, decision, r)

	default:
		answer, outcome = p.answerInfo(ctx, req, in, history, r)
	}

	// Session write. A failing store costs persistence, never the answer.
	writeStart := p.now()
	r.advance(StageSessionWrite, "")
	if sess != nil {
		if err := p.sessions.AppendTurn(ctx, sess.SessionID, req.Text, answer.Text); err != nil {
			p.logger.Warn("orchestrate.pipeline: session write failed",
				"request_id", r.requestID,
				"session_id", sess.SessionID,
				"error_code", string(datatypes.ErrCodeSessionStoreUnavailable),
				"error", err,
			)
		}
	}
	p.observeStage("session_write", writeStart)
	r.advance(StageDone, "")

	if p.metrics != nil {
		p.metrics.RequestsTotal.WithLabelValues(
			string(in.Category), req.Mode, outcome).Inc()
	}

	resp := datatypes.NewQueryResponse(answer.Text)
	resp.Intent = string(in.Category)
	resp.Confidence = in.Confidence
	resp.Citations = answer.Citations
	resp.SessionID = r.sessionID
	resp.ProcessingTimeMs = time.Since(r.started).Milliseconds()
	return resp, nil
}

// resolveSession finds or creates the request's session and returns the
// history snapshot for classification and synthesis. A nil session means
// the store is unavailable and the request proceeds stateless.
func (p *Pipeline) resolveSession(ctx context.Context, req *datatypes.QueryRequest,
	r *run) (*datatypes.Session, []datatypes.Message) {

	var (
		sess *datatypes.Session
		err  error
	)
	if req.SessionID != "" {
		sess, err = p.sessions.Get(ctx, req.SessionID)
		if session.IsNotFound(err) {
			// Stale client reference; fall through to the device binding.
			sess, err = p.binding.SessionForDevice(ctx, req.DeviceID)
		}
	} else {
		sess, err = p.binding.SessionForDevice(ctx, req.DeviceID)
	}
	if err != nil {
		p.logger.Warn("orchestrate.pipeline: session resolution failed, continuing without history",
			"request_id", r.requestID,
			"device_id", req.DeviceID,
			"error_code", string(datatypes.ErrCodeSessionStoreUnavailable),
			"error", err,
		)
		return nil, nil
	}
	r.sessionID = sess.SessionID
	return sess, sess.RecentMessages(p.historyTurns)
}

// dispatchControl executes an allowed control intent against the device
// controller. Params arrive already clamped by the gate.
func (p *Pipeline) dispatchControl(ctx context.Context, in datatypes.Intent,
	decision policy.Decision, r *run) datatypes.Answer {

	dispatchStart := p.now()
	defer p.observeStage("dispatch", dispatchStart)

	if p.controller == nil {
		p.logger.Error("orchestrate.pipeline: no device controller configured",
			"request_id", r.requestID)
		return datatypes.Answer{Text: controllerUnreachableAnswer, Citations: []string{}}
	}

	result, err := p.controller.Execute(ctx,
		in.Entity("domain"), in.Entity("action"), in.Entity("device"), decision.Params)
	if err != nil {
		p.logger.Error("orchestrate.pipeline: device dispatch failed",
			"request_id", r.requestID,
			"domain", in.Entity("domain"),
			"error", err,
		)
		return datatypes.Answer{Text: controllerUnreachableAnswer, Citations: []string{}}
	}

	text := result.Message
	if text == "" {
		text = "Done."
	}
	return datatypes.Answer{Text: text, Citations: []string{}, ConfidencePassed: true}
}

// answerInfo runs the search, synthesis, and validation loop for an
// information intent.
func (p *Pipeline) answerInfo(ctx context.Context, req *datatypes.QueryRequest,
	in datatypes.Intent, history []datatypes.Message, r *run) (datatypes.Answer, string) {

	searchStart := p.now()
	r.advance(StageSearching, "")
	evidence, _ := p.coordinator.Search(ctx, in, req.Text, false)
	p.observeStage("search", searchStart)
	r.advance(StageFusing, fmt.Sprintf("%d results", len(evidence.Results)))
	r.advance(StageSynthesizing, "")

	synthesisIn := synthesis.SynthesisInput{
		Query:    req.Text,
		Intent:   in,
		Evidence: evidence,
		History:  history,
	}

	validateStart := p.now()
	answer, state, attempts := p.validator.Run(ctx, synthesisIn, synthesis.LoopDeps{
		Synthesize: func(ctx context.Context, sIn synthesis.SynthesisInput) (datatypes.Answer, error) {
			return p.synthesizer.Synthesize(ctx, sIn)
		},
		Escalate: func(ctx context.Context) datatypes.FusedEvidence {
			if p.metrics != nil {
				p.metrics.EscalationsTotal.Inc()
			}
			escalatedEvidence, _ := p.coordinator.Search(ctx, in, req.Text, true)
			return escalatedEvidence
		},
		OnReject: func(reason synthesis.FailureReason) {
			if p.metrics != nil {
				p.metrics.ValidationRetriesTotal.WithLabelValues(string(reason)).Inc()
			}
		},
	})
	p.observeStage("validate", validateStart)
	r.advance(StageValidating, fmt.Sprintf("%d attempts", attempts))

	if state == synthesis.StateExhausted {
		if p.metrics != nil {
			p.metrics.FallbackAnswersTotal.Inc()
		}
		p.logger.Info("orchestrate.pipeline: retry budget exhausted, using fallback",
			"request_id", r.requestID,
			"attempts", attempts,
		)
		return answer, observability.OutcomeFallback
	}
	return answer, observability.OutcomeAnswered
}
