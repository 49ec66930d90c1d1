// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the assistant service.
//
// This file contains the inbound query request and outbound response types
// for the POST /v1/query endpoint. For intent and evidence types, see
// intent.go and evidence.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxUtteranceBytes is the maximum size of a transcribed utterance.
	// Voice transcriptions are short; anything larger is a malformed or
	// hostile payload.
	MaxUtteranceBytes = 8 * 1024 // 8KB

	// ModeOwner grants full access to control domains and info categories.
	ModeOwner = "owner"

	// ModeGuest grants the restricted guest policy.
	ModeGuest = "guest"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// queryValidate is the validator instance for query datatypes.
var queryValidate *validator.Validate

func init() {
	queryValidate = validator.New()
	_ = queryValidate.RegisterValidation("maxbytes", validateUtteranceBytes)
}

// validateUtteranceBytes checks byte length (not rune count) so oversized
// payloads are rejected before they reach the pipeline.
func validateUtteranceBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxUtteranceBytes
}

// =============================================================================
// Query Request
// =============================================================================

// QueryRequest represents one transcribed utterance from a device.
//
// # Description
//
// QueryRequest is the sole input to the orchestration pipeline. It is
// immutable once created: handlers bind it, call EnsureDefaults() exactly
// once, validate it, and pass it by value down the call chain.
//
// # Fields
//
//   - Text: Required. The transcribed utterance, max 8KB.
//   - Mode: Required. "owner" or "guest". Drives policy computation.
//   - Zone: Optional. Physical zone the device sits in (e.g. "kitchen").
//   - DeviceID: Required. Stable identifier of the capturing device.
//   - SessionID: Optional. When empty, the session manager resolves or
//     creates a session for the device.
//   - Timestamp: Unix milliseconds (UTC) the utterance was captured.
//
// # Assumptions
//
//   - Speech-to-text has already run; Text is plain language, not audio.
//   - The front-line dispatcher persists the returned session binding.
type QueryRequest struct {
	Text      string `json:"text" validate:"required,maxbytes"`
	Mode      string `json:"mode" validate:"required,oneof=owner guest"`
	Zone      string `json:"zone,omitempty"`
	DeviceID  string `json:"device_id" validate:"required,max=128"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp int64  `json:"timestamp" validate:"gte=0"`
}

// Validate validates the QueryRequest fields using the shared validator.
func (r *QueryRequest) Validate() error {
	return queryValidate.Struct(r)
}

// EnsureDefaults populates the timestamp if the dispatcher omitted it.
func (r *QueryRequest) EnsureDefaults() {
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// =============================================================================
// Query Response
// =============================================================================

// QueryResponse is the terminal output of the orchestration pipeline.
//
// # Description
//
// Always includes SessionID so the dispatcher can persist the
// device-to-session binding, and ProcessingTimeMs for latency monitoring.
// Citations list the provider sources that grounded the answer; the
// device-control path and denial path cite nothing.
type QueryResponse struct {
	ResponseID       string   `json:"response_id"`
	Answer           string   `json:"answer"`
	Intent           string   `json:"intent"`
	Confidence       float64  `json:"confidence"`
	Citations        []string `json:"citations"`
	SessionID        string   `json:"session_id"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// NewQueryResponse creates a response with a generated ResponseID.
func NewQueryResponse(answer string) *QueryResponse {
	return &QueryResponse{
		ResponseID: uuid.New().String(),
		Answer:     answer,
		Citations:  []string{},
	}
}
