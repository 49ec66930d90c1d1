// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes pipeline failures for metrics, logging, and the
// API error envelope.
type ErrorCode string

const (
	// ErrCodePolicyDenied indicates the gate rejected the request.
	ErrCodePolicyDenied ErrorCode = "policy_denied"

	// ErrCodeProviderTimeout indicates a search provider missed its deadline.
	ErrCodeProviderTimeout ErrorCode = "provider_timeout"

	// ErrCodeProviderError indicates a search provider failed outright.
	ErrCodeProviderError ErrorCode = "provider_error"

	// ErrCodeClassificationAmbiguous indicates the classifier could not
	// settle on a category; the pipeline treats the intent as unknown.
	ErrCodeClassificationAmbiguous ErrorCode = "classification_ambiguous"

	// ErrCodeSynthesisFailed indicates the model produced no usable answer.
	ErrCodeSynthesisFailed ErrorCode = "synthesis_failed"

	// ErrCodeValidationFailed indicates every candidate answer was rejected.
	ErrCodeValidationFailed ErrorCode = "validation_failed"

	// ErrCodeSessionStoreUnavailable indicates a session read/write failed.
	// The pipeline still answers; only persistence degrades.
	ErrCodeSessionStoreUnavailable ErrorCode = "session_store_unavailable"

	// ErrCodeInternal indicates an uncategorized server failure.
	ErrCodeInternal ErrorCode = "internal"
)

// PipelineError carries an ErrorCode alongside the underlying cause so
// every layer can classify failures without string matching.
type PipelineError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError wraps a cause with a code and a human-readable message.
func NewPipelineError(code ErrorCode, message string, err error) *PipelineError {
	return &PipelineError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from an error chain, defaulting to
// ErrCodeInternal for unclassified errors.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeInternal
}
