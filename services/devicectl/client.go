// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package devicectl defines the contract to the home-automation backend.
//
// The orchestrator calls Execute only after the policy gate has approved
// the target; this package performs no permission checks of its own.
package devicectl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var controlTracer = otel.Tracer("hearthward.devicectl")

// Result is the automation backend's acknowledgment of one action.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Controller executes one approved device-control action.
type Controller interface {
	Execute(ctx context.Context, domain, action, target string,
		params map[string]string) (Result, error)
}

// =============================================================================
// HTTP Controller
// =============================================================================

type executeRequest struct {
	Domain string            `json:"domain"`
	Action string            `json:"action"`
	Target string            `json:"target"`
	Params map[string]string `json:"params,omitempty"`
}

// HTTPController talks to the automation backend's /execute endpoint.
type HTTPController struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPController builds a controller from DEVICE_CONTROL_URL.
func NewHTTPController() (*HTTPController, error) {
	baseURL := os.Getenv("DEVICE_CONTROL_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("DEVICE_CONTROL_URL environment variable not set")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing device control client", "base_url", baseURL)
	return &HTTPController{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}, nil
}

// Execute implements Controller.
func (c *HTTPController) Execute(ctx context.Context, domain, action, target string,
	params map[string]string) (Result, error) {

	ctx, span := controlTracer.Start(ctx, "HTTPController.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("control.domain", domain),
		attribute.String("control.action", action),
	)

	payload, err := json.Marshal(executeRequest{
		Domain: domain,
		Action: action,
		Target: target,
		Params: params,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal the control request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build the control request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("device control request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read the control response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("device control returned status %d: %s",
			resp.StatusCode, string(body))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return Result{}, fmt.Errorf("failed to unmarshal the control response: %w", err)
	}
	return result, nil
}

var _ Controller = (*HTTPController)(nil)
