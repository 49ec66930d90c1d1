// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
	"github.com/hearthward/hearthward/services/assistant/orchestrate"
)

// HandleQuery is the main entry point: POST /v1/query.
//
// # Description
//
// Binds and validates the request, then hands it to the pipeline. Policy
// denials, fallback answers, and degraded sessions all surface as 200
// with a spoken answer; only malformed requests and unrecoverable
// pipeline failures map to error statuses.
//
// # Status Codes
//
//   - 200: Answer produced (including denials and fallbacks).
//   - 400: Malformed or invalid request body.
//   - 503: Pipeline could not run at all (e.g. policy tables unloadable).
func HandleQuery(pipeline *orchestrate.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := pipeline.Execute(c.Request.Context(), &req)
		if err != nil {
			code := datatypes.CodeOf(err)
			slog.Error("handlers.query: pipeline failed",
				"error_code", string(code), "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":      "the assistant is temporarily unavailable",
				"error_code": string(code),
			})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}
