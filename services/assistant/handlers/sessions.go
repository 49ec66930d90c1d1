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

	"github.com/hearthward/hearthward/pkg/validation"
	"github.com/hearthward/hearthward/services/assistant/session"
)

// sessionSummary is the list-view projection of a session.
type sessionSummary struct {
	SessionID        string `json:"session_id"`
	DeviceID         string `json:"device_id"`
	CreatedAt        string `json:"created_at"`
	LastActivityAt   string `json:"last_activity_at"`
	InteractionCount int    `json:"interaction_count"`
	MessageCount     int    `json:"message_count"`
}

// ListSessions returns every live session: GET /v1/sessions.
func ListSessions(manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := manager.List(c.Request.Context())
		if err != nil {
			slog.Error("handlers.sessions: list failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}

		summaries := make([]sessionSummary, 0, len(sessions))
		for _, s := range sessions {
			summaries = append(summaries, sessionSummary{
				SessionID:        s.SessionID,
				DeviceID:         s.DeviceID,
				CreatedAt:        s.CreatedAt.Format(timeLayout),
				LastActivityAt:   s.LastActivityAt.Format(timeLayout),
				InteractionCount: s.InteractionCount,
				MessageCount:     len(s.Messages),
			})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": summaries})
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// GetSessionHistory returns a session's transcript:
// GET /v1/sessions/:sessionId/history.
func GetSessionHistory(manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		sess, err := manager.Get(c.Request.Context(), sessionID)
		if session.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			slog.Error("handlers.sessions: history load failed",
				"session_id", sessionID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": sess.SessionID,
			"device_id":  sess.DeviceID,
			"messages":   sess.Messages,
		})
	}
}

// DeleteSession removes a session: DELETE /v1/sessions/:sessionId.
func DeleteSession(manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if err := manager.Delete(c.Request.Context(), sessionID); err != nil {
			slog.Error("handlers.sessions: delete failed",
				"session_id", sessionID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": sessionID})
	}
}

// GetDeviceSession resolves (creating if needed) a device's bound session:
// GET /v1/devices/:deviceId/session.
func GetDeviceSession(binding *session.DeviceBinding) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID, err := validation.SanitizeDeviceID(c.Param("deviceId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := binding.SessionForDevice(c.Request.Context(), deviceID)
		if err != nil {
			slog.Error("handlers.sessions: device session resolution failed",
				"device_id", deviceID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"device_id":  deviceID,
			"session_id": sess.SessionID,
		})
	}
}

// ClearDeviceBinding drops a device's binding without deleting the session:
// DELETE /v1/devices/:deviceId/session.
func ClearDeviceBinding(binding *session.DeviceBinding) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID, err := validation.SanitizeDeviceID(c.Param("deviceId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		binding.Clear(deviceID)
		c.JSON(http.StatusOK, gin.H{"cleared": deviceID})
	}
}
