// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthward/hearthward/services/assistant/handlers"
	"github.com/hearthward/hearthward/services/assistant/orchestrate"
	"github.com/hearthward/hearthward/services/assistant/session"
)

// SetupRoutes registers the full HTTP surface on the router.
func SetupRoutes(router *gin.Engine, pipeline *orchestrate.Pipeline,
	manager *session.Manager, binding *session.DeviceBinding) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/query", handlers.HandleQuery(pipeline))
		v1.GET("/events/ws", handlers.HandleEventsWebSocket(pipeline.Notifier()))

		// Session administration routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(manager))
			sessions.GET("/:sessionId/history", handlers.GetSessionHistory(manager))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(manager))
		}

		// Device binding routes
		devices := v1.Group("/devices")
		{
			devices.GET("/:deviceId/session", handlers.GetDeviceSession(binding))
			devices.DELETE("/:deviceId/session", handlers.ClearDeviceBinding(binding))
		}
	}
}
