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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hearthward/hearthward/services/assistant/orchestrate"
)

var eventsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The orchestrator only listens on the home network; the
		// dispatcher is the sole expected client.
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

const eventWriteTimeout = 5 * time.Second

// HandleEventsWebSocket streams pipeline stage events to the dispatcher:
// GET /v1/events/ws.
//
// # Description
//
// Each connection gets its own subscription to the pipeline notifier.
// A read pump runs only to detect disconnects; clients send nothing.
// Slow clients lose events (the notifier drops rather than blocking the
// pipeline), which is the right trade for a live progress display.
func HandleEventsWebSocket(notifier *orchestrate.Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := eventsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("handlers.events: websocket upgrade failed", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("handlers.events: event stream client connected",
			"remote", ws.RemoteAddr().String())

		events := notifier.Subscribe()
		defer notifier.Unsubscribe(events)

		// Read pump: detect disconnects so the write loop can exit.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
				if err := ws.WriteJSON(ev); err != nil {
					slog.Info("handlers.events: event stream client disconnected",
						"error", err.Error())
					return
				}
			case <-closed:
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}
