// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is the unit of conversational memory for one device.
//
// # Description
//
// Sessions are exclusively owned by the session manager; the orchestrator
// holds only a SessionID reference. The message list is bounded by the
// manager's configured history cap (oldest-first trimming) — unbounded
// growth is never permitted even for long-lived sessions.
//
// # Fields
//
//   - SessionID: UUID assigned at creation.
//   - DeviceID: Device the session is bound to.
//   - Messages: Ordered turns, oldest first.
//   - CreatedAt / LastActivityAt: Drive max-age and inactivity expiry.
//   - InteractionCount: Completed request/answer pairs.
type Session struct {
	SessionID        string    `json:"session_id"`
	DeviceID         string    `json:"device_id"`
	Messages         []Message `json:"messages"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
	InteractionCount int       `json:"interaction_count"`
}

// Clone returns a deep copy so callers can read history without holding
// the manager's per-session lock.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return &cp
}

// RecentMessages returns up to n of the most recent turns, oldest first.
// n <= 0 returns an empty slice.
func (s *Session) RecentMessages(n int) []Message {
	if n <= 0 || len(s.Messages) == 0 {
		return nil
	}
	if n >= len(s.Messages) {
		out := make([]Message, len(s.Messages))
		copy(out, s.Messages)
		return out
	}
	out := make([]Message, n)
	copy(out, s.Messages[len(s.Messages)-n:])
	return out
}
