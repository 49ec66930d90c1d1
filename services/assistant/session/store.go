// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session owns per-conversation memory: the store backends, the
// manager that serializes mutation per session, the device binding map,
// and the background reaper.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Store persists session records.
//
// # Description
//
// Implementations must be safe for concurrent use, but they do NOT need
// to serialize per-session mutation — the Manager holds a per-session
// lock around every load-modify-save cycle. Stores only guarantee that
// individual operations are atomic.
type Store interface {
	// Load returns the stored session or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*datatypes.Session, error)

	// Save writes the full session record.
	Save(ctx context.Context, s *datatypes.Session) error

	// Delete removes a session. Deleting a missing session is a no-op.
	Delete(ctx context.Context, sessionID string) error

	// List returns every stored session, for the reaper and admin API.
	List(ctx context.Context) ([]*datatypes.Session, error)

	// Close releases backend resources.
	Close() error
}

// =============================================================================
// In-Memory Store
// =============================================================================

// MemoryStore keeps sessions in a map. The default backend; sessions do
// not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*datatypes.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*datatypes.Session)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (*datatypes.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return stored.Clone(), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, sess *datatypes.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.SessionID] = sess.Clone()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]*datatypes.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*datatypes.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
