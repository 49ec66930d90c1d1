// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
	"github.com/hearthward/hearthward/services/assistant/observability"
)

// Manager defaults.
const (
	// DefaultMaxHistory is the number of turns (user + assistant message
	// pairs) kept per session before the oldest turns are trimmed.
	DefaultMaxHistory = 16

	// DefaultInactivityTimeout expires sessions with no recent activity.
	DefaultInactivityTimeout = 30 * time.Minute

	// DefaultMaxAge expires sessions regardless of activity.
	DefaultMaxAge = 12 * time.Hour
)

// ManagerConfig tunes session lifetime and history retention.
type ManagerConfig struct {
	// MaxHistory is the maximum number of turns kept per session.
	// A turn is one user message plus one assistant message.
	MaxHistory int

	// InactivityTimeout expires sessions idle for longer than this.
	InactivityTimeout time.Duration

	// MaxAge expires sessions older than this regardless of activity.
	MaxAge time.Duration

	// Metrics drives the active-session gauge and the reap counter.
	// Nil disables recording.
	Metrics *observability.QueryMetrics
}

// DefaultManagerConfig returns production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxHistory:        DefaultMaxHistory,
		InactivityTimeout: DefaultInactivityTimeout,
		MaxAge:            DefaultMaxAge,
	}
}

// Manager coordinates session access on top of a Store.
//
// # Description
//
// The manager owns the concurrency contract the store does not: every
// load-modify-save cycle for a given session runs under that session's
// lock, so concurrent AppendTurn calls against the same session cannot
// interleave and lose writes. Different sessions never block each other.
//
// Expiry is evaluated lazily on read and eagerly by the Reaper, so an
// expired session is unreachable even between reap cycles.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Manager struct {
	store   Store
	cfg     ManagerConfig
	logger  *slog.Logger
	metrics *observability.QueryMetrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// now is injectable for expiry tests.
	now func() time.Time
}

// NewManager creates a session manager over the given store.
func NewManager(store Store, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: cfg.Metrics,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// sessionGaugeAdd nudges the active-session gauge, when metrics are wired.
func (m *Manager) sessionGaugeAdd(delta float64) {
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(delta)
	}
}

// lockFor returns the mutex guarding one session, creating it on first use.
func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// dropLock forgets a session's mutex after the session is deleted.
func (m *Manager) dropLock(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, sessionID)
}

// Create starts a new session bound to a device.
func (m *Manager) Create(ctx context.Context, deviceID string) (*datatypes.Session, error) {
	ctx, span := otel.Tracer("hearthward.session").Start(ctx, "Manager.Create")
	defer span.End()

	now := m.now()
	sess := &datatypes.Session{
		SessionID:      uuid.NewString(),
		DeviceID:       deviceID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	span.SetAttributes(attribute.String("session.id", sess.SessionID))
	m.sessionGaugeAdd(1)
	m.logger.Info("session.manager: session created",
		"session_id", sess.SessionID, "device_id", deviceID)
	return sess.Clone(), nil
}

// Get returns a live session, or ErrNotFound when the session is missing
// or expired. Expired sessions are removed on the spot rather than waiting
// for the next reap cycle.
func (m *Manager) Get(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	sess, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if m.isExpired(sess) {
		lock := m.lockFor(sessionID)
		lock.Lock()
		err := m.store.Delete(ctx, sessionID)
		lock.Unlock()
		m.dropLock(sessionID)
		if err == nil {
			m.sessionGaugeAdd(-1)
		}
		return nil, ErrNotFound
	}
	return sess, nil
}

// isExpired reports whether a session has passed either lifetime bound.
func (m *Manager) isExpired(s *datatypes.Session) bool {
	now := m.now()
	if now.Sub(s.LastActivityAt) > m.cfg.InactivityTimeout {
		return true
	}
	return now.Sub(s.CreatedAt) > m.cfg.MaxAge
}

// AppendTurn atomically records one exchange on a session: the user
// message and the assistant message land together, LastActivityAt and
// InteractionCount are updated, and history is trimmed to MaxHistory
// turns in the same write. A concurrent reader never observes the user
// message without its answer.
func (m *Manager) AppendTurn(ctx context.Context, sessionID, userText, assistantText string) error {
	ctx, span := otel.Tracer("hearthward.session").Start(ctx, "Manager.AppendTurn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if m.isExpired(sess) {
		return ErrNotFound
	}

	sess.Messages = append(sess.Messages,
		datatypes.Message{Role: datatypes.RoleUser, Content: userText},
		datatypes.Message{Role: datatypes.RoleAssistant, Content: assistantText},
	)
	sess.Messages = trimHistory(sess.Messages, m.cfg.MaxHistory)
	sess.LastActivityAt = m.now()
	sess.InteractionCount++

	if err := m.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// trimHistory keeps the most recent maxTurns turns. Messages arrive in
// user/assistant pairs, so the cut point is always a turn boundary.
func trimHistory(messages []datatypes.Message, maxTurns int) []datatypes.Message {
	maxMessages := maxTurns * 2
	if len(messages) <= maxMessages {
		return messages
	}
	trimmed := make([]datatypes.Message, maxMessages)
	copy(trimmed, messages[len(messages)-maxMessages:])
	return trimmed
}

// Delete removes a session unconditionally.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	err := m.store.Delete(ctx, sessionID)
	lock.Unlock()
	m.dropLock(sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.sessionGaugeAdd(-1)
	return nil
}

// List returns every live session. Expired sessions still awaiting the
// reaper are filtered out.
func (m *Manager) List(ctx context.Context) ([]*datatypes.Session, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	live := all[:0]
	for _, s := range all {
		if !m.isExpired(s) {
			live = append(live, s)
		}
	}
	return live, nil
}

// Reap deletes every expired session and returns how many were removed.
// Called by the Reaper on a fixed interval.
func (m *Manager) Reap(ctx context.Context) (int, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("reap: %w", err)
	}
	reaped := 0
	expired := 0
	for _, s := range all {
		if !m.isExpired(s) {
			continue
		}
		expired++
		// Taking the session lock means a reap never races an in-flight
		// AppendTurn on the same session.
		lock := m.lockFor(s.SessionID)
		lock.Lock()
		err := m.store.Delete(ctx, s.SessionID)
		lock.Unlock()
		m.dropLock(s.SessionID)
		if err != nil {
			m.logger.Warn("session.manager: failed to reap session",
				"session_id", s.SessionID, "error", err)
			continue
		}
		reaped++
	}
	if m.metrics != nil {
		m.metrics.SessionsReapedTotal.Add(float64(reaped))
		// Setting from the observed live count corrects any gauge drift,
		// such as persisted sessions predating this process.
		m.metrics.ActiveSessions.Set(float64(len(all) - expired))
	}
	if reaped > 0 {
		m.logger.Info("session.manager: reaped expired sessions", "count", reaped)
	}
	return reaped, nil
}

// IsNotFound reports whether an error means the session does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
