// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"sync"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
)

// DeviceBinding maps each device to its single active session.
//
// # Description
//
// A device speaks to at most one session at a time. The binding is
// invalidated lazily: when the bound session has expired or vanished,
// the next lookup clears the stale entry and binds a fresh session.
// Nothing watches sessions for expiry on the binding's behalf.
//
// # Thread Safety
//
// All methods are safe for concurrent use. A single mutex is enough
// here; bindings are touched once per query.
type DeviceBinding struct {
	manager *Manager

	mu       sync.Mutex
	byDevice map[string]string // deviceID -> sessionID
}

// NewDeviceBinding creates an empty binding table over the manager.
func NewDeviceBinding(manager *Manager) *DeviceBinding {
	return &DeviceBinding{
		manager:  manager,
		byDevice: make(map[string]string),
	}
}

// SessionForDevice returns the device's live session, creating and
// binding a new one when the device is unbound or its session expired.
func (b *DeviceBinding) SessionForDevice(ctx context.Context, deviceID string) (*datatypes.Session, error) {
	b.mu.Lock()
	sessionID, bound := b.byDevice[deviceID]
	b.mu.Unlock()

	if bound {
		sess, err := b.manager.Get(ctx, sessionID)
		if err == nil && sess.DeviceID == deviceID {
			return sess, nil
		}
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
		// Expired or rebound elsewhere: drop the stale entry.
		b.mu.Lock()
		if b.byDevice[deviceID] == sessionID {
			delete(b.byDevice, deviceID)
		}
		b.mu.Unlock()
	}

	sess, err := b.manager.Create(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.byDevice[deviceID] = sess.SessionID
	b.mu.Unlock()
	return sess, nil
}

// Bind points a device at an existing session, replacing any prior binding.
func (b *DeviceBinding) Bind(deviceID, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byDevice[deviceID] = sessionID
}

// Clear removes a device's binding without touching the session.
func (b *DeviceBinding) Clear(deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byDevice, deviceID)
}

// BoundSessionID returns the session currently bound to a device, if any.
func (b *DeviceBinding) BoundSessionID(deviceID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byDevice[deviceID]
	return id, ok
}
