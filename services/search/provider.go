// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package search implements the multi-provider parallel search engine:
// the provider capability contract, the intent-to-provider routing
// registry, the fan-out coordinator, and the result fusion engine.
package search

import (
	"context"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
)

// Provider is the uniform capability wrapping one external information
// source.
//
// # Description
//
// The core never depends on a provider's native schema beyond this
// contract. Implementations must honor ctx cancellation promptly: the
// coordinator enforces per-call timeouts and an overall budget through
// the context, and a provider that ignores it delays every request.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the coordinator calls
// Search from multiple goroutines.
type Provider interface {
	// Name returns the stable registered name, used in routing tables,
	// authority weights, and citations.
	Name() string

	// Search retrieves results for a query. Returning an empty slice with
	// a nil error is the normal "nothing found" outcome.
	Search(ctx context.Context, query string) ([]datatypes.SearchResult, error)
}

// FuncProvider adapts a function to the Provider interface. Used by tests
// and by thin inline providers.
type FuncProvider struct {
	ProviderName string
	Fn           func(ctx context.Context, query string) ([]datatypes.SearchResult, error)
}

// Name implements Provider.
func (p *FuncProvider) Name() string { return p.ProviderName }

// Search implements Provider.
func (p *FuncProvider) Search(ctx context.Context, query string) ([]datatypes.SearchResult, error) {
	return p.Fn(ctx, query)
}

var _ Provider = (*FuncProvider)(nil)
