// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
)

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPProviderConfig configures one HTTP-backed provider client.
type HTTPProviderConfig struct {
	// Name is the registered provider name used in routing and citations.
	Name string `yaml:"name"`

	// BaseURL is the search endpoint; the query is appended as ?q=.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `yaml:"api_key"`

	// MaxResults truncates the provider's response. Zero means no cap.
	MaxResults int `yaml:"max_results"`
}

// httpSearchResponse is the wire schema every HTTP provider adapter
// speaks: a thin normalized envelope produced by the per-provider
// sidecars, so the core never parses provider-native schemas.
type httpSearchResponse struct {
	Results []struct {
		Title      string  `json:"title"`
		Snippet    string  `json:"snippet"`
		URL        string  `json:"url"`
		Score      float64 `json:"score"`
		ObservedAt string  `json:"observed_at"` // RFC 3339, optional
	} `json:"results"`
}

// HTTPProvider is a provider client over the normalized HTTP contract.
//
// # Thread Safety
//
// Safe for concurrent use; per-request state lives on the stack.
type HTTPProvider struct {
	cfg        HTTPProviderConfig
	httpClient HTTPClient
}

// NewHTTPProvider creates a provider client. Pass a nil client to use a
// default http.Client; deadlines come from the coordinator's context.
func NewHTTPProvider(cfg HTTPProviderConfig, client HTTPClient) (*HTTPProvider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("http provider requires a name")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("http provider %q has invalid base URL %q", cfg.Name, cfg.BaseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPProvider{cfg: cfg, httpClient: client}, nil
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return p.cfg.Name }

// Search implements Provider.
func (p *HTTPProvider) Search(ctx context.Context, query string) ([]datatypes.SearchResult, error) {
	reqURL := fmt.Sprintf("%s?q=%s", p.cfg.BaseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build the search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s request failed: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider %s response read failed: %w", p.cfg.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s returned status %d", p.cfg.Name, resp.StatusCode)
	}

	var parsed httpSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("provider %s returned malformed JSON: %w", p.cfg.Name, err)
	}

	results := make([]datatypes.SearchResult, 0, len(parsed.Results))
	for i, r := range parsed.Results {
		if p.cfg.MaxResults > 0 && i >= p.cfg.MaxResults {
			break
		}
		out := datatypes.SearchResult{
			Source:  p.cfg.Name,
			Title:   r.Title,
			Snippet: r.Snippet,
			URL:     r.URL,
			Score:   r.Score,
		}
		if r.ObservedAt != "" {
			if ts, err := time.Parse(time.RFC3339, r.ObservedAt); err == nil {
				out.ObservedAt = ts
			}
		}
		results = append(results, out)
	}
	return results, nil
}

var _ Provider = (*HTTPProvider)(nil)
