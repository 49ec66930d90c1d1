// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command hearthward runs the assistant orchestrator and its admin tooling.
//
// # Environment Variables
//
//   - ASSISTANT_PORT: HTTP server port (default: 8420)
//   - LLM_BACKEND_TYPE: Model provider - ollama, openai, claude (default: ollama)
//   - FAST_MODEL / REASONING_MODEL: Tier model names
//   - POLICY_FILE / ROUTING_FILE: Optional mounted config, hot-reloaded
//   - SESSION_STORE_PATH: BadgerDB directory; empty keeps sessions in memory
//   - LOG_LEVEL / LOG_FORMAT / LOG_FILE: Logging level, json|text, optional file copy
//   - OTEL_EXPORTER_OTLP_ENDPOINT: Trace collector (default: hearthward-otel-collector:4317)
//   - <PROVIDER>_URL / <PROVIDER>_API_KEY: Search providers (WEATHER_API,
//     SPORTS_API, LOCAL_EVENTS, WEB_SEARCH, KNOWLEDGE_BASE)
//
// # Usage
//
//	# Start the server
//	hearthward serve
//
//	# Dry-run a policy decision
//	hearthward policy check --mode guest --domain lock --device "front door"
package main

import (
	"log"
	"os"
	"strconv"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
