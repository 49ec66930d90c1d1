// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthward/hearthward/pkg/config"
	"github.com/hearthward/hearthward/pkg/logging"
	"github.com/hearthward/hearthward/services/assistant"
	"github.com/hearthward/hearthward/services/assistant/datatypes"
	"github.com/hearthward/hearthward/services/policy"
)

var (
	rootCmd = &cobra.Command{
		Use:   "hearthward",
		Short: "The Hearthward home assistant orchestrator",
		Long: `Hearthward answers spoken questions and controls home devices
entirely on your own hardware. This binary runs the orchestrator server
and provides admin tooling for policy and session inspection.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant orchestrator server",
		Long: `Starts the HTTP server that receives dispatcher queries, enforces
household policy, searches configured providers, and synthesizes answers.
Configuration comes from environment variables; see 'hearthward --help'.`,
		RunE: runServe,
	}

	policyCmd = &cobra.Command{
		Use:   "policy",
		Short: "Inspect and dry-run household policy decisions",
	}

	policyCheckFlags struct {
		policyFile string
		mode       string
		domain     string
		device     string
		category   string
		brightness string
		volume     string
	}

	policyCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "Evaluate a hypothetical request against the policy tables",
		Long: `Evaluates a control or information request against the active policy
tables without touching any device, printing the decision the gate would
make. Useful for verifying a policy file before mounting it.`,
		RunE: runPolicyCheck,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildVersion)
		},
	}
)

// buildVersion is stamped at build time via -ldflags.
var buildVersion = "dev"

func init() {
	policyCheckCmd.Flags().StringVar(&policyCheckFlags.policyFile, "policy", "",
		"policy YAML to check (default: embedded defaults, or POLICY_FILE)")
	policyCheckCmd.Flags().StringVar(&policyCheckFlags.mode, "mode", "guest",
		"request mode: owner or guest")
	policyCheckCmd.Flags().StringVar(&policyCheckFlags.domain, "domain", "",
		"control domain, e.g. light, lock, media")
	policyCheckCmd.Flags().StringVar(&policyCheckFlags.device, "device", "",
		"target device name")
	policyCheckCmd.Flags().StringVar(&policyCheckFlags.category, "category", "",
		"information category to check instead of a control request")
	policyCheckCmd.Flags().StringVar(&policyCheckFlags.brightness, "brightness", "",
		"requested brightness, checked against the mode's cap")
	policyCheckCmd.Flags().StringVar(&policyCheckFlags.volume, "volume", "",
		"requested volume, checked against the mode's cap")

	policyCmd.AddCommand(policyCheckCmd)
	rootCmd.AddCommand(serveCmd, policyCmd, versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, logCloser, err := logging.New(logging.Config{
		Level:    os.Getenv("LOG_LEVEL"),
		Format:   getEnvString("LOG_FORMAT", logging.FormatJSON),
		FilePath: os.Getenv("LOG_FILE"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	cfg := assistant.Config{
		Port:             getEnvInt("ASSISTANT_PORT", 8420),
		LLMBackend:       getEnvString("LLM_BACKEND_TYPE", "ollama"),
		FastModel:        os.Getenv("FAST_MODEL"),
		ReasoningModel:   os.Getenv("REASONING_MODEL"),
		OTelEndpoint:     getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "hearthward-otel-collector:4317"),
		PolicyPath:       os.Getenv("POLICY_FILE"),
		RoutingPath:      os.Getenv("ROUTING_FILE"),
		SessionStorePath: os.Getenv("SESSION_STORE_PATH"),
	}
	if v := getEnvInt("SESSION_MAX_HISTORY", 0); v > 0 {
		cfg.MaxHistory = v
	}
	if v := getEnvInt("SESSION_INACTIVITY_MINUTES", 0); v > 0 {
		cfg.InactivityTimeout = time.Duration(v) * time.Minute
	}
	if v := getEnvInt("SESSION_MAX_AGE_HOURS", 0); v > 0 {
		cfg.MaxAge = time.Duration(v) * time.Hour
	}

	slog.Info("Starting assistant",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"session_store", cfg.SessionStorePath,
	)

	svc, err := assistant.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize assistant: %w", err)
	}
	return svc.Run()
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	path := policyCheckFlags.policyFile
	if path == "" {
		path = os.Getenv("POLICY_FILE")
	}

	var provider config.Provider
	if path != "" {
		provider = config.NewFileProvider(path)
	}
	gate, err := policy.NewGate(provider)
	if err != nil {
		return fmt.Errorf("failed to load policy tables: %w", err)
	}

	pol, err := gate.PolicyFor(cmd.Context(), policyCheckFlags.mode)
	if err != nil {
		return err
	}

	var decision policy.Decision
	if policyCheckFlags.category != "" {
		category, err := datatypes.ParseIntentCategory(policyCheckFlags.category)
		if err != nil {
			return err
		}
		decision = gate.EvaluateInfo(pol, category)
	} else {
		if policyCheckFlags.domain == "" {
			return fmt.Errorf("either --domain or --category is required")
		}
		entities := map[string]string{
			"domain": policyCheckFlags.domain,
			"device": policyCheckFlags.device,
		}
		if policyCheckFlags.brightness != "" {
			entities["brightness"] = policyCheckFlags.brightness
		}
		if policyCheckFlags.volume != "" {
			entities["volume"] = policyCheckFlags.volume
		}
		decision = gate.EvaluateControl(pol, datatypes.Intent{
			Category: datatypes.IntentControl,
			Entities: entities,
		}, time.Now())
	}

	if decision.Allowed {
		fmt.Println("ALLOWED")
		for k, v := range decision.Params {
			fmt.Printf("  %s: %s\n", k, v)
		}
		return nil
	}
	fmt.Printf("DENIED (%s)\n  %s\n", decision.Reason, decision.Message)
	return nil
}
