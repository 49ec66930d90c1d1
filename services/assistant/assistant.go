// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assistant provides the core query orchestration service.
//
// This package contains the main Service type that coordinates all
// components: HTTP routing, the policy gate, intent classification,
// parallel search, synthesis and validation, session management, and
// observability infrastructure.
//
// # Usage
//
//	cfg := assistant.Config{Port: 8420, LLMBackend: "ollama"}
//	svc, err := assistant.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hearthward/hearthward/pkg/config"
	"github.com/hearthward/hearthward/services/assistant/observability"
	"github.com/hearthward/hearthward/services/assistant/orchestrate"
	"github.com/hearthward/hearthward/services/assistant/routes"
	"github.com/hearthward/hearthward/services/assistant/session"
	"github.com/hearthward/hearthward/services/devicectl"
	"github.com/hearthward/hearthward/services/intent"
	"github.com/hearthward/hearthward/services/llm"
	"github.com/hearthward/hearthward/services/policy"
	"github.com/hearthward/hearthward/services/policy/enforcement"
	"github.com/hearthward/hearthward/services/search"
	"github.com/hearthward/hearthward/services/search/routing"
	"github.com/hearthward/hearthward/services/synthesis"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the assistant service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds assistant service configuration options.
//
// All fields are optional with defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 8420.
	Port int

	// LLMBackend specifies the model provider.
	// Valid values: "ollama", "openai", "claude", "anthropic".
	// Default: "ollama".
	LLMBackend string

	// FastModel handles classification and time-sensitive answers.
	// Default: "llama3.2:3b".
	FastModel string

	// ReasoningModel handles general synthesis.
	// Default: "llama3.1:8b".
	ReasoningModel string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "hearthward-otel-collector:4317".
	OTelEndpoint string

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: uses GIN_MODE env var or "debug".
	GinMode string

	// PolicyPath is an optional mounted policy YAML. When set, the file
	// is hot-reloaded; the embedded defaults remain the fallback.
	PolicyPath string

	// RoutingPath is an optional mounted provider routing YAML, likewise
	// hot-reloaded over the embedded defaults.
	RoutingPath string

	// ConfigTTL bounds how stale a cached config read may be.
	// Default: 30 seconds.
	ConfigTTL time.Duration

	// SessionStorePath enables the persistent BadgerDB session store.
	// Empty means sessions live in memory only.
	SessionStorePath string

	// MaxHistory, InactivityTimeout, MaxAge tune session retention; zero
	// values use the session package defaults.
	MaxHistory        int
	InactivityTimeout time.Duration
	MaxAge            time.Duration

	// ReapInterval is how often the session reaper runs.
	// Default: 5 minutes.
	ReapInterval time.Duration

	// EnableMetrics enables the Prometheus /metrics endpoint.
	// Default: true.
	EnableMetrics bool
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8420
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.FastModel == "" {
		cfg.FastModel = "llama3.2:3b"
	}
	if cfg.ReasoningModel == "" {
		cfg.ReasoningModel = "llama3.1:8b"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "hearthward-otel-collector:4317"
	}
	if cfg.ConfigTTL == 0 {
		cfg.ConfigTTL = 30 * time.Second
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = session.DefaultReapInterval
	}
	cfg.EnableMetrics = true
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// Thread-safe after construction; all fields are read-only once New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	pipeline      *orchestrate.Pipeline
	sessions      *session.Manager
	binding       *session.DeviceBinding
	store         session.Store
	reaper        *session.Reaper
	tracerCleanup func(context.Context)
	watchCancel   context.CancelFunc
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new assistant Service with the given configuration.
//
// # Description
//
// Initializes every pipeline component in dependency order:
//  1. OpenTelemetry tracing and Prometheus metrics
//  2. The tiered model router for the configured backend
//  3. The policy gate (mounted file over embedded defaults)
//  4. Search providers, routing registry, fusion, and the coordinator
//  5. Synthesizer and validator
//  6. The session store, manager, binding, and reaper
//  7. The stage pipeline and HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run service.
//   - error: Non-nil if initialization fails.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	var metrics *observability.QueryMetrics
	if s.config.EnableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for the query pipeline")
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	s.watchCancel = watchCancel

	// Tiered model router.
	llmClient, err := s.buildLLMClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	router := llm.NewTierRouter(llmClient, s.config.FastModel, s.config.ReasoningModel)

	// Policy gate: mounted file over embedded defaults, hot-reloaded.
	gate, err := s.buildGate(watchCtx)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize policy gate: %w", err)
	}

	// Search: providers from the environment, routing from config.
	registry, err := s.buildRegistry(watchCtx)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize search registry: %w", err)
	}
	fusion := search.NewFusion(search.DefaultFusionConfig(), registry.WeightFor)
	coordCfg := search.DefaultCoordinatorConfig()
	coordCfg.Metrics = metrics
	coordinator := search.NewCoordinator(registry, fusion, coordCfg)

	classifier := intent.NewClassifier(router, intent.DefaultModelTimeout)
	synthesizer := synthesis.NewSynthesizer(router, synthesis.DefaultSynthesizerConfig())
	validator := synthesis.NewValidator(synthesis.DefaultValidatorConfig())

	// Device controller is optional: without one, control intents get a
	// spoken "can't reach that device" answer instead of a dispatch.
	var controller devicectl.Controller
	if hc, err := devicectl.NewHTTPController(); err != nil {
		slog.Warn("Device controller not configured, control dispatch disabled",
			"error", err)
	} else {
		controller = hc
	}

	// Session store, manager, binding, reaper.
	if err := s.initSessions(metrics); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	s.pipeline, err = orchestrate.NewPipeline(orchestrate.PipelineConfig{
		Gate:        gate,
		Classifier:  classifier,
		Coordinator: coordinator,
		Synthesizer: synthesizer,
		Validator:   validator,
		Controller:  controller,
		Sessions:    s.sessions,
		Binding:     s.binding,
		Metrics:     metrics,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	if err := s.reaper.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start session reaper: %w", err)
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting assistant server", "port", s.config.Port)
	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for the home network.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("assistant-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// buildLLMClient creates the model client for the configured backend.
func (s *service) buildLLMClient() (llm.LLMClient, error) {
	switch s.config.LLMBackend {
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	case "openai":
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient()
	case "claude", "anthropic":
		slog.Info("Using Anthropic (Claude) LLM backend")
		return llm.NewAnthropicClient()
	default:
		slog.Warn("Unknown LLM backend, defaulting to ollama",
			"backend", s.config.LLMBackend)
		return llm.NewOllamaClient()
	}
}

// hotConfig layers a mounted file over embedded defaults with a TTL cache,
// invalidating the cache on filesystem change events.
func hotConfig(ctx context.Context, path string, embedded []byte,
	ttl time.Duration) config.Provider {

	if path == "" {
		return config.NewStaticProvider(embedded)
	}
	file := config.NewFileProvider(path)
	cached := config.NewCachedProvider(file, config.NewStaticProvider(embedded), ttl)
	go func() {
		if err := file.Watch(ctx, cached.Invalidate); err != nil {
			slog.Warn("config watch unavailable, falling back to TTL refresh",
				"path", path, "error", err)
		}
	}()
	return cached
}

// buildGate wires the policy gate to its config source.
func (s *service) buildGate(ctx context.Context) (*policy.Gate, error) {
	if s.config.PolicyPath == "" {
		return policy.NewGate(nil) // embedded defaults only
	}
	provider := hotConfig(ctx, s.config.PolicyPath,
		enforcement.DefaultPolicyTables, s.config.ConfigTTL)
	return policy.NewGate(provider)
}

// providerEnvNames lists the search providers resolvable from the
// environment: <NAME>_URL (required) and <NAME>_API_KEY (optional).
var providerEnvNames = []string{
	"weather_api", "sports_api", "local_events", "web_search", "knowledge_base",
}

// buildProviders resolves search provider clients from the environment.
// Providers without a configured URL are skipped; the registry logs any
// route that ends up referencing a missing provider.
func buildProviders() []search.Provider {
	httpClient := &http.Client{Timeout: 10 * time.Second}

	var providers []search.Provider
	for _, name := range providerEnvNames {
		envBase := strings.ToUpper(name)
		baseURL := os.Getenv(envBase + "_URL")
		if baseURL == "" {
			slog.Debug("search provider not configured, skipping", "provider", name)
			continue
		}
		p, err := search.NewHTTPProvider(search.HTTPProviderConfig{
			Name:    name,
			BaseURL: baseURL,
			APIKey:  os.Getenv(envBase + "_API_KEY"),
		}, httpClient)
		if err != nil {
			slog.Warn("search provider initialization failed, skipping",
				"provider", name, "error", err)
			continue
		}
		providers = append(providers, p)
		slog.Info("search provider registered", "provider", name)
	}
	return providers
}

// buildRegistry wires the routing registry to its config source.
func (s *service) buildRegistry(ctx context.Context) (*search.Registry, error) {
	cfgProvider := hotConfig(ctx, s.config.RoutingPath,
		routing.DefaultRoutingTable, s.config.ConfigTTL)

	registry, err := search.NewRegistry(buildProviders(), cfgProvider)
	if err != nil {
		return nil, err
	}

	// Re-resolve routes when a mounted table changes. The TTL cache
	// already refreshes the raw bytes; Reload re-parses them.
	if s.config.RoutingPath != "" {
		go func() {
			ticker := time.NewTicker(s.config.ConfigTTL)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := registry.Reload(ctx); err != nil {
						slog.Warn("routing table reload failed, keeping previous table",
							"error", err)
					}
				}
			}
		}()
	}
	return registry, nil
}

// initSessions builds the store, manager, binding, and reaper.
func (s *service) initSessions(metrics *observability.QueryMetrics) error {
	if s.config.SessionStorePath != "" {
		store, err := session.NewBadgerStore(
			session.DefaultBadgerConfig(s.config.SessionStorePath))
		if err != nil {
			return err
		}
		s.store = store
		slog.Info("Using persistent session store", "path", s.config.SessionStorePath)
	} else {
		s.store = session.NewMemoryStore()
		slog.Info("Using in-memory session store")
	}

	s.sessions = session.NewManager(s.store, session.ManagerConfig{
		MaxHistory:        s.config.MaxHistory,
		InactivityTimeout: s.config.InactivityTimeout,
		MaxAge:            s.config.MaxAge,
		Metrics:           metrics,
	}, slog.Default())
	s.binding = session.NewDeviceBinding(s.sessions)
	s.reaper = session.NewReaper(s.sessions, s.config.ReapInterval, slog.Default())
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("assistant-service"))

	routes.SetupRoutes(s.router, s.pipeline, s.sessions, s.binding)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.reaper != nil {
		s.reaper.Stop()
	}
	if s.watchCancel != nil {
		s.watchCancel()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("session store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
