// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coach provides the core coaching bot service for AleutianCoach.
//
// This package contains the main Service type that coordinates all
// components of the bot: the Telegram transport, the Groq-backed model
// client, the training session engine, per-user rate limiting, response
// caching, conversation memory, and observability infrastructure.
//
// # Usage
//
//	cfg := coach.Config{Port: 12310}
//	svc, err := coach.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run(ctx)
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianCoach/services/coach/cache"
	"github.com/AleutianAI/AleutianCoach/services/coach/conversation"
	"github.com/AleutianAI/AleutianCoach/services/coach/dispatch"
	"github.com/AleutianAI/AleutianCoach/services/coach/observability"
	"github.com/AleutianAI/AleutianCoach/services/coach/ratelimit"
	"github.com/AleutianAI/AleutianCoach/services/coach/routes"
	"github.com/AleutianAI/AleutianCoach/services/coach/session"
	"github.com/AleutianAI/AleutianCoach/services/coach/stats"
	"github.com/AleutianAI/AleutianCoach/services/coach/text"
	"github.com/AleutianAI/AleutianCoach/services/llm"
	"github.com/AleutianAI/AleutianCoach/services/telegram"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the coach bot service.
//
// # Description
//
// Service abstracts the bot lifecycle, enabling testing and alternative
// implementations. The interface follows the minimal surface area
// principle - only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server plus background workers and blocks until
	// ctx is cancelled or a fatal error occurs.
	//
	// # Inputs
	//
	//   - ctx: Cancelled to trigger graceful shutdown.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server fails to start or dies unexpectedly
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	//
	// # Limitations
	//
	//   - Should not be used to modify routes after construction
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds coach service configuration options.
//
// # Description
//
// Config centralizes all configuration for the bot service. Values
// can be populated from environment variables, config files, or
// programmatically for testing.
//
// # Required Fields
//
// None - all fields have sensible defaults, though the Telegram token
// and Groq API key must be present in the environment (or Podman
// secrets) for the transport and model clients to initialize.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// Version is the build version reported by /version.
	Version string

	// WebhookURL is the public HTTPS URL Telegram should deliver updates
	// to. If empty, webhook registration is skipped at startup (useful
	// behind a tunnel that registers its own webhook).
	WebhookURL string

	// WebhookSecret is the shared secret Telegram echoes back in the
	// X-Telegram-Bot-Api-Secret-Token header. If empty, webhook
	// authentication is disabled.
	WebhookSecret string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// TrainerConfigPath points at a YAML curriculum override.
	// If empty, the embedded curriculum is used.
	TrainerConfigPath string

	// RateLimitRequests is the per-user inbound budget per window.
	// Default: 20
	RateLimitRequests int

	// RateLimitWindow is the sliding window for the per-user limiter.
	// Default: 1 minute
	RateLimitWindow time.Duration

	// ResponseCacheSize bounds the LRU of cached model responses.
	// Default: 1000
	ResponseCacheSize int

	// StatsCapacity bounds the per-user usage stats store.
	// Default: 500
	StatsCapacity int

	// ConversationMaxTurns bounds retained chat history per user.
	// Default: 20
	ConversationMaxTurns int

	// ConversationTTL is how long idle conversations are retained.
	// Default: 1 hour
	ConversationTTL time.Duration

	// JanitorInterval is how often expired conversations are swept.
	// Default: 10 minutes
	JanitorInterval time.Duration

	// ShutdownGrace bounds graceful HTTP server shutdown.
	// Default: 10 seconds
	ShutdownGrace time.Duration
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin (webhook sink + admin API)
//   - Telegram outbound client
//   - Groq model client
//   - Training session engine and registry
//   - Conversation memory with TTL sweeping
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	bot           *telegram.Client
	llmClient     llm.LLMClient
	registry      *session.Registry
	trainer       *session.Trainer
	dispatcher    *dispatch.Dispatcher
	conversations *conversation.Buffer
	janitor       *conversation.Janitor
	metrics       *observability.BotMetrics
	tracerCleanup func(context.Context)
	logger        *slog.Logger
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new coach Service with the given configuration.
//
// # Description
//
// New initializes all bot components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Creates the Telegram and Groq clients from the environment
//  4. Builds the session engine (registry, gates, trainer)
//  5. Builds the dispatch pipeline (limiter, caches, stats, metrics)
//  6. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run bot service
//   - error: Non-nil if initialization fails
//
// # Assumptions
//
//   - TELEGRAM_BOT_TOKEN and GROQ_API_KEY are available via env or
//     Podman secrets
//   - Network is available for external service connections
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
		logger: slog.Default(),
	}

	// Initialize OpenTelemetry tracer
	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics
	s.metrics = observability.NewBotMetrics(prometheus.DefaultRegisterer)

	// Initialize external clients
	if err := s.initClients(); err != nil {
		s.cleanup()
		return nil, err
	}

	// Initialize the session engine
	if err := s.initTrainer(); err != nil {
		s.cleanup()
		return nil, err
	}

	// Initialize the dispatch pipeline
	if err := s.initDispatcher(); err != nil {
		s.cleanup()
		return nil, err
	}

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server plus background workers and blocks until
// ctx is cancelled or a fatal error occurs.
//
// # Description
//
// Registers the Telegram webhook (when configured), starts the
// conversation janitor, and serves HTTP. On ctx cancellation the HTTP
// server drains within ShutdownGrace, the janitor stops, and the
// tracer flushes.
//
// # Outputs
//
//   - error: Non-nil if the server fails to start or dies unexpectedly
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	if s.config.WebhookURL != "" {
		registerCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := s.bot.SetWebhook(registerCtx, s.config.WebhookURL, s.config.WebhookSecret)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to register Telegram webhook: %w", err)
		}
		s.logger.Info("Registered Telegram webhook", "url", s.config.WebhookURL)
	} else {
		s.logger.Warn("COACH_WEBHOOK_URL not set, skipping webhook registration")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := s.janitor.Start(groupCtx); err != nil {
			return fmt.Errorf("failed to start conversation janitor: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		s.logger.Info("Starting coach server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("coach server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		s.logger.Info("Shutting down coach server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownGrace)
		defer cancel()

		s.janitor.Stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("coach server shutdown error: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.RateLimitRequests == 0 {
		cfg.RateLimitRequests = 20
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.ResponseCacheSize == 0 {
		cfg.ResponseCacheSize = 1000
	}
	if cfg.StatsCapacity == 0 {
		cfg.StatsCapacity = 500
	}
	if cfg.ConversationMaxTurns == 0 {
		cfg.ConversationMaxTurns = 20
	}
	if cfg.ConversationTTL == 0 {
		cfg.ConversationTTL = time.Hour
	}
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = 10 * time.Minute
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up OTLP trace exporter to send spans to the configured collector.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
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
		resource.WithAttributes(semconv.ServiceNameKey.String("coach-service")))
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

// initClients builds the Telegram and Groq clients from the environment.
func (s *service) initClients() error {
	bot, err := telegram.NewClientFromEnv()
	if err != nil {
		return fmt.Errorf("failed to create Telegram client: %w", err)
	}
	s.bot = bot

	groq, err := llm.NewGroqClient()
	if err != nil {
		return fmt.Errorf("failed to create Groq client: %w", err)
	}
	s.llmClient = groq
	s.logger.Info("Using Groq LLM backend")

	return nil
}

// initTrainer builds the session registry, gate engine, and trainer.
func (s *service) initTrainer() error {
	trainerCfg, err := session.LoadTrainerConfig(s.config.TrainerConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load trainer config: %w", err)
	}
	if s.config.TrainerConfigPath != "" {
		s.logger.Info("Loaded trainer curriculum", "path", s.config.TrainerConfigPath)
	}

	gates, err := session.NewGateEngine(session.DefaultGates())
	if err != nil {
		return fmt.Errorf("failed to build gate engine: %w", err)
	}

	s.registry = session.NewRegistry()

	buffer, err := conversation.NewBuffer(s.config.ConversationMaxTurns, s.config.ConversationTTL)
	if err != nil {
		return fmt.Errorf("failed to build conversation buffer: %w", err)
	}
	s.conversations = buffer
	s.janitor = conversation.NewJanitor(buffer,
		conversation.JanitorConfig{Interval: s.config.JanitorInterval}, s.logger)

	gauge := s.metrics.ActiveSessions
	s.trainer, err = session.NewTrainer(s.registry, gates, trainerCfg, s.llmClient, s.logger,
		session.WithSessionGauge(func(delta int) {
			gauge.Add(float64(delta))
		}),
		session.WithTeardownHook(buffer.Clear),
	)
	if err != nil {
		return fmt.Errorf("failed to build trainer: %w", err)
	}

	return nil
}

// initDispatcher builds the update dispatch pipeline.
func (s *service) initDispatcher() error {
	limiter, err := ratelimit.New(s.config.RateLimitRequests, s.config.RateLimitWindow)
	if err != nil {
		return fmt.Errorf("failed to build rate limiter: %w", err)
	}

	responses, err := cache.NewResponseCache(s.config.ResponseCacheSize, text.MaskPII)
	if err != nil {
		return fmt.Errorf("failed to build response cache: %w", err)
	}

	tracker, err := stats.NewTracker(s.config.StatsCapacity)
	if err != nil {
		return fmt.Errorf("failed to build stats tracker: %w", err)
	}

	s.dispatcher, err = dispatch.NewDispatcher(dispatch.Config{
		Trainer:       s.trainer,
		Limiter:       limiter,
		Responses:     responses,
		Conversations: s.conversations,
		Client:        s.llmClient,
		Tracker:       tracker,
		Metrics:       s.metrics,
		Sender:        s.bot,
		Logger:        s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build dispatcher: %w", err)
	}

	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("coach-service"))

	routes.SetupRoutes(s.router, s.dispatcher, s.registry, s.trainer,
		s.config.WebhookSecret, s.config.Version, s.logger)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.janitor != nil {
		s.janitor.Stop()
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
