// Package main is the entry point for the chat relay API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/companion-relay/internal/config"
	"github.com/capitalize-ai/companion-relay/internal/handler"
	"github.com/capitalize-ai/companion-relay/internal/llm"
	"github.com/capitalize-ai/companion-relay/internal/middleware"
	natsclient "github.com/capitalize-ai/companion-relay/internal/nats"
	"github.com/capitalize-ai/companion-relay/internal/service"
	"github.com/capitalize-ai/companion-relay/pkg/logger"
	"github.com/capitalize-ai/companion-relay/pkg/tracing"
)

const (
	serviceName  = "companion-relay"
	maxChatBody  = 10 << 20
	shutdownWait = 30 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	newLogger := logger.New
	if cfg.IsDevelopment() {
		newLogger = logger.NewDevelopment
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log.Logger)

	log.Info("starting API server", zap.String("environment", cfg.Environment))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Outcome events are optional
	var (
		natsClient *natsclient.Client
		events     service.EventPublisher
	)
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		events = streamManager
	} else {
		log.Info("NATS_URL not set, completion events disabled")
	}

	// Initialize services
	completions := llm.NewResilientClient(llm.DefaultFactory(), log)
	chatSvc := service.NewChatService(completions, service.Settings{
		SystemPrompt:    cfg.SystemPrompt,
		Models:          cfg.Models,
		VisionModels:    cfg.VisionModels,
		MaxTokens:       cfg.MaxTokens,
		VisionMaxTokens: cfg.VisionMaxTokens,
		Temperature:     cfg.Temperature,
		HistoryWindow:   cfg.HistoryWindow,
		TextPolicy:      cfg.Policy(false),
		ImagePolicy:     cfg.Policy(true),
		Credentials:     cfg.CredentialSource(),
	}, events, log)

	if !chatSvc.HasValidCredential() {
		log.Warn("no valid upstream credential configured, chat requests will fail")
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	chatHandler := handler.NewChatHandler(chatSvc, cfg.Environment, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowOrigins))

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Chat relay
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/", chatHandler.Diagnostics)
		r.Options("/", chatHandler.Options)
		r.With(
			middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow),
			middleware.MaxBodySize(maxChatBody),
		).Post("/", chatHandler.Reply)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      otelhttp.NewHandler(r, serviceName),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
