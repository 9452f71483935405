// Package main is the entry point for the conversation gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/threadline-ai/conversation-gateway/internal/backend"
	"github.com/threadline-ai/conversation-gateway/internal/cache"
	"github.com/threadline-ai/conversation-gateway/internal/config"
	"github.com/threadline-ai/conversation-gateway/internal/coordinator"
	"github.com/threadline-ai/conversation-gateway/internal/handler"
	"github.com/threadline-ai/conversation-gateway/internal/middleware"
	natsclient "github.com/threadline-ai/conversation-gateway/internal/nats"
	"github.com/threadline-ai/conversation-gateway/internal/streams"
	"github.com/threadline-ai/conversation-gateway/pkg/logger"
	"github.com/threadline-ai/conversation-gateway/pkg/tracing"
)

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Conversation stream coordination gateway",
		Long: `gateway sits between conversation clients and the persistence and
generation backend. It owns in-flight generation streams, keeps the
displayed thread consistent across edits and branch navigation, and fans
live view updates out to subscribers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	serve.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gateway %s (commit: %s)\n", version, commit)
		},
	}

	root.AddCommand(serve, versionCmd)
	return root
}

func runServe(configPath string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting conversation gateway",
		zap.String("version", version),
		zap.String("port", cfg.ServerPort))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "conversation-gateway", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// The event bus is optional; an empty URL runs the gateway without it.
	var natsClient *natsclient.Client
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer natsClient.Close()
	}

	// Backend client and stream coordination
	backendClient := backend.New(cfg.BackendBaseURL, cfg.BackendToken,
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithLogger(log))

	registry := streams.NewRegistry()
	convCache := cache.New(cfg.CacheCapacity, registry.IsStreaming)
	hub := handler.NewLiveHub(log)

	opts := []coordinator.Option{
		coordinator.WithView(hub),
		coordinator.WithLogger(log),
		coordinator.WithEmitInterval(cfg.EmitInterval),
	}
	if natsClient != nil {
		opts = append(opts, coordinator.WithEvents(natsclient.NewPublisher(natsClient, log)))
	}
	co := coordinator.New(backendClient, registry, convCache, opts...)
	defer co.Close()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	conversationHandler := handler.NewConversationHandler(co, log)
	messageHandler := handler.NewMessageHandler(co, log)
	streamHandler := handler.NewStreamHandler(co)
	liveHandler := handler.NewLiveHandler(co, hub, log, cfg.HeartbeatInterval)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/", conversationHandler.Get)
			r.Delete("/", conversationHandler.Delete)

			r.Post("/messages", conversationHandler.Send)
			r.Post("/select", conversationHandler.Select)
			r.Post("/stop", conversationHandler.Stop)

			r.Get("/live", liveHandler.Live)
		})

		r.Route("/messages/{id}", func(r chi.Router) {
			r.Post("/edit", messageHandler.Edit)
			r.Post("/navigate", messageHandler.Navigate)
			r.Get("/branches", messageHandler.Branches)
		})

		r.Get("/streams", streamHandler.List)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped")
	return nil
}
