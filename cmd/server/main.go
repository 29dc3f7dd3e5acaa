// Concierge - storefront chat widget bridge server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/levelpath/concierge/internal/chat"
	"github.com/levelpath/concierge/internal/config"
	"github.com/levelpath/concierge/internal/identity"
	"github.com/levelpath/concierge/internal/middleware"
	"github.com/levelpath/concierge/internal/remote"
	"github.com/levelpath/concierge/internal/store"
	"github.com/levelpath/concierge/internal/tools"
	"github.com/levelpath/concierge/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "remote_enabled", cfg.Remote.Enabled())

	// Initialize dependencies.
	catalog, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := catalog.Close(); closeErr != nil {
			slog.Error("Failed to close catalog", "error", closeErr)
		}
	}()

	if err := catalog.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	if err := store.Seed(context.Background(), catalog); err != nil {
		slog.Error("Failed to seed catalog fixtures", "error", err)
		os.Exit(1)
	}
	slog.Info("Catalog fixtures seeded")

	// Remote conversations client and push subscription (optional).
	var conv chat.Conversations
	var sub chat.Subscriber
	var remoteClient *remote.Client
	if cfg.Remote.Enabled() {
		remoteClient = remote.NewClient(cfg.Remote)
		conv = remoteClient
		if cfg.Remote.EventSocketURL != "" {
			sub = remote.NewSubscription(cfg.Remote.EventSocketURL, remoteClient.Credential)
			slog.Info("Remote push subscription configured", "socket_url", cfg.Remote.EventSocketURL)
		} else {
			slog.Info("Remote event socket not configured, replies use polling")
		}
	} else {
		slog.Info("Remote conversations not configured, chat runs in local mode only")
	}

	// Initialize services.
	hub := chat.NewHub(cfg.SSE.ReplayQueueSize)
	svc := chat.NewService(cfg.Chat, cfg.Remote, conv, sub, hub.Publish)

	// Initialize handlers.
	chatHandler := chat.NewHandler(svc, hub, cfg)
	toolHandler := tools.NewHandler(catalog, store.DemoStoreInfo())
	webhookHandler := webhook.NewHandler(svc.Responder(), conv, toolHandler)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{cfg.FrontendURL}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	chatHandler.RegisterRoutes(r)
	toolHandler.RegisterRoutes(r)
	webhookHandler.RegisterRoutes(r)

	// Thin proxy over the remote conversations API, for widget builds that
	// talk to it directly instead of through the chat session endpoints.
	if remoteClient != nil {
		remoteHandler := remote.NewHandler(remoteClient, cfg.Remote.AssistantID)
		remoteHandler.RegisterRoutes(r)
	}

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
