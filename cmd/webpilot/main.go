// WebPilot server: runs LLM-driven browser sessions, streams their
// progress over WebSocket, and replays cached action plans.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/webpilot-ai/webpilot/pkg/agent"
	"github.com/webpilot-ai/webpilot/pkg/api"
	"github.com/webpilot-ai/webpilot/pkg/config"
	"github.com/webpilot-ai/webpilot/pkg/container"
	"github.com/webpilot-ai/webpilot/pkg/engine"
	"github.com/webpilot-ai/webpilot/pkg/events"
	"github.com/webpilot-ai/webpilot/pkg/services"
	"github.com/webpilot-ai/webpilot/pkg/store"
	"github.com/webpilot-ai/webpilot/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting WebPilot",
		"version", version.Version,
		"http_port", cfg.HTTPPort,
		"browser_mode", string(cfg.BrowserMode),
		"config_dir", *configDir)

	ctx := context.Background()

	// Record store: Postgres when configured, in-memory otherwise.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		st = pgStore
		slog.Info("Connected to PostgreSQL database")
	} else {
		st = store.NewMemoryStore()
		slog.Warn("DATABASE_URL not set, using in-memory store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()

	connManager := events.NewConnectionManager(10 * time.Second)

	planner := agent.NewOpenAIPlanner(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)
	summarizer := engine.NewSummarizer(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.SummaryModel)

	eng := engine.New(st, connManager, cfg, planner, summarizer)
	connManager.SetStreamController(eng)

	// Browser containers are optional; the endpoints answer 503 when the
	// Docker daemon is unreachable.
	var containers *container.Manager
	if cfg.BrowserMode == config.BrowserModeContainer {
		containers, err = container.NewManager(cfg.BrowserContainerImage)
		if err != nil {
			slog.Error("Failed to create container manager", "error", err)
			os.Exit(1)
		}
		defer containers.Close()
	}

	sessionService := services.NewSessionService(st, eng)
	server := api.NewServer(cfg, sessionService, containers, connManager)

	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig.String())

	// Cancel running sessions so browsers and containers are released.
	for _, id := range eng.Registry().ActiveSessions() {
		if err := eng.Cancel(id); err != nil {
			slog.Warn("Failed to cancel session during shutdown", "session_id", id, "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
