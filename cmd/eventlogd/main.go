// eventlogd is the centralized event-log ingestion and query server.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/processlog/eventlog/pkg/config"
	"github.com/processlog/eventlog/pkg/database"
	"github.com/processlog/eventlog/pkg/httpapi"
	"github.com/processlog/eventlog/pkg/obs"
	"github.com/processlog/eventlog/pkg/store"
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
		"Path to directory containing a .env file")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	obs.SetupLogger(cfg.LogFormat, cfg.LogLevel)
	slog.Info("starting eventlogd", "http_port", cfg.HTTPPort, "log_format", cfg.LogFormat)

	ctx := context.Background()

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to database", "fulltext_enabled", dbClient.FullTextEnabled())

	metrics := obs.New("eventlogd")
	eventStore := store.NewEventStore(dbClient.DB(), metrics)

	server := httpapi.NewServer(cfg, dbClient, eventStore, metrics)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ":"+cfg.HTTPPort)
		if err := server.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("HTTP server error: %v", err)
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during graceful shutdown", "error", err)
	}
}
