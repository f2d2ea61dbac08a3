// Command server accepts S3 event notifications over HTTP (for example from
// an SNS subscription or a MinIO webhook) and ingests the named objects.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/csvrefinery/internal/application"
	"github.com/JonMunkholm/csvrefinery/internal/config"
	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/logging"
	"github.com/JonMunkholm/csvrefinery/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"backend", cfg.Storage.Backend,
		"ingest_max_concurrent", cfg.Pipeline.MaxConcurrent,
		"history_enabled", cfg.Database.HistoryEnabled(),
		"api_key_required", cfg.Security.RequireAPIKey,
	)

	app, err := application.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err, "code", core.Describe(err).Code)
		os.Exit(1)
	}
	defer app.Close()

	var opts []web.Option
	if app.History != nil {
		opts = append(opts, web.WithHistory(app.History))
	}
	server := web.NewServer(app.Service, app.Limiter, cfg, opts...)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown incomplete", "error", err, "active_ingestions", app.Limiter.Active())
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
