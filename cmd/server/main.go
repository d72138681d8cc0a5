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

	"github.com/example/ride-pooling/internal/app"
	"github.com/example/ride-pooling/internal/config"
	httpapi "github.com/example/ride-pooling/internal/http"
	"github.com/example/ride-pooling/internal/logging"
	"github.com/example/ride-pooling/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("ride-pooling-api", cfg.LogLevel)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations && cfg.PGDSN != "" {
		applied, err := storage.RunMigrations(ctx, cfg.PGDSN, "migrations")
		if err != nil {
			logger.Error("migration failed", "error", err, "applied", applied)
		} else {
			logger.Info("migrations applied", "files", applied)
		}
	}

	c, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close", "error", err)
		}
	}()

	var pub httpapi.Publisher
	if c.Producer != nil {
		pub = c.Producer
	}
	api := httpapi.NewServer(c.Store, c.Pipeline, pub, c.WSReg, logger)
	api.RunTimeout = cfg.RunTimeout
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-pooling listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
		}
		return
	case <-ctx.Done():
	}

	shutdown(srv, cfg.ShutdownTimeout, logger)
}

func shutdown(srv *http.Server, timeout time.Duration, logger *slog.Logger) {
	logger.Info("shutting down", "timeout", timeout.String())
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
