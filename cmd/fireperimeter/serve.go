package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	cli "gopkg.in/urfave/cli.v1"

	httpadapter "github.com/couchcryptid/fire-perimeter-service/internal/adapter/http"
	"github.com/couchcryptid/fire-perimeter-service/internal/adapter/objectstore"
	"github.com/couchcryptid/fire-perimeter-service/internal/config"
	"github.com/couchcryptid/fire-perimeter-service/internal/observability"
)

func serveAction(*cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	store, err := newStore(cfg, logger)
	if err != nil {
		return err
	}
	// Cached URLs are handed out for at most half their lifetime.
	presigner := objectstore.NewCachedPresigner(store, cfg.PresignCacheSize, store.Expiry()/2, clockwork.NewRealClock(), metrics)
	logger.Info("presign cache enabled", "size", cfg.PresignCacheSize, "ttl", store.Expiry()/2)

	redirects := httpadapter.NewRedirectHandler(presigner, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, store, logger, redirects.Mount)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
