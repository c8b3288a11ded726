package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	cli "gopkg.in/urfave/cli.v1"

	httpadapter "github.com/couchcryptid/fire-perimeter-service/internal/adapter/http"
	"github.com/couchcryptid/fire-perimeter-service/internal/adapter/feed"
	"github.com/couchcryptid/fire-perimeter-service/internal/config"
	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
	"github.com/couchcryptid/fire-perimeter-service/internal/observability"
	"github.com/couchcryptid/fire-perimeter-service/internal/pipeline"
)

var runFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "date",
		Usage: "process a single date of interest (YYYY-MM-DD) and exit",
	},
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateRun(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher, err := newImagery(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	st, err := newStages(ctx, cfg, true, logger, metrics)
	defer st.close()
	if err != nil {
		return err
	}

	source := feed.NewClient(cfg.FeedURL, cfg.FeedTimeout, logger)
	p := pipeline.New(source, fetcher, newAreaCalculator(cfg), pipeline.SettingsFromConfig(cfg), logger, metrics, st.opts...)

	if s := c.String("date"); s != "" {
		date, err := domain.ParseDate(s)
		if err != nil {
			return fmt.Errorf("parse --date: %w", err)
		}
		_, err = p.RunOnce(ctx, date)
		return err
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start perimeter pipeline. A zero RUN_INTERVAL returns after one pass.
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()

	var runErr error
	finished := false
	select {
	case <-ctx.Done():
	case runErr = <-done:
		finished = true
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if !finished {
		// Let the fire in progress release its lock and temp files before the connections close.
		select {
		case runErr = <-done:
		case <-shutdownCtx.Done():
			logger.Warn("pipeline did not stop before shutdown timeout")
		}
	}

	logger.Info("shutdown complete")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
