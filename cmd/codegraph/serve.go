// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/codegraph/services/codegraph"
	"github.com/AleutianAI/codegraph/services/codegraph/config"
	"github.com/AleutianAI/codegraph/services/codegraph/ingest"
	"github.com/AleutianAI/codegraph/services/codegraph/telemetry"
)

const shutdownTimeout = 30 * time.Second

// newRouter builds the gin engine with tracing and every CodeGraph route.
func newRouter(svc *codegraph.Service, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	v1 := router.Group("/v1")
	codegraph.RegisterRoutes(v1, codegraph.NewHandlers(svc))
	return router
}

// startWatcher applies event files dropped into cfg.WatchDir to
// cfg.Repository. It returns nil when watching is disabled.
func startWatcher(ctx context.Context, svc *codegraph.Service, cfg config.IngestConfig) (*ingest.Watcher, error) {
	if cfg.WatchDir == "" {
		return nil, nil
	}
	if cfg.Repository == "" {
		return nil, fmt.Errorf("%w: ingest.repository is required with ingest.watch_dir", config.ErrInvalidConfig)
	}

	opts := ingest.DefaultWatcherOptions()
	if cfg.Glob != "" {
		opts.Glob = cfg.Glob
	}
	opts.OnBatch = func(res *ingest.BatchResult) {
		if res.Err != nil {
			slog.Warn("Watched batch rejected",
				slog.String("repository", cfg.Repository),
				slog.Int("paths", len(res.Paths)),
				slog.String("error", res.Err.Error()))
		}
	}

	w, err := ingest.NewWatcher(cfg.WatchDir, serviceApplier{svc: svc, repo: cfg.Repository}, opts)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	slog.Info("Watching for event files",
		slog.String("dir", cfg.WatchDir),
		slog.String("glob", opts.Glob),
		slog.String("repository", cfg.Repository))
	return w, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.SetMode(gin.ReleaseMode)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	watcher, err := startWatcher(ctx, a.svc, cfg.Ingest)
	if err != nil {
		_ = a.Close(context.Background())
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           newRouter(a.svc, cfg.Telemetry.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting CodeGraph server",
			slog.String("address", srv.Addr),
			slog.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down CodeGraph server")
	case err = <-serveErr:
		if err != nil {
			slog.Error("Server failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if watcher != nil {
		watcher.Stop()
	}
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Warn("HTTP shutdown incomplete", slog.String("error", shutdownErr.Error()))
	}
	if closeErr := a.Close(shutdownCtx); closeErr != nil {
		slog.Error("Closing sessions failed", slog.String("error", closeErr.Error()))
		err = errors.Join(err, closeErr)
	}
	return err
}
