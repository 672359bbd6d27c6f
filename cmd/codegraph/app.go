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

	"github.com/AleutianAI/codegraph/services/codegraph"
	"github.com/AleutianAI/codegraph/services/codegraph/builder"
	"github.com/AleutianAI/codegraph/services/codegraph/config"
	"github.com/AleutianAI/codegraph/services/codegraph/events"
	"github.com/AleutianAI/codegraph/services/codegraph/ingest"
	"github.com/AleutianAI/codegraph/services/codegraph/storage"
)

// app owns the service and the backends it was built from.
type app struct {
	svc       *codegraph.Service
	provider  storage.Provider
	publisher *events.Publisher
}

// newApp opens the snapshot backend, connects NATS when configured, and
// builds the service.
func newApp(cfg config.Config) (*app, error) {
	provider, err := codegraph.NewProvider(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	slog.Info("Snapshot storage ready",
		slog.String("backend", cfg.Storage.Backend),
		slog.String("path", cfg.Storage.Path))

	opts := []codegraph.Option{codegraph.WithProvider(provider)}

	var publisher *events.Publisher
	if cfg.Events.NATSURL != "" {
		publisher, err = events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			_ = provider.Close()
			return nil, err
		}
		slog.Info("Publishing graph changes", slog.String("nats_url", cfg.Events.NATSURL))
		opts = append(opts, codegraph.WithPublisher(publisher))
	}

	svc, err := codegraph.NewService(codegraph.ServiceConfigFrom(cfg), opts...)
	if err != nil {
		if publisher != nil {
			_ = publisher.Close()
		}
		_ = provider.Close()
		return nil, err
	}
	return &app{svc: svc, provider: provider, publisher: publisher}, nil
}

// Close checkpoints open sessions (when configured) and releases the
// backends.
func (a *app) Close(ctx context.Context) error {
	errs := []error{a.svc.Close(ctx)}
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	errs = append(errs, a.provider.Close())
	return errors.Join(errs...)
}

// serviceApplier routes watcher batches through the service so they open
// the session and invalidate cached responses like any other ingest.
type serviceApplier struct {
	svc  *codegraph.Service
	repo string
}

var _ ingest.Applier = serviceApplier{}

// ApplyAll implements ingest.Applier.
func (a serviceApplier) ApplyAll(ctx context.Context, batch []*builder.FileEvents) (*builder.BuildResult, error) {
	resp, err := a.svc.Ingest(ctx, a.repo, batch)
	if err != nil {
		return nil, err
	}
	return resp.BuildResult, nil
}
