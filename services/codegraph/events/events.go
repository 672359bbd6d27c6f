// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events publishes graph-change notifications to NATS.
//
// Every commit of a session's store produces one FileChanged message on
//
//	<prefix>.<repo>.file.updated
//	<prefix>.<repo>.file.removed
//
// Messages carry the W3C trace context of the commit in their headers.
// A nil *Publisher is valid and publishes nothing.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/telemetry"
)

// Header keys set on every message.
const (
	HeaderRepository = "Codegraph-Repository"
	HeaderGeneration = "Codegraph-Generation"
)

// DefaultSubjectPrefix is used when none is configured.
const DefaultSubjectPrefix = "codegraph"

// FileChanged is the payload of a change notification.
type FileChanged struct {
	Repository   string    `json:"repository"`
	File         string    `json:"file"`
	Removed      bool      `json:"removed"`
	Generation   uint64    `json:"generation"`
	NodesAdded   int       `json:"nodes_added"`
	NodesRemoved int       `json:"nodes_removed"`
	EdgesAdded   int       `json:"edges_added"`
	EdgesRemoved int       `json:"edges_removed"`
	Resolved     int       `json:"placeholders_resolved"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewFileChanged builds the payload for one commit.
func NewFileChanged(repo string, res graph.CommitResult) FileChanged {
	return FileChanged{
		Repository:   repo,
		File:         res.File,
		Removed:      res.Removed,
		Generation:   res.Generation,
		NodesAdded:   res.NodesAdded,
		NodesRemoved: res.NodesRemoved,
		EdgesAdded:   res.EdgesAdded,
		EdgesRemoved: res.EdgesRemoved,
		Resolved:     res.PlaceholdersResolved,
		Timestamp:    time.Now().UTC(),
	}
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	PublishMsg(msg *nats.Msg) error
	Drain() error
}

// Publisher sends FileChanged messages.
//
// Thread Safety: Safe for concurrent use.
type Publisher struct {
	nc     conn
	prefix string
}

// Connect dials url and returns a publisher using prefix for subjects.
//
// Inputs:
//
//	url - NATS server URL.
//	prefix - Subject prefix. Empty selects DefaultSubjectPrefix.
//
// Outputs:
//
//	*Publisher - The connected publisher.
//	error - Non-nil if the connection fails.
func Connect(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("codegraph"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return newPublisher(nc, prefix), nil
}

func newPublisher(nc conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(ev FileChanged) string {
	action := "updated"
	if ev.Removed {
		action = "removed"
	}
	return p.prefix + "." + SubjectToken(ev.Repository) + ".file." + action
}

// Publish sends ev. NATS buffers the write, so this does not wait for the
// server.
func (p *Publisher) Publish(ctx context.Context, ev FileChanged) error {
	if p == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish file changed: %w", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal file changed: %w", err)
	}

	msg := nats.NewMsg(p.Subject(ev))
	msg.Data = data
	for k, v := range telemetry.InjectToMap(ctx, nil) {
		msg.Header.Set(k, v)
	}
	msg.Header.Set(HeaderRepository, ev.Repository)
	msg.Header.Set(HeaderGeneration, strconv.FormatUint(ev.Generation, 10))

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	recordPublished(ctx, ev.Removed)
	return nil
}

// Hook returns a commit hook publishing every commit of repo's store.
// Publish failures are logged and never fail the commit.
func (p *Publisher) Hook(repo string) graph.CommitHook {
	return func(ctx context.Context, res graph.CommitResult) {
		if p == nil {
			return
		}
		if err := p.Publish(ctx, NewFileChanged(repo, res)); err != nil {
			slog.Warn("file change not published",
				slog.String("repository", repo),
				slog.String("file", res.File),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.nc.Drain()
}

// SubjectToken makes s usable as one subject token: separators and
// wildcards become underscores.
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
