// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codegraph provides the CodeGraph service: repository sessions
// over the graph engine and one query operation per capability.
//
// The service exposes:
//   - Session lifecycle (open, ingest, remove file, checkpoint, close)
//   - Symbol search and repository statistics
//   - Path, dependency, reference, data-flow and inheritance queries
//   - Complexity, duplication, unused-code and pattern analyses
//
// HTTP handlers for these operations live in handlers.go.
package codegraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/codegraph/services/codegraph/builder"
	"github.com/AleutianAI/codegraph/services/codegraph/config"
	"github.com/AleutianAI/codegraph/services/codegraph/events"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/storage"
	"github.com/AleutianAI/codegraph/services/codegraph/traverse"
)

// MaxSearchLimit caps SearchSymbolsRequest.Limit.
const MaxSearchLimit = 1000

// ServiceConfig configures the CodeGraph service.
type ServiceConfig struct {
	// PathDepth is the hop budget of TracePath when a request gives none.
	// Default: 10
	PathDepth int

	// DependencyDepth is the hop budget of transitive dependency and
	// reference queries.
	// Default: 5
	DependencyDepth int

	// DataFlowDepth is the hop budget of TraceDataFlow.
	// Default: 10
	DataFlowDepth int

	// SearchLimit is the default number of symbols SearchSymbols returns.
	// Default: 50
	SearchLimit int

	// CacheSize is the number of responses kept in the LRU. 0 disables it.
	// Default: 1024
	CacheSize int

	// Concurrency bounds parallel file application during ingest.
	// Default: 0 (builder default)
	Concurrency int

	// CheckpointOnClose saves a snapshot when a session closes.
	// Default: true
	CheckpointOnClose bool

	// EntryNames are extra symbol names the unused-code analyzer treats as
	// entry points.
	EntryNames []string
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		PathDepth:         traverse.DefaultPathDepth,
		DependencyDepth:   traverse.DefaultDependencyDepth,
		DataFlowDepth:     traverse.DefaultDataFlowDepth,
		SearchLimit:       50,
		CacheSize:         1024,
		CheckpointOnClose: true,
	}
}

// ServiceConfigFrom maps the file configuration onto a ServiceConfig.
func ServiceConfigFrom(cfg config.Config) ServiceConfig {
	return ServiceConfig{
		PathDepth:         cfg.Limits.PathDepth,
		DependencyDepth:   cfg.Limits.DependencyDepth,
		DataFlowDepth:     cfg.Limits.DataFlowDepth,
		SearchLimit:       cfg.Limits.SearchLimit,
		CacheSize:         cfg.Cache.Size,
		Concurrency:       cfg.Builder.Concurrency,
		CheckpointOnClose: cfg.Storage.CheckpointOnClose,
		EntryNames:        cfg.Analysis.EntryNames,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithProvider sets the snapshot provider used to restore and checkpoint
// sessions. Without one, sessions always start empty.
func WithProvider(p storage.SnapshotProvider) Option {
	return func(s *Service) {
		s.provider = p
	}
}

// WithPublisher publishes a change event after every commit.
func WithPublisher(p *events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// Session is one open repository.
//
// A session owns the repository's graph store; its lifecycle matches
// open/close on the service.
type Session struct {
	Repository string
	Store      *graph.Store
	Builder    *builder.Builder

	// Restored is true when the session was loaded from a snapshot.
	Restored bool
	OpenedAt time.Time
}

// Snapshot returns the session's current snapshot.
func (s *Session) Snapshot() *graph.Snapshot {
	return s.Store.Snapshot()
}

// Service is the CodeGraph service.
//
// Thread Safety:
//
//	Service is safe for concurrent use. Queries on one session run
//	concurrently with each other and with ingest.
type Service struct {
	config    ServiceConfig
	provider  storage.SnapshotProvider
	publisher *events.Publisher
	cache     *responseCache

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	opening singleflight.Group
}

// NewService creates a new CodeGraph service.
//
// Description:
//
//	Zero limits in cfg take the defaults of DefaultServiceConfig. The
//	service starts with no sessions.
//
// Inputs:
//
//	cfg - Service configuration
//	opts - Provider and publisher options
//
// Outputs:
//
//	*Service - The configured service
//	error - Non-nil if the response cache cannot be created
func NewService(cfg ServiceConfig, opts ...Option) (*Service, error) {
	def := DefaultServiceConfig()
	if cfg.PathDepth <= 0 {
		cfg.PathDepth = def.PathDepth
	}
	if cfg.DependencyDepth <= 0 {
		cfg.DependencyDepth = def.DependencyDepth
	}
	if cfg.DataFlowDepth <= 0 {
		cfg.DataFlowDepth = def.DataFlowDepth
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = def.SearchLimit
	}
	if cfg.SearchLimit > MaxSearchLimit {
		cfg.SearchLimit = MaxSearchLimit
	}

	cache, err := newResponseCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config:   cfg,
		cache:    cache,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() ServiceConfig {
	return s.config
}

// =============================================================================
// Session lifecycle
// =============================================================================

// Open opens a repository session.
//
// Description:
//
//	Returns the existing session if one is open. Otherwise loads the
//	latest snapshot through the provider, or starts an empty graph when
//	none is stored. Concurrent opens of one repository share a single
//	load.
//
// Inputs:
//
//	ctx - Context for cancellation
//	repo - Repository id
//
// Outputs:
//
//	*Session - The open session
//	error - Invalid repository id, or a provider/import failure
func (s *Service) Open(ctx context.Context, repo string) (*Session, error) {
	return s.open(ctx, repo, false)
}

// Session returns the open session of repo, restoring it from a stored
// snapshot if needed.
//
// Outputs:
//
//	*Session - The session
//	error - ErrSessionNotFound when repo is neither open nor stored
func (s *Service) Session(ctx context.Context, repo string) (*Session, error) {
	return s.open(ctx, repo, true)
}

func (s *Service) open(ctx context.Context, repo string, requireSnapshot bool) (*Session, error) {
	if err := storage.ValidateRepositoryID(repo); err != nil {
		return nil, err
	}
	if sess, err := s.lookup(repo); sess != nil || err != nil {
		return sess, err
	}

	key := "open:" + repo
	if requireSnapshot {
		key = "restore:" + repo
	}
	v, err, _ := s.opening.Do(key, func() (any, error) {
		if sess, err := s.lookup(repo); sess != nil || err != nil {
			return sess, err
		}
		sess, err := s.load(ctx, repo, requireSnapshot)
		if err != nil {
			return nil, err
		}
		return s.register(sess)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (s *Service) lookup(repo string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrServiceClosed
	}
	return s.sessions[repo], nil
}

// register adds sess unless another session for the repository won a race,
// in which case that one is returned.
func (s *Service) register(sess *Session) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServiceClosed
	}
	if existing, ok := s.sessions[sess.Repository]; ok {
		return existing, nil
	}
	s.sessions[sess.Repository] = sess
	sessionsOpen.Inc()
	slog.Info("session opened",
		slog.String("repository", sess.Repository),
		slog.Bool("restored", sess.Restored),
		slog.Uint64("generation", sess.Store.Snapshot().Generation()),
	)
	return sess, nil
}

func (s *Service) load(ctx context.Context, repo string, requireSnapshot bool) (*Session, error) {
	storeOpts := []graph.StoreOption{graph.WithStoreName(repo)}
	if s.publisher != nil {
		storeOpts = append(storeOpts, graph.WithCommitHook(s.publisher.Hook(repo)))
	}
	store := graph.NewStore(storeOpts...)

	sess := &Session{
		Repository: repo,
		Store:      store,
		OpenedAt:   time.Now().UTC(),
	}
	var bopts []builder.BuilderOption
	if s.config.Concurrency > 0 {
		bopts = append(bopts, builder.WithConcurrency(s.config.Concurrency))
	}
	sess.Builder = builder.New(store, bopts...)

	if s.provider == nil {
		if requireSnapshot {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, repo)
		}
		return sess, nil
	}

	data, err := s.provider.LoadSnapshot(ctx, repo)
	switch {
	case errors.Is(err, storage.ErrSnapshotNotFound):
		if requireSnapshot {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, repo)
		}
		return sess, nil
	case err != nil:
		slog.Error("snapshot load failed",
			slog.String("repository", repo),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("load snapshot %s: %w", repo, err)
	}

	if err := store.Import(ctx, data); err != nil {
		slog.Error("snapshot import failed",
			slog.String("repository", repo),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("import snapshot %s: %w", repo, err)
	}
	sess.Restored = true
	return sess, nil
}

// Repositories returns the ids of the open sessions, sorted.
func (s *Service) Repositories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for repo := range s.sessions {
		out = append(out, repo)
	}
	sort.Strings(out)
	return out
}

// OpenRepository opens repo and describes the session.
func (s *Service) OpenRepository(ctx context.Context, repo string) (*OpenResponse, error) {
	start := time.Now()
	sess, err := s.Open(ctx, repo)
	recordOperation("open", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return &OpenResponse{
		Repository: repo,
		Restored:   sess.Restored,
		OpenedAt:   sess.OpenedAt,
		Stats:      sess.Snapshot().Stats(),
	}, nil
}

// Ingest applies a batch of file events to repo, opening it if needed.
//
// Description:
//
//	Files are applied through the session's builder. A failing file is
//	reported in the response and keeps its previous generation; the other
//	files are committed.
//
// Outputs:
//
//	*IngestResponse - Per-file results and aggregated counts
//	error - ErrEmptyBatch, an open failure, or cancellation
func (s *Service) Ingest(ctx context.Context, repo string, batch []*builder.FileEvents) (*IngestResponse, error) {
	start := time.Now()
	resp, err := s.ingest(ctx, repo, batch)
	recordOperation("ingest", err, time.Since(start))
	return resp, err
}

func (s *Service) ingest(ctx context.Context, repo string, batch []*builder.FileEvents) (*IngestResponse, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	sess, err := s.Open(ctx, repo)
	if err != nil {
		return nil, err
	}
	result, err := sess.Builder.ApplyAll(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", repo, err)
	}

	resp := &IngestResponse{
		Repository:  repo,
		Generation:  sess.Snapshot().Generation(),
		BuildResult: result,
	}
	for _, fe := range result.FileErrors {
		resp.Errors = append(resp.Errors, fe.Error())
	}
	for _, ee := range result.EdgeErrors {
		resp.EdgeErrors = append(resp.EdgeErrors, ee.Error())
	}
	return resp, nil
}

// RemoveFile removes one file's nodes and edges from repo.
func (s *Service) RemoveFile(ctx context.Context, repo, file string) (*RemoveFileResponse, error) {
	start := time.Now()
	resp, err := s.removeFile(ctx, repo, file)
	recordOperation("remove_file", err, time.Since(start))
	return resp, err
}

func (s *Service) removeFile(ctx context.Context, repo, file string) (*RemoveFileResponse, error) {
	if file == "" {
		return nil, fmt.Errorf("%w: empty file path", graph.ErrInvalidBatch)
	}
	sess, err := s.Session(ctx, repo)
	if err != nil {
		return nil, err
	}
	fr, err := sess.Builder.Remove(ctx, file)
	if err != nil {
		return nil, err
	}
	return &RemoveFileResponse{Repository: repo, Commit: fr.Commit}, nil
}

// Checkpoint saves the current snapshot of repo through the provider.
//
// Outputs:
//
//	*CheckpointResponse - What was saved
//	error - ErrNoProvider, ErrSessionNotFound, or the provider failure
func (s *Service) Checkpoint(ctx context.Context, repo string) (*CheckpointResponse, error) {
	start := time.Now()
	sess, err := s.lookup(repo)
	if err == nil && sess == nil {
		err = fmt.Errorf("%w: %s", ErrSessionNotFound, repo)
	}
	var resp *CheckpointResponse
	if err == nil {
		resp, err = s.checkpoint(ctx, sess)
	}
	recordOperation("checkpoint", err, time.Since(start))
	return resp, err
}

func (s *Service) checkpoint(ctx context.Context, sess *Session) (*CheckpointResponse, error) {
	if s.provider == nil {
		return nil, ErrNoProvider
	}
	start := time.Now()
	data := sess.Store.Export()
	err := s.provider.SaveSnapshot(ctx, sess.Repository, data)
	recordCheckpoint(err)
	if err != nil {
		slog.Error("checkpoint failed",
			slog.String("repository", sess.Repository),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("checkpoint %s: %w", sess.Repository, err)
	}

	resp := &CheckpointResponse{
		Repository: sess.Repository,
		Generation: data.Generation,
		Files:      len(data.Files),
		Nodes:      len(data.Nodes),
		Edges:      len(data.Edges),
		Duration:   time.Since(start),
	}
	slog.Info("checkpoint saved",
		slog.String("repository", sess.Repository),
		slog.Uint64("generation", resp.Generation),
		slog.Int("nodes", resp.Nodes),
		slog.Duration("duration", resp.Duration),
	)
	return resp, nil
}

// CloseSession closes the session of repo.
//
// Description:
//
//	With CheckpointOnClose and a provider configured, the snapshot is
//	saved first; if that fails the session stays open and the error is
//	returned. Cached responses of the repository are dropped.
func (s *Service) CloseSession(ctx context.Context, repo string) error {
	start := time.Now()
	err := s.closeSession(ctx, repo)
	recordOperation("close", err, time.Since(start))
	return err
}

func (s *Service) closeSession(ctx context.Context, repo string) error {
	sess, err := s.lookup(repo)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, repo)
	}
	if s.config.CheckpointOnClose && s.provider != nil {
		if _, err := s.checkpoint(ctx, sess); err != nil {
			return err
		}
	}
	s.drop(repo)
	return nil
}

func (s *Service) drop(repo string) {
	s.mu.Lock()
	if _, ok := s.sessions[repo]; ok {
		delete(s.sessions, repo)
		sessionsOpen.Dec()
	}
	s.mu.Unlock()

	purged := s.cache.purge(repo)
	slog.Info("session closed",
		slog.String("repository", repo),
		slog.Int("cache_entries_purged", purged),
	)
}

// Close closes every session and rejects further calls.
//
// Checkpoint failures are joined into the returned error; the sessions
// are dropped regardless.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for _, repo := range s.Repositories() {
		if err := s.closeSession(ctx, repo); err != nil {
			errs = append(errs, err)
			s.drop(repo)
		}
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return errors.Join(errs...)
}
