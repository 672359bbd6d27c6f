// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// FileBatch is one file's complete generation: every node and edge the
// file declares. Placeholder nodes referenced by the edges may be included.
//
// The store copies edges on commit but keeps node pointers; callers must not
// mutate nodes after handing them to the store.
type FileBatch struct {
	File     string  `json:"file"`
	Language string  `json:"language,omitempty"`
	Nodes    []*Node `json:"nodes"`
	Edges    []*Edge `json:"edges"`
}

// CommitResult describes what a commit changed.
type CommitResult struct {
	File                 string        `json:"file"`
	Removed              bool          `json:"removed"`
	Generation           uint64        `json:"generation"`
	NodesAdded           int           `json:"nodes_added"`
	NodesRemoved         int           `json:"nodes_removed"`
	EdgesAdded           int           `json:"edges_added"`
	EdgesRemoved         int           `json:"edges_removed"`
	PlaceholdersCreated  int           `json:"placeholders_created"`
	PlaceholdersResolved int           `json:"placeholders_resolved"`
	Retargeted           int           `json:"retargeted"`
	Duration             time.Duration `json:"duration"`
}

// CommitHook observes successful commits. Hooks run synchronously after the
// new snapshot is published and must not call back into the store's write
// methods.
type CommitHook func(ctx context.Context, res CommitResult)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCommitHook registers a hook called after every successful commit.
func WithCommitHook(h CommitHook) StoreOption {
	return func(s *Store) {
		s.hooks = append(s.hooks, h)
	}
}

// WithStoreName labels the store in logs and spans, usually with the
// repository id.
func WithStoreName(name string) StoreOption {
	return func(s *Store) {
		s.name = name
	}
}

// Store is a session-scoped graph store.
//
// Description:
//
//	Holds the current Snapshot behind an atomic pointer. Commits build the
//	next snapshot copy-on-write and publish it in one pointer swap, so a
//	reader sees either the whole previous generation of a file or the whole
//	new one.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Store struct {
	name    string
	current atomic.Pointer[Snapshot]

	commitMu sync.Mutex
	files    keyedMutex
	hooks    []CommitHook
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(emptySnapshot())
	return s
}

// Name returns the store's label.
func (s *Store) Name() string {
	return s.name
}

// Snapshot returns the current immutable snapshot. Never blocks.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// WithFileLock runs fn while holding the writer lock for one file.
//
// Description:
//
//	Serializes writers of the same file across their read-prepare-commit
//	window. Writers of different files do not contend. The lock is not
//	reentrant; fn may call UpsertFile/RemoveFile, which do not take it.
//
// Inputs:
//
//	file - The file path.
//	fn - The critical section.
//
// Outputs:
//
//	error - Whatever fn returns.
func (s *Store) WithFileLock(file string, fn func() error) error {
	unlock := s.files.lock(file)
	defer unlock()
	return fn()
}

// UpsertFile atomically replaces a file's nodes and edges.
//
// Description:
//
//	Validates the batch against the current snapshot, drops the previous
//	generation of the file, inserts the new one, retargets foreign edges of
//	vanished nodes to placeholders, and resolves pending placeholders that
//	the new definitions satisfy. Either everything is published or nothing.
//
// Inputs:
//
//	ctx - Used for tracing and hooks.
//	batch - The file's new generation. Must not be nil.
//
// Outputs:
//
//	CommitResult - Counts describing the change.
//	error - ErrDuplicateNode, ErrDanglingEdge, ErrForeignNode or
//	        ErrInvalidBatch (all class InvalidScope). The store is unchanged.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) UpsertFile(ctx context.Context, batch *FileBatch) (CommitResult, error) {
	if batch == nil {
		return CommitResult{}, fmt.Errorf("%w: nil batch", ErrInvalidBatch)
	}
	ctx, span := startCommitSpan(ctx, "Store.UpsertFile", batch.File)
	defer span.End()

	res, err := s.commit(ctx, func(t *txn) error { return t.upsert(batch) })
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Debug("upsert rejected",
			slog.String("store", s.name),
			slog.String("file", batch.File),
			slog.String("error", err.Error()),
		)
		return CommitResult{}, FileError{File: batch.File, Err: err}
	}
	res.File = batch.File
	span.SetAttributes(
		attribute.Int("graph.nodes_added", res.NodesAdded),
		attribute.Int("graph.edges_added", res.EdgesAdded),
		attribute.Int("graph.placeholders_resolved", res.PlaceholdersResolved),
	)
	s.runHooks(ctx, res)
	return res, nil
}

// RemoveFile removes a file's nodes and edges.
//
// Description:
//
//	Edges declared by other files that pointed at the removed nodes are
//	retargeted to placeholders named after the removed node and keyed by
//	the removed file, so indexing the file again rebinds them.
//
// Outputs:
//
//	CommitResult - Counts describing the change.
//	error - ErrFileNotFound if the file has no generation.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) RemoveFile(ctx context.Context, file string) (CommitResult, error) {
	ctx, span := startCommitSpan(ctx, "Store.RemoveFile", file)
	defer span.End()

	res, err := s.commit(ctx, func(t *txn) error { return t.remove(file) })
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CommitResult{}, err
	}
	res.File = file
	res.Removed = true
	s.runHooks(ctx, res)
	return res, nil
}

func (s *Store) commit(ctx context.Context, apply func(*txn) error) (CommitResult, error) {
	start := time.Now()

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	t := beginTxn(s.current.Load())
	if err := apply(t); err != nil {
		recordCommitMetrics(ctx, time.Since(start), false)
		return CommitResult{}, err
	}
	s.current.Store(t.s)

	res := t.result
	res.Generation = t.s.generation
	res.Duration = time.Since(start)
	recordCommitMetrics(ctx, res.Duration, true)
	return res, nil
}

func (s *Store) runHooks(ctx context.Context, res CommitResult) {
	for _, h := range s.hooks {
		h(ctx, res)
	}
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

// FileInfo records per-file attributes that survive a checkpoint.
type FileInfo struct {
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
}

// SnapshotData is the portable form of a snapshot used for checkpoints.
type SnapshotData struct {
	Generation uint64     `json:"generation"`
	Files      []FileInfo `json:"files"`
	Nodes      []*Node    `json:"nodes"`
	Edges      []*Edge    `json:"edges"`
}

// Export returns the portable form of the current snapshot.
//
// Nodes are ordered by file then declaration order (placeholders last),
// edges by insertion sequence.
func (s *Store) Export() *SnapshotData {
	snap := s.Snapshot()
	data := &SnapshotData{Generation: snap.generation}
	for _, f := range snap.Files() {
		fg := snap.files[f]
		data.Files = append(data.Files, FileInfo{Path: f, Language: fg.language})
		for _, id := range fg.nodeIDs {
			data.Nodes = append(data.Nodes, snap.nodes[id])
		}
		data.Edges = append(data.Edges, fg.edges...)
	}
	data.Nodes = append(data.Nodes, snap.Placeholders()...)
	sort.SliceStable(data.Edges, func(i, j int) bool { return data.Edges[i].Seq < data.Edges[j].Seq })
	return data
}

// Import replaces the store's content with a checkpoint.
//
// Description:
//
//	Rebuilds every index from data and validates the invariants before
//	publishing. On error the store is unchanged.
//
// Outputs:
//
//	error - ErrDanglingEdge / ErrDuplicateNode if data is inconsistent.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Import(ctx context.Context, data *SnapshotData) error {
	if data == nil {
		return fmt.Errorf("%w: nil snapshot data", ErrInvalidBatch)
	}
	_, span := startCommitSpan(ctx, "Store.Import", "")
	defer span.End()

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	t := beginTxn(emptySnapshot())
	t.s.generation = data.Generation

	for _, fi := range data.Files {
		t.s.files[fi.Path] = &fileGen{language: fi.Language}
		t.ownFile[fi.Path] = true
	}
	for _, n := range data.Nodes {
		if n == nil || n.ID == "" {
			return fmt.Errorf("%w: node without id", ErrInvalidBatch)
		}
		if n.Kind < 0 || n.Kind >= NumNodeKinds {
			return fmt.Errorf("%w: node kind %d", ErrInvalidBatch, int(n.Kind))
		}
		if _, dup := t.s.nodes[n.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		t.indexNode(n)
		if n.Placeholder {
			continue
		}
		fg, ok := t.s.files[n.Location.File]
		if !ok {
			fg = &fileGen{}
			t.s.files[n.Location.File] = fg
		}
		fg.nodeIDs = append(fg.nodeIDs, n.ID)
	}
	for _, e := range data.Edges {
		if e == nil {
			return fmt.Errorf("%w: nil edge", ErrInvalidBatch)
		}
		if _, ok := t.s.nodes[e.FromID]; !ok {
			return fmt.Errorf("%w: source %s", ErrDanglingEdge, e.FromID)
		}
		if _, ok := t.s.nodes[e.ToID]; !ok {
			return fmt.Errorf("%w: target %s", ErrDanglingEdge, e.ToID)
		}
		c := *e
		fg, ok := t.s.files[c.File]
		if !ok {
			fg = &fileGen{}
			t.s.files[c.File] = fg
		}
		t.addEdge(&c)
		fg.edges = append(fg.edges, &c)
		if c.Seq >= t.s.nextSeq {
			t.s.nextSeq = c.Seq + 1
		}
	}
	if err := t.s.Validate(); err != nil {
		return err
	}

	s.current.Store(t.s)
	slog.Info("graph snapshot imported",
		slog.String("store", s.name),
		slog.Int("files", len(t.s.files)),
		slog.Int("nodes", len(t.s.nodes)),
		slog.Int("edges", t.s.edgeCount),
	)
	return nil
}

// =============================================================================
// PER-FILE LOCKS
// =============================================================================

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
