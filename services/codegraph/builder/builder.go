// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package builder turns normalized per-file parse events into atomic graph
// store commits.
//
// Each file goes through two passes. Pass one creates every node so ids are
// known up front. Pass two creates edges: endpoints named by id are checked,
// endpoints named by name resolve inside the file first (forward references
// included), then across the repository. Targets that cannot be resolved
// yet become pending placeholders keyed by (name, file hint); the store
// retargets them once a matching definition is indexed.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Sentinel errors for builder operations.
var (
	// ErrUnresolvedSource is returned when an edge source is neither in the
	// file nor anywhere in the store.
	ErrUnresolvedSource = fmt.Errorf("%w: unresolved edge source", graph.ErrInvalidScope)

	// ErrUnknownTarget is returned when an edge target names an id that is
	// not in the file or the store. Name refs never produce it.
	ErrUnknownTarget = fmt.Errorf("%w: unknown edge target id", graph.ErrInvalidScope)

	// ErrEmptyRef is returned for an endpoint with neither id nor name.
	ErrEmptyRef = fmt.Errorf("%w: empty edge endpoint", graph.ErrInvalidScope)

	// ErrBuildCancelled is returned when a build is cancelled via context.
	ErrBuildCancelled = errors.New("build cancelled")
)

// BuilderOptions configures Builder behavior.
type BuilderOptions struct {
	// Concurrency bounds parallel files in ApplyAll.
	// Default: runtime.NumCPU()
	Concurrency int
}

// DefaultBuilderOptions returns sensible defaults.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		Concurrency: runtime.NumCPU(),
	}
}

// BuilderOption is a functional option for configuring Builder.
type BuilderOption func(*BuilderOptions)

// WithConcurrency sets the number of files ApplyAll builds in parallel.
func WithConcurrency(n int) BuilderOption {
	return func(o *BuilderOptions) {
		o.Concurrency = n
	}
}

// Builder applies file events to one store.
//
// Thread Safety:
//
//	Builder is safe for concurrent use. Writes to the same file serialize
//	through the store's per-file lock; different files proceed in parallel.
type Builder struct {
	store   *graph.Store
	options BuilderOptions

	// beforeCommit runs between Prepare and UpsertFile. Tests only.
	beforeCommit func()
}

// maxCommitAttempts bounds how often Apply re-prepares a file whose
// cross-file targets were rewritten by a concurrent commit of another file.
const maxCommitAttempts = 3

// New creates a Builder for store.
func New(store *graph.Store, opts ...BuilderOption) *Builder {
	options := DefaultBuilderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Concurrency <= 0 {
		options.Concurrency = runtime.NumCPU()
	}
	return &Builder{store: store, options: options}
}

// Store returns the store the builder writes to.
func (b *Builder) Store() *graph.Store {
	return b.store
}

// Apply translates and commits one file's events.
//
// Description:
//
//	Holds the file's writer lock across prepare and commit so two updates
//	of the same file never interleave. Deleted events remove the file.
//	Cross-file targets are resolved against a snapshot taken without the
//	other files' locks; when another file's commit removes one of them
//	first, the store rejects the batch with ErrDanglingEdge and the file is
//	prepared again against a fresh snapshot, up to maxCommitAttempts times.
//
// Inputs:
//
//	ctx - Context for cancellation, checked before work starts.
//	ev - The file's events. Must not be nil.
//
// Outputs:
//
//	*FileResult - Commit counts and per-edge errors. Edge errors do not
//	              prevent the commit.
//	error - Non-nil if the batch was rejected; the previous generation of
//	        the file is left untouched.
//
// Thread Safety: Safe for concurrent use.
func (b *Builder) Apply(ctx context.Context, ev *FileEvents) (*FileResult, error) {
	if ev == nil || ev.File == "" {
		return nil, fmt.Errorf("%w: events without file", graph.ErrInvalidBatch)
	}
	if ev.Deleted {
		return b.Remove(ctx, ev.File)
	}

	ctx, span := startApplySpan(ctx, ev.File, len(ev.Nodes), len(ev.Edges))
	defer span.End()
	start := time.Now()

	var fr *FileResult
	err := b.store.WithFileLock(ev.File, func() error {
		for attempt := 1; ; attempt++ {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrBuildCancelled, err)
			}
			batch, stats, edgeErrs, err := Prepare(b.store.Snapshot(), ev)
			if err != nil {
				return graph.FileError{File: ev.File, Err: err}
			}
			if b.beforeCommit != nil {
				b.beforeCommit()
			}
			res, err := b.store.UpsertFile(ctx, batch)
			if errors.Is(err, graph.ErrDanglingEdge) && attempt < maxCommitAttempts {
				slog.Debug("cross-file target changed, preparing again",
					slog.String("file", ev.File),
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err != nil {
				return err
			}
			fr = &FileResult{File: ev.File, Commit: res, Stats: stats, EdgeErrors: edgeErrs}
			return nil
		}
	})
	recordApplyMetrics(ctx, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for _, ee := range fr.EdgeErrors {
		slog.Debug("edge skipped",
			slog.String("file", ev.File),
			slog.String("error", ee.Error()),
		)
	}
	slog.Debug("file applied",
		slog.String("file", ev.File),
		slog.Int("nodes", fr.Stats.Nodes),
		slog.Int("edges", fr.Stats.Edges),
		slog.Int("placeholders", fr.Stats.Placeholders),
		slog.Int("resolved", fr.Commit.PlaceholdersResolved),
		slog.Uint64("generation", fr.Commit.Generation),
	)
	return fr, nil
}

// Remove deletes a file's generation.
func (b *Builder) Remove(ctx context.Context, file string) (*FileResult, error) {
	var fr *FileResult
	err := b.store.WithFileLock(file, func() error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBuildCancelled, err)
		}
		res, err := b.store.RemoveFile(ctx, file)
		if err != nil {
			return err
		}
		fr = &FileResult{File: file, Commit: res}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fr, nil
}

// ApplyAll applies many files in parallel.
//
// Description:
//
//	Runs Apply for every batch with at most Concurrency files in flight.
//	A failing file is recorded in FileErrors and does not stop the others.
//	Cancellation stops scheduling new files and marks the result
//	Incomplete. Files are listed in input order.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	events - One entry per file. Nil entries are skipped.
//
// Outputs:
//
//	*BuildResult - Aggregated results. Never nil.
//	error - Non-nil only when ctx was cancelled.
//
// Thread Safety: Safe for concurrent use.
func (b *Builder) ApplyAll(ctx context.Context, events []*FileEvents) (*BuildResult, error) {
	start := time.Now()
	result := &BuildResult{}
	result.Stats.FilesTotal = len(events)

	results := make([]*FileResult, len(events))
	errs := make([]error, len(events))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.options.Concurrency)
	for i, ev := range events {
		if ev == nil {
			continue
		}
		if gctx.Err() != nil {
			result.Incomplete = true
			break
		}
		g.Go(func() error {
			fr, err := b.Apply(gctx, ev)
			results[i] = fr
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	for i, ev := range events {
		if ev == nil {
			continue
		}
		switch {
		case errs[i] != nil:
			if errors.Is(errs[i], ErrBuildCancelled) {
				result.Incomplete = true
			}
			var fe graph.FileError
			if !errors.As(errs[i], &fe) {
				fe = graph.FileError{File: ev.File, Err: errs[i]}
			}
			result.FileErrors = append(result.FileErrors, fe)
			result.Stats.FilesFailed++
		case results[i] != nil:
			result.add(results[i])
		}
	}
	result.Stats.DurationMilli = time.Since(start).Milliseconds()

	slog.Info("build finished",
		slog.Int("files", result.Stats.FilesTotal),
		slog.Int("applied", result.Stats.FilesApplied),
		slog.Int("failed", result.Stats.FilesFailed),
		slog.Int("placeholders_resolved", result.Stats.PlaceholdersResolved),
		slog.Int64("duration_ms", result.Stats.DurationMilli),
	)

	if err := ctx.Err(); err != nil {
		result.Incomplete = true
		return result, fmt.Errorf("%w: %v", ErrBuildCancelled, err)
	}
	return result, nil
}

// =============================================================================
// TWO-PASS TRANSLATION
// =============================================================================

// prepareState holds per-file resolution state.
type prepareState struct {
	snap    *graph.Snapshot
	file    string
	dir     string
	byID    map[string]*graph.Node
	byName  map[string][]*graph.Node
	oldGen  map[string]bool
	pending map[string]*graph.Node
}

// Prepare translates one file's events into a store batch.
//
// Description:
//
//	Pass 1 creates every node with its deterministic id and links parents.
//	Pass 2 resolves edge endpoints: ids are checked against the file and
//	the store, names resolve locally first and then across files. An
//	unresolvable target becomes a placeholder keyed by (name, file hint).
//	Bad edge descriptors are reported as EdgeErrors and skipped.
//
// Inputs:
//
//	snap - The snapshot used for cross-file lookups.
//	ev - The file's events.
//
// Outputs:
//
//	*graph.FileBatch - Ready for Store.UpsertFile.
//	PrepareStats - Counts.
//	[]EdgeError - Skipped edge descriptors.
//	error - Non-nil for invalid node descriptors; nothing should be committed.
//
// Thread Safety: Pure function of its inputs.
func Prepare(snap *graph.Snapshot, ev *FileEvents) (*graph.FileBatch, PrepareStats, []EdgeError, error) {
	var stats PrepareStats
	st := &prepareState{
		snap:    snap,
		file:    ev.File,
		dir:     path.Dir(ev.File),
		byID:    make(map[string]*graph.Node, len(ev.Nodes)),
		byName:  make(map[string][]*graph.Node),
		oldGen:  make(map[string]bool),
		pending: make(map[string]*graph.Node),
	}
	for _, n := range snap.NodesInFile(ev.File) {
		st.oldGen[n.ID] = true
	}

	batch := &graph.FileBatch{File: ev.File, Language: ev.Language}

	// Pass 1: nodes.
	for i, nd := range ev.Nodes {
		if nd.Kind < 0 || nd.Kind >= graph.NumNodeKinds {
			return nil, stats, nil, fmt.Errorf("%w: node #%d kind %d", graph.ErrInvalidBatch, i, int(nd.Kind))
		}
		if nd.Name == "" {
			return nil, stats, nil, fmt.Errorf("%w: node #%d has no name", graph.ErrInvalidBatch, i)
		}
		loc := nd.Location
		if loc.File == "" {
			loc.File = ev.File
		}
		if loc.File != ev.File {
			return nil, stats, nil, fmt.Errorf("%w: node %q located in %s", graph.ErrForeignNode, nd.Name, loc.File)
		}
		n := &graph.Node{
			ID:        graph.NodeID(loc, nd.Kind),
			Kind:      nd.Kind,
			Name:      nd.Name,
			Location:  loc,
			Signature: nd.Signature,
			Language:  ev.Language,
			Metadata:  nd.Metadata,
		}
		if _, dup := st.byID[n.ID]; dup {
			return nil, stats, nil, fmt.Errorf("%w: %s", graph.ErrDuplicateNode, n.ID)
		}
		st.byID[n.ID] = n
		st.byName[n.Name] = append(st.byName[n.Name], n)
		if q := graph.MetaString(n.Metadata, graph.MetaQualifiedName); q != "" && q != n.Name {
			st.byName[q] = append(st.byName[q], n)
		}
		batch.Nodes = append(batch.Nodes, n)
	}
	for i, nd := range ev.Nodes {
		if nd.Parent.IsZero() {
			continue
		}
		parent := st.localParent(nd.Parent)
		if parent == nil {
			stats.UnlinkedParent++
			continue
		}
		batch.Nodes[i].Parent = parent.ID
	}
	stats.Nodes = len(batch.Nodes)

	// Pass 2: edges.
	var edgeErrs []EdgeError
	for i, ed := range ev.Edges {
		fail := func(err error) {
			edgeErrs = append(edgeErrs, EdgeError{
				File: ev.File, Index: i, Kind: ed.Kind,
				Source: ed.Source, Target: ed.Target, Err: err,
			})
			stats.SkippedEdges++
		}
		if ed.Kind < 0 || ed.Kind >= graph.NumEdgeKinds {
			fail(fmt.Errorf("%w: edge kind %d", graph.ErrInvalidBatch, int(ed.Kind)))
			continue
		}

		fromID, err := st.resolveSource(ed.Source)
		if err != nil {
			fail(err)
			continue
		}
		toID, how, err := st.resolveTarget(ed.Target, ed.Kind)
		if err != nil {
			fail(err)
			continue
		}
		switch how {
		case resolvedLocal:
			stats.LocalTargets++
		case resolvedCrossFile:
			stats.CrossFile++
		}

		loc := ed.Location
		if loc.File == "" {
			loc.File = ev.File
		}
		batch.Edges = append(batch.Edges, &graph.Edge{
			FromID:   fromID,
			ToID:     toID,
			Kind:     ed.Kind,
			Location: loc,
			Metadata: ed.Metadata,
		})
	}

	placeholders := make([]string, 0, len(st.pending))
	for id := range st.pending {
		placeholders = append(placeholders, id)
	}
	sort.Strings(placeholders)
	for _, id := range placeholders {
		batch.Nodes = append(batch.Nodes, st.pending[id])
	}
	stats.Placeholders = len(placeholders)
	stats.Edges = len(batch.Edges)

	return batch, stats, edgeErrs, nil
}

type resolution int

const (
	resolvedLocal resolution = iota
	resolvedCrossFile
	resolvedPending
)

// localParent resolves a parent ref among the file's own nodes, preferring
// container kinds.
func (st *prepareState) localParent(ref Ref) *graph.Node {
	if ref.ID != "" {
		return st.byID[ref.ID]
	}
	var fallback *graph.Node
	for _, n := range st.byName[ref.Name] {
		switch n.Kind {
		case graph.NodeKindClass, graph.NodeKindFunction, graph.NodeKindMethod, graph.NodeKindModule:
			return n
		}
		if fallback == nil {
			fallback = n
		}
	}
	return fallback
}

func (st *prepareState) knownID(id string) bool {
	if _, ok := st.byID[id]; ok {
		return true
	}
	if st.oldGen[id] {
		return false
	}
	_, ok := st.snap.Node(id)
	return ok
}

func (st *prepareState) resolveSource(ref Ref) (string, error) {
	switch {
	case ref.IsZero():
		return "", ErrEmptyRef
	case ref.ID != "":
		if st.knownID(ref.ID) {
			return ref.ID, nil
		}
		return "", fmt.Errorf("%w: %s", ErrUnresolvedSource, ref.ID)
	}

	if ref.FileHint == "" || graph.MatchesFileHint(st.file, ref.FileHint) {
		if n := pickLocal(st.byName[ref.Name], nil); n != nil {
			return n.ID, nil
		}
	}
	if n := st.crossFile(ref, nil); n != nil {
		return n.ID, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnresolvedSource, ref)
}

func (st *prepareState) resolveTarget(ref Ref, kind graph.EdgeKind) (string, resolution, error) {
	switch {
	case ref.IsZero():
		return "", 0, ErrEmptyRef
	case ref.ID != "":
		if _, ok := st.byID[ref.ID]; ok {
			return ref.ID, resolvedLocal, nil
		}
		if st.knownID(ref.ID) {
			return ref.ID, resolvedCrossFile, nil
		}
		return "", 0, fmt.Errorf("%w: %s", ErrUnknownTarget, ref.ID)
	}

	kinds := []graph.EdgeKind{kind}
	if ref.FileHint == "" || graph.MatchesFileHint(st.file, ref.FileHint) {
		if n := pickLocal(st.byName[ref.Name], kinds); n != nil {
			return n.ID, resolvedLocal, nil
		}
	}
	if n := st.crossFile(ref, kinds); n != nil {
		return n.ID, resolvedCrossFile, nil
	}

	id := graph.PlaceholderID(ref.Name, ref.FileHint)
	if _, ok := st.pending[id]; !ok {
		if existing, ok := st.snap.Node(id); ok && existing.Placeholder {
			st.pending[id] = existing
		} else {
			st.pending[id] = graph.NewPlaceholder(ref.Name, ref.FileHint)
		}
	}
	return id, resolvedPending, nil
}

// pickLocal chooses among same-named nodes of the current file. With edge
// kinds given, only compatible definitions qualify; without, definitions
// are preferred. Earliest declaration wins.
func pickLocal(cands []*graph.Node, kinds []graph.EdgeKind) *graph.Node {
	var fallback *graph.Node
	for _, n := range cands {
		if len(kinds) == 0 {
			if n.Kind.IsDefinition() {
				return n
			}
			if fallback == nil {
				fallback = n
			}
			continue
		}
		if acceptsAll(kinds, n.Kind) {
			return n
		}
	}
	return fallback
}

// crossFile looks a name up in the snapshot, ignoring the file's own
// previous generation. A hint restricts matches to hinted files; without
// one, the same directory is preferred, then the lowest id.
func (st *prepareState) crossFile(ref Ref, kinds []graph.EdgeKind) *graph.Node {
	if ref.FileHint != "" {
		n := graph.BestDefinition(st.snap, ref.Name, ref.FileHint, kinds)
		if n != nil && n.Location.File != st.file {
			return n
		}
		return nil
	}

	var sameDir, other *graph.Node
	for _, n := range st.snap.NodesByName(ref.Name) {
		if n.Location.File == st.file || !n.Kind.IsDefinition() {
			continue
		}
		if len(kinds) > 0 && !acceptsAll(kinds, n.Kind) {
			continue
		}
		if sameDir == nil && path.Dir(n.Location.File) == st.dir {
			sameDir = n
		}
		if other == nil {
			other = n
		}
	}
	if sameDir != nil {
		return sameDir
	}
	if other != nil {
		return other
	}
	if strings.Contains(ref.Name, ".") {
		if n := graph.BestDefinition(st.snap, ref.Name, "", kinds); n != nil && n.Location.File != st.file {
			return n
		}
	}
	return nil
}

func acceptsAll(kinds []graph.EdgeKind, nk graph.NodeKind) bool {
	for _, k := range kinds {
		if !graph.AcceptsTarget(k, nk) {
			return false
		}
	}
	return true
}
