// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the session-scoped code graph store.
//
// Nodes are program entities (modules, classes, functions, variables, call
// sites, routes) and edges are typed relationships between them (calls,
// reads, writes, imports, extends, implements, emits, routes-to, raises).
//
// # Ownership Model
//
// Nodes and edges are owned by the file whose batch declared them. A file's
// nodes and edges are replaced as one unit on re-parse and removed as one
// unit on deletion. Placeholder nodes stand in for references whose target
// is not (yet) indexed; they are owned by the store and disappear when the
// last edge pointing at them is retargeted or removed.
//
// # Thread Safety
//
// Store is safe for concurrent use. Readers obtain an immutable Snapshot via
// Store.Snapshot() and never block. Writers to the same file serialize;
// writers to different files prepare in parallel and commit under a short
// lock that swaps in a new snapshot.
//
// Snapshot values and every *Node and *Edge reachable from them MUST NOT be
// mutated by callers.
//
// # Lifecycle
//
//  1. Create with NewStore() when a repository session opens
//  2. Mutate with UpsertFile() / RemoveFile() (usually via the builder)
//  3. Query with Snapshot() and the traversal/analysis packages
//  4. Export() for checkpointing, then drop the store at session close
package graph

import (
	"errors"
	"fmt"
)

// Error classes. Every error produced by the engine wraps exactly one of
// these so the protocol boundary can map it without string matching.
var (
	// ErrNotFound is the class for unresolvable symbols, files or paths.
	ErrNotFound = errors.New("not found")

	// ErrInvalidScope is the class for malformed input such as negative depth.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrTruncated is the class for bound-limited partial results.
	// Analyses normally report truncation as a result flag instead.
	ErrTruncated = errors.New("truncated")

	// ErrInconsistent is the class for non-fatal inconsistencies such as an
	// ambiguous method resolution order.
	ErrInconsistent = errors.New("inconsistent")

	// ErrInternal is the class for invariant violations.
	ErrInternal = errors.New("internal error")
)

// Specific sentinel errors.
var (
	// ErrNodeNotFound is returned when a node id is not in the snapshot.
	ErrNodeNotFound = fmt.Errorf("node %w", ErrNotFound)

	// ErrFileNotFound is returned when a file has no generation in the store.
	ErrFileNotFound = fmt.Errorf("file %w", ErrNotFound)

	// ErrPathNotFound is returned when no path exists within the depth bound.
	ErrPathNotFound = fmt.Errorf("path %w", ErrNotFound)

	// ErrDuplicateNode is returned when a batch declares the same id twice.
	ErrDuplicateNode = fmt.Errorf("%w: duplicate node id", ErrInvalidScope)

	// ErrDanglingEdge is returned when a batch edge references a node that is
	// neither in the batch nor in the store.
	ErrDanglingEdge = fmt.Errorf("%w: edge references unknown node", ErrInvalidScope)

	// ErrInvalidBatch is returned for structurally malformed batches.
	ErrInvalidBatch = fmt.Errorf("%w: invalid batch", ErrInvalidScope)

	// ErrInvalidDepth is returned when a depth bound is negative.
	ErrInvalidDepth = fmt.Errorf("%w: depth must not be negative", ErrInvalidScope)

	// ErrForeignNode is returned when a batch node lives in another file.
	ErrForeignNode = fmt.Errorf("%w: node belongs to another file", ErrInvalidScope)

	// ErrCorruptIndex is returned when an index disagrees with the node table.
	ErrCorruptIndex = fmt.Errorf("%w: index references missing node", ErrInternal)
)

// ErrorClass names one of the error classes.
type ErrorClass string

const (
	ClassNone         ErrorClass = ""
	ClassNotFound     ErrorClass = "not_found"
	ClassInvalidScope ErrorClass = "invalid_scope"
	ClassTruncated    ErrorClass = "truncated"
	ClassInconsistent ErrorClass = "inconsistent"
	ClassInternal     ErrorClass = "internal"
)

// Classify returns the error class of err.
//
// Description:
//
//	Walks the wrap chain looking for one of the class sentinels. Errors that
//	match none of them (including context cancellation) are reported as
//	ClassInternal unless err is nil.
//
// Thread Safety: Safe for concurrent use.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrInvalidScope):
		return ClassInvalidScope
	case errors.Is(err, ErrTruncated):
		return ClassTruncated
	case errors.Is(err, ErrInconsistent):
		return ClassInconsistent
	default:
		return ClassInternal
	}
}

// FileError associates an error with the file whose batch caused it.
type FileError struct {
	File string
	Err  error
}

// Error implements error.
func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

// Unwrap returns the underlying error.
func (e FileError) Unwrap() error {
	return e.Err
}
