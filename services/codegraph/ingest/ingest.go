// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest feeds language-adapter event files into a graph builder.
//
// Adapters write one JSON document per source file (a FileEvents object or
// an array of them) into a drop directory. LoadDir reads a directory once;
// Watcher follows it with fsnotify.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/AleutianAI/codegraph/services/codegraph/builder"
)

// DefaultGlob matches event files at any depth.
const DefaultGlob = "**/*.events.json"

// Applier commits decoded events. *builder.Builder implements it.
type Applier interface {
	ApplyAll(ctx context.Context, events []*builder.FileEvents) (*builder.BuildResult, error)
}

var _ Applier = (*builder.Builder)(nil)

// Match reports whether rel (slash or OS separated, relative to the drop
// directory) matches glob.
func Match(glob, rel string) bool {
	if glob == "" {
		glob = DefaultGlob
	}
	ok, err := doublestar.Match(glob, filepath.ToSlash(rel))
	return err == nil && ok
}

// ReadFile decodes one event file.
func ReadFile(path string) ([]*builder.FileEvents, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	events, err := builder.DecodeEvents(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}

// FileError is a failure to read one event file.
type FileError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e FileError) Unwrap() error {
	return e.Err
}

// LoadDir decodes every event file under dir that matches glob.
//
// Description:
//
//	Files are visited in lexical path order. A file that cannot be read or
//	decoded is reported in the returned FileErrors and skipped; the rest
//	still load.
//
// Inputs:
//
//	ctx - Context for cancellation, checked per file.
//	dir - Drop directory.
//	glob - Doublestar pattern relative to dir. Empty selects DefaultGlob.
//
// Outputs:
//
//	[]*builder.FileEvents - Decoded events in path order.
//	[]FileError - Per-file failures.
//	error - Walk failure or cancellation.
func LoadDir(ctx context.Context, dir, glob string) ([]*builder.FileEvents, []FileError, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if Match(glob, rel) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	var (
		events []*builder.FileEvents
		failed []FileError
	)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("load events: %w", err)
		}
		evs, err := ReadFile(path)
		if err != nil {
			failed = append(failed, FileError{Path: path, Err: err})
			continue
		}
		events = append(events, evs...)
	}
	return events, failed, nil
}
