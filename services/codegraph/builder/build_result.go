// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"fmt"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// EdgeError represents a failure to translate a single edge descriptor.
// The rest of the file is still committed.
type EdgeError struct {
	File   string
	Index  int
	Kind   graph.EdgeKind
	Source Ref
	Target Ref
	Err    error
}

// Error implements the error interface.
func (e EdgeError) Error() string {
	return fmt.Sprintf("%s: edge #%d %s -[%s]-> %s: %v", e.File, e.Index, e.Source, e.Kind, e.Target, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e EdgeError) Unwrap() error {
	return e.Err
}

// PrepareStats counts what the two passes produced for one file.
type PrepareStats struct {
	Nodes          int `json:"nodes"`
	Edges          int `json:"edges"`
	LocalTargets   int `json:"local_targets"`
	CrossFile      int `json:"cross_file_targets"`
	Placeholders   int `json:"placeholders"`
	SkippedEdges   int `json:"skipped_edges"`
	UnlinkedParent int `json:"unlinked_parents"`
}

// FileResult is the outcome of applying one file.
type FileResult struct {
	File       string             `json:"file"`
	Commit     graph.CommitResult `json:"commit"`
	Stats      PrepareStats       `json:"stats"`
	EdgeErrors []EdgeError        `json:"-"`
}

// BuildStats aggregates a multi-file build.
type BuildStats struct {
	FilesTotal           int   `json:"files_total"`
	FilesApplied         int   `json:"files_applied"`
	FilesRemoved         int   `json:"files_removed"`
	FilesFailed          int   `json:"files_failed"`
	NodesAdded           int   `json:"nodes_added"`
	EdgesAdded           int   `json:"edges_added"`
	PlaceholdersCreated  int   `json:"placeholders_created"`
	PlaceholdersResolved int   `json:"placeholders_resolved"`
	DurationMilli        int64 `json:"duration_ms"`
}

// BuildResult contains the result of ApplyAll.
//
// Builds are resilient: a failing file does not stop the others. Failed
// files keep their previous generation in the store.
type BuildResult struct {
	Files      []FileResult      `json:"files"`
	FileErrors []graph.FileError `json:"-"`
	EdgeErrors []EdgeError       `json:"-"`
	Stats      BuildStats        `json:"stats"`

	// Incomplete is true if the build was cancelled before every file ran.
	Incomplete bool `json:"incomplete"`
}

// HasErrors returns true if any file or edge errors occurred.
func (r *BuildResult) HasErrors() bool {
	return len(r.FileErrors) > 0 || len(r.EdgeErrors) > 0
}

// Success returns true if the build completed without errors.
func (r *BuildResult) Success() bool {
	return !r.Incomplete && !r.HasErrors()
}

func (r *BuildResult) add(fr *FileResult) {
	r.Files = append(r.Files, *fr)
	r.EdgeErrors = append(r.EdgeErrors, fr.EdgeErrors...)
	if fr.Commit.Removed {
		r.Stats.FilesRemoved++
	} else {
		r.Stats.FilesApplied++
	}
	r.Stats.NodesAdded += fr.Commit.NodesAdded
	r.Stats.EdgesAdded += fr.Commit.EdgesAdded
	r.Stats.PlaceholdersCreated += fr.Commit.PlaceholdersCreated
	r.Stats.PlaceholdersResolved += fr.Commit.PlaceholdersResolved
}
