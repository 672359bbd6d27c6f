// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis defines the shared contract for structural analyzers and
// implements the complexity and unused-code analyzers.
//
// # Description
//
// Every analyzer takes a snapshot and a Scope and returns Findings. None of
// them mutate the graph store. Analyzers are configured at construction
// with an options struct and are safe for concurrent use.
package analysis

import (
	"context"
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Severity indicates the importance of a finding.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// rank orders severities from most to least important.
func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	default:
		return 3
	}
}

// Finding is one analyzer result.
type Finding struct {
	Kind       string         `json:"kind"`
	NodeID     string         `json:"node_id"`
	Name       string         `json:"name,omitempty"`
	Location   graph.Location `json:"location"`
	Severity   Severity       `json:"severity"`
	Confidence float64        `json:"confidence"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Analyzer is implemented by every structural analyzer.
type Analyzer interface {
	// Name identifies the analyzer, e.g. "complexity".
	Name() string

	// Analyze runs over the nodes selected by scope.
	Analyze(ctx context.Context, snap *graph.Snapshot, scope Scope) ([]Finding, error)
}

// Scope selects what an analyzer looks at.
//
// NodeIDs wins over file selection. Files and Glob are combined: a file is
// selected if it is listed or matches the glob. The zero Scope selects the
// whole repository.
type Scope struct {
	Files   []string `json:"files,omitempty"`
	Glob    string   `json:"glob,omitempty"`
	NodeIDs []string `json:"node_ids,omitempty"`
}

// IsEmpty reports whether the scope selects everything.
func (s Scope) IsEmpty() bool {
	return len(s.Files) == 0 && s.Glob == "" && len(s.NodeIDs) == 0
}

// Validate checks the glob syntax.
func (s Scope) Validate() error {
	if s.Glob != "" && !doublestar.ValidatePattern(s.Glob) {
		return fmt.Errorf("%w: bad glob %q", graph.ErrInvalidScope, s.Glob)
	}
	return nil
}

// MatchFile reports whether file is selected by the file part of the scope.
func (s Scope) MatchFile(file string) bool {
	if len(s.Files) == 0 && s.Glob == "" {
		return true
	}
	for _, f := range s.Files {
		if f == file {
			return true
		}
	}
	if s.Glob != "" {
		ok, err := doublestar.Match(s.Glob, file)
		return err == nil && ok
	}
	return false
}

// Nodes returns the non-placeholder nodes in scope whose kind is one of
// kinds (all kinds when none are given), ordered by id.
//
// Explicit node ids that do not exist are a NotFound error.
func (s Scope) Nodes(snap *graph.Snapshot, kinds ...graph.NodeKind) ([]*graph.Node, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	want := func(n *graph.Node) bool {
		if n.Placeholder {
			return false
		}
		if len(kinds) == 0 {
			return true
		}
		for _, k := range kinds {
			if n.Kind == k {
				return true
			}
		}
		return false
	}

	var out []*graph.Node
	switch {
	case len(s.NodeIDs) > 0:
		for _, id := range s.NodeIDs {
			n, ok := snap.Node(id)
			if !ok {
				return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
			}
			if want(n) {
				out = append(out, n)
			}
		}
	case len(s.Files) > 0 || s.Glob != "":
		for _, file := range snap.Files() {
			if !s.MatchFile(file) {
				continue
			}
			for _, n := range snap.NodesInFile(file) {
				if want(n) {
					out = append(out, n)
				}
			}
		}
	default:
		if len(kinds) == 0 {
			for _, n := range snap.Nodes() {
				if want(n) {
					out = append(out, n)
				}
			}
			break
		}
		for _, k := range kinds {
			for _, n := range snap.NodesByKind(k) {
				if want(n) {
					out = append(out, n)
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return dedupe(out), nil
}

func dedupe(nodes []*graph.Node) []*graph.Node {
	if len(nodes) < 2 {
		return nodes
	}
	out := nodes[:1]
	for _, n := range nodes[1:] {
		if n.ID != out[len(out)-1].ID {
			out = append(out, n)
		}
	}
	return out
}

// SortFindings orders findings by severity, then file, line and node id.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() < b.Severity.rank()
		}
		if a.Location.File != b.Location.File {
			return a.Location.File < b.Location.File
		}
		if a.Location.StartLine != b.Location.StartLine {
			return a.Location.StartLine < b.Location.StartLine
		}
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		return a.Kind < b.Kind
	})
}

// FilterConfidence drops findings below threshold.
func FilterConfidence(findings []Finding, threshold float64) []Finding {
	if threshold <= 0 {
		return findings
	}
	out := findings[:0]
	for _, f := range findings {
		if f.Confidence >= threshold {
			out = append(out, f)
		}
	}
	return out
}
