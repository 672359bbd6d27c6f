// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codegraph

import (
	"time"

	"github.com/AleutianAI/codegraph/services/codegraph/analysis"
	"github.com/AleutianAI/codegraph/services/codegraph/builder"
	"github.com/AleutianAI/codegraph/services/codegraph/dataflow"
	"github.com/AleutianAI/codegraph/services/codegraph/deps"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/inherit"
	"github.com/AleutianAI/codegraph/services/codegraph/patterns"
	"github.com/AleutianAI/codegraph/services/codegraph/traverse"
)

// =============================================================================
// Common
// =============================================================================

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details carries additional context.
	Details string `json:"details,omitempty"`
}

// NodeRef is a compact description of a node.
type NodeRef struct {
	NodeID   string         `json:"node_id"`
	Name     string         `json:"name"`
	Kind     graph.NodeKind `json:"kind"`
	Location graph.Location `json:"location"`
}

func nodeRef(n *graph.Node) NodeRef {
	return NodeRef{NodeID: n.ID, Name: n.Name, Kind: n.Kind, Location: n.Location}
}

// Resolution reports how a symbol-name argument was bound to a node.
// It is omitted when the argument was already a node id.
type Resolution struct {
	// Query is the argument as given.
	Query string `json:"query"`

	// NodeID is the chosen node.
	NodeID string `json:"node_id"`

	// Alternatives lists the other nodes with the same name, ordered by
	// id. Non-empty means the name was ambiguous.
	Alternatives []NodeRef `json:"alternatives,omitempty"`
}

// =============================================================================
// Sessions
// =============================================================================

// OpenResponse is returned when a repository session is opened.
type OpenResponse struct {
	Repository string      `json:"repository"`
	Restored   bool        `json:"restored"`
	OpenedAt   time.Time   `json:"opened_at"`
	Stats      graph.Stats `json:"stats"`
}

// IngestResponse is returned after a batch of file events was applied.
type IngestResponse struct {
	Repository string `json:"repository"`
	Generation uint64 `json:"generation"`
	*builder.BuildResult

	// Errors lists per-file failures. Those files keep their previous
	// generation.
	Errors []string `json:"errors,omitempty"`

	// EdgeErrors lists edges that could not be translated. Their files
	// were still committed.
	EdgeErrors []string `json:"edge_errors,omitempty"`
}

// RemoveFileResponse is returned after a file was removed.
type RemoveFileResponse struct {
	Repository string             `json:"repository"`
	Commit     graph.CommitResult `json:"commit"`
}

// CheckpointResponse is returned after a snapshot was saved.
type CheckpointResponse struct {
	Repository string        `json:"repository"`
	Generation uint64        `json:"generation"`
	Files      int           `json:"files"`
	Nodes      int           `json:"nodes"`
	Edges      int           `json:"edges"`
	Duration   time.Duration `json:"duration"`
}

// =============================================================================
// Queries
// =============================================================================

// StatsResponse is the result of RepositoryStats.
type StatsResponse struct {
	Repository string `json:"repository"`
	graph.Stats
}

// SearchSymbolsRequest is the input of SearchSymbols.
type SearchSymbolsRequest struct {
	// Pattern is a doublestar glob when it contains glob syntax, otherwise
	// a case-insensitive substring.
	Pattern string `form:"pattern" json:"pattern" binding:"required"`

	// Kind restricts matches to one node kind.
	Kind string `form:"kind" json:"kind,omitempty" binding:"omitempty,nodekind"`

	// Limit caps the number of symbols returned. 0 selects the default.
	Limit int `form:"limit" json:"limit,omitempty" binding:"omitempty,min=0,max=1000"`
}

// Match strengths, strongest first.
const (
	MatchExact     = "exact"
	MatchPrefix    = "prefix"
	MatchSubstring = "substring"
	MatchGlob      = "glob"
)

// SymbolMatch is one search hit.
type SymbolMatch struct {
	NodeRef
	Signature string `json:"signature,omitempty"`
	Match     string `json:"match"`
}

// SearchSymbolsResponse is the result of SearchSymbols.
type SearchSymbolsResponse struct {
	Pattern   string        `json:"pattern"`
	Symbols   []SymbolMatch `json:"symbols"`
	Total     int           `json:"total"`
	Truncated bool          `json:"truncated"`
}

// TracePathRequest is the input of TracePath.
type TracePathRequest struct {
	From     string   `form:"from" json:"from" binding:"required"`
	To       string   `form:"to" json:"to" binding:"required"`
	MaxDepth int      `form:"max_depth" json:"max_depth,omitempty"`
	Kinds    []string `form:"kinds" json:"kinds,omitempty"`
}

// TracePathResponse is the result of TracePath.
type TracePathResponse struct {
	*traverse.PathResult
	Resolved []Resolution `json:"resolved,omitempty"`
}

// FindDependenciesRequest is the input of FindDependencies.
type FindDependenciesRequest struct {
	Node  string   `form:"node" json:"node" binding:"required"`
	Kinds []string `form:"kinds" json:"kinds,omitempty"`
}

// FindDependenciesResponse is the result of FindDependencies.
type FindDependenciesResponse struct {
	*deps.DirectResult
	Resolved []Resolution `json:"resolved,omitempty"`
}

// FindReferencesRequest is the input of FindReferences.
type FindReferencesRequest struct {
	Node string `form:"node" json:"node" binding:"required"`

	// Depth > 0 adds the transitive set of nodes reaching Node.
	Depth int `form:"depth" json:"depth,omitempty"`

	Kinds []string `form:"kinds" json:"kinds,omitempty"`
}

// Reference is one incoming edge.
type Reference struct {
	FromID   string         `json:"from_id"`
	Name     string         `json:"name"`
	NodeKind graph.NodeKind `json:"node_kind"`
	EdgeKind graph.EdgeKind `json:"edge_kind"`
	Location graph.Location `json:"location"`
}

// FindReferencesResponse is the result of FindReferences.
type FindReferencesResponse struct {
	Node       string                `json:"node"`
	References []Reference           `json:"references"`
	Transitive *traverse.ReachResult `json:"transitive,omitempty"`
	Resolved   []Resolution          `json:"resolved,omitempty"`
}

// TransitiveRequest is the input of AnalyzeTransitiveDependencies.
type TransitiveRequest struct {
	Node     string   `form:"node" json:"node" binding:"required"`
	MaxDepth int      `form:"max_depth" json:"max_depth,omitempty"`
	Kinds    []string `form:"kinds" json:"kinds,omitempty"`
}

// TransitiveResponse is the result of AnalyzeTransitiveDependencies.
type TransitiveResponse struct {
	*deps.TransitiveResult
	Resolved []Resolution `json:"resolved,omitempty"`
}

// DataFlowRequest is the input of TraceDataFlow.
type DataFlowRequest struct {
	Node string `form:"node" json:"node" binding:"required"`

	// Direction is forward, backward or bidirectional. Empty means forward.
	Direction string `form:"direction" json:"direction,omitempty"`
	MaxDepth  int    `form:"max_depth" json:"max_depth,omitempty"`
}

// DataFlowResponse is the result of TraceDataFlow.
type DataFlowResponse struct {
	*dataflow.Result
	Resolved []Resolution `json:"resolved,omitempty"`
}

// InheritanceRequest is the input of TraceInheritance.
type InheritanceRequest struct {
	Class              string `form:"class" json:"class" binding:"required"`
	IncludeMetaclasses bool   `form:"include_metaclasses" json:"include_metaclasses,omitempty"`
}

// InheritanceResponse is the result of TraceInheritance.
type InheritanceResponse struct {
	*inherit.Hierarchy
	Resolved []Resolution `json:"resolved,omitempty"`
}

// =============================================================================
// Analysis
// =============================================================================

// ComplexityRequest is the input of AnalyzeComplexity.
type ComplexityRequest struct {
	Scope analysis.Scope `json:"scope"`

	// ReportAll returns the metrics of every function, not only those
	// above a threshold.
	ReportAll bool `json:"report_all,omitempty"`
}

// DuplicatesRequest is the input of FindDuplicates.
type DuplicatesRequest struct {
	Scope      analysis.Scope `json:"scope"`
	Threshold  float64        `json:"threshold,omitempty" binding:"omitempty,gt=0,lte=1"`
	MinLines   int            `json:"min_lines,omitempty" binding:"omitempty,min=1"`
	MaxResults int            `json:"max_results,omitempty" binding:"omitempty,min=0"`
}

// UnusedRequest is the input of FindUnusedCode.
type UnusedRequest struct {
	Scope               analysis.Scope `json:"scope"`
	ConfidenceThreshold float64        `json:"confidence_threshold,omitempty" binding:"omitempty,gte=0,lte=1"`
}

// PatternsRequest is the input of DetectPatterns.
type PatternsRequest struct {
	Scope         analysis.Scope `json:"scope"`
	PatternTypes  []string       `json:"pattern_types,omitempty"`
	MinConfidence float64        `json:"min_confidence,omitempty" binding:"omitempty,gte=0,lte=1"`
}

// FindingsResponse is the result of AnalyzeComplexity and FindUnusedCode.
type FindingsResponse struct {
	Analyzer string             `json:"analyzer"`
	Findings []analysis.Finding `json:"findings"`
	Total    int                `json:"total"`
}

// DuplicatesResponse is the result of FindDuplicates.
type DuplicatesResponse struct {
	Duplicates []patterns.Duplicate `json:"duplicates"`
	Total      int                  `json:"total"`
}

// PatternsResponse is the result of DetectPatterns.
type PatternsResponse struct {
	Patterns []patterns.Pattern `json:"patterns"`
	Total    int                `json:"total"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status   string   `json:"status"`
	Sessions []string `json:"sessions"`
}
