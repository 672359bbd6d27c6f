// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcpserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AleutianAI/codegraph/services/codegraph"
	"github.com/AleutianAI/codegraph/services/codegraph/analysis"
)

// Arguments structs

type RepoArgs struct {
	Repository string `json:"repository" jsonschema:"Repository id the graph was ingested under"`
}

type SearchSymbolsArgs struct {
	Repository string `json:"repository" jsonschema:"Repository id the graph was ingested under"`
	Pattern    string `json:"pattern" jsonschema:"Glob (doublestar) or case-insensitive substring"`
	Kind       string `json:"kind,omitempty" jsonschema:"Only return nodes of this kind, e.g. function or class"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum number of symbols to return"`
}

type TracePathArgs struct {
	Repository string   `json:"repository" jsonschema:"Repository id the graph was ingested under"`
	From       string   `json:"from" jsonschema:"Start node id or symbol name"`
	To         string   `json:"to" jsonschema:"Target node id or symbol name"`
	MaxDepth   int      `json:"max_depth,omitempty" jsonschema:"Maximum number of hops"`
	Kinds      []string `json:"kinds,omitempty" jsonschema:"Edge kinds to follow; all kinds when empty"`
}

type NodeArgs struct {
	Repository string   `json:"repository" jsonschema:"Repository id the graph was ingested under"`
	Node       string   `json:"node" jsonschema:"Node id or symbol name"`
	Kinds      []string `json:"kinds,omitempty" jsonschema:"Edge kinds to follow; all kinds when empty"`
}

type FindReferencesArgs struct {
	Repository string   `json:"repository" jsonschema:"Repository id the graph was ingested under"`
	Node       string   `json:"node" jsonschema:"Node id or symbol name"`
	Depth      int      `json:"depth,omitempty" jsonschema:"When above zero, also return every node reaching the target within this many hops"`
	Kinds      []string `json:"kinds,omitempty" jsonschema:"Edge kinds to consider; all kinds when empty"`
}

type TransitiveArgs struct {
	Repository string   `json:"repository" jsonschema:"Repository id the graph was ingested under"`
	Node       string   `json:"node" jsonschema:"Node id or symbol name"`
	MaxDepth   int      `json:"max_depth,omitempty" jsonschema:"Maximum dependency depth"`
	Kinds      []string `json:"kinds,omitempty" jsonschema:"Edge kinds to follow; all kinds when empty"`
}

type DataFlowArgs struct {
	Repository string `json:"repository" jsonschema:"Repository id the graph was ingested under"`
	Node       string `json:"node" jsonschema:"Node id or symbol name to trace from"`
	Direction  string `json:"direction,omitempty" jsonschema:"forward, backward or bidirectional"`
	MaxDepth   int    `json:"max_depth,omitempty" jsonschema:"Maximum number of hops"`
}

type InheritanceArgs struct {
	Repository         string `json:"repository" jsonschema:"Repository id the graph was ingested under"`
	Class              string `json:"class" jsonschema:"Class node id or name"`
	IncludeMetaclasses bool   `json:"include_metaclasses,omitempty" jsonschema:"Also report metaclass edges"`
}

type ComplexityArgs struct {
	Repository string   `json:"repository" jsonschema:"Repository id the graph was ingested under"`
	Files      []string `json:"files,omitempty" jsonschema:"Restrict analysis to these files"`
	Glob       string   `json:"glob,omitempty" jsonschema:"Restrict analysis to files matching this glob"`
	ReportAll  bool     `json:"report_all,omitempty" jsonschema:"Report every function, not only those over a threshold"`
}

type DuplicatesArgs struct {
	Repository string   `json:"repository" jsonschema:"Repository id the graph was ingested under"`
	Files      []string `json:"files,omitempty" jsonschema:"Restrict analysis to these files"`
	Glob       string   `json:"glob,omitempty" jsonschema:"Restrict analysis to files matching this glob"`
	Threshold  float64  `json:"threshold,omitempty" jsonschema:"Minimum similarity in (0, 1]"`
	MinLines   int      `json:"min_lines,omitempty" jsonschema:"Ignore fragments shorter than this"`
	MaxResults int      `json:"max_results,omitempty" jsonschema:"Maximum number of duplicate pairs"`
}

type UnusedArgs struct {
	Repository          string   `json:"repository" jsonschema:"Repository id the graph was ingested under"`
	Files               []string `json:"files,omitempty" jsonschema:"Restrict analysis to these files"`
	Glob                string   `json:"glob,omitempty" jsonschema:"Restrict analysis to files matching this glob"`
	ConfidenceThreshold float64  `json:"confidence_threshold,omitempty" jsonschema:"Drop findings below this confidence in [0, 1]"`
}

type PatternsArgs struct {
	Repository    string   `json:"repository" jsonschema:"Repository id the graph was ingested under"`
	Files         []string `json:"files,omitempty" jsonschema:"Restrict detection to these files"`
	Glob          string   `json:"glob,omitempty" jsonschema:"Restrict detection to files matching this glob"`
	PatternTypes  []string `json:"pattern_types,omitempty" jsonschema:"Pattern types to detect; all when empty"`
	MinConfidence float64  `json:"min_confidence,omitempty" jsonschema:"Drop patterns below this confidence in [0, 1]"`
}

func scope(files []string, glob string) analysis.Scope {
	return analysis.Scope{Files: files, Glob: glob}
}

// addTool registers a tool whose handler returns a JSON-encodable result.
func addTool[In any](s *Server, name, description string, run func(ctx context.Context, args In) (any, error)) {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, any, error) {
		start := time.Now()
		resp, err := run(ctx, args)
		if err != nil {
			slog.Warn("MCP tool failed",
				slog.String("tool", name),
				slog.String("error", err.Error()),
				slog.Duration("duration", time.Since(start)))
			return errorResult(err), nil, nil
		}
		slog.Debug("MCP tool completed",
			slog.String("tool", name),
			slog.Duration("duration", time.Since(start)))
		return jsonResult(resp), nil, nil
	})
}

func (s *Server) registerTools() {
	addTool(s, codegraph.OpRepositoryStats,
		"Node and edge counts by kind, files, languages, placeholders and generation",
		func(ctx context.Context, a RepoArgs) (any, error) {
			return s.svc.RepositoryStats(ctx, a.Repository)
		})

	addTool(s, codegraph.OpSearchSymbols,
		"Finds symbols by glob or substring, ranked exact, prefix, substring",
		func(ctx context.Context, a SearchSymbolsArgs) (any, error) {
			return s.svc.SearchSymbols(ctx, a.Repository, codegraph.SearchSymbolsRequest{
				Pattern: a.Pattern,
				Kind:    a.Kind,
				Limit:   a.Limit,
			})
		})

	addTool(s, codegraph.OpTracePath,
		"Shortest path between two symbols",
		func(ctx context.Context, a TracePathArgs) (any, error) {
			return s.svc.TracePath(ctx, a.Repository, codegraph.TracePathRequest{
				From:     a.From,
				To:       a.To,
				MaxDepth: a.MaxDepth,
				Kinds:    a.Kinds,
			})
		})

	addTool(s, codegraph.OpFindDependencies,
		"Direct dependencies of a symbol",
		func(ctx context.Context, a NodeArgs) (any, error) {
			return s.svc.FindDependencies(ctx, a.Repository, codegraph.FindDependenciesRequest{
				Node:  a.Node,
				Kinds: a.Kinds,
			})
		})

	addTool(s, codegraph.OpFindReferences,
		"Incoming references to a symbol, with locations",
		func(ctx context.Context, a FindReferencesArgs) (any, error) {
			return s.svc.FindReferences(ctx, a.Repository, codegraph.FindReferencesRequest{
				Node:  a.Node,
				Depth: a.Depth,
				Kinds: a.Kinds,
			})
		})

	addTool(s, codegraph.OpTransitiveDeps,
		"Transitive dependencies of a symbol, with the cycles found on the way",
		func(ctx context.Context, a TransitiveArgs) (any, error) {
			return s.svc.AnalyzeTransitiveDependencies(ctx, a.Repository, codegraph.TransitiveRequest{
				Node:     a.Node,
				MaxDepth: a.MaxDepth,
				Kinds:    a.Kinds,
			})
		})

	addTool(s, codegraph.OpTraceDataFlow,
		"Follows value flow through read and write edges from a symbol",
		func(ctx context.Context, a DataFlowArgs) (any, error) {
			return s.svc.TraceDataFlow(ctx, a.Repository, codegraph.DataFlowRequest{
				Node:      a.Node,
				Direction: a.Direction,
				MaxDepth:  a.MaxDepth,
			})
		})

	addTool(s, codegraph.OpTraceInheritance,
		"Class hierarchy, subclasses and method resolution order",
		func(ctx context.Context, a InheritanceArgs) (any, error) {
			return s.svc.TraceInheritance(ctx, a.Repository, codegraph.InheritanceRequest{
				Class:              a.Class,
				IncludeMetaclasses: a.IncludeMetaclasses,
			})
		})

	addTool(s, codegraph.OpAnalyzeComplexity,
		"Complexity hotspots among functions and methods",
		func(ctx context.Context, a ComplexityArgs) (any, error) {
			return s.svc.AnalyzeComplexity(ctx, a.Repository, codegraph.ComplexityRequest{
				Scope:     scope(a.Files, a.Glob),
				ReportAll: a.ReportAll,
			})
		})

	addTool(s, codegraph.OpFindDuplicates,
		"Near-duplicate functions by structural similarity",
		func(ctx context.Context, a DuplicatesArgs) (any, error) {
			return s.svc.FindDuplicates(ctx, a.Repository, codegraph.DuplicatesRequest{
				Scope:      scope(a.Files, a.Glob),
				Threshold:  a.Threshold,
				MinLines:   a.MinLines,
				MaxResults: a.MaxResults,
			})
		})

	addTool(s, codegraph.OpFindUnusedCode,
		"Definitions nothing references, with a confidence score",
		func(ctx context.Context, a UnusedArgs) (any, error) {
			return s.svc.FindUnusedCode(ctx, a.Repository, codegraph.UnusedRequest{
				Scope:               scope(a.Files, a.Glob),
				ConfidenceThreshold: a.ConfidenceThreshold,
			})
		})

	addTool(s, codegraph.OpDetectPatterns,
		"Structural patterns such as singletons, factories and circular dependencies",
		func(ctx context.Context, a PatternsArgs) (any, error) {
			return s.svc.DetectPatterns(ctx, a.Repository, codegraph.PatternsRequest{
				Scope:         scope(a.Files, a.Glob),
				PatternTypes:  a.PatternTypes,
				MinConfidence: a.MinConfidence,
			})
		})
}
