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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/codegraph/services/codegraph/analysis"
	"github.com/AleutianAI/codegraph/services/codegraph/dataflow"
	"github.com/AleutianAI/codegraph/services/codegraph/deps"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/inherit"
	"github.com/AleutianAI/codegraph/services/codegraph/patterns"
	"github.com/AleutianAI/codegraph/services/codegraph/telemetry"
	"github.com/AleutianAI/codegraph/services/codegraph/traverse"
)

// Operation names, used for metrics, spans and cache keys.
const (
	OpRepositoryStats   = "repository_stats"
	OpSearchSymbols     = "search_symbols"
	OpTracePath         = "trace_path"
	OpFindDependencies  = "find_dependencies"
	OpFindReferences    = "find_references"
	OpTransitiveDeps    = "analyze_transitive_dependencies"
	OpTraceDataFlow     = "trace_data_flow"
	OpTraceInheritance  = "trace_inheritance"
	OpAnalyzeComplexity = "analyze_complexity"
	OpFindDuplicates    = "find_duplicates"
	OpFindUnusedCode    = "find_unused_code"
	OpDetectPatterns    = "detect_patterns"
)

// runQuery runs fn against the current snapshot of repo.
//
// Description:
//
//	Resolves the session, then serves the response from the cache when the
//	same operation with the same arguments already ran on this generation.
//	Errors are never cached. Internal errors are logged.
func runQuery[T any](ctx context.Context, s *Service, repo, op string, args any, fn func(context.Context, *graph.Snapshot) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	sess, err := s.Session(ctx, repo)
	if err != nil {
		recordOperation(op, err, time.Since(start))
		return zero, err
	}
	snap := sess.Snapshot()

	key, cacheable := cacheKey(repo, snap.Generation(), op, args)
	if cacheable {
		if v, ok := s.cache.get(key); ok {
			if res, ok := v.(T); ok {
				recordCacheLookup(op, true)
				recordOperation(op, nil, time.Since(start))
				return res, nil
			}
		}
		if s.cache != nil {
			recordCacheLookup(op, false)
		}
	}

	ctx, span := tracer.Start(ctx, "CodeGraph."+op,
		trace.WithAttributes(
			attribute.String("codegraph.repository", repo),
			attribute.Int64("codegraph.generation", int64(snap.Generation())),
		),
	)
	defer span.End()

	res, err := fn(ctx, snap)
	recordOperation(op, err, time.Since(start))
	if err != nil {
		telemetry.RecordError(span, err)
		if graph.Classify(err) == graph.ClassInternal {
			telemetry.LoggerWithTrace(ctx, slog.Default()).Error("operation failed",
				slog.String("operation", op),
				slog.String("repository", repo),
				slog.String("error", err.Error()),
			)
		}
		return zero, err
	}
	if cacheable {
		s.cache.add(key, res)
	}
	return res, nil
}

// =============================================================================
// Repository
// =============================================================================

// RepositoryStats returns node and edge counts by kind, files, languages,
// placeholders and the generation.
func (s *Service) RepositoryStats(ctx context.Context, repo string) (*StatsResponse, error) {
	return runQuery(ctx, s, repo, OpRepositoryStats, nil, func(_ context.Context, snap *graph.Snapshot) (*StatsResponse, error) {
		return &StatsResponse{Repository: repo, Stats: snap.Stats()}, nil
	})
}

// SearchSymbols finds definitions by name.
//
// Description:
//
//	A pattern containing glob syntax is matched with doublestar against
//	the whole name, case-insensitively. Any other pattern is a
//	case-insensitive substring. Results are ranked exact, then prefix,
//	then substring, then by name length, name and id. Without a kind
//	filter only definition kinds are searched.
//
// Outputs:
//
//	*SearchSymbolsResponse - Up to Limit symbols; Total counts all matches
//	error - ErrEmptyPattern or an invalid glob/kind (InvalidScope)
func (s *Service) SearchSymbols(ctx context.Context, repo string, req SearchSymbolsRequest) (*SearchSymbolsResponse, error) {
	if strings.TrimSpace(req.Pattern) == "" {
		return nil, ErrEmptyPattern
	}
	glob := hasGlobMeta(req.Pattern)
	if glob && !doublestar.ValidatePattern(req.Pattern) {
		return nil, fmt.Errorf("%w: bad glob %q", graph.ErrInvalidScope, req.Pattern)
	}
	var kinds []graph.NodeKind
	if req.Kind != "" {
		k, err := graph.ParseNodeKind(req.Kind)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.config.SearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	req.Limit = limit

	return runQuery(ctx, s, repo, OpSearchSymbols, req, func(ctx context.Context, snap *graph.Snapshot) (*SearchSymbolsResponse, error) {
		lower := strings.ToLower(req.Pattern)
		var matches []SymbolMatch
		for i, n := range snap.Nodes() {
			if i%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, fmt.Errorf("search symbols: %w", err)
				}
			}
			if n.Placeholder {
				continue
			}
			if len(kinds) == 0 && !n.Kind.IsDefinition() {
				continue
			}
			if !kindAllowed(n.Kind, kinds) {
				continue
			}
			m, ok := matchSymbol(n.Name, lower, glob)
			if !ok {
				continue
			}
			matches = append(matches, SymbolMatch{NodeRef: nodeRef(n), Signature: n.Signature, Match: m})
		}

		sort.SliceStable(matches, func(i, j int) bool {
			a, b := matches[i], matches[j]
			if ra, rb := matchRank(a.Match), matchRank(b.Match); ra != rb {
				return ra < rb
			}
			if len(a.Name) != len(b.Name) {
				return len(a.Name) < len(b.Name)
			}
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.NodeID < b.NodeID
		})

		resp := &SearchSymbolsResponse{Pattern: req.Pattern, Total: len(matches)}
		if len(matches) > limit {
			matches = matches[:limit]
			resp.Truncated = true
		}
		resp.Symbols = matches
		if resp.Symbols == nil {
			resp.Symbols = []SymbolMatch{}
		}
		return resp, nil
	})
}

// =============================================================================
// Graph queries
// =============================================================================

// TracePath finds the shortest forward path between two nodes.
func (s *Service) TracePath(ctx context.Context, repo string, req TracePathRequest) (*TracePathResponse, error) {
	kinds, err := parseEdgeKinds(req.Kinds)
	if err != nil {
		return nil, err
	}
	if req.MaxDepth == 0 {
		req.MaxDepth = s.config.PathDepth
	}
	return runQuery(ctx, s, repo, OpTracePath, req, func(ctx context.Context, snap *graph.Snapshot) (*TracePathResponse, error) {
		from, fromRes, err := resolveNode(snap, req.From)
		if err != nil {
			return nil, err
		}
		to, toRes, err := resolveNode(snap, req.To)
		if err != nil {
			return nil, err
		}
		path, err := traverse.ShortestPath(ctx, snap, from.ID, to.ID, kinds, req.MaxDepth)
		if err != nil {
			return nil, err
		}
		resp := &TracePathResponse{PathResult: path}
		resp.Resolved = appendResolution(resp.Resolved, fromRes)
		resp.Resolved = appendResolution(resp.Resolved, toRes)
		return resp, nil
	})
}

// FindDependencies returns the direct dependencies of a node.
func (s *Service) FindDependencies(ctx context.Context, repo string, req FindDependenciesRequest) (*FindDependenciesResponse, error) {
	kinds, err := parseEdgeKinds(req.Kinds)
	if err != nil {
		return nil, err
	}
	return runQuery(ctx, s, repo, OpFindDependencies, req, func(ctx context.Context, snap *graph.Snapshot) (*FindDependenciesResponse, error) {
		n, res, err := resolveNode(snap, req.Node)
		if err != nil {
			return nil, err
		}
		direct, err := deps.Direct(ctx, snap, n.ID, kinds)
		if err != nil {
			return nil, err
		}
		if direct.Dependencies == nil {
			direct.Dependencies = []deps.DirectDependency{}
		}
		return &FindDependenciesResponse{DirectResult: direct, Resolved: appendResolution(nil, res)}, nil
	})
}

// FindReferences returns the incoming edges of a node with their
// locations. Depth > 0 adds the set of nodes transitively reaching it.
func (s *Service) FindReferences(ctx context.Context, repo string, req FindReferencesRequest) (*FindReferencesResponse, error) {
	kinds, err := parseEdgeKinds(req.Kinds)
	if err != nil {
		return nil, err
	}
	if req.Depth < 0 {
		return nil, fmt.Errorf("%w: %d", graph.ErrInvalidDepth, req.Depth)
	}
	return runQuery(ctx, s, repo, OpFindReferences, req, func(ctx context.Context, snap *graph.Snapshot) (*FindReferencesResponse, error) {
		n, res, err := resolveNode(snap, req.Node)
		if err != nil {
			return nil, err
		}
		ks := traverse.Kinds(kinds...)
		resp := &FindReferencesResponse{Node: n.ID, References: []Reference{}, Resolved: appendResolution(nil, res)}
		for _, e := range snap.EdgesTo(n.ID) {
			if !ks.Has(e.Kind) {
				continue
			}
			ref := Reference{FromID: e.FromID, EdgeKind: e.Kind, Location: e.Location}
			if from, ok := snap.Node(e.FromID); ok {
				ref.Name = from.Name
				ref.NodeKind = from.Kind
			}
			resp.References = append(resp.References, ref)
		}
		sort.SliceStable(resp.References, func(i, j int) bool {
			a, b := resp.References[i].Location, resp.References[j].Location
			if a.File != b.File {
				return a.File < b.File
			}
			return a.StartByte < b.StartByte
		})

		if req.Depth > 0 {
			reach, err := traverse.ReverseReachable(ctx, snap, n.ID, kinds, req.Depth, s.config.DependencyDepth)
			if err != nil {
				return nil, err
			}
			resp.Transitive = reach
		}
		return resp, nil
	})
}

// AnalyzeTransitiveDependencies computes the transitive dependency set of a
// node and the cycles inside it.
func (s *Service) AnalyzeTransitiveDependencies(ctx context.Context, repo string, req TransitiveRequest) (*TransitiveResponse, error) {
	kinds, err := parseEdgeKinds(req.Kinds)
	if err != nil {
		return nil, err
	}
	if req.MaxDepth == 0 {
		req.MaxDepth = s.config.DependencyDepth
	}
	return runQuery(ctx, s, repo, OpTransitiveDeps, req, func(ctx context.Context, snap *graph.Snapshot) (*TransitiveResponse, error) {
		n, res, err := resolveNode(snap, req.Node)
		if err != nil {
			return nil, err
		}
		tr, err := deps.Transitive(ctx, snap, n.ID, kinds, req.MaxDepth)
		if err != nil {
			return nil, err
		}
		deps.SortCycles(tr.Cycles)
		if tr.Cycles == nil {
			tr.Cycles = []deps.Cycle{}
		}
		return &TransitiveResponse{TransitiveResult: tr, Resolved: appendResolution(nil, res)}, nil
	})
}

// TraceDataFlow follows Reads/Writes flow from a node.
func (s *Service) TraceDataFlow(ctx context.Context, repo string, req DataFlowRequest) (*DataFlowResponse, error) {
	dir := dataflow.Forward
	if req.Direction != "" {
		d, err := dataflow.ParseDirection(req.Direction)
		if err != nil {
			return nil, err
		}
		dir = d
	}
	req.Direction = string(dir)
	if req.MaxDepth == 0 {
		req.MaxDepth = s.config.DataFlowDepth
	}
	return runQuery(ctx, s, repo, OpTraceDataFlow, req, func(ctx context.Context, snap *graph.Snapshot) (*DataFlowResponse, error) {
		n, res, err := resolveNode(snap, req.Node)
		if err != nil {
			return nil, err
		}
		flow, err := dataflow.Trace(ctx, snap, n.ID, dir, req.MaxDepth)
		if err != nil {
			return nil, err
		}
		return &DataFlowResponse{Result: flow, Resolved: appendResolution(nil, res)}, nil
	})
}

// TraceInheritance resolves the hierarchy and MRO of a class.
func (s *Service) TraceInheritance(ctx context.Context, repo string, req InheritanceRequest) (*InheritanceResponse, error) {
	return runQuery(ctx, s, repo, OpTraceInheritance, req, func(ctx context.Context, snap *graph.Snapshot) (*InheritanceResponse, error) {
		n, res, err := resolveNode(snap, req.Class, graph.NodeKindClass)
		if err != nil {
			return nil, err
		}
		h, err := inherit.Trace(ctx, snap, n.ID, req.IncludeMetaclasses)
		if err != nil {
			return nil, err
		}
		return &InheritanceResponse{Hierarchy: h, Resolved: appendResolution(nil, res)}, nil
	})
}

// =============================================================================
// Analysis
// =============================================================================

// AnalyzeComplexity reports functions above the complexity thresholds.
func (s *Service) AnalyzeComplexity(ctx context.Context, repo string, req ComplexityRequest) (*FindingsResponse, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	return runQuery(ctx, s, repo, OpAnalyzeComplexity, req, func(ctx context.Context, snap *graph.Snapshot) (*FindingsResponse, error) {
		opts := analysis.DefaultComplexityOptions()
		opts.ReportAll = req.ReportAll
		return analyze(ctx, snap, analysis.NewComplexityAnalyzer(opts), req.Scope)
	})
}

// FindDuplicates reports pairs of similar code blocks.
func (s *Service) FindDuplicates(ctx context.Context, repo string, req DuplicatesRequest) (*DuplicatesResponse, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	opts := patterns.DuplicationOptions{
		SimilarityThreshold: req.Threshold,
		MinLines:            req.MinLines,
		MaxResults:          req.MaxResults,
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return runQuery(ctx, s, repo, OpFindDuplicates, req, func(ctx context.Context, snap *graph.Snapshot) (*DuplicatesResponse, error) {
		dups, err := patterns.NewDuplicationFinder(opts).Find(ctx, snap, req.Scope)
		if err != nil {
			return nil, err
		}
		if dups == nil {
			dups = []patterns.Duplicate{}
		}
		return &DuplicatesResponse{Duplicates: dups, Total: len(dups)}, nil
	})
}

// FindUnusedCode reports definitions no entry point reaches.
func (s *Service) FindUnusedCode(ctx context.Context, repo string, req UnusedRequest) (*FindingsResponse, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	if req.ConfidenceThreshold < 0 || req.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("%w: confidence threshold %v outside [0, 1]", graph.ErrInvalidScope, req.ConfidenceThreshold)
	}
	return runQuery(ctx, s, repo, OpFindUnusedCode, req, func(ctx context.Context, snap *graph.Snapshot) (*FindingsResponse, error) {
		opts := analysis.DefaultUnusedOptions()
		opts.EntryNames = s.config.EntryNames
		opts.ConfidenceThreshold = req.ConfidenceThreshold
		return analyze(ctx, snap, analysis.NewUnusedAnalyzer(opts), req.Scope)
	})
}

// DetectPatterns runs the structural pattern detectors.
func (s *Service) DetectPatterns(ctx context.Context, repo string, req PatternsRequest) (*PatternsResponse, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	types, err := patterns.ParsePatternTypes(req.PatternTypes)
	if err != nil {
		return nil, err
	}
	if req.MinConfidence < 0 || req.MinConfidence > 1 {
		return nil, fmt.Errorf("%w: min confidence %v outside [0, 1]", graph.ErrInvalidScope, req.MinConfidence)
	}
	return runQuery(ctx, s, repo, OpDetectPatterns, req, func(ctx context.Context, snap *graph.Snapshot) (*PatternsResponse, error) {
		d := patterns.NewDetector(patterns.DetectOptions{MinConfidence: req.MinConfidence})
		found, err := d.Detect(ctx, snap, req.Scope, types)
		if err != nil {
			return nil, err
		}
		if found == nil {
			found = []patterns.Pattern{}
		}
		return &PatternsResponse{Patterns: found, Total: len(found)}, nil
	})
}

func analyze(ctx context.Context, snap *graph.Snapshot, a analysis.Analyzer, scope analysis.Scope) (*FindingsResponse, error) {
	findings, err := a.Analyze(ctx, snap, scope)
	if err != nil {
		return nil, err
	}
	if findings == nil {
		findings = []analysis.Finding{}
	}
	return &FindingsResponse{Analyzer: a.Name(), Findings: findings, Total: len(findings)}, nil
}
