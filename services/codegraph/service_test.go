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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/analysis"
	"github.com/AleutianAI/codegraph/services/codegraph/builder"
	"github.com/AleutianAI/codegraph/services/codegraph/config"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/graph/graphtest"
	"github.com/AleutianAI/codegraph/services/codegraph/patterns"
	"github.com/AleutianAI/codegraph/services/codegraph/storage"
)

const testRepo = "demo"

func fnNode(name string, start int) builder.NodeDescriptor {
	return builder.NodeDescriptor{
		Kind: graph.NodeKindFunction,
		Name: name,
		Location: graph.Location{
			StartByte: start,
			EndByte:   start + 40,
			StartLine: start/10 + 1,
			EndLine:   start/10 + 4,
		},
	}
}

func classNode(name string, start int) builder.NodeDescriptor {
	n := fnNode(name, start)
	n.Kind = graph.NodeKindClass
	return n
}

// scenarioEvents is a.py: foo calls bar, b.py: bar calls foo, and a small
// class hierarchy in models.py.
func scenarioEvents() []*builder.FileEvents {
	return []*builder.FileEvents{
		{
			File:     "a.py",
			Language: "python",
			Nodes:    []builder.NodeDescriptor{fnNode("foo", 1)},
			Edges: []builder.EdgeDescriptor{{
				Kind:   graph.EdgeKindCalls,
				Source: builder.Ref{Name: "foo"},
				Target: builder.Ref{Name: "bar", FileHint: "b.py"},
			}},
		},
		{
			File:     "b.py",
			Language: "python",
			Nodes:    []builder.NodeDescriptor{fnNode("bar", 1)},
			Edges: []builder.EdgeDescriptor{{
				Kind:   graph.EdgeKindCalls,
				Source: builder.Ref{Name: "bar"},
				Target: builder.Ref{Name: "foo", FileHint: "a.py"},
			}},
		},
		{
			File:     "models.py",
			Language: "python",
			Nodes:    []builder.NodeDescriptor{classNode("Base", 1), classNode("Child", 100)},
			Edges: []builder.EdgeDescriptor{{
				Kind:     graph.EdgeKindExtends,
				Source:   builder.Ref{Name: "Child"},
				Target:   builder.Ref{Name: "Base"},
				Metadata: map[string]any{graph.MetaPosition: 0},
			}},
		},
	}
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(DefaultServiceConfig(), opts...)
	require.NoError(t, err)
	return svc
}

func ingestScenario(t *testing.T, svc *Service, repo string) *IngestResponse {
	t.Helper()
	resp, err := svc.Ingest(context.Background(), repo, scenarioEvents())
	require.NoError(t, err)
	require.Empty(t, resp.Errors)
	return resp
}

func nodeID(t *testing.T, svc *Service, repo, file, name string) string {
	t.Helper()
	sess, err := svc.Session(context.Background(), repo)
	require.NoError(t, err)
	for _, n := range sess.Snapshot().NodesInFile(file) {
		if n.Name == name {
			return n.ID
		}
	}
	t.Fatalf("node %s not found in %s", name, file)
	return ""
}

func TestNewService_Defaults(t *testing.T) {
	svc, err := NewService(ServiceConfig{SearchLimit: 5000})
	require.NoError(t, err)

	cfg := svc.Config()
	assert.Equal(t, 10, cfg.PathDepth)
	assert.Equal(t, 5, cfg.DependencyDepth)
	assert.Equal(t, 10, cfg.DataFlowDepth)
	assert.Equal(t, MaxSearchLimit, cfg.SearchLimit)
	assert.Nil(t, svc.cache)
}

func TestServiceConfigFrom(t *testing.T) {
	fileCfg := config.DefaultConfig()
	fileCfg.Limits.PathDepth = 12
	fileCfg.Analysis.EntryNames = []string{"run"}

	cfg := ServiceConfigFrom(fileCfg)
	assert.Equal(t, 12, cfg.PathDepth)
	assert.Equal(t, 1024, cfg.CacheSize)
	assert.True(t, cfg.CheckpointOnClose)
	assert.Equal(t, []string{"run"}, cfg.EntryNames)
}

func TestService_IngestAndStats(t *testing.T) {
	svc := newTestService(t)
	resp := ingestScenario(t, svc, testRepo)
	assert.Equal(t, 3, resp.Stats.FilesApplied)
	assert.NotZero(t, resp.Generation)

	stats, err := svc.RepositoryStats(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, testRepo, stats.Repository)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 2, stats.NodesByKind["function"])
	assert.Equal(t, 2, stats.NodesByKind["class"])
	assert.Equal(t, 2, stats.EdgesByKind["calls"])
	assert.Equal(t, 0, stats.Placeholders)
	assert.Equal(t, 3, stats.Languages["python"])
}

func TestService_IngestRejectsEmptyBatch(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Ingest(context.Background(), testRepo, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))
}

func TestService_UnknownRepository(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.RepositoryStats(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, graph.ClassNotFound, graph.Classify(err))

	_, err = svc.RepositoryStats(context.Background(), "a/b")
	assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))
}

func TestService_SearchSymbols(t *testing.T) {
	svc := newTestService(t)
	ingestScenario(t, svc, testRepo)
	ctx := context.Background()

	names := func(resp *SearchSymbolsResponse) []string {
		out := make([]string, len(resp.Symbols))
		for i, s := range resp.Symbols {
			out[i] = s.Name
		}
		return out
	}

	t.Run("prefix ranked by length", func(t *testing.T) {
		resp, err := svc.SearchSymbols(ctx, testRepo, SearchSymbolsRequest{Pattern: "ba"})
		require.NoError(t, err)
		assert.Equal(t, []string{"bar", "Base"}, names(resp))
		assert.Equal(t, MatchPrefix, resp.Symbols[0].Match)
	})

	t.Run("exact beats substring", func(t *testing.T) {
		resp, err := svc.SearchSymbols(ctx, testRepo, SearchSymbolsRequest{Pattern: "BAR"})
		require.NoError(t, err)
		require.Len(t, resp.Symbols, 1)
		assert.Equal(t, MatchExact, resp.Symbols[0].Match)
	})

	t.Run("substring", func(t *testing.T) {
		resp, err := svc.SearchSymbols(ctx, testRepo, SearchSymbolsRequest{Pattern: "il"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Child"}, names(resp))
		assert.Equal(t, MatchSubstring, resp.Symbols[0].Match)
	})

	t.Run("glob", func(t *testing.T) {
		resp, err := svc.SearchSymbols(ctx, testRepo, SearchSymbolsRequest{Pattern: "b*"})
		require.NoError(t, err)
		assert.Equal(t, []string{"bar", "Base"}, names(resp))
		assert.Equal(t, MatchGlob, resp.Symbols[1].Match)
	})

	t.Run("kind filter", func(t *testing.T) {
		resp, err := svc.SearchSymbols(ctx, testRepo, SearchSymbolsRequest{Pattern: "a", Kind: "class"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Base"}, names(resp))
	})

	t.Run("limit", func(t *testing.T) {
		resp, err := svc.SearchSymbols(ctx, testRepo, SearchSymbolsRequest{Pattern: "ba", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, resp.Symbols, 1)
		assert.Equal(t, 2, resp.Total)
		assert.True(t, resp.Truncated)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := svc.SearchSymbols(ctx, testRepo, SearchSymbolsRequest{Pattern: " "})
		assert.ErrorIs(t, err, ErrEmptyPattern)

		_, err = svc.SearchSymbols(ctx, testRepo, SearchSymbolsRequest{Pattern: "[a"})
		assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))

		_, err = svc.SearchSymbols(ctx, testRepo, SearchSymbolsRequest{Pattern: "a", Kind: "nope"})
		assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))
	})
}

func TestService_TracePath(t *testing.T) {
	svc := newTestService(t)
	ingestScenario(t, svc, testRepo)
	foo := nodeID(t, svc, testRepo, "a.py", "foo")
	bar := nodeID(t, svc, testRepo, "b.py", "bar")

	resp, err := svc.TracePath(context.Background(), testRepo, TracePathRequest{From: "foo", To: "bar"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Length)
	assert.Equal(t, []string{foo, bar}, resp.Nodes)
	require.Len(t, resp.Resolved, 2)
	assert.Equal(t, foo, resp.Resolved[0].NodeID)
	assert.Empty(t, resp.Resolved[0].Alternatives)

	byID, err := svc.TracePath(context.Background(), testRepo, TracePathRequest{From: foo, To: bar, Kinds: []string{"calls"}})
	require.NoError(t, err)
	assert.Empty(t, byID.Resolved)

	_, err = svc.TracePath(context.Background(), testRepo, TracePathRequest{From: "foo", To: "Base"})
	assert.ErrorIs(t, err, graph.ErrPathNotFound)

	_, err = svc.TracePath(context.Background(), testRepo, TracePathRequest{From: "foo", To: "nothing"})
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)

	_, err = svc.TracePath(context.Background(), testRepo, TracePathRequest{From: "foo", To: "bar", Kinds: []string{"bogus"}})
	assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))
}

func TestService_Dependencies(t *testing.T) {
	svc := newTestService(t)
	ingestScenario(t, svc, testRepo)
	ctx := context.Background()
	foo := nodeID(t, svc, testRepo, "a.py", "foo")
	bar := nodeID(t, svc, testRepo, "b.py", "bar")

	t.Run("direct", func(t *testing.T) {
		resp, err := svc.FindDependencies(ctx, testRepo, FindDependenciesRequest{Node: "foo"})
		require.NoError(t, err)
		require.Len(t, resp.Dependencies, 1)
		assert.Equal(t, bar, resp.Dependencies[0].NodeID)
		assert.Equal(t, []graph.EdgeKind{graph.EdgeKindCalls}, resp.Dependencies[0].Kinds)
	})

	t.Run("transitive with cycle", func(t *testing.T) {
		resp, err := svc.AnalyzeTransitiveDependencies(ctx, testRepo, TransitiveRequest{Node: foo, Kinds: []string{"calls"}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{foo, bar}, resp.IDs())
		require.Len(t, resp.Cycles, 1)
		assert.Equal(t, []string{foo, bar}, resp.Cycles[0].Members)
		assert.Equal(t, 5, resp.MaxDepth)
	})

	t.Run("references", func(t *testing.T) {
		resp, err := svc.FindReferences(ctx, testRepo, FindReferencesRequest{Node: "bar"})
		require.NoError(t, err)
		require.Len(t, resp.References, 1)
		assert.Equal(t, foo, resp.References[0].FromID)
		assert.Equal(t, "foo", resp.References[0].Name)
		assert.Equal(t, graph.EdgeKindCalls, resp.References[0].EdgeKind)
		assert.Nil(t, resp.Transitive)

		deep, err := svc.FindReferences(ctx, testRepo, FindReferencesRequest{Node: "bar", Depth: 3})
		require.NoError(t, err)
		require.NotNil(t, deep.Transitive)
		assert.Equal(t, []string{foo}, deep.Transitive.IDs())

		_, err = svc.FindReferences(ctx, testRepo, FindReferencesRequest{Node: "bar", Depth: -1})
		assert.ErrorIs(t, err, graph.ErrInvalidDepth)
	})
}

func TestService_TraceInheritance(t *testing.T) {
	svc := newTestService(t)
	ingestScenario(t, svc, testRepo)

	resp, err := svc.TraceInheritance(context.Background(), testRepo, InheritanceRequest{Class: "Child"})
	require.NoError(t, err)
	names := resp.MRONames()
	require.NotEmpty(t, names)
	assert.Equal(t, "Child", names[0])
	assert.Contains(t, names, "Base")

	_, err = svc.TraceInheritance(context.Background(), testRepo, InheritanceRequest{Class: "foo"})
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)
}

func TestService_TraceDataFlow(t *testing.T) {
	svc := newTestService(t)
	ingestScenario(t, svc, testRepo)

	resp, err := svc.TraceDataFlow(context.Background(), testRepo, DataFlowRequest{Node: "foo", Direction: "both"})
	require.NoError(t, err)
	assert.Equal(t, 10, resp.MaxDepth)

	_, err = svc.TraceDataFlow(context.Background(), testRepo, DataFlowRequest{Node: "foo", Direction: "sideways"})
	assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))
}

func TestService_Analysis(t *testing.T) {
	svc := newTestService(t)
	ingestScenario(t, svc, testRepo)
	ctx := context.Background()

	t.Run("complexity", func(t *testing.T) {
		resp, err := svc.AnalyzeComplexity(ctx, testRepo, ComplexityRequest{})
		require.NoError(t, err)
		assert.Equal(t, "complexity", resp.Analyzer)
		assert.NotNil(t, resp.Findings)
	})

	t.Run("unused", func(t *testing.T) {
		resp, err := svc.FindUnusedCode(ctx, testRepo, UnusedRequest{})
		require.NoError(t, err)
		assert.Equal(t, "unused", resp.Analyzer)

		_, err = svc.FindUnusedCode(ctx, testRepo, UnusedRequest{ConfidenceThreshold: 2})
		assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))
	})

	t.Run("duplicates", func(t *testing.T) {
		resp, err := svc.FindDuplicates(ctx, testRepo, DuplicatesRequest{})
		require.NoError(t, err)
		assert.Len(t, resp.Duplicates, resp.Total)

		_, err = svc.FindDuplicates(ctx, testRepo, DuplicatesRequest{Threshold: 1.5})
		assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))
	})

	t.Run("patterns", func(t *testing.T) {
		resp, err := svc.DetectPatterns(ctx, testRepo, PatternsRequest{PatternTypes: []string{"circular_dependency"}})
		require.NoError(t, err)
		require.Equal(t, 1, resp.Total)
		assert.Equal(t, patterns.PatternCircularDependency, resp.Patterns[0].Type)
		assert.ElementsMatch(t, []string{
			nodeID(t, svc, testRepo, "a.py", "foo"),
			nodeID(t, svc, testRepo, "b.py", "bar"),
		}, resp.Patterns[0].Members)

		_, err = svc.DetectPatterns(ctx, testRepo, PatternsRequest{PatternTypes: []string{"nope"}})
		assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))
	})

	t.Run("bad scope glob", func(t *testing.T) {
		_, err := svc.AnalyzeComplexity(ctx, testRepo, ComplexityRequest{Scope: analysis.Scope{Glob: "["}})
		assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))
	})
}

func TestService_CacheKeyedByGeneration(t *testing.T) {
	svc := newTestService(t)
	ingestScenario(t, svc, testRepo)
	ctx := context.Background()

	first, err := svc.RepositoryStats(ctx, testRepo)
	require.NoError(t, err)
	second, err := svc.RepositoryStats(ctx, testRepo)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = svc.Ingest(ctx, testRepo, []*builder.FileEvents{{
		File:  "c.py",
		Nodes: []builder.NodeDescriptor{fnNode("baz", 1)},
	}})
	require.NoError(t, err)

	third, err := svc.RepositoryStats(ctx, testRepo)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 4, third.Files)
	assert.Equal(t, 3, first.Files)
}

func TestService_CacheDisabled(t *testing.T) {
	svc, err := NewService(ServiceConfig{})
	require.NoError(t, err)
	ingestScenario(t, svc, testRepo)

	first, err := svc.RepositoryStats(context.Background(), testRepo)
	require.NoError(t, err)
	second, err := svc.RepositoryStats(context.Background(), testRepo)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first, second)
}

func TestService_RemoveFile(t *testing.T) {
	svc := newTestService(t)
	ingestScenario(t, svc, testRepo)
	ctx := context.Background()

	resp, err := svc.RemoveFile(ctx, testRepo, "b.py")
	require.NoError(t, err)
	assert.True(t, resp.Commit.Removed)
	assert.Equal(t, "b.py", resp.Commit.File)

	stats, err := svc.RepositoryStats(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 1, stats.Placeholders)

	_, err = svc.RemoveFile(ctx, testRepo, "")
	assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))
}

func TestService_CheckpointAndRestore(t *testing.T) {
	provider := storage.NewMemoryProvider()
	ctx := context.Background()

	svc := newTestService(t, WithProvider(provider))
	ingestScenario(t, svc, testRepo)
	before, err := svc.RepositoryStats(ctx, testRepo)
	require.NoError(t, err)

	cp, err := svc.Checkpoint(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, before.Generation, cp.Generation)
	assert.Equal(t, 3, cp.Files)
	assert.Equal(t, before.Nodes, cp.Nodes)

	require.NoError(t, svc.CloseSession(ctx, testRepo))
	assert.Empty(t, svc.Repositories())

	restoredSvc := newTestService(t, WithProvider(provider))
	sess, err := restoredSvc.Session(ctx, testRepo)
	require.NoError(t, err)
	assert.True(t, sess.Restored)

	after, err := restoredSvc.RepositoryStats(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, before.Stats, after.Stats)

	_, err = restoredSvc.Session(ctx, "never-saved")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestService_CloseCheckpoints(t *testing.T) {
	provider := storage.NewMemoryProvider()
	ctx := context.Background()

	svc := newTestService(t, WithProvider(provider))
	ingestScenario(t, svc, "r2")
	require.NoError(t, svc.Close(ctx))

	data, err := provider.LoadSnapshot(ctx, "r2")
	require.NoError(t, err)
	assert.Len(t, data.Files, 3)

	_, err = svc.Open(ctx, "r2")
	assert.ErrorIs(t, err, ErrServiceClosed)
}

func TestService_CheckpointErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Checkpoint(ctx, testRepo)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	ingestScenario(t, svc, testRepo)
	_, err = svc.Checkpoint(ctx, testRepo)
	assert.ErrorIs(t, err, ErrNoProvider)

	err = svc.CloseSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestService_ConcurrentOpenSharesSession(t *testing.T) {
	svc := newTestService(t, WithProvider(storage.NewMemoryProvider()))
	ctx := context.Background()

	const n = 8
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := svc.Open(ctx, testRepo)
			assert.NoError(t, err)
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	for _, sess := range sessions[1:] {
		assert.Same(t, sessions[0], sess)
	}
	assert.Equal(t, []string{testRepo}, svc.Repositories())
	assert.False(t, sessions[0].Restored)
}

func TestResolveNode(t *testing.T) {
	f := graphtest.New(t)
	a := f.Func("a.py", "foo")
	b := f.Func("b.py", "foo")
	call := f.Node("c.py", graph.NodeKindCall, "foo", nil)
	widget := f.Node("d.py", graph.NodeKindClass, "Widget", map[string]any{graph.MetaQualifiedName: "ui.Widget"})
	snap := f.Commit()

	t.Run("id", func(t *testing.T) {
		n, res, err := resolveNode(snap, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, n.ID)
		assert.Nil(t, res)
	})

	t.Run("ambiguous name picks lowest definition id", func(t *testing.T) {
		want, other := a, b
		if b.ID < a.ID {
			want, other = b, a
		}
		n, res, err := resolveNode(snap, "foo")
		require.NoError(t, err)
		assert.Equal(t, want.ID, n.ID)
		require.NotNil(t, res)
		assert.Equal(t, "foo", res.Query)
		require.Len(t, res.Alternatives, 2)
		ids := []string{res.Alternatives[0].NodeID, res.Alternatives[1].NodeID}
		assert.ElementsMatch(t, []string{other.ID, call.ID}, ids)
		assert.True(t, ids[0] < ids[1])
	})

	t.Run("qualified name", func(t *testing.T) {
		n, _, err := resolveNode(snap, "ui.Widget")
		require.NoError(t, err)
		assert.Equal(t, widget.ID, n.ID)
	})

	t.Run("kind restriction", func(t *testing.T) {
		_, _, err := resolveNode(snap, "foo", graph.NodeKindClass)
		assert.ErrorIs(t, err, graph.ErrNodeNotFound)

		_, _, err = resolveNode(snap, a.ID, graph.NodeKindClass)
		assert.ErrorIs(t, err, graph.ErrNodeNotFound)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := resolveNode(snap, "")
		assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))
	})
}

func TestParseEdgeKinds(t *testing.T) {
	kinds, err := parseEdgeKinds([]string{"calls, reads", "writes", ""})
	require.NoError(t, err)
	assert.Equal(t, []graph.EdgeKind{graph.EdgeKindCalls, graph.EdgeKindReads, graph.EdgeKindWrites}, kinds)

	kinds, err = parseEdgeKinds(nil)
	require.NoError(t, err)
	assert.Nil(t, kinds)

	_, err = parseEdgeKinds([]string{"calls,bogus"})
	assert.ErrorIs(t, err, graph.ErrInvalidScope)
}

func TestResponseCache(t *testing.T) {
	c, err := newResponseCache(8)
	require.NoError(t, err)

	k1, ok := cacheKey("r1", 1, "op", map[string]int{"a": 1})
	require.True(t, ok)
	k2, _ := cacheKey("r1", 2, "op", map[string]int{"a": 1})
	k3, _ := cacheKey("r2", 1, "op", nil)
	assert.NotEqual(t, k1, k2)

	c.add(k1, "one")
	c.add(k2, "two")
	c.add(k3, "three")
	v, hit := c.get(k1)
	assert.True(t, hit)
	assert.Equal(t, "one", v)

	assert.Equal(t, 2, c.purge("r1"))
	assert.Equal(t, 1, c.len())

	_, ok = cacheKey("r1", 1, "op", make(chan int))
	assert.False(t, ok)

	var disabled *responseCache
	disabled.add(k1, "x")
	_, hit = disabled.get(k1)
	assert.False(t, hit)
	assert.Zero(t, disabled.purge("r1"))
}
