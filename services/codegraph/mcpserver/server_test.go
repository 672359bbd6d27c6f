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
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph"
	"github.com/AleutianAI/codegraph/services/codegraph/builder"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

func fn(name string) builder.NodeDescriptor {
	return builder.NodeDescriptor{
		Kind:     graph.NodeKindFunction,
		Name:     name,
		Location: graph.Location{StartByte: 1, EndByte: 50, StartLine: 1, EndLine: 5},
	}
}

func newTestSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	svc, err := codegraph.NewService(codegraph.DefaultServiceConfig())
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "demo", []*builder.FileEvents{
		{
			File:  "a.py",
			Nodes: []builder.NodeDescriptor{fn("foo")},
			Edges: []builder.EdgeDescriptor{{
				Kind:   graph.EdgeKindCalls,
				Source: builder.Ref{Name: "foo"},
				Target: builder.Ref{Name: "bar", FileHint: "b.py"},
			}},
		},
		{
			File:  "b.py",
			Nodes: []builder.NodeDescriptor{fn("bar")},
		},
	})
	require.NoError(t, err)

	server := New(svc, "test")
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func TestServer_ListTools(t *testing.T) {
	cs := newTestSession(t)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		codegraph.OpRepositoryStats,
		codegraph.OpSearchSymbols,
		codegraph.OpTracePath,
		codegraph.OpFindDependencies,
		codegraph.OpFindReferences,
		codegraph.OpTransitiveDeps,
		codegraph.OpTraceDataFlow,
		codegraph.OpTraceInheritance,
		codegraph.OpAnalyzeComplexity,
		codegraph.OpFindDuplicates,
		codegraph.OpFindUnusedCode,
		codegraph.OpDetectPatterns,
	}, names)
}

func TestServer_CallTools(t *testing.T) {
	cs := newTestSession(t)

	t.Run("stats", func(t *testing.T) {
		text, isErr := callTool(t, cs, codegraph.OpRepositoryStats, map[string]any{"repository": "demo"})
		require.False(t, isErr, text)
		var resp codegraph.StatsResponse
		require.NoError(t, json.Unmarshal([]byte(text), &resp))
		assert.Equal(t, 2, resp.Files)
	})

	t.Run("search", func(t *testing.T) {
		text, isErr := callTool(t, cs, codegraph.OpSearchSymbols, map[string]any{"repository": "demo", "pattern": "fo*"})
		require.False(t, isErr, text)
		var resp codegraph.SearchSymbolsResponse
		require.NoError(t, json.Unmarshal([]byte(text), &resp))
		require.Len(t, resp.Symbols, 1)
		assert.Equal(t, "foo", resp.Symbols[0].Name)
	})

	t.Run("path", func(t *testing.T) {
		text, isErr := callTool(t, cs, codegraph.OpTracePath, map[string]any{"repository": "demo", "from": "foo", "to": "bar"})
		require.False(t, isErr, text)
		var resp codegraph.TracePathResponse
		require.NoError(t, json.Unmarshal([]byte(text), &resp))
		assert.Equal(t, 1, resp.Length)
	})

	t.Run("references", func(t *testing.T) {
		text, isErr := callTool(t, cs, codegraph.OpFindReferences, map[string]any{"repository": "demo", "node": "bar"})
		require.False(t, isErr, text)
		var resp codegraph.FindReferencesResponse
		require.NoError(t, json.Unmarshal([]byte(text), &resp))
		require.Len(t, resp.References, 1)
		assert.Equal(t, "foo", resp.References[0].Name)
	})

	t.Run("analysis", func(t *testing.T) {
		text, isErr := callTool(t, cs, codegraph.OpFindUnusedCode, map[string]any{"repository": "demo", "glob": "*.py"})
		require.False(t, isErr, text)
		assert.Contains(t, text, `"analyzer": "unused"`)
	})
}

func TestServer_ToolErrors(t *testing.T) {
	cs := newTestSession(t)

	text, isErr := callTool(t, cs, codegraph.OpRepositoryStats, map[string]any{"repository": "missing"})
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, "not_found:"), text)

	text, isErr = callTool(t, cs, codegraph.OpTraceDataFlow, map[string]any{"repository": "demo", "node": "foo", "direction": "sideways"})
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, "invalid_scope:"), text)

	text, isErr = callTool(t, cs, codegraph.OpFindDependencies, map[string]any{"repository": "demo", "node": "nothing"})
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, "not_found:"), text)
}

func TestServer_Resources(t *testing.T) {
	cs := newTestSession(t)
	ctx := context.Background()

	res, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "codegraph://repos/demo/stats"})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)

	var stats codegraph.StatsResponse
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &stats))
	assert.Equal(t, "demo", stats.Repository)
	assert.Equal(t, 2, stats.Nodes)

	_, err = cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "codegraph://repos/missing/stats"})
	assert.Error(t, err)

	schema, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "codegraph://schemas/" + codegraph.OpTracePath})
	require.NoError(t, err)
	require.Len(t, schema.Contents, 1)
	assert.Contains(t, schema.Contents[0].Text, `"max_depth"`)
}

func TestBuildSchemaMap(t *testing.T) {
	m := buildSchemaMap()
	assert.Len(t, m, 12)
	assert.Contains(t, m[codegraph.OpSearchSymbols], "pattern")
}
