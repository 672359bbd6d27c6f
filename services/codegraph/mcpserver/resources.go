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
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AleutianAI/codegraph/services/codegraph"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

const (
	statsURIPrefix  = "codegraph://repos/"
	statsURISuffix  = "/stats"
	schemaURIPrefix = "codegraph://schemas/"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: statsURIPrefix + "{repo}" + statsURISuffix,
		Name:        "Repository Stats",
		Description: "Node and edge counts of an open or checkpointed repository",
		MIMEType:    "application/json",
	}, s.readStats)

	schemaMap := buildSchemaMap()
	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: schemaURIPrefix + "{tool_name}",
		Name:        "Tool Schema",
		Description: "JSON schema for the named tool's arguments",
		MIMEType:    "application/schema+json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		uri := req.Params.URI
		schemaJSON, ok := schemaMap[strings.TrimPrefix(uri, schemaURIPrefix)]
		if !ok {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      uri,
				MIMEType: "application/schema+json",
				Text:     schemaJSON,
			}},
		}, nil
	})
}

func (s *Server) readStats(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	repo := strings.TrimSuffix(strings.TrimPrefix(uri, statsURIPrefix), statsURISuffix)

	stats, err := s.svc.RepositoryStats(ctx, repo)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		return nil, err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// buildSchemaMap maps each tool name to the JSON schema of its arguments.
func buildSchemaMap() map[string]string {
	m := make(map[string]string)
	addSchema[RepoArgs](m, codegraph.OpRepositoryStats)
	addSchema[SearchSymbolsArgs](m, codegraph.OpSearchSymbols)
	addSchema[TracePathArgs](m, codegraph.OpTracePath)
	addSchema[NodeArgs](m, codegraph.OpFindDependencies)
	addSchema[FindReferencesArgs](m, codegraph.OpFindReferences)
	addSchema[TransitiveArgs](m, codegraph.OpTransitiveDeps)
	addSchema[DataFlowArgs](m, codegraph.OpTraceDataFlow)
	addSchema[InheritanceArgs](m, codegraph.OpTraceInheritance)
	addSchema[ComplexityArgs](m, codegraph.OpAnalyzeComplexity)
	addSchema[DuplicatesArgs](m, codegraph.OpFindDuplicates)
	addSchema[UnusedArgs](m, codegraph.OpFindUnusedCode)
	addSchema[PatternsArgs](m, codegraph.OpDetectPatterns)
	return m
}

func addSchema[T any](m map[string]string, name string) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return
	}
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return
	}
	m[name] = string(schemaJSON)
}
