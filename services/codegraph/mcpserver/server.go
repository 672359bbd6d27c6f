// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mcpserver exposes the CodeGraph service as Model Context Protocol
// tools and resources.
//
// Every service query is one tool taking a repository id plus the query's
// options. Results are returned as indented JSON text. Failures come back
// as tool errors (IsError set) prefixed with the error class, so a client
// can tell a missing node from a bad argument.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AleutianAI/codegraph/services/codegraph"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// ServerName is reported to MCP clients during initialization.
const ServerName = "codegraph"

// Server wires a codegraph.Service into an MCP server.
//
// Thread Safety: Safe for concurrent use. Tool calls go straight to the
// service, which serializes writes per repository.
type Server struct {
	svc       *codegraph.Service
	mcpServer *mcp.Server
}

// New creates a server with every tool and resource registered.
//
// Inputs:
//
//	svc - The service that answers queries. Must not be nil.
//	version - Reported as the implementation version.
//
// Outputs:
//
//	*Server - Ready to Run.
func New(svc *codegraph.Service, version string) *Server {
	s := &Server{
		svc: svc,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    ServerName,
			Version: version,
		}, nil),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// Run serves MCP over stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("MCP server starting", slog.String("transport", "stdio"))
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves one session over t. Used for in-process clients.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s: %v", graph.Classify(err), err)}},
		IsError: true,
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("%w: encode result: %v", graph.ErrInternal, err))
	}
	return textResult(string(data))
}
