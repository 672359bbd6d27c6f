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
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/codegraph/services/codegraph/telemetry"
)

// RegisterRoutes registers all CodeGraph routes with the router.
//
// Description:
//
//	Registers all /v1/codegraph/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Session Endpoints:
//
//	POST   /v1/codegraph/repos/:repo/open - Open (or restore) a repository
//	POST   /v1/codegraph/repos/:repo/checkpoint - Save a snapshot
//	DELETE /v1/codegraph/repos/:repo - Close a repository
//	POST   /v1/codegraph/repos/:repo/files - Apply file events
//	DELETE /v1/codegraph/repos/:repo/files?file= - Remove a file
//
// Query Endpoints:
//
//	GET /v1/codegraph/repos/:repo/stats - Repository statistics
//	GET /v1/codegraph/repos/:repo/symbols - Search symbols
//	GET /v1/codegraph/repos/:repo/path - Shortest path
//	GET /v1/codegraph/repos/:repo/dependencies - Direct dependencies
//	GET /v1/codegraph/repos/:repo/dependencies/transitive - Transitive dependencies
//	GET /v1/codegraph/repos/:repo/references - Incoming references
//	GET /v1/codegraph/repos/:repo/dataflow - Data-flow trace
//	GET /v1/codegraph/repos/:repo/inheritance - Class hierarchy and MRO
//
// Analysis Endpoints:
//
//	POST /v1/codegraph/repos/:repo/analysis/complexity - Complexity hotspots
//	POST /v1/codegraph/repos/:repo/analysis/duplicates - Duplicate code
//	POST /v1/codegraph/repos/:repo/analysis/unused - Unused code
//	POST /v1/codegraph/repos/:repo/analysis/patterns - Structural patterns
//
// Health Endpoints:
//
//	GET /v1/codegraph/health - Service health
//	GET /v1/codegraph/metrics - Prometheus metrics
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cg := rg.Group("/codegraph")
	{
		repos := cg.Group("/repos/:repo")
		{
			repos.POST("/open", handlers.HandleOpen)
			repos.POST("/checkpoint", handlers.HandleCheckpoint)
			repos.DELETE("", handlers.HandleClose)
			repos.POST("/files", handlers.HandleIngest)
			repos.DELETE("/files", handlers.HandleRemoveFile)

			repos.GET("/stats", handlers.HandleStats)
			repos.GET("/symbols", handlers.HandleSearchSymbols)
			repos.GET("/path", handlers.HandleTracePath)
			repos.GET("/dependencies", handlers.HandleDependencies)
			repos.GET("/dependencies/transitive", handlers.HandleTransitiveDependencies)
			repos.GET("/references", handlers.HandleReferences)
			repos.GET("/dataflow", handlers.HandleDataFlow)
			repos.GET("/inheritance", handlers.HandleInheritance)

			analysis := repos.Group("/analysis")
			{
				analysis.POST("/complexity", handlers.HandleComplexity)
				analysis.POST("/duplicates", handlers.HandleDuplicates)
				analysis.POST("/unused", handlers.HandleUnused)
				analysis.POST("/patterns", handlers.HandlePatterns)
			}
		}

		cg.GET("/health", handlers.HandleHealth)
		cg.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	}
}
