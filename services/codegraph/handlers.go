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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/codegraph/services/codegraph/builder"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/telemetry"
)

// MaxIngestBodyBytes bounds the body of an ingest request (64MB).
const MaxIngestBodyBytes = 64 << 20

// Handlers contains the HTTP handlers for the CodeGraph service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for svc.
func NewHandlers(svc *Service) *Handlers {
	_ = registerValidators()
	return &Handlers{svc: svc}
}

var (
	registerValidatorsOnce sync.Once
	registerValidatorsErr  error
)

// registerValidators adds the codegraph binding tags to gin's validator.
// A failure is logged once; requests using the tags then fail binding.
//
//	nodekind - the string names a graph.NodeKind
func registerValidators() error {
	registerValidatorsOnce.Do(func() {
		engine := binding.Validator.Engine()
		v, ok := engine.(*validator.Validate)
		if !ok {
			registerValidatorsErr = fmt.Errorf("binding engine is %T, not *validator.Validate", engine)
		} else {
			registerValidatorsErr = registerNodeKind(v)
		}
		if registerValidatorsErr != nil {
			slog.Error("Failed to register binding validators",
				slog.String("error", registerValidatorsErr.Error()))
		}
	})
	return registerValidatorsErr
}

func registerNodeKind(v *validator.Validate) error {
	if err := v.RegisterValidation("nodekind", validateNodeKind); err != nil {
		return fmt.Errorf("register nodekind validator: %w", err)
	}
	return nil
}

func validateNodeKind(fl validator.FieldLevel) bool {
	_, err := graph.ParseNodeKind(fl.Field().String())
	return err == nil
}

// getOrCreateRequestID returns the request's X-Request-ID, generating one
// if absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", handler, "repository", c.Param("repo"))
	return telemetry.LoggerWithTrace(c.Request.Context(), logger)
}

// errorStatus maps a service error to an HTTP status and error code.
//
// NotFound maps to 404, InvalidScope to 400 and everything else to 500.
// Deadline and cancellation are reported as timeouts.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "CANCELLED"
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, graph.ErrNodeNotFound):
		return http.StatusNotFound, "NODE_NOT_FOUND"
	case errors.Is(err, graph.ErrPathNotFound):
		return http.StatusNotFound, "PATH_NOT_FOUND"
	case errors.Is(err, graph.ErrFileNotFound):
		return http.StatusNotFound, "FILE_NOT_FOUND"
	case errors.Is(err, ErrNoProvider):
		return http.StatusBadRequest, "NO_PROVIDER"
	}

	switch graph.Classify(err) {
	case graph.ClassNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case graph.ClassInvalidScope:
		return http.StatusBadRequest, "INVALID_SCOPE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err, "code", code)
	} else {
		logger.Warn("Request rejected", "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func invalidRequest(c *gin.Context, logger *slog.Logger, err error) {
	logger.Warn("Invalid request", "error", err)
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request",
		Code:    "INVALID_REQUEST",
		Details: err.Error(),
	})
}

// bindOptionalJSON binds the body into obj; an empty body keeps the zero
// request.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// =============================================================================
// Sessions
// =============================================================================

// HandleOpen handles POST /v1/codegraph/repos/:repo/open.
//
// Description:
//
//	Opens a repository session, restoring the latest snapshot if one is
//	stored.
//
// Response:
//
//	200 OK: OpenResponse
//	400 Bad Request: Invalid repository id
//	500 Internal Server Error: Snapshot could not be loaded
func (h *Handlers) HandleOpen(c *gin.Context) {
	logger := requestLogger(c, "HandleOpen")

	resp, err := h.svc.OpenRepository(c.Request.Context(), c.Param("repo"))
	if err != nil {
		writeError(c, logger, err)
		return
	}

	logger.Info("Repository opened",
		"restored", resp.Restored,
		"generation", resp.Stats.Generation,
		"nodes", resp.Stats.Nodes)
	c.JSON(http.StatusOK, resp)
}

// HandleCheckpoint handles POST /v1/codegraph/repos/:repo/checkpoint.
//
// Response:
//
//	200 OK: CheckpointResponse
//	400 Bad Request: No provider configured
//	404 Not Found: Repository not open
func (h *Handlers) HandleCheckpoint(c *gin.Context) {
	logger := requestLogger(c, "HandleCheckpoint")

	resp, err := h.svc.Checkpoint(c.Request.Context(), c.Param("repo"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleClose handles DELETE /v1/codegraph/repos/:repo.
//
// Description:
//
//	Closes the session, checkpointing first when configured.
//
// Response:
//
//	204 No Content: Closed
//	404 Not Found: Repository not open
//	500 Internal Server Error: Checkpoint failed; the session stays open
func (h *Handlers) HandleClose(c *gin.Context) {
	logger := requestLogger(c, "HandleClose")

	if err := h.svc.CloseSession(c.Request.Context(), c.Param("repo")); err != nil {
		writeError(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleIngest handles POST /v1/codegraph/repos/:repo/files.
//
// Description:
//
//	Applies file events to the repository, opening it if needed. The body
//	is one FileEvents object or an array of them.
//
// Response:
//
//	200 OK: IngestResponse (per-file failures are listed, not fatal)
//	400 Bad Request: Malformed body
func (h *Handlers) HandleIngest(c *gin.Context) {
	logger := requestLogger(c, "HandleIngest")

	body := http.MaxBytesReader(c.Writer, c.Request.Body, MaxIngestBodyBytes)
	batch, err := builder.DecodeEvents(body)
	if err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.Ingest(c.Request.Context(), c.Param("repo"), batch)
	if err != nil {
		writeError(c, logger, err)
		return
	}

	logger.Info("Files ingested",
		"files", resp.Stats.FilesTotal,
		"failed", resp.Stats.FilesFailed,
		"generation", resp.Generation)
	c.JSON(http.StatusOK, resp)
}

// HandleRemoveFile handles DELETE /v1/codegraph/repos/:repo/files?file=.
func (h *Handlers) HandleRemoveFile(c *gin.Context) {
	logger := requestLogger(c, "HandleRemoveFile")

	var req struct {
		File string `form:"file" binding:"required"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.RemoveFile(c.Request.Context(), c.Param("repo"), req.File)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Queries
// =============================================================================

// HandleStats handles GET /v1/codegraph/repos/:repo/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	logger := requestLogger(c, "HandleStats")

	resp, err := h.svc.RepositoryStats(c.Request.Context(), c.Param("repo"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSearchSymbols handles GET /v1/codegraph/repos/:repo/symbols.
//
// Query Parameters:
//
//	pattern - Glob or substring (required)
//	kind - Node kind filter
//	limit - Maximum results
func (h *Handlers) HandleSearchSymbols(c *gin.Context) {
	logger := requestLogger(c, "HandleSearchSymbols")

	var req SearchSymbolsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.SearchSymbols(c.Request.Context(), c.Param("repo"), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleTracePath handles GET /v1/codegraph/repos/:repo/path.
//
// Query Parameters:
//
//	from, to - Node ids or symbol names (required)
//	max_depth - Hop budget
//	kinds - Edge kinds to follow, repeated or comma-separated
//
// Response:
//
//	200 OK: TracePathResponse
//	404 Not Found: Unknown node, or no path within max_depth
func (h *Handlers) HandleTracePath(c *gin.Context) {
	logger := requestLogger(c, "HandleTracePath")

	var req TracePathRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.TracePath(c.Request.Context(), c.Param("repo"), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDependencies handles GET /v1/codegraph/repos/:repo/dependencies.
func (h *Handlers) HandleDependencies(c *gin.Context) {
	logger := requestLogger(c, "HandleDependencies")

	var req FindDependenciesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.FindDependencies(c.Request.Context(), c.Param("repo"), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleReferences handles GET /v1/codegraph/repos/:repo/references.
func (h *Handlers) HandleReferences(c *gin.Context) {
	logger := requestLogger(c, "HandleReferences")

	var req FindReferencesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.FindReferences(c.Request.Context(), c.Param("repo"), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleTransitiveDependencies handles
// GET /v1/codegraph/repos/:repo/dependencies/transitive.
func (h *Handlers) HandleTransitiveDependencies(c *gin.Context) {
	logger := requestLogger(c, "HandleTransitiveDependencies")

	var req TransitiveRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.AnalyzeTransitiveDependencies(c.Request.Context(), c.Param("repo"), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDataFlow handles GET /v1/codegraph/repos/:repo/dataflow.
func (h *Handlers) HandleDataFlow(c *gin.Context) {
	logger := requestLogger(c, "HandleDataFlow")

	var req DataFlowRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.TraceDataFlow(c.Request.Context(), c.Param("repo"), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleInheritance handles GET /v1/codegraph/repos/:repo/inheritance.
func (h *Handlers) HandleInheritance(c *gin.Context) {
	logger := requestLogger(c, "HandleInheritance")

	var req InheritanceRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.TraceInheritance(c.Request.Context(), c.Param("repo"), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Analysis
// =============================================================================

// HandleComplexity handles POST /v1/codegraph/repos/:repo/analysis/complexity.
//
// Request Body:
//
//	ComplexityRequest (optional; empty selects the whole repository)
func (h *Handlers) HandleComplexity(c *gin.Context) {
	logger := requestLogger(c, "HandleComplexity")

	var req ComplexityRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.AnalyzeComplexity(c.Request.Context(), c.Param("repo"), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDuplicates handles POST /v1/codegraph/repos/:repo/analysis/duplicates.
func (h *Handlers) HandleDuplicates(c *gin.Context) {
	logger := requestLogger(c, "HandleDuplicates")

	var req DuplicatesRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.FindDuplicates(c.Request.Context(), c.Param("repo"), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleUnused handles POST /v1/codegraph/repos/:repo/analysis/unused.
func (h *Handlers) HandleUnused(c *gin.Context) {
	logger := requestLogger(c, "HandleUnused")

	var req UnusedRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.FindUnusedCode(c.Request.Context(), c.Param("repo"), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePatterns handles POST /v1/codegraph/repos/:repo/analysis/patterns.
func (h *Handlers) HandlePatterns(c *gin.Context) {
	logger := requestLogger(c, "HandlePatterns")

	var req PatternsRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		invalidRequest(c, logger, err)
		return
	}

	resp, err := h.svc.DetectPatterns(c.Request.Context(), c.Param("repo"), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Health
// =============================================================================

// HandleHealth handles GET /v1/codegraph/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: h.svc.Repositories(),
	})
}
