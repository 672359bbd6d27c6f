// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/builder"
	"github.com/AleutianAI/codegraph/services/codegraph/config"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func memoryConfig() config.Config {
	c := config.DefaultConfig()
	c.Storage.Backend = config.BackendMemory
	c.Storage.Path = ""
	return c
}

func writeEventFile(t *testing.T, dir, name string, events ...*builder.FileEvents) {
	t.Helper()
	data, err := json.Marshal(events)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func sampleEvents() []*builder.FileEvents {
	return []*builder.FileEvents{{
		File:     "main.py",
		Language: "python",
		Nodes: []builder.NodeDescriptor{{
			Kind:     graph.NodeKindFunction,
			Name:     "main",
			Location: graph.Location{StartByte: 1, EndByte: 30, StartLine: 1, EndLine: 3},
		}},
	}}
}

func TestNewLogHandler_NonTerminalIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newLogHandler(&buf, slog.LevelInfo))
	logger.Debug("hidden")
	logger.Info("shown", slog.String("k", "v"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestNewApp_MemoryBackend(t *testing.T) {
	a, err := newApp(memoryConfig())
	require.NoError(t, err)
	assert.Nil(t, a.publisher)

	applier := serviceApplier{svc: a.svc, repo: "demo"}
	res, err := applier.ApplyAll(context.Background(), sampleEvents())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.FilesApplied)

	require.NoError(t, a.Close(context.Background()))

	// Close checkpointed the session into the still-readable memory map.
	mem, ok := a.provider.(*storage.MemoryProvider)
	require.True(t, ok)
	data, err := mem.LoadSnapshot(context.Background(), "demo")
	require.NoError(t, err)
	assert.Len(t, data.Nodes, 1)
}

func TestNewApp_UnknownBackend(t *testing.T) {
	c := memoryConfig()
	c.Storage.Backend = "tape"
	_, err := newApp(c)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRouter_ServesRoutes(t *testing.T) {
	a, err := newApp(memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	router := newRouter(a.svc, "codegraph-test")

	req := httptest.NewRequest(http.MethodGet, "/v1/codegraph/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/codegraph/metrics", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartWatcher(t *testing.T) {
	a, err := newApp(memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	w, err := startWatcher(context.Background(), a.svc, config.IngestConfig{})
	require.NoError(t, err)
	assert.Nil(t, w)

	_, err = startWatcher(context.Background(), a.svc, config.IngestConfig{WatchDir: t.TempDir()})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	dir := t.TempDir()
	writeEventFile(t, dir, "main.events.json", sampleEvents()...)
	w, err = startWatcher(context.Background(), a.svc, config.IngestConfig{
		WatchDir:   dir,
		Glob:       "**/*.events.json",
		Repository: "watched",
	})
	require.NoError(t, err)
	defer w.Stop()

	// Existing files are applied before Start returns.
	assert.Eventually(t, func() bool {
		return len(a.svc.Repositories()) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestIngestCommand(t *testing.T) {
	t.Setenv("CODEGRAPH_STORAGE_BACKEND", config.BackendMemory)

	dir := t.TempDir()
	writeEventFile(t, dir, "main.events.json", sampleEvents()...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.events.json"), []byte("{"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"ingest", dir, "--repo", "demo"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		repoID = ""
	})
	require.NoError(t, rootCmd.Execute())

	var summary ingestSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, "demo", summary.Repository)
	assert.Equal(t, 1, summary.Files)
	assert.Equal(t, 1, summary.Nodes)
	require.Len(t, summary.Unreadable, 1)
	assert.Contains(t, summary.Unreadable[0], "broken.events.json")
}

func TestPrintSnapshots(t *testing.T) {
	var buf bytes.Buffer
	saved := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, printSnapshots(&buf, []storage.SnapshotInfo{
		{RepositoryID: "demo", Generation: 7, Files: 2, Nodes: 10, Edges: 4, SavedAt: saved},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "REPOSITORY"))
	assert.Contains(t, lines[1], "demo")
	assert.Contains(t, lines[1], "2025-03-01T12:00:00Z")
}
