// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.Limits.DependencyDepth)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	yamlText := `
server:
  address: ":9999"
  log_level: debug
storage:
  backend: sqlite
  path: /tmp/cg.db
limits:
  path_depth: 12
analysis:
  entry_names: [run_app, cli]
telemetry:
  trace_exporter: none
  metric_exporter: none
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFileName), []byte(yamlText), 0o600))

	t.Run("directory", func(t *testing.T) {
		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, ":9999", cfg.Server.Address)
		assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
		assert.Equal(t, 12, cfg.Limits.PathDepth)
		// Unset keys keep their defaults.
		assert.Equal(t, 10, cfg.Limits.DataFlowDepth)
		assert.Equal(t, []string{"run_app", "cli"}, cfg.Analysis.EntryNames)
	})

	t.Run("file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(dir, DefaultFileName))
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Server.LogLevel)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(env(map[string]string{
		"CODEGRAPH_ADDR":            ":7000",
		"CODEGRAPH_STORAGE_BACKEND": "memory",
		"CODEGRAPH_CACHE_SIZE":      "64",
		"CODEGRAPH_ENTRY_NAMES":     "serve, , worker",
		"CODEGRAPH_NATS_URL":        "",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 64, cfg.Cache.Size)
	assert.Equal(t, []string{"serve", "worker"}, cfg.Analysis.EntryNames)
	assert.Empty(t, cfg.Events.NATSURL)

	err = cfg.ApplyEnv(env(map[string]string{"CODEGRAPH_CACHE_SIZE": "lots"}))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"badger without path", func(c *Config) { c.Storage.Path = "" }},
		{"negative depth", func(c *Config) { c.Limits.PathDepth = -1 }},
		{"negative cache", func(c *Config) { c.Cache.Size = -5 }},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "loud" }},
		{"bad glob", func(c *Config) { c.Ingest.Glob = "[" }},
		{"bad exporter", func(c *Config) { c.Telemetry.TraceExporter = "zipkin" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Telemetry.TraceExporter = "none"
			cfg.Telemetry.MetricExporter = "none"
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("memory needs no path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Telemetry.TraceExporter = "none"
		cfg.Storage = StorageConfig{Backend: BackendMemory}
		assert.NoError(t, cfg.Validate())
	})
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}
