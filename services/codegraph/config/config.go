// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the CodeGraph service configuration from YAML with
// environment overrides.
//
// Thread Safety:
//
//	Config is a plain value. Load and DefaultConfig are safe for concurrent
//	use.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/codegraph/services/codegraph/telemetry"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxYAMLFileSize is the maximum allowed config file size (1MB).
	MaxYAMLFileSize = 1024 * 1024

	// DefaultFileName is the file Load looks for when given a directory.
	DefaultFileName = "codegraph.yaml"
)

// Storage backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// =============================================================================
// Types
// =============================================================================

// Config is the root of codegraph.yaml.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Storage   StorageConfig    `yaml:"storage"`
	Limits    LimitsConfig     `yaml:"limits"`
	Cache     CacheConfig      `yaml:"cache"`
	Builder   BuilderConfig    `yaml:"builder"`
	Ingest    IngestConfig     `yaml:"ingest"`
	Events    EventsConfig     `yaml:"events"`
	Analysis  AnalysisConfig   `yaml:"analysis"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener and logging.
type ServerConfig struct {
	Address  string `yaml:"address"`
	LogLevel string `yaml:"log_level"`
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	// Backend is "badger", "sqlite" or "memory".
	Backend string `yaml:"backend"`

	// Path is the badger directory or the sqlite database file.
	Path string `yaml:"path"`

	// CheckpointOnClose saves a snapshot when a session closes.
	CheckpointOnClose bool `yaml:"checkpoint_on_close"`
}

// LimitsConfig holds the default hop budgets. Requests may ask for more,
// up to the traversal ceiling.
type LimitsConfig struct {
	PathDepth       int `yaml:"path_depth"`
	DependencyDepth int `yaml:"dependency_depth"`
	DataFlowDepth   int `yaml:"data_flow_depth"`
	SearchLimit     int `yaml:"search_limit"`
}

// CacheConfig sizes the response cache. Size 0 disables it.
type CacheConfig struct {
	Size int `yaml:"size"`
}

// BuilderConfig configures the incremental builder.
type BuilderConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// IngestConfig configures the event-file watcher. An empty WatchDir
// disables it.
type IngestConfig struct {
	WatchDir   string `yaml:"watch_dir"`
	Glob       string `yaml:"glob"`
	Repository string `yaml:"repository"`
}

// EventsConfig configures change notifications. An empty NATSURL disables
// them.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// AnalysisConfig holds analyzer tunables.
type AnalysisConfig struct {
	// EntryNames are extra function names treated as program entry points.
	EntryNames []string `yaml:"entry_names"`
}

// =============================================================================
// Loading
// =============================================================================

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:  ":8090",
			LogLevel: "info",
		},
		Storage: StorageConfig{
			Backend:           BackendBadger,
			Path:              filepath.Join(".codegraph", "snapshots"),
			CheckpointOnClose: true,
		},
		Limits: LimitsConfig{
			PathDepth:       10,
			DependencyDepth: 5,
			DataFlowDepth:   10,
			SearchLimit:     50,
		},
		Cache: CacheConfig{Size: 1024},
		Ingest: IngestConfig{
			Glob: "**/*.events.json",
		},
		Events: EventsConfig{
			SubjectPrefix: "codegraph",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads path over DefaultConfig, applies CODEGRAPH_* environment
// overrides and validates the result. An empty path skips the file.
//
// Inputs:
//
//	path - YAML file, a directory containing codegraph.yaml, or "".
//
// Outputs:
//
//	Config - The effective configuration.
//	error - Read, parse, or validation failure.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := readYAML(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func readYAML(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		path = filepath.Join(path, DefaultFileName)
		if info, err = os.Stat(path); err != nil {
			return nil, fmt.Errorf("stat config: %w", err)
		}
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxYAMLFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return data, nil
}

// ApplyEnv overrides selected keys from the environment. lookup is
// os.LookupEnv outside tests.
//
//	CODEGRAPH_ADDR             server.address
//	CODEGRAPH_LOG_LEVEL        server.log_level
//	CODEGRAPH_STORAGE_BACKEND  storage.backend
//	CODEGRAPH_STORAGE_PATH     storage.path
//	CODEGRAPH_CACHE_SIZE       cache.size
//	CODEGRAPH_CONCURRENCY      builder.concurrency
//	CODEGRAPH_WATCH_DIR        ingest.watch_dir
//	CODEGRAPH_NATS_URL         events.nats_url
//	CODEGRAPH_ENTRY_NAMES      analysis.entry_names (comma separated)
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
		}
		*dst = n
		return nil
	}

	str("CODEGRAPH_ADDR", &c.Server.Address)
	str("CODEGRAPH_LOG_LEVEL", &c.Server.LogLevel)
	str("CODEGRAPH_STORAGE_BACKEND", &c.Storage.Backend)
	str("CODEGRAPH_STORAGE_PATH", &c.Storage.Path)
	str("CODEGRAPH_WATCH_DIR", &c.Ingest.WatchDir)
	str("CODEGRAPH_NATS_URL", &c.Events.NATSURL)
	if err := num("CODEGRAPH_CACHE_SIZE", &c.Cache.Size); err != nil {
		return err
	}
	if err := num("CODEGRAPH_CONCURRENCY", &c.Builder.Concurrency); err != nil {
		return err
	}
	if v, ok := lookup("CODEGRAPH_ENTRY_NAMES"); ok && v != "" {
		c.Analysis.EntryNames = nil
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.Analysis.EntryNames = append(c.Analysis.EntryNames, name)
			}
		}
	}
	return nil
}

// Validate checks the configuration for values the service cannot run
// with.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if _, err := ParseLevel(c.Server.LogLevel); err != nil {
		fail("server.log_level: %v", err)
	}
	switch c.Storage.Backend {
	case BackendBadger, BackendSQLite:
		if c.Storage.Path == "" {
			fail("storage.path is required for backend %q", c.Storage.Backend)
		}
	case BackendMemory:
	default:
		fail("storage.backend %q (want badger, sqlite or memory)", c.Storage.Backend)
	}
	for name, v := range map[string]int{
		"limits.path_depth":       c.Limits.PathDepth,
		"limits.dependency_depth": c.Limits.DependencyDepth,
		"limits.data_flow_depth":  c.Limits.DataFlowDepth,
		"limits.search_limit":     c.Limits.SearchLimit,
	} {
		if v < 0 {
			fail("%s must not be negative, got %d", name, v)
		}
	}
	if c.Cache.Size < 0 {
		fail("cache.size must not be negative, got %d", c.Cache.Size)
	}
	if c.Builder.Concurrency < 0 {
		fail("builder.concurrency must not be negative, got %d", c.Builder.Concurrency)
	}
	if c.Ingest.Glob != "" && !doublestar.ValidatePattern(c.Ingest.Glob) {
		fail("ingest.glob %q is not a valid pattern", c.Ingest.Glob)
	}
	if err := c.Telemetry.Validate(); err != nil {
		fail("telemetry: %v", err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
