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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/codegraph/services/codegraph/config"
	"github.com/AleutianAI/codegraph/services/codegraph/storage"
	"github.com/AleutianAI/codegraph/services/codegraph/storage/badger"
	"github.com/AleutianAI/codegraph/services/codegraph/storage/sqlite"
)

// NewProvider opens the snapshot backend selected by cfg.
//
// Inputs:
//
//	cfg - Storage configuration. Backend "memory" ignores Path.
//
// Outputs:
//
//	storage.Provider - The open backend. The caller must Close it.
//	error - Unknown backend or open failure.
func NewProvider(cfg config.StorageConfig) (storage.Provider, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemoryProvider(), nil

	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "." && cfg.Path != sqlite.MemoryDSN {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		p, err := sqlite.NewProvider(cfg.Path)
		if err != nil {
			return nil, err
		}
		return p, nil

	case config.BackendBadger, "":
		bcfg := badger.DefaultConfig()
		bcfg.Path = cfg.Path
		bcfg.Logger = slog.Default()
		p, err := badger.NewProvider(bcfg)
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}
