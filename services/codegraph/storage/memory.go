// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// MemoryProvider keeps encoded snapshots in a map. Each load decodes a
// fresh copy so callers never share nodes with the provider.
//
// Thread Safety: Safe for concurrent use.
type MemoryProvider struct {
	mu    sync.RWMutex
	data  map[string][]byte
	infos map[string]SnapshotInfo
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		data:  make(map[string][]byte),
		infos: make(map[string]SnapshotInfo),
	}
}

// LoadSnapshot implements SnapshotProvider.
func (m *MemoryProvider) LoadSnapshot(ctx context.Context, repositoryID string) (*graph.SnapshotData, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	m.mu.RLock()
	b, ok := m.data[repositoryID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, repositoryID)
	}
	return Decode(b)
}

// SaveSnapshot implements SnapshotProvider.
func (m *MemoryProvider) SaveSnapshot(ctx context.Context, repositoryID string, data *graph.SnapshotData) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := ValidateRepositoryID(repositoryID); err != nil {
		return err
	}
	b, err := Encode(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[repositoryID] = b
	m.infos[repositoryID] = NewInfo(repositoryID, uuid.NewString(), data, len(b))
	return nil
}

// DeleteSnapshot implements Provider.
func (m *MemoryProvider) DeleteSnapshot(_ context.Context, repositoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, repositoryID)
	delete(m.infos, repositoryID)
	return nil
}

// ListSnapshots implements Provider.
func (m *MemoryProvider) ListSnapshots(_ context.Context) ([]SnapshotInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SnapshotInfo, 0, len(m.infos))
	for _, info := range m.infos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepositoryID < out[j].RepositoryID })
	return out, nil
}

// Close implements Provider.
func (m *MemoryProvider) Close() error { return nil }
