// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the snapshot provider contract used for cold
// start and checkpoints, and an in-memory provider for tests.
//
// Providers are never consulted per read: a session loads one snapshot on
// open and saves one on checkpoint. Backends live in subpackages:
//
//	storage/badger - BadgerDB, the default
//	storage/sqlite - SQLite via mattn/go-sqlite3
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

var (
	// ErrSnapshotNotFound is returned when no snapshot exists for a repository.
	ErrSnapshotNotFound = fmt.Errorf("%w: snapshot", graph.ErrNotFound)

	// ErrCorruptSnapshot is returned when a stored snapshot cannot be decoded.
	ErrCorruptSnapshot = fmt.Errorf("%w: corrupt snapshot", graph.ErrInternal)
)

// SnapshotProvider loads and saves repository snapshots.
type SnapshotProvider interface {
	// LoadSnapshot returns the latest snapshot of repositoryID, or
	// ErrSnapshotNotFound.
	LoadSnapshot(ctx context.Context, repositoryID string) (*graph.SnapshotData, error)

	// SaveSnapshot replaces the stored snapshot of repositoryID.
	SaveSnapshot(ctx context.Context, repositoryID string, data *graph.SnapshotData) error
}

// Provider is a SnapshotProvider with catalog and lifecycle operations.
type Provider interface {
	SnapshotProvider

	// DeleteSnapshot removes the snapshot of repositoryID. Deleting a
	// missing snapshot is not an error.
	DeleteSnapshot(ctx context.Context, repositoryID string) error

	// ListSnapshots returns metadata for every stored snapshot, ordered by
	// repository id.
	ListSnapshots(ctx context.Context) ([]SnapshotInfo, error)

	// Close releases the backend.
	Close() error
}

// SnapshotInfo describes a stored snapshot.
type SnapshotInfo struct {
	RepositoryID string    `json:"repository_id"`
	CheckpointID string    `json:"checkpoint_id"`
	Generation   uint64    `json:"generation"`
	Files        int       `json:"files"`
	Nodes        int       `json:"nodes"`
	Edges        int       `json:"edges"`
	SavedAt      time.Time `json:"saved_at"`
	SizeBytes    int       `json:"size_bytes"`
}

// NewInfo builds the metadata record for data.
func NewInfo(repositoryID, checkpointID string, data *graph.SnapshotData, size int) SnapshotInfo {
	return SnapshotInfo{
		RepositoryID: repositoryID,
		CheckpointID: checkpointID,
		Generation:   data.Generation,
		Files:        len(data.Files),
		Nodes:        len(data.Nodes),
		Edges:        len(data.Edges),
		SavedAt:      time.Now().UTC(),
		SizeBytes:    size,
	}
}

// Encode serializes snapshot data.
func Encode(data *graph.SnapshotData) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil snapshot data", graph.ErrInvalidBatch)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Decode deserializes snapshot data.
func Decode(b []byte) (*graph.SnapshotData, error) {
	var data graph.SnapshotData
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot: %v", ErrCorruptSnapshot, err)
	}
	return &data, nil
}

// ValidateRepositoryID rejects ids that cannot be used as storage keys.
func ValidateRepositoryID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty repository id", graph.ErrInvalidScope)
	}
	for _, r := range id {
		if r == '/' || r == 0 || r == '\\' {
			return fmt.Errorf("%w: repository id %q contains %q", graph.ErrInvalidScope, id, r)
		}
	}
	return nil
}
