// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite stores graph snapshots in a SQLite database through
// database/sql and the mattn/go-sqlite3 driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/storage"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    repository_id TEXT PRIMARY KEY,
    checkpoint_id TEXT NOT NULL,
    generation INTEGER NOT NULL,
    files INTEGER NOT NULL,
    nodes INTEGER NOT NULL,
    edges INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    saved_at INTEGER NOT NULL,
    data BLOB NOT NULL
);
`

const upsertSnapshot = `
INSERT INTO snapshots (repository_id, checkpoint_id, generation, files, nodes, edges, size_bytes, saved_at, data)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(repository_id) DO UPDATE SET
    checkpoint_id = excluded.checkpoint_id,
    generation = excluded.generation,
    files = excluded.files,
    nodes = excluded.nodes,
    edges = excluded.edges,
    size_bytes = excluded.size_bytes,
    saved_at = excluded.saved_at,
    data = excluded.data
`

// Provider is a storage.Provider backed by SQLite.
//
// Thread Safety: Safe for concurrent use; database/sql serializes access
// to the single connection.
type Provider struct {
	db *sql.DB
}

var _ storage.Provider = (*Provider)(nil)

// NewProvider opens (creating if needed) the database at dsn. Use
// MemoryDSN for a throwaway database.
func NewProvider(dsn string) (*Provider, error) {
	if dsn == "" {
		return nil, errors.New("sqlite: dsn is required")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Every connection to ":memory:" is its own database, and SQLite
	// allows one writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &Provider{db: db}, nil
}

// LoadSnapshot implements storage.SnapshotProvider.
func (p *Provider) LoadSnapshot(ctx context.Context, repositoryID string) (*graph.SnapshotData, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots WHERE repository_id = ?`, repositoryID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrSnapshotNotFound, repositoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", repositoryID, err)
	}
	return storage.Decode(raw)
}

// SaveSnapshot implements storage.SnapshotProvider.
func (p *Provider) SaveSnapshot(ctx context.Context, repositoryID string, data *graph.SnapshotData) error {
	if err := storage.ValidateRepositoryID(repositoryID); err != nil {
		return err
	}
	raw, err := storage.Encode(data)
	if err != nil {
		return err
	}
	info := storage.NewInfo(repositoryID, uuid.NewString(), data, len(raw))
	_, err = p.db.ExecContext(ctx, upsertSnapshot,
		info.RepositoryID, info.CheckpointID, int64(info.Generation),
		info.Files, info.Nodes, info.Edges, info.SizeBytes,
		info.SavedAt.UnixNano(), raw,
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", repositoryID, err)
	}
	return nil
}

// DeleteSnapshot implements storage.Provider.
func (p *Provider) DeleteSnapshot(ctx context.Context, repositoryID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM snapshots WHERE repository_id = ?`, repositoryID); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", repositoryID, err)
	}
	return nil
}

// ListSnapshots implements storage.Provider.
func (p *Provider) ListSnapshots(ctx context.Context) ([]storage.SnapshotInfo, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT repository_id, checkpoint_id, generation, files, nodes, edges, size_bytes, saved_at
FROM snapshots ORDER BY repository_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []storage.SnapshotInfo
	for rows.Next() {
		var (
			info    storage.SnapshotInfo
			gen     int64
			savedAt int64
		)
		if err := rows.Scan(&info.RepositoryID, &info.CheckpointID, &gen,
			&info.Files, &info.Nodes, &info.Edges, &info.SizeBytes, &savedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		info.Generation = uint64(gen)
		info.SavedAt = time.Unix(0, savedAt).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close implements storage.Provider.
func (p *Provider) Close() error {
	return p.db.Close()
}
