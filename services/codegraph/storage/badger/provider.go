// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/storage"
)

const (
	snapPrefix = "cg/snap/"
	metaPrefix = "cg/meta/"
)

// Provider is a storage.Provider backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Provider struct {
	db *db
}

var _ storage.Provider = (*Provider)(nil)

// NewProvider opens a BadgerDB with cfg and returns a provider over it.
func NewProvider(cfg Config) (*Provider, error) {
	d, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{db: d}, nil
}

// NewInMemoryProvider returns a provider over an in-memory database.
func NewInMemoryProvider() (*Provider, error) {
	return NewProvider(InMemoryConfig())
}

// LoadSnapshot implements storage.SnapshotProvider.
func (p *Provider) LoadSnapshot(ctx context.Context, repositoryID string) (*graph.SnapshotData, error) {
	var raw []byte
	err := p.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapPrefix + repositoryID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", storage.ErrSnapshotNotFound, repositoryID)
		}
		if err != nil {
			return fmt.Errorf("read snapshot %s: %w", repositoryID, err)
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return storage.Decode(raw)
}

// SaveSnapshot implements storage.SnapshotProvider. Data and metadata are
// written in one transaction.
func (p *Provider) SaveSnapshot(ctx context.Context, repositoryID string, data *graph.SnapshotData) error {
	if err := storage.ValidateRepositoryID(repositoryID); err != nil {
		return err
	}
	raw, err := storage.Encode(data)
	if err != nil {
		return err
	}
	info := storage.NewInfo(repositoryID, uuid.NewString(), data, len(raw))
	meta, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode snapshot info: %w", err)
	}

	err = p.db.withTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte(snapPrefix+repositoryID), raw); err != nil {
			return err
		}
		return txn.Set([]byte(metaPrefix+repositoryID), meta)
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", repositoryID, err)
	}
	slog.Debug("snapshot saved to badger",
		slog.String("repository", repositoryID),
		slog.String("checkpoint_id", info.CheckpointID),
		slog.Int("bytes", len(raw)),
	)
	return nil
}

// DeleteSnapshot implements storage.Provider.
func (p *Provider) DeleteSnapshot(ctx context.Context, repositoryID string) error {
	return p.db.withTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(snapPrefix + repositoryID)); err != nil {
			return err
		}
		return txn.Delete([]byte(metaPrefix + repositoryID))
	})
}

// ListSnapshots implements storage.Provider. Badger iterates keys in
// byte order, so results are ordered by repository id.
func (p *Provider) ListSnapshots(ctx context.Context) ([]storage.SnapshotInfo, error) {
	var out []storage.SnapshotInfo
	err := p.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var info storage.SnapshotInfo
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			})
			if err != nil {
				return fmt.Errorf("%w: snapshot info %s: %v", storage.ErrCorruptSnapshot,
					strings.TrimPrefix(string(item.Key()), metaPrefix), err)
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

// Close implements storage.Provider.
func (p *Provider) Close() error {
	return p.db.close()
}
