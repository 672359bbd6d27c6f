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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/storage"
	"github.com/AleutianAI/codegraph/services/codegraph/storage/storagetest"
)

func TestProvider_InMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Provider {
		p, err := NewInMemoryProvider()
		require.NoError(t, err)
		return p
	})
}

func TestProvider_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Path = dir
	p, err := NewProvider(cfg)
	require.NoError(t, err)

	data := storagetest.SampleData(t)
	require.NoError(t, p.SaveSnapshot(ctx, "repo", data))
	require.NoError(t, p.Close())

	reopened, err := NewProvider(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadSnapshot(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, data.Generation, loaded.Generation)
	assert.Len(t, loaded.Nodes, len(data.Nodes))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := NewProvider(Config{})
	assert.Error(t, err)
}

func TestGCRunner(t *testing.T) {
	bdb, err := open(InMemoryConfig())
	require.NoError(t, err)
	defer bdb.Close()

	t.Run("validates arguments", func(t *testing.T) {
		_, err := newGCRunner(bdb, 0, 0.5, nil)
		assert.Error(t, err)
		_, err = newGCRunner(bdb, time.Second, 1.5, nil)
		assert.Error(t, err)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		r, err := newGCRunner(bdb, time.Hour, 0.5, nil)
		require.NoError(t, err)
		r.stop()
		r.stop()
	})
}

func TestWithTxn_Cancelled(t *testing.T) {
	d, err := openDB(InMemoryConfig())
	require.NoError(t, err)
	defer d.close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = d.withTxn(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	err = d.withReadTxn(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
