// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/storage"
	"github.com/AleutianAI/codegraph/services/codegraph/storage/storagetest"
)

func TestProvider_Memory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Provider {
		p, err := NewProvider(MemoryDSN)
		require.NoError(t, err)
		return p
	})
}

func TestProvider_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshots.db")

	p, err := NewProvider(path)
	require.NoError(t, err)
	data := storagetest.SampleData(t)
	require.NoError(t, p.SaveSnapshot(ctx, "repo", data))
	require.NoError(t, p.Close())

	reopened, err := NewProvider(path)
	require.NoError(t, err)
	defer reopened.Close()

	infos, err := reopened.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, data.Generation, infos[0].Generation)

	loaded, err := reopened.LoadSnapshot(ctx, "repo")
	require.NoError(t, err)
	assert.Len(t, loaded.Edges, len(data.Edges))
}

func TestNewProvider_EmptyDSN(t *testing.T) {
	_, err := NewProvider("")
	assert.Error(t, err)
}
