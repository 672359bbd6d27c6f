// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storagetest is a conformance suite every storage.Provider must
// pass.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/graph/graphtest"
	"github.com/AleutianAI/codegraph/services/codegraph/storage"
)

// Factory returns a fresh, empty provider. The suite closes it.
type Factory func(t *testing.T) storage.Provider

// SampleData builds a small two-file snapshot with a placeholder.
func SampleData(t *testing.T) *graph.SnapshotData {
	t.Helper()
	f := graphtest.New(t)
	a := f.Func("a.py", "a")
	b := f.Func("b.py", "b")
	f.Calls(a, b)
	f.Calls(b, f.Placeholder("requests.get", "requests"))
	f.Commit()
	return f.Store.Export()
}

// Run executes the suite against providers from newProvider.
func Run(t *testing.T, newProvider Factory) {
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		p := newProvider(t)
		defer p.Close()

		_, err := p.LoadSnapshot(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)
		assert.Equal(t, graph.ClassNotFound, graph.Classify(err))
	})

	t.Run("save then load restores the graph", func(t *testing.T) {
		p := newProvider(t)
		defer p.Close()

		data := SampleData(t)
		require.NoError(t, p.SaveSnapshot(ctx, "repo", data))

		loaded, err := p.LoadSnapshot(ctx, "repo")
		require.NoError(t, err)
		assert.Equal(t, data.Generation, loaded.Generation)
		assert.Len(t, loaded.Nodes, len(data.Nodes))
		assert.Len(t, loaded.Edges, len(data.Edges))

		store := graph.NewStore()
		require.NoError(t, store.Import(ctx, loaded))
		snap := store.Snapshot()
		assert.Equal(t, len(data.Nodes), snap.NodeCount())
		assert.Len(t, snap.Placeholders(), 1)
		assert.NoError(t, snap.Validate())
	})

	t.Run("save replaces", func(t *testing.T) {
		p := newProvider(t)
		defer p.Close()

		first := SampleData(t)
		require.NoError(t, p.SaveSnapshot(ctx, "repo", first))
		second := &graph.SnapshotData{Generation: first.Generation + 7}
		require.NoError(t, p.SaveSnapshot(ctx, "repo", second))

		loaded, err := p.LoadSnapshot(ctx, "repo")
		require.NoError(t, err)
		assert.Equal(t, second.Generation, loaded.Generation)
		assert.Empty(t, loaded.Nodes)

		infos, err := p.ListSnapshots(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, second.Generation, infos[0].Generation)
	})

	t.Run("list is ordered by repository", func(t *testing.T) {
		p := newProvider(t)
		defer p.Close()

		data := SampleData(t)
		for _, id := range []string{"zeta", "alpha", "mid"} {
			require.NoError(t, p.SaveSnapshot(ctx, id, data))
		}

		infos, err := p.ListSnapshots(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 3)
		assert.Equal(t, "alpha", infos[0].RepositoryID)
		assert.Equal(t, "mid", infos[1].RepositoryID)
		assert.Equal(t, "zeta", infos[2].RepositoryID)
		for _, info := range infos {
			assert.NotEmpty(t, info.CheckpointID)
			assert.Equal(t, len(data.Nodes), info.Nodes)
			assert.Equal(t, len(data.Edges), info.Edges)
			assert.Equal(t, 2, info.Files)
			assert.Positive(t, info.SizeBytes)
			assert.False(t, info.SavedAt.IsZero())
		}
	})

	t.Run("delete", func(t *testing.T) {
		p := newProvider(t)
		defer p.Close()

		require.NoError(t, p.SaveSnapshot(ctx, "repo", SampleData(t)))
		require.NoError(t, p.DeleteSnapshot(ctx, "repo"))
		_, err := p.LoadSnapshot(ctx, "repo")
		assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)

		// Deleting again is fine.
		assert.NoError(t, p.DeleteSnapshot(ctx, "repo"))

		infos, err := p.ListSnapshots(ctx)
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run("invalid repository id", func(t *testing.T) {
		p := newProvider(t)
		defer p.Close()

		for _, id := range []string{"", "a/b", "a\\b"} {
			err := p.SaveSnapshot(ctx, id, SampleData(t))
			assert.ErrorIs(t, err, graph.ErrInvalidScope, "id %q", id)
		}
	})

	t.Run("nil data", func(t *testing.T) {
		p := newProvider(t)
		defer p.Close()

		err := p.SaveSnapshot(ctx, "repo", nil)
		assert.Equal(t, graph.ClassInvalidScope, graph.Classify(err))
	})
}
