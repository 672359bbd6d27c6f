// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFunc(file, name string, start int) *Node {
	return &Node{
		ID:       GenerateID(file, start, start+10, NodeKindFunction),
		Kind:     NodeKindFunction,
		Name:     name,
		Language: "python",
		Location: Location{
			File:      file,
			StartByte: start,
			EndByte:   start + 10,
			StartLine: start/10 + 1,
			EndLine:   start/10 + 2,
		},
	}
}

func testCall(from, to string) *Edge {
	return &Edge{FromID: from, ToID: to, Kind: EdgeKindCalls}
}

func mustUpsert(t *testing.T, s *Store, b *FileBatch) CommitResult {
	t.Helper()
	res, err := s.UpsertFile(context.Background(), b)
	require.NoError(t, err)
	return res
}

func TestStore_UpsertAndRead(t *testing.T) {
	s := NewStore(WithStoreName("test"))
	foo := testFunc("a.py", "foo", 0)
	bar := testFunc("a.py", "bar", 20)

	res := mustUpsert(t, s, &FileBatch{
		File:     "a.py",
		Language: "python",
		Nodes:    []*Node{foo, bar},
		Edges:    []*Edge{testCall(foo.ID, bar.ID)},
	})
	assert.Equal(t, 2, res.NodesAdded)
	assert.Equal(t, 1, res.EdgesAdded)
	assert.Equal(t, uint64(1), res.Generation)

	snap := s.Snapshot()
	got, ok := snap.Node(foo.ID)
	require.True(t, ok)
	assert.Equal(t, "foo", got.Name)
	assert.Len(t, snap.NodesByKind(NodeKindFunction), 2)
	assert.Len(t, snap.NodesByName("bar"), 1)
	assert.Len(t, snap.NodesInFile("a.py"), 2)
	require.Len(t, snap.EdgesFrom(foo.ID), 1)
	assert.Equal(t, "a.py", snap.EdgesFrom(foo.ID)[0].File)
	require.Len(t, snap.EdgesTo(bar.ID), 1)
	assert.Equal(t, []string{"a.py"}, snap.Files())
	assert.Equal(t, "python", snap.FileLanguage("a.py"))
	assert.NoError(t, snap.Validate())

	st := snap.Stats()
	assert.Equal(t, 2, st.NodesByKind["function"])
	assert.Equal(t, 1, st.EdgesByKind["calls"])
	assert.Equal(t, 1, st.Languages["python"])
}

func TestStore_RejectsDanglingEdge(t *testing.T) {
	s := NewStore()
	foo := testFunc("a.py", "foo", 0)

	_, err := s.UpsertFile(context.Background(), &FileBatch{
		File:  "a.py",
		Nodes: []*Node{foo},
		Edges: []*Edge{testCall(foo.ID, "b.py:0-10:function")},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDanglingEdge))
	assert.Equal(t, ClassInvalidScope, Classify(err))

	var fe FileError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "a.py", fe.File)

	snap := s.Snapshot()
	assert.Equal(t, uint64(0), snap.Generation())
	assert.Equal(t, 0, snap.NodeCount())
}

func TestStore_RejectsDuplicateAndForeignNodes(t *testing.T) {
	s := NewStore()
	foo := testFunc("a.py", "foo", 0)

	_, err := s.UpsertFile(context.Background(), &FileBatch{File: "a.py", Nodes: []*Node{foo, foo}})
	assert.ErrorIs(t, err, ErrDuplicateNode)

	_, err = s.UpsertFile(context.Background(), &FileBatch{File: "b.py", Nodes: []*Node{foo}})
	assert.ErrorIs(t, err, ErrForeignNode)

	_, err = s.UpsertFile(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestStore_OldGenerationDoesNotSatisfyEdges(t *testing.T) {
	s := NewStore()
	foo := testFunc("a.py", "foo", 0)
	bar := testFunc("a.py", "bar", 20)
	mustUpsert(t, s, &FileBatch{File: "a.py", Nodes: []*Node{foo, bar}})

	// bar is gone from the new generation, so an edge to it dangles.
	_, err := s.UpsertFile(context.Background(), &FileBatch{
		File:  "a.py",
		Nodes: []*Node{foo},
		Edges: []*Edge{testCall(foo.ID, bar.ID)},
	})
	assert.ErrorIs(t, err, ErrDanglingEdge)
	assert.Len(t, s.Snapshot().NodesInFile("a.py"), 2)
}

func TestStore_IdempotentReparse(t *testing.T) {
	s := NewStore()
	batch := func() *FileBatch {
		foo := testFunc("a.py", "foo", 0)
		bar := testFunc("a.py", "bar", 20)
		return &FileBatch{
			File:  "a.py",
			Nodes: []*Node{foo, bar},
			Edges: []*Edge{testCall(foo.ID, bar.ID), testCall(bar.ID, foo.ID)},
		}
	}

	mustUpsert(t, s, batch())
	first := s.Snapshot().EdgesInFile("a.py")

	mustUpsert(t, s, batch())
	second := s.Snapshot().EdgesInFile("a.py")

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].FromID, second[i].FromID)
		assert.Equal(t, first[i].ToID, second[i].ToID)
		assert.Equal(t, first[i].Seq, second[i].Seq)
	}
	assert.Equal(t, 2, s.Snapshot().EdgeCount())
	assert.NoError(t, s.Snapshot().Validate())
}

func TestStore_DuplicateEdgesInBatchCollapse(t *testing.T) {
	s := NewStore()
	foo := testFunc("a.py", "foo", 0)
	bar := testFunc("a.py", "bar", 20)
	mustUpsert(t, s, &FileBatch{
		File:  "a.py",
		Nodes: []*Node{foo, bar},
		Edges: []*Edge{testCall(foo.ID, bar.ID), testCall(foo.ID, bar.ID)},
	})
	assert.Equal(t, 1, s.Snapshot().EdgeCount())
}

func TestStore_RemoveFileRetargetsToPlaceholder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	bar := testFunc("b.py", "bar", 0)
	mustUpsert(t, s, &FileBatch{File: "b.py", Nodes: []*Node{bar}})

	foo := testFunc("a.py", "foo", 0)
	mustUpsert(t, s, &FileBatch{
		File:  "a.py",
		Nodes: []*Node{foo},
		Edges: []*Edge{testCall(foo.ID, bar.ID)},
	})

	res, err := s.RemoveFile(ctx, "b.py")
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Equal(t, 1, res.Retargeted)

	snap := s.Snapshot()
	assert.False(t, snap.HasFile("b.py"))
	edges := snap.EdgesFrom(foo.ID)
	require.Len(t, edges, 1, "edge must not be dropped")
	assert.Equal(t, PlaceholderID("bar", "b.py"), edges[0].ToID)
	p, ok := snap.Node(edges[0].ToID)
	require.True(t, ok)
	assert.True(t, p.Placeholder)
	assert.NoError(t, snap.Validate())

	// Indexing b.py again rebinds the edge and collects the placeholder.
	bar2 := testFunc("b.py", "bar", 40)
	res = mustUpsert(t, s, &FileBatch{File: "b.py", Nodes: []*Node{bar2}})
	assert.Equal(t, 1, res.PlaceholdersResolved)

	snap = s.Snapshot()
	edges = snap.EdgesFrom(foo.ID)
	require.Len(t, edges, 1)
	assert.Equal(t, bar2.ID, edges[0].ToID)
	assert.Empty(t, snap.Placeholders())
	assert.NoError(t, snap.Validate())

	_, err = s.RemoveFile(ctx, "missing.py")
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.Equal(t, ClassNotFound, Classify(err))
}

func TestStore_SpanChangeRebindsForeignEdges(t *testing.T) {
	s := NewStore()
	bar := testFunc("b.py", "bar", 0)
	mustUpsert(t, s, &FileBatch{File: "b.py", Nodes: []*Node{bar}})
	foo := testFunc("a.py", "foo", 0)
	mustUpsert(t, s, &FileBatch{File: "a.py", Nodes: []*Node{foo}, Edges: []*Edge{testCall(foo.ID, bar.ID)}})

	moved := testFunc("b.py", "bar", 100)
	mustUpsert(t, s, &FileBatch{File: "b.py", Nodes: []*Node{moved}})

	snap := s.Snapshot()
	_, stale := snap.Node(bar.ID)
	assert.False(t, stale)
	edges := snap.EdgesTo(moved.ID)
	require.Len(t, edges, 1)
	assert.Equal(t, foo.ID, edges[0].FromID)
	assert.Empty(t, snap.Placeholders())
}

func TestStore_PendingPlaceholderResolvesOnLaterFile(t *testing.T) {
	s := NewStore()
	foo := testFunc("a.py", "foo", 0)
	p := NewPlaceholder("bar", "")
	mustUpsert(t, s, &FileBatch{
		File:  "a.py",
		Nodes: []*Node{foo, p},
		Edges: []*Edge{testCall(foo.ID, p.ID)},
	})
	require.Len(t, s.Snapshot().Placeholders(), 1)

	// A variable named bar is not callable and must not capture the call.
	v := &Node{
		ID:       GenerateID("c.py", 0, 3, NodeKindVariable),
		Kind:     NodeKindVariable,
		Name:     "bar",
		Location: Location{File: "c.py", StartByte: 0, EndByte: 3},
	}
	mustUpsert(t, s, &FileBatch{File: "c.py", Nodes: []*Node{v}})
	require.Len(t, s.Snapshot().Placeholders(), 1)

	bar := testFunc("b.py", "bar", 0)
	mustUpsert(t, s, &FileBatch{File: "b.py", Nodes: []*Node{bar}})

	snap := s.Snapshot()
	edges := snap.EdgesFrom(foo.ID)
	require.Len(t, edges, 1)
	assert.Equal(t, bar.ID, edges[0].ToID)
	assert.Empty(t, snap.Placeholders())
	assert.Equal(t, 1, snap.EdgeCount())
}

func TestStore_ConcurrentReadersSeeWholeGenerations(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	const width = 20
	genBatch := func(gen int) *FileBatch {
		b := &FileBatch{File: "a.py"}
		for i := 0; i < width; i++ {
			n := testFunc("a.py", fmt.Sprintf("f%d", i), i*20)
			n.Metadata = map[string]any{"gen": gen}
			b.Nodes = append(b.Nodes, n)
		}
		return b
	}
	other := testFunc("b.py", "stable", 0)
	mustUpsert(t, s, &FileBatch{File: "b.py", Nodes: []*Node{other}})
	mustUpsert(t, s, genBatch(0))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for gen := 1; gen <= 200; gen++ {
			err := s.WithFileLock("a.py", func() error {
				_, err := s.UpsertFile(ctx, genBatch(gen))
				return err
			})
			if err != nil {
				t.Errorf("upsert: %v", err)
				return
			}
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				nodes := snap.NodesInFile("a.py")
				if len(nodes) != width {
					t.Errorf("saw %d nodes, want %d", len(nodes), width)
					return
				}
				want := nodes[0].Metadata["gen"]
				for _, n := range nodes {
					if n.Metadata["gen"] != want {
						t.Errorf("mixed generations %v and %v", want, n.Metadata["gen"])
						return
					}
				}
				if _, ok := snap.Node(other.ID); !ok {
					t.Error("unrelated file disappeared")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestStore_ExportImport(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	foo := testFunc("a.py", "foo", 0)
	p := NewPlaceholder("print", "")
	mustUpsert(t, s, &FileBatch{
		File:     "a.py",
		Language: "python",
		Nodes:    []*Node{foo, p},
		Edges:    []*Edge{testCall(foo.ID, p.ID)},
	})

	data := s.Export()
	assert.Len(t, data.Nodes, 2)
	assert.Len(t, data.Edges, 1)

	restored := NewStore()
	require.NoError(t, restored.Import(ctx, data))
	snap := restored.Snapshot()
	assert.Equal(t, data.Generation, snap.Generation())
	assert.Equal(t, "python", snap.FileLanguage("a.py"))
	assert.Len(t, snap.Placeholders(), 1)
	require.Len(t, snap.EdgesFrom(foo.ID), 1)

	// New edges continue the sequence.
	bar := testFunc("a.py", "bar", 20)
	mustUpsert(t, restored, &FileBatch{
		File:  "a.py",
		Nodes: []*Node{foo, bar},
		Edges: []*Edge{testCall(foo.ID, bar.ID)},
	})
	edges := restored.Snapshot().EdgesFrom(foo.ID)
	require.Len(t, edges, 1)
	assert.Greater(t, edges[0].Seq, data.Edges[0].Seq)

	bad := &SnapshotData{Edges: []*Edge{testCall("x", "y")}}
	assert.ErrorIs(t, NewStore().Import(ctx, bad), ErrDanglingEdge)
}

func TestStore_CommitHook(t *testing.T) {
	var got []CommitResult
	s := NewStore(WithCommitHook(func(_ context.Context, res CommitResult) {
		got = append(got, res)
	}))
	mustUpsert(t, s, &FileBatch{File: "a.py", Nodes: []*Node{testFunc("a.py", "foo", 0)}})
	_, err := s.RemoveFile(context.Background(), "a.py")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "a.py", got[0].File)
	assert.False(t, got[0].Removed)
	assert.True(t, got[1].Removed)
	assert.Equal(t, uint64(2), got[1].Generation)
}

func TestMatchesFileHint(t *testing.T) {
	tests := []struct {
		file, hint string
		want       bool
	}{
		{"b.py", "", true},
		{"b.py", "b.py", true},
		{"src/pkg/b.py", "pkg/b.py", true},
		{"src/pkg/b.py", "b", true},
		{"src/pkg/b.py", "pkg.b", true},
		{"src/pkg/__init__.py", "pkg", true},
		{"src/pkg/b.py", "c", false},
		{"src/pkgb.py", "b.py", false},
	}
	for _, tt := range tests {
		t.Run(tt.file+"|"+tt.hint, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesFileHint(tt.file, tt.hint))
		})
	}
}

func TestParseKinds(t *testing.T) {
	k, err := ParseEdgeKind("RoutesTo")
	require.NoError(t, err)
	assert.Equal(t, EdgeKindRoutesTo, k)

	_, err = ParseEdgeKind("bogus")
	assert.ErrorIs(t, err, ErrInvalidScope)

	nk, err := ParseNodeKind("SqlQuery")
	require.NoError(t, err)
	assert.Equal(t, NodeKindSQLQuery, nk)

	kinds, err := ParseEdgeKinds([]string{"calls", " ", "imports"})
	require.NoError(t, err)
	assert.Equal(t, []EdgeKind{EdgeKindCalls, EdgeKindImports}, kinds)
}
