// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphtest builds small graphs for tests.
//
// Example:
//
//	f := graphtest.New(t)
//	x := f.Func("a.py", "x")
//	y := f.Func("a.py", "y")
//	f.Calls(x, y)
//	snap := f.Commit()
package graphtest

import (
	"context"
	"testing"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Fixture accumulates per-file batches and commits them to a store.
type Fixture struct {
	t      testing.TB
	Store  *graph.Store
	order  []string
	files  map[string]*graph.FileBatch
	cursor map[string]int
}

// New creates an empty fixture.
func New(t testing.TB) *Fixture {
	return &Fixture{
		t:      t,
		Store:  graph.NewStore(graph.WithStoreName(t.Name())),
		files:  make(map[string]*graph.FileBatch),
		cursor: make(map[string]int),
	}
}

func (f *Fixture) batch(file string) *graph.FileBatch {
	b, ok := f.files[file]
	if !ok {
		b = &graph.FileBatch{File: file, Language: "python"}
		f.files[file] = b
		f.order = append(f.order, file)
	}
	return b
}

// Node adds a node with an automatically assigned span.
func (f *Fixture) Node(file string, kind graph.NodeKind, name string, md map[string]any) *graph.Node {
	start := f.cursor[file]
	f.cursor[file] = start + 100
	loc := graph.Location{
		File:      file,
		StartByte: start + 1,
		EndByte:   start + 90,
		StartLine: start/10 + 1,
		EndLine:   start/10 + 9,
	}
	n := &graph.Node{
		ID:       graph.NodeID(loc, kind),
		Kind:     kind,
		Name:     name,
		Location: loc,
		Language: "python",
		Metadata: md,
	}
	b := f.batch(file)
	b.Nodes = append(b.Nodes, n)
	return n
}

// Func adds a function node.
func (f *Fixture) Func(file, name string) *graph.Node {
	return f.Node(file, graph.NodeKindFunction, name, nil)
}

// Class adds a class node.
func (f *Fixture) Class(file, name string) *graph.Node {
	return f.Node(file, graph.NodeKindClass, name, nil)
}

// Var adds a variable node.
func (f *Fixture) Var(file, name string) *graph.Node {
	return f.Node(file, graph.NodeKindVariable, name, nil)
}

// Child sets parent as the enclosing node of n.
func (f *Fixture) Child(parent, n *graph.Node) *graph.Node {
	n.Parent = parent.ID
	return n
}

// Placeholder returns a placeholder node. It is added to the batch of the
// first edge that uses it.
func (f *Fixture) Placeholder(name, hint string) *graph.Node {
	return graph.NewPlaceholder(name, hint)
}

// Edge adds an edge owned by the source node's file (or the target's when
// the source is a placeholder).
func (f *Fixture) Edge(from, to *graph.Node, kind graph.EdgeKind, md map[string]any) *graph.Edge {
	owner := from.Location.File
	if from.Placeholder {
		owner = to.Location.File
	}
	b := f.batch(owner)
	for _, p := range []*graph.Node{from, to} {
		if p.Placeholder && !contains(b.Nodes, p.ID) {
			b.Nodes = append(b.Nodes, p)
		}
	}
	e := &graph.Edge{FromID: from.ID, ToID: to.ID, Kind: kind, Metadata: md}
	b.Edges = append(b.Edges, e)
	return e
}

// Calls adds a Calls edge.
func (f *Fixture) Calls(from, to *graph.Node) *graph.Edge {
	return f.Edge(from, to, graph.EdgeKindCalls, nil)
}

// Extends adds an Extends edge with the given base position.
func (f *Fixture) Extends(sub, base *graph.Node, position int) *graph.Edge {
	return f.Edge(sub, base, graph.EdgeKindExtends, map[string]any{graph.MetaPosition: position})
}

// Commit upserts every file and returns the snapshot. Nodes of all files
// are committed first so edges may point across files in any order.
func (f *Fixture) Commit() *graph.Snapshot {
	f.t.Helper()
	ctx := context.Background()

	for _, file := range f.order {
		b := f.files[file]
		nodesOnly := &graph.FileBatch{File: b.File, Language: b.Language}
		for _, n := range b.Nodes {
			if !n.Placeholder {
				nodesOnly.Nodes = append(nodesOnly.Nodes, n)
			}
		}
		if _, err := f.Store.UpsertFile(ctx, nodesOnly); err != nil {
			f.t.Fatalf("graphtest: commit %s nodes: %v", file, err)
		}
	}
	for _, file := range f.order {
		if _, err := f.Store.UpsertFile(ctx, f.files[file]); err != nil {
			f.t.Fatalf("graphtest: commit %s: %v", file, err)
		}
	}
	return f.Store.Snapshot()
}

func contains(nodes []*graph.Node, id string) bool {
	for _, n := range nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
