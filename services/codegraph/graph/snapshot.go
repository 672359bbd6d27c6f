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
	"sort"
)

// fileGen is one committed generation of a file.
type fileGen struct {
	language string
	nodeIDs  []string
	edges    []*Edge
}

// Snapshot is an immutable, consistent view of the store.
//
// Every accessor returns data that must be treated as read-only. Slices
// returned by accessors are fresh copies unless documented otherwise.
//
// Thread Safety: Safe for concurrent use.
type Snapshot struct {
	generation uint64
	nextSeq    uint64

	nodes  map[string]*Node
	files  map[string]*fileGen
	out    map[string][]*Edge
	in     map[string][]*Edge
	byName map[string][]string
	byKind [NumNodeKinds][]string

	// pending indexes placeholder ids by referenced name.
	pending map[string][]string

	edgeCount int
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		nextSeq: 1,
		nodes:   make(map[string]*Node),
		files:   make(map[string]*fileGen),
		out:     make(map[string][]*Edge),
		in:      make(map[string][]*Edge),
		byName:  make(map[string][]string),
		pending: make(map[string][]string),
	}
}

// Generation returns the commit counter. It increases by one per commit.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// Node returns the node with the given id.
func (s *Snapshot) Node(id string) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// MustNode returns the node or ErrNodeNotFound.
func (s *Snapshot) MustNode(id string) (*Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return n, nil
}

// NodeCount returns the number of nodes, placeholders included.
func (s *Snapshot) NodeCount() int {
	return len(s.nodes)
}

// EdgeCount returns the number of stored edges.
func (s *Snapshot) EdgeCount() int {
	return s.edgeCount
}

// NodesByKind returns all non-placeholder nodes of a kind, ordered by id.
func (s *Snapshot) NodesByKind(kind NodeKind) []*Node {
	if kind < 0 || kind >= NumNodeKinds {
		return nil
	}
	return s.resolve(s.byKind[kind])
}

// NodesByName returns all non-placeholder nodes with the given name,
// ordered by id.
func (s *Snapshot) NodesByName(name string) []*Node {
	return s.resolve(s.byName[name])
}

// NodesInFile returns the nodes of a file's current generation in
// declaration order.
func (s *Snapshot) NodesInFile(file string) []*Node {
	fg, ok := s.files[file]
	if !ok {
		return nil
	}
	return s.resolve(fg.nodeIDs)
}

// EdgesInFile returns the edges declared by a file, in insertion order.
func (s *Snapshot) EdgesInFile(file string) []*Edge {
	fg, ok := s.files[file]
	if !ok {
		return nil
	}
	out := make([]*Edge, len(fg.edges))
	copy(out, fg.edges)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// HasFile reports whether the file has a committed generation.
func (s *Snapshot) HasFile(file string) bool {
	_, ok := s.files[file]
	return ok
}

// FileLanguage returns the language recorded for a file.
func (s *Snapshot) FileLanguage(file string) string {
	if fg, ok := s.files[file]; ok {
		return fg.language
	}
	return ""
}

// Files returns all file paths, sorted.
func (s *Snapshot) Files() []string {
	files := make([]string, 0, len(s.files))
	for f := range s.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// EdgesFrom returns outgoing edges of a node ordered by insertion sequence.
//
// The returned slice is shared with the snapshot and must not be modified.
func (s *Snapshot) EdgesFrom(id string) []*Edge {
	return s.out[id]
}

// EdgesTo returns incoming edges of a node ordered by insertion sequence.
//
// The returned slice is shared with the snapshot and must not be modified.
func (s *Snapshot) EdgesTo(id string) []*Edge {
	return s.in[id]
}

// Placeholders returns all placeholder nodes ordered by id.
func (s *Snapshot) Placeholders() []*Node {
	var ids []string
	for _, pids := range s.pending {
		ids = append(ids, pids...)
	}
	sort.Strings(ids)
	return s.resolve(ids)
}

// Nodes returns every node ordered by id, placeholders included.
func (s *Snapshot) Nodes() []*Node {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return s.resolve(ids)
}

// Children returns the nodes whose Parent is id, ordered by id.
func (s *Snapshot) Children(id string) []*Node {
	parent, ok := s.nodes[id]
	if !ok || parent.Placeholder {
		return nil
	}
	var out []*Node
	for _, n := range s.NodesInFile(parent.Location.File) {
		if n.Parent == id {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Snapshot) resolve(ids []string) []*Node {
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Stats summarizes a snapshot.
type Stats struct {
	Generation   uint64         `json:"generation"`
	Files        int            `json:"files"`
	Nodes        int            `json:"nodes"`
	Edges        int            `json:"edges"`
	Placeholders int            `json:"placeholders"`
	NodesByKind  map[string]int `json:"nodes_by_kind"`
	EdgesByKind  map[string]int `json:"edges_by_kind"`
	Languages    map[string]int `json:"languages"`
}

// Stats computes summary counts.
//
// Description:
//
//	Walks every node and edge once. Placeholders are counted separately and
//	excluded from NodesByKind.
//
// Outputs:
//
//	Stats - The counts. Never nil maps.
//
// Thread Safety: Safe for concurrent use.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Generation:  s.generation,
		Files:       len(s.files),
		Nodes:       len(s.nodes),
		Edges:       s.edgeCount,
		NodesByKind: make(map[string]int),
		EdgesByKind: make(map[string]int),
		Languages:   make(map[string]int),
	}
	for _, n := range s.nodes {
		if n.Placeholder {
			st.Placeholders++
			continue
		}
		st.NodesByKind[n.Kind.String()]++
	}
	for _, fg := range s.files {
		for _, e := range fg.edges {
			st.EdgesByKind[e.Kind.String()]++
		}
		if fg.language != "" {
			st.Languages[fg.language]++
		}
	}
	return st
}

// Validate checks the store invariants.
//
// Description:
//
//	Verifies that every edge endpoint exists, every index entry points at a
//	live node, and every placeholder still has at least one edge. Used by
//	tests and after Import.
//
// Outputs:
//
//	error - Wraps ErrCorruptIndex or ErrDanglingEdge on the first violation.
func (s *Snapshot) Validate() error {
	count := 0
	for file, fg := range s.files {
		for _, id := range fg.nodeIDs {
			if _, ok := s.nodes[id]; !ok {
				return FileError{File: file, Err: ErrCorruptIndex}
			}
		}
		for _, e := range fg.edges {
			count++
			if _, ok := s.nodes[e.FromID]; !ok {
				return FileError{File: file, Err: ErrDanglingEdge}
			}
			if _, ok := s.nodes[e.ToID]; !ok {
				return FileError{File: file, Err: ErrDanglingEdge}
			}
		}
	}
	if count != s.edgeCount {
		return ErrCorruptIndex
	}
	for _, ids := range s.pending {
		for _, id := range ids {
			if len(s.in[id]) == 0 && len(s.out[id]) == 0 {
				return ErrCorruptIndex
			}
		}
	}
	return nil
}
