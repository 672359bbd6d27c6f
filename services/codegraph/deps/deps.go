// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deps computes direct and transitive dependencies of a node and
// reports the cycles found inside the transitive closure.
package deps

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/traverse"
)

// DirectDependency is one distinct target of a node's outgoing edges.
type DirectDependency struct {
	NodeID   string           `json:"node_id"`
	Name     string           `json:"name"`
	NodeKind graph.NodeKind   `json:"node_kind"`
	Kinds    []graph.EdgeKind `json:"edge_kinds"`

	// Location is where the first edge to this target occurs.
	Location graph.Location `json:"location"`

	Unresolved bool `json:"unresolved,omitempty"`
}

// DirectResult is the result of Direct.
type DirectResult struct {
	Node         string             `json:"node"`
	Dependencies []DirectDependency `json:"dependencies"`
}

// Dependency is one member of a transitive dependency set.
type Dependency struct {
	NodeID string         `json:"node_id"`
	Name   string         `json:"name"`
	Kind   graph.NodeKind `json:"kind"`
	Depth  int            `json:"depth"`
}

// ClosingEdge is the edge that re-entered an in-progress node.
type ClosingEdge struct {
	From string         `json:"from"`
	To   string         `json:"to"`
	Kind graph.EdgeKind `json:"kind"`
}

// Cycle is one dependency cycle.
type Cycle struct {
	// Members are in walk order, starting at the re-entered node.
	Members     []string    `json:"members"`
	ClosingEdge ClosingEdge `json:"closing_edge"`
}

// Length returns the number of members.
func (c Cycle) Length() int {
	return len(c.Members)
}

// TransitiveResult is the result of Transitive.
type TransitiveResult struct {
	Root         string       `json:"root"`
	Dependencies []Dependency `json:"dependencies"`
	Cycles       []Cycle      `json:"cycles"`
	Truncated    bool         `json:"truncated"`
	MaxDepth     int          `json:"max_depth"`
}

// IDs returns the dependency ids in result order.
func (r *TransitiveResult) IDs() []string {
	ids := make([]string, len(r.Dependencies))
	for i, d := range r.Dependencies {
		ids[i] = d.NodeID
	}
	return ids
}

// Direct returns the one-hop forward dependencies of node.
//
// Multiple edges to the same target collapse into one entry listing every
// edge kind seen. Entries are in traversal order.
func Direct(ctx context.Context, snap *graph.Snapshot, node string, kinds []graph.EdgeKind) (*DirectResult, error) {
	ctx, span := startSpan(ctx, "deps.Direct", node)
	defer span.End()
	start := time.Now()

	if _, ok := snap.Node(node); !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, node)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("direct dependencies: %w", err)
	}

	result := &DirectResult{Node: node}
	index := make(map[string]int)
	for _, e := range traverse.Neighbors(snap, node, traverse.Forward, traverse.Kinds(kinds...)) {
		if i, ok := index[e.ToID]; ok {
			result.Dependencies[i].Kinds = append(result.Dependencies[i].Kinds, e.Kind)
			continue
		}
		dep := DirectDependency{NodeID: e.ToID, Kinds: []graph.EdgeKind{e.Kind}, Location: e.Location}
		if n, ok := snap.Node(e.ToID); ok {
			dep.Name = n.Name
			dep.NodeKind = n.Kind
			dep.Unresolved = n.Placeholder
		}
		index[e.ToID] = len(result.Dependencies)
		result.Dependencies = append(result.Dependencies, dep)
	}

	recordMetrics(ctx, "direct", time.Since(start), len(result.Dependencies))
	return result, nil
}

// Transitive computes the forward closure of root and its cycles.
//
// Description:
//
//	The closure is the breadth-first reachable set within maxDepth, with
//	minimum hop distances. A three-color depth-first walk from root over the
//	edges induced inside the closure then reports every edge that re-enters
//	an in-progress node as a cycle. Cycles that are rotations of one another
//	are reported once. Root appears in Dependencies only when it lies on a
//	reported cycle.
//
// Inputs:
//
//	ctx - Context for cancellation, checked between hops and periodically
//	      during the walk.
//	snap - The snapshot to analyze.
//	root - Node id.
//	kinds - Edge kinds to follow. Empty means all.
//	maxDepth - Hop budget; 0 selects traverse.DefaultDependencyDepth.
//
// Outputs:
//
//	*TransitiveResult - Dependencies in discovery order and cycles in walk
//	                    order.
//	error - ErrNodeNotFound, ErrInvalidDepth, or the wrapped context error.
//
// Thread Safety: Safe for concurrent use.
func Transitive(ctx context.Context, snap *graph.Snapshot, root string, kinds []graph.EdgeKind, maxDepth int) (*TransitiveResult, error) {
	ctx, span := startSpan(ctx, "deps.Transitive", root)
	defer span.End()
	start := time.Now()

	reach, err := traverse.Reachable(ctx, snap, root, kinds, maxDepth, traverse.DefaultDependencyDepth)
	if err != nil {
		return nil, err
	}

	depth := map[string]int{root: 0}
	result := &TransitiveResult{
		Root:         root,
		Truncated:    reach.Truncated,
		MaxDepth:     reach.MaxDepth,
		Dependencies: make([]Dependency, 0, len(reach.Nodes)+1),
	}
	for _, r := range reach.Nodes {
		depth[r.NodeID] = r.Depth
		result.Dependencies = append(result.Dependencies, dependency(snap, r.NodeID, r.Depth))
	}

	cycles, err := findCycles(ctx, snap, root, depth, traverse.Kinds(kinds...))
	if err != nil {
		return nil, err
	}
	result.Cycles = cycles

	if rootOnCycle(cycles, root) {
		d := reach.SelfDepth
		if d == 0 {
			d = closingDepth(snap, root, depth, traverse.Kinds(kinds...))
		}
		result.Dependencies = append(result.Dependencies, dependency(snap, root, d))
	}

	span.SetAttributes(
		attribute.Int("deps.count", len(result.Dependencies)),
		attribute.Int("deps.cycles", len(result.Cycles)),
		attribute.Bool("deps.truncated", result.Truncated),
	)
	recordMetrics(ctx, "transitive", time.Since(start), len(result.Dependencies))
	return result, nil
}

func dependency(snap *graph.Snapshot, id string, depth int) Dependency {
	d := Dependency{NodeID: id, Depth: depth}
	if n, ok := snap.Node(id); ok {
		d.Name = n.Name
		d.Kind = n.Kind
	}
	return d
}

// color is the three-color DFS state.
type color uint8

const (
	white color = iota
	gray
	black
)

// frame is one level of the explicit DFS stack.
type frame struct {
	id    string
	edges []*graph.Edge
	next  int
}

// findCycles walks the closure depth-first from root with an explicit
// stack so deep graphs cannot overflow the goroutine stack.
func findCycles(ctx context.Context, snap *graph.Snapshot, root string, closure map[string]int, ks traverse.KindSet) ([]Cycle, error) {
	colors := make(map[string]color, len(closure))
	pos := make(map[string]int, len(closure))
	seen := make(map[string]bool)
	var cycles []Cycle

	induced := func(id string) []*graph.Edge {
		var out []*graph.Edge
		for _, e := range traverse.Neighbors(snap, id, traverse.Forward, ks) {
			if _, in := closure[e.ToID]; in {
				out = append(out, e)
			}
		}
		return out
	}

	var path []string
	stack := []frame{{id: root, edges: induced(root)}}
	colors[root] = gray
	pos[root] = 0
	path = append(path, root)

	steps := 0
	for len(stack) > 0 {
		steps++
		if steps%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("transitive dependencies: %w", err)
			}
		}

		top := &stack[len(stack)-1]
		if top.next >= len(top.edges) {
			colors[top.id] = black
			delete(pos, top.id)
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
			continue
		}

		e := top.edges[top.next]
		top.next++
		switch colors[e.ToID] {
		case white:
			colors[e.ToID] = gray
			pos[e.ToID] = len(path)
			path = append(path, e.ToID)
			stack = append(stack, frame{id: e.ToID, edges: induced(e.ToID)})
		case gray:
			members := append([]string(nil), path[pos[e.ToID]:]...)
			key := canonicalKey(members)
			if seen[key] {
				continue
			}
			seen[key] = true
			cycles = append(cycles, Cycle{
				Members:     members,
				ClosingEdge: ClosingEdge{From: top.id, To: e.ToID, Kind: e.Kind},
			})
		}
	}
	return cycles, nil
}

// canonicalKey identifies a cycle independent of rotation.
func canonicalKey(members []string) string {
	if len(members) == 0 {
		return ""
	}
	lo := 0
	for i, id := range members {
		if id < members[lo] {
			lo = i
		}
	}
	rotated := make([]string, 0, len(members))
	rotated = append(rotated, members[lo:]...)
	rotated = append(rotated, members[:lo]...)
	return strings.Join(rotated, "\x00")
}

func rootOnCycle(cycles []Cycle, root string) bool {
	for _, c := range cycles {
		for _, m := range c.Members {
			if m == root {
				return true
			}
		}
	}
	return false
}

// closingDepth is the hop count at which root is re-entered when the
// breadth-first pass stopped before following the closing edge.
func closingDepth(snap *graph.Snapshot, root string, depth map[string]int, ks traverse.KindSet) int {
	best := 0
	for _, e := range traverse.Neighbors(snap, root, traverse.Backward, ks) {
		d, ok := depth[e.FromID]
		if !ok {
			continue
		}
		if best == 0 || d+1 < best {
			best = d + 1
		}
	}
	return best
}

// SortCycles orders cycles by length descending, then by first member.
func SortCycles(cycles []Cycle) {
	sort.SliceStable(cycles, func(i, j int) bool {
		if cycles[i].Length() != cycles[j].Length() {
			return cycles[i].Length() > cycles[j].Length()
		}
		return cycles[i].Members[0] < cycles[j].Members[0]
	})
}
