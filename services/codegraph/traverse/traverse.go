// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package traverse provides the breadth-first primitives every analysis
// builds on: shortest path, and forward/backward reachable sets with hop
// distances.
//
// All functions are pure reads over a graph.Snapshot and are deterministic:
// neighbors are visited in edge-kind priority order, then edge insertion
// order, and (source, target, kind) duplicates are collapsed.
package traverse

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Depth caps.
const (
	DefaultPathDepth       = 10
	DefaultDependencyDepth = 5
	DefaultDataFlowDepth   = 10

	// MaxDepth is the hard ceiling for every hop budget.
	MaxDepth = 50
)

// ClampDepth validates a requested hop budget.
//
// Negative depth is an InvalidScope error, zero selects def, and anything
// above MaxDepth is lowered to MaxDepth.
func ClampDepth(depth, def int) (int, error) {
	switch {
	case depth < 0:
		return 0, fmt.Errorf("%w: %d", graph.ErrInvalidDepth, depth)
	case depth == 0:
		return def, nil
	case depth > MaxDepth:
		return MaxDepth, nil
	default:
		return depth, nil
	}
}

// Direction selects which way edges are followed.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// KindSet is an edge-kind filter. The zero value is empty; use Kinds to
// build one where nil means every kind.
type KindSet [graph.NumEdgeKinds]bool

// Kinds returns the filter for kinds. No kinds means all kinds.
func Kinds(kinds ...graph.EdgeKind) KindSet {
	var ks KindSet
	if len(kinds) == 0 {
		for i := range ks {
			ks[i] = true
		}
		return ks
	}
	for _, k := range kinds {
		if k >= 0 && k < graph.NumEdgeKinds {
			ks[k] = true
		}
	}
	return ks
}

// Has reports whether k passes the filter.
func (ks KindSet) Has(k graph.EdgeKind) bool {
	return k >= 0 && k < graph.NumEdgeKinds && ks[k]
}

// Neighbors returns the edges leaving id in direction dir that pass the
// filter, in traversal order: edge-kind priority, then insertion order.
// Only the first edge per (source, target, kind) is kept.
func Neighbors(snap *graph.Snapshot, id string, dir Direction, ks KindSet) []*graph.Edge {
	var raw []*graph.Edge
	if dir == Forward {
		raw = snap.EdgesFrom(id)
	} else {
		raw = snap.EdgesTo(id)
	}
	if len(raw) == 0 {
		return nil
	}

	type dedupe struct {
		other string
		kind  graph.EdgeKind
	}
	seen := make(map[dedupe]bool, len(raw))
	out := make([]*graph.Edge, 0, len(raw))
	for _, e := range raw {
		if !ks.Has(e.Kind) {
			continue
		}
		k := dedupe{Other(e, dir), e.Kind}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Other returns the endpoint of e reached when following it in dir.
func Other(e *graph.Edge, dir Direction) string {
	if dir == Forward {
		return e.ToID
	}
	return e.FromID
}

// PathResult is the result of ShortestPath.
type PathResult struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Nodes    []string      `json:"nodes"`
	Edges    []*graph.Edge `json:"edges"`
	Length   int           `json:"length"`
	MaxDepth int           `json:"max_depth"`
}

// ShortestPath finds the shortest forward path from one node to another.
//
// Description:
//
//	Breadth-first search over edges passing kinds. Each node keeps the edge
//	it was first discovered through, so equally short paths are broken by
//	edge-kind priority, then insertion order. The context is checked
//	between hops.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	snap - The snapshot to search.
//	from, to - Node ids. Both must exist.
//	kinds - Edge kinds to follow. Empty means all.
//	maxDepth - Hop budget; 0 selects DefaultPathDepth.
//
// Outputs:
//
//	*PathResult - The path. Length 0 when from == to.
//	error - ErrNodeNotFound, ErrInvalidDepth, ErrPathNotFound when no path
//	        exists within maxDepth, or the context error.
//
// Thread Safety: Safe for concurrent use.
func ShortestPath(ctx context.Context, snap *graph.Snapshot, from, to string, kinds []graph.EdgeKind, maxDepth int) (*PathResult, error) {
	ctx, span := startQuerySpan(ctx, "ShortestPath", from)
	defer span.End()
	start := time.Now()

	depth, err := ClampDepth(maxDepth, DefaultPathDepth)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Node(from); !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, from)
	}
	if _, ok := snap.Node(to); !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, to)
	}

	result := &PathResult{From: from, To: to, MaxDepth: depth}
	if from == to {
		result.Nodes = []string{from}
		return result, nil
	}

	ks := Kinds(kinds...)
	via := map[string]*graph.Edge{from: nil}
	frontier := []string{from}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("shortest path: %w", err)
		}
		var next []string
		for _, u := range frontier {
			for _, e := range Neighbors(snap, u, Forward, ks) {
				v := e.ToID
				if _, seen := via[v]; seen {
					continue
				}
				via[v] = e
				if v == to {
					buildPath(result, via, from, to)
					span.SetAttributes(attribute.Int("traverse.length", result.Length))
					recordQueryMetrics(ctx, "shortest_path", time.Since(start), result.Length)
					return result, nil
				}
				next = append(next, v)
			}
		}
		frontier = next
	}

	recordQueryMetrics(ctx, "shortest_path", time.Since(start), 0)
	return nil, fmt.Errorf("%w: %s -> %s within %d hops", graph.ErrPathNotFound, from, to, depth)
}

func buildPath(result *PathResult, via map[string]*graph.Edge, from, to string) {
	var edges []*graph.Edge
	for cur := to; cur != from; {
		e := via[cur]
		edges = append(edges, e)
		cur = e.FromID
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	result.Edges = edges
	result.Nodes = make([]string, 0, len(edges)+1)
	result.Nodes = append(result.Nodes, from)
	for _, e := range edges {
		result.Nodes = append(result.Nodes, e.ToID)
	}
	result.Length = len(edges)
}

// Reached is one node of a reachable set.
type Reached struct {
	NodeID string `json:"node_id"`
	Depth  int    `json:"depth"`

	// Via is the edge the node was first discovered through.
	Via *graph.Edge `json:"via,omitempty"`
}

// ReachResult is the result of Reachable / ReverseReachable.
type ReachResult struct {
	Start     string    `json:"start"`
	Direction Direction `json:"-"`

	// Nodes lists reached nodes in discovery order, excluding Start.
	Nodes []Reached `json:"nodes"`

	// SelfDepth is the hop count at which Start was reached again, or 0
	// if it was not.
	SelfDepth int `json:"self_depth,omitempty"`

	// Truncated is true when a node at the depth limit still has
	// unexplored neighbors.
	Truncated bool `json:"truncated"`
	MaxDepth  int  `json:"max_depth"`
}

// IDs returns the reached node ids in discovery order.
func (r *ReachResult) IDs() []string {
	ids := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		ids[i] = n.NodeID
	}
	return ids
}

// Reachable returns every node reachable from start along forward edges.
func Reachable(ctx context.Context, snap *graph.Snapshot, start string, kinds []graph.EdgeKind, maxDepth, defaultDepth int) (*ReachResult, error) {
	return reach(ctx, snap, start, Forward, kinds, maxDepth, defaultDepth)
}

// ReverseReachable returns every node that reaches start.
func ReverseReachable(ctx context.Context, snap *graph.Snapshot, start string, kinds []graph.EdgeKind, maxDepth, defaultDepth int) (*ReachResult, error) {
	return reach(ctx, snap, start, Backward, kinds, maxDepth, defaultDepth)
}

// reach is a level-synchronous BFS recording minimum hop distances.
func reach(ctx context.Context, snap *graph.Snapshot, start string, dir Direction, kinds []graph.EdgeKind, maxDepth, defaultDepth int) (*ReachResult, error) {
	ctx, span := startQuerySpan(ctx, "Reachable."+dir.String(), start)
	defer span.End()
	began := time.Now()

	if defaultDepth <= 0 {
		defaultDepth = DefaultDependencyDepth
	}
	depth, err := ClampDepth(maxDepth, defaultDepth)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Node(start); !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, start)
	}

	ks := Kinds(kinds...)
	result := &ReachResult{Start: start, Direction: dir, MaxDepth: depth}
	seen := map[string]bool{start: true}
	frontier := []string{start}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("reachable: %w", err)
		}
		var next []string
		for _, u := range frontier {
			for _, e := range Neighbors(snap, u, dir, ks) {
				v := Other(e, dir)
				if v == start {
					if result.SelfDepth == 0 {
						result.SelfDepth = hop + 1
					}
					continue
				}
				if seen[v] {
					continue
				}
				seen[v] = true
				result.Nodes = append(result.Nodes, Reached{NodeID: v, Depth: hop + 1, Via: e})
				next = append(next, v)
			}
		}
		frontier = next
	}

	// Nodes left in the frontier sit at the depth limit.
	for _, u := range frontier {
		for _, e := range Neighbors(snap, u, dir, ks) {
			v := Other(e, dir)
			if (v == start && result.SelfDepth == 0) || (v != start && !seen[v]) {
				result.Truncated = true
				break
			}
		}
		if result.Truncated {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("traverse.reached", len(result.Nodes)),
		attribute.Bool("traverse.truncated", result.Truncated),
	)
	recordQueryMetrics(ctx, "reachable_"+dir.String(), time.Since(began), len(result.Nodes))
	return result, nil
}
