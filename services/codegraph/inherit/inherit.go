// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inherit resolves class hierarchies: direct bases and subclasses,
// C3 method resolution order, metaclasses, mixins, and attributes that are
// plausibly injected at runtime.
//
// Everything it infers beyond Extends/Implements edges is advisory and
// carries a confidence. Nothing is written back to the graph.
package inherit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/traverse"
)

var hierarchyKinds = []graph.EdgeKind{graph.EdgeKindExtends, graph.EdgeKindImplements}

// ClassRef is a class in a hierarchy listing.
type ClassRef struct {
	NodeID string `json:"node_id"`
	Name   string `json:"name"`
	File   string `json:"file,omitempty"`
	Depth  int    `json:"depth,omitempty"`

	// Unresolved is true for bases that are not indexed, such as builtins.
	Unresolved bool `json:"unresolved,omitempty"`
}

// Member is a declared member of a class.
type Member struct {
	NodeID string         `json:"node_id"`
	Name   string         `json:"name"`
	Kind   graph.NodeKind `json:"kind"`
}

// Hierarchy is the result of Trace.
type Hierarchy struct {
	Class string `json:"class"`
	Name  string `json:"name"`

	Bases       []ClassRef `json:"bases"`
	Ancestors   []ClassRef `json:"ancestors"`
	Descendants []ClassRef `json:"descendants"`

	MRO          []ClassRef `json:"mro"`
	MROAmbiguous bool       `json:"mro_ambiguous"`

	// IsMetaclass is set when the class itself looks like a metaclass.
	IsMetaclass bool `json:"is_metaclass"`

	// Metaclass is the effective metaclass, declared or inherited.
	Metaclass   *Metaclass  `json:"metaclass,omitempty"`
	Metaclasses []Metaclass `json:"metaclasses,omitempty"`

	Mixins            []Mixin            `json:"mixins"`
	Members           []Member           `json:"members"`
	DynamicAttributes []DynamicAttribute `json:"dynamic_attributes"`

	Truncated bool `json:"truncated"`
}

// MRONames returns the MRO as class names.
func (h *Hierarchy) MRONames() []string {
	out := make([]string, len(h.MRO))
	for i, c := range h.MRO {
		out[i] = c.Name
	}
	return out
}

// BaseClasses returns the direct bases of class in declaration order:
// by the edge "position" metadata, then insertion order.
func BaseClasses(snap *graph.Snapshot, class string) []*graph.Node {
	edges := traverse.Neighbors(snap, class, traverse.Forward, traverse.Kinds(hierarchyKinds...))
	sort.SliceStable(edges, func(i, j int) bool {
		return position(edges[i]) < position(edges[j])
	})
	seen := make(map[string]bool, len(edges))
	out := make([]*graph.Node, 0, len(edges))
	for _, e := range edges {
		if seen[e.ToID] {
			continue
		}
		seen[e.ToID] = true
		if n, ok := snap.Node(e.ToID); ok {
			out = append(out, n)
		}
	}
	return out
}

// Subclasses returns the classes that directly extend or implement class,
// in insertion order.
func Subclasses(snap *graph.Snapshot, class string) []*graph.Node {
	edges := traverse.Neighbors(snap, class, traverse.Backward, traverse.Kinds(hierarchyKinds...))
	seen := make(map[string]bool, len(edges))
	out := make([]*graph.Node, 0, len(edges))
	for _, e := range edges {
		if seen[e.FromID] {
			continue
		}
		seen[e.FromID] = true
		if n, ok := snap.Node(e.FromID); ok {
			out = append(out, n)
		}
	}
	return out
}

func position(e *graph.Edge) int {
	if p, ok := graph.MetaInt(e.Metadata, graph.MetaPosition); ok {
		return p
	}
	return math.MaxInt
}

// Trace resolves the full hierarchy of class.
//
// Description:
//
//	Collects direct bases, ancestors and descendants (with minimum hop
//	distance, bounded by traverse.MaxDepth), computes the C3 MRO, detects
//	mixins, and infers dynamic attributes. When includeMetaclasses is set,
//	the metaclass chain is listed and metaclass-injected attributes are
//	inferred as well. An inconsistent hierarchy sets MROAmbiguous rather
//	than failing.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	snap - The snapshot to read.
//	class - Node id of a Class node.
//	includeMetaclasses - Whether to resolve metaclasses.
//
// Outputs:
//
//	*Hierarchy - The resolved hierarchy.
//	error - ErrNodeNotFound, ErrInvalidScope if the node is not a class,
//	        or the wrapped context error.
//
// Thread Safety: Safe for concurrent use.
func Trace(ctx context.Context, snap *graph.Snapshot, class string, includeMetaclasses bool) (*Hierarchy, error) {
	ctx, span := startSpan(ctx, class)
	defer span.End()
	start := time.Now()

	node, ok := snap.Node(class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, class)
	}
	if node.Kind != graph.NodeKindClass && !node.Placeholder {
		return nil, fmt.Errorf("%w: %s is a %s, not a class", graph.ErrInvalidScope, class, node.Kind)
	}

	h := &Hierarchy{Class: class, Name: node.Name}
	for _, b := range BaseClasses(snap, class) {
		h.Bases = append(h.Bases, ref(b, 1))
	}

	up, err := traverse.Reachable(ctx, snap, class, hierarchyKinds, traverse.MaxDepth, traverse.MaxDepth)
	if err != nil {
		return nil, fmt.Errorf("trace inheritance: %w", err)
	}
	down, err := traverse.ReverseReachable(ctx, snap, class, hierarchyKinds, traverse.MaxDepth, traverse.MaxDepth)
	if err != nil {
		return nil, fmt.Errorf("trace inheritance: %w", err)
	}
	h.Ancestors = refs(snap, up)
	h.Descendants = refs(snap, down)
	h.Truncated = up.Truncated || down.Truncated

	lin := newLinearizer(snap)
	mro, ambiguous := lin.mro(class)
	for _, id := range mro {
		if n, ok := snap.Node(id); ok {
			h.MRO = append(h.MRO, ref(n, 0))
		}
	}
	// A class that reaches itself through its bases is a cycle.
	h.MROAmbiguous = ambiguous || up.SelfDepth > 0

	h.IsMetaclass = isMetaclass(snap, node, mro)
	h.Metaclass = effectiveMetaclass(snap, mro)
	if includeMetaclasses {
		h.Metaclasses = metaclassChain(snap, mro)
	}
	h.Mixins = detectMixins(h.Bases)

	for _, c := range snap.Children(class) {
		h.Members = append(h.Members, Member{NodeID: c.ID, Name: c.Name, Kind: c.Kind})
	}
	h.DynamicAttributes = inferDynamic(snap, node, mro, h.Metaclass, includeMetaclasses, h.Members)

	span.SetAttributes(
		attribute.Int("inherit.ancestors", len(h.Ancestors)),
		attribute.Int("inherit.descendants", len(h.Descendants)),
		attribute.Bool("inherit.mro_ambiguous", h.MROAmbiguous),
	)
	recordMetrics(ctx, time.Since(start), h.MROAmbiguous)
	return h, nil
}

func ref(n *graph.Node, depth int) ClassRef {
	return ClassRef{
		NodeID:     n.ID,
		Name:       n.Name,
		File:       n.Location.File,
		Depth:      depth,
		Unresolved: n.Placeholder,
	}
}

func refs(snap *graph.Snapshot, r *traverse.ReachResult) []ClassRef {
	out := make([]ClassRef, 0, len(r.Nodes))
	for _, reached := range r.Nodes {
		if n, ok := snap.Node(reached.NodeID); ok {
			out = append(out, ref(n, reached.Depth))
		}
	}
	return out
}
