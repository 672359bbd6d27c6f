// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataflow traces how values move between variables, parameters
// and call results using Reads and Writes edges.
//
// Forward from a node n follows n -Writes-> t (n's value is stored in t)
// and r -Reads-> n (r consumes n). Backward is the mirror. Each followed
// edge becomes a Step describing the transformation it represents.
package dataflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/traverse"
)

// Direction selects which way values are traced.
type Direction string

const (
	Forward       Direction = "forward"
	Backward      Direction = "backward"
	Bidirectional Direction = "bidirectional"
)

// ParseDirection parses a direction name. Empty selects Forward.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case "", Forward:
		return Forward, nil
	case Backward:
		return Backward, nil
	case Bidirectional, "both":
		return Bidirectional, nil
	default:
		return "", fmt.Errorf("%w: unknown data flow direction %q", graph.ErrInvalidScope, s)
	}
}

// StepKind classifies one hop of data flow.
type StepKind string

const (
	StepAssignment       StepKind = "assignment"
	StepAugmented        StepKind = "augmented_assignment"
	StepParameterBinding StepKind = "parameter_binding"
	StepFieldRead        StepKind = "field_read"
	StepFieldWrite       StepKind = "field_write"
	StepReturnValue      StepKind = "return_value"
	StepRead             StepKind = "read"
)

// Step is one hop of data flow. Value moves From -> To regardless of the
// direction the trace walked it.
type Step struct {
	Kind      StepKind       `json:"kind"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Depth     int            `json:"depth"`
	Direction Direction      `json:"direction"`
	EdgeKind  graph.EdgeKind `json:"edge_kind"`
	Location  graph.Location `json:"location"`

	// Transformation is a human-readable description such as "total += x".
	Transformation string `json:"transformation"`
}

// Result is the result of Trace.
type Result struct {
	Start     string    `json:"start"`
	Direction Direction `json:"direction"`
	Steps     []Step    `json:"steps"`

	// Nodes lists every node reached, excluding Start, in discovery order.
	Nodes       []string `json:"nodes"`
	Truncated   bool     `json:"truncated"`
	MaxDepth    int      `json:"max_depth"`
	Limitations []string `json:"limitations"`
}

var limitations = []string{
	"Follows only Reads/Writes edges reported by the language adapter",
	"Aliasing through containers and closures is not modelled",
}

// Trace follows data flow from start.
//
// Description:
//
//	Breadth-first over flow edges in the requested direction. A (node,
//	direction) pair is expanded at most once; an edge into an already
//	visited node is still reported as a step but ends that branch.
//	Bidirectional runs both walks and returns their deduplicated union.
//	Running out of depth budget sets Truncated instead of failing.
//
// Inputs:
//
//	ctx - Context for cancellation, checked between hops.
//	snap - The snapshot to trace.
//	start - Node id.
//	dir - Forward, Backward or Bidirectional.
//	maxDepth - Hop budget; 0 selects traverse.DefaultDataFlowDepth.
//
// Outputs:
//
//	*Result - Steps in walk order.
//	error - ErrNodeNotFound, ErrInvalidScope, or the wrapped context error.
//
// Thread Safety: Safe for concurrent use.
func Trace(ctx context.Context, snap *graph.Snapshot, start string, dir Direction, maxDepth int) (*Result, error) {
	ctx, span := startSpan(ctx, start, dir)
	defer span.End()
	began := time.Now()

	depth, err := traverse.ClampDepth(maxDepth, traverse.DefaultDataFlowDepth)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = Forward
	}
	var walks []Direction
	switch dir {
	case Forward, Backward:
		walks = []Direction{dir}
	case Bidirectional:
		walks = []Direction{Forward, Backward}
	default:
		return nil, fmt.Errorf("%w: unknown data flow direction %q", graph.ErrInvalidScope, dir)
	}
	if _, ok := snap.Node(start); !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, start)
	}

	t := &tracer{
		snap:     snap,
		maxDepth: depth,
		seenEdge: make(map[*graph.Edge]bool),
		seenNode: map[string]bool{start: true},
		result:   &Result{Start: start, Direction: dir, MaxDepth: depth, Limitations: limitations},
	}
	for _, w := range walks {
		if err := t.walk(ctx, start, w); err != nil {
			return nil, err
		}
	}

	span.SetAttributes(
		attribute.Int("dataflow.steps", len(t.result.Steps)),
		attribute.Bool("dataflow.truncated", t.result.Truncated),
	)
	recordMetrics(ctx, string(dir), time.Since(began), len(t.result.Steps))
	return t.result, nil
}

type tracer struct {
	snap     *graph.Snapshot
	maxDepth int
	seenEdge map[*graph.Edge]bool
	seenNode map[string]bool
	result   *Result
}

// hop is one flow edge leaving a node in walk order.
type hop struct {
	edge *graph.Edge
	next string
	from string
	to   string
}

func (t *tracer) walk(ctx context.Context, start string, dir Direction) error {
	type item struct {
		id    string
		depth int
	}
	visited := map[string]bool{start: true}
	queue := []item{{start, 0}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("trace data flow: %w", err)
		}
		cur := queue[0]
		queue = queue[1:]

		hops := t.hops(cur.id, dir)
		if cur.depth >= t.maxDepth {
			for _, h := range hops {
				if !visited[h.next] {
					t.result.Truncated = true
					break
				}
			}
			continue
		}

		for _, h := range hops {
			if !t.seenEdge[h.edge] {
				t.seenEdge[h.edge] = true
				t.result.Steps = append(t.result.Steps, t.step(h, cur.depth+1, dir))
			}
			if visited[h.next] {
				continue
			}
			visited[h.next] = true
			if !t.seenNode[h.next] {
				t.seenNode[h.next] = true
				t.result.Nodes = append(t.result.Nodes, h.next)
			}
			queue = append(queue, item{h.next, cur.depth + 1})
		}
	}
	return nil
}

// hops lists the flow edges of id: Writes first, then Reads, each in
// insertion order.
func (t *tracer) hops(id string, dir Direction) []hop {
	writes := traverse.Kinds(graph.EdgeKindWrites)
	reads := traverse.Kinds(graph.EdgeKindReads)
	var out []hop
	if dir == Forward {
		for _, e := range traverse.Neighbors(t.snap, id, traverse.Forward, writes) {
			out = append(out, hop{edge: e, next: e.ToID, from: e.FromID, to: e.ToID})
		}
		for _, e := range traverse.Neighbors(t.snap, id, traverse.Backward, reads) {
			out = append(out, hop{edge: e, next: e.FromID, from: e.ToID, to: e.FromID})
		}
		return out
	}
	for _, e := range traverse.Neighbors(t.snap, id, traverse.Backward, writes) {
		out = append(out, hop{edge: e, next: e.FromID, from: e.FromID, to: e.ToID})
	}
	for _, e := range traverse.Neighbors(t.snap, id, traverse.Forward, reads) {
		out = append(out, hop{edge: e, next: e.ToID, from: e.ToID, to: e.FromID})
	}
	return out
}

func (t *tracer) step(h hop, depth int, dir Direction) Step {
	from, _ := t.snap.Node(h.from)
	to, _ := t.snap.Node(h.to)
	kind, desc := Classify(h.edge, from, to)
	return Step{
		Kind:           kind,
		From:           h.from,
		To:             h.to,
		Depth:          depth,
		Direction:      dir,
		EdgeKind:       h.edge.Kind,
		Location:       h.edge.Location,
		Transformation: desc,
	}
}

// Classify returns the step kind and description of a flow edge. from and
// to are the value's source and destination; either may be nil.
func Classify(e *graph.Edge, from, to *graph.Node) (StepKind, string) {
	src, dst := name(from), name(to)

	if e.Kind == graph.EdgeKindReads {
		// to reads from.
		if isField(e, from) {
			return StepFieldRead, fmt.Sprintf("%s reads field %s", dst, fieldName(e, from))
		}
		return StepRead, fmt.Sprintf("%s reads %s", dst, src)
	}

	switch {
	case to != nil && to.Kind == graph.NodeKindParameter:
		if pos, ok := graph.MetaInt(e.Metadata, graph.MetaArgPosition); ok {
			return StepParameterBinding, fmt.Sprintf("argument %d (%s) binds parameter %s", pos, src, dst)
		}
		if kw := graph.MetaString(e.Metadata, graph.MetaArgName); kw != "" {
			return StepParameterBinding, fmt.Sprintf("keyword argument %s=%s binds parameter %s", kw, src, dst)
		}
		return StepParameterBinding, fmt.Sprintf("%s binds parameter %s", src, dst)
	case graph.MetaString(e.Metadata, graph.MetaVia) == "return" || (from != nil && from.Kind.IsCallable()):
		return StepReturnValue, fmt.Sprintf("return value of %s flows into %s", src, dst)
	case isField(e, to):
		return StepFieldWrite, fmt.Sprintf("%s written to field %s", src, fieldName(e, to))
	}

	op := graph.MetaString(e.Metadata, graph.MetaOperator)
	if op != "" && op != "=" {
		return StepAugmented, fmt.Sprintf("%s %s %s", dst, op, src)
	}
	return StepAssignment, fmt.Sprintf("%s = %s", dst, src)
}

func isField(e *graph.Edge, n *graph.Node) bool {
	if graph.MetaString(e.Metadata, graph.MetaField) != "" || graph.MetaBool(e.Metadata, graph.MetaField) {
		return true
	}
	return n != nil && n.Kind == graph.NodeKindVariable && graph.MetaBool(n.Metadata, graph.MetaField)
}

func fieldName(e *graph.Edge, n *graph.Node) string {
	if f := graph.MetaString(e.Metadata, graph.MetaField); f != "" && f != "true" {
		return f
	}
	return name(n)
}

func name(n *graph.Node) string {
	if n == nil {
		return "?"
	}
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}
