// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/graph/graphtest"
)

type flowGraph struct {
	snap                        *graph.Snapshot
	f, x, y, total, p, count, h *graph.Node
}

// newFlowGraph builds:
//
//	f() --return--> x --= --> y --+=--> total <--reads-- h
//	                          y --arg0--> p
//	                          y --> self.count
func newFlowGraph(t *testing.T) *flowGraph {
	fx := graphtest.New(t)
	g := &flowGraph{
		f:     fx.Func("flow.py", "f"),
		x:     fx.Var("flow.py", "x"),
		y:     fx.Var("flow.py", "y"),
		total: fx.Var("flow.py", "total"),
		p:     fx.Node("flow.py", graph.NodeKindParameter, "p", nil),
		count: fx.Node("flow.py", graph.NodeKindVariable, "count", map[string]any{graph.MetaField: true}),
		h:     fx.Func("flow.py", "h"),
	}
	fx.Edge(g.f, g.x, graph.EdgeKindWrites, map[string]any{graph.MetaVia: "return"})
	fx.Edge(g.x, g.y, graph.EdgeKindWrites, map[string]any{graph.MetaOperator: "="})
	fx.Edge(g.y, g.total, graph.EdgeKindWrites, map[string]any{graph.MetaOperator: "+="})
	fx.Edge(g.y, g.p, graph.EdgeKindWrites, map[string]any{graph.MetaArgPosition: 0})
	fx.Edge(g.y, g.count, graph.EdgeKindWrites, nil)
	fx.Edge(g.h, g.total, graph.EdgeKindReads, nil)
	g.snap = fx.Commit()
	return g
}

func kinds(steps []Step) []StepKind {
	out := make([]StepKind, len(steps))
	for i, s := range steps {
		out[i] = s.Kind
	}
	return out
}

func TestTrace_Forward(t *testing.T) {
	g := newFlowGraph(t)

	res, err := Trace(context.Background(), g.snap, g.x.ID, Forward, 0)
	require.NoError(t, err)

	assert.Equal(t, []StepKind{
		StepAssignment,
		StepAugmented,
		StepParameterBinding,
		StepFieldWrite,
		StepRead,
	}, kinds(res.Steps))
	assert.Equal(t, []string{g.y.ID, g.total.ID, g.p.ID, g.count.ID, g.h.ID}, res.Nodes)
	assert.False(t, res.Truncated)
	assert.Equal(t, 10, res.MaxDepth)

	assert.Equal(t, "y = x", res.Steps[0].Transformation)
	assert.Equal(t, "total += y", res.Steps[1].Transformation)
	assert.Equal(t, "argument 0 (y) binds parameter p", res.Steps[2].Transformation)
	assert.Equal(t, "h reads total", res.Steps[4].Transformation)

	read := res.Steps[4]
	assert.Equal(t, g.total.ID, read.From)
	assert.Equal(t, g.h.ID, read.To)
	assert.Equal(t, 3, read.Depth)
}

func TestTrace_Backward(t *testing.T) {
	g := newFlowGraph(t)

	res, err := Trace(context.Background(), g.snap, g.total.ID, Backward, 0)
	require.NoError(t, err)

	assert.Equal(t, []StepKind{StepAugmented, StepAssignment, StepReturnValue}, kinds(res.Steps))
	assert.Equal(t, []string{g.y.ID, g.x.ID, g.f.ID}, res.Nodes)

	ret := res.Steps[2]
	assert.Equal(t, g.f.ID, ret.From)
	assert.Equal(t, g.x.ID, ret.To)
	assert.Equal(t, Backward, ret.Direction)
	assert.Equal(t, "return value of f flows into x", ret.Transformation)
}

func TestTrace_Bidirectional(t *testing.T) {
	g := newFlowGraph(t)

	res, err := Trace(context.Background(), g.snap, g.y.ID, Bidirectional, 0)
	require.NoError(t, err)

	assert.Len(t, res.Steps, 6)
	assert.ElementsMatch(t, []string{g.total.ID, g.p.ID, g.count.ID, g.h.ID, g.x.ID, g.f.ID}, res.Nodes)
	assert.Equal(t, Bidirectional, res.Direction)
}

func TestTrace_DepthTruncates(t *testing.T) {
	g := newFlowGraph(t)

	res, err := Trace(context.Background(), g.snap, g.x.ID, Forward, 1)
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, g.y.ID, res.Steps[0].To)
	assert.True(t, res.Truncated)
}

func TestTrace_CycleTerminates(t *testing.T) {
	fx := graphtest.New(t)
	a := fx.Var("c.py", "a")
	b := fx.Var("c.py", "b")
	fx.Edge(a, b, graph.EdgeKindWrites, nil)
	fx.Edge(b, a, graph.EdgeKindWrites, nil)
	snap := fx.Commit()

	res, err := Trace(context.Background(), snap, a.ID, Forward, 50)
	require.NoError(t, err)
	assert.Len(t, res.Steps, 2)
	assert.Equal(t, []string{b.ID}, res.Nodes)
	assert.False(t, res.Truncated)
}

func TestTrace_Deterministic(t *testing.T) {
	g := newFlowGraph(t)
	first, err := Trace(context.Background(), g.snap, g.y.ID, Bidirectional, 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Trace(context.Background(), g.snap, g.y.ID, Bidirectional, 0)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestTrace_Errors(t *testing.T) {
	g := newFlowGraph(t)

	_, err := Trace(context.Background(), g.snap, "missing", Forward, 0)
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)

	_, err = Trace(context.Background(), g.snap, g.x.ID, Direction("sideways"), 0)
	assert.ErrorIs(t, err, graph.ErrInvalidScope)

	_, err = Trace(context.Background(), g.snap, g.x.ID, Forward, -3)
	assert.ErrorIs(t, err, graph.ErrInvalidDepth)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Trace(ctx, g.snap, g.x.ID, Forward, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"", Forward, false},
		{"forward", Forward, false},
		{"BACKWARD", Backward, false},
		{"both", Bidirectional, false},
		{"bidirectional", Bidirectional, false},
		{"up", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, graph.ErrInvalidScope)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_KeywordAndFieldRead(t *testing.T) {
	param := &graph.Node{ID: "p", Name: "timeout", Kind: graph.NodeKindParameter}
	arg := &graph.Node{ID: "a", Name: "t", Kind: graph.NodeKindVariable}
	kind, desc := Classify(&graph.Edge{Kind: graph.EdgeKindWrites, Metadata: map[string]any{graph.MetaArgName: "timeout"}}, arg, param)
	assert.Equal(t, StepParameterBinding, kind)
	assert.Equal(t, "keyword argument timeout=t binds parameter timeout", desc)

	reader := &graph.Node{ID: "r", Name: "render", Kind: graph.NodeKindFunction}
	kind, desc = Classify(&graph.Edge{Kind: graph.EdgeKindReads, Metadata: map[string]any{graph.MetaField: "self.title"}}, arg, reader)
	assert.Equal(t, StepFieldRead, kind)
	assert.Equal(t, "render reads field self.title", desc)
}
