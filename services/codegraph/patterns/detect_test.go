// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/analysis"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/graph/graphtest"
)

func method(f *graphtest.Fixture, cls *graph.Node, name string) *graph.Node {
	return f.Child(cls, f.Node(cls.Location.File, graph.NodeKindMethod, name, nil))
}

func byType(found []Pattern, t PatternType) []Pattern {
	var out []Pattern
	for _, p := range found {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

func detect(t *testing.T, snap *graph.Snapshot, types ...PatternType) []Pattern {
	t.Helper()
	found, err := NewDetector(DetectOptions{}).Detect(context.Background(), snap, analysis.Scope{}, types)
	require.NoError(t, err)
	return found
}

func TestParsePatternTypes(t *testing.T) {
	all, err := ParsePatternTypes(nil)
	require.NoError(t, err)
	assert.Equal(t, AllPatternTypes, all)

	got, err := ParsePatternTypes([]string{"Singleton", "god-class", "cycle", "singleton"})
	require.NoError(t, err)
	assert.Equal(t, []PatternType{PatternSingleton, PatternGodClass, PatternCircularDependency}, got)

	_, err = ParsePatternTypes([]string{"visitor"})
	assert.ErrorIs(t, err, graph.ErrInvalidScope)
}

func TestDetect_UnknownType(t *testing.T) {
	snap := graphtest.New(t).Commit()
	_, err := NewDetector(DetectOptions{}).Detect(context.Background(), snap, analysis.Scope{}, []PatternType{"visitor"})
	assert.ErrorIs(t, err, graph.ErrInvalidScope)
}

func TestDetect_Singleton(t *testing.T) {
	f := graphtest.New(t)
	cfg := f.Class("config.py", "Config")
	inst := f.Child(cfg, f.Var("config.py", "_instance"))
	get := method(f, cfg, "get_instance")
	plain := f.Class("config.py", "Plain")
	method(f, plain, "get_instance")
	meta := f.Node("config.py", graph.NodeKindClass, "Registry", map[string]any{graph.MetaMetaclass: "SingletonMeta"})
	snap := f.Commit()

	got := byType(detect(t, snap, PatternSingleton), PatternSingleton)
	require.Len(t, got, 2)
	ids := []string{got[0].NodeID, got[1].NodeID}
	assert.ElementsMatch(t, []string{cfg.ID, meta.ID}, ids)
	for _, p := range got {
		if p.NodeID == cfg.ID {
			assert.ElementsMatch(t, []string{inst.ID, get.ID}, p.Members)
			assert.Equal(t, 0.9, p.Confidence)
		}
	}
}

func TestDetect_Factory(t *testing.T) {
	f := graphtest.New(t)
	circle := f.Class("shapes.py", "Circle")
	square := f.Class("shapes.py", "Square")
	mk := f.Func("shapes.py", "create_shape")
	f.Calls(mk, circle)
	f.Calls(mk, square)
	notFactory := f.Func("shapes.py", "draw")
	f.Calls(notFactory, circle)

	factory := f.Class("shapes.py", "ShapeFactory")
	build := method(f, factory, "build")
	f.Calls(build, square)
	snap := f.Commit()

	got := byType(detect(t, snap, PatternFactory), PatternFactory)
	require.Len(t, got, 2)
	for _, p := range got {
		switch p.NodeID {
		case mk.ID:
			assert.InDelta(t, 0.8, p.Confidence, 1e-9)
			assert.ElementsMatch(t, []string{circle.ID, square.ID}, p.Members)
		case factory.ID:
			assert.Equal(t, []string{square.ID}, p.Members)
		default:
			t.Errorf("unexpected factory %s", p.Name)
		}
	}
}

func TestDetect_Observer(t *testing.T) {
	f := graphtest.New(t)
	bus := f.Class("bus.py", "EventBus")
	f.Child(bus, f.Var("bus.py", "_listeners"))
	sub := method(f, bus, "subscribe")
	pub := method(f, bus, "publish")
	half := f.Class("bus.py", "HalfBus")
	method(f, half, "subscribe")
	snap := f.Commit()

	got := byType(detect(t, snap, PatternObserver), PatternObserver)
	require.Len(t, got, 1)
	assert.Equal(t, bus.ID, got[0].NodeID)
	assert.Equal(t, 0.9, got[0].Confidence)
	assert.ElementsMatch(t, []string{sub.ID, pub.ID}, got[0].Members)
}

func TestDetect_GodClassAndHub(t *testing.T) {
	f := graphtest.New(t)
	god := f.Class("god.py", "Manager")
	for i := 0; i < 20; i++ {
		method(f, god, fmt.Sprintf("m%d", i))
	}
	small := f.Class("god.py", "Small")
	method(f, small, "only")

	util := f.Func("util.py", "log")
	for i := 0; i < 10; i++ {
		caller := f.Func("callers.py", fmt.Sprintf("c%d", i))
		f.Calls(caller, util)
	}
	snap := f.Commit()

	found := detect(t, snap, PatternGodClass, PatternHub)
	gods := byType(found, PatternGodClass)
	require.Len(t, gods, 1)
	assert.Equal(t, god.ID, gods[0].NodeID)
	assert.Equal(t, 20, gods[0].Metadata["methods"])
	assert.Equal(t, analysis.SeverityHigh, gods[0].Severity)

	hubs := byType(found, PatternHub)
	require.Len(t, hubs, 1)
	assert.Equal(t, util.ID, hubs[0].NodeID)
	assert.Equal(t, 10, hubs[0].Metadata["fan_in"])

	// Reporting order follows the type order.
	assert.Equal(t, PatternGodClass, found[0].Type)
}

func TestDetect_CircularDependency(t *testing.T) {
	f := graphtest.New(t)
	modA := f.Node("a.py", graph.NodeKindModule, "a", nil)
	modB := f.Node("b.py", graph.NodeKindModule, "b", nil)
	modC := f.Node("c.py", graph.NodeKindModule, "c", nil)
	f.Edge(modA, modB, graph.EdgeKindImports, nil)
	f.Edge(modB, modC, graph.EdgeKindImports, nil)
	f.Edge(modC, modA, graph.EdgeKindImports, nil)

	foo := f.Func("x.py", "foo")
	bar := f.Func("y.py", "bar")
	f.Calls(foo, bar)
	f.Calls(bar, foo)

	rec := f.Func("z.py", "recursive")
	f.Calls(rec, rec)
	f.Calls(rec, f.Placeholder("missing", ""))
	snap := f.Commit()

	got := byType(detect(t, snap, PatternCircularDependency), PatternCircularDependency)
	require.Len(t, got, 2)

	var imports, calls Pattern
	for _, p := range got {
		if p.Metadata["edge_kind"] == "imports" {
			imports = p
		} else {
			calls = p
		}
	}
	assert.ElementsMatch(t, []string{modA.ID, modB.ID, modC.ID}, imports.Members)
	assert.Equal(t, analysis.SeverityHigh, imports.Severity)
	require.NotNil(t, imports.Cycle)
	assert.Equal(t, 3, imports.Cycle.Length())
	assert.Equal(t, imports.NodeID, imports.Cycle.Members[0])
	assert.Equal(t, imports.NodeID, imports.Cycle.ClosingEdge.To)

	assert.ElementsMatch(t, []string{foo.ID, bar.ID}, calls.Members)
	assert.Equal(t, analysis.SeverityMedium, calls.Severity)
	require.NotNil(t, calls.Cycle)
	assert.Equal(t, 2, calls.Cycle.Length())

	t.Run("scope keeps cycles touching it", func(t *testing.T) {
		found, err := NewDetector(DetectOptions{}).Detect(context.Background(), snap,
			analysis.Scope{Files: []string{"y.py"}}, []PatternType{PatternCircularDependency})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.ElementsMatch(t, []string{foo.ID, bar.ID}, found[0].Members)
	})
}

func TestStronglyConnected_DeepChain(t *testing.T) {
	f := graphtest.New(t)
	nodes := make([]*graph.Node, 5000)
	for i := range nodes {
		nodes[i] = f.Func("deep.py", fmt.Sprintf("n%d", i))
	}
	for i := 0; i+1 < len(nodes); i++ {
		f.Calls(nodes[i], nodes[i+1])
	}
	f.Calls(nodes[len(nodes)-1], nodes[0])
	snap := f.Commit()

	sccs, err := stronglyConnected(context.Background(), snap, graph.EdgeKindCalls)
	require.NoError(t, err)
	require.Len(t, sccs, 1)
	assert.Len(t, sccs[0], 5000)
}

func TestDetect_EventEmitter(t *testing.T) {
	f := graphtest.New(t)
	created := f.Node("events.py", graph.NodeKindEvent, "user.created", nil)
	emitter := f.Func("users.py", "create_user")
	handler := f.Func("mail.py", "send_welcome")
	f.Edge(emitter, created, graph.EdgeKindEmits, nil)
	f.Edge(created, handler, graph.EdgeKindRoutesTo, nil)

	orphan := f.Node("events.py", graph.NodeKindEvent, "user.deleted", nil)
	f.Edge(emitter, orphan, graph.EdgeKindEmits, nil)
	f.Node("events.py", graph.NodeKindEvent, "unused", nil)
	snap := f.Commit()

	got := byType(detect(t, snap, PatternEventEmitter), PatternEventEmitter)
	require.Len(t, got, 2)
	for _, p := range got {
		switch p.NodeID {
		case created.ID:
			assert.Equal(t, 0.9, p.Confidence)
			assert.ElementsMatch(t, []string{emitter.ID, handler.ID}, p.Members)
			assert.Equal(t, []string{emitter.ID}, p.Metadata["emitters"])
		case orphan.ID:
			assert.Equal(t, 0.6, p.Confidence)
			assert.Equal(t, analysis.SeverityLow, p.Severity)
		default:
			t.Errorf("unexpected event %s", p.Name)
		}
	}
}

func TestDetector_Analyze(t *testing.T) {
	f := graphtest.New(t)
	foo := f.Func("x.py", "foo")
	bar := f.Func("x.py", "bar")
	f.Calls(foo, bar)
	f.Calls(bar, foo)
	snap := f.Commit()

	d := NewDetector(DetectOptions{Types: []PatternType{PatternCircularDependency}})
	assert.Equal(t, "patterns", d.Name())
	findings, err := d.Analyze(context.Background(), snap, analysis.Scope{})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "circular_dependency", findings[0].Kind)
	assert.Equal(t, 1.0, findings[0].Confidence)
}
