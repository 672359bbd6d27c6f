// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/graph/graphtest"
)

func TestMeasure(t *testing.T) {
	t.Run("straight line function", func(t *testing.T) {
		n := &graph.Node{Location: graph.Location{StartLine: 1, EndLine: 9}}
		m := Measure(n)
		assert.Equal(t, 1, m.Cyclomatic)
		assert.Equal(t, 0, m.Cognitive)
		assert.Equal(t, 9, m.LOC)
		assert.True(t, m.VolumeEstimated)
		assert.InDelta(t, 9.0, m.Volume, 1e-9)

		want := (171 - 5.2*math.Log(9) - 0.23 - 16.2*math.Log(9)) * 100 / 171
		assert.InDelta(t, want, m.Maintainability, 0.01)
	})

	t.Run("nesting weights cognitive", func(t *testing.T) {
		n := &graph.Node{
			Location: graph.Location{StartLine: 1, EndLine: 20},
			Metadata: map[string]any{
				graph.MetaDecisionPoints: 3,
				graph.MetaDecisionNest:   []any{0.0, 1.0, 2.0},
			},
		}
		m := Measure(n)
		assert.Equal(t, 4, m.Cyclomatic)
		assert.Equal(t, 1+2+3, m.Cognitive)
	})

	t.Run("nesting list implies decision count", func(t *testing.T) {
		n := &graph.Node{
			Location: graph.Location{StartLine: 1, EndLine: 5},
			Metadata: map[string]any{graph.MetaDecisionNest: []int{0, 0}},
		}
		assert.Equal(t, 3, Measure(n).Cyclomatic)
	})

	t.Run("reported halstead volume", func(t *testing.T) {
		n := &graph.Node{
			Location: graph.Location{StartLine: 1, EndLine: 5},
			Metadata: map[string]any{graph.MetaHalsteadVolume: 250.0},
		}
		m := Measure(n)
		assert.False(t, m.VolumeEstimated)
		assert.Equal(t, 250.0, m.Volume)
	})

	t.Run("index floors at zero", func(t *testing.T) {
		n := &graph.Node{
			Location: graph.Location{StartLine: 1, EndLine: 5000},
			Metadata: map[string]any{graph.MetaHalsteadVolume: 1e12, graph.MetaDecisionPoints: 400},
		}
		assert.Equal(t, 0.0, Measure(n).Maintainability)
	})
}

func TestComplexityAnalyzer(t *testing.T) {
	f := graphtest.New(t)
	simple := f.Func("a.py", "simple")
	branchy := f.Node("a.py", graph.NodeKindFunction, "branchy", map[string]any{
		graph.MetaDecisionPoints: 12,
	})
	nested := f.Node("b.py", graph.NodeKindFunction, "nested", map[string]any{
		graph.MetaDecisionNest: []int{0, 1, 2, 3, 4, 5},
	})
	huge := f.Node("b.py", graph.NodeKindFunction, "huge", map[string]any{
		graph.MetaDecisionPoints: 24,
		graph.MetaHalsteadVolume: 1e9,
	})
	f.Class("a.py", "NotCallable")
	snap := f.Commit()

	a := NewComplexityAnalyzer(DefaultComplexityOptions())
	assert.Equal(t, "complexity", a.Name())

	findings, err := a.Analyze(context.Background(), snap, Scope{})
	require.NoError(t, err)

	byNode := make(map[string][]Finding)
	for _, fd := range findings {
		byNode[fd.NodeID] = append(byNode[fd.NodeID], fd)
	}
	assert.Empty(t, byNode[simple.ID])

	require.Len(t, byNode[branchy.ID], 1)
	assert.Equal(t, KindCyclomatic, byNode[branchy.ID][0].Kind)
	assert.Equal(t, SeverityMedium, byNode[branchy.ID][0].Severity)

	require.Len(t, byNode[nested.ID], 1)
	assert.Equal(t, KindCognitive, byNode[nested.ID][0].Kind)
	assert.Equal(t, 21, byNode[nested.ID][0].Metadata["cognitive"])

	kinds := map[string]Severity{}
	for _, fd := range byNode[huge.ID] {
		kinds[fd.Kind] = fd.Severity
	}
	assert.Equal(t, SeverityHigh, kinds[KindCyclomatic])
	assert.Equal(t, SeverityHigh, kinds[KindMaintainability])

	// High severity sorts first.
	assert.Equal(t, SeverityHigh, findings[0].Severity)
}

func TestComplexityAnalyzer_ReportAll(t *testing.T) {
	f := graphtest.New(t)
	simple := f.Func("a.py", "simple")
	snap := f.Commit()

	opts := DefaultComplexityOptions()
	opts.ReportAll = true
	findings, err := NewComplexityAnalyzer(opts).Analyze(context.Background(), snap, Scope{})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, KindComplexity, findings[0].Kind)
	assert.Equal(t, SeverityInfo, findings[0].Severity)
	assert.Equal(t, simple.ID, findings[0].NodeID)
}

func TestComplexityAnalyzer_Cancelled(t *testing.T) {
	f := graphtest.New(t)
	f.Func("a.py", "simple")
	snap := f.Commit()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewComplexityAnalyzer(DefaultComplexityOptions()).Analyze(ctx, snap, Scope{})
	assert.ErrorIs(t, err, context.Canceled)
}
