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
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Finding kinds produced by the complexity analyzer.
const (
	KindCyclomatic      = "cyclomatic_complexity"
	KindCognitive       = "cognitive_complexity"
	KindMaintainability = "maintainability_index"
	KindComplexity      = "complexity"
)

// ComplexityOptions configures the complexity analyzer.
type ComplexityOptions struct {
	CyclomaticMedium int
	CyclomaticHigh   int
	CognitiveMedium  int
	CognitiveHigh    int

	// MaintainabilityHigh flags an index strictly below this value.
	MaintainabilityHigh float64

	// ReportAll emits an info finding with the metrics of every function,
	// not only threshold breaches.
	ReportAll bool
}

// DefaultComplexityOptions returns the standard thresholds.
func DefaultComplexityOptions() ComplexityOptions {
	return ComplexityOptions{
		CyclomaticMedium:    10,
		CyclomaticHigh:      20,
		CognitiveMedium:     15,
		CognitiveHigh:       30,
		MaintainabilityHigh: 20,
	}
}

// Metrics are the complexity measures of one callable.
type Metrics struct {
	Cyclomatic      int     `json:"cyclomatic"`
	Cognitive       int     `json:"cognitive"`
	Maintainability float64 `json:"maintainability_index"`
	LOC             int     `json:"loc"`
	Volume          float64 `json:"volume"`

	// VolumeEstimated is true when Volume is the size proxy rather than a
	// reported Halstead volume.
	VolumeEstimated bool `json:"volume_estimated"`
}

// Measure computes the metrics of n from its location and metadata.
//
// Description:
//
//	cyclomatic = 1 + decision points
//	cognitive  = sum over decision points of (1 + nesting level)
//	MI         = max(0, (171 - 5.2 ln V - 0.23 CC - 16.2 ln LOC) * 100 / 171)
//
//	V is the Halstead volume when reported, otherwise
//	LOC * log2(distinct tokens + 2).
func Measure(n *graph.Node) Metrics {
	md := n.Metadata
	decisions, _ := graph.MetaInt(md, graph.MetaDecisionPoints)
	nesting := graph.MetaInts(md, graph.MetaDecisionNest)
	if decisions < len(nesting) {
		decisions = len(nesting)
	}

	m := Metrics{
		Cyclomatic: 1 + decisions,
		LOC:        n.Location.Lines(),
	}
	if m.LOC < 1 {
		m.LOC = 1
	}

	for i := 0; i < decisions; i++ {
		level := 0
		if i < len(nesting) {
			level = nesting[i]
		}
		m.Cognitive += 1 + level
	}

	if v, ok := graph.MetaFloat(md, graph.MetaHalsteadVolume); ok && v > 0 {
		m.Volume = v
	} else {
		distinct, _ := graph.MetaInt(md, graph.MetaDistinctTokens)
		m.Volume = float64(m.LOC) * math.Log2(float64(distinct)+2)
		m.VolumeEstimated = true
	}

	mi := (171 - 5.2*math.Log(m.Volume) - 0.23*float64(m.Cyclomatic) - 16.2*math.Log(float64(m.LOC))) * 100 / 171
	m.Maintainability = math.Round(math.Max(0, mi)*100) / 100
	return m
}

// ComplexityAnalyzer flags callables whose metrics exceed thresholds.
//
// Thread Safety: Safe for concurrent use.
type ComplexityAnalyzer struct {
	opts ComplexityOptions
}

// NewComplexityAnalyzer creates a complexity analyzer.
func NewComplexityAnalyzer(opts ComplexityOptions) *ComplexityAnalyzer {
	return &ComplexityAnalyzer{opts: opts}
}

// Name implements Analyzer.
func (a *ComplexityAnalyzer) Name() string { return "complexity" }

// Analyze implements Analyzer.
func (a *ComplexityAnalyzer) Analyze(ctx context.Context, snap *graph.Snapshot, scope Scope) ([]Finding, error) {
	ctx, span := startSpan(ctx, a.Name())
	defer span.End()
	start := time.Now()

	nodes, err := scope.Nodes(snap, graph.NodeKindFunction, graph.NodeKindMethod)
	if err != nil {
		return nil, err
	}

	var findings []Finding
	for i, n := range nodes {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("analyze complexity: %w", err)
			}
		}
		findings = append(findings, a.check(n, Measure(n))...)
	}
	SortFindings(findings)

	span.SetAttributes(attribute.Int("analysis.findings", len(findings)))
	recordMetrics(ctx, a.Name(), time.Since(start), len(findings))
	return findings, nil
}

func (a *ComplexityAnalyzer) check(n *graph.Node, m Metrics) []Finding {
	md := map[string]any{
		"cyclomatic":            m.Cyclomatic,
		"cognitive":             m.Cognitive,
		"maintainability_index": m.Maintainability,
		"loc":                   m.LOC,
	}
	mk := func(kind string, sev Severity, msg string) Finding {
		return Finding{
			Kind:       kind,
			NodeID:     n.ID,
			Name:       n.Name,
			Location:   n.Location,
			Severity:   sev,
			Confidence: 1.0,
			Message:    msg,
			Metadata:   md,
		}
	}

	var out []Finding
	switch {
	case m.Cyclomatic > a.opts.CyclomaticHigh:
		out = append(out, mk(KindCyclomatic, SeverityHigh,
			fmt.Sprintf("%s has cyclomatic complexity %d (> %d)", n.Name, m.Cyclomatic, a.opts.CyclomaticHigh)))
	case m.Cyclomatic > a.opts.CyclomaticMedium:
		out = append(out, mk(KindCyclomatic, SeverityMedium,
			fmt.Sprintf("%s has cyclomatic complexity %d (> %d)", n.Name, m.Cyclomatic, a.opts.CyclomaticMedium)))
	}
	switch {
	case m.Cognitive > a.opts.CognitiveHigh:
		out = append(out, mk(KindCognitive, SeverityHigh,
			fmt.Sprintf("%s has cognitive complexity %d (> %d)", n.Name, m.Cognitive, a.opts.CognitiveHigh)))
	case m.Cognitive > a.opts.CognitiveMedium:
		out = append(out, mk(KindCognitive, SeverityMedium,
			fmt.Sprintf("%s has cognitive complexity %d (> %d)", n.Name, m.Cognitive, a.opts.CognitiveMedium)))
	}
	if m.Maintainability < a.opts.MaintainabilityHigh {
		out = append(out, mk(KindMaintainability, SeverityHigh,
			fmt.Sprintf("%s has maintainability index %.1f (< %.0f)", n.Name, m.Maintainability, a.opts.MaintainabilityHigh)))
	}
	if len(out) == 0 && a.opts.ReportAll {
		out = append(out, mk(KindComplexity, SeverityInfo,
			fmt.Sprintf("%s: cyclomatic %d, cognitive %d, MI %.1f", n.Name, m.Cyclomatic, m.Cognitive, m.Maintainability)))
	}
	return out
}
