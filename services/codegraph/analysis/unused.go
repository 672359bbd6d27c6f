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
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Unused-code confidences. A symbol starts at baseUnusedConfidence and is
// capped at the lowest value of every heuristic that applies.
const (
	baseUnusedConfidence = 0.9
	reflectionConfidence = 0.3
	dispatchConfidence   = 0.5
	externalConfidence   = 0.4
	decoratedConfidence  = 0.5
)

// UnusedOptions configures the unused-code analyzer.
type UnusedOptions struct {
	// EntryNames are extra symbol names treated as entry points.
	EntryNames []string

	// ConfidenceThreshold drops findings below this confidence.
	ConfidenceThreshold float64

	// TestFileGlobs select files whose functions are entry points.
	TestFileGlobs []string
}

// DefaultUnusedOptions returns the default entry-point configuration.
func DefaultUnusedOptions() UnusedOptions {
	return UnusedOptions{
		TestFileGlobs: []string{
			"**/test_*.py", "**/*_test.py", "**/*_test.go",
			"**/*.test.js", "**/*.test.ts", "**/*.spec.js", "**/*.spec.ts",
		},
	}
}

// UnusedAnalyzer flags definitions that no entry point reaches.
//
// # Description
//
// Entry points are main functions, test functions, exported symbols,
// modules, route and event handlers, and configured names. Every node they
// reach along any edge kind is live, as is the enclosing parent chain of a
// live node. Unreached functions, methods, classes and module-level
// variables are reported. Confidence is lowered for names that are often
// used reflectively or by external callers.
//
// # Thread Safety
//
// Safe for concurrent use.
type UnusedAnalyzer struct {
	opts  UnusedOptions
	entry map[string]bool
}

// NewUnusedAnalyzer creates an unused-code analyzer.
func NewUnusedAnalyzer(opts UnusedOptions) *UnusedAnalyzer {
	entry := map[string]bool{"main": true, "__main__": true}
	for _, n := range opts.EntryNames {
		entry[n] = true
	}
	return &UnusedAnalyzer{opts: opts, entry: entry}
}

// Name implements Analyzer.
func (a *UnusedAnalyzer) Name() string { return "unused" }

// Analyze implements Analyzer. Reachability always runs over the whole
// snapshot; scope only selects which candidates are reported.
func (a *UnusedAnalyzer) Analyze(ctx context.Context, snap *graph.Snapshot, scope Scope) ([]Finding, error) {
	ctx, span := startSpan(ctx, a.Name())
	defer span.End()
	start := time.Now()

	candidates, err := scope.Nodes(snap, graph.NodeKindFunction, graph.NodeKindMethod, graph.NodeKindClass, graph.NodeKindVariable)
	if err != nil {
		return nil, err
	}

	live, err := a.liveSet(ctx, snap)
	if err != nil {
		return nil, err
	}

	var findings []Finding
	for _, n := range candidates {
		if live[n.ID] {
			continue
		}
		if n.Kind == graph.NodeKindVariable && !moduleLevel(snap, n) {
			continue
		}
		// Protocol methods of a live class are invoked implicitly.
		if n.Kind == graph.NodeKindMethod && isDunder(n.Name) && live[n.Parent] {
			continue
		}
		conf, reasons := a.confidence(snap, n)
		findings = append(findings, Finding{
			Kind:       "unused_" + n.Kind.String(),
			NodeID:     n.ID,
			Name:       n.Name,
			Location:   n.Location,
			Severity:   SeverityLow,
			Confidence: conf,
			Message:    fmt.Sprintf("%s %s is not reachable from any entry point", n.Kind, n.Name),
			Metadata:   map[string]any{"reasons": reasons},
		})
	}
	findings = FilterConfidence(findings, a.opts.ConfidenceThreshold)
	SortFindings(findings)

	span.SetAttributes(attribute.Int("analysis.findings", len(findings)))
	recordMetrics(ctx, a.Name(), time.Since(start), len(findings))
	return findings, nil
}

// EntryPoints returns the ids of every entry point in snap, ordered by id.
func (a *UnusedAnalyzer) EntryPoints(snap *graph.Snapshot) []string {
	var out []string
	for _, n := range snap.Nodes() {
		if !n.Placeholder && a.isEntry(snap, n) {
			out = append(out, n.ID)
		}
	}
	return out
}

func (a *UnusedAnalyzer) isEntry(snap *graph.Snapshot, n *graph.Node) bool {
	switch n.Kind {
	case graph.NodeKindModule, graph.NodeKindRoute, graph.NodeKindEvent:
		return true
	}
	if a.entry[n.Name] || graph.MetaBool(n.Metadata, graph.MetaExported) {
		return true
	}
	if q := graph.MetaString(n.Metadata, graph.MetaQualifiedName); q != "" && a.entry[q] {
		return true
	}
	if n.Kind.IsCallable() {
		if strings.HasPrefix(n.Name, "test_") || strings.HasPrefix(n.Name, "Test") {
			return true
		}
		if a.isTestFile(n.Location.File) {
			return true
		}
		for _, d := range graph.MetaStrings(n.Metadata, graph.MetaDecorators) {
			if isHandlerDecorator(d) {
				return true
			}
		}
	}
	// Route handlers are the targets of RoutesTo edges.
	for _, e := range snap.EdgesTo(n.ID) {
		if e.Kind == graph.EdgeKindRoutesTo {
			return true
		}
	}
	return false
}

func (a *UnusedAnalyzer) isTestFile(file string) bool {
	for _, g := range a.opts.TestFileGlobs {
		if ok, _ := doublestar.Match(g, file); ok {
			return true
		}
	}
	return false
}

// isHandlerDecorator matches framework registration decorators such as
// @app.route, @router.get or @receiver.
func isHandlerDecorator(d string) bool {
	d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
	if i := strings.Index(d, "("); i >= 0 {
		d = d[:i]
	}
	last := d
	if i := strings.LastIndex(d, "."); i >= 0 {
		last = d[i+1:]
	}
	switch last {
	case "route", "get", "post", "put", "patch", "delete", "websocket",
		"receiver", "listener", "subscribe", "on_event", "task", "command", "fixture":
		return true
	}
	return false
}

// liveSet is a multi-source forward sweep from every entry point, plus
// the parent chain of each live node.
func (a *UnusedAnalyzer) liveSet(ctx context.Context, snap *graph.Snapshot) (map[string]bool, error) {
	queue := a.EntryPoints(snap)
	live := make(map[string]bool, len(queue))
	for _, id := range queue {
		live[id] = true
	}

	for i := 0; i < len(queue); i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("find unused code: %w", err)
			}
		}
		id := queue[i]
		next := make([]string, 0, 4)
		for _, e := range snap.EdgesFrom(id) {
			next = append(next, e.ToID)
		}
		if n, ok := snap.Node(id); ok && n.Parent != "" {
			next = append(next, n.Parent)
		}
		for _, v := range next {
			if !live[v] {
				live[v] = true
				queue = append(queue, v)
			}
		}
	}
	return live, nil
}

func moduleLevel(snap *graph.Snapshot, n *graph.Node) bool {
	if n.Parent == "" {
		return true
	}
	p, ok := snap.Node(n.Parent)
	return ok && p.Kind == graph.NodeKindModule
}

// confidence applies the naming heuristics to n.
func (a *UnusedAnalyzer) confidence(snap *graph.Snapshot, n *graph.Node) (float64, []string) {
	conf := baseUnusedConfidence
	var reasons []string
	lower := func(c float64, reason string) {
		if c < conf {
			conf = c
		}
		reasons = append(reasons, reason)
	}

	if isDunder(n.Name) {
		lower(reflectionConfidence, "reflection_name")
	}
	if n.Kind == graph.NodeKindMethod && overridesBase(snap, n) {
		lower(dispatchConfidence, "dynamic_dispatch")
	}
	if externalName(n.Name) {
		lower(externalConfidence, "external_api_name")
	}
	if len(graph.MetaStrings(n.Metadata, graph.MetaDecorators)) > 0 {
		lower(decoratedConfidence, "decorated")
	}
	return conf, reasons
}

func isDunder(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

var externalPrefixes = []string{"handle", "handler", "callback", "hook", "visit_", "on_", "on"}

func externalName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range externalPrefixes {
		if !strings.HasPrefix(lower, p) {
			continue
		}
		// "on" only counts as a prefix before an upper-case letter: onClick.
		if p == "on" {
			return len(name) > 2 && name[2] >= 'A' && name[2] <= 'Z'
		}
		return true
	}
	return strings.HasSuffix(lower, "_handler") || strings.HasSuffix(lower, "_callback") ||
		strings.HasSuffix(name, "Handler") || strings.HasSuffix(name, "Callback")
}

// overridesBase reports whether method m may be reached by dynamic
// dispatch: an ancestor of its class declares the same name, or an
// ancestor is not indexed and could.
func overridesBase(snap *graph.Snapshot, m *graph.Node) bool {
	if m.Parent == "" {
		return false
	}
	seen := map[string]bool{m.Parent: true}
	queue := []string{m.Parent}
	for len(queue) > 0 {
		cls := queue[0]
		queue = queue[1:]
		for _, e := range snap.EdgesFrom(cls) {
			if e.Kind != graph.EdgeKindExtends && e.Kind != graph.EdgeKindImplements {
				continue
			}
			if seen[e.ToID] {
				continue
			}
			seen[e.ToID] = true
			base, ok := snap.Node(e.ToID)
			if !ok {
				continue
			}
			if base.Placeholder {
				return true
			}
			for _, c := range snap.Children(base.ID) {
				if c.Name == m.Name {
					return true
				}
			}
			queue = append(queue, base.ID)
		}
	}
	return false
}
