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
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/codegraph/services/codegraph/analysis"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// DetectOptions configures pattern detection thresholds.
type DetectOptions struct {
	// Types selects the detectors Analyze runs. Empty means all.
	Types []PatternType

	// GodClassMethods flags classes with at least this many methods.
	GodClassMethods int

	// GodClassFanOut flags classes depending on at least this many
	// distinct outside nodes.
	GodClassFanOut int

	// HubFanIn flags nodes with at least this many distinct dependents.
	HubFanIn int

	// MinConfidence drops weaker matches.
	MinConfidence float64
}

// DefaultDetectOptions returns the default thresholds.
func DefaultDetectOptions() DetectOptions {
	return DetectOptions{
		GodClassMethods: 20,
		GodClassFanOut:  15,
		HubFanIn:        10,
	}
}

// Detector runs the structural pattern matchers.
//
// # Thread Safety
//
// This type is safe for concurrent use.
type Detector struct {
	opts DetectOptions
}

// NewDetector creates a detector. Zero thresholds take the defaults.
func NewDetector(opts DetectOptions) *Detector {
	def := DefaultDetectOptions()
	if opts.GodClassMethods <= 0 {
		opts.GodClassMethods = def.GodClassMethods
	}
	if opts.GodClassFanOut <= 0 {
		opts.GodClassFanOut = def.GodClassFanOut
	}
	if opts.HubFanIn <= 0 {
		opts.HubFanIn = def.HubFanIn
	}
	return &Detector{opts: opts}
}

// Name implements analysis.Analyzer.
func (d *Detector) Name() string { return "patterns" }

// Analyze implements analysis.Analyzer with the configured types.
func (d *Detector) Analyze(ctx context.Context, snap *graph.Snapshot, scope analysis.Scope) ([]analysis.Finding, error) {
	found, err := d.Detect(ctx, snap, scope, d.opts.Types)
	if err != nil {
		return nil, err
	}
	findings := make([]analysis.Finding, len(found))
	for i, p := range found {
		findings[i] = p.Finding()
	}
	analysis.SortFindings(findings)
	return findings, nil
}

// Detect runs the detectors for types over the nodes in scope.
//
// Description:
//
//	Each detector matches a graph shape around a candidate node. Results
//	are ordered by pattern type, then anchor node id. A cycle is reported
//	when any of its members is in scope.
//
// Inputs:
//
//	ctx - Context for cancellation, checked between detectors.
//	snap - The snapshot to analyze.
//	scope - Candidate selection.
//	types - Detectors to run. Empty means all.
//
// Outputs:
//
//	[]Pattern - Detected patterns.
//	error - InvalidScope for a bad glob, NotFound for unknown scope ids,
//	        or the wrapped context error.
//
// Thread Safety: Safe for concurrent use.
func (d *Detector) Detect(ctx context.Context, snap *graph.Snapshot, scope analysis.Scope, types []PatternType) ([]Pattern, error) {
	ctx, span := startSpan(ctx, "Detect")
	defer span.End()
	start := time.Now()

	if len(types) == 0 {
		types = AllPatternTypes
	}
	for _, t := range types {
		if t.order() == len(AllPatternTypes) {
			return nil, fmt.Errorf("%w: unknown pattern type %q", graph.ErrInvalidScope, t)
		}
	}

	classes, err := scope.Nodes(snap, graph.NodeKindClass)
	if err != nil {
		return nil, err
	}

	var found []Pattern
	for _, t := range types {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("detect patterns: %w", err)
		}
		var got []Pattern
		switch t {
		case PatternSingleton:
			got = d.singletons(snap, classes)
		case PatternFactory:
			got, err = d.factories(snap, scope, classes)
		case PatternObserver:
			got = d.observers(snap, classes)
		case PatternGodClass:
			got = d.godClasses(snap, classes)
		case PatternHub:
			got, err = d.hubs(snap, scope)
		case PatternCircularDependency:
			got, err = d.cycles(ctx, snap, scope)
		case PatternEventEmitter:
			got, err = d.eventEmitters(snap, scope)
		}
		if err != nil {
			return nil, err
		}
		for _, p := range got {
			if p.Confidence >= d.opts.MinConfidence {
				found = append(found, p)
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Type != found[j].Type {
			return found[i].Type.order() < found[j].Type.order()
		}
		return found[i].NodeID < found[j].NodeID
	})

	span.SetAttributes(attribute.Int("patterns.types", len(types)))
	setSpanResult(span, len(found))
	recordDetectMetrics(ctx, time.Since(start), found)
	return found, nil
}

func newPattern(t PatternType, n *graph.Node, conf float64, sev analysis.Severity, desc string) Pattern {
	return Pattern{
		Type:        t,
		NodeID:      n.ID,
		Name:        n.Name,
		Location:    n.Location,
		Confidence:  conf,
		Severity:    sev,
		Description: desc,
	}
}

// normalizeName lowercases and strips underscores: get_instance and
// getInstance both become getinstance.
func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "")
}

var (
	instanceVarNames = map[string]bool{
		"instance": true, "singleton": true, "inst": true, "sharedinstance": true,
	}
	accessorNames = map[string]bool{
		"getinstance": true, "instance": true, "sharedinstance": true,
		"shared": true, "default": true, "current": true, "get": true,
	}
)

func (d *Detector) singletons(snap *graph.Snapshot, classes []*graph.Node) []Pattern {
	var out []Pattern
	for _, cls := range classes {
		var instanceVar, newMethod, accessor *graph.Node
		for _, c := range snap.Children(cls.ID) {
			norm := normalizeName(c.Name)
			switch {
			case c.Kind == graph.NodeKindVariable && instanceVarNames[norm]:
				instanceVar = c
			case c.Kind.IsCallable() && c.Name == "__new__":
				newMethod = c
			case c.Kind.IsCallable() && accessorNames[norm]:
				accessor = c
			}
		}
		singletonMeta := strings.Contains(strings.ToLower(graph.MetaString(cls.Metadata, graph.MetaMetaclass)), "singleton")

		var conf float64
		switch {
		case singletonMeta:
			conf = 0.9
		case instanceVar != nil && (newMethod != nil || accessor != nil):
			conf = 0.9
		case newMethod != nil && accessor != nil:
			conf = 0.7
		default:
			continue
		}

		p := newPattern(PatternSingleton, cls, conf, analysis.SeverityInfo,
			fmt.Sprintf("%s restricts itself to a single shared instance", cls.Name))
		for _, m := range []*graph.Node{instanceVar, newMethod, accessor} {
			if m != nil {
				p.Members = append(p.Members, m.ID)
			}
		}
		sort.Strings(p.Members)
		out = append(out, p)
	}
	return out
}

var factoryPrefixes = []string{"create", "make", "build", "new"}

func isFactoryName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range factoryPrefixes {
		if lower == p || strings.HasPrefix(lower, p+"_") {
			return true
		}
		// camelCase: createWidget.
		if strings.HasPrefix(name, p) && len(name) > len(p) && name[len(p)] >= 'A' && name[len(p)] <= 'Z' {
			return true
		}
	}
	return false
}

// instantiated returns the classes n calls, ordered by id.
func instantiated(snap *graph.Snapshot, n *graph.Node) []string {
	set := make(map[string]bool)
	for _, e := range snap.EdgesFrom(n.ID) {
		if e.Kind != graph.EdgeKindCalls {
			continue
		}
		if t, ok := snap.Node(e.ToID); ok && !t.Placeholder && t.Kind == graph.NodeKindClass {
			set[t.ID] = true
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (d *Detector) factories(snap *graph.Snapshot, scope analysis.Scope, classes []*graph.Node) ([]Pattern, error) {
	var out []Pattern
	factoryClasses := make(map[string]bool)
	for _, cls := range classes {
		if !strings.HasSuffix(cls.Name, "Factory") {
			continue
		}
		set := make(map[string]bool)
		for _, m := range snap.Children(cls.ID) {
			if !m.Kind.IsCallable() {
				continue
			}
			for _, id := range instantiated(snap, m) {
				set[id] = true
			}
		}
		if len(set) == 0 {
			continue
		}
		factoryClasses[cls.ID] = true
		p := newPattern(PatternFactory, cls, 0.85, analysis.SeverityInfo,
			fmt.Sprintf("%s creates instances of %d classes", cls.Name, len(set)))
		for id := range set {
			p.Members = append(p.Members, id)
		}
		sort.Strings(p.Members)
		out = append(out, p)
	}

	callables, err := scope.Nodes(snap, graph.NodeKindFunction, graph.NodeKindMethod)
	if err != nil {
		return nil, err
	}
	for _, fn := range callables {
		if factoryClasses[fn.Parent] || !isFactoryName(fn.Name) {
			continue
		}
		made := instantiated(snap, fn)
		if len(made) == 0 {
			continue
		}
		conf := 0.7 + 0.1*float64(len(made)-1)
		if conf > 0.9 {
			conf = 0.9
		}
		p := newPattern(PatternFactory, fn, conf, analysis.SeverityInfo,
			fmt.Sprintf("%s creates instances of %d classes", fn.Name, len(made)))
		p.Members = made
		out = append(out, p)
	}
	return out, nil
}

var (
	subscribeNames = map[string]bool{
		"subscribe": true, "attach": true, "register": true, "addlistener": true,
		"addobserver": true, "addhandler": true, "addsubscriber": true, "on": true,
		"connect": true, "listen": true, "addeventlistener": true,
	}
	notifyNames = map[string]bool{
		"notify": true, "notifyall": true, "notifyobservers": true, "notifylisteners": true,
		"emit": true, "publish": true, "dispatch": true, "fire": true, "trigger": true,
		"broadcast": true,
	}
	observerCollections = []string{"observers", "listeners", "subscribers", "handlers", "callbacks"}
)

func (d *Detector) observers(snap *graph.Snapshot, classes []*graph.Node) []Pattern {
	var out []Pattern
	for _, cls := range classes {
		var subs, notifies []string
		hasCollection := false
		for _, c := range snap.Children(cls.ID) {
			norm := normalizeName(c.Name)
			switch {
			case c.Kind.IsCallable() && subscribeNames[norm]:
				subs = append(subs, c.ID)
			case c.Kind.IsCallable() && notifyNames[norm]:
				notifies = append(notifies, c.ID)
			case c.Kind == graph.NodeKindVariable:
				for _, coll := range observerCollections {
					if strings.Contains(norm, coll) {
						hasCollection = true
					}
				}
			}
		}
		if len(subs) == 0 || len(notifies) == 0 {
			continue
		}
		conf := 0.75
		if hasCollection {
			conf = 0.9
		}
		p := newPattern(PatternObserver, cls, conf, analysis.SeverityInfo,
			fmt.Sprintf("%s registers observers and notifies them", cls.Name))
		p.Members = append(subs, notifies...)
		sort.Strings(p.Members)
		out = append(out, p)
	}
	return out
}

// classFanOut counts distinct nodes outside cls that cls or its members
// have edges to.
func classFanOut(snap *graph.Snapshot, cls *graph.Node, members []*graph.Node) int {
	own := map[string]bool{cls.ID: true}
	for _, m := range members {
		own[m.ID] = true
	}
	targets := make(map[string]bool)
	for id := range own {
		for _, e := range snap.EdgesFrom(id) {
			if !own[e.ToID] {
				targets[e.ToID] = true
			}
		}
	}
	return len(targets)
}

func (d *Detector) godClasses(snap *graph.Snapshot, classes []*graph.Node) []Pattern {
	var out []Pattern
	for _, cls := range classes {
		members := snap.Children(cls.ID)
		methods := 0
		for _, m := range members {
			if m.Kind.IsCallable() {
				methods++
			}
		}
		fanOut := classFanOut(snap, cls, members)

		manyMethods := methods >= d.opts.GodClassMethods
		manyDeps := fanOut >= d.opts.GodClassFanOut
		if !manyMethods && !manyDeps {
			continue
		}
		conf := 0.75
		if manyMethods && manyDeps {
			conf = 0.9
		}
		p := newPattern(PatternGodClass, cls, conf, analysis.SeverityHigh,
			fmt.Sprintf("%s has %d methods and depends on %d outside nodes", cls.Name, methods, fanOut))
		p.Metadata = map[string]any{"methods": methods, "fan_out": fanOut}
		out = append(out, p)
	}
	return out
}

func (d *Detector) hubs(snap *graph.Snapshot, scope analysis.Scope) ([]Pattern, error) {
	nodes, err := scope.Nodes(snap)
	if err != nil {
		return nil, err
	}
	var out []Pattern
	for _, n := range nodes {
		sources := make(map[string]bool)
		for _, e := range snap.EdgesTo(n.ID) {
			if e.FromID != n.ID {
				sources[e.FromID] = true
			}
		}
		if len(sources) < d.opts.HubFanIn {
			continue
		}
		conf := 0.8
		if len(sources) >= 2*d.opts.HubFanIn {
			conf = 0.95
		}
		p := newPattern(PatternHub, n, conf, analysis.SeverityMedium,
			fmt.Sprintf("%s %s is used by %d nodes", n.Kind, n.Name, len(sources)))
		p.Metadata = map[string]any{"fan_in": len(sources)}
		out = append(out, p)
	}
	return out, nil
}

func (d *Detector) cycles(ctx context.Context, snap *graph.Snapshot, scope analysis.Scope) ([]Pattern, error) {
	var inScope map[string]bool
	if !scope.IsEmpty() {
		nodes, err := scope.Nodes(snap)
		if err != nil {
			return nil, err
		}
		inScope = make(map[string]bool, len(nodes))
		for _, n := range nodes {
			inScope[n.ID] = true
		}
	}

	var out []Pattern
	for _, kind := range []graph.EdgeKind{graph.EdgeKindImports, graph.EdgeKindCalls} {
		sccs, err := stronglyConnected(ctx, snap, kind)
		if err != nil {
			return nil, err
		}
		for _, scc := range sccs {
			if inScope != nil && !anyIn(scc, inScope) {
				continue
			}
			anchor, ok := snap.Node(scc[0])
			if !ok {
				continue
			}
			sev := analysis.SeverityMedium
			what := "call"
			if kind == graph.EdgeKindImports {
				sev = analysis.SeverityHigh
				what = "import"
			}
			p := newPattern(PatternCircularDependency, anchor, 1.0, sev,
				fmt.Sprintf("%d nodes form a circular %s dependency through %s", len(scc), what, anchor.Name))
			p.Members = scc
			p.Cycle = shortestCycle(snap, scc, anchor.ID, kind)
			p.Metadata = map[string]any{"edge_kind": kind.String(), "size": len(scc)}
			out = append(out, p)
		}
	}
	return out, nil
}

func anyIn(ids []string, set map[string]bool) bool {
	for _, id := range ids {
		if set[id] {
			return true
		}
	}
	return false
}

func (d *Detector) eventEmitters(snap *graph.Snapshot, scope analysis.Scope) ([]Pattern, error) {
	events, err := scope.Nodes(snap, graph.NodeKindEvent)
	if err != nil {
		return nil, err
	}
	var out []Pattern
	for _, ev := range events {
		emitters := make(map[string]bool)
		for _, e := range snap.EdgesTo(ev.ID) {
			if e.Kind == graph.EdgeKindEmits {
				emitters[e.FromID] = true
			}
		}
		handlers := make(map[string]bool)
		for _, e := range snap.EdgesFrom(ev.ID) {
			if e.Kind == graph.EdgeKindRoutesTo || e.Kind == graph.EdgeKindCalls {
				handlers[e.ToID] = true
			}
		}

		var conf float64
		var desc string
		sev := analysis.SeverityInfo
		switch {
		case len(emitters) > 0 && len(handlers) > 0:
			conf = 0.9
			desc = fmt.Sprintf("event %s is emitted by %d and handled by %d nodes", ev.Name, len(emitters), len(handlers))
		case len(emitters) > 0:
			conf = 0.6
			sev = analysis.SeverityLow
			desc = fmt.Sprintf("event %s is emitted but has no handler", ev.Name)
		case len(handlers) > 0:
			conf = 0.5
			sev = analysis.SeverityLow
			desc = fmt.Sprintf("event %s has handlers but is never emitted", ev.Name)
		default:
			continue
		}

		p := newPattern(PatternEventEmitter, ev, conf, sev, desc)
		p.Members = sortedKeys(emitters, handlers)
		p.Metadata = map[string]any{
			"emitters": sortedKeys(emitters),
			"handlers": sortedKeys(handlers),
		}
		out = append(out, p)
	}
	return out, nil
}

func sortedKeys(sets ...map[string]bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range sets {
		for k := range s {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}
