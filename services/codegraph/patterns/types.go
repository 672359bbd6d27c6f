// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patterns detects structural design patterns, anti-patterns and
// duplicated code in a graph snapshot.
//
// # Description
//
// Pattern detection is heuristic and graph-shape based: every detector
// looks at node kinds, names, parent links and edge fan-in/fan-out only.
// Each result carries a confidence score indicating certainty.
//
// # Thread Safety
//
// All detector types are safe for concurrent use.
package patterns

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/codegraph/services/codegraph/analysis"
	"github.com/AleutianAI/codegraph/services/codegraph/deps"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// PatternType identifies the detected pattern.
type PatternType string

const (
	// PatternSingleton is a class that hands out one shared instance.
	PatternSingleton PatternType = "singleton"

	// PatternFactory creates objects without exposing instantiation.
	PatternFactory PatternType = "factory"

	// PatternObserver registers listeners and notifies them.
	PatternObserver PatternType = "observer"

	// PatternGodClass is a class with too many members or dependencies.
	PatternGodClass PatternType = "god_class"

	// PatternHub is a node with very high fan-in.
	PatternHub PatternType = "hub"

	// PatternCircularDependency is an import or call cycle.
	PatternCircularDependency PatternType = "circular_dependency"

	// PatternEventEmitter pairs event emitters with their handlers.
	PatternEventEmitter PatternType = "event_emitter"
)

// AllPatternTypes lists every detector in reporting order.
var AllPatternTypes = []PatternType{
	PatternSingleton,
	PatternFactory,
	PatternObserver,
	PatternGodClass,
	PatternHub,
	PatternCircularDependency,
	PatternEventEmitter,
}

func (p PatternType) order() int {
	for i, t := range AllPatternTypes {
		if t == p {
			return i
		}
	}
	return len(AllPatternTypes)
}

// ParsePatternTypes parses pattern type names. No names selects every type.
// Unknown names are an InvalidScope error.
func ParsePatternTypes(names []string) ([]PatternType, error) {
	if len(names) == 0 {
		return AllPatternTypes, nil
	}
	out := make([]PatternType, 0, len(names))
	seen := make(map[PatternType]bool)
	for _, name := range names {
		norm := PatternType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"))
		if norm == "circular" || norm == "cycle" {
			norm = PatternCircularDependency
		}
		if norm.order() == len(AllPatternTypes) {
			return nil, fmt.Errorf("%w: unknown pattern type %q", graph.ErrInvalidScope, name)
		}
		if !seen[norm] {
			seen[norm] = true
			out = append(out, norm)
		}
	}
	return out, nil
}

// Pattern is one detected pattern instance.
type Pattern struct {
	// Type identifies the pattern.
	Type PatternType `json:"type"`

	// NodeID is the anchor node: the class, function, hub, event, or the
	// lowest-id member of a cycle.
	NodeID   string         `json:"node_id"`
	Name     string         `json:"name"`
	Location graph.Location `json:"location"`

	// Members are the other nodes taking part, ordered by id. A circular
	// dependency lists every node of the cycle, the anchor included.
	Members []string `json:"members,omitempty"`

	Confidence  float64           `json:"confidence"`
	Severity    analysis.Severity `json:"severity"`
	Description string            `json:"description"`

	// Cycle is set for circular dependencies: one concrete cycle through
	// the anchor.
	Cycle *deps.Cycle `json:"cycle,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Finding converts the pattern to an analyzer finding.
func (p Pattern) Finding() analysis.Finding {
	md := map[string]any{"pattern": string(p.Type)}
	if len(p.Members) > 0 {
		md["members"] = p.Members
	}
	for k, v := range p.Metadata {
		md[k] = v
	}
	return analysis.Finding{
		Kind:       string(p.Type),
		NodeID:     p.NodeID,
		Name:       p.Name,
		Location:   p.Location,
		Severity:   p.Severity,
		Confidence: p.Confidence,
		Message:    p.Description,
		Metadata:   md,
	}
}

// DuplicationType categorizes duplicates.
type DuplicationType string

const (
	// DuplicationExact is token-for-token identical code.
	DuplicationExact DuplicationType = "exact"

	// DuplicationStructural is the same code with renamed identifiers.
	DuplicationStructural DuplicationType = "structural"

	// DuplicationNear is similar code with small differences.
	DuplicationNear DuplicationType = "near"
)

// DupLocation is one side of a duplicate pair.
type DupLocation struct {
	NodeID   string         `json:"node_id"`
	Name     string         `json:"name"`
	Location graph.Location `json:"location"`
}

// Duplicate is a pair of similar code blocks.
type Duplicate struct {
	Type       DuplicationType `json:"type"`
	Similarity float64         `json:"similarity"`

	// Locations holds both sides, lower node id first.
	Locations  []DupLocation `json:"locations"`
	Suggestion string        `json:"suggestion"`
	Confidence float64       `json:"confidence"`
}
