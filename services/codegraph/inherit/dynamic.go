// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inherit

import (
	"strings"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Metaclass records where a class's metaclass comes from.
type Metaclass struct {
	Name   string `json:"name"`
	NodeID string `json:"node_id,omitempty"`

	// DeclaredBy is the class that names the metaclass. Empty for
	// metaclasses implied by a framework base.
	DeclaredBy string `json:"declared_by,omitempty"`

	// Source is "declared", "inherited", "framework" or "base".
	Source string `json:"source"`
}

// Mixin is a base class that looks like a mixin.
type Mixin struct {
	NodeID     string  `json:"node_id"`
	Name       string  `json:"name"`
	Position   int     `json:"position"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// DynamicAttribute is an attribute that is not declared in the class body
// but is likely present at runtime.
type DynamicAttribute struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	CreatedBy  string  `json:"created_by"`

	// Source is "decorator", "metaclass", "framework" or "setattr".
	Source string `json:"source"`
}

// Mixin confidences.
const (
	mixinByName     = 0.9
	mixinByPosition = 0.5
	mixinByBoth     = 0.95
)

func detectMixins(bases []ClassRef) []Mixin {
	var out []Mixin
	multiple := len(bases) > 1
	for i, b := range bases {
		named := strings.HasSuffix(b.Name, "Mixin")
		later := multiple && i > 0
		m := Mixin{NodeID: b.NodeID, Name: b.Name, Position: i}
		switch {
		case named && later:
			m.Confidence, m.Reason = mixinByBoth, "Mixin suffix and non-primary base"
		case named:
			m.Confidence, m.Reason = mixinByName, "Mixin suffix"
		case later:
			m.Confidence, m.Reason = mixinByPosition, "non-primary base under multiple inheritance"
		default:
			continue
		}
		out = append(out, m)
	}
	return out
}

// isMetaclass reports whether n is itself a metaclass: it derives from the
// root type object, or is named like one.
func isMetaclass(snap *graph.Snapshot, n *graph.Node, mro []string) bool {
	for _, id := range mro {
		if id == n.ID {
			continue
		}
		if b, ok := snap.Node(id); ok && b.Name == "type" {
			return true
		}
	}
	return looksLikeMetaclass(n.Name)
}

// looksLikeMetaclass matches *Meta and *Metaclass. A bare "Meta" is the
// Django options idiom and is not a metaclass.
func looksLikeMetaclass(name string) bool {
	if name == "Meta" {
		return false
	}
	return strings.HasSuffix(name, "Metaclass") || strings.HasSuffix(name, "Meta")
}

// frameworkMetaclasses are metaclasses implied by well-known bases.
var frameworkMetaclasses = map[string]string{
	"ABC":      "ABCMeta",
	"Enum":     "EnumMeta",
	"IntEnum":  "EnumMeta",
	"StrEnum":  "EnumMeta",
	"Flag":     "EnumMeta",
	"IntFlag":  "EnumMeta",
	"Model":    "ModelBase",
	"Protocol": "_ProtocolMeta",
}

// effectiveMetaclass returns the first declared metaclass along the MRO,
// or one implied by a framework base.
func effectiveMetaclass(snap *graph.Snapshot, mro []string) *Metaclass {
	for i, id := range mro {
		n, ok := snap.Node(id)
		if !ok {
			continue
		}
		if name := graph.MetaString(n.Metadata, graph.MetaMetaclass); name != "" {
			src := "declared"
			if i > 0 {
				src = "inherited"
			}
			return &Metaclass{Name: name, NodeID: resolveClass(snap, name), DeclaredBy: id, Source: src}
		}
	}
	for _, id := range mro[1:] {
		if n, ok := snap.Node(id); ok {
			if meta, ok := frameworkMetaclasses[n.Name]; ok {
				return &Metaclass{Name: meta, NodeID: resolveClass(snap, meta), Source: "framework"}
			}
		}
	}
	return nil
}

// metaclassChain lists every declared metaclass along the MRO, then the
// bases of the effective metaclass when it is indexed.
func metaclassChain(snap *graph.Snapshot, mro []string) []Metaclass {
	var out []Metaclass
	seen := make(map[string]bool)
	for i, id := range mro {
		n, ok := snap.Node(id)
		if !ok {
			continue
		}
		name := graph.MetaString(n.Metadata, graph.MetaMetaclass)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		src := "declared"
		if i > 0 {
			src = "inherited"
		}
		out = append(out, Metaclass{Name: name, NodeID: resolveClass(snap, name), DeclaredBy: id, Source: src})
	}
	if len(out) == 0 {
		if eff := effectiveMetaclass(snap, mro); eff != nil {
			out = append(out, *eff)
			seen[eff.Name] = true
		}
	}
	if len(out) > 0 && out[0].NodeID != "" {
		metaMRO, _ := newLinearizer(snap).mro(out[0].NodeID)
		for _, id := range metaMRO[1:] {
			b, ok := snap.Node(id)
			if !ok || seen[b.Name] {
				continue
			}
			seen[b.Name] = true
			out = append(out, Metaclass{Name: b.Name, NodeID: b.ID, Source: "base"})
		}
	}
	return out
}

// resolveClass returns the lowest-id indexed class named name, matching on
// the last dotted segment. Empty if none.
func resolveClass(snap *graph.Snapshot, name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	for _, n := range snap.NodesByName(name) {
		if n.Kind == graph.NodeKindClass && !n.Placeholder {
			return n.ID
		}
	}
	return ""
}

type injection struct {
	attrs      []string
	confidence float64
}

var decoratorInjections = map[string][]injection{
	"dataclass":      {{[]string{"__init__", "__repr__", "__eq__"}, 0.9}},
	"attr.s":         {{[]string{"__init__", "__repr__", "__eq__"}, 0.8}},
	"attrs":          {{[]string{"__init__", "__repr__", "__eq__"}, 0.8}},
	"define":         {{[]string{"__init__", "__repr__", "__eq__"}, 0.8}},
	"total_ordering": {{[]string{"__le__", "__gt__", "__ge__"}, 0.8}},
}

var metaclassInjections = map[string][]injection{
	"ABCMeta":   {{[]string{"__abstractmethods__"}, 0.8}, {[]string{"register"}, 0.7}},
	"EnumMeta":  {{[]string{"__members__"}, 0.9}},
	"EnumType":  {{[]string{"__members__"}, 0.9}},
	"ModelBase": {{[]string{"_meta", "DoesNotExist", "MultipleObjectsReturned"}, 0.7}},
}

var frameworkInjections = map[string][]injection{
	"Enum":          {{[]string{"name", "value"}, 0.9}},
	"IntEnum":       {{[]string{"name", "value"}, 0.9}},
	"StrEnum":       {{[]string{"name", "value"}, 0.9}},
	"Model":         {{[]string{"objects", "DoesNotExist", "MultipleObjectsReturned", "pk"}, 0.7}},
	"NamedTuple":    {{[]string{"_fields", "_asdict", "_replace", "_make"}, 0.9}},
	"BaseModel":     {{[]string{"model_fields", "model_dump", "model_validate"}, 0.7}},
	"Exception":     {{[]string{"args"}, 0.6}},
	"BaseException": {{[]string{"args"}, 0.6}},
}

// Confidence for parser-reported setattr targets.
const setattrConfidence = 0.5

type attrSet struct {
	out      []DynamicAttribute
	index    map[string]int
	declared map[string]bool
}

func (s *attrSet) add(name string, confidence float64, createdBy, source string) {
	if s.declared[name] {
		return
	}
	if i, ok := s.index[name]; ok {
		if confidence > s.out[i].Confidence {
			s.out[i] = DynamicAttribute{Name: name, Confidence: confidence, CreatedBy: createdBy, Source: source}
		}
		return
	}
	s.index[name] = len(s.out)
	s.out = append(s.out, DynamicAttribute{Name: name, Confidence: confidence, CreatedBy: createdBy, Source: source})
}

func (s *attrSet) addAll(injs []injection, createdBy, source string) {
	for _, inj := range injs {
		for _, a := range inj.attrs {
			s.add(a, inj.confidence, createdBy, source)
		}
	}
}

// inferDynamic lists attributes plausibly injected into class at runtime.
// Names already declared as members are skipped.
func inferDynamic(snap *graph.Snapshot, class *graph.Node, mro []string, meta *Metaclass, includeMeta bool, members []Member) []DynamicAttribute {
	s := &attrSet{index: make(map[string]int), declared: make(map[string]bool, len(members))}
	for _, m := range members {
		s.declared[m.Name] = true
	}

	for _, raw := range graph.MetaStrings(class.Metadata, graph.MetaDecorators) {
		name, args := splitDecorator(raw)
		if injs, ok := decoratorInjections[name]; ok {
			s.addAll(injs, "@"+name, "decorator")
		}
		if name == "dataclass" && strings.Contains(args, "order=True") {
			s.addAll([]injection{{[]string{"__lt__", "__le__", "__gt__", "__ge__"}, 0.9}}, "@"+name, "decorator")
		}
		if name == "dataclass" && strings.Contains(args, "frozen=True") {
			s.addAll([]injection{{[]string{"__hash__"}, 0.8}}, "@"+name, "decorator")
		}
	}

	if includeMeta && meta != nil {
		if injs, ok := metaclassInjections[meta.Name]; ok {
			s.addAll(injs, "metaclass "+meta.Name, "metaclass")
		}
	}

	for _, id := range mro[1:] {
		if n, ok := snap.Node(id); ok {
			if injs, ok := frameworkInjections[n.Name]; ok {
				s.addAll(injs, "base "+n.Name, "framework")
			}
		}
	}

	for _, a := range graph.MetaStrings(class.Metadata, graph.MetaDynamicAttrs) {
		s.add(a, setattrConfidence, "setattr", "setattr")
	}
	return s.out
}

// splitDecorator turns "@dataclasses.dataclass(order=True)" into
// ("dataclass", "order=True"). "attr.s" keeps its module.
func splitDecorator(raw string) (name, args string) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if i := strings.Index(raw, "("); i >= 0 {
		args = strings.TrimSuffix(raw[i+1:], ")")
		raw = raw[:i]
	}
	if raw == "attr.s" || raw == "attr.attrs" {
		return "attr.s", args
	}
	if i := strings.LastIndex(raw, "."); i >= 0 {
		raw = raw[i+1:]
	}
	return raw, args
}
