// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"strings"
)

// NodeKind classifies a node.
type NodeKind int

const (
	NodeKindUnknown NodeKind = iota
	NodeKindModule
	NodeKindClass
	NodeKindFunction
	NodeKindMethod
	NodeKindParameter
	NodeKindVariable
	NodeKindCall
	NodeKindImport
	NodeKindEvent
	NodeKindRoute
	NodeKindSQLQuery
	NodeKindLiteral

	// NumNodeKinds is the number of node kinds (for array sizing).
	NumNodeKinds
)

var nodeKindNames = [NumNodeKinds]string{
	NodeKindUnknown:   "unknown",
	NodeKindModule:    "module",
	NodeKindClass:     "class",
	NodeKindFunction:  "function",
	NodeKindMethod:    "method",
	NodeKindParameter: "parameter",
	NodeKindVariable:  "variable",
	NodeKindCall:      "call",
	NodeKindImport:    "import",
	NodeKindEvent:     "event",
	NodeKindRoute:     "route",
	NodeKindSQLQuery:  "sql_query",
	NodeKindLiteral:   "literal",
}

// String returns the string representation of the NodeKind.
func (k NodeKind) String() string {
	if k >= 0 && k < NumNodeKinds {
		return nodeKindNames[k]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k NodeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *NodeKind) UnmarshalText(b []byte) error {
	parsed, err := ParseNodeKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseNodeKind parses a node kind name. Matching is case-insensitive.
func ParseNodeKind(s string) (NodeKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "sqlquery" {
		norm = "sql_query"
	}
	for k, name := range nodeKindNames {
		if name == norm {
			return NodeKind(k), nil
		}
	}
	return NodeKindUnknown, fmt.Errorf("%w: unknown node kind %q", ErrInvalidScope, s)
}

// IsDefinition reports whether nodes of this kind define a named entity
// that references elsewhere can bind to.
func (k NodeKind) IsDefinition() bool {
	switch k {
	case NodeKindModule, NodeKindClass, NodeKindFunction, NodeKindMethod,
		NodeKindVariable, NodeKindEvent, NodeKindRoute:
		return true
	default:
		return false
	}
}

// IsCallable reports whether nodes of this kind can be invoked.
func (k NodeKind) IsCallable() bool {
	return k == NodeKindFunction || k == NodeKindMethod
}

// EdgeKind defines the type of relationship between two nodes.
//
// The declaration order is the traversal priority used to break ties
// between equally short paths.
type EdgeKind int

const (
	EdgeKindCalls EdgeKind = iota
	EdgeKindReads
	EdgeKindWrites
	EdgeKindImports
	EdgeKindExtends
	EdgeKindImplements
	EdgeKindEmits
	EdgeKindRoutesTo
	EdgeKindRaises

	// NumEdgeKinds is the number of edge kinds (for array sizing).
	NumEdgeKinds
)

var edgeKindNames = [NumEdgeKinds]string{
	EdgeKindCalls:      "calls",
	EdgeKindReads:      "reads",
	EdgeKindWrites:     "writes",
	EdgeKindImports:    "imports",
	EdgeKindExtends:    "extends",
	EdgeKindImplements: "implements",
	EdgeKindEmits:      "emits",
	EdgeKindRoutesTo:   "routes_to",
	EdgeKindRaises:     "raises",
}

// String returns the string representation of the EdgeKind.
func (k EdgeKind) String() string {
	if k >= 0 && k < NumEdgeKinds {
		return edgeKindNames[k]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k EdgeKind) MarshalText() ([]byte, error) {
	if k < 0 || k >= NumEdgeKinds {
		return nil, fmt.Errorf("%w: edge kind %d", ErrInvalidScope, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EdgeKind) UnmarshalText(b []byte) error {
	parsed, err := ParseEdgeKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseEdgeKind parses an edge kind name. Matching is case-insensitive and
// accepts both "routes_to" and "routesto".
func ParseEdgeKind(s string) (EdgeKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "routesto" {
		norm = "routes_to"
	}
	for k, name := range edgeKindNames {
		if name == norm {
			return EdgeKind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown edge kind %q", ErrInvalidScope, s)
}

// ParseEdgeKinds parses a list of edge kind names. Empty input yields nil,
// which traversal treats as "all kinds".
func ParseEdgeKinds(names []string) ([]EdgeKind, error) {
	if len(names) == 0 {
		return nil, nil
	}
	kinds := make([]EdgeKind, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		k, err := ParseEdgeKind(n)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Location is a source span.
type Location struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
	StartByte int    `json:"start_byte"`
	EndByte   int    `json:"end_byte"`
}

// Lines returns the number of source lines the span covers.
func (l Location) Lines() int {
	if l.EndLine < l.StartLine {
		return 0
	}
	return l.EndLine - l.StartLine + 1
}

// String returns "file:line:col".
func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.StartLine, l.StartCol)
}

// Node is a vertex of the program graph.
//
// A Node is immutable once committed. A changed span produces a new node
// with a new id; the old one is removed with its file generation.
type Node struct {
	ID        string         `json:"id"`
	Kind      NodeKind       `json:"kind"`
	Name      string         `json:"name"`
	Location  Location       `json:"location"`
	Signature string         `json:"signature,omitempty"`
	Language  string         `json:"language,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Parent is the id of the lexically enclosing node, if any.
	Parent string `json:"parent,omitempty"`

	// Placeholder marks an unresolved stand-in owned by the store.
	Placeholder bool `json:"placeholder,omitempty"`
}

// File returns the file that owns the node. Placeholders return "".
func (n *Node) File() string {
	if n.Placeholder {
		return ""
	}
	return n.Location.File
}

// Edge is a directed, typed relationship between two nodes.
//
// Multiple edges of the same kind between the same nodes are allowed
// (different call sites). Traversals dedupe on (FromID, ToID, Kind).
type Edge struct {
	FromID   string         `json:"from"`
	ToID     string         `json:"to"`
	Kind     EdgeKind       `json:"kind"`
	Location Location       `json:"location"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// File is the file whose batch declared the edge. Set by the store.
	File string `json:"file"`

	// Seq is the store-wide insertion sequence. Set by the store and kept
	// across idempotent re-parses.
	Seq uint64 `json:"seq"`
}

// key identifies an edge for idempotent re-parse matching.
type edgeKey struct {
	from, to  string
	kind      EdgeKind
	startByte int
	endByte   int
}

func (e *Edge) key() edgeKey {
	return edgeKey{e.FromID, e.ToID, e.Kind, e.Location.StartByte, e.Location.EndByte}
}

// withTarget returns a copy of e pointing at a new target.
func (e *Edge) withTarget(to string) *Edge {
	c := *e
	c.ToID = to
	return &c
}

// GenerateID returns the deterministic node id for a span.
//
// The id depends only on file, byte span and kind, so an unchanged
// re-parse yields the same id.
func GenerateID(file string, startByte, endByte int, kind NodeKind) string {
	return fmt.Sprintf("%s:%d-%d:%s", file, startByte, endByte, kind)
}

// NodeID returns the id for a node at loc. Parsers that report no byte
// offsets get a line/column based id instead.
func NodeID(loc Location, kind NodeKind) string {
	if loc.StartByte > 0 || loc.EndByte > 0 {
		return GenerateID(loc.File, loc.StartByte, loc.EndByte, kind)
	}
	return fmt.Sprintf("%s:L%d.%d-L%d.%d:%s", loc.File, loc.StartLine, loc.StartCol, loc.EndLine, loc.EndCol, kind)
}

// PlaceholderPrefix starts every placeholder node id.
const PlaceholderPrefix = "unresolved:"

// PlaceholderID returns the id of the placeholder for (name, fileHint).
func PlaceholderID(name, fileHint string) string {
	return PlaceholderPrefix + fileHint + ":" + name
}

// NewPlaceholder returns a placeholder node for (name, fileHint).
func NewPlaceholder(name, fileHint string) *Node {
	n := &Node{
		ID:          PlaceholderID(name, fileHint),
		Kind:        NodeKindUnknown,
		Name:        name,
		Placeholder: true,
	}
	if fileHint != "" {
		n.Metadata = map[string]any{MetaFileHint: fileHint}
	}
	return n
}

// IsPlaceholderID reports whether id names a placeholder node.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// Well-known metadata keys shared by the builder and analyzers.
const (
	MetaFileHint       = "file_hint"
	MetaQualifiedName  = "qualified_name"
	MetaExported       = "exported"
	MetaDecorators     = "decorators"
	MetaMetaclass      = "metaclass"
	MetaPosition       = "position"
	MetaOperator       = "op"
	MetaArgPosition    = "arg_position"
	MetaArgName        = "arg_name"
	MetaField          = "field"
	MetaVia            = "via"
	MetaDecisionPoints = "decision_points"
	MetaDecisionNest   = "decision_nesting"
	MetaHalsteadVolume = "halstead_volume"
	MetaDistinctTokens = "distinct_tokens"
	MetaBody           = "body"
	MetaDynamicAttrs   = "dynamic_attributes"
	MetaStatic         = "static"
)

// MetaString returns metadata[key] as a string.
func MetaString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	switch v := md[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// MetaInt returns metadata[key] as an int. JSON numbers decode as float64
// and are accepted.
func MetaInt(md map[string]any, key string) (int, bool) {
	if md == nil {
		return 0, false
	}
	switch v := md[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// MetaFloat returns metadata[key] as a float64.
func MetaFloat(md map[string]any, key string) (float64, bool) {
	if md == nil {
		return 0, false
	}
	switch v := md[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// MetaBool returns metadata[key] as a bool.
func MetaBool(md map[string]any, key string) bool {
	if md == nil {
		return false
	}
	switch v := md[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// MetaStrings returns metadata[key] as a string slice. A comma-separated
// string is split.
func MetaStrings(md map[string]any, key string) []string {
	if md == nil {
		return nil
	}
	switch v := md[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	default:
		return nil
	}
}

// MetaInts returns metadata[key] as an int slice.
func MetaInts(md map[string]any, key string) []int {
	if md == nil {
		return nil
	}
	switch v := md[key].(type) {
	case []int:
		return v
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case float64:
				out = append(out, int(n))
			case int:
				out = append(out, n)
			}
		}
		return out
	default:
		return nil
	}
}
