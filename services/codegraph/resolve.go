// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codegraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// resolveNode binds a node argument to a node.
//
// Description:
//
//	An existing node id is used as is and yields no Resolution. Otherwise
//	arg is treated as a symbol name (or a dotted qualified name). Among
//	the candidates, definition kinds are preferred and the lowest id wins;
//	the rest are listed as alternatives.
//
// Inputs:
//
//	snap - The snapshot to search.
//	arg - Node id or symbol name.
//	kinds - Restrict candidates to these node kinds. Empty means any.
//
// Outputs:
//
//	*graph.Node - The chosen node.
//	*Resolution - How a name was bound, nil for ids.
//	error - ErrNodeNotFound if nothing matches.
func resolveNode(snap *graph.Snapshot, arg string, kinds ...graph.NodeKind) (*graph.Node, *Resolution, error) {
	if arg == "" {
		return nil, nil, fmt.Errorf("%w: empty node argument", graph.ErrInvalidScope)
	}
	if n, ok := snap.Node(arg); ok && kindAllowed(n.Kind, kinds) {
		return n, nil, nil
	}

	candidates := filterCandidates(snap.NodesByName(arg), kinds)
	if len(candidates) == 0 && strings.Contains(arg, ".") {
		short := arg[strings.LastIndex(arg, ".")+1:]
		for _, n := range filterCandidates(snap.NodesByName(short), kinds) {
			q := graph.MetaString(n.Metadata, graph.MetaQualifiedName)
			if q == arg || strings.HasSuffix(q, "."+arg) {
				candidates = append(candidates, n)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, arg)
	}

	sort.Slice(candidates, func(i, j int) bool {
		di, dj := candidates[i].Kind.IsDefinition(), candidates[j].Kind.IsDefinition()
		if di != dj {
			return di
		}
		return candidates[i].ID < candidates[j].ID
	})

	chosen := candidates[0]
	res := &Resolution{Query: arg, NodeID: chosen.ID}
	if len(candidates) > 1 {
		alts := make([]NodeRef, 0, len(candidates)-1)
		for _, n := range candidates[1:] {
			alts = append(alts, nodeRef(n))
		}
		sort.Slice(alts, func(i, j int) bool { return alts[i].NodeID < alts[j].NodeID })
		res.Alternatives = alts
	}
	return chosen, res, nil
}

func filterCandidates(nodes []*graph.Node, kinds []graph.NodeKind) []*graph.Node {
	out := make([]*graph.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Placeholder || !kindAllowed(n.Kind, kinds) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func kindAllowed(k graph.NodeKind, kinds []graph.NodeKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// appendResolution adds r to list when it is set.
func appendResolution(list []Resolution, r *Resolution) []Resolution {
	if r == nil {
		return list
	}
	return append(list, *r)
}

// parseEdgeKinds accepts repeated values and comma-separated lists.
func parseEdgeKinds(values []string) ([]graph.EdgeKind, error) {
	var names []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				names = append(names, part)
			}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	return graph.ParseEdgeKinds(names)
}

// hasGlobMeta reports whether pattern uses glob syntax.
func hasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// matchSymbol classifies how name matches the lowercased pattern.
func matchSymbol(name, lower string, glob bool) (string, bool) {
	if glob {
		ok, err := doublestar.Match(lower, strings.ToLower(name))
		if err != nil || !ok {
			return "", false
		}
		return MatchGlob, true
	}
	ln := strings.ToLower(name)
	switch {
	case ln == lower:
		return MatchExact, true
	case strings.HasPrefix(ln, lower):
		return MatchPrefix, true
	case strings.Contains(ln, lower):
		return MatchSubstring, true
	default:
		return "", false
	}
}

func matchRank(m string) int {
	switch m {
	case MatchExact:
		return 0
	case MatchPrefix:
		return 1
	case MatchSubstring:
		return 2
	default:
		return 3
	}
}
