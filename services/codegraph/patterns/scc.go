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

	"github.com/AleutianAI/codegraph/services/codegraph/deps"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/traverse"
)

// stronglyConnected returns the strongly connected components with more
// than one member over edges of kind, each sorted by id, ordered by their
// lowest id.
//
// Description:
//
//	Tarjan's algorithm with an explicit call stack so deep graphs cannot
//	overflow the goroutine stack. Placeholders are skipped since an
//	unresolved target cannot close a cycle. O(V + E).
func stronglyConnected(ctx context.Context, snap *graph.Snapshot, kind graph.EdgeKind) ([][]string, error) {
	index := 0
	nodeIndex := make(map[string]int)
	lowLink := make(map[string]int)
	onStack := make(map[string]bool)
	var sccStack []string
	var sccs [][]string

	ks := traverse.Kinds(kind)
	successors := func(id string) []string {
		var out []string
		for _, e := range traverse.Neighbors(snap, id, traverse.Forward, ks) {
			if n, ok := snap.Node(e.ToID); ok && !n.Placeholder {
				out = append(out, e.ToID)
			}
		}
		return out
	}

	type callFrame struct {
		id    string
		succ  []string
		next  int
		child string
	}

	strongConnect := func(root string) {
		nodeIndex[root] = index
		lowLink[root] = index
		index++
		sccStack = append(sccStack, root)
		onStack[root] = true
		stack := []callFrame{{id: root, succ: successors(root)}}

		for len(stack) > 0 {
			frame := &stack[len(stack)-1]

			if frame.child != "" {
				if lowLink[frame.child] < lowLink[frame.id] {
					lowLink[frame.id] = lowLink[frame.child]
				}
				frame.child = ""
			}

			if frame.next < len(frame.succ) {
				w := frame.succ[frame.next]
				frame.next++
				if _, visited := nodeIndex[w]; !visited {
					frame.child = w
					nodeIndex[w] = index
					lowLink[w] = index
					index++
					sccStack = append(sccStack, w)
					onStack[w] = true
					stack = append(stack, callFrame{id: w, succ: successors(w)})
				} else if onStack[w] && nodeIndex[w] < lowLink[frame.id] {
					lowLink[frame.id] = nodeIndex[w]
				}
				continue
			}

			if lowLink[frame.id] == nodeIndex[frame.id] {
				var scc []string
				for {
					w := sccStack[len(sccStack)-1]
					sccStack = sccStack[:len(sccStack)-1]
					onStack[w] = false
					scc = append(scc, w)
					if w == frame.id {
						break
					}
				}
				if len(scc) > 1 {
					sort.Strings(scc)
					sccs = append(sccs, scc)
				}
			}
			stack = stack[:len(stack)-1]
		}
	}

	for i, n := range snap.Nodes() {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("find cycles: %w", err)
			}
		}
		if n.Placeholder {
			continue
		}
		if _, visited := nodeIndex[n.ID]; !visited {
			strongConnect(n.ID)
		}
	}

	sort.Slice(sccs, func(i, j int) bool { return sccs[i][0] < sccs[j][0] })
	return sccs, nil
}

// shortestCycle returns the shortest cycle through start using only
// members of scc, as a deps.Cycle closing back into start.
func shortestCycle(snap *graph.Snapshot, scc []string, start string, kind graph.EdgeKind) *deps.Cycle {
	in := make(map[string]bool, len(scc))
	for _, id := range scc {
		in[id] = true
	}
	ks := traverse.Kinds(kind)
	prev := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, e := range traverse.Neighbors(snap, u, traverse.Forward, ks) {
			v := e.ToID
			if v == start {
				var members []string
				for cur := u; cur != ""; cur = prev[cur] {
					members = append(members, cur)
				}
				for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
					members[i], members[j] = members[j], members[i]
				}
				return &deps.Cycle{
					Members:     members,
					ClosingEdge: deps.ClosingEdge{From: u, To: start, Kind: kind},
				}
			}
			if !in[v] {
				continue
			}
			if _, seen := prev[v]; seen {
				continue
			}
			prev[v] = u
			queue = append(queue, v)
		}
	}
	return nil
}
