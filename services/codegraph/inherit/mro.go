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
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// linearizer computes C3 linearizations with memoization.
type linearizer struct {
	snap       *graph.Snapshot
	memo       map[string][]string
	inProgress map[string]bool
	ambiguous  bool
}

func newLinearizer(snap *graph.Snapshot) *linearizer {
	return &linearizer{
		snap:       snap,
		memo:       make(map[string][]string),
		inProgress: make(map[string]bool),
	}
}

// mro returns the linearization of class and whether any merge along the
// way was inconsistent or hit an inheritance cycle.
func (l *linearizer) mro(class string) ([]string, bool) {
	out := l.linearize(class, 0)
	return out, l.ambiguous
}

func (l *linearizer) linearize(class string, depth int) []string {
	if cached, ok := l.memo[class]; ok {
		return cached
	}
	if l.inProgress[class] || depth > maxLinearizeDepth {
		l.ambiguous = true
		return []string{class}
	}
	l.inProgress[class] = true
	defer delete(l.inProgress, class)

	bases := BaseClasses(l.snap, class)
	seqs := make([][]string, 0, len(bases)+1)
	direct := make([]string, 0, len(bases))
	for _, b := range bases {
		if b.ID == class {
			l.ambiguous = true
			continue
		}
		seqs = append(seqs, l.linearize(b.ID, depth+1))
		direct = append(direct, b.ID)
	}
	seqs = append(seqs, direct)

	merged, ok := merge(seqs)
	if !ok {
		l.ambiguous = true
	}
	out := make([]string, 0, len(merged)+1)
	out = append(out, class)
	for _, id := range merged {
		if id != class {
			out = append(out, id)
		}
	}
	l.memo[class] = out
	return out
}

const maxLinearizeDepth = 50

// merge is the C3 merge. When no head is free of every tail, the head of
// the first non-empty sequence is taken and ok is false.
func merge(seqs [][]string) (out []string, ok bool) {
	ok = true
	lists := make([][]string, len(seqs))
	for i, s := range seqs {
		lists[i] = append([]string(nil), s...)
	}
	emitted := make(map[string]bool)

	for {
		lists = dropEmpty(lists)
		if len(lists) == 0 {
			return out, ok
		}

		var pick string
		for _, l := range lists {
			if !inAnyTail(lists, l[0]) {
				pick = l[0]
				break
			}
		}
		if pick == "" {
			ok = false
			pick = lists[0][0]
		}

		if !emitted[pick] {
			emitted[pick] = true
			out = append(out, pick)
		}
		for i, l := range lists {
			lists[i] = removeAll(l, pick)
		}
	}
}

func dropEmpty(lists [][]string) [][]string {
	out := lists[:0]
	for _, l := range lists {
		if len(l) > 0 {
			out = append(out, l)
		}
	}
	return out
}

func inAnyTail(lists [][]string, id string) bool {
	for _, l := range lists {
		for _, x := range l[1:] {
			if x == id {
				return true
			}
		}
	}
	return false
}

func removeAll(l []string, id string) []string {
	out := l[:0]
	for _, x := range l {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
