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
	"maps"
	"sort"
	"strings"
)

// txn builds the next snapshot from the current one.
//
// Top-level maps are cloned up front. Slices and file generations are
// copied the first time a txn touches them; the own* sets record which
// ones this txn already holds a private copy of.
type txn struct {
	s *Snapshot

	ownOut     map[string]bool
	ownIn      map[string]bool
	ownName    map[string]bool
	ownPending map[string]bool
	ownFile    map[string]bool
	ownKind    [NumNodeKinds]bool

	touched map[string]bool
	result  CommitResult
}

func beginTxn(old *Snapshot) *txn {
	s := &Snapshot{
		generation: old.generation + 1,
		nextSeq:    old.nextSeq,
		nodes:      maps.Clone(old.nodes),
		files:      maps.Clone(old.files),
		out:        maps.Clone(old.out),
		in:         maps.Clone(old.in),
		byName:     maps.Clone(old.byName),
		byKind:     old.byKind,
		pending:    maps.Clone(old.pending),
		edgeCount:  old.edgeCount,
	}
	return &txn{
		s:          s,
		ownOut:     make(map[string]bool),
		ownIn:      make(map[string]bool),
		ownName:    make(map[string]bool),
		ownPending: make(map[string]bool),
		ownFile:    make(map[string]bool),
		touched:    make(map[string]bool),
	}
}

// =============================================================================
// UPSERT / REMOVE
// =============================================================================

func (t *txn) upsert(b *FileBatch) error {
	if b.File == "" {
		return fmt.Errorf("%w: empty file path", ErrInvalidBatch)
	}

	old := t.s.files[b.File]
	oldNodes := make(map[string]*Node)
	if old != nil {
		for _, id := range old.nodeIDs {
			oldNodes[id] = t.s.nodes[id]
		}
	}

	newNodes := make(map[string]*Node, len(b.Nodes))
	for _, n := range b.Nodes {
		if n == nil || n.ID == "" {
			return fmt.Errorf("%w: node without id", ErrInvalidBatch)
		}
		if n.Kind < 0 || n.Kind >= NumNodeKinds {
			return fmt.Errorf("%w: node kind %d", ErrInvalidBatch, int(n.Kind))
		}
		if _, dup := newNodes[n.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		if n.Placeholder {
			if !IsPlaceholderID(n.ID) {
				return fmt.Errorf("%w: placeholder id %q", ErrInvalidBatch, n.ID)
			}
		} else {
			if n.Location.File != b.File {
				return fmt.Errorf("%w: %s", ErrForeignNode, n.ID)
			}
			if existing, ok := t.s.nodes[n.ID]; ok && !existing.Placeholder {
				if _, mine := oldNodes[n.ID]; !mine {
					return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
				}
			}
		}
		newNodes[n.ID] = n
	}

	exists := func(id string) bool {
		if _, ok := newNodes[id]; ok {
			return true
		}
		if _, replaced := oldNodes[id]; replaced {
			return false
		}
		_, ok := t.s.nodes[id]
		return ok
	}
	for _, e := range b.Edges {
		if e == nil {
			return fmt.Errorf("%w: nil edge", ErrInvalidBatch)
		}
		if e.Kind < 0 || e.Kind >= NumEdgeKinds {
			return fmt.Errorf("%w: edge kind %d", ErrInvalidBatch, int(e.Kind))
		}
		if !exists(e.FromID) {
			return fmt.Errorf("%w: source %s", ErrDanglingEdge, e.FromID)
		}
		if !exists(e.ToID) {
			return fmt.Errorf("%w: target %s", ErrDanglingEdge, e.ToID)
		}
	}

	// Drop the previous generation, remembering edge sequence numbers so an
	// unchanged re-parse keeps its ordering.
	oldSeq := make(map[edgeKey]uint64)
	if old != nil {
		for _, e := range old.edges {
			oldSeq[e.key()] = e.Seq
			t.removeEdge(e)
			t.result.EdgesRemoved++
		}
		for _, id := range old.nodeIDs {
			t.unindexNode(oldNodes[id])
			t.result.NodesRemoved++
		}
	}

	fg := &fileGen{language: b.Language}
	var fresh []*Node
	var batchPlaceholders []string
	for _, n := range b.Nodes {
		if n.Placeholder {
			batchPlaceholders = append(batchPlaceholders, n.ID)
			if _, ok := t.s.nodes[n.ID]; !ok {
				t.indexNode(n)
				t.result.PlaceholdersCreated++
			}
			t.touched[n.ID] = true
			continue
		}
		t.indexNode(n)
		fg.nodeIDs = append(fg.nodeIDs, n.ID)
		t.result.NodesAdded++
		fresh = append(fresh, n)
	}

	// Foreign edges into nodes that vanished from this generation fall back
	// to placeholders. The resolution pass below rebinds them if a node of
	// the same name still exists in the new generation.
	if old != nil {
		for _, id := range old.nodeIDs {
			if _, still := newNodes[id]; still {
				continue
			}
			t.detach(oldNodes[id], b.File)
		}
	}

	t.s.files[b.File] = fg
	t.ownFile[b.File] = true

	seen := make(map[edgeKey]bool, len(b.Edges))
	for _, e := range b.Edges {
		c := *e
		c.File = b.File
		k := c.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		if seq, ok := oldSeq[k]; ok {
			c.Seq = seq
		} else {
			c.Seq = t.s.nextSeq
			t.s.nextSeq++
		}
		t.addEdge(&c)
		fg.edges = append(fg.edges, &c)
		t.result.EdgesAdded++
	}

	for _, n := range fresh {
		t.resolvePendingFor(n)
	}
	for _, pid := range batchPlaceholders {
		t.tryResolve(pid)
	}

	t.collectPlaceholders()
	return nil
}

func (t *txn) remove(file string) error {
	old, ok := t.s.files[file]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, file)
	}

	for _, e := range old.edges {
		t.removeEdge(e)
		t.result.EdgesRemoved++
	}
	removed := make([]*Node, 0, len(old.nodeIDs))
	for _, id := range old.nodeIDs {
		n := t.s.nodes[id]
		removed = append(removed, n)
		t.unindexNode(n)
		t.result.NodesRemoved++
	}
	delete(t.s.files, file)

	for _, n := range removed {
		t.detach(n, file)
	}
	t.collectPlaceholders()
	return nil
}

// =============================================================================
// PLACEHOLDER RESOLUTION
// =============================================================================

// detach moves edges still attached to a removed node onto a placeholder
// keyed by the node's name and file.
func (t *txn) detach(n *Node, file string) {
	if n == nil {
		return
	}
	incoming := append([]*Edge(nil), t.s.in[n.ID]...)
	outgoing := append([]*Edge(nil), t.s.out[n.ID]...)
	if len(incoming) == 0 && len(outgoing) == 0 {
		return
	}

	p := t.ensurePlaceholder(n.Name, file)
	for _, e := range incoming {
		t.swapEdge(e, e.withTarget(p.ID))
		t.result.Retargeted++
	}
	for _, e := range outgoing {
		c := *e
		c.FromID = p.ID
		t.swapEdge(e, &c)
		t.result.Retargeted++
	}
}

func (t *txn) ensurePlaceholder(name, fileHint string) *Node {
	id := PlaceholderID(name, fileHint)
	if n, ok := t.s.nodes[id]; ok {
		t.touched[id] = true
		return n
	}
	p := NewPlaceholder(name, fileHint)
	t.indexNode(p)
	t.touched[id] = true
	t.result.PlaceholdersCreated++
	return p
}

// resolvePendingFor retries every placeholder that names a newly indexed
// node. BestDefinition decides whether the node may bind.
func (t *txn) resolvePendingFor(def *Node) {
	names := []string{def.Name}
	if q := MetaString(def.Metadata, MetaQualifiedName); q != "" && q != def.Name {
		names = append(names, q)
	}
	for _, name := range names {
		for _, pid := range append([]string(nil), t.s.pending[name]...) {
			t.tryResolve(pid)
		}
	}
}

// tryResolve rebinds all edges of a placeholder to its best definition.
func (t *txn) tryResolve(pid string) {
	p, ok := t.s.nodes[pid]
	if !ok || !p.Placeholder {
		return
	}
	hint := MetaString(p.Metadata, MetaFileHint)

	var kinds []EdgeKind
	for _, e := range t.s.in[pid] {
		kinds = append(kinds, e.Kind)
	}
	target := BestDefinition(t.s, p.Name, hint, kinds)
	if target == nil {
		return
	}

	for _, e := range append([]*Edge(nil), t.s.in[pid]...) {
		t.swapEdge(e, e.withTarget(target.ID))
		t.result.Retargeted++
	}
	for _, e := range append([]*Edge(nil), t.s.out[pid]...) {
		c := *e
		c.FromID = target.ID
		t.swapEdge(e, &c)
		t.result.Retargeted++
	}
	t.touched[pid] = true
	t.result.PlaceholdersResolved++
}

// collectPlaceholders removes touched placeholders that no edge uses.
func (t *txn) collectPlaceholders() {
	ids := make([]string, 0, len(t.touched))
	for id := range t.touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n, ok := t.s.nodes[id]
		if !ok || !n.Placeholder {
			continue
		}
		if len(t.s.in[id]) == 0 && len(t.s.out[id]) == 0 {
			t.unindexNode(n)
		}
	}
}

// BestDefinition picks the definition a reference named name binds to.
//
// Description:
//
//	Candidates are non-placeholder definition nodes called name (or whose
//	qualified name ends with name when name is dotted) that accept every
//	edge kind in kinds. A non-empty hint restricts candidates to files
//	matching the hint. Parameters are candidates only when a hint or a
//	qualified name narrows the reference and kinds is non-empty, so an
//	argument written at a call site binds to the callee's parameter. Ties
//	go to the lowest id.
//
// Outputs:
//
//	*Node - The chosen definition, or nil.
func BestDefinition(s *Snapshot, name, hint string, kinds []EdgeKind) *Node {
	candidates := s.NodesByName(name)
	if len(candidates) == 0 && strings.Contains(name, ".") {
		short := name[strings.LastIndex(name, ".")+1:]
		for _, n := range s.NodesByName(short) {
			q := MetaString(n.Metadata, MetaQualifiedName)
			if q == name || strings.HasSuffix(q, "."+name) {
				candidates = append(candidates, n)
			}
		}
	}

	narrowed := hint != "" || strings.Contains(name, ".")
	for _, n := range candidates {
		if !bindable(n, narrowed, len(kinds) > 0) {
			continue
		}
		if hint != "" && !MatchesFileHint(n.Location.File, hint) {
			continue
		}
		ok := true
		for _, k := range kinds {
			if !AcceptsTarget(k, n.Kind) {
				ok = false
				break
			}
		}
		if ok {
			return n
		}
	}
	return nil
}

func bindable(n *Node, narrowed, typed bool) bool {
	switch {
	case n.Placeholder:
		return false
	case n.Kind.IsDefinition():
		return true
	default:
		return n.Kind == NodeKindParameter && narrowed && typed
	}
}

// AcceptsTarget reports whether an edge of kind k may point at a node of
// kind target once resolved.
func AcceptsTarget(k EdgeKind, target NodeKind) bool {
	switch k {
	case EdgeKindCalls:
		return target == NodeKindFunction || target == NodeKindMethod || target == NodeKindClass
	case EdgeKindExtends, EdgeKindImplements, EdgeKindRaises:
		return target == NodeKindClass
	case EdgeKindImports:
		return target == NodeKindModule || target == NodeKindClass ||
			target == NodeKindFunction || target == NodeKindVariable
	case EdgeKindReads, EdgeKindWrites:
		return target == NodeKindVariable || target == NodeKindParameter ||
			target == NodeKindModule || target == NodeKindClass
	case EdgeKindEmits:
		return target == NodeKindEvent
	case EdgeKindRoutesTo:
		return target == NodeKindFunction || target == NodeKindMethod || target == NodeKindRoute
	default:
		return false
	}
}

// MatchesFileHint reports whether file satisfies a reference's file hint.
//
// A hint matches the exact path, a path suffix ("pkg/b.py" matches
// "src/pkg/b.py"), the file's base name without extension ("b"), or a
// dotted module path ("pkg.b").
func MatchesFileHint(file, hint string) bool {
	if hint == "" || file == hint {
		return true
	}
	if strings.HasSuffix(file, "/"+hint) {
		return true
	}
	noExt := file
	if i := strings.LastIndex(noExt, "."); i > strings.LastIndex(noExt, "/") {
		noExt = noExt[:i]
	}
	if strings.HasSuffix(noExt, "/__init__") {
		noExt = strings.TrimSuffix(noExt, "/__init__")
	}
	modPath := strings.ReplaceAll(hint, ".", "/")
	return noExt == modPath || strings.HasSuffix(noExt, "/"+modPath)
}

// =============================================================================
// LOW-LEVEL COPY-ON-WRITE OPERATIONS
// =============================================================================

func (t *txn) indexNode(n *Node) {
	t.s.nodes[n.ID] = n
	if n.Placeholder {
		t.s.pending[n.Name] = insertSorted(t.ownedPending(n.Name), n.ID)
		return
	}
	t.s.byName[n.Name] = insertSorted(t.ownedName(n.Name), n.ID)
	t.s.byKind[n.Kind] = insertSorted(t.ownedKind(n.Kind), n.ID)
}

func (t *txn) unindexNode(n *Node) {
	if n == nil {
		return
	}
	delete(t.s.nodes, n.ID)
	if n.Placeholder {
		if ids := removeSorted(t.ownedPending(n.Name), n.ID); len(ids) > 0 {
			t.s.pending[n.Name] = ids
		} else {
			delete(t.s.pending, n.Name)
		}
		return
	}
	if ids := removeSorted(t.ownedName(n.Name), n.ID); len(ids) > 0 {
		t.s.byName[n.Name] = ids
	} else {
		delete(t.s.byName, n.Name)
	}
	t.s.byKind[n.Kind] = removeSorted(t.ownedKind(n.Kind), n.ID)
}

func (t *txn) addEdge(e *Edge) {
	t.s.out[e.FromID] = insertBySeq(t.ownedOut(e.FromID), e)
	t.s.in[e.ToID] = insertBySeq(t.ownedIn(e.ToID), e)
	t.s.edgeCount++
	if IsPlaceholderID(e.FromID) {
		t.touched[e.FromID] = true
	}
	if IsPlaceholderID(e.ToID) {
		t.touched[e.ToID] = true
	}
}

func (t *txn) removeEdge(e *Edge) {
	if out := removeEdgePtr(t.ownedOut(e.FromID), e); len(out) > 0 {
		t.s.out[e.FromID] = out
	} else {
		delete(t.s.out, e.FromID)
	}
	if in := removeEdgePtr(t.ownedIn(e.ToID), e); len(in) > 0 {
		t.s.in[e.ToID] = in
	} else {
		delete(t.s.in, e.ToID)
	}
	t.s.edgeCount--
	if IsPlaceholderID(e.FromID) {
		t.touched[e.FromID] = true
	}
	if IsPlaceholderID(e.ToID) {
		t.touched[e.ToID] = true
	}
}

// swapEdge replaces old with repl in the indexes and in the owning file.
func (t *txn) swapEdge(old, repl *Edge) {
	t.removeEdge(old)
	t.addEdge(repl)

	fg := t.ownedFile(old.File)
	if fg == nil {
		return
	}
	for i, e := range fg.edges {
		if e == old {
			fg.edges[i] = repl
			return
		}
	}
}

func (t *txn) ownedOut(id string) []*Edge {
	if !t.ownOut[id] {
		t.s.out[id] = append([]*Edge(nil), t.s.out[id]...)
		t.ownOut[id] = true
	}
	return t.s.out[id]
}

func (t *txn) ownedIn(id string) []*Edge {
	if !t.ownIn[id] {
		t.s.in[id] = append([]*Edge(nil), t.s.in[id]...)
		t.ownIn[id] = true
	}
	return t.s.in[id]
}

func (t *txn) ownedName(name string) []string {
	if !t.ownName[name] {
		t.s.byName[name] = append([]string(nil), t.s.byName[name]...)
		t.ownName[name] = true
	}
	return t.s.byName[name]
}

func (t *txn) ownedPending(name string) []string {
	if !t.ownPending[name] {
		t.s.pending[name] = append([]string(nil), t.s.pending[name]...)
		t.ownPending[name] = true
	}
	return t.s.pending[name]
}

func (t *txn) ownedKind(k NodeKind) []string {
	if !t.ownKind[k] {
		t.s.byKind[k] = append([]string(nil), t.s.byKind[k]...)
		t.ownKind[k] = true
	}
	return t.s.byKind[k]
}

func (t *txn) ownedFile(file string) *fileGen {
	fg, ok := t.s.files[file]
	if !ok {
		return nil
	}
	if !t.ownFile[file] {
		fg = &fileGen{
			language: fg.language,
			nodeIDs:  fg.nodeIDs,
			edges:    append([]*Edge(nil), fg.edges...),
		}
		t.s.files[file] = fg
		t.ownFile[file] = true
	}
	return fg
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func removeSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return append(ids[:i], ids[i+1:]...)
	}
	return ids
}

func insertBySeq(edges []*Edge, e *Edge) []*Edge {
	i := sort.Search(len(edges), func(i int) bool { return edges[i].Seq > e.Seq })
	edges = append(edges, nil)
	copy(edges[i+1:], edges[i:])
	edges[i] = e
	return edges
}

func removeEdgePtr(edges []*Edge, e *Edge) []*Edge {
	for i, x := range edges {
		if x == e {
			return append(edges[:i], edges[i+1:]...)
		}
	}
	return edges
}
