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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/analysis"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
	"github.com/AleutianAI/codegraph/services/codegraph/graph/graphtest"
)

const totalBody = `def total(items):
    result = 0
    for item in items:
        if item.price > 10:
            result += item.price * item.qty
        else:
            result += item.price
    return result
`

const renamedBody = `def sum_prices(rows):
    acc = 0
    for row in rows:
        if row.price > 10:
            acc += row.price * row.qty
        else:
            acc += row.price
    return acc
`

const unrelatedBody = `def connect(host, port):
    sock = socket.create_connection((host, port), timeout=5)
    sock.sendall(b"HELLO")
    reply = sock.recv(1024)
    sock.close()
    return reply.decode("utf-8")
`

func withBody(body string) map[string]any {
	return map[string]any{graph.MetaBody: body}
}

func TestFingerprinter(t *testing.T) {
	fp := NewFingerprinter(DefaultFingerprintConfig())
	n := &graph.Node{ID: "a", Location: graph.Location{StartLine: 1, EndLine: 8}}

	t.Run("empty body", func(t *testing.T) {
		assert.Nil(t, fp.Fingerprint(n, "  \n"))
	})

	t.Run("renamed identifiers match", func(t *testing.T) {
		a := fp.Fingerprint(n, totalBody)
		b := fp.Fingerprint(&graph.Node{ID: "b"}, renamedBody)
		require.NotNil(t, a)
		require.NotNil(t, b)
		assert.Equal(t, 1.0, a.JaccardSimilarity(b))
		assert.Equal(t, 1.0, a.EstimatedJaccard(b))
		assert.NotEqual(t, a.RawHash, b.RawHash)
		assert.Equal(t, a.Structure, b.Structure)
	})

	t.Run("unrelated code differs", func(t *testing.T) {
		a := fp.Fingerprint(n, totalBody)
		b := fp.Fingerprint(&graph.Node{ID: "b"}, unrelatedBody)
		assert.Less(t, a.JaccardSimilarity(b), 0.3)
	})

	t.Run("comments and string contents are ignored", func(t *testing.T) {
		a := fp.Fingerprint(n, "x = 'abc'  # first\nreturn x")
		b := fp.Fingerprint(n, "x = \"other\"  # second\nreturn x")
		assert.Equal(t, a.RawHash, b.RawHash)
	})

	t.Run("line count falls back to body", func(t *testing.T) {
		got := fp.Fingerprint(&graph.Node{ID: "c"}, "a\nb\nc\n")
		assert.Equal(t, 3, got.LineCount)
	})
}

func TestLSHIndex(t *testing.T) {
	fpr := NewFingerprinter(DefaultFingerprintConfig())
	a := fpr.Fingerprint(&graph.Node{ID: "a"}, totalBody)
	b := fpr.Fingerprint(&graph.Node{ID: "b"}, renamedBody)
	c := fpr.Fingerprint(&graph.Node{ID: "c"}, unrelatedBody)

	idx := NewLSHIndex(lshBands, lshRowsPerBand)
	idx.Add(a)
	idx.Add(b)
	idx.Add(c)
	idx.Add(nil)
	assert.Equal(t, 3, idx.Size())

	assert.Contains(t, idx.Query(a), "b")
	assert.NotContains(t, idx.Query(a), "a")

	pairs := idx.FindAllDuplicates(0.85)
	require.Len(t, pairs, 1)
	assert.Equal(t, "a", pairs[0].A.NodeID)
	assert.Equal(t, "b", pairs[0].B.NodeID)

	idx.Remove("b")
	assert.Equal(t, 2, idx.Size())
	assert.Empty(t, idx.FindAllDuplicates(0.85))
	assert.Equal(t, 2, idx.Stats().NumFingerprints)
}

func TestDuplicationFinder(t *testing.T) {
	f := graphtest.New(t)
	total := f.Node("billing.py", graph.NodeKindFunction, "total", withBody(totalBody))
	sum := f.Node("reports.py", graph.NodeKindFunction, "sum_prices", withBody(renamedBody))
	copyOf := f.Node("reports.py", graph.NodeKindFunction, "total_copy", withBody(totalBody))
	f.Node("net.py", graph.NodeKindFunction, "connect", withBody(unrelatedBody))
	f.Func("net.py", "no_body")
	snap := f.Commit()

	finder := NewDuplicationFinder(DefaultDuplicationOptions())
	dups, err := finder.Find(context.Background(), snap, analysis.Scope{})
	require.NoError(t, err)
	require.Len(t, dups, 3)

	types := map[DuplicationType]int{}
	for _, d := range dups {
		types[d.Type]++
		assert.Equal(t, 1.0, d.Similarity)
		assert.Less(t, d.Locations[0].NodeID, d.Locations[1].NodeID)
	}
	assert.Equal(t, 1, types[DuplicationExact])
	assert.Equal(t, 2, types[DuplicationStructural])

	for _, d := range dups {
		if d.Type == DuplicationExact {
			ids := []string{d.Locations[0].NodeID, d.Locations[1].NodeID}
			assert.ElementsMatch(t, []string{total.ID, copyOf.ID}, ids)
			assert.Equal(t, 1.0, d.Confidence)
			assert.Contains(t, d.Suggestion, "billing.py")
		}
	}

	t.Run("scope restricts candidates", func(t *testing.T) {
		dups, err := finder.Find(context.Background(), snap, analysis.Scope{Files: []string{"reports.py"}})
		require.NoError(t, err)
		require.Len(t, dups, 1)
		ids := []string{dups[0].Locations[0].NodeID, dups[0].Locations[1].NodeID}
		assert.ElementsMatch(t, []string{sum.ID, copyOf.ID}, ids)
	})

	t.Run("min lines filters small blocks", func(t *testing.T) {
		big := NewDuplicationFinder(DuplicationOptions{MinLines: 50})
		dups, err := big.Find(context.Background(), snap, analysis.Scope{})
		require.NoError(t, err)
		assert.Empty(t, dups)
	})

	t.Run("max results", func(t *testing.T) {
		one := NewDuplicationFinder(DuplicationOptions{MaxResults: 1})
		dups, err := one.Find(context.Background(), snap, analysis.Scope{})
		require.NoError(t, err)
		assert.Len(t, dups, 1)
	})

	t.Run("findings", func(t *testing.T) {
		findings, err := finder.Analyze(context.Background(), snap, analysis.Scope{})
		require.NoError(t, err)
		require.Len(t, findings, 3)
		assert.Equal(t, analysis.SeverityMedium, findings[0].Severity)
		assert.Equal(t, "duplicate_exact", findings[0].Kind)
	})
}

func TestDuplicationOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    DuplicationOptions
		wantErr bool
	}{
		{"zero takes defaults", DuplicationOptions{}, false},
		{"threshold above one", DuplicationOptions{SimilarityThreshold: 1.5}, true},
		{"negative threshold", DuplicationOptions{SimilarityThreshold: -0.1}, true},
		{"negative min lines", DuplicationOptions{MinLines: -1}, true},
		{"negative max results", DuplicationOptions{MaxResults: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			err := opts.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, graph.ErrInvalidScope)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultSimilarityThreshold, opts.SimilarityThreshold)
			assert.Equal(t, DefaultMinLines, opts.MinLines)
		})
	}
}
