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
	"path"
	"sort"
	"time"

	"github.com/AleutianAI/codegraph/services/codegraph/analysis"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Duplication defaults.
const (
	DefaultSimilarityThreshold = 0.85
	DefaultMinLines            = 5

	// 20 bands x 5 rows = 100 signature length.
	lshBands       = 20
	lshRowsPerBand = 5
)

// DuplicationOptions configures duplication detection.
type DuplicationOptions struct {
	// SimilarityThreshold is the minimum Jaccard similarity, in (0, 1].
	SimilarityThreshold float64

	// MinLines is the minimum block size in lines.
	MinLines int

	// MaxResults limits the number of results (0 = unlimited).
	MaxResults int
}

// DefaultDuplicationOptions returns the default options.
func DefaultDuplicationOptions() DuplicationOptions {
	return DuplicationOptions{
		SimilarityThreshold: DefaultSimilarityThreshold,
		MinLines:            DefaultMinLines,
	}
}

// Validate fills zero values with defaults and rejects out-of-range ones.
func (o *DuplicationOptions) Validate() error {
	if o.SimilarityThreshold == 0 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if o.MinLines == 0 {
		o.MinLines = DefaultMinLines
	}
	if o.SimilarityThreshold < 0 || o.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity threshold %v outside (0, 1]", graph.ErrInvalidScope, o.SimilarityThreshold)
	}
	if o.MinLines < 1 {
		return fmt.Errorf("%w: min lines %d", graph.ErrInvalidScope, o.MinLines)
	}
	if o.MaxResults < 0 {
		return fmt.Errorf("%w: max results %d", graph.ErrInvalidScope, o.MaxResults)
	}
	return nil
}

// DuplicationFinder finds duplicate code blocks.
//
// # Description
//
// Every function and method in scope that carries its source body in
// metadata and spans at least MinLines lines is fingerprinted. Candidate
// pairs come from an LSH index over MinHash signatures and are confirmed
// with exact Jaccard similarity of the k-gram sets. The index is built
// per call from the snapshot, so results always match the snapshot.
//
// # Thread Safety
//
// This type is safe for concurrent use.
type DuplicationFinder struct {
	opts          DuplicationOptions
	fingerprinter *Fingerprinter
}

// NewDuplicationFinder creates a finder. Options are validated lazily by
// Find.
func NewDuplicationFinder(opts DuplicationOptions) *DuplicationFinder {
	return &DuplicationFinder{
		opts:          opts,
		fingerprinter: NewFingerprinter(DefaultFingerprintConfig()),
	}
}

// Name implements analysis.Analyzer.
func (d *DuplicationFinder) Name() string { return "duplication" }

// Analyze implements analysis.Analyzer. Each pair is reported once,
// anchored at its lower-id side.
func (d *DuplicationFinder) Analyze(ctx context.Context, snap *graph.Snapshot, scope analysis.Scope) ([]analysis.Finding, error) {
	dups, err := d.Find(ctx, snap, scope)
	if err != nil {
		return nil, err
	}
	findings := make([]analysis.Finding, 0, len(dups))
	for _, dup := range dups {
		a, b := dup.Locations[0], dup.Locations[1]
		sev := analysis.SeverityLow
		if dup.Type == DuplicationExact {
			sev = analysis.SeverityMedium
		}
		findings = append(findings, analysis.Finding{
			Kind:       "duplicate_" + string(dup.Type),
			NodeID:     a.NodeID,
			Name:       a.Name,
			Location:   a.Location,
			Severity:   sev,
			Confidence: dup.Confidence,
			Message: fmt.Sprintf("%s is %.0f%% similar to %s (%s)",
				a.Name, dup.Similarity*100, b.Name, b.Location),
			Metadata: map[string]any{
				"other_node_id": b.NodeID,
				"similarity":    dup.Similarity,
				"suggestion":    dup.Suggestion,
			},
		})
	}
	analysis.SortFindings(findings)
	return findings, nil
}

// Find returns duplicate pairs among the callables in scope, ordered by
// similarity descending, then by the lower node id.
func (d *DuplicationFinder) Find(ctx context.Context, snap *graph.Snapshot, scope analysis.Scope) ([]Duplicate, error) {
	ctx, span := startSpan(ctx, "FindDuplicates")
	defer span.End()
	start := time.Now()

	opts := d.opts
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	nodes, err := scope.Nodes(snap, graph.NodeKindFunction, graph.NodeKindMethod)
	if err != nil {
		return nil, err
	}

	index := NewLSHIndex(lshBands, lshRowsPerBand)
	for i, n := range nodes {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("find duplicates: %w", err)
			}
		}
		body := graph.MetaString(n.Metadata, graph.MetaBody)
		fp := d.fingerprinter.Fingerprint(n, body)
		if fp == nil || fp.LineCount < opts.MinLines {
			continue
		}
		index.Add(fp)
	}

	pairs := index.FindAllDuplicates(opts.SimilarityThreshold)
	results := make([]Duplicate, 0, len(pairs))
	for _, pair := range pairs {
		dupType := classifyDuplication(pair.A, pair.B, pair.Similarity)
		results = append(results, Duplicate{
			Type:       dupType,
			Similarity: roundSimilarity(pair.Similarity),
			Locations: []DupLocation{
				{NodeID: pair.A.NodeID, Name: pair.A.Name, Location: pair.A.Location},
				{NodeID: pair.B.NodeID, Name: pair.B.Name, Location: pair.B.Location},
			},
			Suggestion: generateSuggestion(pair.A, pair.B, dupType),
			Confidence: calculateConfidence(pair.Similarity, dupType),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].Locations[0].NodeID != results[j].Locations[0].NodeID {
			return results[i].Locations[0].NodeID < results[j].Locations[0].NodeID
		}
		return results[i].Locations[1].NodeID < results[j].Locations[1].NodeID
	})
	if opts.MaxResults > 0 && len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}

	setSpanResult(span, len(results))
	recordDuplicationMetrics(ctx, time.Since(start), len(results))
	return results, nil
}

func roundSimilarity(s float64) float64 {
	return float64(int(s*10000+0.5)) / 10000
}

// classifyDuplication determines the type of duplication.
func classifyDuplication(a, b *CodeFingerprint, similarity float64) DuplicationType {
	if a.RawHash == b.RawHash {
		return DuplicationExact
	}
	if similarity >= 0.95 || (a.Structure == b.Structure && similarity >= 0.6) {
		return DuplicationStructural
	}
	return DuplicationNear
}

// generateSuggestion creates a refactoring suggestion.
func generateSuggestion(a, b *CodeFingerprint, dupType DuplicationType) string {
	switch dupType {
	case DuplicationExact:
		if a.Location.File == b.Location.File {
			return "Extract duplicated code into a shared function"
		}
		return fmt.Sprintf("Consider extracting shared logic into a common module, referenced by %s and %s",
			path.Base(a.Location.File), path.Base(b.Location.File))
	case DuplicationStructural:
		return "Same control flow with different identifiers. Consider a single parameterized function"
	case DuplicationNear:
		return "Similar code patterns detected. Consider parameterizing differences"
	default:
		return "Review for potential refactoring"
	}
}

// calculateConfidence scales similarity by how reliable the match type is.
func calculateConfidence(similarity float64, dupType DuplicationType) float64 {
	base := similarity
	switch dupType {
	case DuplicationNear:
		base *= 0.9
	case DuplicationStructural:
		base *= 0.8
	}
	if base > 1.0 {
		base = 1.0
	}
	return roundSimilarity(base)
}
