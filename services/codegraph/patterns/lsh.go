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
	"encoding/binary"
	"hash/fnv"
	"sort"
	"sync"
)

// LSHIndex provides near-duplicate candidate search using
// locality-sensitive hashing.
//
// # Description
//
// LSHIndex uses banded MinHash for approximate nearest neighbor search.
// Instead of comparing every pair of fingerprints, it hashes fingerprints
// into buckets where similar items are likely to collide. Two fingerprints
// are candidates if they share at least one band.
//
// # Thread Safety
//
// This type is safe for concurrent use.
type LSHIndex struct {
	numBands     int
	rowsPerBand  int
	buckets      []map[uint64][]string
	fingerprints map[string]*CodeFingerprint
	order        []string
	mu           sync.RWMutex
}

// NewLSHIndex creates an LSH index. The signature length must be at least
// numBands * rowsPerBand.
//
//   - For 80% similarity: numBands=20, rowsPerBand=5
//   - For 90% similarity: numBands=50, rowsPerBand=2
func NewLSHIndex(numBands, rowsPerBand int) *LSHIndex {
	buckets := make([]map[uint64][]string, numBands)
	for i := range buckets {
		buckets[i] = make(map[uint64][]string)
	}
	return &LSHIndex{
		numBands:     numBands,
		rowsPerBand:  rowsPerBand,
		buckets:      buckets,
		fingerprints: make(map[string]*CodeFingerprint),
	}
}

// Add adds a fingerprint to the index, replacing any with the same NodeID.
// Nil fingerprints and short signatures are ignored.
func (l *LSHIndex) Add(fp *CodeFingerprint) {
	if fp == nil || len(fp.MinHashSig) < l.numBands*l.rowsPerBand {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if old, exists := l.fingerprints[fp.NodeID]; exists {
		l.removeFromBuckets(old)
	} else {
		l.order = append(l.order, fp.NodeID)
	}
	l.fingerprints[fp.NodeID] = fp

	for band := 0; band < l.numBands; band++ {
		h := l.hashBand(fp.MinHashSig, band)
		l.buckets[band][h] = append(l.buckets[band][h], fp.NodeID)
	}
}

// Remove removes a fingerprint from the index.
func (l *LSHIndex) Remove(nodeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fp, exists := l.fingerprints[nodeID]
	if !exists {
		return
	}
	l.removeFromBuckets(fp)
	delete(l.fingerprints, nodeID)
	for i, id := range l.order {
		if id == nodeID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// removeFromBuckets removes a fingerprint from all band buckets.
// Caller must hold the write lock.
func (l *LSHIndex) removeFromBuckets(fp *CodeFingerprint) {
	for band := 0; band < l.numBands; band++ {
		h := l.hashBand(fp.MinHashSig, band)
		bucket := l.buckets[band][h]
		filtered := bucket[:0]
		for _, id := range bucket {
			if id != fp.NodeID {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) > 0 {
			l.buckets[band][h] = filtered
		} else {
			delete(l.buckets[band], h)
		}
	}
}

// Query returns the ids of fingerprints sharing at least one band with
// fp, ordered by id. These are candidates to verify.
func (l *LSHIndex) Query(fp *CodeFingerprint) []string {
	if fp == nil || len(fp.MinHashSig) < l.numBands*l.rowsPerBand {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.queryLocked(fp)
}

func (l *LSHIndex) queryLocked(fp *CodeFingerprint) []string {
	set := make(map[string]bool)
	for band := 0; band < l.numBands; band++ {
		for _, id := range l.buckets[band][l.hashBand(fp.MinHashSig, band)] {
			if id != fp.NodeID {
				set[id] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DuplicatePair is a pair of candidate fingerprints with their exact
// similarity.
type DuplicatePair struct {
	A, B       *CodeFingerprint
	Similarity float64
}

// FindAllDuplicates returns every candidate pair whose exact Jaccard
// similarity is at least threshold. Each pair appears once, lower id
// first, in insertion order of the first member.
func (l *LSHIndex) FindAllDuplicates(threshold float64) []DuplicatePair {
	l.mu.RLock()
	defer l.mu.RUnlock()

	checked := make(map[string]bool)
	var pairs []DuplicatePair
	for _, id := range l.order {
		fp := l.fingerprints[id]
		for _, other := range l.queryLocked(fp) {
			key := canonicalPairKey(id, other)
			if checked[key] {
				continue
			}
			checked[key] = true

			ofp := l.fingerprints[other]
			sim := fp.JaccardSimilarity(ofp)
			if sim < threshold {
				continue
			}
			a, b := fp, ofp
			if b.NodeID < a.NodeID {
				a, b = b, a
			}
			pairs = append(pairs, DuplicatePair{A: a, B: b, Similarity: sim})
		}
	}
	return pairs
}

// canonicalPairKey creates a consistent key for a pair regardless of order.
func canonicalPairKey(id1, id2 string) string {
	if id1 < id2 {
		return id1 + "|" + id2
	}
	return id2 + "|" + id1
}

// hashBand computes the hash for a specific band of the signature.
func (l *LSHIndex) hashBand(sig []uint64, band int) uint64 {
	start := band * l.rowsPerBand
	end := start + l.rowsPerBand

	h := fnv.New64a()
	var b [8]byte
	for i := start; i < end && i < len(sig); i++ {
		binary.LittleEndian.PutUint64(b[:], sig[i])
		h.Write(b[:])
	}
	return h.Sum64()
}

// Size returns the number of fingerprints in the index.
func (l *LSHIndex) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fingerprints)
}

// LSHStats contains statistics about the LSH index.
type LSHStats struct {
	NumFingerprints int `json:"num_fingerprints"`
	NumBands        int `json:"num_bands"`
	RowsPerBand     int `json:"rows_per_band"`

	// TotalBuckets is the total number of non-empty buckets.
	TotalBuckets  int `json:"total_buckets"`
	MaxBucketSize int `json:"max_bucket_size"`
}

// Stats returns statistics about the index.
func (l *LSHIndex) Stats() LSHStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := LSHStats{
		NumFingerprints: len(l.fingerprints),
		NumBands:        l.numBands,
		RowsPerBand:     l.rowsPerBand,
	}
	for _, bandBuckets := range l.buckets {
		stats.TotalBuckets += len(bandBuckets)
		for _, bucket := range bandBuckets {
			if len(bucket) > stats.MaxBucketSize {
				stats.MaxBucketSize = len(bucket)
			}
		}
	}
	return stats
}
