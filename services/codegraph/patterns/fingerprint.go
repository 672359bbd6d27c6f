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
	"hash/fnv"
	"strconv"
	"strings"
	"unicode"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// FingerprintConfig configures code fingerprinting behavior.
type FingerprintConfig struct {
	// KGramSize is the size of k-grams for token hashing.
	KGramSize int

	// NumHashFuncs is the number of hash functions for MinHash.
	NumHashFuncs int

	// NormalizeIdentifiers removes identifier differences.
	NormalizeIdentifiers bool
}

// DefaultFingerprintConfig returns sensible defaults.
func DefaultFingerprintConfig() FingerprintConfig {
	return FingerprintConfig{
		KGramSize:            5,
		NumHashFuncs:         100,
		NormalizeIdentifiers: true,
	}
}

// CodeFingerprint represents a fingerprint for duplication detection.
//
// # Description
//
// CodeFingerprint captures the structural essence of a code block for
// similarity comparison. It uses k-gram hashing for exact Jaccard scoring
// and a MinHash signature for locality-sensitive candidate search.
//
// # Thread Safety
//
// This type is immutable after creation.
type CodeFingerprint struct {
	// NodeID is the identifier of the source node.
	NodeID string

	// Name is the source node's name.
	Name string

	// Location is the source span.
	Location graph.Location

	// TokenHashes contains k-gram hashes of normalized tokens.
	TokenHashes []uint64

	// MinHashSig is the MinHash signature for LSH.
	MinHashSig []uint64

	// RawHash hashes the token stream before identifier normalization.
	RawHash uint64

	// Structure is an abstracted control-flow shape.
	Structure string

	// TokenCount is the number of tokens in the code.
	TokenCount int

	// LineCount is the number of lines in the code.
	LineCount int

	set map[uint64]struct{}
}

// Fingerprinter creates code fingerprints from nodes.
//
// # Thread Safety
//
// This type is safe for concurrent use.
type Fingerprinter struct {
	config     FingerprintConfig
	hashSeeds  []uint64
	stopTokens map[string]bool
	keywords   map[string]bool
}

// NewFingerprinter creates a new fingerprinter with pre-computed hash
// seeds for MinHash.
func NewFingerprinter(config FingerprintConfig) *Fingerprinter {
	if config.KGramSize <= 0 {
		config.KGramSize = DefaultFingerprintConfig().KGramSize
	}
	if config.NumHashFuncs <= 0 {
		config.NumHashFuncs = DefaultFingerprintConfig().NumHashFuncs
	}

	// Deterministic seeds keep results stable across runs.
	seeds := make([]uint64, config.NumHashFuncs)
	for i := range seeds {
		seeds[i] = uint64(i*31 + 17)
	}

	return &Fingerprinter{
		config:     config,
		hashSeeds:  seeds,
		stopTokens: defaultStopTokens(),
		keywords:   keywords(),
	}
}

// defaultStopTokens returns tokens that do not affect structure.
func defaultStopTokens() map[string]bool {
	return map[string]bool{
		"public":    true,
		"private":   true,
		"protected": true,
		"static":    true,
		"final":     true,
		"const":     true,
		"var":       true,
		"let":       true,
		"{":         true,
		"}":         true,
		"(":         true,
		")":         true,
		"[":         true,
		"]":         true,
		";":         true,
		",":         true,
	}
}

// keywords are kept verbatim during identifier normalization.
func keywords() map[string]bool {
	words := []string{
		// python
		"def", "class", "return", "if", "elif", "else", "for", "while", "in",
		"not", "and", "or", "is", "None", "True", "False", "try", "except",
		"finally", "raise", "with", "as", "yield", "lambda", "pass", "break",
		"continue", "import", "from", "global", "nonlocal", "async", "await",
		"self", "del", "assert",
		// go
		"func", "go", "defer", "chan", "select", "switch", "case", "default",
		"range", "struct", "interface", "map", "type", "package", "nil",
		"true", "false", "fallthrough", "goto",
		// javascript / typescript
		"function", "new", "this", "null", "undefined", "throw", "catch",
		"typeof", "instanceof", "of", "do", "export",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Fingerprint creates a fingerprint for a node's code. Returns nil for an
// empty body.
func (f *Fingerprinter) Fingerprint(n *graph.Node, code string) *CodeFingerprint {
	if n == nil || strings.TrimSpace(code) == "" {
		return nil
	}

	tokens := f.tokenize(code)
	if len(tokens) == 0 {
		return nil
	}
	raw := hashKGram(strings.Join(tokens, " "))
	if f.config.NormalizeIdentifiers {
		tokens = f.normalizeIdentifiers(tokens)
	}

	kgrams := computeKGrams(tokens, f.config.KGramSize)
	hashes := make([]uint64, len(kgrams))
	set := make(map[uint64]struct{}, len(kgrams))
	for i, kg := range kgrams {
		hashes[i] = hashKGram(kg)
		set[hashes[i]] = struct{}{}
	}

	lines := 0
	if n.Location.StartLine > 0 {
		lines = n.Location.Lines()
	}
	if lines == 0 {
		lines = strings.Count(strings.TrimRight(code, "\n"), "\n") + 1
	}

	return &CodeFingerprint{
		NodeID:      n.ID,
		Name:        n.Name,
		Location:    n.Location,
		TokenHashes: hashes,
		MinHashSig:  f.computeMinHash(hashes),
		RawHash:     raw,
		Structure:   computeStructure(n.Kind, tokens),
		TokenCount:  len(tokens),
		LineCount:   lines,
		set:         set,
	}
}

// tokenize splits code into tokens. String literals become one STR token
// and '#' or '//' comments are dropped.
func (f *Fingerprinter) tokenize(code string) []string {
	var tokens []string
	var current strings.Builder
	runes := []rune(code)

	flush := func() {
		if current.Len() > 0 {
			token := current.String()
			if !f.stopTokens[token] {
				tokens = append(tokens, token)
			}
			current.Reset()
		}
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			current.WriteRune(r)
		case r == '"' || r == '\'' || r == '`':
			flush()
			j := i + 1
			for j < len(runes) && runes[j] != r {
				if runes[j] == '\\' {
					j++
				}
				j++
			}
			tokens = append(tokens, "STR")
			i = j
		case r == '#' || (r == '/' && i+1 < len(runes) && runes[i+1] == '/'):
			flush()
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		default:
			flush()
			if !unicode.IsSpace(r) && !f.stopTokens[string(r)] {
				tokens = append(tokens, string(r))
			}
		}
	}
	flush()
	return tokens
}

// normalizeIdentifiers replaces identifiers with positional placeholders.
func (f *Fingerprinter) normalizeIdentifiers(tokens []string) []string {
	identMap := make(map[string]string)
	result := make([]string, len(tokens))
	for i, token := range tokens {
		switch {
		case f.keywords[token], token == "STR", !isIdentifier(token):
			result[i] = token
		case isNumeric(token):
			result[i] = "NUM"
		default:
			normalized, ok := identMap[token]
			if !ok {
				normalized = "ID" + strconv.Itoa(len(identMap))
				identMap[token] = normalized
			}
			result[i] = normalized
		}
	}
	return result
}

func isIdentifier(s string) bool {
	r := []rune(s)
	return len(r) > 0 && (unicode.IsLetter(r[0]) || unicode.IsDigit(r[0]) || r[0] == '_')
}

// isNumeric checks if a token is a number.
func isNumeric(s string) bool {
	if len(s) == 0 || !unicode.IsDigit(rune(s[0])) {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != 'e' && r != 'E' && r != 'x' && r != '_' {
			return false
		}
	}
	return true
}

// computeKGrams extracts k-grams from tokens.
func computeKGrams(tokens []string, k int) []string {
	if len(tokens) < k {
		return []string{strings.Join(tokens, " ")}
	}
	kgrams := make([]string, 0, len(tokens)-k+1)
	for i := 0; i <= len(tokens)-k; i++ {
		kgrams = append(kgrams, strings.Join(tokens[i:i+k], " "))
	}
	return kgrams
}

// hashKGram computes a hash for a k-gram string.
func hashKGram(kgram string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(kgram))
	return h.Sum64()
}

// computeMinHash computes the MinHash signature.
func (f *Fingerprinter) computeMinHash(hashes []uint64) []uint64 {
	sig := make([]uint64, f.config.NumHashFuncs)
	if len(hashes) == 0 {
		return sig
	}
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	for _, h := range hashes {
		for i, seed := range f.hashSeeds {
			combined := mix(h ^ (seed * 0x9e3779b97f4a7c15))
			if combined < sig[i] {
				sig[i] = combined
			}
		}
	}
	return sig
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// computeStructure abstracts control flow into a comparable string.
func computeStructure(kind graph.NodeKind, tokens []string) string {
	ifCount, loopCount, fnCount, retCount := 0, 0, 0, 0
	for _, token := range tokens {
		switch token {
		case "if", "elif", "case":
			ifCount++
		case "for", "while", "range":
			loopCount++
		case "def", "func", "function", "lambda":
			fnCount++
		case "return", "yield":
			retCount++
		}
	}
	var b strings.Builder
	b.WriteString(kind.String())
	b.WriteString(":if=" + strconv.Itoa(ifCount))
	b.WriteString(",loop=" + strconv.Itoa(loopCount))
	b.WriteString(",fn=" + strconv.Itoa(fnCount))
	b.WriteString(",ret=" + strconv.Itoa(retCount))
	return b.String()
}

// JaccardSimilarity computes the exact Jaccard similarity of the k-gram
// sets of two fingerprints.
func (fp *CodeFingerprint) JaccardSimilarity(other *CodeFingerprint) float64 {
	if fp == nil || other == nil || len(fp.set) == 0 || len(other.set) == 0 {
		return 0.0
	}
	small, large := fp.set, other.set
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for h := range small {
		if _, ok := large[h]; ok {
			intersection++
		}
	}
	union := len(fp.set) + len(other.set) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// EstimatedJaccard estimates Jaccard similarity from MinHash signatures.
func (fp *CodeFingerprint) EstimatedJaccard(other *CodeFingerprint) float64 {
	if fp == nil || other == nil || len(fp.MinHashSig) == 0 || len(fp.MinHashSig) != len(other.MinHashSig) {
		return 0.0
	}
	matches := 0
	for i := range fp.MinHashSig {
		if fp.MinHashSig[i] == other.MinHashSig[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(fp.MinHashSig))
}
