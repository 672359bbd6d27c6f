// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Ref names an edge endpoint either by node id or by name.
//
// A name ref resolves inside the declaring file first, then across the
// repository. FileHint narrows cross-file resolution to matching files
// (path, path suffix, base name or dotted module path).
type Ref struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	FileHint string `json:"file_hint,omitempty"`
}

// IsZero reports whether the ref names nothing.
func (r Ref) IsZero() bool {
	return r.ID == "" && r.Name == ""
}

// String returns a readable form of the ref.
func (r Ref) String() string {
	switch {
	case r.ID != "":
		return r.ID
	case r.FileHint != "":
		return r.FileHint + "::" + r.Name
	default:
		return r.Name
	}
}

// NodeDescriptor is one node event from a language adapter.
type NodeDescriptor struct {
	Kind      graph.NodeKind `json:"kind"`
	Name      string         `json:"name"`
	Location  graph.Location `json:"location"`
	Signature string         `json:"signature,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Parent names the enclosing node within the same file.
	Parent Ref `json:"parent,omitzero"`
}

// EdgeDescriptor is one edge event from a language adapter.
type EdgeDescriptor struct {
	Kind     graph.EdgeKind `json:"kind"`
	Source   Ref            `json:"source"`
	Target   Ref            `json:"target"`
	Location graph.Location `json:"location"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FileEvents is the normalized event stream for one file: node
// descriptors, then edge descriptors.
//
// Deleted set means the file is gone and its generation must be removed.
type FileEvents struct {
	File     string           `json:"file"`
	Language string           `json:"language,omitempty"`
	Deleted  bool             `json:"deleted,omitempty"`
	Nodes    []NodeDescriptor `json:"nodes,omitempty"`
	Edges    []EdgeDescriptor `json:"edges,omitempty"`
}

// DecodeEvents reads one or more FileEvents from r.
//
// The input is either a single JSON object or a JSON array of objects.
func DecodeEvents(r io.Reader) ([]*FileEvents, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode events: %v", graph.ErrInvalidScope, err)
	}

	trimmed := firstNonSpace(raw)
	if trimmed == '[' {
		var many []*FileEvents
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, fmt.Errorf("%w: decode events: %v", graph.ErrInvalidScope, err)
		}
		return many, nil
	}

	var one FileEvents
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("%w: decode events: %v", graph.ErrInvalidScope, err)
	}
	return []*FileEvents{&one}, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}
