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

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Sentinel errors for the CodeGraph service. Each wraps a graph error class
// so graph.Classify maps it to a response status.
var (
	// ErrSessionNotFound indicates the repository has no open session and
	// no stored snapshot to restore.
	ErrSessionNotFound = fmt.Errorf("session %w", graph.ErrNotFound)

	// ErrNoProvider indicates a checkpoint was requested but no snapshot
	// provider is configured.
	ErrNoProvider = fmt.Errorf("%w: no snapshot provider configured", graph.ErrInvalidScope)

	// ErrEmptyBatch indicates an ingest request carried no file events.
	ErrEmptyBatch = fmt.Errorf("%w: no file events", graph.ErrInvalidBatch)

	// ErrEmptyPattern indicates a symbol search without a pattern.
	ErrEmptyPattern = fmt.Errorf("%w: empty search pattern", graph.ErrInvalidScope)

	// ErrServiceClosed indicates the service has been shut down.
	ErrServiceClosed = fmt.Errorf("%w: service closed", graph.ErrInternal)
)
