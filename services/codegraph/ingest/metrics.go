// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codegraph_ingest_batches_total",
		Help: "Total debounced ingest batches applied",
	})

	ingestEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_ingest_files_total",
		Help: "Total event files and file batches seen by the ingest watcher",
	}, []string{"result"})
)

func recordBatch(_ context.Context, applied, failed int) {
	ingestBatchesTotal.Inc()
	ingestEventsTotal.WithLabelValues("decoded").Add(float64(applied))
	ingestEventsTotal.WithLabelValues("failed").Add(float64(failed))
}
