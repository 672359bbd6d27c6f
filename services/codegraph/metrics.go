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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

var tracer = otel.Tracer("codegraph.service")

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_operations_total",
		Help: "Total service operations by operation and outcome class",
	}, []string{"operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codegraph_operation_duration_seconds",
		Help:    "Duration of service operations",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"operation"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_cache_lookups_total",
		Help: "Response cache lookups by operation and result",
	}, []string{"operation", "result"})

	sessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codegraph_sessions_open",
		Help: "Number of open repository sessions",
	})

	checkpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_checkpoints_total",
		Help: "Snapshot checkpoints by outcome",
	}, []string{"outcome"})
)

func recordOperation(op string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = string(graph.Classify(err))
	}
	operationsTotal.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func recordCacheLookup(op string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(op, result).Inc()
}

func recordCheckpoint(err error) {
	if err != nil {
		checkpointsTotal.WithLabelValues("error").Inc()
		return
	}
	checkpointsTotal.WithLabelValues("ok").Inc()
}
