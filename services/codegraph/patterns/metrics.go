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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for pattern detection operations.
var (
	tracer = otel.Tracer("codegraph.patterns")
	meter  = otel.Meter("codegraph.patterns")
)

// Metrics for pattern detection operations.
var (
	detectLatency  metric.Float64Histogram
	patternsByType metric.Int64Counter
	duplicatePairs metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		detectLatency, err = meter.Float64Histogram(
			"codegraph_patterns_duration_seconds",
			metric.WithDescription("Duration of pattern and duplication detection"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		patternsByType, err = meter.Int64Counter(
			"codegraph_patterns_by_type_total",
			metric.WithDescription("Total patterns found by type"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		duplicatePairs, err = meter.Int64Histogram(
			"codegraph_duplicate_pairs",
			metric.WithDescription("Number of duplicate pairs found per run"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startSpan creates a span for a detection operation.
func startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "patterns."+op)
}

// setSpanResult sets the result attributes on a detection span.
func setSpanResult(span trace.Span, count int) {
	span.SetAttributes(attribute.Int("patterns.count", count))
}

// recordDetectMetrics records metrics for a pattern detection run.
func recordDetectMetrics(ctx context.Context, duration time.Duration, found []Pattern) {
	if err := initMetrics(); err != nil {
		return
	}
	detectLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("op", "detect")))
	for _, p := range found {
		patternsByType.Add(ctx, 1, metric.WithAttributes(attribute.String("pattern_type", string(p.Type))))
	}
}

// recordDuplicationMetrics records metrics for a duplication run.
func recordDuplicationMetrics(ctx context.Context, duration time.Duration, pairs int) {
	if err := initMetrics(); err != nil {
		return
	}
	detectLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("op", "duplicates")))
	duplicatePairs.Record(ctx, int64(pairs))
}
