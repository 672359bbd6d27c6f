// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deps

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("codegraph.deps")
	meter  = otel.Meter("codegraph.deps")
)

var (
	analysisLatency metric.Float64Histogram
	dependencyCount metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		analysisLatency, err = meter.Float64Histogram(
			"codegraph_deps_duration_seconds",
			metric.WithDescription("Duration of dependency analyses"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		dependencyCount, err = meter.Int64Histogram(
			"codegraph_deps_result_size",
			metric.WithDescription("Number of dependencies returned"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordMetrics(ctx context.Context, op string, duration time.Duration, count int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("op", op))
	analysisLatency.Record(ctx, duration.Seconds(), attrs)
	dependencyCount.Record(ctx, int64(count), attrs)
}

func startSpan(ctx context.Context, name, nodeID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attribute.String("deps.node_id", nodeID)),
	)
}
