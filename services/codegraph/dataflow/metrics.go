// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataflow

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
	otelTracer = otel.Tracer("codegraph.dataflow")
	meter      = otel.Meter("codegraph.dataflow")
)

var (
	traceLatency metric.Float64Histogram
	traceSteps   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		traceLatency, err = meter.Float64Histogram(
			"codegraph_dataflow_duration_seconds",
			metric.WithDescription("Duration of data flow traces"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		traceSteps, err = meter.Int64Histogram(
			"codegraph_dataflow_steps",
			metric.WithDescription("Number of steps per data flow trace"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordMetrics(ctx context.Context, direction string, duration time.Duration, steps int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	traceLatency.Record(ctx, duration.Seconds(), attrs)
	traceSteps.Record(ctx, int64(steps), attrs)
}

func startSpan(ctx context.Context, nodeID string, dir Direction) (context.Context, trace.Span) {
	return otelTracer.Start(ctx, "dataflow.Trace",
		trace.WithAttributes(
			attribute.String("dataflow.node_id", nodeID),
			attribute.String("dataflow.direction", string(dir)),
		),
	)
}
