// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inherit

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
	tracer = otel.Tracer("codegraph.inherit")
	meter  = otel.Meter("codegraph.inherit")
)

var (
	traceLatency metric.Float64Histogram
	ambiguousMRO metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		traceLatency, err = meter.Float64Histogram(
			"codegraph_inheritance_duration_seconds",
			metric.WithDescription("Duration of inheritance traces"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		ambiguousMRO, err = meter.Int64Counter(
			"codegraph_inheritance_ambiguous_total",
			metric.WithDescription("Inheritance traces that produced an ambiguous MRO"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordMetrics(ctx context.Context, duration time.Duration, ambiguous bool) {
	if err := initMetrics(); err != nil {
		return
	}
	traceLatency.Record(ctx, duration.Seconds())
	if ambiguous {
		ambiguousMRO.Add(ctx, 1)
	}
}

func startSpan(ctx context.Context, classID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "inherit.Trace",
		trace.WithAttributes(attribute.String("inherit.class_id", classID)),
	)
}
