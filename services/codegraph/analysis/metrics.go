// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

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
	tracer = otel.Tracer("codegraph.analysis")
	meter  = otel.Meter("codegraph.analysis")
)

var (
	analysisLatency metric.Float64Histogram
	findingsTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		analysisLatency, err = meter.Float64Histogram(
			"codegraph_analysis_duration_seconds",
			metric.WithDescription("Duration of structural analyses"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		findingsTotal, err = meter.Int64Counter(
			"codegraph_analysis_findings_total",
			metric.WithDescription("Total findings reported by analyzers"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// RecordMetrics records one analyzer run. Exported for analyzers that live
// in other packages.
func RecordMetrics(ctx context.Context, analyzer string, duration time.Duration, findings int) {
	recordMetrics(ctx, analyzer, duration, findings)
}

func recordMetrics(ctx context.Context, analyzer string, duration time.Duration, findings int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("analyzer", analyzer))
	analysisLatency.Record(ctx, duration.Seconds(), attrs)
	findingsTotal.Add(ctx, int64(findings), attrs)
}

// StartSpan starts an analyzer span.
func StartSpan(ctx context.Context, analyzer string) (context.Context, trace.Span) {
	return startSpan(ctx, analyzer)
}

func startSpan(ctx context.Context, analyzer string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "analysis."+analyzer,
		trace.WithAttributes(attribute.String("analysis.analyzer", analyzer)),
	)
}
