// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry tracing and metrics for the
// CodeGraph service.
//
// Packages create their own tracer and meter with otel.Tracer / otel.Meter;
// this package only installs the global providers they resolve to.
//
// # Trace Backend (default: OTLP gRPC)
//
// Spans are batched to an OTLP receiver (Jaeger, Tempo, any collector).
// "stdout" pretty-prints spans, "none" leaves the no-op provider in place.
//
// # Metrics Backend (default: Prometheus)
//
// The Prometheus exporter registers with the default registry, so the
// promhttp handler from MetricsHandler serves both OTel instruments and
// promauto collectors on /metrics.
//
// # Propagation
//
// Init installs W3C TraceContext and Baggage propagators. MapCarrier lets
// non-HTTP transports (NATS headers) carry the same context.
//
// # Environment Variables
//
//   - CODEGRAPH_ENV: environment name (default: development)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init returns.
package telemetry
