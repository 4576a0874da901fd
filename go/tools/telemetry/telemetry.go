// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry wires OpenTelemetry tracing and metrics for quackpool.
//
// Library packages only ever call Tracer and Meter, which resolve through
// the global providers. A binary that wants the data exported installs
// providers with InitTelemetry; without it every span and instrument is a
// no-op.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/supabase/quackpool"

// Tracer returns the tracer used for quackpool spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the meter used for quackpool instruments.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Telemetry holds OpenTelemetry providers and their lifecycle.
type Telemetry struct {
	mu             sync.Mutex
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	initialized    bool

	spanExporter sdktrace.SpanExporter
	metricReader sdkmetric.Reader
	syncExport   bool
}

// NewTelemetry creates a new Telemetry instance.
func NewTelemetry() *Telemetry {
	return &Telemetry{}
}

// WithMetricReader attaches a reader to the meter provider. The bench
// command uses a manual reader to summarize pool metrics after a run.
// Must be called before InitTelemetry.
func (t *Telemetry) WithMetricReader(reader sdkmetric.Reader) *Telemetry {
	t.metricReader = reader
	return t
}

// WithSpanExporter attaches a batching span exporter. Must be called before
// InitTelemetry.
func (t *Telemetry) WithSpanExporter(exporter sdktrace.SpanExporter) *Telemetry {
	t.spanExporter = exporter
	return t
}

// WithTestExporters configures synchronous span export and a metric reader
// so tests can inspect what was recorded.
// Must be called before InitTelemetry.
func (t *Telemetry) WithTestExporters(spanExporter sdktrace.SpanExporter, metricReader sdkmetric.Reader) *Telemetry {
	t.spanExporter = spanExporter
	t.metricReader = metricReader
	t.syncExport = true
	return t
}

// InitTelemetry installs the tracer and meter providers globally.
// The serviceName parameter sets the service.name resource attribute (can be
// overridden by the OTEL_SERVICE_NAME env var). Calling it again is a no-op.
func (t *Telemetry) InitTelemetry(ctx context.Context, serviceName string, attrs ...attribute.KeyValue) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		return nil
	}

	if envServiceName := os.Getenv("OTEL_SERVICE_NAME"); envServiceName != "" {
		serviceName = envServiceName
	}

	// Note: We don't merge with resource.Default() to avoid schema version conflicts
	resourceAttrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	resourceAttrs = append(resourceAttrs, attrs...)
	res := resource.NewWithAttributes(semconv.SchemaURL, resourceAttrs...)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if t.spanExporter != nil {
		if t.syncExport {
			// Use synchronous export for tests to avoid timing issues
			traceOpts = append(traceOpts, sdktrace.WithSyncer(t.spanExporter))
		} else {
			traceOpts = append(traceOpts, sdktrace.WithBatcher(t.spanExporter))
		}
	}
	t.tracerProvider = sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(t.tracerProvider)

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if t.metricReader != nil {
		meterOpts = append(meterOpts, sdkmetric.WithReader(t.metricReader))
	}
	t.meterProvider = sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetMeterProvider(t.meterProvider)

	t.initialized = true
	slog.DebugContext(ctx, "OpenTelemetry initialized", "service", serviceName)
	return nil
}

// GetTracerProvider returns the configured TracerProvider.
func (t *Telemetry) GetTracerProvider() trace.TracerProvider {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return t.tracerProvider
}

// GetMeterProvider returns the configured MeterProvider.
func (t *Telemetry) GetMeterProvider() metric.MeterProvider {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.meterProvider == nil {
		return otel.GetMeterProvider()
	}
	return t.meterProvider
}

// ShutdownTelemetry flushes and shuts down the providers.
func (t *Telemetry) ShutdownTelemetry(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return nil
	}

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}

	t.initialized = false
	return errors.Join(errs...)
}

// WrapSlogHandler wraps an slog.Handler to inject trace_id and span_id from
// the record's context.
func WrapSlogHandler(handler slog.Handler) slog.Handler {
	return &traceHandler{wrapped: handler}
}

// traceHandler wraps an slog.Handler to inject trace_id and span_id from context
type traceHandler struct {
	wrapped slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.wrapped.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.wrapped.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{wrapped: h.wrapped.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{wrapped: h.wrapped.WithGroup(name)}
}
