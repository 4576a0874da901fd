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

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewTelemetry(t *testing.T) {
	tel := NewTelemetry()
	require.NotNil(t, tel)
	assert.False(t, tel.initialized)
	assert.Nil(t, tel.tracerProvider)
	assert.Nil(t, tel.meterProvider)
}

func TestInitTelemetryInstallsGlobals(t *testing.T) {
	setup := SetupTestTelemetry(t)

	assert.True(t, setup.Telemetry.initialized)
	assert.Equal(t, setup.Telemetry.tracerProvider, otel.GetTracerProvider())
	assert.Equal(t, setup.Telemetry.meterProvider, otel.GetMeterProvider())
	assert.Equal(t, setup.Telemetry.tracerProvider, setup.Telemetry.GetTracerProvider())
}

func TestInitTelemetryIdempotent(t *testing.T) {
	setup := SetupTestTelemetry(t)
	first := setup.Telemetry.tracerProvider

	require.NoError(t, setup.Telemetry.InitTelemetry(t.Context(), "other"))
	assert.Same(t, first, setup.Telemetry.tracerProvider)
}

func TestShutdownBeforeInit(t *testing.T) {
	assert.NoError(t, NewTelemetry().ShutdownTelemetry(context.Background()))
}

func TestTracerRecordsSpans(t *testing.T) {
	setup := SetupTestTelemetry(t)

	_, span := Tracer().Start(t.Context(), "unit")
	span.End()

	spans := setup.SpanExporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "unit", spans[0].Name)
	assert.Equal(t, instrumentationName, spans[0].InstrumentationScope.Name)
}

func TestMeterRecordsInstruments(t *testing.T) {
	setup := SetupTestTelemetry(t)

	counter, err := Meter().Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(t.Context(), 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, setup.MetricReader.Collect(t.Context(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)
}

func TestWrapSlogHandlerAddsTraceContext(t *testing.T) {
	SetupTestTelemetry(t)

	var buf bytes.Buffer
	logger := slog.New(WrapSlogHandler(slog.NewJSONHandler(&buf, nil)))

	ctx, span := Tracer().Start(t.Context(), "logged")
	logger.InfoContext(ctx, "inside span")
	span.End()

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, span.SpanContext().TraceID().String(), record["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), record["span_id"])

	buf.Reset()
	logger.Info("outside span")
	record = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "trace_id")
}
