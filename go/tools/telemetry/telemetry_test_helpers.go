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
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestSetup holds in-memory telemetry infrastructure for tests.
type TestSetup struct {
	Telemetry    *Telemetry
	SpanExporter *tracetest.InMemoryExporter
	MetricReader *metric.ManualReader
}

// SetupTestTelemetry creates and initializes a telemetry instance with
// in-memory exporters. The previous global providers are restored and
// the new ones shut down when the test ends.
func SetupTestTelemetry(t *testing.T) *TestSetup {
	t.Helper()

	originalTracerProvider := otel.GetTracerProvider()
	originalMeterProvider := otel.GetMeterProvider()

	spanExporter := tracetest.NewInMemoryExporter()
	metricReader := metric.NewManualReader()
	tel := NewTelemetry().WithTestExporters(spanExporter, metricReader)
	if err := tel.InitTelemetry(t.Context(), "test-service"); err != nil {
		t.Fatalf("init telemetry: %v", err)
	}

	t.Cleanup(func() {
		_ = tel.ShutdownTelemetry(context.Background())
		otel.SetTracerProvider(originalTracerProvider)
		otel.SetMeterProvider(originalMeterProvider)
	})

	return &TestSetup{
		Telemetry:    tel,
		SpanExporter: spanExporter,
		MetricReader: metricReader,
	}
}
