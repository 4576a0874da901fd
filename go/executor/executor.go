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

// Package executor runs statements against a dbclient.Client, either
// materialized or as a stream of fixed-size row chunks.
package executor

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/supabase/quackpool/go/dbclient"
	"github.com/supabase/quackpool/go/engine"
	"github.com/supabase/quackpool/go/tools/telemetry"
)

// operationNames is the allowlist of leading keywords reported as the span
// operation name. Anything else is reported as QUERY so no SQL text ends
// up in traces.
var operationNames = map[string]bool{
	"SELECT": true, "WITH": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"CREATE": true, "DROP": true, "ALTER": true, "COPY": true, "PRAGMA": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true, "SAVEPOINT": true, "RELEASE": true,
}

func operationName(query string) string {
	fields := strings.Fields(query)
	if len(fields) > 0 {
		op := strings.ToUpper(strings.TrimRight(fields[0], ";"))
		if operationNames[op] {
			return op
		}
	}
	return "QUERY"
}

func startSpan(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(semconv.DBOperationName(operationName(query))),
	)
}

func failSpan(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// Run executes query with args on a connection from client and returns the
// materialized result with de-duplicated column names. The connection is
// released before Run returns.
func Run(ctx context.Context, client dbclient.Client, query string, args []any) (*engine.Result, error) {
	ctx, span := startSpan(ctx, "executor.Run", query)
	defer span.End()

	conn, err := client.Acquire(ctx)
	if err != nil {
		failSpan(span, err, "acquire failed")
		return nil, err
	}
	defer client.Release(conn)

	res, err := conn.Run(ctx, query, args)
	if err != nil {
		failSpan(span, err, "query failed")
		return nil, fmt.Errorf("query failed: %w", err)
	}
	res.Columns = DedupeColumns(res.Columns)
	return res, nil
}
