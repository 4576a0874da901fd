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

// Package engine defines the query primitives quackpool consumes from an
// embedded analytical database engine.
//
// The engine itself is an external collaborator. quackpool only relies on
// the contract below: an Instance hands out Conns, and a Conn executes one
// statement at a time, either materialized (Run) or through a forward-only
// Cursor (Stream).
package engine

import (
	"context"
)

// Row is a single result row. Values are engine-native: nil, int64,
// float64, string, []byte or bool.
type Row []any

// Result is a fully materialized statement result.
type Result struct {
	// Columns holds the result column names in order.
	Columns []string

	// Rows holds all result rows.
	Rows []Row

	// RowsAffected is the number of rows changed by a DML statement.
	// It is zero for queries.
	RowsAffected int64
}

// Instance is a shared database handle from which connections are created.
// An Instance is not owned by the pool that draws connections from it.
type Instance interface {
	// Name identifies the instance in logs and metrics.
	Name() string

	// Connect opens a new physical connection.
	Connect(ctx context.Context) (Conn, error)
}

// Conn is a stateful physical connection. Only one statement may be in
// flight per Conn; callers are responsible for exclusive use.
type Conn interface {
	// Run executes sql with args bound and materializes the whole result.
	Run(ctx context.Context, sql string, args []any) (*Result, error)

	// Stream executes sql with args bound and returns a cursor over the
	// result. The Conn must not be used for anything else until the
	// cursor is closed.
	Stream(ctx context.Context, sql string, args []any) (Cursor, error)

	// Close destroys the connection.
	Close() error
}

// Cursor is a forward-only, non-restartable result stream.
type Cursor interface {
	// Columns returns the result column names.
	Columns() []string

	// Next returns up to max rows. It returns io.EOF once the result
	// is exhausted; a final partial batch is returned with a nil error.
	Next(ctx context.Context, max int) ([]Row, error)

	// Close releases the engine resources held by the cursor. It is
	// safe to call more than once.
	Close() error
}
