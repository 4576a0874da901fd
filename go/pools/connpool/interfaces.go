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

// Package connpool provides a bounded pool of expensive, single-statement
// engine connections.
//
// Callers are served strictly FIFO when the pool is at capacity, idle
// connections are handed out LIFO to keep a warm working set, and
// connections are recycled lazily by age and idle time at the moment they
// would be handed out or returned. There is no background sweeper.
package connpool

import "context"

// Connection is the constraint for pooled connections. The pool keys its
// per-connection metadata by the connection value itself, so it must be
// comparable (pointer types and interfaces holding pointers both qualify).
type Connection interface {
	comparable

	// Close destroys the connection and releases its engine resources.
	Close() error
}

// Connector creates a new connection.
type Connector[C Connection] func(ctx context.Context) (C, error)

// SetupFunc runs once against every newly created connection before it is
// handed to a caller. A non-nil error destroys the connection.
type SetupFunc[C Connection] func(ctx context.Context, conn C) error
