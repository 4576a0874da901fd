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

// Package session is the query façade applications use.
//
// A Session issues non-transactional statements straight through its
// client, one connection per call. Transaction pins a single connection
// for the whole transaction and hands the callback a transaction-scoped
// Session bound to it; nested calls on that Session become savepoints, or
// plain nested callbacks on engines without savepoint support.
package session

import (
	"context"
	"log/slog"

	"github.com/supabase/quackpool/go/dbclient"
	"github.com/supabase/quackpool/go/engine"
	"github.com/supabase/quackpool/go/executor"
)

// Query is a statement and its bound parameters.
type Query struct {
	SQL  string
	Args []any
}

// Q builds a Query.
func Q(sql string, args ...any) Query {
	return Query{SQL: sql, Args: args}
}

// Session issues queries through a dbclient.Client.
type Session struct {
	client       dbclient.Client
	dialect      *Dialect
	logger       *slog.Logger
	rowsPerChunk int

	// tx is nil outside a transaction. depth is 1 for the top-level
	// transaction and grows by one per nesting level.
	tx    *transaction
	depth int
}

// Option configures a Session.
type Option func(*Session)

// WithDialect shares d with other Sessions on the same engine.
func WithDialect(d *Dialect) Option {
	return func(s *Session) {
		s.dialect = d
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithRowsPerChunk sets the chunk size for Stream.
func WithRowsPerChunk(n int) Option {
	return func(s *Session) {
		s.rowsPerChunk = n
	}
}

// New returns a Session on client.
func New(client dbclient.Client, opts ...Option) *Session {
	s := &Session{client: client}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialect == nil {
		s.dialect = NewDialect()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Dialect returns the Session's dialect.
func (s *Session) Dialect() *Dialect {
	return s.dialect
}

// Execute runs q and returns its materialized result.
func (s *Session) Execute(ctx context.Context, q Query) (*engine.Result, error) {
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	return executor.Run(ctx, s.client, q.SQL, q.Args)
}

// Stream runs q and returns a chunked stream over its result. Inside a
// transaction the stream occupies the pinned connection until it is
// exhausted or closed.
func (s *Session) Stream(ctx context.Context, q Query) (*executor.Stream, error) {
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	return executor.StreamQuery(ctx, s.client, q.SQL, q.Args, executor.Options{RowsPerChunk: s.rowsPerChunk})
}

// MarkRollbackOnly forces the enclosing top-level transaction to roll back
// even if every callback succeeds. Outside a transaction it does nothing.
func (s *Session) MarkRollbackOnly() {
	if s.tx == nil {
		s.logger.Debug("MarkRollbackOnly called outside a transaction")
		return
	}
	s.tx.markRollbackOnly()
}

// IsRollbackOnly reports whether the enclosing transaction has been
// marked rollback-only.
func (s *Session) IsRollbackOnly() bool {
	return s.tx != nil && s.tx.isRollbackOnly()
}

// InTransaction reports whether s is transaction-scoped.
func (s *Session) InTransaction() bool {
	return s.tx != nil
}

// Depth returns the transaction nesting depth: 0 outside a transaction,
// 1 in a top-level transaction.
func (s *Session) Depth() int {
	return s.depth
}

// State returns the state of the enclosing transaction, or TxNotStarted
// outside one.
func (s *Session) State() TxState {
	if s.tx == nil {
		return TxNotStarted
	}
	return s.tx.currentState()
}

func (s *Session) checkActive() error {
	if s.tx != nil && s.tx.currentState() != TxActive {
		return ErrTransactionDone
	}
	return nil
}

// scoped returns a Session bound to tx's pinned connection at depth.
func (s *Session) scoped(tx *transaction, depth int) *Session {
	return &Session{
		client:       dbclient.FromConn(tx.conn),
		dialect:      s.dialect,
		logger:       s.logger,
		rowsPerChunk: s.rowsPerChunk,
		tx:           tx,
		depth:        depth,
	}
}
