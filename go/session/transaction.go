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

package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/supabase/quackpool/go/engine"
	"github.com/supabase/quackpool/go/tools/telemetry"
)

// TxState is the state of a transaction.
type TxState int

const (
	TxNotStarted TxState = iota
	TxActive
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return "not started"
	}
}

// transaction is shared by every nesting level of one top-level
// transaction.
type transaction struct {
	conn engine.Conn

	mu           sync.Mutex
	state        TxState
	rollbackOnly bool
}

func (t *transaction) markRollbackOnly() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollbackOnly = true
}

func (t *transaction) isRollbackOnly() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbackOnly
}

func (t *transaction) currentState() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *transaction) setState(state TxState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
}

// TxFunc is a transaction callback. tx is bound to the transaction's
// connection; use it, not the outer Session, for work inside the
// transaction.
type TxFunc func(ctx context.Context, tx *Session) error

// Transaction runs fn inside a transaction.
//
// On a Session outside a transaction it validates cfg, pins a connection,
// issues BEGIN, runs fn and then COMMIT, or ROLLBACK if fn failed, panicked
// or the transaction was marked rollback-only. The pinned connection is
// released exactly once after that. A rollback-only transaction whose
// callback succeeded returns ErrTransactionRolledBack.
//
// On a transaction-scoped Session it starts a nested transaction on the
// same connection. cfg is validated but otherwise ignored there; a nested
// transaction inherits its parent's modifiers.
func (s *Session) Transaction(ctx context.Context, fn TxFunc, cfg *TxConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if s.tx != nil {
		return s.nested(ctx, fn)
	}
	return s.topLevel(ctx, fn, cfg)
}

// InTransaction runs fn in a transaction on s and returns its value. The
// value is discarded if the transaction does not commit.
func InTransaction[T any](ctx context.Context, s *Session, fn func(ctx context.Context, tx *Session) (T, error), cfg *TxConfig) (T, error) {
	var out T
	err := s.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, cfg)
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (s *Session) topLevel(ctx context.Context, fn TxFunc, cfg *TxConfig) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "session.Transaction",
		trace.WithAttributes(attribute.Int("quackpool.tx.depth", 1)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transaction failed")
		}
		span.End()
	}()

	conn, err := s.client.Acquire(ctx)
	if err != nil {
		return err
	}

	// Statements that end the transaction must run even if ctx is done.
	cleanupCtx := context.WithoutCancel(ctx)
	reusable := true
	defer func() {
		if reusable {
			s.client.Release(conn)
		} else {
			s.client.Discard(conn)
		}
	}()

	begin := cfg.BeginStatement()
	if _, err := conn.Run(ctx, begin, nil); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	tx := &transaction{conn: conn, state: TxActive}
	s.logger.DebugContext(ctx, "transaction started", "statement", begin)

	rollback := func() {
		if _, rerr := conn.Run(cleanupCtx, "ROLLBACK", nil); rerr != nil {
			// The connection is in an unknown state; don't let it go
			// back to the pool.
			reusable = false
			s.logger.WarnContext(ctx, "rollback failed", "error", rerr)
		}
		tx.setState(TxRolledBack)
	}

	if err := s.invoke(ctx, fn, s.scoped(tx, 1), rollback); err != nil {
		rollback()
		return err
	}

	if tx.isRollbackOnly() {
		rollback()
		return ErrTransactionRolledBack
	}

	if _, err := conn.Run(ctx, "COMMIT", nil); err != nil {
		rollback()
		return fmt.Errorf("commit: %w", err)
	}
	tx.setState(TxCommitted)
	s.logger.DebugContext(ctx, "transaction committed")
	return nil
}

func (s *Session) nested(ctx context.Context, fn TxFunc) (err error) {
	depth := s.depth + 1
	ctx, span := telemetry.Tracer().Start(ctx, "session.Transaction",
		trace.WithAttributes(attribute.Int("quackpool.tx.depth", depth)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "nested transaction failed")
		}
		span.End()
	}()

	if err := s.checkActive(); err != nil {
		return err
	}

	tx := s.tx
	name := savepointName(depth - 1)
	usingSavepoint, err := s.dialect.beginSavepoint(func() error {
		_, err := tx.conn.Run(ctx, "SAVEPOINT "+name, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	span.SetAttributes(attribute.Bool("quackpool.tx.savepoint", usingSavepoint))

	abort := func() {
		if usingSavepoint {
			if _, rerr := tx.conn.Run(context.WithoutCancel(ctx), "ROLLBACK TO SAVEPOINT "+name, nil); rerr != nil {
				s.logger.WarnContext(ctx, "rollback to savepoint failed", "savepoint", name, "error", rerr)
			}
		}
		tx.markRollbackOnly()
	}

	if err := s.invoke(ctx, fn, s.scoped(tx, depth), abort); err != nil {
		abort()
		return err
	}

	if usingSavepoint {
		if _, err := tx.conn.Run(ctx, "RELEASE SAVEPOINT "+name, nil); err != nil {
			tx.markRollbackOnly()
			return fmt.Errorf("release savepoint: %w", err)
		}
	}
	return nil
}

// invoke calls fn. If fn panics, onPanic runs and the panic continues.
func (s *Session) invoke(ctx context.Context, fn TxFunc, tx *Session, onPanic func()) error {
	defer func() {
		if r := recover(); r != nil {
			onPanic()
			panic(r)
		}
	}()
	return fn(ctx, tx)
}

func savepointName(level int) string {
	return "quackpool_sp_" + strconv.Itoa(level)
}

// IsRolledBack reports whether err means the transaction did not commit
// because it was marked rollback-only.
func IsRolledBack(err error) bool {
	return errors.Is(err, ErrTransactionRolledBack)
}
