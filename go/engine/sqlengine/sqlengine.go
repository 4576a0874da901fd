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

// Package sqlengine adapts a database/sql driver to engine.Instance.
//
// Each Conn pins one *sql.Conn. The *sql.DB keeps no idle connections of
// its own, so closing a Conn closes the physical connection and pooling is
// left to connpool.
package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/supabase/quackpool/go/engine"
)

// rowReturning matches statements answered with a result set.
var rowReturning = regexp.MustCompile(`(?is)^\s*(SELECT|WITH|VALUES|PRAGMA|SHOW|EXPLAIN|DESCRIBE|TABLE)\b|\bRETURNING\b`)

// Instance wraps a *sql.DB.
type Instance struct {
	name string
	db   *sql.DB
}

// Compile-time check that Instance implements engine.Instance.
var _ engine.Instance = (*Instance)(nil)

// Open opens a database with the named driver, which must already be
// registered.
func Open(driverName, dsn string) (*Instance, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlengine: open %s: %w", driverName, err)
	}
	return New(driverName, db), nil
}

// New wraps db. It takes ownership of db's idle connection settings.
func New(name string, db *sql.DB) *Instance {
	db.SetMaxIdleConns(0)
	return &Instance{name: name, db: db}
}

// Name implements engine.Instance.
func (i *Instance) Name() string {
	return i.name
}

// DB returns the wrapped database.
func (i *Instance) DB() *sql.DB {
	return i.db
}

// Close closes the wrapped database.
func (i *Instance) Close() error {
	return i.db.Close()
}

// Connect implements engine.Instance.
func (i *Instance) Connect(ctx context.Context) (engine.Conn, error) {
	conn, err := i.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlengine: connect: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// Conn pins one database/sql connection.
type Conn struct {
	conn *sql.Conn
}

// Run implements engine.Conn.
func (c *Conn) Run(ctx context.Context, query string, args []any) (*engine.Result, error) {
	values, err := engine.BindValues(args)
	if err != nil {
		return nil, err
	}

	if !rowReturning.MatchString(query) {
		res, err := c.conn.ExecContext(ctx, query, values...)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			// Not every driver reports it; treat as unknown.
			affected = 0
		}
		return &engine.Result{RowsAffected: affected}, nil
	}

	cur, err := c.query(ctx, query, values)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	res := &engine.Result{Columns: cur.Columns()}
	for {
		rows, err := cur.Next(ctx, 1024)
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, rows...)
	}
}

// Stream implements engine.Conn.
func (c *Conn) Stream(ctx context.Context, query string, args []any) (engine.Cursor, error) {
	values, err := engine.BindValues(args)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, query, values)
}

func (c *Conn) query(ctx context.Context, query string, values []any) (*Cursor, error) {
	rows, err := c.conn.QueryContext(ctx, query, values...)
	if err != nil {
		return nil, err
	}
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return &Cursor{rows: rows, columns: columns}, nil
}

// Close implements engine.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Cursor reads from *sql.Rows.
type Cursor struct {
	rows    *sql.Rows
	columns []string
	closed  bool
}

// Columns implements engine.Cursor.
func (c *Cursor) Columns() []string {
	return c.columns
}

// Next implements engine.Cursor.
func (c *Cursor) Next(ctx context.Context, max int) ([]engine.Row, error) {
	if c.closed {
		return nil, errors.New("sqlengine: cursor closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []engine.Row
	for max <= 0 || len(out) < max {
		if !c.rows.Next() {
			if err := c.rows.Err(); err != nil {
				return nil, err
			}
			break
		}
		dest := make([]any, len(c.columns))
		ptrs := make([]any, len(c.columns))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := c.rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range dest {
			// Drivers may hand back types such as time.Time; fold them
			// into engine-native values.
			if native, err := engine.BindValue(v); err == nil {
				dest[i] = native
			}
		}
		out = append(out, engine.Row(dest))
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

// Close implements engine.Cursor.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}
