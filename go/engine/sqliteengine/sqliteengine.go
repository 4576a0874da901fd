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

// Package sqliteengine implements engine.Instance on an embedded SQLite
// database through zombiezen.com/go/sqlite.
//
// Every Conn owns one sqlite.Conn. Standard pragmas are applied when the
// connection is opened; WAL mode lets several pooled connections read
// concurrently while SQLite serializes writers.
package sqliteengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/supabase/quackpool/go/engine"
	"github.com/supabase/quackpool/go/tools/retry"
)

// DefaultPragmas are applied to every new connection unless Config.Pragmas
// is set.
var DefaultPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA cache_size=-8192",
	"PRAGMA temp_store=MEMORY",
}

const (
	pragmaRetryBase = 5 * time.Millisecond
	pragmaRetryMax  = 250 * time.Millisecond
	pragmaAttempts  = 10
)

func isBusy(err error) bool {
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return true
	}
	return false
}

// Config configures an Instance.
type Config struct {
	// Path is the database file. The parent directory must exist; the
	// file is created if missing. ":memory:" gives every connection its
	// own private database.
	Path string

	// Pragmas replaces DefaultPragmas when non-nil.
	Pragmas []string

	// Logger for connection lifecycle. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Instance opens SQLite connections to one database file.
type Instance struct {
	path    string
	pragmas []string
	logger  *slog.Logger
}

// Compile-time check that Instance implements engine.Instance.
var _ engine.Instance = (*Instance)(nil)

// Open validates cfg and returns an Instance. No connection is opened
// until Connect is called.
func Open(cfg Config) (*Instance, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqliteengine: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pragmas := cfg.Pragmas
	if pragmas == nil {
		pragmas = DefaultPragmas
	}
	return &Instance{path: cfg.Path, pragmas: pragmas, logger: logger}, nil
}

// Name implements engine.Instance.
func (i *Instance) Name() string {
	return "sqlite:" + i.path
}

// Connect implements engine.Instance.
func (i *Instance) Connect(ctx context.Context) (engine.Conn, error) {
	raw, err := sqlite.OpenConn(i.path)
	if err != nil {
		return nil, fmt.Errorf("sqliteengine: opening %s: %w", i.path, err)
	}

	raw.SetInterrupt(ctx.Done())
	defer raw.SetInterrupt(nil)
	for _, pragma := range i.pragmas {
		// Switching journal mode takes a lock that busy_timeout does not
		// cover yet, so concurrent opens of a fresh file can see SQLITE_BUSY.
		r := retry.New(pragmaRetryBase, pragmaRetryMax, retry.WithMaxAttempts(pragmaAttempts))
		err := retry.Do(ctx, r, isBusy, func(context.Context) error {
			return sqlitex.ExecuteTransient(raw, pragma, nil)
		})
		if err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("sqliteengine: %s: %w", pragma, err)
		}
	}

	i.logger.DebugContext(ctx, "sqlite connection opened", "path", i.path)
	return &Conn{raw: raw, logger: i.logger}, nil
}

// Conn is one SQLite connection.
type Conn struct {
	raw    *sqlite.Conn
	logger *slog.Logger
}

// Raw returns the underlying connection for engine-specific setup such as
// registering functions. It must not be used while a cursor is open.
func (c *Conn) Raw() *sqlite.Conn {
	return c.raw
}

// Run implements engine.Conn.
func (c *Conn) Run(ctx context.Context, query string, args []any) (*engine.Result, error) {
	cur, err := c.open(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	res := &engine.Result{Columns: cur.Columns()}
	for {
		rows, err := cur.Next(ctx, 1024)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, rows...)
	}
	if len(res.Columns) == 0 {
		res.RowsAffected = int64(c.raw.Changes())
	}
	return res, nil
}

// Stream implements engine.Conn.
func (c *Conn) Stream(ctx context.Context, query string, args []any) (engine.Cursor, error) {
	return c.open(ctx, query, args)
}

// Close implements engine.Conn.
func (c *Conn) Close() error {
	return c.raw.Close()
}

func (c *Conn) open(ctx context.Context, query string, args []any) (*Cursor, error) {
	stmt, trailing, err := c.raw.PrepareTransient(query)
	if err != nil {
		return nil, fmt.Errorf("sqliteengine: prepare: %w", err)
	}
	if stmt == nil {
		return nil, errors.New("sqliteengine: empty statement")
	}
	if rest := strings.TrimSpace(query[len(query)-trailing:]); rest != "" && rest != ";" {
		_ = stmt.Finalize()
		return nil, errors.New("sqliteengine: multiple statements are not supported")
	}
	if err := bind(stmt, args); err != nil {
		_ = stmt.Finalize()
		return nil, err
	}

	columns := make([]string, stmt.ColumnCount())
	for i := range columns {
		columns[i] = stmt.ColumnName(i)
	}
	return &Cursor{conn: c, stmt: stmt, columns: columns}, nil
}

func bind(stmt *sqlite.Stmt, args []any) error {
	values, err := engine.BindValues(args)
	if err != nil {
		return err
	}
	if want := stmt.BindParamCount(); want != len(values) {
		return fmt.Errorf("sqliteengine: statement takes %d parameters, got %d", want, len(values))
	}
	for i, v := range values {
		param := i + 1
		switch v := v.(type) {
		case nil:
			stmt.BindNull(param)
		case int64:
			stmt.BindInt64(param, v)
		case float64:
			stmt.BindFloat(param, v)
		case string:
			stmt.BindText(param, v)
		case []byte:
			stmt.BindBytes(param, v)
		case bool:
			stmt.BindBool(param, v)
		}
	}
	return nil
}

// Cursor steps a prepared statement.
type Cursor struct {
	conn    *Conn
	stmt    *sqlite.Stmt
	columns []string
	done    bool
	closed  bool
}

// Columns implements engine.Cursor.
func (c *Cursor) Columns() []string {
	return c.columns
}

// Next implements engine.Cursor.
func (c *Cursor) Next(ctx context.Context, max int) ([]engine.Row, error) {
	if c.closed {
		return nil, errors.New("sqliteengine: cursor closed")
	}
	if c.done {
		return nil, io.EOF
	}

	c.conn.raw.SetInterrupt(ctx.Done())
	defer c.conn.raw.SetInterrupt(nil)

	var rows []engine.Row
	for max <= 0 || len(rows) < max {
		hasRow, err := c.stmt.Step()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("sqliteengine: %w: %w", ctxErr, err)
			}
			return nil, fmt.Errorf("sqliteengine: step: %w", err)
		}
		if !hasRow {
			c.done = true
			break
		}
		rows = append(rows, c.row())
	}
	if len(rows) == 0 {
		return nil, io.EOF
	}
	return rows, nil
}

func (c *Cursor) row() engine.Row {
	row := make(engine.Row, len(c.columns))
	for i := range row {
		switch c.stmt.ColumnType(i) {
		case sqlite.TypeInteger:
			row[i] = c.stmt.ColumnInt64(i)
		case sqlite.TypeFloat:
			row[i] = c.stmt.ColumnFloat(i)
		case sqlite.TypeText:
			row[i] = c.stmt.ColumnText(i)
		case sqlite.TypeBlob:
			buf := make([]byte, c.stmt.ColumnLen(i))
			c.stmt.ColumnBytes(i, buf)
			row[i] = buf
		default:
			row[i] = nil
		}
	}
	return row
}

// Close implements engine.Cursor.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.stmt.Finalize(); err != nil {
		return fmt.Errorf("sqliteengine: finalize: %w", err)
	}
	return nil
}
