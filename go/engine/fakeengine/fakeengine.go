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

// Package fakeengine provides a scripted engine.Instance for testing.
//
// Queries are matched against regular expression patterns in the order the
// patterns were added. Transaction control statements that match no
// pattern succeed with an empty result, so tests only need to script the
// statements they care about.
package fakeengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"

	"github.com/supabase/quackpool/go/engine"
)

// ErrConnClosed is returned when a closed fake connection is used.
var ErrConnClosed = errors.New("fakeengine: connection closed")

// ErrBusy is returned when a statement is issued while a cursor is open on
// the same connection.
var ErrBusy = errors.New("fakeengine: statement already in flight on connection")

var txControl = regexp.MustCompile(`(?i)^\s*(BEGIN|COMMIT|ROLLBACK|SAVEPOINT|RELEASE)\b`)

var savepointStatement = regexp.MustCompile(`(?i)^\s*(SAVEPOINT|RELEASE\s+SAVEPOINT|ROLLBACK\s+TO\s+SAVEPOINT)\b`)

// Engine is a fake engine.Instance.
type Engine struct {
	name string

	mu            sync.Mutex
	patterns      []queryPattern
	queryLog      []string
	connectErr    error
	connects      int
	conns         []*Conn
	batchSize     int
	cursorsOpened int
	cursorsClosed int
}

type queryPattern struct {
	pattern     *regexp.Regexp
	result      *engine.Result
	err         error
	callback    func(context.Context, string) error
	consumeOnce bool

	// failAfter makes a cursor fail with err once that many rows have
	// been delivered. Zero means the statement itself fails.
	failAfter int
}

// Compile-time check that Engine implements engine.Instance.
var _ engine.Instance = (*Engine)(nil)

// New creates a fake engine.
func New(name string) *Engine {
	return &Engine{name: name}
}

// Name implements engine.Instance.
func (e *Engine) Name() string {
	return e.name
}

// Connect implements engine.Instance.
func (e *Engine) Connect(ctx context.Context) (engine.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.connectErr != nil {
		return nil, e.connectErr
	}
	e.connects++
	conn := &Conn{engine: e, id: e.connects}
	e.conns = append(e.conns, conn)
	return conn, nil
}

// SetConnectError makes every subsequent Connect fail with err. Pass nil
// to clear it.
func (e *Engine) SetConnectError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectErr = err
}

// SetCursorBatchSize caps how many rows a cursor returns per Next call,
// regardless of what the caller asks for. Zero means no cap.
func (e *Engine) SetCursorBatchSize(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchSize = n
}

// AddQueryPattern adds a query pattern with an expected result.
func (e *Engine) AddQueryPattern(pattern string, result *engine.Result) {
	e.addPattern(queryPattern{pattern: regexp.MustCompile(pattern), result: result})
}

// AddQueryPatternOnce adds a query pattern that is consumed after the first match.
func (e *Engine) AddQueryPatternOnce(pattern string, result *engine.Result) {
	e.addPattern(queryPattern{pattern: regexp.MustCompile(pattern), result: result, consumeOnce: true})
}

// AddQueryPatternWithError adds a query pattern that returns an error.
func (e *Engine) AddQueryPatternWithError(pattern string, err error) {
	e.addPattern(queryPattern{pattern: regexp.MustCompile(pattern), err: err})
}

// AddQueryPatternWithCallback adds a query pattern whose callback runs
// before the result is returned. A non-nil error from the callback fails
// the statement.
func (e *Engine) AddQueryPatternWithCallback(pattern string, result *engine.Result, callback func(context.Context, string) error) {
	e.addPattern(queryPattern{pattern: regexp.MustCompile(pattern), result: result, callback: callback})
}

// AddStreamPatternWithError adds a query pattern whose cursor delivers
// failAfter rows of result and then fails with err.
func (e *Engine) AddStreamPatternWithError(pattern string, result *engine.Result, failAfter int, err error) {
	e.addPattern(queryPattern{pattern: regexp.MustCompile(pattern), result: result, err: err, failAfter: failAfter})
}

// RejectSavepoints makes savepoint statements fail with a parser error,
// as an engine without savepoint support would.
func (e *Engine) RejectSavepoints() {
	e.mu.Lock()
	defer e.mu.Unlock()
	rejected := queryPattern{
		pattern: savepointStatement,
		err:     errors.New(`Parser Error: syntax error at or near "SAVEPOINT"`),
	}
	e.patterns = append([]queryPattern{rejected}, e.patterns...)
}

func (e *Engine) addPattern(p queryPattern) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.patterns = append(e.patterns, p)
}

// QueryLog returns every statement issued so far, in order.
func (e *Engine) QueryLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.queryLog...)
}

// ResetQueryLog clears the query log.
func (e *Engine) ResetQueryLog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryLog = nil
}

// GetQueryCalledNum returns how many times query was issued verbatim.
func (e *Engine) GetQueryCalledNum(query string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, q := range e.queryLog {
		if q == query {
			n++
		}
	}
	return n
}

// Connects returns how many connections were opened.
func (e *Engine) Connects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connects
}

// ClosedConns returns how many opened connections have been closed.
func (e *Engine) ClosedConns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.conns {
		if c.closed {
			n++
		}
	}
	return n
}

// OpenCursors returns how many cursors were opened and not yet closed.
func (e *Engine) OpenCursors() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursorsOpened - e.cursorsClosed
}

// CursorsClosed returns how many cursors have been closed.
func (e *Engine) CursorsClosed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursorsClosed
}

// match logs query and returns the pattern that answers it.
func (e *Engine) match(query string) (queryPattern, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.queryLog = append(e.queryLog, query)
	for i := range e.patterns {
		if !e.patterns[i].pattern.MatchString(query) {
			continue
		}
		matched := e.patterns[i]
		if matched.consumeOnce {
			e.patterns = append(e.patterns[:i], e.patterns[i+1:]...)
		}
		return matched, nil
	}
	if txControl.MatchString(query) {
		return queryPattern{result: &engine.Result{}}, nil
	}
	return queryPattern{}, fmt.Errorf("no matching query pattern for: %s", query)
}

// Conn is a fake engine.Conn.
type Conn struct {
	engine *Engine
	id     int

	// closed and busy are guarded by engine.mu.
	closed bool
	busy   bool
}

// ID returns the connection's sequence number, starting at 1.
func (c *Conn) ID() int {
	return c.id
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	return c.closed
}

func (c *Conn) checkUsable() error {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.busy {
		return ErrBusy
	}
	return nil
}

func (c *Conn) execute(ctx context.Context, query string) (queryPattern, error) {
	if err := c.checkUsable(); err != nil {
		return queryPattern{}, err
	}
	if err := ctx.Err(); err != nil {
		return queryPattern{}, err
	}
	matched, err := c.engine.match(query)
	if err != nil {
		return queryPattern{}, err
	}
	if matched.callback != nil {
		if err := matched.callback(ctx, query); err != nil {
			return queryPattern{}, err
		}
	}
	if matched.err != nil && matched.failAfter == 0 {
		return queryPattern{}, matched.err
	}
	return matched, nil
}

// Run implements engine.Conn.
func (c *Conn) Run(ctx context.Context, query string, args []any) (*engine.Result, error) {
	matched, err := c.execute(ctx, query)
	if err != nil {
		return nil, err
	}
	if matched.err != nil {
		return nil, matched.err
	}
	return cloneResult(matched.result), nil
}

// Stream implements engine.Conn.
func (c *Conn) Stream(ctx context.Context, query string, args []any) (engine.Cursor, error) {
	matched, err := c.execute(ctx, query)
	if err != nil {
		return nil, err
	}

	res := cloneResult(matched.result)
	c.engine.mu.Lock()
	c.busy = true
	c.engine.cursorsOpened++
	batch := c.engine.batchSize
	c.engine.mu.Unlock()

	return &Cursor{
		conn:      c,
		columns:   res.Columns,
		rows:      res.Rows,
		batchSize: batch,
		failAfter: matched.failAfter,
		failErr:   matched.err,
	}, nil
}

// Close implements engine.Conn.
func (c *Conn) Close() error {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	c.closed = true
	return nil
}

func cloneResult(res *engine.Result) *engine.Result {
	if res == nil {
		return &engine.Result{}
	}
	out := &engine.Result{
		Columns:      append([]string(nil), res.Columns...),
		Rows:         make([]engine.Row, len(res.Rows)),
		RowsAffected: res.RowsAffected,
	}
	for i, row := range res.Rows {
		out.Rows[i] = append(engine.Row(nil), row...)
	}
	return out
}

// Cursor is a fake engine.Cursor over a scripted result.
type Cursor struct {
	conn      *Conn
	columns   []string
	rows      []engine.Row
	pos       int
	batchSize int
	failAfter int
	failErr   error
	closed    bool
}

// Columns implements engine.Cursor.
func (c *Cursor) Columns() []string {
	return c.columns
}

// Next implements engine.Cursor.
func (c *Cursor) Next(ctx context.Context, max int) ([]engine.Row, error) {
	if c.closed {
		return nil, errors.New("fakeengine: cursor closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.failErr != nil && c.pos >= c.failAfter {
		return nil, c.failErr
	}
	if c.pos >= len(c.rows) {
		return nil, io.EOF
	}

	n := max
	if n <= 0 {
		n = len(c.rows)
	}
	if c.batchSize > 0 && c.batchSize < n {
		n = c.batchSize
	}
	end := min(c.pos+n, len(c.rows))
	if c.failErr != nil {
		end = min(end, c.failAfter)
	}
	batch := c.rows[c.pos:end]
	c.pos = end
	return batch, nil
}

// Close implements engine.Cursor.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	e := c.conn.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	c.conn.busy = false
	e.cursorsClosed++
	return nil
}

// MakeResult builds a result from column names and row values.
func MakeResult(columns []string, rows ...engine.Row) *engine.Result {
	return &engine.Result{Columns: columns, Rows: rows}
}
