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

package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/supabase/quackpool/go/dbclient"
	"github.com/supabase/quackpool/go/engine"
)

// DefaultRowsPerChunk is the chunk size used when Options.RowsPerChunk is
// not set.
const DefaultRowsPerChunk = 100000

// Options configures StreamQuery.
type Options struct {
	// RowsPerChunk is the number of rows in every chunk but the last.
	// If 0, defaults to DefaultRowsPerChunk.
	RowsPerChunk int
}

// Stream is a forward-only, non-restartable sequence of row chunks. The
// connection behind it is held until the stream is exhausted, fails, or is
// closed, and is released exactly once in all three cases.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	client       dbclient.Client
	conn         engine.Conn
	cursor       engine.Cursor
	columns      []string
	rowsPerChunk int
	span         trace.Span

	chunks int
	rows   int
	done   bool

	cleanup  sync.Once
	closeErr error
}

// StreamQuery executes query with args and returns a Stream over its
// result. The caller must exhaust or Close the stream.
func StreamQuery(ctx context.Context, client dbclient.Client, query string, args []any, opts Options) (*Stream, error) {
	rowsPerChunk := opts.RowsPerChunk
	if rowsPerChunk <= 0 {
		rowsPerChunk = DefaultRowsPerChunk
	}

	ctx, span := startSpan(ctx, "executor.StreamQuery", query)

	conn, err := client.Acquire(ctx)
	if err != nil {
		failSpan(span, err, "acquire failed")
		span.End()
		return nil, err
	}

	cursor, err := conn.Stream(ctx, query, args)
	if err != nil {
		client.Release(conn)
		failSpan(span, err, "query failed")
		span.End()
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return &Stream{
		client:       client,
		conn:         conn,
		cursor:       cursor,
		columns:      DedupeColumns(cursor.Columns()),
		rowsPerChunk: rowsPerChunk,
		span:         span,
	}, nil
}

// Columns returns the de-duplicated result column names.
func (s *Stream) Columns() []string {
	return s.columns
}

// Next returns the next chunk. Every chunk holds exactly RowsPerChunk rows
// except the last, which may be shorter. Next returns io.EOF once the
// result is exhausted; any other error ends the stream.
func (s *Stream) Next(ctx context.Context) ([]engine.Row, error) {
	if s.done {
		return nil, io.EOF
	}

	var chunk []engine.Row
	for len(chunk) < s.rowsPerChunk {
		rows, err := s.cursor.Next(ctx, s.rowsPerChunk-len(chunk))
		if errors.Is(err, io.EOF) {
			s.finish(nil)
			break
		}
		if err != nil {
			s.finish(err)
			return nil, fmt.Errorf("stream failed after %d rows: %w", s.rows+len(chunk), err)
		}
		chunk = append(chunk, rows...)
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}

	s.chunks++
	s.rows += len(chunk)
	return chunk, nil
}

// Chunks returns the remaining chunks as a sequence. Breaking out of the
// range loop, or a panic in its body, closes the stream. An error is
// yielded once, as the final element.
func (s *Stream) Chunks(ctx context.Context) iter.Seq2[[]engine.Row, error] {
	return func(yield func([]engine.Row, error) bool) {
		defer s.Close()
		for {
			chunk, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Close ends the stream early. It returns the cursor close error, if any,
// and is safe to call more than once.
func (s *Stream) Close() error {
	s.finish(nil)
	return s.closeErr
}

// finish is the single cleanup path: close the cursor, then release the
// connection.
func (s *Stream) finish(cause error) {
	s.cleanup.Do(func() {
		s.done = true
		s.closeErr = s.cursor.Close()
		s.client.Release(s.conn)

		s.span.SetAttributes(
			attribute.Int("quackpool.stream.chunks", s.chunks),
			attribute.Int("quackpool.stream.rows", s.rows),
		)
		if cause != nil {
			failSpan(s.span, cause, "stream failed")
		} else if s.closeErr != nil {
			failSpan(s.span, s.closeErr, "cursor close failed")
		}
		s.span.End()
	})
}
