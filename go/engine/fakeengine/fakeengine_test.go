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

package fakeengine

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supabase/quackpool/go/engine"
)

func TestRunMatchesPatternsInOrder(t *testing.T) {
	e := New("fake")
	e.AddQueryPatternOnce(`^SELECT 1$`, MakeResult([]string{"a"}, engine.Row{int64(1)}))
	e.AddQueryPattern(`^SELECT`, MakeResult([]string{"b"}, engine.Row{int64(2)}))

	conn, err := e.Connect(context.Background())
	require.NoError(t, err)

	res, err := conn.Run(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Columns)

	// The once pattern is consumed, the general one answers now.
	res, err = conn.Run(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, res.Columns)

	assert.Equal(t, 2, e.GetQueryCalledNum("SELECT 1"))
	assert.Equal(t, []string{"SELECT 1", "SELECT 1"}, e.QueryLog())
}

func TestRunUnmatchedAndTxControl(t *testing.T) {
	e := New("fake")
	conn, err := e.Connect(context.Background())
	require.NoError(t, err)

	_, err = conn.Run(context.Background(), "SELECT nope", nil)
	assert.ErrorContains(t, err, "no matching query pattern")

	for _, q := range []string{"BEGIN TRANSACTION", "SAVEPOINT sp", "RELEASE SAVEPOINT sp", "COMMIT", "ROLLBACK"} {
		_, err := conn.Run(context.Background(), q, nil)
		assert.NoError(t, err, q)
	}
}

func TestRejectSavepoints(t *testing.T) {
	e := New("fake")
	e.RejectSavepoints()
	conn, err := e.Connect(context.Background())
	require.NoError(t, err)

	_, err = conn.Run(context.Background(), "SAVEPOINT quackpool_sp_1", nil)
	assert.ErrorContains(t, err, "syntax error")
	_, err = conn.Run(context.Background(), "ROLLBACK TO SAVEPOINT quackpool_sp_1", nil)
	assert.Error(t, err)
	_, err = conn.Run(context.Background(), "ROLLBACK", nil)
	assert.NoError(t, err)
}

func TestCursorBatchingAndClose(t *testing.T) {
	e := New("fake")
	rows := make([]engine.Row, 5)
	for i := range rows {
		rows[i] = engine.Row{int64(i)}
	}
	e.AddQueryPattern(`.*`, MakeResult([]string{"n"}, rows...))
	e.SetCursorBatchSize(2)

	conn, err := e.Connect(context.Background())
	require.NoError(t, err)
	cur, err := conn.Stream(context.Background(), "SELECT n", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.OpenCursors())

	_, err = conn.Run(context.Background(), "SELECT n", nil)
	assert.ErrorIs(t, err, ErrBusy)

	var sizes []int
	for {
		batch, err := cur.Next(context.Background(), 10)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(batch))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)

	require.NoError(t, cur.Close())
	require.NoError(t, cur.Close())
	assert.Equal(t, 1, e.CursorsClosed())
	assert.Equal(t, 0, e.OpenCursors())

	_, err = conn.Run(context.Background(), "SELECT n", nil)
	assert.NoError(t, err)
}

func TestStreamFailsMidway(t *testing.T) {
	e := New("fake")
	boom := errors.New("out of memory")
	e.AddStreamPatternWithError(`.*`, MakeResult([]string{"n"},
		engine.Row{int64(1)}, engine.Row{int64(2)}, engine.Row{int64(3)}), 2, boom)

	conn, err := e.Connect(context.Background())
	require.NoError(t, err)
	cur, err := conn.Stream(context.Background(), "SELECT n", nil)
	require.NoError(t, err)
	defer cur.Close()

	batch, err := cur.Next(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	_, err = cur.Next(context.Background(), 10)
	assert.ErrorIs(t, err, boom)
}

func TestConnectErrorAndClose(t *testing.T) {
	e := New("fake")
	e.SetConnectError(errors.New("refused"))
	_, err := e.Connect(context.Background())
	assert.ErrorContains(t, err, "refused")

	e.SetConnectError(nil)
	conn, err := e.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	assert.Equal(t, 1, e.ClosedConns())

	_, err = conn.Run(context.Background(), "COMMIT", nil)
	assert.ErrorIs(t, err, ErrConnClosed)
}
