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

package sqlengine

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/supabase/quackpool/go/engine"
)

func openTestInstance(t *testing.T) *Instance {
	t.Helper()
	inst, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func TestRunExecAndQuery(t *testing.T) {
	inst := openTestInstance(t)
	ctx := context.Background()

	conn, err := inst.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Run(ctx, "CREATE TABLE ducks (name TEXT, weight REAL)", nil)
	require.NoError(t, err)

	res, err := conn.Run(ctx, "INSERT INTO ducks VALUES (?, ?), (?, ?)", []any{"mallard", 1.1, "teal", 0.3})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsAffected)
	assert.Empty(t, res.Columns)

	res, err = conn.Run(ctx, "SELECT name, weight FROM ducks ORDER BY name", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "weight"}, res.Columns)
	assert.Equal(t, []engine.Row{{"mallard", 1.1}, {"teal", 0.3}}, res.Rows)
}

func TestStreamCursor(t *testing.T) {
	inst := openTestInstance(t)
	ctx := context.Background()

	conn, err := inst.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	cur, err := conn.Stream(ctx, `
		WITH RECURSIVE seq(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM seq WHERE n < 7)
		SELECT n FROM seq`, nil)
	require.NoError(t, err)

	var sizes []int
	for {
		rows, err := cur.Next(ctx, 3)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(rows))
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
	require.NoError(t, cur.Close())
	require.NoError(t, cur.Close())
}

func TestRowReturningClassifier(t *testing.T) {
	for query, want := range map[string]bool{
		"SELECT 1":                              true,
		"  with x as (select 1) select * from x": true,
		"PRAGMA user_version":                   true,
		"INSERT INTO t VALUES (1) RETURNING id": true,
		"INSERT INTO t VALUES (1)":              false,
		"BEGIN TRANSACTION":                     false,
		"SAVEPOINT sp":                          false,
	} {
		assert.Equal(t, want, rowReturning.MatchString(query), query)
	}
}

func TestCloseReleasesPhysicalConnection(t *testing.T) {
	inst := openTestInstance(t)
	ctx := context.Background()

	conn, err := inst.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inst.DB().Stats().OpenConnections)

	require.NoError(t, conn.Close())
	assert.Equal(t, 0, inst.DB().Stats().OpenConnections)
}
