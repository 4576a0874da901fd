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
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supabase/quackpool/go/dbclient"
	"github.com/supabase/quackpool/go/engine"
	"github.com/supabase/quackpool/go/engine/sqliteengine"
	"github.com/supabase/quackpool/go/pools/connpool"
)

var savepointSQL = regexp.MustCompile(`(?i)^\s*(SAVEPOINT|RELEASE|ROLLBACK\s+TO)\b`)

// noSavepoints wraps an instance so its connections reject savepoints the
// way an engine without them does, with everything else left real.
type noSavepoints struct {
	engine.Instance
}

func (n noSavepoints) Connect(ctx context.Context) (engine.Conn, error) {
	conn, err := n.Instance.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return noSavepointConn{Conn: conn}, nil
}

type noSavepointConn struct {
	engine.Conn
}

func (c noSavepointConn) Run(ctx context.Context, query string, args []any) (*engine.Result, error) {
	if savepointSQL.MatchString(query) {
		return nil, errors.New(`Parser Error: syntax error at or near "SAVEPOINT"`)
	}
	return c.Conn.Run(ctx, query, args)
}

func newSQLiteSession(t *testing.T, withSavepoints bool) (*Session, *connpool.Pool[engine.Conn]) {
	t.Helper()
	inst, err := sqliteengine.Open(sqliteengine.Config{Path: filepath.Join(t.TempDir(), "tx.db")})
	require.NoError(t, err)

	var source engine.Instance = inst
	if !withSavepoints {
		source = noSavepoints{Instance: inst}
	}
	pool := connpool.NewPool(source.Connect, connpool.Config[engine.Conn]{Size: 2, Logger: quietLogger()})
	t.Cleanup(pool.Close)

	s := New(dbclient.FromPool(pool), WithLogger(quietLogger()))
	_, err = s.Execute(context.Background(), Q("CREATE TABLE items (name TEXT NOT NULL)"))
	require.NoError(t, err)
	return s, pool
}

func countItems(t *testing.T, s *Session) int64 {
	t.Helper()
	res, err := s.Execute(context.Background(), Q("SELECT count(*) FROM items"))
	require.NoError(t, err)
	return res.Rows[0][0].(int64)
}

func insertItem(ctx context.Context, s *Session, name string) error {
	_, err := s.Execute(ctx, Q("INSERT INTO items (name) VALUES (?)", name))
	return err
}

func TestSQLiteTransactionRoundTrip(t *testing.T) {
	s, pool := newSQLiteSession(t, true)
	ctx := context.Background()
	boom := errors.New("abort")

	err := s.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		if err := insertItem(ctx, tx, "a"); err != nil {
			return err
		}
		if err := insertItem(ctx, tx, "b"); err != nil {
			return err
		}
		return boom
	}, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), countItems(t, s), "rolled back inserts are not persisted")

	err = s.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		if err := insertItem(ctx, tx, "a"); err != nil {
			return err
		}
		return insertItem(ctx, tx, "b")
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), countItems(t, s))

	assert.Equal(t, 0, pool.Stats().InUse)
}

func TestSQLiteNestedWithoutSavepointsRollsBackEverything(t *testing.T) {
	s, _ := newSQLiteSession(t, false)
	ctx := context.Background()
	inner := errors.New("inner failure")

	err := s.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		if err := insertItem(ctx, tx, "outer work"); err != nil {
			return err
		}
		return tx.Transaction(ctx, func(ctx context.Context, nested *Session) error {
			if err := insertItem(ctx, nested, "inner work"); err != nil {
				return err
			}
			return inner
		}, nil)
	}, nil)

	assert.ErrorIs(t, err, inner, "the inner error is raised outward")
	assert.Equal(t, int64(0), countItems(t, s), "no partial persistence")
	assert.Equal(t, SavepointUnsupported, s.Dialect().SavepointCapability())
}

func TestSQLiteNestedWithoutSavepointsSucceeds(t *testing.T) {
	s, _ := newSQLiteSession(t, false)
	ctx := context.Background()

	err := s.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		if err := insertItem(ctx, tx, "outer"); err != nil {
			return err
		}
		return tx.Transaction(ctx, func(ctx context.Context, nested *Session) error {
			return insertItem(ctx, nested, "inner")
		}, nil)
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), countItems(t, s))
}

func TestSQLiteNestedSavepoints(t *testing.T) {
	s, _ := newSQLiteSession(t, true)
	ctx := context.Background()

	err := s.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		if err := insertItem(ctx, tx, "outer"); err != nil {
			return err
		}
		return tx.Transaction(ctx, func(ctx context.Context, nested *Session) error {
			return insertItem(ctx, nested, "inner")
		}, nil)
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), countItems(t, s))
	assert.Equal(t, SavepointSupported, s.Dialect().SavepointCapability())

	// A failed nested transaction is rolled back to its savepoint and
	// dooms the outer one even if the error is swallowed.
	inner := errors.New("inner failure")
	err = s.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		if err := insertItem(ctx, tx, "outer again"); err != nil {
			return err
		}
		nestedErr := tx.Transaction(ctx, func(ctx context.Context, nested *Session) error {
			if err := insertItem(ctx, nested, "inner again"); err != nil {
				return err
			}
			return inner
		}, nil)
		assert.ErrorIs(t, nestedErr, inner)
		return nil
	}, nil)
	assert.ErrorIs(t, err, ErrTransactionRolledBack)
	assert.Equal(t, int64(2), countItems(t, s))
}

func TestSQLiteStreamInsideTransaction(t *testing.T) {
	s, _ := newSQLiteSession(t, true)
	ctx := context.Background()

	err := s.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		for _, name := range []string{"a", "b", "c"} {
			if err := insertItem(ctx, tx, name); err != nil {
				return err
			}
		}

		stream, err := tx.Stream(ctx, Q("SELECT name FROM items ORDER BY name"))
		if err != nil {
			return err
		}
		var names []any
		for chunk, err := range stream.Chunks(ctx) {
			if err != nil {
				return err
			}
			for _, row := range chunk {
				names = append(names, row[0])
			}
		}
		assert.Equal(t, []any{"a", "b", "c"}, names, "uncommitted rows are visible on the pinned connection")
		return nil
	}, nil)
	require.NoError(t, err)
}
