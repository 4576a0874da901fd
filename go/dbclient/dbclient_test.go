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

package dbclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supabase/quackpool/go/engine"
	"github.com/supabase/quackpool/go/engine/fakeengine"
	"github.com/supabase/quackpool/go/pools/connpool"
)

func TestFromConn(t *testing.T) {
	eng := fakeengine.New("fake")
	conn, err := eng.Connect(context.Background())
	require.NoError(t, err)

	client := FromConn(conn)
	assert.False(t, client.Pooled())

	got, err := client.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, conn, got)

	client.Release(got)
	assert.False(t, conn.(*fakeengine.Conn).IsClosed(), "release must not close a caller-owned connection")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromPool(t *testing.T) {
	eng := fakeengine.New("fake")
	pool := connpool.NewPool(eng.Connect, connpool.Config[engine.Conn]{Size: 1})
	defer pool.Close()

	client := FromPool(pool)
	assert.True(t, client.Pooled())

	conn, err := client.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Stats().InUse)

	client.Release(conn)
	assert.Equal(t, 1, pool.Stats().Idle)
}

func TestResolve(t *testing.T) {
	eng := fakeengine.New("warehouse")
	conn, err := eng.Connect(context.Background())
	require.NoError(t, err)

	_, _, err = Resolve(Source{})
	assert.ErrorIs(t, err, ErrAmbiguousSource)

	_, _, err = Resolve(Source{Conn: conn, Instance: eng})
	assert.ErrorIs(t, err, ErrAmbiguousSource)

	client, closeFn, err := Resolve(Source{Conn: conn})
	require.NoError(t, err)
	assert.False(t, client.Pooled())
	closeFn()

	client, closeFn, err = Resolve(Source{
		Instance:   eng,
		PoolConfig: connpool.Config[engine.Conn]{Size: 2},
	})
	require.NoError(t, err)
	assert.True(t, client.Pooled())

	pooled, err := client.Acquire(context.Background())
	require.NoError(t, err)
	client.Release(pooled)

	closeFn()
	_, err = client.Acquire(context.Background())
	assert.ErrorIs(t, err, connpool.ErrPoolClosed)
	assert.True(t, pooled.(*fakeengine.Conn).IsClosed())
}

func TestDiscard(t *testing.T) {
	eng := fakeengine.New("fake")
	pool := connpool.NewPool(eng.Connect, connpool.Config[engine.Conn]{Size: 1})
	defer pool.Close()

	client := FromPool(pool)
	conn, err := client.Acquire(context.Background())
	require.NoError(t, err)

	client.Discard(conn)
	assert.True(t, conn.(*fakeengine.Conn).IsClosed())
	assert.Equal(t, 0, pool.Stats().Total)

	single, err := eng.Connect(context.Background())
	require.NoError(t, err)
	FromConn(single).Discard(single)
	assert.False(t, single.(*fakeengine.Conn).IsClosed())
}
