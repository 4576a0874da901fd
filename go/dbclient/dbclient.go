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

// Package dbclient resolves where queries get their connections from.
//
// Callers configure either a single connection, an existing pool, or an
// engine instance to pool over. That choice is resolved once, here, into
// a Client; everything downstream only sees Acquire and Release.
package dbclient

import (
	"context"
	"errors"

	"github.com/supabase/quackpool/go/engine"
	"github.com/supabase/quackpool/go/pools/connpool"
)

// Client hands out connections for the duration of one operation.
type Client interface {
	// Acquire returns a connection for exclusive use until Release.
	Acquire(ctx context.Context) (engine.Conn, error)

	// Release gives back a connection obtained from Acquire.
	Release(conn engine.Conn)

	// Discard gives back a connection that must not be reused, such as
	// one left in an unknown transaction state.
	Discard(conn engine.Conn)

	// Pooled reports whether Acquire draws from a shared pool, where a
	// held connection keeps other callers waiting. A transaction pins
	// whatever Acquire returns either way.
	Pooled() bool
}

// FromConn returns a Client that always hands out conn. Release is a no-op;
// the caller keeps ownership of conn.
func FromConn(conn engine.Conn) Client {
	return connClient{conn: conn}
}

// FromPool returns a Client backed by pool.
func FromPool(pool *connpool.Pool[engine.Conn]) Client {
	return poolClient{pool: pool}
}

type connClient struct {
	conn engine.Conn
}

func (c connClient) Acquire(ctx context.Context) (engine.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	return c.conn, nil
}

func (c connClient) Release(engine.Conn) {}

// Discard is a no-op: the caller owns the connection and decides its fate.
func (c connClient) Discard(engine.Conn) {}

func (c connClient) Pooled() bool { return false }

type poolClient struct {
	pool *connpool.Pool[engine.Conn]
}

func (c poolClient) Acquire(ctx context.Context) (engine.Conn, error) {
	return c.pool.Acquire(ctx)
}

func (c poolClient) Release(conn engine.Conn) {
	c.pool.Release(conn)
}

func (c poolClient) Discard(conn engine.Conn) {
	c.pool.Discard(conn)
}

func (c poolClient) Pooled() bool { return true }

// Source selects where a Client gets its connections. Exactly one of Conn,
// Pool and Instance must be set.
type Source struct {
	// Conn is a single caller-owned connection.
	Conn engine.Conn

	// Pool is a caller-owned pool.
	Pool *connpool.Pool[engine.Conn]

	// Instance is pooled over with PoolConfig. The resulting pool is
	// owned by the Client and closed by the returned close func.
	Instance   engine.Instance
	PoolConfig connpool.Config[engine.Conn]
}

// ErrAmbiguousSource is returned by Resolve when zero or several
// connection sources are set.
var ErrAmbiguousSource = errors.New("exactly one of Conn, Pool or Instance must be set")

// Resolve builds the Client described by src. The close func releases
// anything Resolve created and is always non-nil on success.
func Resolve(src Source) (Client, func(), error) {
	set := 0
	for _, ok := range []bool{src.Conn != nil, src.Pool != nil, src.Instance != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, nil, ErrAmbiguousSource
	}

	switch {
	case src.Conn != nil:
		return FromConn(src.Conn), func() {}, nil
	case src.Pool != nil:
		return FromPool(src.Pool), func() {}, nil
	default:
		cfg := src.PoolConfig
		if cfg.Name == "" {
			cfg.Name = src.Instance.Name()
		}
		pool := connpool.NewPool(src.Instance.Connect, cfg)
		return FromPool(pool), pool.Close, nil
	}
}
