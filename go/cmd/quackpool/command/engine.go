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


package command

import (
	"context"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/supabase/quackpool/go/config"
	"github.com/supabase/quackpool/go/dbclient"
	"github.com/supabase/quackpool/go/engine"
	"github.com/supabase/quackpool/go/engine/sqlengine"
	"github.com/supabase/quackpool/go/engine/sqliteengine"
	"github.com/supabase/quackpool/go/pools/connpool"
	"github.com/supabase/quackpool/go/session"
)

// env is what a command body runs against: one pool over the configured
// engine and a session on top of it.
type env struct {
	pool    *connpool.Pool[engine.Conn]
	session *session.Session
}

// openInstance opens the engine named by --driver.
func (qc *QuackpoolCommand) openInstance() (engine.Instance, func() error, error) {
	dsn := qc.cfg.DSN()
	switch driver := qc.cfg.Driver(); driver {
	case config.DriverSQLite:
		inst, err := sqliteengine.Open(sqliteengine.Config{Path: dsn, Logger: qc.logger})
		if err != nil {
			return nil, nil, err
		}
		return inst, func() error { return nil }, nil
	case config.DriverSQLiteSQL, config.DriverPostgres:
		name := "postgres"
		if driver == config.DriverSQLiteSQL {
			name = "sqlite"
		}
		inst, err := sqlengine.Open(name, dsn)
		if err != nil {
			return nil, nil, err
		}
		return inst, inst.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", driver)
	}
}

// withEnv opens the engine and a pool over it, runs fn, and tears both down.
func (qc *QuackpoolCommand) withEnv(ctx context.Context, fn func(ctx context.Context, e *env) error) error {
	inst, closeInst, err := qc.openInstance()
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() {
		if cerr := closeInst(); cerr != nil {
			qc.logger.Warn("failed to close engine", "engine", inst.Name(), "error", cerr)
		}
	}()

	metrics, err := connpool.NewMetrics(qc.telemetry.GetMeterProvider().Meter("github.com/supabase/quackpool"))
	if err != nil {
		qc.logger.Warn("some pool metrics are unavailable", "error", err)
	}

	pool := connpool.NewPool(inst.Connect, qc.cfg.PoolConfig(inst.Name(), qc.logger, metrics))
	client, closeClient, err := dbclient.Resolve(dbclient.Source{Pool: pool})
	if err != nil {
		pool.Close()
		return err
	}
	defer func() {
		closeClient()
		pool.Close()
	}()

	sess := session.New(client,
		session.WithLogger(qc.logger),
		session.WithRowsPerChunk(qc.cfg.RowsPerChunk()))
	return fn(ctx, &env{pool: pool, session: sess})
}

func stringArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
