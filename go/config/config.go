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


// Package config holds the settings the quackpool command reads from flags,
// QUACKPOOL_* environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/supabase/quackpool/go/engine"
	"github.com/supabase/quackpool/go/executor"
	"github.com/supabase/quackpool/go/pools/connpool"
	"github.com/supabase/quackpool/go/viperutil"
)

// Drivers accepted by --driver.
const (
	DriverSQLite    = "sqlite"
	DriverSQLiteSQL = "sqlite-sql"
	DriverPostgres  = "postgres"
)

// Output formats accepted by --output.
const (
	OutputJSON = "json"
	OutputYAML = "yaml"
)

var (
	drivers = []string{DriverSQLite, DriverSQLiteSQL, DriverPostgres}
	outputs = []string{OutputJSON, OutputYAML}
)

// Config is the engine, pool and executor configuration of one command.
type Config struct {
	driver *viperutil.Value[string]
	dsn    *viperutil.Value[string]

	poolSize             *viperutil.Value[int]
	poolAcquireTimeout   *viperutil.Value[time.Duration]
	poolMaxWaiting       *viperutil.Value[int]
	poolMaxLifetime      *viperutil.Value[time.Duration]
	poolIdleTimeout      *viperutil.Value[time.Duration]
	poolCloseGracePeriod *viperutil.Value[time.Duration]

	rowsPerChunk *viperutil.Value[int]
	output       *viperutil.Value[string]
}

// New registers every setting in reg.
func New(reg *viperutil.Registry) *Config {
	return &Config{
		driver: viperutil.Configure(reg, "engine.driver", viperutil.Options[string]{
			Default:  DriverSQLite,
			FlagName: "driver",
			EnvVars:  []string{"QUACKPOOL_DRIVER"},
		}),
		dsn: viperutil.Configure(reg, "engine.dsn", viperutil.Options[string]{
			Default:  "quackpool.db",
			FlagName: "dsn",
			EnvVars:  []string{"QUACKPOOL_DSN"},
		}),
		poolSize: viperutil.Configure(reg, "pool.size", viperutil.Options[int]{
			Default:  connpool.DefaultSize,
			FlagName: "pool-size",
			EnvVars:  []string{"QUACKPOOL_POOL_SIZE"},
		}),
		poolAcquireTimeout: viperutil.Configure(reg, "pool.acquire_timeout", viperutil.Options[time.Duration]{
			Default:  connpool.DefaultAcquireTimeout,
			FlagName: "pool-acquire-timeout",
			EnvVars:  []string{"QUACKPOOL_POOL_ACQUIRE_TIMEOUT"},
		}),
		poolMaxWaiting: viperutil.Configure(reg, "pool.max_waiting_requests", viperutil.Options[int]{
			Default:  connpool.DefaultMaxWaitingRequests,
			FlagName: "pool-max-waiting",
			EnvVars:  []string{"QUACKPOOL_POOL_MAX_WAITING"},
		}),
		poolMaxLifetime: viperutil.Configure(reg, "pool.max_lifetime", viperutil.Options[time.Duration]{
			FlagName: "pool-max-lifetime",
			EnvVars:  []string{"QUACKPOOL_POOL_MAX_LIFETIME"},
		}),
		poolIdleTimeout: viperutil.Configure(reg, "pool.idle_timeout", viperutil.Options[time.Duration]{
			FlagName: "pool-idle-timeout",
			EnvVars:  []string{"QUACKPOOL_POOL_IDLE_TIMEOUT"},
		}),
		poolCloseGracePeriod: viperutil.Configure(reg, "pool.close_grace_period", viperutil.Options[time.Duration]{
			Default:  connpool.DefaultCloseGracePeriod,
			FlagName: "pool-close-grace-period",
			EnvVars:  []string{"QUACKPOOL_POOL_CLOSE_GRACE_PERIOD"},
		}),
		rowsPerChunk: viperutil.Configure(reg, "stream.rows_per_chunk", viperutil.Options[int]{
			Default:  executor.DefaultRowsPerChunk,
			FlagName: "rows-per-chunk",
			EnvVars:  []string{"QUACKPOOL_ROWS_PER_CHUNK"},
		}),
		output: viperutil.Configure(reg, "output", viperutil.Options[string]{
			Default:  OutputJSON,
			FlagName: "output",
			EnvVars:  []string{"QUACKPOOL_OUTPUT"},
		}),
	}
}

// RegisterFlags defines and binds the flags for every setting.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.String("driver", c.driver.Default(), fmt.Sprintf("Engine driver (%s)", strings.Join(drivers, ", ")))
	fs.String("dsn", c.dsn.Default(), "Database file path, or connection string for postgres")
	fs.Int("pool-size", c.poolSize.Default(), "Maximum number of live connections")
	fs.Duration("pool-acquire-timeout", c.poolAcquireTimeout.Default(), "How long an acquire waits in the queue")
	fs.Int("pool-max-waiting", c.poolMaxWaiting.Default(), "Maximum number of queued acquires")
	fs.Duration("pool-max-lifetime", c.poolMaxLifetime.Default(), "Maximum connection age (0 disables)")
	fs.Duration("pool-idle-timeout", c.poolIdleTimeout.Default(), "Maximum connection idle time (0 disables)")
	fs.Duration("pool-close-grace-period", c.poolCloseGracePeriod.Default(), "How long close waits for in-flight connection creation")
	fs.Int("rows-per-chunk", c.rowsPerChunk.Default(), "Rows per streamed chunk")
	fs.String("output", c.output.Default(), fmt.Sprintf("Output format (%s)", strings.Join(outputs, ", ")))

	viperutil.BindFlags(fs,
		c.driver, c.dsn,
		c.poolSize, c.poolAcquireTimeout, c.poolMaxWaiting,
		c.poolMaxLifetime, c.poolIdleTimeout, c.poolCloseGracePeriod,
		c.rowsPerChunk, c.output,
	)
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if d := c.driver.Get(); !slices.Contains(drivers, d) {
		return fmt.Errorf("invalid driver %q: must be one of %s", d, strings.Join(drivers, ", "))
	}
	if c.dsn.Get() == "" {
		return errors.New("dsn must not be empty")
	}
	if o := c.output.Get(); !slices.Contains(outputs, o) {
		return fmt.Errorf("invalid output %q: must be one of %s", o, strings.Join(outputs, ", "))
	}
	if n := c.poolSize.Get(); n < 0 {
		return fmt.Errorf("invalid pool size %d: must not be negative", n)
	}
	if n := c.poolMaxWaiting.Get(); n < 0 {
		return fmt.Errorf("invalid pool max waiting %d: must not be negative", n)
	}
	if n := c.rowsPerChunk.Get(); n < 0 {
		return fmt.Errorf("invalid rows per chunk %d: must not be negative", n)
	}
	return nil
}

func (c *Config) Driver() string    { return c.driver.Get() }
func (c *Config) DSN() string       { return c.dsn.Get() }
func (c *Config) Output() string    { return c.output.Get() }
func (c *Config) RowsPerChunk() int { return c.rowsPerChunk.Get() }

// PoolConfig builds the pool configuration for a pool named name.
func (c *Config) PoolConfig(name string, logger *slog.Logger, metrics connpool.Metrics) connpool.Config[engine.Conn] {
	return connpool.Config[engine.Conn]{
		Name:               name,
		Size:               c.poolSize.Get(),
		AcquireTimeout:     c.poolAcquireTimeout.Get(),
		MaxWaitingRequests: c.poolMaxWaiting.Get(),
		MaxLifetime:        c.poolMaxLifetime.Get(),
		IdleTimeout:        c.poolIdleTimeout.Get(),
		CloseGracePeriod:   c.poolCloseGracePeriod.Get(),
		Logger:             logger,
		Metrics:            metrics,
	}
}
