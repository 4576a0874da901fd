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


package config

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supabase/quackpool/go/executor"
	"github.com/supabase/quackpool/go/pools/connpool"
	"github.com/supabase/quackpool/go/viperutil"
)

func parsed(t *testing.T, fs afero.Fs, args ...string) (*viperutil.Registry, *Config, *Logging) {
	t.Helper()
	reg := viperutil.NewRegistryWithFs(fs)
	cfg := New(reg)
	lg := NewLogging(reg)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.RegisterFlags(flags)
	lg.RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return reg, cfg, lg
}

func TestDefaults(t *testing.T) {
	_, cfg, _ := parsed(t, afero.NewMemMapFs())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverSQLite, cfg.Driver())
	assert.Equal(t, "quackpool.db", cfg.DSN())
	assert.Equal(t, OutputJSON, cfg.Output())
	assert.Equal(t, executor.DefaultRowsPerChunk, cfg.RowsPerChunk())

	pc := cfg.PoolConfig("p", nil, connpool.Metrics{})
	assert.Equal(t, "p", pc.Name)
	assert.Equal(t, connpool.DefaultSize, pc.Size)
	assert.Equal(t, connpool.DefaultAcquireTimeout, pc.AcquireTimeout)
	assert.Equal(t, connpool.DefaultMaxWaitingRequests, pc.MaxWaitingRequests)
	assert.Equal(t, connpool.DefaultCloseGracePeriod, pc.CloseGracePeriod)
	assert.Zero(t, pc.MaxLifetime)
	assert.Zero(t, pc.IdleTimeout)
}

func TestFlagsAndEnv(t *testing.T) {
	t.Setenv("QUACKPOOL_POOL_SIZE", "7")
	t.Setenv("QUACKPOOL_DRIVER", "postgres")
	_, cfg, _ := parsed(t, afero.NewMemMapFs(),
		"--driver", "sqlite-sql",
		"--pool-idle-timeout", "90s",
		"--output", "yaml",
	)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverSQLiteSQL, cfg.Driver(), "flag beats env")
	assert.Equal(t, OutputYAML, cfg.Output())
	pc := cfg.PoolConfig("p", nil, connpool.Metrics{})
	assert.Equal(t, 7, pc.Size)
	assert.Equal(t, 90*time.Second, pc.IdleTimeout)
}

func TestConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/q.yaml", []byte(`
engine:
  driver: postgres
  dsn: postgres://localhost/db
pool:
  size: 12
  max_lifetime: 1h
stream:
  rows_per_chunk: 500
`), 0o644))

	reg, cfg, _ := parsed(t, fs)
	vc := viperutil.NewViperConfig(reg)
	flags := pflag.NewFlagSet("cfg", pflag.ContinueOnError)
	vc.RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--config-file", "/q.yaml"}))
	require.NoError(t, vc.LoadConfig(reg))

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverPostgres, cfg.Driver())
	assert.Equal(t, "postgres://localhost/db", cfg.DSN())
	assert.Equal(t, 500, cfg.RowsPerChunk())
	pc := cfg.PoolConfig("p", nil, connpool.Metrics{})
	assert.Equal(t, 12, pc.Size)
	assert.Equal(t, time.Hour, pc.MaxLifetime)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "driver", args: []string{"--driver", "oracle"}, want: `invalid driver "oracle"`},
		{name: "dsn", args: []string{"--dsn="}, want: "dsn must not be empty"},
		{name: "output", args: []string{"--output", "xml"}, want: `invalid output "xml"`},
		{name: "pool size", args: []string{"--pool-size=-1"}, want: "invalid pool size -1"},
		{name: "max waiting", args: []string{"--pool-max-waiting=-2"}, want: "invalid pool max waiting -2"},
		{name: "rows per chunk", args: []string{"--rows-per-chunk=-3"}, want: "invalid rows per chunk -3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cfg, _ := parsed(t, afero.NewMemMapFs(), tt.args...)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoggingSetup(t *testing.T) {
	t.Run("json to stdout", func(t *testing.T) {
		_, _, lg := parsed(t, afero.NewMemMapFs(), "--log-format", "json", "--log-output", "stdout", "--log-level", "debug")
		var stdout, stderr bytes.Buffer
		logger, closeFn, err := lg.Setup(&stdout, &stderr)
		require.NoError(t, err)
		defer func() { require.NoError(t, closeFn()) }()

		logger.Debug("hello", "k", "v")
		assert.Contains(t, stdout.String(), `"msg":"hello"`)
		assert.Contains(t, stdout.String(), `"k":"v"`)
		assert.Empty(t, stderr.String())
	})

	t.Run("text to stderr filters by level", func(t *testing.T) {
		_, _, lg := parsed(t, afero.NewMemMapFs(), "--log-level", "warn")
		var stdout, stderr bytes.Buffer
		logger, _, err := lg.Setup(&stdout, &stderr)
		require.NoError(t, err)

		logger.Info("quiet")
		logger.Warn("loud")
		assert.NotContains(t, stderr.String(), "quiet")
		assert.Contains(t, stderr.String(), "msg=loud")
		assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
	})

	t.Run("file output", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		_, _, lg := parsed(t, fs, "--log-output", "/var/log/quackpool.log")
		logger, closeFn, err := lg.Setup(nil, nil)
		require.NoError(t, err)
		logger.Info("to file")
		require.NoError(t, closeFn())

		data, err := afero.ReadFile(fs, "/var/log/quackpool.log")
		require.NoError(t, err)
		assert.Contains(t, string(data), "to file")
	})

	t.Run("invalid level", func(t *testing.T) {
		_, _, lg := parsed(t, afero.NewMemMapFs(), "--log-level", "chatty")
		_, _, err := lg.Setup(nil, nil)
		require.ErrorContains(t, err, "invalid log level")
	})

	t.Run("invalid format", func(t *testing.T) {
		_, _, lg := parsed(t, afero.NewMemMapFs(), "--log-format", "xml")
		_, _, err := lg.Setup(nil, nil)
		require.ErrorContains(t, err, "invalid log format")
	})
}
