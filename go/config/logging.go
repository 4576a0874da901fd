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
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/supabase/quackpool/go/tools/telemetry"
	"github.com/supabase/quackpool/go/viperutil"
)

// Logging configures the process logger.
type Logging struct {
	reg       *viperutil.Registry
	logLevel  *viperutil.Value[string]
	logFormat *viperutil.Value[string]
	logOutput *viperutil.Value[string]
}

func NewLogging(reg *viperutil.Registry) *Logging {
	return &Logging{
		reg: reg,
		logLevel: viperutil.Configure(reg, "log.level", viperutil.Options[string]{
			Default:  "info",
			FlagName: "log-level",
			EnvVars:  []string{"QUACKPOOL_LOG_LEVEL"},
		}),
		logFormat: viperutil.Configure(reg, "log.format", viperutil.Options[string]{
			Default:  "text",
			FlagName: "log-format",
			EnvVars:  []string{"QUACKPOOL_LOG_FORMAT"},
		}),
		logOutput: viperutil.Configure(reg, "log.output", viperutil.Options[string]{
			Default:  "stderr",
			FlagName: "log-output",
			EnvVars:  []string{"QUACKPOOL_LOG_OUTPUT"},
		}),
	}
}

// RegisterFlags registers logging-related command line flags.
func (lg *Logging) RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", lg.logLevel.Default(), "Log level (debug, info, warn, error)")
	fs.String("log-format", lg.logFormat.Default(), "Log format (json, text)")
	fs.String("log-output", lg.logOutput.Default(), "Log output (stdout, stderr, or file path)")
	viperutil.BindFlags(fs, lg.logLevel, lg.logFormat, lg.logOutput)
}

// Setup builds a logger from the configured level, format and output. The
// returned close func flushes and closes a file output; it is a no-op for
// stdout and stderr.
func (lg *Logging) Setup(stdout, stderr io.Writer) (*slog.Logger, func() error, error) {
	level, err := parseLevel(lg.logLevel.Get())
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() error { return nil }
	var output io.Writer
	switch out := lg.logOutput.Get(); strings.ToLower(out) {
	case "stdout":
		output = stdout
	case "stderr", "":
		output = stderr
	default:
		f, err := lg.reg.Fs().OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log output: %w", err)
		}
		output = f
		closeFn = f.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch format := strings.ToLower(lg.logFormat.Get()); format {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		_ = closeFn()
		return nil, nil, fmt.Errorf("invalid log format %q: must be json or text", format)
	}

	return slog.New(telemetry.WrapSlogHandler(handler)), closeFn, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q: must be debug, info, warn or error", s)
}
