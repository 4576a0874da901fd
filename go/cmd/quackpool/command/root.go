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


// Package command holds the cobra commands of the quackpool binary.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/supabase/quackpool/go/config"
	"github.com/supabase/quackpool/go/tools/telemetry"
	"github.com/supabase/quackpool/go/viperutil"
)

// QuackpoolCommand holds the configuration shared by all quackpool commands.
type QuackpoolCommand struct {
	reg       *viperutil.Registry
	vc        *viperutil.ViperConfig
	cfg       *config.Config
	logging   *config.Logging
	telemetry *telemetry.Telemetry
	reader    *sdkmetric.ManualReader

	logger     *slog.Logger
	prevLogger *slog.Logger
	closeLog   func() error
}

// GetRootCommand creates the root command with all subcommands. reg supplies
// the filesystem config files and file log outputs live on.
func GetRootCommand(reg *viperutil.Registry) (*cobra.Command, *QuackpoolCommand) {
	reader := sdkmetric.NewManualReader()
	qc := &QuackpoolCommand{
		reg:       reg,
		vc:        viperutil.NewViperConfig(reg),
		cfg:       config.New(reg),
		logging:   config.NewLogging(reg),
		telemetry: telemetry.NewTelemetry().WithMetricReader(reader),
		reader:    reader,
		logger:    slog.Default(),
	}

	root := &cobra.Command{
		Use:   "quackpool",
		Short: "Run queries through a pool of single-statement engine connections",
		Long: `quackpool runs queries against an embedded or remote engine through a bounded
connection pool, streaming large results in fixed-size chunks.

Configuration is read, in order of precedence, from flags, QUACKPOOL_*
environment variables, and a config file named 'quackpool' (.yaml, .json, .toml)
found on --config-path, or the file named by --config-file.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Flag errors have already been reported with usage by now.
			cmd.SilenceUsage = true
			return qc.setup(cmd)
		},
	}

	qc.vc.RegisterFlags(root.PersistentFlags())
	qc.cfg.RegisterFlags(root.PersistentFlags())
	qc.logging.RegisterFlags(root.PersistentFlags())

	AddQueryCommand(root, qc)
	AddExecCommand(root, qc)
	AddBenchCommand(root, qc)

	return root, qc
}

func (qc *QuackpoolCommand) setup(cmd *cobra.Command) error {
	if err := qc.vc.LoadConfig(qc.reg); err != nil {
		return err
	}
	if err := qc.cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := qc.logging.Setup(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	qc.logger, qc.closeLog = logger, closeLog
	qc.prevLogger = slog.Default()
	slog.SetDefault(logger)

	if err := qc.telemetry.InitTelemetry(cmd.Context(), "quackpool"); err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	qc.logger.Debug("configuration loaded",
		"config_file", qc.reg.ConfigFileUsed(),
		"driver", qc.cfg.Driver())
	return nil
}

// shutdown flushes telemetry and closes the log output.
func (qc *QuackpoolCommand) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if qc.prevLogger != nil {
		slog.SetDefault(qc.prevLogger)
	}

	var errs []error
	if err := qc.telemetry.ShutdownTelemetry(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown OpenTelemetry: %w", err))
	}
	if qc.closeLog != nil {
		if err := qc.closeLog(); err != nil {
			errs = append(errs, fmt.Errorf("close log output: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Execute runs the root command with args and always shuts down what setup
// started, even when the command fails.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	return ExecuteWithRegistry(ctx, viperutil.NewRegistry(), args, stdout, stderr)
}

// ExecuteWithRegistry is Execute with a caller-supplied registry.
func ExecuteWithRegistry(ctx context.Context, reg *viperutil.Registry, args []string, stdout, stderr io.Writer) error {
	root, qc := GetRootCommand(reg)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	return errors.Join(err, qc.shutdown())
}
